package membership

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	c "github.com/life-stream-dev/life-stream-whiteboard-sync/internal/config"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLChecker(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	checker := NewSQLChecker(db, database.DriverPgx)
	ctx := context.Background()

	t.Run("member", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM team_members WHERE team_id = $1 AND user_id = $2)`)).
			WithArgs("team-1", "u1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		ok, err := checker.IsMember(ctx, "u1", "team-1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("not member", func(t *testing.T) {
		mock.ExpectQuery(`FROM team_members`).
			WithArgs("team-1", "u9").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		ok, err := checker.IsMember(ctx, "u9", "team-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("role", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM team_roles WHERE team_id = $1 AND user_id = $2 AND role_name = $3`)).
			WithArgs("team-1", "u1", "owner").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		ok, err := checker.HasRole(ctx, "u1", "team-1", "owner")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("query error", func(t *testing.T) {
		mock.ExpectQuery(`FROM team_members`).WillReturnError(errors.New("connection refused"))

		_, err := checker.IsMember(ctx, "u1", "team-1")
		assert.Error(t, err)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStaticChecker(t *testing.T) {
	ctx := context.Background()
	checker := NewStaticChecker(false,
		map[string][]string{"r1": {"alice", "bob"}},
		map[string]map[string][]string{"r1": {"alice": {"owner"}}},
	)

	ok, _ := checker.IsMember(ctx, "alice", "r1")
	assert.True(t, ok)
	ok, _ = checker.IsMember(ctx, "carol", "r1")
	assert.False(t, ok)
	ok, _ = checker.IsMember(ctx, "alice", "r2")
	assert.False(t, ok)

	ok, _ = checker.HasRole(ctx, "alice", "r1", "owner")
	assert.True(t, ok)
	ok, _ = checker.HasRole(ctx, "bob", "r1", "owner")
	assert.False(t, ok)

	open := NewStaticChecker(true, nil, nil)
	ok, _ = open.IsMember(ctx, "anyone", "anywhere")
	assert.True(t, ok)
}

type countingChecker struct {
	calls int
	err   error
}

func (cc *countingChecker) IsMember(context.Context, string, string) (bool, error) {
	cc.calls++
	return true, cc.err
}

func (cc *countingChecker) HasRole(context.Context, string, string, string) (bool, error) {
	cc.calls++
	return false, cc.err
}

func TestCachedChecker(t *testing.T) {
	ctx := context.Background()
	next := &countingChecker{}
	cached := NewCachedChecker(next, 16, time.Minute)

	for i := 0; i < 3; i++ {
		ok, err := cached.IsMember(ctx, "u1", "r1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, next.calls)

	_, _ = cached.HasRole(ctx, "u1", "r1", "owner")
	_, _ = cached.HasRole(ctx, "u1", "r1", "owner")
	assert.Equal(t, 2, next.calls)

	cached.Purge()
	_, _ = cached.IsMember(ctx, "u1", "r1")
	assert.Equal(t, 3, next.calls)
}

func TestCachedCheckerSkipsErrors(t *testing.T) {
	ctx := context.Background()
	next := &countingChecker{err: errors.New("timeout")}
	cached := NewCachedChecker(next, 16, time.Minute)

	_, err := cached.IsMember(ctx, "u1", "r1")
	assert.Error(t, err)
	next.err = nil
	ok, err := cached.IsMember(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, next.calls)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	checker, closer, err := Open(ctx, c.MembershipConfig{
		Driver:   c.DriverStatic,
		Static:   c.StaticMembershipConfig{Rooms: map[string][]string{"r1": {"u1"}}},
		CacheTTL: c.Duration(time.Second),
	})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.IsType(t, &CachedChecker{}, checker)
	ok, err := checker.IsMember(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, err = Open(ctx, c.MembershipConfig{Driver: "ldap"})
	assert.Error(t, err)
}
