// Package membership 对接外部的团队成员与角色数据
package membership

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	c "github.com/life-stream-dev/life-stream-whiteboard-sync/internal/config"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/database"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/logger"
)

// Checker 判断用户能否进入房间, 以及是否拥有某个角色
type Checker interface {
	IsMember(ctx context.Context, userID, roomID string) (bool, error)
	HasRole(ctx context.Context, userID, roomID, role string) (bool, error)
}

// SQLChecker 读取 team_members 与 team_roles 表, 房间号即团队号
type SQLChecker struct {
	db     *sql.DB
	driver string
}

func NewSQLChecker(db *sql.DB, driver string) *SQLChecker {
	return &SQLChecker{db: db, driver: driver}
}

func (sc *SQLChecker) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := sc.db.QueryRowContext(ctx, database.Rebind(sc.driver, query), args...).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (sc *SQLChecker) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	ok, err := sc.exists(ctx,
		`SELECT EXISTS (SELECT 1 FROM team_members WHERE team_id = ? AND user_id = ?)`,
		roomID, userID)
	if err != nil {
		return false, fmt.Errorf("query team membership: %w", err)
	}
	return ok, nil
}

func (sc *SQLChecker) HasRole(ctx context.Context, userID, roomID, role string) (bool, error) {
	ok, err := sc.exists(ctx,
		`SELECT EXISTS (SELECT 1 FROM team_roles WHERE team_id = ? AND user_id = ? AND role_name = ?)`,
		roomID, userID, role)
	if err != nil {
		return false, fmt.Errorf("query team role: %w", err)
	}
	return ok, nil
}

// Invoke 关闭数据库连接, 供 Cleaner 调用
func (sc *SQLChecker) Invoke(context.Context) error {
	return sc.db.Close()
}

// StaticChecker 成员关系来自配置文件, 用于开发环境
type StaticChecker struct {
	allowAll bool
	rooms    map[string][]string
	roles    map[string]map[string][]string
}

func NewStaticChecker(allowAll bool, rooms map[string][]string, roles map[string]map[string][]string) *StaticChecker {
	return &StaticChecker{allowAll: allowAll, rooms: rooms, roles: roles}
}

func (sc *StaticChecker) IsMember(_ context.Context, userID, roomID string) (bool, error) {
	if sc.allowAll {
		return true, nil
	}
	return slices.Contains(sc.rooms[roomID], userID), nil
}

func (sc *StaticChecker) HasRole(_ context.Context, userID, roomID, role string) (bool, error) {
	return slices.Contains(sc.roles[roomID][userID], role), nil
}

// Open 按配置创建 Checker 并套上缓存; 返回的 closer 可能为 nil
func Open(ctx context.Context, cfg c.MembershipConfig) (Checker, *SQLChecker, error) {
	var checker Checker
	var sqlChecker *SQLChecker
	switch cfg.Driver {
	case c.DriverSQL:
		db, err := database.OpenSQL(ctx, cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return nil, nil, err
		}
		sqlChecker = NewSQLChecker(db, cfg.SQL.Driver)
		checker = sqlChecker
	case c.DriverStatic:
		if cfg.Static.AllowAll {
			logger.Warn("Static membership allows every user into every room")
		}
		checker = NewStaticChecker(cfg.Static.AllowAll, cfg.Static.Rooms, cfg.Static.Roles)
	default:
		return nil, nil, fmt.Errorf("unknown membership driver %q", cfg.Driver)
	}
	if cfg.CacheTTL > 0 {
		checker = NewCachedChecker(checker, cfg.CacheSize, cfg.CacheTTL.Std())
	}
	return checker, sqlChecker, nil
}
