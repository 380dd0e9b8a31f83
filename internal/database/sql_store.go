package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/element"
	_ "modernc.org/sqlite"
)

const (
	DriverPgx    = "pgx"
	DriverSQLite = "sqlite"
)

// OpenSQL 打开连接池并 ping 一次
func OpenSQL(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// sqlite 同一时间只允许一个写者
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}
	return db, nil
}

// Rebind 将 ? 占位符改写为 pgx 使用的 $n
func Rebind(driver, query string) string {
	if driver != DriverPgx {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore 快照表 whiteboard_snapshots, postgres 与 sqlite 通用
type SQLStore struct {
	db     *sql.DB
	driver string
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (ss *SQLStore) EnsureSchema(ctx context.Context) error {
	_, err := ss.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+SnapshotTableName+` (
	room_id TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

func (ss *SQLStore) LoadSnapshot(ctx context.Context, roomID string) ([]element.Committed, error) {
	if roomID == "" {
		return nil, ErrRoomIDEmpty
	}
	var data string
	query := Rebind(ss.driver, `SELECT data FROM `+SnapshotTableName+` WHERE room_id = ?`)
	err := ss.db.QueryRowContext(ctx, query, roomID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	var elements []element.Committed
	if err := json.Unmarshal([]byte(data), &elements); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return elements, nil
}

func (ss *SQLStore) SaveSnapshot(ctx context.Context, roomID string, elements []element.Committed) error {
	if roomID == "" {
		return ErrRoomIDEmpty
	}
	data, err := json.Marshal(nonNil(elements))
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	query := Rebind(ss.driver, `INSERT INTO `+SnapshotTableName+` (room_id, data, updated_at) VALUES (?, ?, ?)
ON CONFLICT (room_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`)
	if _, err := ss.db.ExecContext(ctx, query, roomID, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (ss *SQLStore) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

func (ss *SQLStore) Close(context.Context) error {
	return ss.db.Close()
}
