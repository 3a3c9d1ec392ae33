package workspace

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PostgresLock takes a session-level advisory lock keyed by the directory on a dedicated
// connection. The lock disappears with the connection, so a crashed run never leaves it
// stale.
type PostgresLock struct {
	DSN string

	conn *pgx.Conn
	key  int64
}

// NewPostgresLock returns a lock that connects to dsn on Lock.
func NewPostgresLock(dsn string) *PostgresLock {
	return &PostgresLock{DSN: dsn}
}

func (l *PostgresLock) Name() string { return "postgres" }

func (l *PostgresLock) Lock(ctx context.Context, dir, _ string) error {
	conn, err := pgx.Connect(ctx, l.DSN)
	if err != nil {
		return fmt.Errorf("connect lock database: %w", err)
	}
	key := lockKey(dir)
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("advisory lock: %w", err)
	}
	if !ok {
		_ = conn.Close(ctx)
		return fmt.Errorf("%w: advisory lock %d for %s", ErrWorkspaceLocked, key, dir)
	}
	l.conn, l.key = conn, key
	return nil
}

func (l *PostgresLock) Unlock(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil
	var released bool
	err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, l.key).Scan(&released)
	if cerr := conn.Close(ctx); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
