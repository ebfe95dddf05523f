package core

import (
	"context"
	"database/sql"
	"time"
)

// Stmt is a prepared statement. *sql.Stmt satisfies it.
type Stmt interface {
	QueryContext(ctx context.Context, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, args ...interface{}) (sql.Result, error)
	Close() error
}

// Conn is the only shape the executor talks to.
type Conn interface {
	PrepareContext(ctx context.Context, query string) (Stmt, error)
}

// ResultCache is an external key-value store for query results.
// Get returns ErrCacheMiss when the key is absent.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Debugger receives executed queries and diagnostics. Every method must be
// safe to call when Enabled reports false.
type Debugger interface {
	Enabled() bool
	Query(sql string, bindings []interface{}, d time.Duration)
	Warn(msg string, args ...any)
}

// NopDebugger discards everything.
type NopDebugger struct{}

func (NopDebugger) Enabled() bool                              { return false }
func (NopDebugger) Query(string, []interface{}, time.Duration) {}
func (NopDebugger) Warn(string, ...any)                        {}

// UserRepository defines storage operations for users
type UserRepository interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByName(ctx context.Context, name string) (*User, error)
	// GetByID does not load PasswordHash.
	GetByID(ctx context.Context, uid int64) (*User, error)
	List(ctx context.Context, limit int, cursor interface{}) (*CursorPage, error)
	UpdatePassword(ctx context.Context, uid int64, passwordHash string) error
	CountUsers(ctx context.Context) (int64, error)
}
