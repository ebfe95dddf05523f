package query

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"anon/internal/core"
)

const (
	defaultSlowThreshold = 100 * time.Millisecond
	defaultCacheTTL      = 60 * time.Second
)

// Executor prepares and runs compiled statements against one connection.
// It is safe for concurrent use; the builders it hands out are not.
type Executor struct {
	conn          core.Conn
	cache         core.ResultCache
	cacheTTL      time.Duration
	debug         core.Debugger
	log           *slog.Logger
	slowThreshold time.Duration
	parser        *core.SQLParser
}

// Option configures an Executor.
type Option func(*Executor)

// WithCache sets the result cache used by Builder.Cache and its default TTL.
func WithCache(cache core.ResultCache, defaultTTL time.Duration) Option {
	return func(e *Executor) {
		e.cache = cache
		if defaultTTL > 0 {
			e.cacheTTL = defaultTTL
		}
	}
}

// WithDebugger routes executed queries to d.
func WithDebugger(d core.Debugger) Option {
	return func(e *Executor) {
		if d != nil {
			e.debug = d
		}
	}
}

// WithSlowThreshold sets the duration above which index suggestions are logged.
func WithSlowThreshold(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.slowThreshold = d
		}
	}
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

func NewExecutor(conn core.Conn, opts ...Option) *Executor {
	e := &Executor{
		conn:          conn,
		cacheTTL:      defaultCacheTTL,
		debug:         core.NopDebugger{},
		log:           slog.Default(),
		slowThreshold: defaultSlowThreshold,
		parser:        core.NewSQLParser(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Table starts a query against table.
func (e *Executor) Table(name string) *Builder {
	return newBuilder(e, name)
}

// Raw runs a hand-written statement whose {name} placeholders are bound from params.
func (e *Executor) Raw(ctx context.Context, sqlText string, params map[string]interface{}) ([]core.Row, error) {
	query, args, err := e.parser.Bind(sqlText, params)
	if err != nil {
		return nil, err
	}
	return e.query(ctx, query, args)
}

// RawExec is Raw for statements that return no rows.
func (e *Executor) RawExec(ctx context.Context, sqlText string, params map[string]interface{}) (int64, error) {
	query, args, err := e.parser.Bind(sqlText, params)
	if err != nil {
		return 0, err
	}
	res, err := e.exec(ctx, query, args)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

// Forget drops key from the result cache, if one is configured.
func (e *Executor) Forget(ctx context.Context, key string) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Delete(ctx, key)
}

func (e *Executor) prepare(ctx context.Context, query string) (core.Stmt, error) {
	if e.conn == nil {
		return nil, core.ErrUnsupportedConnection
	}
	stmt, err := e.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, &core.ExecutionError{SQL: query, Err: err}
	}
	return stmt, nil
}

func (e *Executor) query(ctx context.Context, query string, args []interface{}) ([]core.Row, error) {
	stmt, err := e.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	start := time.Now()
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, &core.ExecutionError{SQL: query, Err: err}
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, &core.ExecutionError{SQL: query, Err: err}
	}
	e.record(query, args, time.Since(start))
	return result, nil
}

func (e *Executor) exec(ctx context.Context, query string, args []interface{}) (sql.Result, error) {
	stmt, err := e.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	start := time.Now()
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return nil, &core.ExecutionError{SQL: query, Err: err}
	}
	e.record(query, args, time.Since(start))
	return res, nil
}

func (e *Executor) record(query string, args []interface{}, d time.Duration) {
	if e.debug.Enabled() {
		e.debug.Query(query, args, d)
	}
	if d > e.slowThreshold {
		e.analyzeSlowQuery(query, d)
	}
}

func scanRows(rows *sql.Rows) ([]core.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := []core.Row{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(core.Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func (e *Executor) cacheKeyFor(b *Builder, query string, args []interface{}) string {
	if b.cacheKey != "" {
		return b.cacheKey
	}
	h := sha256.New()
	h.Write([]byte(query))
	enc, err := json.Marshal(args)
	if err != nil {
		enc = []byte(fmt.Sprint(args))
	}
	h.Write(enc)
	return "query:" + hex.EncodeToString(h.Sum(nil))
}

func (e *Executor) cachedRows(ctx context.Context, key string) ([]core.Row, bool) {
	raw, err := e.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, core.ErrCacheMiss) {
			e.log.Warn("result cache lookup failed", "key", key, "error", err)
		}
		return nil, false
	}
	rows, err := decodeRows(raw)
	if err != nil {
		e.log.Warn("discarding unreadable cache entry", "key", key, "error", err)
		return nil, false
	}
	return rows, true
}

func (e *Executor) storeRows(ctx context.Context, key string, ttl time.Duration, rows []core.Row) {
	if ttl == 0 {
		ttl = e.cacheTTL
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		e.log.Warn("result not cacheable", "key", key, "error", err)
		return
	}
	if err := e.cache.Set(ctx, key, raw, ttl); err != nil {
		e.log.Warn("result cache store failed", "key", key, "error", err)
	}
}

// decodeRows restores cached rows; integral numbers come back as int64.
func decodeRows(raw []byte) ([]core.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rows []core.Row
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		for k, v := range row {
			n, ok := v.(json.Number)
			if !ok {
				continue
			}
			if i, err := n.Int64(); err == nil {
				row[k] = i
			} else if f, err := n.Float64(); err == nil {
				row[k] = f
			}
		}
	}
	return rows, nil
}
