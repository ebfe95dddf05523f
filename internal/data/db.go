package data

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"anon/internal/core"
)

// Driver names as registered with database/sql.
const (
	DriverMySQL     = "mysql"
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverSQLServer = "sqlserver"
	DriverODBC      = "odbc"
)

// Options describes how to reach the database. DSN wins over the discrete fields.
type Options struct {
	Driver       string
	DSN          string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	Prepare      bool
	MaxOpenConns int
	PingTimeout  time.Duration
}

// DB wraps the shared *sql.DB handle and implements core.Conn.
type DB struct {
	db      *sql.DB
	driver  string
	prepare bool
}

// Open connects and pings the database described by opts.
func Open(ctx context.Context, opts Options) (*DB, error) {
	driver := normalizeDriver(opts.Driver)
	dsn, err := BuildDSN(opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection (%s): %w", driver, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return Wrap(db, driver, opts.Prepare), nil
}

// Wrap adopts an already opened handle.
func Wrap(db *sql.DB, driver string, prepare bool) *DB {
	return &DB{db: db, driver: normalizeDriver(driver), prepare: prepare}
}

// Raw exposes the underlying handle, e.g. for transactions around batch writes.
func (d *DB) Raw() *sql.DB { return d.db }

func (d *DB) Driver() string { return d.driver }

func (d *DB) Close() error { return d.db.Close() }

// PrepareContext rewrites the builder's MySQL-style SQL for the target driver
// and prepares it, or returns a statement that runs unprepared when
// preparation is disabled.
func (d *DB) PrepareContext(ctx context.Context, query string) (core.Stmt, error) {
	query = Rebind(d.driver, query)
	if !d.prepare {
		return &directStmt{db: d.db, query: query}, nil
	}
	stmt, err := d.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

// directStmt sends the statement text with every call.
type directStmt struct {
	db    *sql.DB
	query string
}

func (s *directStmt) QueryContext(ctx context.Context, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.query, args...)
}

func (s *directStmt) ExecContext(ctx context.Context, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.query, args...)
}

func (s *directStmt) Close() error { return nil }

func normalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite
	case "postgres", "postgresql", "pgsql":
		return DriverPostgres
	case "sqlserver", "mssql":
		return DriverSQLServer
	case "mysql", "mariadb":
		return DriverMySQL
	default:
		return strings.ToLower(strings.TrimSpace(driver))
	}
}

// BuildDSN renders a driver-specific data source name from opts.
func BuildDSN(opts Options) (string, error) {
	if opts.DSN != "" {
		return opts.DSN, nil
	}

	driver := normalizeDriver(opts.Driver)
	switch driver {
	case DriverSQLite:
		if opts.Name == "" {
			return "anon.db", nil
		}
		return opts.Name, nil
	case DriverMySQL:
		cfg := mysql.NewConfig()
		cfg.User = opts.User
		cfg.Passwd = opts.Password
		cfg.Net = "tcp"
		cfg.Addr = hostPort(opts.Host, opts.Port, 3306)
		cfg.DBName = opts.Name
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	case DriverPostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(opts.User, opts.Password),
			Host:     hostPort(opts.Host, opts.Port, 5432),
			Path:     "/" + opts.Name,
			RawQuery: "sslmode=disable",
		}
		return u.String(), nil
	case DriverSQLServer:
		q := url.Values{}
		q.Set("database", opts.Name)
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(opts.User, opts.Password),
			Host:     hostPort(opts.Host, opts.Port, 1433),
			RawQuery: q.Encode(),
		}
		return u.String(), nil
	case DriverODBC:
		return "", fmt.Errorf("%w: odbc requires DB_DSN", core.ErrInvalidArgument)
	}
	return "", fmt.Errorf("%w: unsupported driver %q", core.ErrInvalidArgument, opts.Driver)
}

func hostPort(host string, port, def int) string {
	if host == "" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = def
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Rebind converts ? placeholders and backtick quoting for drivers that use
// another syntax. Text inside single-quoted literals is left alone.
func Rebind(driver string, query string) string {
	var placeholder func(n int) string
	var openQuote, closeQuote byte
	switch driver {
	case DriverPostgres:
		placeholder = func(n int) string { return "$" + strconv.Itoa(n) }
		openQuote, closeQuote = '"', '"'
	case DriverSQLServer:
		placeholder = func(n int) string { return "@p" + strconv.Itoa(n) }
		openQuote, closeQuote = '[', ']'
	default:
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	inString := false
	inIdent := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case inString:
			sb.WriteByte(c)
			if c == '\'' {
				inString = false
			}
		case c == '\'':
			inString = true
			sb.WriteByte(c)
		case c == '`':
			if inIdent {
				sb.WriteByte(closeQuote)
			} else {
				sb.WriteByte(openQuote)
			}
			inIdent = !inIdent
		case c == '?':
			n++
			sb.WriteString(placeholder(n))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
