package data

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"anon/internal/core"
)

// ErrUnsupportedOperation is returned for DDL the target driver cannot express.
var ErrUnsupportedOperation = errors.New("unsupported schema operation")

// Column describes one column for CreateTable, AddColumn and ModifyColumn.
type Column struct {
	Name          string
	Type          string
	Nullable      bool
	Default       interface{}
	HasDefault    bool
	AutoIncrement bool
	Primary       bool
	Unique        bool
	Comment       string
}

// TableOptions tunes CreateTable. Engine, Charset and Comment apply to MySQL only.
type TableOptions struct {
	IfNotExists bool
	PrimaryKey  []string
	Engine      string
	Charset     string
	Comment     string
}

// Schema issues DDL through the same connection the executor uses.
type Schema struct {
	conn   core.Conn
	driver string
	log    *slog.Logger
}

func NewSchema(conn core.Conn, driver string) *Schema {
	return &Schema{conn: conn, driver: normalizeDriver(driver), log: slog.Default()}
}

var forbiddenTypeTokens = []string{";", "'", "\"", "`", "--", "/*", "*/", "DROP", "DELETE", "TRUNCATE"}

func validateType(t string) (string, error) {
	t = strings.TrimSpace(t)
	if t == "" {
		return "", core.InvalidArgument("column type must not be empty")
	}
	upper := strings.ToUpper(t)
	for _, tok := range forbiddenTypeTokens {
		if strings.Contains(upper, tok) {
			return "", core.InvalidArgument("column type %q contains %q", t, tok)
		}
	}
	return t, nil
}

func validateName(name string, kind core.IdentifierKind) (string, error) {
	if name == "*" {
		return "", core.InvalidArgument("invalid %s name %q", kind, name)
	}
	if _, err := core.ValidateIdentifier(name, kind); err != nil {
		return "", err
	}
	return core.QuoteIdentifier(name), nil
}

// CreateTable creates table from columns.
func (s *Schema) CreateTable(ctx context.Context, table string, columns []Column, opts TableOptions) error {
	name, err := validateName(table, core.KindTable)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return core.InvalidArgument("table %s needs at least one column", table)
	}

	composite := len(opts.PrimaryKey) > 0
	defs := make([]string, 0, len(columns)+1)
	for _, col := range columns {
		if composite {
			col.Primary = false
		}
		def, err := s.columnDefinition(col)
		if err != nil {
			return fmt.Errorf("column %s: %w", col.Name, err)
		}
		defs = append(defs, def)
	}
	if composite {
		keys := make([]string, len(opts.PrimaryKey))
		for i, k := range opts.PrimaryKey {
			if keys[i], err = validateName(k, core.KindColumn); err != nil {
				return err
			}
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}

	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if opts.IfNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(name)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(defs, ", "))
	sb.WriteString(")")

	if s.driver == DriverMySQL {
		engine := opts.Engine
		if engine == "" {
			engine = "InnoDB"
		}
		charset := opts.Charset
		if charset == "" {
			charset = "utf8mb4"
		}
		if _, err := core.ValidateIdentifier(engine, core.KindTable); err != nil {
			return core.InvalidArgument("invalid engine %q", engine)
		}
		if _, err := core.ValidateIdentifier(charset, core.KindTable); err != nil {
			return core.InvalidArgument("invalid charset %q", charset)
		}
		sb.WriteString(" ENGINE=" + engine + " DEFAULT CHARSET=" + charset)
		if opts.Comment != "" {
			sb.WriteString(" COMMENT='" + EscapeComment(s.driver, opts.Comment) + "'")
		}
	}

	return s.exec(ctx, sb.String())
}

// AddColumn appends col to table. after positions it on MySQL and is ignored elsewhere.
func (s *Schema) AddColumn(ctx context.Context, table string, col Column, after string) error {
	name, err := validateName(table, core.KindTable)
	if err != nil {
		return err
	}
	def, err := s.columnDefinition(col)
	if err != nil {
		return err
	}
	q := "ALTER TABLE " + name + " ADD COLUMN " + def
	if after != "" && s.driver == DriverMySQL {
		pos, err := validateName(after, core.KindColumn)
		if err != nil {
			return err
		}
		q += " AFTER " + pos
	}
	return s.exec(ctx, q)
}

// ModifyColumn changes a column definition. SQLite has no such statement.
func (s *Schema) ModifyColumn(ctx context.Context, table string, col Column) error {
	name, err := validateName(table, core.KindTable)
	if err != nil {
		return err
	}
	var q string
	switch s.driver {
	case DriverSQLite:
		return fmt.Errorf("%w: sqlite cannot modify column %s", ErrUnsupportedOperation, col.Name)
	case DriverPostgres:
		colName, err := validateName(col.Name, core.KindColumn)
		if err != nil {
			return err
		}
		typ, err := validateType(col.Type)
		if err != nil {
			return err
		}
		q = "ALTER TABLE " + name + " ALTER COLUMN " + colName + " TYPE " + typ
	case DriverSQLServer:
		colName, err := validateName(col.Name, core.KindColumn)
		if err != nil {
			return err
		}
		typ, err := validateType(col.Type)
		if err != nil {
			return err
		}
		q = "ALTER TABLE " + name + " ALTER COLUMN " + colName + " " + typ + nullability(col.Nullable)
	default:
		def, err := s.columnDefinition(col)
		if err != nil {
			return err
		}
		q = "ALTER TABLE " + name + " MODIFY COLUMN " + def
	}
	return s.exec(ctx, q)
}

func (s *Schema) DropColumn(ctx context.Context, table, column string) error {
	name, err := validateName(table, core.KindTable)
	if err != nil {
		return err
	}
	colName, err := validateName(column, core.KindColumn)
	if err != nil {
		return err
	}
	return s.exec(ctx, "ALTER TABLE "+name+" DROP COLUMN "+colName)
}

func (s *Schema) DropTable(ctx context.Context, table string, ifExists bool) error {
	name, err := validateName(table, core.KindTable)
	if err != nil {
		return err
	}
	q := "DROP TABLE "
	if ifExists {
		q += "IF EXISTS "
	}
	return s.exec(ctx, q+name)
}

// TableExists asks the driver's catalog whether table exists.
func (s *Schema) TableExists(ctx context.Context, table string) (bool, error) {
	if _, err := validateName(table, core.KindTable); err != nil {
		return false, err
	}

	var q string
	switch s.driver {
	case DriverMySQL:
		q = "SHOW TABLES LIKE ?"
	case DriverSQLite:
		q = "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?"
	default:
		q = "SELECT table_name FROM information_schema.tables WHERE table_name = ?"
	}

	stmt, err := s.prepare(ctx, q)
	if err != nil {
		return false, err
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx, table)
	if err != nil {
		return false, &core.ExecutionError{SQL: q, Err: err}
	}
	defer rows.Close()
	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, &core.ExecutionError{SQL: q, Err: err}
	}
	return found, nil
}

func (s *Schema) columnDefinition(col Column) (string, error) {
	name, err := validateName(col.Name, core.KindColumn)
	if err != nil {
		return "", err
	}
	typ, err := validateType(col.Type)
	if err != nil {
		return "", err
	}

	if col.AutoIncrement {
		switch s.driver {
		case DriverSQLite:
			return name + " INTEGER PRIMARY KEY AUTOINCREMENT", nil
		case DriverPostgres:
			return name + " BIGSERIAL PRIMARY KEY", nil
		}
	}

	parts := []string{name, typ}
	if col.AutoIncrement || col.Primary {
		parts = append(parts, "NOT NULL")
	} else {
		parts = append(parts, strings.TrimSpace(nullability(col.Nullable)))
	}
	if col.HasDefault {
		def, err := FormatDefault(s.driver, col.Default)
		if err != nil {
			return "", err
		}
		parts = append(parts, "DEFAULT "+def)
	}
	if col.AutoIncrement {
		switch s.driver {
		case DriverSQLServer:
			parts = append(parts, "IDENTITY(1,1)")
		default:
			parts = append(parts, "AUTO_INCREMENT")
		}
		parts = append(parts, "PRIMARY KEY")
	} else if col.Primary {
		parts = append(parts, "PRIMARY KEY")
	}
	if col.Unique {
		parts = append(parts, "UNIQUE")
	}
	if col.Comment != "" && s.driver == DriverMySQL {
		parts = append(parts, "COMMENT '"+EscapeComment(s.driver, col.Comment)+"'")
	}
	return strings.Join(parts, " "), nil
}

func nullability(nullable bool) string {
	if nullable {
		return " NULL"
	}
	return " NOT NULL"
}

// FormatDefault renders v as a DEFAULT literal for driver. CURRENT_TIMESTAMP
// and NULL pass through as keywords; other strings are quoted.
func FormatDefault(driver string, v interface{}) (string, error) {
	switch d := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if d {
			return "1", nil
		}
		return "0", nil
	case int:
		return strconv.Itoa(d), nil
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", d), nil
	case float32:
		return formatFloat(float64(d))
	case float64:
		return formatFloat(d)
	case time.Time:
		return "'" + d.Format("2006-01-02 15:04:05") + "'", nil
	case string:
		switch strings.ToUpper(strings.TrimSpace(d)) {
		case "CURRENT_TIMESTAMP", "NULL":
			return strings.ToUpper(strings.TrimSpace(d)), nil
		}
		return "'" + escapeLiteral(driver, d) + "'", nil
	}
	return "", core.InvalidArgument("unsupported default value of type %T", v)
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", core.InvalidArgument("default value %v is not a finite number", f)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

// EscapeComment makes s safe inside a single-quoted COMMENT clause.
func EscapeComment(driver, s string) string {
	return escapeLiteral(driver, strings.ReplaceAll(s, "\x00", ""))
}

// escapeLiteral escapes the body of a single-quoted string. Only MySQL treats
// backslash as an escape character; standard SQL strings take it literally.
func escapeLiteral(driver, s string) string {
	if normalizeDriver(driver) == DriverMySQL {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return strings.ReplaceAll(s, "'", "''")
}

func (s *Schema) prepare(ctx context.Context, q string) (core.Stmt, error) {
	if s.conn == nil {
		return nil, core.ErrUnsupportedConnection
	}
	stmt, err := s.conn.PrepareContext(ctx, q)
	if err != nil {
		return nil, &core.ExecutionError{SQL: q, Err: err}
	}
	return stmt, nil
}

func (s *Schema) exec(ctx context.Context, q string) error {
	stmt, err := s.prepare(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx); err != nil {
		return &core.ExecutionError{SQL: q, Err: err}
	}
	s.log.Info("schema change applied", "driver", s.driver, "sql", q)
	return nil
}
