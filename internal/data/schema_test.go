package data

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anon/internal/core"
)

// recordConn captures DDL text without a database.
type recordConn struct {
	queries []string
}

func (c *recordConn) PrepareContext(_ context.Context, q string) (core.Stmt, error) {
	c.queries = append(c.queries, q)
	return recordStmt{}, nil
}

type recordStmt struct{}

func (recordStmt) QueryContext(context.Context, ...interface{}) (*sql.Rows, error) {
	return nil, sql.ErrNoRows
}

func (recordStmt) ExecContext(context.Context, ...interface{}) (sql.Result, error) {
	return driver.RowsAffected(0), nil
}

func (recordStmt) Close() error { return nil }

func TestCreateTableMySQL(t *testing.T) {
	conn := &recordConn{}
	s := NewSchema(conn, "mysql")
	err := s.CreateTable(context.Background(), "users", userColumns(DriverMySQL), TableOptions{Comment: "it's users"})
	require.NoError(t, err)
	require.Len(t, conn.queries, 1)
	assert.Equal(t,
		"CREATE TABLE `users` ("+
			"`uid` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY, "+
			"`name` VARCHAR(64) NOT NULL UNIQUE COMMENT 'login name', "+
			"`password` VARCHAR(255) NOT NULL COMMENT 'bcrypt hash', "+
			"`email` VARCHAR(255) NULL, "+
			"`group` VARCHAR(32) NOT NULL DEFAULT 'user', "+
			"`created_at` DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP"+
			") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COMMENT='it''s users'",
		conn.queries[0])
}

func TestCreateTableCompositeKey(t *testing.T) {
	conn := &recordConn{}
	s := NewSchema(conn, "sqlite")
	err := s.CreateTable(context.Background(), "memberships", []Column{
		{Name: "user_id", Type: "INTEGER", Primary: true},
		{Name: "group_id", Type: "INTEGER"},
	}, TableOptions{IfNotExists: true, PrimaryKey: []string{"user_id", "group_id"}, Engine: "MyISAM"})
	require.NoError(t, err)
	assert.Equal(t,
		"CREATE TABLE IF NOT EXISTS `memberships` (`user_id` INTEGER NOT NULL, `group_id` INTEGER NOT NULL, PRIMARY KEY (`user_id`, `group_id`))",
		conn.queries[0])
}

func TestAlterStatementsPerDriver(t *testing.T) {
	ctx := context.Background()
	col := Column{Name: "nickname", Type: "VARCHAR(32)", Nullable: true}

	mysql := &recordConn{}
	s := NewSchema(mysql, "mysql")
	require.NoError(t, s.AddColumn(ctx, "users", col, "name"))
	require.NoError(t, s.ModifyColumn(ctx, "users", col))
	require.NoError(t, s.DropColumn(ctx, "users", "nickname"))
	require.NoError(t, s.DropTable(ctx, "users", true))
	assert.Equal(t, []string{
		"ALTER TABLE `users` ADD COLUMN `nickname` VARCHAR(32) NULL AFTER `name`",
		"ALTER TABLE `users` MODIFY COLUMN `nickname` VARCHAR(32) NULL",
		"ALTER TABLE `users` DROP COLUMN `nickname`",
		"DROP TABLE IF EXISTS `users`",
	}, mysql.queries)

	pg := &recordConn{}
	s = NewSchema(pg, "postgres")
	require.NoError(t, s.AddColumn(ctx, "users", col, "name"))
	require.NoError(t, s.ModifyColumn(ctx, "users", col))
	assert.Equal(t, []string{
		"ALTER TABLE `users` ADD COLUMN `nickname` VARCHAR(32) NULL",
		"ALTER TABLE `users` ALTER COLUMN `nickname` TYPE VARCHAR(32)",
	}, pg.queries)

	ms := &recordConn{}
	s = NewSchema(ms, "sqlserver")
	require.NoError(t, s.ModifyColumn(ctx, "users", Column{Name: "nickname", Type: "NVARCHAR(32)"}))
	assert.Equal(t, "ALTER TABLE `users` ALTER COLUMN `nickname` NVARCHAR(32) NOT NULL", ms.queries[0])
}

func TestModifyColumnUnsupportedOnSQLite(t *testing.T) {
	conn := &recordConn{}
	err := NewSchema(conn, "sqlite").ModifyColumn(context.Background(), "users", Column{Name: "name", Type: "TEXT"})
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
	assert.Empty(t, conn.queries)
}

func TestRejectsUnsafeDefinitions(t *testing.T) {
	ctx := context.Background()
	badTypes := []string{
		"", "  ", "INT; DROP TABLE users", "VARCHAR(10)'", "TEXT\"", "INT`", "INT -- x",
		"INT /* x", "INT */", "int drop", "delete", "Truncate",
	}
	for _, typ := range badTypes {
		conn := &recordConn{}
		err := NewSchema(conn, "mysql").AddColumn(ctx, "users", Column{Name: "c", Type: typ}, "")
		assert.ErrorIs(t, err, core.ErrInvalidArgument, "type %q", typ)
		assert.Empty(t, conn.queries)
	}

	conn := &recordConn{}
	s := NewSchema(conn, "mysql")
	assert.ErrorIs(t, s.DropTable(ctx, "users; --", false), core.ErrInvalidArgument)
	assert.ErrorIs(t, s.DropColumn(ctx, "users", "*"), core.ErrInvalidArgument)
	assert.ErrorIs(t, s.AddColumn(ctx, "users", Column{Name: "c", Type: "INT"}, "a b"), core.ErrInvalidArgument)
	assert.ErrorIs(t, s.CreateTable(ctx, "t", nil, TableOptions{}), core.ErrInvalidArgument)
	assert.ErrorIs(t, s.CreateTable(ctx, "t", []Column{{Name: "a", Type: "INT"}}, TableOptions{Engine: "Inno DB"}), core.ErrInvalidArgument)
	assert.ErrorIs(t, s.CreateTable(ctx, "t", []Column{{Name: "a", Type: "INT", HasDefault: true, Default: []int{1}}}, TableOptions{}), core.ErrInvalidArgument)
	assert.Empty(t, conn.queries)
}

func TestFormatDefault(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, "NULL"},
		{true, "1"},
		{false, "0"},
		{42, "42"},
		{int64(-7), "-7"},
		{uint8(3), "3"},
		{1.5, "1.5"},
		{float32(0.25), "0.25"},
		{"current_timestamp", "CURRENT_TIMESTAMP"},
		{"null", "NULL"},
		{"it's", "'it''s'"},
		{time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "'2024-01-02 03:04:05'"},
	}
	for _, tt := range tests {
		got, err := FormatDefault(DriverMySQL, tt.in)
		require.NoError(t, err, "%v", tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := FormatDefault(DriverMySQL, math.NaN())
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = FormatDefault(DriverSQLite, struct{}{})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestBackslashEscapingFollowsDriver(t *testing.T) {
	got, err := FormatDefault(DriverMySQL, `a\b`)
	require.NoError(t, err)
	assert.Equal(t, `'a\\b'`, got)

	for _, driver := range []string{DriverSQLite, DriverPostgres, DriverSQLServer} {
		got, err := FormatDefault(driver, `it's a\b`)
		require.NoError(t, err)
		assert.Equal(t, `'it''s a\b'`, got, driver)
		assert.Equal(t, `C:\tmp`, EscapeComment(driver, `C:\tmp`), driver)
	}
}

func TestEscapeComment(t *testing.T) {
	assert.Equal(t, `it''s a \\ path`, EscapeComment(DriverMySQL, "it's a \\ path\x00"))
}

func TestSchemaAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t, true)
	s := NewSchema(db, db.Driver())

	exists, err := s.TableExists(ctx, "users")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, Migrate(ctx, s))
	require.NoError(t, Migrate(ctx, s))

	exists, err = s.TableExists(ctx, "users")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.AddColumn(ctx, "users", Column{Name: "nickname", Type: "TEXT", Nullable: true}, "name"))
	_, err = db.Raw().Exec("UPDATE users SET nickname = 'n'")
	require.NoError(t, err)
	require.NoError(t, s.DropColumn(ctx, "users", "nickname"))

	require.NoError(t, s.DropTable(ctx, "users", false))
	exists, err = s.TableExists(ctx, "users")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.DropTable(ctx, "users", true))
	err = s.DropTable(ctx, "users", false)
	var execErr *core.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "DROP TABLE `users`", execErr.SQL)
}
