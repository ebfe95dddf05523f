package query

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"anon/internal/core"
)

// sqlConn adapts *sql.DB to core.Conn for tests.
type sqlConn struct {
	db       *sql.DB
	prepared int
}

func (c *sqlConn) PrepareContext(ctx context.Context, query string) (core.Stmt, error) {
	c.prepared++
	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

// mapCache is an in-test core.ResultCache.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, core.ErrCacheMiss
	}
	return v, nil
}

func (m *mapCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// recordingDebugger collects every query it is handed.
type recordingDebugger struct {
	queries []string
	warns   []string
}

func (d *recordingDebugger) Enabled() bool { return true }
func (d *recordingDebugger) Query(sql string, _ []interface{}, _ time.Duration) {
	d.queries = append(d.queries, sql)
}
func (d *recordingDebugger) Warn(msg string, _ ...any) { d.warns = append(d.warns, msg) }

// newTestDB opens a private in-memory SQLite database with a users table.
func newTestDB(t *testing.T) *sqlConn {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec("CREATE TABLE `users` (" +
		"`uid` INTEGER PRIMARY KEY AUTOINCREMENT, " +
		"`name` TEXT NOT NULL, " +
		"`email` TEXT, " +
		"`group` TEXT NOT NULL DEFAULT 'user', " +
		"`created_at` INTEGER NOT NULL DEFAULT 0)")
	require.NoError(t, err)
	return &sqlConn{db: db}
}

func seedUsers(t *testing.T, exec *Executor, admins, others int) {
	t.Helper()
	rows := make([]map[string]interface{}, 0, admins+others)
	for i := 0; i < admins+others; i++ {
		group := "admin"
		if i >= admins {
			group = "user"
		}
		rows = append(rows, map[string]interface{}{
			"name":       fmt.Sprintf("user%02d", i),
			"email":      fmt.Sprintf("user%02d@example.com", i),
			"group":      group,
			"created_at": int64(1000 + i),
		})
	}
	n, err := exec.Table("users").InsertBatch(context.Background(), rows, 7)
	require.NoError(t, err)
	require.Equal(t, int64(admins+others), n)
}

func TestScenarioAdminsByUIDDesc(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(newTestDB(t))
	seedUsers(t, exec, 15, 5)

	rows, err := exec.Table("users").Where("group", "admin").OrderBy("uid", "DESC").Limit(10).Get(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 10)

	prev := int64(1 << 62)
	for _, row := range rows {
		assert.Equal(t, "admin", row["group"])
		uid := row["uid"].(int64)
		assert.Less(t, uid, prev)
		prev = uid
	}
	assert.Equal(t, int64(15), rows[0]["uid"])
}

func TestInsertIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(newTestDB(t))

	id, err := exec.Table("users").Insert(ctx, map[string]interface{}{"name": "x"})
	require.NoError(t, err)
	require.Positive(t, id)

	row, err := exec.Table("users").Where("uid", id).First(ctx)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "x", row["name"])
	assert.Equal(t, "user", row["group"])
}

func TestFirstAndValueOnEmptyResult(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(newTestDB(t))

	b := exec.Table("users").Where("uid", 42)
	row, err := b.First(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)
	require.NotNil(t, b.limit)
	assert.Equal(t, 1, *b.limit)

	v, err := exec.Table("users").Where("uid", 42).Value(ctx, "name")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestValuePluckCountExists(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(newTestDB(t))
	seedUsers(t, exec, 3, 2)

	v, err := exec.Table("users").Where("uid", 2).Value(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "user01", v)

	names, err := exec.Table("users").Where("group", "user").OrderBy("uid", "").Pluck(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"user03", "user04"}, names)

	n, err := exec.Table("users").Where("group", "admin").OrderBy("uid", "DESC").Limit(1).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = exec.Table("users").Count(ctx, "email")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	v, err = exec.Table("users").Where("users.uid", 3).Value(ctx, "users.name")
	require.NoError(t, err)
	assert.Equal(t, "user02", v)

	n, err = exec.Table("users").GroupBy("group").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "grouped count is the number of groups")

	n, err = exec.Table("users").GroupBy("group").Having("group", "=", "admin").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err := exec.Table("users").Where("name", "LIKE", "user0%").Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = exec.Table("users").Where("name", "nobody").Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(newTestDB(t))
	seedUsers(t, exec, 4, 4)

	n, err := exec.Table("users").Where("group", "user").Update(ctx, map[string]interface{}{"email": nil})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = exec.Table("users").WhereNull("email").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = exec.Table("users").WhereIn("uid", []int64{1, 2}).Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// no WHERE: whole table
	n, err = exec.Table("users").Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestBatchInsertCompleteness(t *testing.T) {
	ctx := context.Background()
	conn := newTestDB(t)
	debug := &recordingDebugger{}
	exec := NewExecutor(conn, WithDebugger(debug))

	rows := make([]map[string]interface{}, 2500)
	for i := range rows {
		rows[i] = map[string]interface{}{"name": fmt.Sprintf("bulk%d", i), "group": "bulk"}
	}

	n, err := exec.Table("users").InsertBatch(ctx, rows, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), n)
	assert.Len(t, debug.queries, 3)
	assert.Equal(t, 3, conn.prepared)

	count, err := exec.Table("users").Where("group", "bulk").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), count)
}

func TestBatchInsertRejectsMismatchedRows(t *testing.T) {
	ctx := context.Background()
	conn := newTestDB(t)
	exec := NewExecutor(conn)

	_, err := exec.Table("users").InsertBatch(ctx, []map[string]interface{}{
		{"name": "a", "group": "g"},
		{"name": "b"},
	}, 0)
	require.ErrorIs(t, err, core.ErrInvalidArgument)
	assert.Zero(t, conn.prepared)
}

func TestBatchInsertIsNotAtomic(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(newTestDB(t))

	rows := []map[string]interface{}{
		{"uid": 1, "name": "a"},
		{"uid": 2, "name": "b"},
		{"uid": 1, "name": "dup"},
	}
	n, err := exec.Table("users").InsertBatch(ctx, rows, 2)
	require.Error(t, err)
	var execErr *core.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.SQL, "INSERT INTO `users`")
	assert.Equal(t, int64(2), n)

	count, err := exec.Table("users").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestBatchUpdate(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(newTestDB(t))
	seedUsers(t, exec, 3, 0)

	n, err := exec.Table("users").BatchUpdate(ctx, []map[string]interface{}{
		{"uid": int64(1), "name": "first"},
		{"uid": int64(2), "name": "second", "group": "user"},
		{"name": "no key"},
		{"uid": int64(3)},
	}, "uid", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := exec.Table("users").OrderBy("uid", "ASC").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", rows[0]["name"])
	assert.Equal(t, "second", rows[1]["name"])
	assert.Equal(t, "user", rows[1]["group"])
	assert.Equal(t, "user02", rows[2]["name"])
}

func TestCursorPaginationVisitsEveryRowOnce(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(newTestDB(t))
	seedUsers(t, exec, 17, 6) // 23 rows, limit 5 does not divide it

	seen := map[int64]int{}
	var cursor interface{}
	pages := 0
	for {
		page, err := exec.Table("users").CursorPaginate(ctx, 5, cursor, "uid")
		require.NoError(t, err)
		pages++
		require.LessOrEqual(t, len(page.Data), 5)
		for _, row := range page.Data {
			seen[row["uid"].(int64)]++
		}
		if !page.HasNext {
			assert.Len(t, page.Data, 3)
			break
		}
		cursor = page.NextCursor
		require.Less(t, pages, 10, "pagination did not terminate")
	}

	assert.Equal(t, 5, pages)
	assert.Len(t, seen, 23)
	for uid, n := range seen {
		assert.Equal(t, 1, n, "uid %d", uid)
	}
}

func TestCursorPaginationAddsCursorColumn(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(newTestDB(t))
	seedUsers(t, exec, 5, 0)

	var names []interface{}
	var cursor interface{}
	for pages := 0; ; pages++ {
		require.Less(t, pages, 5, "pagination did not terminate")
		page, err := exec.Table("users").Select("name").CursorPaginate(ctx, 2, cursor, "uid")
		require.NoError(t, err)
		for _, row := range page.Data {
			names = append(names, row["name"])
		}
		if !page.HasNext {
			break
		}
		require.NotNil(t, page.NextCursor)
		cursor = page.NextCursor
	}
	assert.Equal(t, []interface{}{"user00", "user01", "user02", "user03", "user04"}, names)

	page, err := exec.Table("users").Select("users.uid", "name").CursorPaginate(ctx, 2, nil, "uid")
	require.NoError(t, err)
	assert.Len(t, page.Data[0], 2, "an already selected cursor column is not added twice")
}

func TestCursorPaginateByTime(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(newTestDB(t))
	seedUsers(t, exec, 7, 0)

	page, err := exec.Table("users").CursorPaginateByTime(ctx, 4, nil, "")
	require.NoError(t, err)
	require.Len(t, page.Data, 4)
	assert.True(t, page.HasPrev)
	assert.Equal(t, int64(1006), page.Data[0]["created_at"])
	assert.Equal(t, int64(1003), page.PrevCursor)

	page, err = exec.Table("users").CursorPaginateByTime(ctx, 4, page.PrevCursor, "created_at")
	require.NoError(t, err)
	require.Len(t, page.Data, 3)
	assert.False(t, page.HasPrev)
	assert.Equal(t, int64(1000), page.PrevCursor)
}

func TestPaginate(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(newTestDB(t))
	seedUsers(t, exec, 11, 0)

	page, err := exec.Table("users").OrderBy("uid", "ASC").Paginate(ctx, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(11), page.Total)
	assert.Len(t, page.Data, 3)
	assert.False(t, page.HasMore)
	assert.Equal(t, int64(9), page.Data[0]["uid"])
}

func TestGetUsesResultCache(t *testing.T) {
	ctx := context.Background()
	conn := newTestDB(t)
	cache := newMapCache()
	exec := NewExecutor(conn, WithCache(cache, 30*time.Second))
	seedUsers(t, exec, 2, 0)
	conn.prepared = 0

	first, err := exec.Table("users").Where("group", "admin").Cache(0, "").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, conn.prepared)
	require.Len(t, cache.data, 1)
	for _, ttl := range cache.ttls {
		assert.Equal(t, 30*time.Second, ttl)
	}

	// Rows change underneath; the cached copy is served until TTL expiry.
	_, err = exec.Table("users").Delete(ctx)
	require.NoError(t, err)
	conn.prepared = 0

	second, err := exec.Table("users").Where("group", "admin").Cache(0, "").Get(ctx)
	require.NoError(t, err)
	assert.Zero(t, conn.prepared)
	assert.Equal(t, first, second)

	_, err = exec.Table("users").Where("group", "admin").Cache(time.Minute, "admins").Get(ctx)
	require.NoError(t, err)
	assert.Contains(t, cache.data, "admins")
	assert.Equal(t, time.Minute, cache.ttls["admins"])
}

func TestSlowQueryLogsIndexSuggestion(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	exec := NewExecutor(newTestDB(t), WithLogger(logger), WithSlowThreshold(time.Nanosecond))

	_, err := exec.Table("users").Where("group", "admin").OrderBy("uid", "DESC").Get(context.Background())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "slow query")
	assert.Contains(t, buf.String(), "CREATE INDEX idx_users_group_uid ON users (group, uid)")
}

func TestExecutionErrorCarriesSQL(t *testing.T) {
	exec := NewExecutor(newTestDB(t))
	_, err := exec.Table("missing_table").Where("id", 1).Get(context.Background())
	var execErr *core.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "SELECT * FROM `missing_table` WHERE `id` = ?", execErr.SQL)
}

func TestNilConnectionIsUnsupported(t *testing.T) {
	_, err := NewExecutor(nil).Table("users").Get(context.Background())
	assert.ErrorIs(t, err, core.ErrUnsupportedConnection)
}

func TestInvalidBuilderNeverTouchesConnection(t *testing.T) {
	conn := newTestDB(t)
	exec := NewExecutor(conn)
	_, err := exec.Table("users").Where("bad col", 1).Delete(context.Background())
	require.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = exec.Table("users").Insert(context.Background(), map[string]interface{}{"bad col": 1})
	require.ErrorIs(t, err, core.ErrInvalidArgument)
	assert.Zero(t, conn.prepared)
}

func TestRawNamedParameters(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(newTestDB(t))
	seedUsers(t, exec, 2, 1)

	rows, err := exec.Raw(ctx, "SELECT name FROM users WHERE `group` = {group} ORDER BY uid", map[string]interface{}{"group": "admin"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "user00", rows[0]["name"])

	n, err := exec.RawExec(ctx, "UPDATE users SET name = {name} WHERE uid = {uid}", map[string]interface{}{"name": "z", "uid": 3})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = exec.Raw(ctx, "SELECT * FROM users WHERE uid = {uid}", nil)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestDecodeRowsRestoresIntegers(t *testing.T) {
	rows, err := decodeRows([]byte(`[{"uid": 7, "score": 1.5, "name": "x", "gone": null}]`))
	require.NoError(t, err)
	assert.Equal(t, int64(7), rows[0]["uid"])
	assert.Equal(t, 1.5, rows[0]["score"])
	assert.Equal(t, "x", rows[0]["name"])
	assert.Nil(t, rows[0]["gone"])
}
