// Package query builds parameterized MySQL-style statements and runs them
// through an Executor.
package query

import (
	"reflect"
	"time"

	"anon/internal/core"
)

// Builder accumulates the clauses of one query against one table. It is not
// safe for concurrent use and is meant to be consumed by a single terminal call.
//
// The first invalid argument is recorded and turns every later call into a
// no-op; the terminal call returns it. Err exposes it right away.
type Builder struct {
	exec  *Executor
	table string

	selects   []string
	aggregate string
	wheres    []predicate
	joins     []join
	orders    []order
	groups    []string
	having    *havingClause
	limit     *int
	offset    *int

	cacheEnabled bool
	cacheTTL     time.Duration
	cacheKey     string

	err error
}

type join struct {
	kind     string
	table    string
	left     string
	operator string
	right    string
}

type order struct {
	column    string
	direction string
}

type havingClause struct {
	column   string
	operator string
	value    interface{}
}

func newBuilder(exec *Executor, table string) *Builder {
	b := &Builder{exec: exec}
	name, err := core.ValidateIdentifier(table, core.KindTable)
	if err != nil {
		b.err = err
		return b
	}
	b.table = name
	return b
}

// Err returns the first validation error recorded on the builder.
func (b *Builder) Err() error {
	return b.err
}

// Table returns the validated table name.
func (b *Builder) Table() string {
	return b.table
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *Builder) column(name string) (string, bool) {
	if b.err != nil {
		return "", false
	}
	col, err := core.ValidateIdentifier(name, core.KindColumn)
	if err != nil {
		b.fail(err)
		return "", false
	}
	return col, true
}

// Select appends projected columns. No columns means *.
func (b *Builder) Select(columns ...string) *Builder {
	valid := make([]string, 0, len(columns))
	for _, c := range columns {
		col, ok := b.column(c)
		if !ok {
			return b
		}
		valid = append(valid, col)
	}
	b.selects = append(b.selects, valid...)
	return b
}

// Join adds an INNER JOIN.
func (b *Builder) Join(table, left, operator, right string) *Builder {
	return b.JoinType("INNER", table, left, operator, right)
}

// LeftJoin adds a LEFT JOIN.
func (b *Builder) LeftJoin(table, left, operator, right string) *Builder {
	return b.JoinType("LEFT", table, left, operator, right)
}

// RightJoin adds a RIGHT JOIN.
func (b *Builder) RightJoin(table, left, operator, right string) *Builder {
	return b.JoinType("RIGHT", table, left, operator, right)
}

// JoinType adds a join of the given kind (INNER, LEFT, RIGHT, FULL).
func (b *Builder) JoinType(kind, table, left, operator, right string) *Builder {
	if b.err != nil {
		return b
	}
	j := join{}
	var err error
	if j.kind, err = core.ValidateIdentifier(kind, core.KindJoinType); err != nil {
		return b.fail(err)
	}
	if j.table, err = core.ValidateIdentifier(table, core.KindTable); err != nil {
		return b.fail(err)
	}
	if j.left, err = core.ValidateIdentifier(left, core.KindColumn); err != nil {
		return b.fail(err)
	}
	if j.operator, err = core.ValidateIdentifier(operator, core.KindOperator); err != nil {
		return b.fail(err)
	}
	if j.right, err = core.ValidateIdentifier(right, core.KindColumn); err != nil {
		return b.fail(err)
	}
	b.joins = append(b.joins, j)
	return b
}

// OrderBy appends an ORDER BY column. An empty direction means ASC.
func (b *Builder) OrderBy(column, direction string) *Builder {
	col, ok := b.column(column)
	if !ok {
		return b
	}
	dir, err := core.ValidateIdentifier(direction, core.KindDirection)
	if err != nil {
		return b.fail(err)
	}
	b.orders = append(b.orders, order{column: col, direction: dir})
	return b
}

// OrderByDesc is OrderBy(column, "DESC").
func (b *Builder) OrderByDesc(column string) *Builder {
	return b.OrderBy(column, "DESC")
}

// GroupBy appends GROUP BY columns.
func (b *Builder) GroupBy(columns ...string) *Builder {
	valid := make([]string, 0, len(columns))
	for _, c := range columns {
		col, ok := b.column(c)
		if !ok {
			return b
		}
		valid = append(valid, col)
	}
	b.groups = append(b.groups, valid...)
	return b
}

// Having sets the single HAVING condition. A second call replaces the first.
func (b *Builder) Having(column, operator string, value interface{}) *Builder {
	col, ok := b.column(column)
	if !ok {
		return b
	}
	op, err := core.ValidateIdentifier(operator, core.KindOperator)
	if err != nil {
		return b.fail(err)
	}
	b.having = &havingClause{column: col, operator: op, value: value}
	return b
}

// Limit sets LIMIT. Page-size caps are the caller's business.
func (b *Builder) Limit(n int) *Builder {
	if b.err != nil {
		return b
	}
	if n < 0 {
		return b.fail(core.InvalidArgument("negative limit %d", n))
	}
	b.limit = &n
	return b
}

// Offset sets OFFSET.
func (b *Builder) Offset(n int) *Builder {
	if b.err != nil {
		return b
	}
	if n < 0 {
		return b.fail(core.InvalidArgument("negative offset %d", n))
	}
	b.offset = &n
	return b
}

// Cache enables result caching for Get. A zero ttl uses the executor default;
// an empty key derives one from the compiled SQL and bindings.
func (b *Builder) Cache(ttl time.Duration, key string) *Builder {
	if b.err != nil {
		return b
	}
	if ttl < 0 {
		return b.fail(core.InvalidArgument("negative cache ttl %s", ttl))
	}
	b.cacheEnabled = true
	b.cacheTTL = ttl
	b.cacheKey = key
	return b
}

// clone copies the builder so terminal helpers can rewrite clauses without
// touching the caller's state.
func (b *Builder) clone() *Builder {
	c := *b
	c.selects = append([]string(nil), b.selects...)
	c.wheres = append([]predicate(nil), b.wheres...)
	c.joins = append([]join(nil), b.joins...)
	c.orders = append([]order(nil), b.orders...)
	c.groups = append([]string(nil), b.groups...)
	return &c
}

// toSlice flattens any slice or array into []interface{}.
func toSlice(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]interface{}); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	// []byte is a scalar value, not a list
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
