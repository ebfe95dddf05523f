package query

import (
	"context"
	"fmt"

	"anon/internal/core"
)

// Get runs the SELECT and returns every row. When caching is enabled the
// cache is consulted first and filled after a successful query.
func (b *Builder) Get(ctx context.Context) ([]core.Row, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, err
	}

	useCache := b.cacheEnabled && b.exec.cache != nil
	var key string
	if useCache {
		key = b.exec.cacheKeyFor(b, query, args)
		if rows, ok := b.exec.cachedRows(ctx, key); ok {
			return rows, nil
		}
	}

	rows, err := b.exec.query(ctx, query, args)
	if err != nil {
		return nil, err
	}

	if useCache {
		b.exec.storeRows(ctx, key, b.cacheTTL, rows)
	}
	return rows, nil
}

// First limits the query to one row and returns it, or nil when nothing matched.
// The limit stays on the builder.
func (b *Builder) First(ctx context.Context) (core.Row, error) {
	b.Limit(1)
	rows, err := b.Get(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Value returns one column of the first row, or nil when nothing matched.
func (b *Builder) Value(ctx context.Context, column string) (interface{}, error) {
	if _, ok := b.column(column); !ok {
		return nil, b.err
	}
	row, err := b.First(ctx)
	if err != nil || row == nil {
		return nil, err
	}
	v, ok := row[columnKey(column)]
	if !ok {
		return nil, core.InvalidArgument("column %q not in result", column)
	}
	return v, nil
}

// Pluck returns one column from every row.
func (b *Builder) Pluck(ctx context.Context, column string) ([]interface{}, error) {
	if _, ok := b.column(column); !ok {
		return nil, b.err
	}
	q := b.clone()
	q.selects = []string{column}
	rows, err := q.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		for _, v := range row {
			out = append(out, v)
		}
	}
	return out, nil
}

// Count returns COUNT(column), default *. Selects, ordering and paging are
// ignored. With GROUP BY it returns the number of groups (after HAVING) and
// column is not used.
func (b *Builder) Count(ctx context.Context, column ...string) (int64, error) {
	target := "*"
	if len(column) > 0 && column[0] != "" {
		target = column[0]
	}
	if _, ok := b.column(target); !ok {
		return 0, b.err
	}

	q := b.clone()
	q.selects = nil
	q.orders = nil
	q.limit, q.offset = nil, nil
	q.cacheEnabled = false

	var rows []core.Row
	var err error
	if len(q.groups) > 0 {
		q.selects = append([]string(nil), q.groups...)
		inner, args, cerr := q.ToSQL()
		if cerr != nil {
			return 0, cerr
		}
		rows, err = b.exec.query(ctx, "SELECT COUNT(*) AS aggregate FROM ("+inner+") AS grouped", args)
	} else {
		q.aggregate = "COUNT(" + core.QuoteIdentifier(target) + ") AS aggregate"
		rows, err = q.Get(ctx)
	}
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toInt64(rows[0]["aggregate"])
}

// Exists reports whether any row matches.
func (b *Builder) Exists(ctx context.Context) (bool, error) {
	n, err := b.Count(ctx)
	return n > 0, err
}

// Insert writes one row and returns its auto-increment id. A zero id with a
// nil error means the row was written but the driver reported no id.
func (b *Builder) Insert(ctx context.Context, data map[string]interface{}) (int64, error) {
	if b.err != nil {
		return 0, b.err
	}
	columns, err := dataColumns(data)
	if err != nil {
		return 0, err
	}
	query, args := b.compileInsert(columns, []map[string]interface{}{data})
	res, err := b.exec.exec(ctx, query, args)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, nil
	}
	return id, nil
}

// Update sets data on every row matching the WHERE clause and returns the
// affected count. Without a WHERE clause that is the whole table.
func (b *Builder) Update(ctx context.Context, data map[string]interface{}) (int64, error) {
	if b.err != nil {
		return 0, b.err
	}
	columns, err := dataColumns(data)
	if err != nil {
		return 0, err
	}
	query, args := b.compileUpdate(columns, data)
	res, err := b.exec.exec(ctx, query, args)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

// Delete removes every row matching the WHERE clause.
func (b *Builder) Delete(ctx context.Context) (int64, error) {
	if b.err != nil {
		return 0, b.err
	}
	query, args := b.compileDelete()
	res, err := b.exec.exec(ctx, query, args)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

// Paginate returns page (1-based) of perPage rows plus the total match count.
func (b *Builder) Paginate(ctx context.Context, page, perPage int) (*core.Page, error) {
	if b.err != nil {
		return nil, b.err
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		return nil, core.InvalidArgument("per page must be positive, got %d", perPage)
	}

	total, err := b.Count(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := b.clone().Limit(perPage).Offset((page - 1) * perPage).Get(ctx)
	if err != nil {
		return nil, err
	}
	return &core.Page{
		Data:    rows,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		HasMore: int64(page*perPage) < total,
	}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		var out int64
		if _, err := fmt.Sscan(n, &out); err != nil {
			return 0, fmt.Errorf("parsing count %q: %w", n, err)
		}
		return out, nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected count type %T", v)
}
