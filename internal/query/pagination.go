package query

import (
	"context"

	"anon/internal/core"
)

// CursorPaginate returns up to limit rows with column > cursor in ascending
// order. A nil cursor starts from the beginning. One extra row is fetched to
// tell whether another page exists.
func (b *Builder) CursorPaginate(ctx context.Context, limit int, cursor interface{}, column string) (*core.CursorPage, error) {
	if column == "" {
		column = "id"
	}
	rows, err := b.cursorRows(ctx, limit, cursor, column, ">", "ASC")
	if err != nil {
		return nil, err
	}

	page := &core.CursorPage{Data: rows}
	if len(rows) > limit {
		page.Data = rows[:limit]
		page.HasNext = true
	}
	if n := len(page.Data); n > 0 {
		page.NextCursor = page.Data[n-1][columnKey(column)]
	}
	return page, nil
}

// CursorPaginateByTime walks backwards: column < cursor, newest first.
// column defaults to created_at.
func (b *Builder) CursorPaginateByTime(ctx context.Context, limit int, cursor interface{}, column string) (*core.TimeCursorPage, error) {
	if column == "" {
		column = "created_at"
	}
	rows, err := b.cursorRows(ctx, limit, cursor, column, "<", "DESC")
	if err != nil {
		return nil, err
	}

	page := &core.TimeCursorPage{Data: rows}
	if len(rows) > limit {
		page.Data = rows[:limit]
		page.HasPrev = true
	}
	if n := len(page.Data); n > 0 {
		page.PrevCursor = page.Data[n-1][columnKey(column)]
	}
	return page, nil
}

func (b *Builder) cursorRows(ctx context.Context, limit int, cursor interface{}, column, operator, direction string) ([]core.Row, error) {
	if b.err != nil {
		return nil, b.err
	}
	if limit < 1 {
		return nil, core.InvalidArgument("cursor page size must be positive, got %d", limit)
	}
	if _, ok := b.column(column); !ok {
		return nil, b.err
	}
	// The next cursor is read from the last row, so the column must be in the result.
	if !b.projects(column) {
		b.selects = append(b.selects, column)
	}
	if cursor != nil {
		b.Where(column, operator, cursor)
	}
	return b.OrderBy(column, direction).Limit(limit + 1).Get(ctx)
}

// projects reports whether the SELECT list yields column under columnKey(column).
func (b *Builder) projects(column string) bool {
	if len(b.selects) == 0 {
		return true
	}
	key := columnKey(column)
	for _, s := range b.selects {
		if s == "*" || columnKey(s) == key {
			return true
		}
	}
	return false
}

// columnKey maps a possibly qualified column to the key used in result rows.
func columnKey(column string) string {
	for i := len(column) - 1; i >= 0; i-- {
		if column[i] == '.' {
			column = column[i+1:]
			break
		}
	}
	if len(column) >= 2 && column[0] == '`' && column[len(column)-1] == '`' {
		column = column[1 : len(column)-1]
	}
	return column
}
