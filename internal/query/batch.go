package query

import (
	"context"
	"fmt"

	"anon/internal/core"
)

const defaultBatchSize = 1000

// InsertBatch writes rows with one multi-row INSERT per chunk of batchSize
// (1000 when batchSize <= 0) and returns the summed affected count.
//
// Chunks are not atomic as a group: when chunk n fails, chunks before it stay
// committed. Wrap the call in a transaction on the raw handle if that matters.
func (b *Builder) InsertBatch(ctx context.Context, rows []map[string]interface{}, batchSize int) (int64, error) {
	if b.err != nil {
		return 0, b.err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	columns, err := dataColumns(rows[0])
	if err != nil {
		return 0, err
	}
	for i, row := range rows[1:] {
		if err := sameColumns(columns, row); err != nil {
			return 0, fmt.Errorf("row %d: %w", i+1, err)
		}
	}

	var total int64
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		query, args := b.compileInsert(columns, rows[start:end])
		res, err := b.exec.exec(ctx, query, args)
		if err != nil {
			return total, fmt.Errorf("inserting rows %d-%d: %w", start, end-1, err)
		}
		total += rowsAffected(res)
	}
	return total, nil
}

func sameColumns(columns []string, row map[string]interface{}) error {
	if len(row) != len(columns) {
		return core.InvalidArgument("expected %d columns, got %d", len(columns), len(row))
	}
	for _, c := range columns {
		if _, ok := row[c]; !ok {
			return core.InvalidArgument("missing column %q", c)
		}
	}
	return nil
}

// BatchUpdate issues one UPDATE per row keyed by keyColumn (default "id").
// Rows without the key, or with nothing besides the key, are skipped. Like
// InsertBatch it is not atomic. batchSize only controls progress logging.
func (b *Builder) BatchUpdate(ctx context.Context, rows []map[string]interface{}, keyColumn string, batchSize int) (int64, error) {
	if b.err != nil {
		return 0, b.err
	}
	if keyColumn == "" {
		keyColumn = "id"
	}
	if _, ok := b.column(keyColumn); !ok {
		return 0, b.err
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	var total int64
	var skipped int
	for i, row := range rows {
		key, ok := row[keyColumn]
		if !ok || key == nil {
			skipped++
			continue
		}
		set := make(map[string]interface{}, len(row))
		for k, v := range row {
			if k != keyColumn {
				set[k] = v
			}
		}
		if len(set) == 0 {
			skipped++
			continue
		}

		n, err := b.exec.Table(b.table).Where(keyColumn, key).Update(ctx, set)
		if err != nil {
			return total, fmt.Errorf("updating %s=%v: %w", keyColumn, key, err)
		}
		total += n

		if (i+1)%batchSize == 0 {
			b.exec.log.Debug("batch update progress", "table", b.table, "done", i+1, "of", len(rows))
		}
	}
	if skipped > 0 {
		b.exec.log.Debug("batch update skipped rows", "table", b.table, "skipped", skipped)
	}
	return total, nil
}
