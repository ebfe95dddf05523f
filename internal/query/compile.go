package query

import (
	"sort"
	"strconv"
	"strings"

	"anon/internal/core"
)

// ToSQL compiles the builder into a SELECT statement and its bindings.
// It does not modify the builder.
func (b *Builder) ToSQL() (string, []interface{}, error) {
	if b.err != nil {
		return "", nil, b.err
	}

	var sb strings.Builder
	var bindings []interface{}

	sb.WriteString("SELECT ")
	switch {
	case b.aggregate != "":
		sb.WriteString(b.aggregate)
	case len(b.selects) == 0:
		sb.WriteString("*")
	default:
		sb.WriteString(quoteList(b.selects))
	}

	sb.WriteString(" FROM ")
	sb.WriteString(core.QuoteIdentifier(b.table))

	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j.kind)
		sb.WriteString(" JOIN ")
		sb.WriteString(core.QuoteIdentifier(j.table))
		sb.WriteString(" ON ")
		sb.WriteString(core.QuoteIdentifier(j.left))
		sb.WriteString(" " + j.operator + " ")
		sb.WriteString(core.QuoteIdentifier(j.right))
	}

	if where, args := compileWheres(b.wheres); where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
		bindings = append(bindings, args...)
	}

	if len(b.groups) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(quoteList(b.groups))
	}

	if b.having != nil {
		sb.WriteString(" HAVING ")
		sb.WriteString(core.QuoteIdentifier(b.having.column))
		sb.WriteString(" " + b.having.operator + " ?")
		bindings = append(bindings, b.having.value)
	}

	if len(b.orders) > 0 {
		parts := make([]string, len(b.orders))
		for i, o := range b.orders {
			parts[i] = core.QuoteIdentifier(o.column) + " " + o.direction
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	if b.limit != nil {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(*b.limit))
	}
	if b.offset != nil {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(*b.offset))
	}

	return sb.String(), bindings, nil
}

// compileWheres renders predicates left to right. Each node after the first
// is prefixed with its own boolean.
func compileWheres(preds []predicate) (string, []interface{}) {
	var sb strings.Builder
	var bindings []interface{}

	for i, p := range preds {
		if i > 0 {
			sb.WriteString(" " + p.boolean + " ")
		}
		col := core.QuoteIdentifier(p.column)

		switch p.kind {
		case predBasic:
			sb.WriteString(col + " " + p.operator + " ?")
			bindings = append(bindings, p.value)
		case predIn:
			if len(p.values) == 0 {
				// IN () is not valid SQL; an empty list matches nothing (or everything when negated)
				if p.negated {
					sb.WriteString("1 = 1")
				} else {
					sb.WriteString("0 = 1")
				}
				continue
			}
			op := " IN ("
			if p.negated {
				op = " NOT IN ("
			}
			sb.WriteString(col + op + placeholders(len(p.values)) + ")")
			bindings = append(bindings, p.values...)
		case predNull:
			sb.WriteString(col + " IS NULL")
		case predNotNull:
			sb.WriteString(col + " IS NOT NULL")
		case predBetween:
			op := " BETWEEN ? AND ?"
			if p.negated {
				op = " NOT BETWEEN ? AND ?"
			}
			sb.WriteString(col + op)
			bindings = append(bindings, p.values...)
		case predNested:
			inner, args := compileWheres(p.nested)
			sb.WriteString("(" + inner + ")")
			bindings = append(bindings, args...)
		}
	}

	return sb.String(), bindings
}

func (b *Builder) compileInsert(columns []string, rows []map[string]interface{}) (string, []interface{}) {
	bindings := make([]interface{}, 0, len(columns)*len(rows))
	tuple := "(" + placeholders(len(columns)) + ")"
	tuples := make([]string, len(rows))
	for i, row := range rows {
		tuples[i] = tuple
		for _, c := range columns {
			bindings = append(bindings, row[c])
		}
	}
	sqlText := "INSERT INTO " + core.QuoteIdentifier(b.table) +
		" (" + quoteList(columns) + ") VALUES " + strings.Join(tuples, ", ")
	return sqlText, bindings
}

func (b *Builder) compileUpdate(columns []string, data map[string]interface{}) (string, []interface{}) {
	sets := make([]string, len(columns))
	bindings := make([]interface{}, 0, len(columns))
	for i, c := range columns {
		sets[i] = core.QuoteIdentifier(c) + " = ?"
		bindings = append(bindings, data[c])
	}
	sqlText := "UPDATE " + core.QuoteIdentifier(b.table) + " SET " + strings.Join(sets, ", ")
	if where, args := compileWheres(b.wheres); where != "" {
		sqlText += " WHERE " + where
		bindings = append(bindings, args...)
	}
	return sqlText, bindings
}

func (b *Builder) compileDelete() (string, []interface{}) {
	sqlText := "DELETE FROM " + core.QuoteIdentifier(b.table)
	where, bindings := compileWheres(b.wheres)
	if where != "" {
		sqlText += " WHERE " + where
	}
	return sqlText, bindings
}

// dataColumns validates and sorts the keys of a row so generated column
// order is stable.
func dataColumns(data map[string]interface{}) ([]string, error) {
	if len(data) == 0 {
		return nil, core.InvalidArgument("no columns given")
	}
	cols := make([]string, 0, len(data))
	for k := range data {
		if k == "*" {
			return nil, core.InvalidArgument("invalid column name %q", k)
		}
		if _, err := core.ValidateIdentifier(k, core.KindColumn); err != nil {
			return nil, err
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols, nil
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = core.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
