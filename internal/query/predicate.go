package query

import (
	"anon/internal/core"
)

type predicateKind int

const (
	predBasic predicateKind = iota
	predIn
	predNull
	predNotNull
	predBetween
	predNested
)

// predicate is one node of the WHERE tree. boolean joins it to the node
// before it and is ignored for the first node.
type predicate struct {
	kind     predicateKind
	column   string
	operator string
	value    interface{}
	values   []interface{}
	negated  bool
	nested   []predicate
	boolean  string
}

// Where adds "column = value" (one arg) or "column operator value" (two args).
// A nil value is only accepted with = and != (or <>), which render IS NULL
// and IS NOT NULL.
func (b *Builder) Where(column string, args ...interface{}) *Builder {
	return b.where("AND", column, args)
}

// OrWhere is Where joined with OR.
func (b *Builder) OrWhere(column string, args ...interface{}) *Builder {
	return b.where("OR", column, args)
}

func (b *Builder) where(boolean, column string, args []interface{}) *Builder {
	col, ok := b.column(column)
	if !ok {
		return b
	}

	var operator string
	var value interface{}
	switch len(args) {
	case 1:
		operator, value = "=", args[0]
	case 2:
		op, isString := args[0].(string)
		if !isString {
			return b.fail(core.InvalidArgument("operator for %q must be a string, got %T", column, args[0]))
		}
		operator, value = op, args[1]
	default:
		return b.fail(core.InvalidArgument("where on %q takes a value or an operator and value, got %d args", column, len(args)))
	}

	op, err := core.ValidateIdentifier(operator, core.KindOperator)
	if err != nil {
		return b.fail(err)
	}

	switch op {
	case "IN", "NOT IN":
		values, isList := toSlice(value)
		if !isList {
			return b.fail(core.InvalidArgument("%s on %q needs a list, got %T", op, column, value))
		}
		return b.push(predicate{kind: predIn, column: col, values: values, negated: op == "NOT IN", boolean: boolean})
	case "BETWEEN", "NOT BETWEEN":
		values, isList := toSlice(value)
		if !isList || len(values) != 2 {
			return b.fail(core.InvalidArgument("%s on %q needs exactly two bounds", op, column))
		}
		return b.push(predicate{kind: predBetween, column: col, values: values, negated: op == "NOT BETWEEN", boolean: boolean})
	}

	if _, isList := toSlice(value); isList {
		return b.fail(core.InvalidArgument("operator %s on %q does not take a list", op, column))
	}
	// A NULL binding never compares equal; = nil and != nil mean IS [NOT] NULL.
	if value == nil {
		switch op {
		case "=":
			return b.push(predicate{kind: predNull, column: col, boolean: boolean})
		case "!=", "<>":
			return b.push(predicate{kind: predNotNull, column: col, boolean: boolean})
		}
		return b.fail(core.InvalidArgument("operator %s on %q cannot compare with nil", op, column))
	}
	return b.push(predicate{kind: predBasic, column: col, operator: op, value: value, boolean: boolean})
}

func (b *Builder) push(p predicate) *Builder {
	b.wheres = append(b.wheres, p)
	return b
}

// WhereIn adds "column IN (...)" with one binding per element of values.
func (b *Builder) WhereIn(column string, values interface{}) *Builder {
	return b.whereIn("AND", column, values, false)
}

// OrWhereIn is WhereIn joined with OR.
func (b *Builder) OrWhereIn(column string, values interface{}) *Builder {
	return b.whereIn("OR", column, values, false)
}

// WhereNotIn adds "column NOT IN (...)".
func (b *Builder) WhereNotIn(column string, values interface{}) *Builder {
	return b.whereIn("AND", column, values, true)
}

// OrWhereNotIn is WhereNotIn joined with OR.
func (b *Builder) OrWhereNotIn(column string, values interface{}) *Builder {
	return b.whereIn("OR", column, values, true)
}

func (b *Builder) whereIn(boolean, column string, values interface{}, negated bool) *Builder {
	col, ok := b.column(column)
	if !ok {
		return b
	}
	list, isList := toSlice(values)
	if !isList {
		return b.fail(core.InvalidArgument("whereIn on %q needs a list, got %T", column, values))
	}
	return b.push(predicate{kind: predIn, column: col, values: list, negated: negated, boolean: boolean})
}

// WhereBetween adds "column BETWEEN ? AND ?".
func (b *Builder) WhereBetween(column string, low, high interface{}) *Builder {
	col, ok := b.column(column)
	if !ok {
		return b
	}
	return b.push(predicate{kind: predBetween, column: col, values: []interface{}{low, high}, boolean: "AND"})
}

// WhereNotBetween adds "column NOT BETWEEN ? AND ?".
func (b *Builder) WhereNotBetween(column string, low, high interface{}) *Builder {
	col, ok := b.column(column)
	if !ok {
		return b
	}
	return b.push(predicate{kind: predBetween, column: col, values: []interface{}{low, high}, negated: true, boolean: "AND"})
}

// WhereNull adds "column IS NULL".
func (b *Builder) WhereNull(column string) *Builder {
	return b.whereNull("AND", column, predNull)
}

// OrWhereNull is WhereNull joined with OR.
func (b *Builder) OrWhereNull(column string) *Builder {
	return b.whereNull("OR", column, predNull)
}

// WhereNotNull adds "column IS NOT NULL".
func (b *Builder) WhereNotNull(column string) *Builder {
	return b.whereNull("AND", column, predNotNull)
}

// OrWhereNotNull is WhereNotNull joined with OR.
func (b *Builder) OrWhereNotNull(column string) *Builder {
	return b.whereNull("OR", column, predNotNull)
}

func (b *Builder) whereNull(boolean, column string, kind predicateKind) *Builder {
	col, ok := b.column(column)
	if !ok {
		return b
	}
	return b.push(predicate{kind: kind, column: col, boolean: boolean})
}

// WhereNested hands fn a fresh builder on the same table and adds whatever
// conditions it collected as one parenthesised group.
func (b *Builder) WhereNested(fn func(q *Builder)) *Builder {
	return b.whereNested("AND", fn)
}

// OrWhereNested is WhereNested joined with OR.
func (b *Builder) OrWhereNested(fn func(q *Builder)) *Builder {
	return b.whereNested("OR", fn)
}

func (b *Builder) whereNested(boolean string, fn func(q *Builder)) *Builder {
	if b.err != nil {
		return b
	}
	if fn == nil {
		return b.fail(core.InvalidArgument("nested where needs a callback"))
	}
	group := newBuilder(b.exec, b.table)
	fn(group)
	if group.err != nil {
		return b.fail(group.err)
	}
	if len(group.wheres) == 0 {
		return b
	}
	return b.push(predicate{kind: predNested, nested: group.wheres, boolean: boolean})
}
