package core

import (
	"regexp"
	"strings"
)

// IdentifierKind selects the rule set ValidateIdentifier applies.
type IdentifierKind int

const (
	KindTable IdentifierKind = iota
	KindColumn
	KindOperator
	KindJoinType
	KindDirection
)

func (k IdentifierKind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindColumn:
		return "column"
	case KindOperator:
		return "operator"
	case KindJoinType:
		return "join type"
	case KindDirection:
		return "direction"
	default:
		return "identifier"
	}
}

var identifierPattern = regexp.MustCompile("^[a-zA-Z0-9_`.]+$")

var operators = map[string]bool{
	"=": true, "!=": true, "<>": true, "<": true, ">": true, "<=": true, ">=": true,
	"LIKE": true, "NOT LIKE": true,
	"IN": true, "NOT IN": true,
	"BETWEEN": true, "NOT BETWEEN": true,
}

var joinTypes = map[string]bool{"INNER": true, "LEFT": true, "RIGHT": true, "FULL": true}

// ValidateIdentifier checks a token against the allow-list for its kind and
// returns the normalized form. This is the only guard for text that ends up
// interpolated into SQL; values always travel as bindings.
func ValidateIdentifier(name string, kind IdentifierKind) (string, error) {
	switch kind {
	case KindTable, KindColumn:
		if kind == KindColumn && name == "*" {
			return name, nil
		}
		if !identifierPattern.MatchString(name) {
			return "", InvalidArgument("invalid %s name %q", kind, name)
		}
		return name, nil
	case KindOperator:
		op := normalizeKeyword(name)
		if !operators[op] {
			return "", InvalidArgument("invalid operator %q", name)
		}
		return op, nil
	case KindJoinType:
		jt := normalizeKeyword(name)
		if !joinTypes[jt] {
			return "", InvalidArgument("invalid join type %q", name)
		}
		return jt, nil
	case KindDirection:
		dir := normalizeKeyword(name)
		if dir == "" {
			return "ASC", nil
		}
		if dir != "ASC" && dir != "DESC" {
			return "", InvalidArgument("invalid order direction %q", name)
		}
		return dir, nil
	}
	return "", InvalidArgument("unknown identifier kind for %q", name)
}

// QuoteIdentifier backtick-quotes each dot-separated segment of a validated
// identifier. Segments that are already quoted and the bare * are kept.
func QuoteIdentifier(name string) string {
	if name == "*" {
		return name
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "*" || (len(p) >= 2 && strings.HasPrefix(p, "`") && strings.HasSuffix(p, "`")) {
			continue
		}
		parts[i] = "`" + strings.Trim(p, "`") + "`"
	}
	return strings.Join(parts, ".")
}

func normalizeKeyword(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
