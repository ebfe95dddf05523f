package core

import (
	"fmt"
	"sort"
	"strings"
)

// SQLParser rewrites named parameters, written {name} or :name, into
// positional ? placeholders. Text inside quoted literals and quoted
// identifiers is copied untouched, and a double colon (a postgres cast) is
// not a parameter.
type SQLParser struct{}

func NewSQLParser() *SQLParser {
	return &SQLParser{}
}

// ParseResult is the rewritten SQL plus one name per placeholder, in order.
type ParseResult struct {
	SQL        string
	ParamNames []string
}

func isParamChar(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// nameAt returns the parameter name starting at s[i], or "" when s[i] does
// not start one.
func nameAt(s string, i int) string {
	j := i
	for j < len(s) && isParamChar(s[j]) {
		j++
	}
	return s[i:j]
}

func (p *SQLParser) Parse(sqlText string) *ParseResult {
	var sb strings.Builder
	sb.Grow(len(sqlText))
	res := &ParseResult{ParamNames: []string{}}

	var quote byte
	for i := 0; i < len(sqlText); i++ {
		c := sqlText[i]

		if quote != 0 {
			sb.WriteByte(c)
			if c == '\\' && quote != '`' && i+1 < len(sqlText) {
				i++
				sb.WriteByte(sqlText[i])
			} else if c == quote {
				quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"', '`':
			quote = c
		case '{':
			name := nameAt(sqlText, i+1)
			end := i + 1 + len(name)
			if name != "" && end < len(sqlText) && sqlText[end] == '}' {
				res.ParamNames = append(res.ParamNames, name)
				sb.WriteByte('?')
				i = end
				continue
			}
		case ':':
			if i+1 < len(sqlText) && sqlText[i+1] == ':' {
				sb.WriteString("::")
				i++
				continue
			}
			if name := nameAt(sqlText, i+1); name != "" {
				res.ParamNames = append(res.ParamNames, name)
				sb.WriteByte('?')
				i += len(name)
				continue
			}
		}
		sb.WriteByte(c)
	}

	res.SQL = sb.String()
	return res
}

// MapValues orders values by paramNames. A name may repeat; every occurrence
// gets its own binding.
func (p *SQLParser) MapValues(paramNames []string, values map[string]interface{}) ([]interface{}, error) {
	args := make([]interface{}, 0, len(paramNames))
	var missing []string
	seen := make(map[string]bool)

	for _, name := range paramNames {
		v, ok := values[name]
		if !ok {
			if !seen[name] {
				missing = append(missing, name)
				seen[name] = true
			}
			continue
		}
		args = append(args, v)
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, InvalidArgument("missing parameters: %s", strings.Join(missing, ", "))
	}
	return args, nil
}

// Bind parses sqlText and maps params in one step.
func (p *SQLParser) Bind(sqlText string, params map[string]interface{}) (string, []interface{}, error) {
	parsed := p.Parse(sqlText)
	args, err := p.MapValues(parsed.ParamNames, params)
	if err != nil {
		return "", nil, fmt.Errorf("binding %q: %w", sqlText, err)
	}
	return parsed.SQL, args, nil
}
