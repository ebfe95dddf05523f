package query

import (
	"fmt"
	"strings"
	"time"
)

// ToRawSQL returns the compiled SELECT with bindings inlined as literals.
// For logs and debugging only; the output is never executed.
func (b *Builder) ToRawSQL() (string, error) {
	sqlText, bindings, err := b.ToSQL()
	if err != nil {
		return "", err
	}
	return interpolate(sqlText, bindings), nil
}

func interpolate(sqlText string, bindings []interface{}) string {
	var sb strings.Builder
	i := 0
	for _, r := range sqlText {
		if r == '?' && i < len(bindings) {
			sb.WriteString(literal(bindings[i]))
			i++
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func literal(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case string:
		return quoteString(x)
	case []byte:
		return quoteString(string(x))
	case time.Time:
		return quoteString(x.Format("2006-01-02 15:04:05"))
	case fmt.Stringer:
		return quoteString(x.String())
	default:
		return fmt.Sprint(x)
	}
}

var stringEscaper = strings.NewReplacer(`\`, `\\`, `'`, `''`)

func quoteString(s string) string {
	return "'" + stringEscaper.Replace(s) + "'"
}
