package query

import (
	"regexp"
	"strings"
	"time"
)

var (
	slowTablePattern  = regexp.MustCompile("(?i)\\b(?:FROM|UPDATE|INTO)\\s+`?([a-zA-Z0-9_]+)`?")
	slowWherePattern  = regexp.MustCompile(`(?is)\bWHERE\b(.*?)(?:\bGROUP\s+BY\b|\bHAVING\b|\bORDER\s+BY\b|\bLIMIT\b|$)`)
	slowOrderPattern  = regexp.MustCompile(`(?is)\bORDER\s+BY\b(.*?)(?:\bLIMIT\b|$)`)
	slowColumnPattern = regexp.MustCompile("(?i)`?([a-zA-Z_][a-zA-Z0-9_]*)`?\\s*(?:=|!=|<>|<=|>=|<|>|\\bLIKE\\b|\\bIN\\b|\\bIS\\b|\\bBETWEEN\\b|\\bNOT\\b)")
	slowOrderColumn   = regexp.MustCompile("`?([a-zA-Z_][a-zA-Z0-9_]*)`?(?:\\s+(?:ASC|DESC))?\\s*$")
)

// analyzeSlowQuery logs an index suggestion for a statement that ran longer
// than the slow threshold. Nothing is executed.
func (e *Executor) analyzeSlowQuery(query string, d time.Duration) {
	suggestion := SuggestIndex(query)
	e.log.Warn("slow query", "duration_ms", d.Milliseconds(), "sql", query, "suggested_index", suggestion)
	if e.debug.Enabled() {
		e.debug.Warn("slow query", "duration_ms", d.Milliseconds(), "suggested_index", suggestion)
	}
}

// SuggestIndex derives a composite index from the columns a statement filters
// and sorts on: WHERE columns first, then ORDER BY columns, without repeats.
// It returns "" when no table or column can be identified.
func SuggestIndex(query string) string {
	tm := slowTablePattern.FindStringSubmatch(query)
	if tm == nil {
		return ""
	}
	table := tm[1]

	var columns []string
	seen := map[string]bool{}
	add := func(c string) {
		lc := strings.ToLower(c)
		if seen[lc] || isKeyword(lc) {
			return
		}
		seen[lc] = true
		columns = append(columns, c)
	}

	if wm := slowWherePattern.FindStringSubmatch(query); wm != nil {
		for _, m := range slowColumnPattern.FindAllStringSubmatch(wm[1], -1) {
			add(m[1])
		}
	}
	if om := slowOrderPattern.FindStringSubmatch(query); om != nil {
		for _, part := range strings.Split(om[1], ",") {
			if m := slowOrderColumn.FindStringSubmatch(strings.TrimSpace(part)); m != nil {
				add(m[1])
			}
		}
	}

	if len(columns) == 0 {
		return ""
	}
	return "CREATE INDEX idx_" + table + "_" + strings.Join(columns, "_") +
		" ON " + table + " (" + strings.Join(columns, ", ") + ")"
}

func isKeyword(s string) bool {
	switch s {
	case "and", "or", "not", "is", "null", "in", "like", "between", "asc", "desc":
		return true
	}
	return false
}
