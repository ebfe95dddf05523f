package logger

import (
	"log/slog"
	"sync"
	"time"
)

// QueryRecord is one statement seen by the Debugger.
type QueryRecord struct {
	SQL        string        `json:"sql"`
	Bindings   []interface{} `json:"bindings"`
	Duration   time.Duration `json:"duration_ns"`
	ExecutedAt time.Time     `json:"executed_at"`
}

// Debugger implements core.Debugger on slog and keeps the most recent
// queries for inspection.
type Debugger struct {
	log     *slog.Logger
	enabled bool

	mu     sync.Mutex
	recent []QueryRecord
	max    int
}

func NewDebugger(log *slog.Logger, enabled bool, keep int) *Debugger {
	if log == nil {
		log = slog.Default()
	}
	if keep <= 0 {
		keep = 100
	}
	return &Debugger{log: log, enabled: enabled, max: keep}
}

func (d *Debugger) Enabled() bool { return d.enabled }

func (d *Debugger) Query(sql string, bindings []interface{}, dur time.Duration) {
	if !d.enabled {
		return
	}
	d.log.Debug("query", "sql", sql, "bindings", bindings, "duration_ms", float64(dur.Microseconds())/1000)

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.recent) == d.max {
		copy(d.recent, d.recent[1:])
		d.recent = d.recent[:d.max-1]
	}
	d.recent = append(d.recent, QueryRecord{SQL: sql, Bindings: bindings, Duration: dur, ExecutedAt: time.Now()})
}

func (d *Debugger) Warn(msg string, args ...any) {
	if !d.enabled {
		return
	}
	d.log.Warn(msg, args...)
}

// Queries returns a copy of the recorded queries, oldest first.
func (d *Debugger) Queries() []QueryRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]QueryRecord, len(d.recent))
	copy(out, d.recent)
	return out
}
