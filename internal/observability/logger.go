// Package observability provides structured logging shared by the
// Fuse, HComb, and HBee roles.
//
// Every stage of a query's lifecycle emits one JSON log line: which
// role handled it, which zone (if any), which stage, and how it
// turned out.
package observability

import (
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"
)

// QueryEvent is one stage transition in a query's lifecycle.
type QueryEvent struct {
	QueryID    string
	Role       string // "fuse", "hcomb", "hbee"
	Zone       int    // -1 when not zone-scoped
	Stage      string // "plan", "schedule", "scan", "push", "reduce", "idle-expiry"
	Outcome    string // "ok" or "error"
	DurationMS int64
	Error      string `json:",omitempty"`
}

// Validate reports whether the event has the fields every event must
// carry.
func (e QueryEvent) Validate() error {
	if e.QueryID == "" {
		return errMissingField("query_id")
	}
	if e.Role == "" {
		return errMissingField("role")
	}
	if e.Stage == "" {
		return errMissingField("stage")
	}
	if e.Outcome != "ok" && e.Outcome != "error" {
		return errMissingField("outcome")
	}
	return nil
}

type errMissingField string

func (e errMissingField) Error() string { return "missing required field: " + string(e) }

// QueryLogger records query lifecycle events.
type QueryLogger interface {
	LogEvent(e QueryEvent)
	Summary() LogSummary
}

// LogSummary aggregates outcomes seen so far, grouped by stage.
type LogSummary struct {
	OKByStage    map[string]int
	ErrorByStage map[string]int
	TopErrors    []string
}

type jsonLogLine struct {
	Timestamp string `json:"timestamp"`
	QueryID   string `json:"query_id"`
	Role      string `json:"role"`
	Zone      *int   `json:"zone,omitempty"`
	Stage     string `json:"stage"`
	Outcome   string `json:"outcome"`
	DurMS     int64  `json:"duration_ms"`
	Error     string `json:"error,omitempty"`
}

// JSONLogger writes one JSON line per event to w and keeps an
// in-memory tally for Summary().
type JSONLogger struct {
	mu        sync.Mutex
	w         io.Writer
	events    []QueryEvent
	errCounts map[string]int
}

// NewJSONLogger creates a logger writing to w.
func NewJSONLogger(w io.Writer) *JSONLogger {
	return &JSONLogger{w: w, errCounts: make(map[string]int)}
}

// LogEvent marshals e as a JSON line and writes it to the underlying
// writer; malformed events (missing required fields) are dropped
// rather than silently logged half-filled.
func (l *JSONLogger) LogEvent(e QueryEvent) {
	if err := e.Validate(); err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	if e.Outcome == "error" && e.Error != "" {
		l.errCounts[e.Error]++
	}

	line := jsonLogLine{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		QueryID:   e.QueryID,
		Role:      e.Role,
		Stage:     e.Stage,
		Outcome:   e.Outcome,
		DurMS:     e.DurationMS,
		Error:     e.Error,
	}
	if e.Zone >= 0 {
		line.Zone = &e.Zone
	}
	b, err := json.Marshal(line)
	if err != nil {
		return
	}
	b = append(b, '\n')
	_, _ = l.w.Write(b)
}

// Summary returns the counts accumulated so far.
func (l *JSONLogger) Summary() LogSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	ok := make(map[string]int)
	errd := make(map[string]int)
	for _, e := range l.events {
		if e.Outcome == "ok" {
			ok[e.Stage]++
		} else {
			errd[e.Stage]++
		}
	}

	type kv struct {
		k string
		v int
	}
	kvs := make([]kv, 0, len(l.errCounts))
	for k, v := range l.errCounts {
		kvs = append(kvs, kv{k, v})
	}
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].v > kvs[j].v })
	top := make([]string, 0, 5)
	for i := 0; i < len(kvs) && i < 5; i++ {
		top = append(top, kvs[i].k)
	}

	return LogSummary{OKByStage: ok, ErrorByStage: errd, TopErrors: top}
}

// NoopLogger discards every event.
type NoopLogger struct{}

func (NoopLogger) LogEvent(QueryEvent) {}
func (NoopLogger) Summary() LogSummary {
	return LogSummary{OKByStage: map[string]int{}, ErrorByStage: map[string]int{}}
}
