package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MaskedMetricSentinel is substituted for latency/total_cost when the
// trace-list field mask excludes "metrics". Fixed by spec (Open
// Question #2): not a configurable value.
const MaskedMetricSentinel = -1.0

// Trace is the persistent, upsert-keyed-by-id unit of work composed of
// observations. See spec.md §3.
type Trace struct {
	ID          uuid.UUID       `json:"id"`
	ProjectID   string          `json:"projectId"`
	Environment string          `json:"environment"`
	Timestamp   time.Time       `json:"timestamp"`
	Name        *string         `json:"name,omitempty"`
	SessionID   *string         `json:"sessionId,omitempty"`
	UserID      *string         `json:"userId,omitempty"`
	Release     *string         `json:"release,omitempty"`
	Version     *string         `json:"version,omitempty"`
	Tags        []string        `json:"tags"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Public      bool            `json:"public"`
	ExternalID  *string         `json:"externalId,omitempty"`
	Bookmarked  bool            `json:"bookmarked"`
	Latency     *float64        `json:"latency,omitempty"`
	TotalCost   *float64        `json:"totalCost,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// TraceListRow is the shape the trace-list query (spec.md §4.6) projects
// onto the wire, including the always-present HTML path and the
// field-mask-governed fields. The trace-detail query (spec.md §4.8)
// returns a TraceDetail instead.
type TraceListRow struct {
	ID           uuid.UUID       `json:"id"`
	ProjectID    string          `json:"projectId"`
	Environment  string          `json:"environment"`
	Timestamp    time.Time       `json:"timestamp"`
	Name         *string         `json:"name,omitempty"`
	SessionID    *string         `json:"sessionId,omitempty"`
	UserID       *string         `json:"userId,omitempty"`
	Release      *string         `json:"release,omitempty"`
	Version      *string         `json:"version,omitempty"`
	Tags         []string        `json:"tags"`
	Public       bool            `json:"public"`
	ExternalID   *string         `json:"externalId,omitempty"`
	Bookmarked   bool            `json:"bookmarked"`
	Latency      float64         `json:"latency"`
	TotalCost    float64         `json:"totalCost"`
	HTMLPath     string          `json:"htmlPath"`
	Observations []string        `json:"observations"`
	Scores       []string        `json:"scores"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
}

// FieldMask controls which optional sub-structures a trace-list response
// includes, per the `fields` query parameter of spec.md §4.6.
type FieldMask struct {
	IO           bool
	Scores       bool
	Observations bool
	Metrics      bool
}

// ParseFieldMask parses the comma-separated `fields` query value. An
// empty string means all bits off (nothing beyond the always-present
// columns is included).
func ParseFieldMask(raw string) FieldMask {
	var m FieldMask
	if raw == "" {
		return m
	}
	for _, part := range splitComma(raw) {
		switch part {
		case "io":
			m.IO = true
		case "scores":
			m.Scores = true
		case "observations":
			m.Observations = true
		case "metrics":
			m.Metrics = true
		}
	}
	return m
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// TraceFilter is the composable filter DSL of spec.md §4.6/§4.7.
type TraceFilter struct {
	ProjectID   string
	UserID      *string
	Name        *string
	SessionID   *string
	FromTime    *time.Time
	ToTime      *time.Time
	Tags        []string
	Version     *string
	Release     *string
	Environment []string
}

// OrderBy is a single validated `order_by` clause.
type OrderBy struct {
	Column    string
	Direction string // "asc" | "desc"
}

// traceOrderColumns whitelists `order_by` values and the SQL column they
// map to, plus each column's default direction when `.dir` is absent or
// invalid. Any value outside this map is a BadRequest (spec.md §4.6).
var traceOrderColumns = map[string]struct {
	sqlColumn string
	defaultDir string
}{
	"id":             {"id", "desc"},
	"timestamp":      {"timestamp", "desc"},
	"name":           {"name", "asc"},
	"userId":         {"user_id", "asc"},
	"user_id":        {"user_id", "asc"},
	"release":        {"release", "asc"},
	"version":        {"version", "asc"},
	"public":         {"public", "desc"},
	"bookmarked":     {"bookmarked", "desc"},
	"sessionId":      {"session_id", "asc"},
	"session_id":     {"session_id", "asc"},
	"latency":        {"latency", "desc"},
	"totalCost":      {"total_cost", "desc"},
	"total_cost":     {"total_cost", "desc"},
}

// ParseOrderBy validates an "<col>[.asc|.desc]" order_by value against
// the spec.md §4.6 whitelist. An unrecognized column is an error; an
// invalid direction silently falls back to the column's default.
func ParseOrderBy(raw string) (OrderBy, bool) {
	if raw == "" {
		return OrderBy{}, true
	}
	col, dir := raw, ""
	for i := 0; i < len(raw); i++ {
		if raw[i] == '.' {
			col, dir = raw[:i], raw[i+1:]
			break
		}
	}
	spec, ok := traceOrderColumns[col]
	if !ok {
		return OrderBy{}, false
	}
	if dir != "asc" && dir != "desc" {
		dir = spec.defaultDir
	}
	return OrderBy{Column: spec.sqlColumn, Direction: dir}, true
}
