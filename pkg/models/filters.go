package models

import (
	"time"

	"github.com/perch-obs/perch/internal/search"
)

// Pagination bounds shared by all engines.
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// LogFilter selects log entries. Search may carry inline key:value filters;
// call Resolve before building SQL.
type LogFilter struct {
	Level        string
	AppName      string
	SessionID    string
	TraceID      string
	SpanID       string
	ErrorGroupID string
	Search       string
	StartDate    *time.Time
	EndDate      *time.Time
	Limit        int
	Offset       int
}

// ResolvedLogFilter is a LogFilter with the search string parsed and
// pagination clamped. Explicit structured parameters take precedence over
// inline filters extracted from the search text.
type ResolvedLogFilter struct {
	LogFilter
	Meta     []search.MetaFilter
	FreeText string
}

// Resolve parses the search string and merges inline filters into the
// structured ones, keeping any explicitly supplied value.
func (f LogFilter) Resolve() ResolvedLogFilter {
	r := ResolvedLogFilter{LogFilter: f}
	r.Limit, r.Offset = clampPage(f.Limit, f.Offset)
	r.Search = ""

	if f.Search == "" {
		return r
	}
	q := search.Parse(f.Search)
	if r.Level == "" {
		r.Level = q.Level
	}
	if r.AppName == "" {
		r.AppName = q.App
	}
	if r.SessionID == "" {
		r.SessionID = q.Session
	}
	r.Meta = q.Meta
	r.FreeText = q.FreeText
	return r
}

// Error-group sort keys.
const (
	SortLastSeen        = "lastSeen"
	SortFirstSeen       = "firstSeen"
	SortOccurrenceCount = "occurrenceCount"
)

// ErrorGroupFilter selects and orders error groups.
type ErrorGroupFilter struct {
	AppName   string
	Status    string
	Search    string // message substring
	SortBy    string // lastSeen (default), firstSeen, occurrenceCount
	SortOrder string // desc (default) or asc
	Limit     int
	Offset    int
}

// SortColumn maps the filter's sort key to its column name, defaulting to
// last_seen. The whitelist keeps user input out of the ORDER BY clause.
func (f ErrorGroupFilter) SortColumn() string {
	switch f.SortBy {
	case SortFirstSeen:
		return "first_seen"
	case SortOccurrenceCount:
		return "occurrence_count"
	default:
		return "last_seen"
	}
}

// SortDirection returns "ASC" or "DESC" (the default).
func (f ErrorGroupFilter) SortDirection() string {
	if f.SortOrder == "asc" {
		return "ASC"
	}
	return "DESC"
}

// Normalize clamps pagination.
func (f ErrorGroupFilter) Normalize() ErrorGroupFilter {
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	return f
}

// TraceFilter selects traces.
type TraceFilter struct {
	AppName       string
	SessionID     string
	Status        string
	Name          string // substring
	MinDurationMs *int64
	MaxDurationMs *int64
	StartDate     *time.Time
	EndDate       *time.Time
	Limit         int
	Offset        int
}

// Normalize clamps pagination.
func (f TraceFilter) Normalize() TraceFilter {
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	return f
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
