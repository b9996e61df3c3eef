// Package models defines the shared data model for logs, error groups,
// traces, and spans.
package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Log levels accepted at ingest.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// ValidLevel reports whether level is one of the accepted log levels.
func ValidLevel(level string) bool {
	switch level {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// Error group review statuses.
const (
	StatusUnreviewed = "unreviewed"
	StatusReviewed   = "reviewed"
	StatusIgnored    = "ignored"
	StatusResolved   = "resolved"
)

// ValidGroupStatus reports whether status is a valid error-group status.
func ValidGroupStatus(status string) bool {
	switch status {
	case StatusUnreviewed, StatusReviewed, StatusIgnored, StatusResolved:
		return true
	}
	return false
}

// Trace/span lifecycle statuses.
const (
	TraceRunning   = "running"
	TraceCompleted = "completed"
	TraceError     = "error"
)

// Environment describes the runtime that emitted a log entry.
type Environment struct {
	Runtime  string `json:"runtime"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// LogEntry is a single ingested event. Entries are immutable once written;
// only retention cleanup removes them.
type LogEntry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Level        string         `json:"level"`
	Message      string         `json:"message"`
	AppName      string         `json:"appName"`
	SessionID    string         `json:"sessionId"`
	Environment  Environment    `json:"environment"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	StackTrace   string         `json:"stackTrace,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	ErrorGroupID *string        `json:"errorGroupId,omitempty"`
	TraceID      *string        `json:"traceId,omitempty"`
	SpanID       *string        `json:"spanId,omitempty"`
	ParentSpanID *string        `json:"parentSpanId,omitempty"`
}

// ErrorGroup aggregates error logs sharing a fingerprint. The message and
// stack-trace preview come from the group's first occurrence.
type ErrorGroup struct {
	ID                string    `json:"id"`
	Fingerprint       string    `json:"fingerprint"`
	Message           string    `json:"message"`
	AppName           string    `json:"appName"`
	FirstSeen         time.Time `json:"firstSeen"`
	LastSeen          time.Time `json:"lastSeen"`
	OccurrenceCount   int64     `json:"occurrenceCount"`
	Status            string    `json:"status"`
	StackTracePreview string    `json:"stackTracePreview,omitempty"`
}

// Trace is the root of a span tree for one logical operation.
type Trace struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	AppName    string         `json:"appName"`
	SessionID  string         `json:"sessionId"`
	StartTime  time.Time      `json:"startTime"`
	EndTime    *time.Time     `json:"endTime,omitempty"`
	DurationMs *int64         `json:"durationMs,omitempty"`
	Status     string         `json:"status"`
	SpanCount  int64          `json:"spanCount"`
	ErrorCount int64          `json:"errorCount"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Span is a nested operation within a trace. ParentSpanID is nil for the
// root span.
type Span struct {
	ID            string         `json:"id"`
	TraceID       string         `json:"traceId"`
	ParentSpanID  *string        `json:"parentSpanId,omitempty"`
	Name          string         `json:"name"`
	OperationType string         `json:"operationType,omitempty"`
	StartTime     time.Time      `json:"startTime"`
	EndTime       *time.Time     `json:"endTime,omitempty"`
	DurationMs    *int64         `json:"durationMs,omitempty"`
	Status        string         `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// RetentionSettings configures age-based cleanup. A retention-days value of
// zero or less disables cleanup for that category.
type RetentionSettings struct {
	LogsRetentionDays        int  `json:"logsRetentionDays"`
	TracesRetentionDays      int  `json:"tracesRetentionDays"`
	SpansRetentionDays       int  `json:"spansRetentionDays"`
	ErrorGroupsRetentionDays int  `json:"errorGroupsRetentionDays"`
	CleanupEnabled           bool `json:"cleanupEnabled"`
	CleanupIntervalHours     int  `json:"cleanupIntervalHours"`
}

// DefaultRetentionSettings returns the settings seeded into a fresh database.
func DefaultRetentionSettings() RetentionSettings {
	return RetentionSettings{
		LogsRetentionDays:        7,
		TracesRetentionDays:      14,
		SpansRetentionDays:       14,
		ErrorGroupsRetentionDays: 30,
		CleanupEnabled:           true,
		CleanupIntervalHours:     1,
	}
}

// RetentionSettingsPatch is a partial settings update; nil fields are left
// unchanged.
type RetentionSettingsPatch struct {
	LogsRetentionDays        *int  `json:"logsRetentionDays,omitempty"`
	TracesRetentionDays      *int  `json:"tracesRetentionDays,omitempty"`
	SpansRetentionDays       *int  `json:"spansRetentionDays,omitempty"`
	ErrorGroupsRetentionDays *int  `json:"errorGroupsRetentionDays,omitempty"`
	CleanupEnabled           *bool `json:"cleanupEnabled,omitempty"`
	CleanupIntervalHours     *int  `json:"cleanupIntervalHours,omitempty"`
}

// Apply returns s with the non-nil patch fields applied.
func (p RetentionSettingsPatch) Apply(s RetentionSettings) RetentionSettings {
	if p.LogsRetentionDays != nil {
		s.LogsRetentionDays = *p.LogsRetentionDays
	}
	if p.TracesRetentionDays != nil {
		s.TracesRetentionDays = *p.TracesRetentionDays
	}
	if p.SpansRetentionDays != nil {
		s.SpansRetentionDays = *p.SpansRetentionDays
	}
	if p.ErrorGroupsRetentionDays != nil {
		s.ErrorGroupsRetentionDays = *p.ErrorGroupsRetentionDays
	}
	if p.CleanupEnabled != nil {
		s.CleanupEnabled = *p.CleanupEnabled
	}
	if p.CleanupIntervalHours != nil {
		s.CleanupIntervalHours = *p.CleanupIntervalHours
	}
	return s
}

// CleanupResult reports a retention pass. Counts are per category so partial
// success is visible.
type CleanupResult struct {
	LogsDeleted        int64 `json:"logsDeleted"`
	TracesDeleted      int64 `json:"tracesDeleted"`
	SpansDeleted       int64 `json:"spansDeleted"`
	ErrorGroupsDeleted int64 `json:"errorGroupsDeleted"`
	OrphanSpansDeleted int64 `json:"orphanSpansDeleted"`
	DurationMs         int64 `json:"durationMs"`
}

// TotalDeleted returns the sum of all per-category counts.
func (r CleanupResult) TotalDeleted() int64 {
	return r.LogsDeleted + r.TracesDeleted + r.SpansDeleted +
		r.ErrorGroupsDeleted + r.OrphanSpansDeleted
}

// StorageStats summarizes the current contents of the store. SizeBytes is
// zero when the engine cannot compute it.
type StorageStats struct {
	LogCount        int64      `json:"logCount"`
	ErrorGroupCount int64      `json:"errorGroupCount"`
	TraceCount      int64      `json:"traceCount"`
	SpanCount       int64      `json:"spanCount"`
	SizeBytes       int64      `json:"sizeBytes"`
	OldestLog       *time.Time `json:"oldestLog,omitempty"`
	OldestTrace     *time.Time `json:"oldestTrace,omitempty"`
}

// TrendPoint is one day of error occurrences in a stats trend.
type TrendPoint struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// ErrorGroupStats summarizes error groups, optionally scoped to one app.
// RecentTrend covers the last 7 days and may be empty.
type ErrorGroupStats struct {
	Total       int64            `json:"total"`
	ByStatus    map[string]int64 `json:"byStatus"`
	RecentTrend []TrendPoint     `json:"recentTrend"`
}
