package logging

import "log/slog"

// Common field names for consistent logging across the pipeline.
const (
	FieldService     = "service"
	FieldProjectID   = "project_id"
	FieldEventID     = "event_id"
	FieldDestination = "destination"
	FieldStage       = "stage"
	FieldAttempt     = "attempt"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldReason      = "reason"
	FieldCount       = "count"
	FieldBytes       = "bytes"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// ProjectID returns a slog attribute for the project identifier.
func ProjectID(id int64) slog.Attr {
	return slog.Int64(FieldProjectID, id)
}

// EventID returns a slog attribute for an event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// Destination returns a slog attribute for a batch destination (index name).
func Destination(dest string) slog.Attr {
	return slog.String(FieldDestination, dest)
}

// Stage returns a slog attribute for an enrichment stage name.
func Stage(name string) slog.Attr {
	return slog.String(FieldStage, name)
}

// Attempt returns a slog attribute for a dispatch attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// Reason returns a slog attribute for a rejection or failure reason.
func Reason(reason string) slog.Attr {
	return slog.String(FieldReason, reason)
}

// Count returns a slog attribute for an item count.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}

// Bytes returns a slog attribute for a byte size.
func Bytes(n int) slog.Attr {
	return slog.Int(FieldBytes, n)
}
