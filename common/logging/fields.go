package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across components.
const (
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldURL       = "url"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldAttempt   = "attempt"
	FieldTopic     = "topic"
	FieldSource    = "source"
	FieldLogType   = "log_type"
	FieldSessionID = "session_id"
	FieldCount     = "count"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// URL returns a slog attribute for a request URL.
func URL(u string) slog.Attr {
	return slog.String(FieldURL, u)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Attempt returns a slog attribute for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Topic returns a slog attribute for a dispatcher topic.
func Topic(topic string) slog.Attr {
	return slog.String(FieldTopic, topic)
}

// Source returns a slog attribute for an event source.
func Source(source string) slog.Attr {
	return slog.String(FieldSource, source)
}

// LogType returns a slog attribute for an event log type.
func LogType(logType string) slog.Attr {
	return slog.String(FieldLogType, logType)
}

// SessionID returns a slog attribute for a correlation session key.
func SessionID(id string) slog.Attr {
	return slog.String(FieldSessionID, id)
}

// Count returns a slog attribute for a record count.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}
