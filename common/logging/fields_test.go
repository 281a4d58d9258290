package logging

import (
	"errors"
	"testing"
	"time"
)

func TestFieldHelpers(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		gotKey  string
		gotVal  string
		wantVal string
	}{
		{"service", FieldService, Service("feedctl").Key, Service("feedctl").Value.String(), "feedctl"},
		{"method", FieldMethod, Method("POST").Key, Method("POST").Value.String(), "POST"},
		{"url", FieldURL, URL("https://x/poll").Key, URL("https://x/poll").Value.String(), "https://x/poll"},
		{"topic", FieldTopic, Topic("event").Key, Topic("event").Value.String(), "event"},
		{"source", FieldSource, Source("EventService").Key, Source("EventService").Value.String(), "EventService"},
		{"log type", FieldLogType, LogType("panw.traffic").Key, LogType("panw.traffic").Value.String(), "panw.traffic"},
		{"session id", FieldSessionID, SessionID("x1").Key, SessionID("x1").Value.String(), "x1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.gotKey != tt.key {
				t.Errorf("expected key %q, got %q", tt.key, tt.gotKey)
			}
			if tt.gotVal != tt.wantVal {
				t.Errorf("expected value %q, got %q", tt.wantVal, tt.gotVal)
			}
		})
	}
}

func TestNumericFields(t *testing.T) {
	if attr := Status(502); attr.Key != FieldStatus || attr.Value.Int64() != 502 {
		t.Errorf("unexpected status attr %v", attr)
	}
	if attr := Attempt(3); attr.Key != FieldAttempt || attr.Value.Int64() != 3 {
		t.Errorf("unexpected attempt attr %v", attr)
	}
	if attr := Count(7); attr.Key != FieldCount || attr.Value.Int64() != 7 {
		t.Errorf("unexpected count attr %v", attr)
	}
	if attr := Duration(1500 * time.Millisecond); attr.Value.Int64() != 1500 {
		t.Errorf("expected 1500ms, got %d", attr.Value.Int64())
	}
}

func TestError(t *testing.T) {
	attr := Error(errors.New("boom"))
	if attr.Key != FieldError {
		t.Errorf("expected key %q, got %q", FieldError, attr.Key)
	}
	if attr.Value.String() != "boom" {
		t.Errorf("expected value 'boom', got %q", attr.Value.String())
	}
	if Error(nil).Value.String() != "" {
		t.Error("expected empty value for nil error")
	}
}
