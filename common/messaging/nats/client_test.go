package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/telhawk-systems/eventfeed/common/messaging"
)

var (
	_ messaging.Publisher = (*Client)(nil)
	_ messaging.Publisher = (*JetStreamClient)(nil)
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.URL != nats.DefaultURL {
		t.Errorf("expected URL %q, got %q", nats.DefaultURL, cfg.URL)
	}
	if cfg.MaxReconnects != -1 {
		t.Errorf("expected infinite reconnects, got %d", cfg.MaxReconnects)
	}
	if cfg.ReconnectWait != 2*time.Second {
		t.Errorf("expected 2s reconnect wait, got %v", cfg.ReconnectWait)
	}
}

func TestMessageConversion(t *testing.T) {
	in := &messaging.Message{
		Subject: "feed.events.panw.traffic",
		Data:    []byte(`{"a":1}`),
		Header:  messaging.FeedHeader("EventService", "panw.traffic", "req-1"),
	}

	out := feedMsg(natsMsg(in))
	if out.Subject != in.Subject {
		t.Errorf("expected subject %q, got %q", in.Subject, out.Subject)
	}
	if string(out.Data) != string(in.Data) {
		t.Errorf("expected data %q, got %q", in.Data, out.Data)
	}
	if len(out.Header) != len(in.Header) {
		t.Fatalf("expected %d headers, got %v", len(in.Header), out.Header)
	}
	for k, v := range in.Header {
		if out.Header[k] != v {
			t.Errorf("expected header %q=%q, got %q", k, v, out.Header[k])
		}
	}
}

func TestMessageConversion_NoHeaders(t *testing.T) {
	out := feedMsg(natsMsg(&messaging.Message{Subject: messaging.SubjectPcap, Data: []byte{0xd4}}))
	if out.Header != nil {
		t.Errorf("expected no headers, got %v", out.Header)
	}
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.Timeout = 100 * time.Millisecond
	cfg.MaxReconnects = 0

	if _, err := NewClient(cfg); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestFeedStream(t *testing.T) {
	if len(FeedStream.Subjects) != 1 || FeedStream.Subjects[0] != messaging.SubjectAll {
		t.Errorf("expected stream over %q, got %v", messaging.SubjectAll, FeedStream.Subjects)
	}
}
