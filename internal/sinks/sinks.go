// Package sinks holds dispatcher handlers that move feed records out of the
// process: JSON lines, pcap files, NATS subjects and OpenSearch indices.
package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/telhawk-systems/eventfeed/internal/metrics"
	"github.com/telhawk-systems/eventfeed/pkg/dispatcher"
)

const (
	statusWritten = "written"
	statusFailed  = "failed"
)

// JSONLines writes every event and correlation summary as one JSON
// document per line. Pcap messages are ignored.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLines returns a JSONLines sink writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

// Handle implements dispatcher.Handler.
func (s *JSONLines) Handle(ctx context.Context, topic dispatcher.Topic, msg *dispatcher.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	var err error
	switch topic {
	case dispatcher.TopicEvent:
		for _, r := range msg.Events {
			if err = s.enc.Encode(r); err != nil {
				break
			}
			n++
		}
	case dispatcher.TopicCorrelation:
		for _, c := range msg.Correlations {
			if err = s.enc.Encode(c); err != nil {
				break
			}
			n++
		}
	}

	metrics.SinkRecords.WithLabelValues("jsonl", statusWritten).Add(float64(n))
	if err != nil {
		metrics.SinkRecords.WithLabelValues("jsonl", statusFailed).Inc()
		return fmt.Errorf("jsonl: %w", err)
	}
	return nil
}

// PcapDir writes each pcap message to its own file under a directory.
type PcapDir struct {
	dir string
	seq atomic.Int64
}

// NewPcapDir creates dir if needed.
func NewPcapDir(dir string) (*PcapDir, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("pcap dir: %w", err)
	}
	return &PcapDir{dir: dir}, nil
}

// Handle implements dispatcher.Handler.
func (s *PcapDir) Handle(ctx context.Context, topic dispatcher.Topic, msg *dispatcher.Message) error {
	if topic != dispatcher.TopicPcap || len(msg.Pcap) == 0 {
		return nil
	}

	name := fmt.Sprintf("%s-%06d.pcap", msg.LogType, s.seq.Add(1))
	if err := os.WriteFile(filepath.Join(s.dir, name), msg.Pcap, 0o640); err != nil {
		metrics.SinkRecords.WithLabelValues("pcap", statusFailed).Inc()
		return fmt.Errorf("pcap dir: %w", err)
	}
	metrics.SinkRecords.WithLabelValues("pcap", statusWritten).Inc()
	return nil
}

// Written returns the number of files written.
func (s *PcapDir) Written() int64 {
	return s.seq.Load()
}
