package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/telhawk-systems/eventfeed/common/logging"
	"github.com/telhawk-systems/eventfeed/common/messaging"
	"github.com/telhawk-systems/eventfeed/internal/metrics"
	"github.com/telhawk-systems/eventfeed/pkg/dispatcher"
)

// NATSForwarder republishes feed messages on NATS subjects:
// events on feed.events.{logType}, captures on feed.pcap and correlation
// summaries on feed.correlation.
type NATSForwarder struct {
	pub    messaging.Publisher
	logger *slog.Logger
}

// NewNATSForwarder returns a forwarder publishing through pub.
func NewNATSForwarder(pub messaging.Publisher, logger *slog.Logger) *NATSForwarder {
	return &NATSForwarder{pub: pub, logger: logging.OrDiscard(logger)}
}

// Handle implements dispatcher.Handler.
func (f *NATSForwarder) Handle(ctx context.Context, topic dispatcher.Topic, msg *dispatcher.Message) error {
	header := messaging.FeedHeader(msg.Source, string(msg.LogType), logging.RequestIDFromContext(ctx))

	var errs []error
	publish := func(subject string, data []byte) {
		if err := f.pub.PublishMsg(ctx, &messaging.Message{Subject: subject, Data: data, Header: header}); err != nil {
			errs = append(errs, err)
			metrics.SinkRecords.WithLabelValues("nats", statusFailed).Inc()
			return
		}
		metrics.SinkRecords.WithLabelValues("nats", statusWritten).Inc()
	}

	switch topic {
	case dispatcher.TopicEvent:
		subject := messaging.EventSubject(string(msg.LogType))
		for _, r := range msg.Events {
			data, err := json.Marshal(r)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			publish(subject, data)
		}
	case dispatcher.TopicPcap:
		publish(messaging.SubjectPcap, msg.Pcap)
	case dispatcher.TopicCorrelation:
		for _, c := range msg.Correlations {
			data, err := json.Marshal(c)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			publish(messaging.SubjectCorrelation, data)
		}
	}

	if len(errs) > 0 {
		f.logger.Warn("nats forward incomplete", logging.Topic(string(topic)), logging.Count(len(errs)))
		return fmt.Errorf("nats forward: %w", errors.Join(errs...))
	}
	return nil
}
