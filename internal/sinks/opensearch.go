package sinks

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/telhawk-systems/eventfeed/common/logging"
	"github.com/telhawk-systems/eventfeed/internal/metrics"
	"github.com/telhawk-systems/eventfeed/pkg/dispatcher"
)

// OpenSearchConfig holds the indexer connection settings.
type OpenSearchConfig struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	// IndexPrefix names indices {prefix}-{logType} and {prefix}-correlation.
	IndexPrefix   string
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// IndexStats counts bulk outcomes.
type IndexStats struct {
	Indexed int64 `json:"indexed"`
	Failed  int64 `json:"failed"`
}

// OpenSearchIndexer bulk-indexes events and correlation summaries.
type OpenSearchIndexer struct {
	client *opensearch.Client
	cfg    OpenSearchConfig
	logger *slog.Logger

	indexed atomic.Int64
	failed  atomic.Int64
}

// NewOpenSearchIndexer creates an indexer. It does not contact the cluster.
func NewOpenSearchIndexer(cfg OpenSearchConfig) (*OpenSearchIndexer, error) {
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = "eventfeed"
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &OpenSearchIndexer{
		client: client,
		cfg:    cfg,
		logger: logging.OrDiscard(cfg.Logger).With(logging.Service("opensearch")),
	}, nil
}

// IndexFor returns the index receiving events of logType.
func (s *OpenSearchIndexer) IndexFor(logType string) string {
	if logType == "" {
		logType = "unknown"
	}
	return s.cfg.IndexPrefix + "-" + strings.ToLower(strings.NewReplacer(" ", "_", "/", "_", "*", "_").Replace(logType))
}

// Handle implements dispatcher.Handler. Pcap messages are ignored.
func (s *OpenSearchIndexer) Handle(ctx context.Context, topic dispatcher.Topic, msg *dispatcher.Message) error {
	var (
		index string
		docs  []any
	)
	switch topic {
	case dispatcher.TopicEvent:
		index = s.IndexFor(string(msg.LogType))
		for _, r := range msg.Events {
			docs = append(docs, r)
		}
	case dispatcher.TopicCorrelation:
		index = s.cfg.IndexPrefix + "-correlation"
		for _, c := range msg.Correlations {
			docs = append(docs, c)
		}
	default:
		return nil
	}
	if len(docs) == 0 {
		return nil
	}

	res, err := s.bulk(ctx, index, docs)
	s.indexed.Add(res.Indexed)
	s.failed.Add(res.Failed)
	metrics.SinkRecords.WithLabelValues("opensearch", statusWritten).Add(float64(res.Indexed))
	metrics.SinkRecords.WithLabelValues("opensearch", statusFailed).Add(float64(res.Failed))

	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("opensearch: %d of %d documents failed in %s", res.Failed, len(docs), index)
	}
	return nil
}

func (s *OpenSearchIndexer) bulk(ctx context.Context, index string, docs []any) (IndexStats, error) {
	var indexed, failed atomic.Int64

	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:        s.client,
		Index:         index,
		NumWorkers:    1,
		FlushInterval: s.cfg.FlushInterval,
		OnError: func(ctx context.Context, err error) {
			s.logger.Error("bulk request failed", logging.Error(err))
		},
	})
	if err != nil {
		return IndexStats{Failed: int64(len(docs))}, fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			failed.Add(1)
			continue
		}

		err = bi.Add(ctx, opensearchutil.BulkIndexerItem{
			Action: "index",
			Body:   bytes.NewReader(data),
			OnSuccess: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem) {
				indexed.Add(1)
			},
			OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				failed.Add(1)
				if err == nil {
					err = fmt.Errorf("%s: %s", res.Error.Type, res.Error.Reason)
				}
				s.logger.Warn("document rejected", logging.Error(err))
			},
		})
		if err != nil {
			failed.Add(1)
		}
	}

	closeErr := bi.Close(ctx)
	stats := IndexStats{Indexed: indexed.Load(), Failed: failed.Load()}
	if closeErr != nil {
		return stats, fmt.Errorf("bulk indexer close: %w", closeErr)
	}
	return stats, nil
}

// Stats returns the cumulative bulk outcomes.
func (s *OpenSearchIndexer) Stats() IndexStats {
	return IndexStats{Indexed: s.indexed.Load(), Failed: s.failed.Load()}
}
