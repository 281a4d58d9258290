package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventfeed/cli/pkg/output"
	"github.com/telhawk-systems/eventfeed/common/logging"
	"github.com/telhawk-systems/eventfeed/common/messaging"
	natsclient "github.com/telhawk-systems/eventfeed/common/messaging/nats"
	"github.com/telhawk-systems/eventfeed/internal/sinks"
	"github.com/telhawk-systems/eventfeed/internal/statsreport"
	"github.com/telhawk-systems/eventfeed/pkg/dispatcher"
	"github.com/telhawk-systems/eventfeed/pkg/eventservice"
)

type streamSinks struct {
	handlers eventservice.Handlers
	closers  []func()
}

func (s *streamSinks) add(h dispatcher.Handler, topics ...dispatcher.Topic) {
	for _, topic := range topics {
		switch topic {
		case dispatcher.TopicEvent:
			s.handlers.Event = chain(s.handlers.Event, h)
		case dispatcher.TopicPcap:
			s.handlers.Pcap = chain(s.handlers.Pcap, h)
		case dispatcher.TopicCorrelation:
			s.handlers.Correlation = chain(s.handlers.Correlation, h)
		}
	}
}

func (s *streamSinks) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// chain runs every handler and joins their errors.
func chain(prev, next dispatcher.Handler) dispatcher.Handler {
	if prev == nil {
		return next
	}
	return dispatcher.Func(func(ctx context.Context, topic dispatcher.Topic, msg *dispatcher.Message) error {
		return errors.Join(prev.Handle(ctx, topic, msg), next.Handle(ctx, topic, msg))
	})
}

func buildSinks(cmd *cobra.Command) (*streamSinks, error) {
	s := &streamSinks{}
	flag := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return v
	}

	if jsonl, _ := cmd.Flags().GetBool("jsonl"); jsonl {
		s.add(sinks.NewJSONLines(output.Stdout), dispatcher.TopicEvent, dispatcher.TopicCorrelation)
	}

	if dir := flag("pcap-dir"); dir != "" {
		pd, err := sinks.NewPcapDir(dir)
		if err != nil {
			return nil, err
		}
		s.add(pd, dispatcher.TopicPcap)
	}

	natsURL := flag("nats-url")
	if natsURL == "" && cfg.NATS.Enabled {
		natsURL = cfg.NATS.URL
	}
	if natsURL != "" {
		ncfg := natsclient.DefaultConfig()
		ncfg.URL = natsURL
		ncfg.MaxReconnects = cfg.NATS.MaxReconnects
		ncfg.ReconnectWait = cfg.NATS.ReconnectWait
		ncfg.Logger = logger

		var pub messaging.Publisher
		if js, _ := cmd.Flags().GetBool("jetstream"); js {
			client, err := natsclient.NewJetStreamClient(ncfg)
			if err != nil {
				s.close()
				return nil, err
			}
			if _, err := client.CreateOrUpdateStream(cmd.Context(), natsclient.FeedStream); err != nil {
				client.Close()
				s.close()
				return nil, err
			}
			pub = client
		} else {
			client, err := natsclient.NewClient(ncfg)
			if err != nil {
				s.close()
				return nil, err
			}
			pub = client
		}
		s.closers = append(s.closers, func() { _ = pub.Close() })
		s.add(sinks.NewNATSForwarder(pub, logger), dispatcher.Topics...)
	}

	osURL := flag("opensearch-url")
	if osURL == "" && cfg.OpenSearch.Enabled {
		osURL = cfg.OpenSearch.URL
	}
	if osURL != "" {
		idx, err := sinks.NewOpenSearchIndexer(sinks.OpenSearchConfig{
			URL:           osURL,
			Username:      cfg.OpenSearch.Username,
			Password:      cfg.OpenSearch.Password,
			TLSSkipVerify: cfg.OpenSearch.Insecure,
			IndexPrefix:   cfg.OpenSearch.IndexPrefix,
			FlushInterval: cfg.OpenSearch.FlushInterval,
			Logger:        logger,
		})
		if err != nil {
			s.close()
			return nil, err
		}
		s.add(idx, dispatcher.TopicEvent, dispatcher.TopicCorrelation)
	}

	if s.handlers.Event == nil && s.handlers.Pcap == nil && s.handlers.Correlation == nil {
		s.close()
		return nil, fmt.Errorf("no sink selected: use --jsonl, --pcap-dir, --nats-url or --opensearch-url")
	}
	return s, nil
}

// startReporter returns a stop function that flushes a final snapshot and
// closes the Redis client, or nil when no Redis URL is configured.
func startReporter(cmd *cobra.Command, svc *eventservice.Service) (func(), error) {
	redisURL, _ := cmd.Flags().GetString("redis-url")
	if redisURL == "" && cfg.Redis.Enabled {
		redisURL = cfg.Redis.URL
	}
	if redisURL == "" {
		return nil, nil
	}

	instance := cfg.Redis.InstanceID
	if instance == "" {
		if host, err := os.Hostname(); err == nil {
			instance = host
		} else {
			instance = uuid.New().String()
		}
	}
	client, err := statsreport.NewClient(redisURL, instance)
	if err != nil {
		return nil, err
	}

	source := func() statsreport.Snapshot {
		st := svc.Stats()
		snap := statsreport.Snapshot{
			State:              st.State,
			APITransactions:    st.APITransactions,
			EventsEmitted:      st.EventsEmitted,
			PcapsEmitted:       st.PcapsEmitted,
			CorrelationEmitted: st.CorrelationEmitted,
			PollCycles:         st.PollCycles,
			PollFailures:       st.PollFailures,
		}
		if st.Correlation != nil {
			snap.CorrelationBuffer = int64(st.Correlation.BufferSize)
		}
		return snap
	}
	reporter := statsreport.NewReporter(client, source, cfg.Redis.FlushInterval, cfg.Redis.TTL, logger)
	return func() {
		reporter.Stop()
		_ = client.Close()
	}, nil
}

func startMetrics(cmd *cobra.Command) *http.Server {
	addr, _ := cmd.Flags().GetString("metrics-addr")
	if addr == "" && cfg.Metrics.Enabled {
		addr = cfg.Metrics.Addr
	}
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", logging.Error(err))
		}
	}()
	return srv
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Auto-poll the channel into sinks until interrupted",
	Example: `  feedctl stream --jsonl --correlate
  feedctl stream --table panw.traffic --nats-url nats://localhost:4222 --jetstream
  feedctl stream --opensearch-url https://localhost:9200 --redis-url redis://localhost:6379/0`,
	RunE: func(cmd *cobra.Command, args []string) error {
		correlate, _ := cmd.Flags().GetBool("correlate")
		ack, _ := cmd.Flags().GetBool("ack")
		if ack {
			cfg.EventService.Ack = true
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, _, err := newService(ctx, correlate)
		if err != nil {
			return err
		}

		out, err := buildSinks(cmd)
		if err != nil {
			return err
		}
		defer out.close()

		stopReporter, err := startReporter(cmd, svc)
		if err != nil {
			return err
		}
		if stopReporter != nil {
			defer stopReporter()
		}
		if metricsSrv := startMetrics(cmd); metricsSrv != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}()
		}

		fc := eventservice.FilterConfig{Options: eventservice.FilterOptions{Handlers: out.handlers}}
		if hasFilterFlags(cmd) {
			f, err := loadFilter(cmd)
			if err != nil {
				return err
			}
			fc.Filter = f
			if err := svc.SetFilters(ctx, fc); err != nil {
				return fmt.Errorf("failed to set filters: %w", err)
			}
		} else {
			// Keep the channel filter; only subscribe and start polling.
			h := out.handlers
			if h.Event != nil {
				svc.Session().Subscribe(dispatcher.TopicEvent, h.Event)
			}
			if h.Pcap != nil {
				svc.Session().Subscribe(dispatcher.TopicPcap, h.Pcap)
			}
			if h.Correlation != nil {
				svc.Session().Subscribe(dispatcher.TopicCorrelation, h.Correlation)
			}
			svc.Resume(ctx)
		}
		logger.Info("streaming", logging.URL(svc.Session().Transport().BaseURL()), "correlation", svc.Session().CorrelationEnabled())

		<-ctx.Done()
		logger.Info("shutting down stream")

		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		svc.Close(closeCtx)

		st := svc.Stats()
		output.Info("api transactions: %d, events: %d, pcaps: %d, correlations: %d",
			st.APITransactions, st.EventsEmitted, st.PcapsEmitted, st.CorrelationEmitted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(streamCmd)

	addFilterFlags(streamCmd)
	streamCmd.Flags().Bool("correlate", false, "enable L2/L3 session correlation")
	streamCmd.Flags().Bool("ack", false, "acknowledge every non-empty batch after dispatch")
	streamCmd.Flags().Bool("jsonl", false, "write events and correlations to stdout as JSON lines")
	streamCmd.Flags().String("pcap-dir", "", "write packet captures under this directory")
	streamCmd.Flags().String("nats-url", "", "forward to NATS (default: nats.url when nats.enabled)")
	streamCmd.Flags().Bool("jetstream", false, "publish into the FEED JetStream stream")
	streamCmd.Flags().String("opensearch-url", "", "bulk-index into OpenSearch (default: opensearch.url when opensearch.enabled)")
	streamCmd.Flags().String("redis-url", "", "report stats to Redis (default: redis.url when redis.enabled)")
	streamCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
}
