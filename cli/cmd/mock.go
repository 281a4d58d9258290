package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventfeed/cli/pkg/output"
	"github.com/telhawk-systems/eventfeed/common/logging"
	"github.com/telhawk-systems/eventfeed/internal/mockfeed"
	"github.com/telhawk-systems/eventfeed/pkg/eventservice"
)

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Run a local identity provider and event-service channel",
	Long: `mock-server serves the token, revoke and event-service endpoints on
one listener and generates traffic and threat records. Point
api.entry_point and the credential token/revoke URLs at it for local runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		interval, _ := cmd.Flags().GetDuration("interval")
		pairs, _ := cmd.Flags().GetInt("pairs")
		requireAck, _ := cmd.Flags().GetBool("require-ack")
		channel, _ := cmd.Flags().GetString("channel")

		srv := mockfeed.New(mockfeed.Config{
			ClientID:      cfg.Credentials.ClientID,
			ClientSecret:  cfg.Credentials.ClientSecret,
			RotateRefresh: true,
			RequireAck:    requireAck,
			Logger:        logger,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if pairs > 0 {
			go srv.Run(ctx, channel, interval, pairs)
		}

		httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
		errCh := make(chan error, 1)
		go func() { errCh <- httpSrv.ListenAndServe() }()

		output.Success("Mock feed listening on %s", addr)
		output.Info("client_id:     %s", srv.ClientID())
		output.Info("client_secret: %s", srv.ClientSecret())
		output.Info("refresh_token: %s", srv.IssueRefreshToken())
		output.Info("token_url:     http://%s%s", addr, mockfeed.TokenPath)
		output.Info("revoke_url:    http://%s%s", addr, mockfeed.RevokePath)

		select {
		case err := <-errCh:
			if err != http.ErrServerClosed {
				return err
			}
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("mock server forced to shutdown", logging.Error(err))
		}
		c := srv.Counters()
		output.Info("tokens: %d, polls: %d, acks: %d, nacks: %d", c.TokensIssued, c.Polls, c.Acks, c.Nacks)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mockServerCmd)

	mockServerCmd.Flags().String("addr", "127.0.0.1:8765", "listen address")
	mockServerCmd.Flags().Duration("interval", time.Second, "traffic generation interval")
	mockServerCmd.Flags().Int("pairs", 5, "traffic session pairs generated per interval (0 disables)")
	mockServerCmd.Flags().Bool("require-ack", false, "redeliver batches until acknowledged")
	mockServerCmd.Flags().String("channel", eventservice.DefaultChannelID, "channel receiving generated traffic")
}
