package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventfeed/cli/pkg/color"
	"github.com/telhawk-systems/eventfeed/cli/pkg/output"
	"github.com/telhawk-systems/eventfeed/common/messaging"
	natsclient "github.com/telhawk-systems/eventfeed/common/messaging/nats"
)

var subjectColor = color.New(color.FgMagenta)

var tailCmd = &cobra.Command{
	Use:   "tail [subject]",
	Short: "Print feed messages forwarded to NATS",
	Long:  "Subscribe to a feed subject (default feed.>) and print every message",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject := messaging.SubjectAll
		if len(args) == 1 {
			subject = args[0]
		}
		queue, _ := cmd.Flags().GetString("queue")
		natsURL, _ := cmd.Flags().GetString("nats-url")
		if natsURL == "" {
			natsURL = cfg.NATS.URL
		}

		ncfg := natsclient.DefaultConfig()
		ncfg.Name = "feedctl-tail"
		ncfg.URL = natsURL
		ncfg.Logger = logger
		client, err := natsclient.NewClient(ncfg)
		if err != nil {
			return err
		}
		defer client.Close()

		handler := func(ctx context.Context, msg *messaging.Message) error {
			_, err := fmt.Fprintf(output.Stdout, "%s %s\n", subjectColor.Sprint(msg.Subject), msg.Data)
			return err
		}

		sub, err := client.Subscribe(subject, queue, handler)
		if err != nil {
			return err
		}
		output.Info("Listening on %s", sub.Subject())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return client.Drain()
	},
}

func init() {
	rootCmd.AddCommand(tailCmd)

	tailCmd.Flags().String("nats-url", "", "NATS server (default: nats.url)")
	tailCmd.Flags().String("queue", "", "join a queue group, e.g. "+messaging.QueueFeedWorkers)
}
