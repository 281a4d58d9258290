package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventfeed/cli/pkg/output"
	"github.com/telhawk-systems/eventfeed/pkg/eventservice"
	"github.com/telhawk-systems/eventfeed/pkg/model"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll the channel once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ack, _ := cmd.Flags().GetBool("ack")
		ctx := cmd.Context()

		svc, _, err := newService(ctx, false)
		if err != nil {
			return err
		}
		batches, err := svc.Poll(ctx)
		if err != nil {
			return fmt.Errorf("poll failed: %w", err)
		}
		if batches == nil {
			batches = []model.EventBatch{}
		}

		records := 0
		for _, b := range batches {
			records += len(b.Records)
		}
		if ack && records > 0 {
			if err := svc.Ack(ctx); err != nil {
				return fmt.Errorf("ack failed: %w", err)
			}
		}

		return output.Print(outputFormat(cmd), batches, func() *output.Table {
			t := output.NewTable("Log Type", "Records")
			for _, b := range batches {
				t.AddRow(string(b.LogType), fmt.Sprint(len(b.Records)))
			}
			return t
		})
	},
}

func channelCommand(use, short, done string, call func(*eventservice.Service, *cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := newService(cmd.Context(), false)
			if err != nil {
				return err
			}
			if err := call(svc, cmd); err != nil {
				return fmt.Errorf("%s failed: %w", use, err)
			}
			output.Success("%s", done)
			return nil
		},
	}
}

var (
	ackCmd = channelCommand("ack", "Commit the last polled batch", "Batch acknowledged",
		func(s *eventservice.Service, cmd *cobra.Command) error { return s.Ack(cmd.Context()) })
	nackCmd = channelCommand("nack", "Ask the channel to redeliver the last batch", "Batch returned for redelivery",
		func(s *eventservice.Service, cmd *cobra.Command) error { return s.Nack(cmd.Context()) })
	flushCmd = channelCommand("flush", "Drop the channel backlog", "Channel flushed",
		func(s *eventservice.Service, cmd *cobra.Command) error { return s.Flush(cmd.Context()) })
)

func init() {
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(ackCmd)
	rootCmd.AddCommand(nackCmd)
	rootCmd.AddCommand(flushCmd)

	pollCmd.Flags().Bool("ack", false, "acknowledge a non-empty batch")
}
