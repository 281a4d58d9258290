package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/eventfeed/cli/pkg/output"
	"github.com/telhawk-systems/eventfeed/pkg/eventservice"
	"github.com/telhawk-systems/eventfeed/pkg/model"
)

var filtersCmd = &cobra.Command{
	Use:   "filters",
	Short: "Channel filter management",
}

var filtersGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the channel filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := newService(cmd.Context(), false)
		if err != nil {
			return err
		}
		f, err := svc.GetFilters(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get filters: %w", err)
		}
		return output.Print(outputFormat(cmd), f, func() *output.Table {
			t := output.NewTable("Table", "Filter", "Timeout", "Batch Size")
			for _, entry := range f.Filters {
				for table, tf := range entry {
					t.AddRow(string(table), tf.Filter, fmt.Sprint(tf.Timeout), fmt.Sprint(tf.BatchSize))
				}
			}
			return t
		})
	},
}

func hasFilterFlags(cmd *cobra.Command) bool {
	file, _ := cmd.Flags().GetString("file")
	tables, _ := cmd.Flags().GetStringArray("table")
	return file != "" || len(tables) > 0
}

// loadFilter reads a filter document from --file, or builds one from
// --table flags of the form table[:where clause].
func loadFilter(cmd *cobra.Command) (eventservice.Filter, error) {
	file, _ := cmd.Flags().GetString("file")
	tables, _ := cmd.Flags().GetStringArray("table")
	flush, _ := cmd.Flags().GetBool("flush")

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return eventservice.Filter{}, err
		}
		var fc eventservice.FilterConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return eventservice.Filter{}, fmt.Errorf("failed to parse %s: %w", file, err)
		}
		fc.Filter.Flush = fc.Filter.Flush || flush
		return fc.Filter, nil
	}

	if len(tables) == 0 {
		return eventservice.Filter{}, fmt.Errorf("one of --file or --table is required")
	}
	b := eventservice.BuilderConfig{Flush: flush}
	for _, spec := range tables {
		table, where, _ := strings.Cut(spec, ":")
		b.Filters = append(b.Filters, eventservice.TableSpec{Table: model.LogType(table), Where: where})
	}
	return b.Build()
}

var filtersSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Replace the channel filter",
	Example: `  feedctl filters set --table panw.traffic --table "panw.threat:severity = 'critical'"
  feedctl filters set --file filter.yaml --flush`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := loadFilter(cmd)
		if err != nil {
			return err
		}
		svc, _, err := newService(cmd.Context(), false)
		if err != nil {
			return err
		}
		if err := svc.SetFilters(cmd.Context(), eventservice.FilterConfig{Filter: f}); err != nil {
			return fmt.Errorf("failed to set filters: %w", err)
		}
		output.Success("Filter set with %d table(s)", len(f.Filters))
		return nil
	},
}

var filtersClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every table from the channel filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		flush, _ := cmd.Flags().GetBool("flush")
		svc, _, err := newService(cmd.Context(), false)
		if err != nil {
			return err
		}
		if err := svc.ClearFilter(cmd.Context(), flush); err != nil {
			return fmt.Errorf("failed to clear filters: %w", err)
		}
		output.Success("Filter cleared")
		return nil
	},
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("file", "f", "", "YAML filter document (filter/filterOptions)")
	cmd.Flags().StringArray("table", nil, "table[:where clause], repeatable")
	cmd.Flags().Bool("flush", false, "drop the channel backlog when the filter is applied")
}

func init() {
	rootCmd.AddCommand(filtersCmd)
	filtersCmd.AddCommand(filtersGetCmd)
	filtersCmd.AddCommand(filtersSetCmd)
	filtersCmd.AddCommand(filtersClearCmd)

	addFilterFlags(filtersSetCmd)
	filtersClearCmd.Flags().Bool("flush", false, "drop the channel backlog")
}
