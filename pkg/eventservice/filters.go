package eventservice

import (
	"fmt"
	"strings"
	"time"

	"github.com/telhawk-systems/eventfeed/pkg/dispatcher"
	"github.com/telhawk-systems/eventfeed/pkg/model"
)

// Filter is the channel filter document.
type Filter struct {
	Filters []map[model.LogType]TableFilter `json:"filters" yaml:"filters"`
	Flush   bool                            `json:"flush,omitempty" yaml:"flush,omitempty"`
}

// TableFilter selects events from one table. Timeout is in milliseconds.
type TableFilter struct {
	Filter    string `json:"filter" yaml:"filter"`
	Timeout   int    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	BatchSize int    `json:"batchSize,omitempty" yaml:"batchSize,omitempty"`
}

// Handlers are the subscribers attached by SetFilters.
type Handlers struct {
	Event       dispatcher.Handler
	Pcap        dispatcher.Handler
	Correlation dispatcher.Handler
}

func (h Handlers) any() bool {
	return h.Event != nil || h.Pcap != nil || h.Correlation != nil
}

// FilterOptions control what happens after a filter is set. When any
// handler is given, auto-poll starts with Sleep between cycles.
type FilterOptions struct {
	Handlers Handlers      `json:"-" yaml:"-"`
	Sleep    time.Duration `json:"sleep,omitempty" yaml:"sleep,omitempty"`
	Poll     *PollOptions  `json:"pollOptions,omitempty" yaml:"pollOptions,omitempty"`
}

// FilterConfig is the argument of SetFilters.
type FilterConfig struct {
	Filter  Filter        `yaml:"filter"`
	Options FilterOptions `yaml:"filterOptions"`
}

// TableSpec describes one table for FilterBuilder.
type TableSpec struct {
	Table     model.LogType `json:"table" yaml:"table"`
	Where     string        `json:"where,omitempty" yaml:"where,omitempty"`
	Timeout   int           `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	BatchSize int           `json:"batchSize,omitempty" yaml:"batchSize,omitempty"`
}

// BuilderConfig is the argument of FilterBuilder.
type BuilderConfig struct {
	Filters []TableSpec   `json:"filter" yaml:"filter"`
	Options FilterOptions `json:"filterOptions" yaml:"filterOptions"`
	Flush   bool          `json:"flush,omitempty" yaml:"flush,omitempty"`
}

// Build turns table specs into a Filter.
func (b BuilderConfig) Build() (Filter, error) {
	f := Filter{Filters: make([]map[model.LogType]TableFilter, 0, len(b.Filters)), Flush: b.Flush}
	for i, spec := range b.Filters {
		if spec.Table == "" {
			return Filter{}, fmt.Errorf("filter %d: table is required", i)
		}
		stmt := fmt.Sprintf("SELECT * FROM `%s`", spec.Table)
		if where := strings.TrimSpace(spec.Where); where != "" {
			stmt += " WHERE " + where
		}
		f.Filters = append(f.Filters, map[model.LogType]TableFilter{
			spec.Table: {Filter: stmt, Timeout: spec.Timeout, BatchSize: spec.BatchSize},
		})
	}
	return f, nil
}
