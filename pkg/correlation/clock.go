package correlation

import (
	"strconv"
	"strings"
	"time"

	"github.com/telhawk-systems/eventfeed/pkg/model"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02 15:04:05",
}

// recordTime reads time_generated as epoch seconds, epoch milliseconds or
// a timestamp string. ok is false when the field is absent or unreadable.
func recordTime(r model.Record) (time.Time, bool) {
	v, present := r[model.FieldTimeGenerated]
	if !present || v == nil {
		return time.Time{}, false
	}

	switch t := v.(type) {
	case float64:
		return fromEpoch(t), true
	case int64:
		return fromEpoch(float64(t)), true
	case int:
		return fromEpoch(float64(t)), true
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(n), true
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// fromEpoch treats values above 1e11 as milliseconds.
func fromEpoch(n float64) time.Time {
	if n > 1e11 {
		return time.UnixMilli(int64(n))
	}
	return time.Unix(int64(n), 0)
}
