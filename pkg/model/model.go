// Package model holds the data types that flow between the feed components.
package model

import (
	"fmt"
	"strconv"
)

// LogType names the table an event group was read from.
type LogType string

// Known log types served by the event service.
const (
	LogTypeTraffic    LogType = "panw.traffic"
	LogTypeThreat     LogType = "panw.threat"
	LogTypeSystem     LogType = "panw.system"
	LogTypeConfig     LogType = "panw.config"
	LogTypeURLSum     LogType = "panw.urlsum"
	LogTypeTrafficSum LogType = "panw.trsum"
	LogTypeThreatSum  LogType = "panw.thsum"
	LogTypeUserID     LogType = "panw.userid"
	LogTypeAuth       LogType = "panw.auth"
	LogTypeHIPMatch   LogType = "panw.hipmatch"
	LogTypeTMSThreat  LogType = "tms.threat"
	LogTypeTMSTraps   LogType = "tms.traps"
)

// Record is one opaque structured event.
type Record map[string]any

// String returns the value of key as a string. Numbers are formatted
// without exponent so numeric session ids compare as text.
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// EventBatch is the unit produced by one poll cycle for one log type.
type EventBatch struct {
	Source  string   `json:"source"`
	LogType LogType  `json:"logType"`
	Records []Record `json:"event"`
}

// Field names used by the L2/L3 correlation.
const (
	FieldTimeGenerated = "time_generated"
	FieldSessionID     = "sessionid"
	FieldSessionIDAlt  = "session_id"
	FieldSrc           = "src"
	FieldDst           = "dst"
	FieldMAC           = "extended-traffic-log-mac"
	FieldMACStc        = "extended-traffic-log-mac-stc"
)

// L2Correlation summarizes a joined network-layer/link-layer pair.
type L2Correlation struct {
	TimeGenerated string `json:"time_generated"`
	SessionID     string `json:"sessionid"`
	Src           string `json:"src"`
	Dst           string `json:"dst"`
	MAC           string `json:"extended-traffic-log-mac"`
	MACStc        string `json:"extended-traffic-log-mac-stc"`
}
