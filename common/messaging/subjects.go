package messaging

import "strings"

// Subject names for the event feed.
// Follow the pattern: feed.{topic}[.{logType}]
const (
	SubjectPrefix = "feed"

	SubjectEvents      = "feed.events"      // append .{logType}
	SubjectPcap        = "feed.pcap"        // one libpcap file per message
	SubjectCorrelation = "feed.correlation" // L2/L3 enrichment summaries

	// SubjectAll matches every feed subject.
	SubjectAll = "feed.>"
)

// Header keys set on forwarded messages.
const (
	HeaderSource    = "Feed-Source"
	HeaderLogType   = "Feed-Log-Type"
	HeaderRequestID = "X-Request-ID"
)

// QueueFeedWorkers is the default queue group for `feedctl tail --queue`.
const QueueFeedWorkers = "feed-workers"

// EventSubject returns the subject for events of one log type.
// Example: feed.events.panw.traffic
func EventSubject(logType string) string {
	if logType == "" {
		return SubjectEvents + ".unknown"
	}
	return SubjectEvents + "." + subjectToken.Replace(logType)
}

// subjectToken strips characters NATS reserves or rejects in subjects.
var subjectToken = strings.NewReplacer(" ", "_", "*", "_", ">", "_", "\t", "_")
