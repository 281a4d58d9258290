package mockfeed

import (
	"encoding/base64"
	"maps"
	"time"

	"github.com/telhawk-systems/eventfeed/pkg/model"
	"github.com/telhawk-systems/eventfeed/pkg/pcap"
)

// GenerateTraffic queues pairs sessions on channelID. Each session is a
// source-side and a destination-side traffic record sharing a session id.
func (s *Server) GenerateTraffic(channelID string, pairs int) {
	if pairs <= 0 {
		return
	}

	s.mu.Lock()
	now := time.Now().Unix()
	records := make([]map[string]any, 0, 2*pairs)
	for i := 0; i < pairs; i++ {
		session := s.faker.Number(1, 1<<30)
		src, dst := s.faker.IPv4Address(), s.faker.IPv4Address()
		base := map[string]any{
			model.FieldTimeGenerated: now,
			model.FieldSessionID:     session,
			model.FieldSrc:           src,
			model.FieldDst:           dst,
			"app":                    s.faker.RandomString([]string{"ssl", "dns", "web-browsing", "ssh", "ntp"}),
			"rule":                   s.faker.Word(),
			"srcuser":                s.faker.Username(),
			"action":                 "allow",
		}
		srcSide, dstSide := maps.Clone(base), maps.Clone(base)
		srcSide[model.FieldMAC] = s.faker.MacAddress()
		dstSide[model.FieldMACStc] = s.faker.MacAddress()
		records = append(records, srcSide, dstSide)
	}
	c := s.channelLocked(channelID)
	c.pending = append(c.pending, Group{LogType: string(model.LogTypeTraffic), Event: records})
	s.mu.Unlock()
}

// GenerateThreats queues n threat records carrying a packet capture.
func (s *Server) GenerateThreats(channelID string, n int) {
	if n <= 0 {
		return
	}

	s.mu.Lock()
	now := time.Now().Unix()
	records := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		payload := []byte(s.faker.HackerPhrase())
		records = append(records, map[string]any{
			model.FieldTimeGenerated: now,
			model.FieldSrc:           s.faker.IPv4Address(),
			model.FieldDst:           s.faker.IPv4Address(),
			"threatid":               s.faker.Number(10000, 99999),
			"severity":               s.faker.RandomString([]string{"low", "medium", "high", "critical"}),
			pcap.FieldPcapID:         s.faker.UUID(),
			pcap.FieldPcap:           base64.StdEncoding.EncodeToString(payload),
		})
	}
	c := s.channelLocked(channelID)
	c.pending = append(c.pending, Group{LogType: string(model.LogTypeThreat), Event: records})
	s.mu.Unlock()
}
