// Package pcap turns the base64 packet capture carried by threat records
// into a standalone libpcap file.
package pcap

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/telhawk-systems/eventfeed/pkg/model"
)

// Record fields read by FromRecord.
const (
	FieldPcap   = "pcap"
	FieldPcapID = "pcap_id"
)

const (
	magic        = 0xa1b2c3d4
	versionMajor = 2
	versionMinor = 4
	snapLen      = 65535
	// LinkTypeEthernet is the DLT of captured frames.
	LinkTypeEthernet = 1

	globalHeaderLen = 24
	packetHeaderLen = 16
)

// ErrTruncated is returned by Parse for a short or corrupt file.
var ErrTruncated = errors.New("pcap: truncated file")

// Packet is one captured frame.
type Packet struct {
	Timestamp time.Time
	OrigLen   uint32
	Data      []byte
}

// Encode writes a libpcap file holding packets.
func Encode(packets ...Packet) []byte {
	var buf bytes.Buffer
	hdr := make([]byte, globalHeaderLen)
	binary.LittleEndian.PutUint32(hdr[0:], magic)
	binary.LittleEndian.PutUint16(hdr[4:], versionMajor)
	binary.LittleEndian.PutUint16(hdr[6:], versionMinor)
	binary.LittleEndian.PutUint32(hdr[16:], snapLen)
	binary.LittleEndian.PutUint32(hdr[20:], LinkTypeEthernet)
	buf.Write(hdr)

	for _, p := range packets {
		data := p.Data
		if len(data) > snapLen {
			data = data[:snapLen]
		}
		orig := p.OrigLen
		if orig < uint32(len(p.Data)) {
			orig = uint32(len(p.Data))
		}
		ph := make([]byte, packetHeaderLen)
		binary.LittleEndian.PutUint32(ph[0:], uint32(p.Timestamp.Unix()))
		binary.LittleEndian.PutUint32(ph[4:], uint32(p.Timestamp.Nanosecond()/1000))
		binary.LittleEndian.PutUint32(ph[8:], uint32(len(data)))
		binary.LittleEndian.PutUint32(ph[12:], orig)
		buf.Write(ph)
		buf.Write(data)
	}
	return buf.Bytes()
}

// Parse reads a little-endian libpcap file produced by Encode.
func Parse(b []byte) ([]Packet, error) {
	if len(b) < globalHeaderLen {
		return nil, ErrTruncated
	}
	if binary.LittleEndian.Uint32(b[0:]) != magic {
		return nil, fmt.Errorf("pcap: bad magic %#x", binary.LittleEndian.Uint32(b[0:]))
	}

	var packets []Packet
	rest := b[globalHeaderLen:]
	for len(rest) > 0 {
		if len(rest) < packetHeaderLen {
			return nil, ErrTruncated
		}
		sec := binary.LittleEndian.Uint32(rest[0:])
		usec := binary.LittleEndian.Uint32(rest[4:])
		incl := binary.LittleEndian.Uint32(rest[8:])
		orig := binary.LittleEndian.Uint32(rest[12:])
		rest = rest[packetHeaderLen:]
		if uint32(len(rest)) < incl {
			return nil, ErrTruncated
		}
		packets = append(packets, Packet{
			Timestamp: time.Unix(int64(sec), int64(usec)*1000),
			OrigLen:   orig,
			Data:      append([]byte(nil), rest[:incl]...),
		})
		rest = rest[incl:]
	}
	return packets, nil
}

// FromRecord builds a pcap file from the record's pcap field. ok is false
// when the record carries no capture.
func FromRecord(r model.Record) (file []byte, ok bool, err error) {
	encoded := r.String(FieldPcap)
	if encoded == "" {
		return nil, false, nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("pcap: decode capture %q: %w", r.String(FieldPcapID), err)
	}
	return Encode(Packet{Timestamp: captureTime(r), Data: data}), true, nil
}

func captureTime(r model.Record) time.Time {
	for _, field := range []string{"time_generated", "receive_time"} {
		s := r.String(field)
		if s == "" {
			continue
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(n, 0)
		}
		if ts, err := time.Parse("2006/01/02 15:04:05", s); err == nil {
			return ts
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts
		}
	}
	return time.Unix(0, 0)
}
