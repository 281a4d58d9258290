package pcap

import (
	"encoding/base64"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/eventfeed/pkg/model"
)

func TestEncode_GlobalHeader(t *testing.T) {
	file := Encode()
	require.Len(t, file, globalHeaderLen)

	assert.Equal(t, uint32(magic), binary.LittleEndian.Uint32(file[0:]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(file[4:]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(file[6:]))
	assert.Equal(t, uint32(snapLen), binary.LittleEndian.Uint32(file[16:]))
	assert.Equal(t, uint32(LinkTypeEthernet), binary.LittleEndian.Uint32(file[20:]))
}

func TestEncodeParse(t *testing.T) {
	ts := time.Unix(1714557600, 250_000_000)
	in := []Packet{
		{Timestamp: ts, Data: []byte{0xde, 0xad, 0xbe, 0xef}},
		{Timestamp: ts.Add(time.Second), OrigLen: 1500, Data: []byte{0x01}},
	}

	out, err := Parse(Encode(in...))
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, in[0].Data, out[0].Data)
	assert.Equal(t, uint32(4), out[0].OrigLen)
	assert.True(t, ts.Equal(out[0].Timestamp))
	assert.Equal(t, uint32(1500), out[1].OrigLen)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrTruncated)

	bad := Encode()
	bad[0] = 0
	_, err = Parse(bad)
	assert.Error(t, err)

	file := Encode(Packet{Timestamp: time.Unix(1, 0), Data: []byte("abcdef")})
	_, err = Parse(file[:len(file)-2])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestFromRecord(t *testing.T) {
	payload := []byte("ethernet-frame")
	r := model.Record{
		FieldPcap:        base64.StdEncoding.EncodeToString(payload),
		FieldPcapID:      "1234",
		"time_generated": "2024/05/01 10:00:00",
	}

	file, ok, err := FromRecord(r)
	require.NoError(t, err)
	require.True(t, ok)

	packets, err := Parse(file)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, payload, packets[0].Data)
	assert.Equal(t, int64(1714557600), packets[0].Timestamp.Unix())
}

func TestFromRecord_NoCapture(t *testing.T) {
	_, ok, err := FromRecord(model.Record{"src": "10.0.0.1"})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestFromRecord_BadBase64(t *testing.T) {
	_, ok, err := FromRecord(model.Record{FieldPcap: "***"})
	assert.Error(t, err)
	assert.False(t, ok)
}
