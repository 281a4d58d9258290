package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordString(t *testing.T) {
	r := Record{
		"s":     "abc",
		"f":     float64(1234567890123),
		"i":     42,
		"i64":   int64(7),
		"b":     true,
		"nil":   nil,
		"jsonn": json.Number("99"),
	}

	assert.Equal(t, "abc", r.String("s"))
	assert.Equal(t, "1234567890123", r.String("f"))
	assert.Equal(t, "42", r.String("i"))
	assert.Equal(t, "7", r.String("i64"))
	assert.Equal(t, "true", r.String("b"))
	assert.Equal(t, "", r.String("nil"))
	assert.Equal(t, "", r.String("missing"))
	assert.Equal(t, "99", r.String("jsonn"))
}

func TestRecordClone(t *testing.T) {
	r := Record{"a": "1"}
	c := r.Clone()
	c["b"] = "2"

	assert.NotContains(t, r, "b")
	assert.Equal(t, "1", c["a"])
}

func TestEventBatchJSON(t *testing.T) {
	raw := `{"logType":"panw.traffic","event":[{"sessionid":12,"src":"10.0.0.1"}]}`

	var b EventBatch
	require.NoError(t, json.Unmarshal([]byte(raw), &b))

	assert.Equal(t, LogTypeTraffic, b.LogType)
	require.Len(t, b.Records, 1)
	assert.Equal(t, "12", b.Records[0].String(FieldSessionID))
}
