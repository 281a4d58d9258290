package sdkerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "op and message",
			err:  Config("credentials.New", "refresh_token or code required", nil),
			want: "CONFIG credentials.New: refresh_token or code required",
		},
		{
			name: "wrapped cause",
			err:  Parser("transport.Request", "invalid JSON", errors.New("unexpected EOF")),
			want: "PARSER transport.Request: invalid JSON: unexpected EOF",
		},
		{
			name: "cause only",
			err:  &Error{Kind: KindIdentity, Err: errors.New("status 401")},
			want: "IDENTITY: status 401",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorUnwrapAndIs(t *testing.T) {
	cause := errors.New("root cause")
	err := fmt.Errorf("refresh: %w", Identity("refresh", "rejected", cause))

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, &Error{Kind: KindIdentity})
	assert.NotErrorIs(t, err, &Error{Kind: KindParser})
	assert.True(t, IsKind(err, KindIdentity))
	assert.False(t, IsKind(err, KindConfig))
	assert.False(t, IsKind(cause, KindIdentity))
}

func TestApplicationFrameworkError(t *testing.T) {
	body := json.RawMessage(`{"errorCode":"E1003","errorMessage":"channel not found"}`)
	err := NewApplicationFramework(404, body)

	assert.Equal(t, 404, err.StatusCode)
	assert.Equal(t, "E1003", err.ErrorCode)
	assert.Equal(t, "channel not found", err.ErrorMessage)
	assert.Contains(t, err.Error(), "channel not found")
	assert.JSONEq(t, string(body), string(err.Body))

	var wrapped error = fmt.Errorf("poll: %w", err)
	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindApplicationFramework, kind)

	var afe *ApplicationFrameworkError
	require.ErrorAs(t, wrapped, &afe)
	assert.Equal(t, 404, afe.StatusCode)
}

func TestApplicationFrameworkError_NonObjectBody(t *testing.T) {
	err := NewApplicationFramework(500, json.RawMessage(`["oops"]`))

	assert.Empty(t, err.ErrorCode)
	assert.Contains(t, err.Error(), `["oops"]`)
}
