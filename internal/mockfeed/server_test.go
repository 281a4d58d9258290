package mockfeed

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/eventfeed/pkg/model"
)

const channelPath = "/event-service/v1/channels/EventFilter"

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	cfg.Seed = 42
	s := New(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func pollGroups(t *testing.T, url, token string) []Group {
	t.Helper()
	resp := post(t, url+channelPath+"/poll", token, map[string]int{"pollTimeout": 1000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(body) == 0 {
		return nil
	}
	var groups []Group
	require.NoError(t, json.Unmarshal(body, &groups))
	return groups
}

func TestToken_RefreshGrant(t *testing.T) {
	s, ts := newTestServer(t, Config{RotateRefresh: true, TokenTTL: 10 * time.Minute})
	refresh := s.IssueRefreshToken()

	resp := post(t, ts.URL+TokenPath, "", map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     s.ClientID(),
		"client_secret": s.ClientSecret(),
		"refresh_token": refresh,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tok map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
	assert.NotEmpty(t, tok["access_token"])
	assert.Equal(t, "600", tok["expires_in"])
	assert.NotEmpty(t, tok["refresh_token"])
	assert.NotEqual(t, refresh, tok["refresh_token"])

	// The rotated token is no longer accepted.
	resp = post(t, ts.URL+TokenPath, "", map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     s.ClientID(),
		"client_secret": s.ClientSecret(),
		"refresh_token": refresh,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 1, s.Counters().TokensIssued)
}

func TestToken_Rejections(t *testing.T) {
	s, ts := newTestServer(t, Config{})

	tests := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{
			name:   "bad secret",
			body:   map[string]string{"grant_type": "refresh_token", "client_id": s.ClientID(), "client_secret": "nope"},
			status: http.StatusUnauthorized,
		},
		{
			name:   "code without redirect",
			body:   map[string]string{"grant_type": "authorization_code", "client_id": s.ClientID(), "client_secret": s.ClientSecret(), "code": "abc"},
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown grant",
			body:   map[string]string{"grant_type": "password", "client_id": s.ClientID(), "client_secret": s.ClientSecret()},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+TokenPath, "", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRevoke(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	refresh := s.IssueRefreshToken()
	body := map[string]string{
		"client_id":       s.ClientID(),
		"client_secret":   s.ClientSecret(),
		"token":           refresh,
		"token_type_hint": "refresh_token",
	}

	assert.Equal(t, http.StatusOK, post(t, ts.URL+RevokePath, "", body).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(t, ts.URL+RevokePath, "", body).StatusCode)
	assert.Equal(t, 1, s.Counters().Revoked)
}

func TestChannel_RequiresBearer(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	for _, token := range []string{"", "not-a-jwt"} {
		resp := post(t, ts.URL+channelPath+"/poll", token, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "401", body["errorCode"])
		assert.NotEmpty(t, body["errorMessage"])
	}
}

func TestChannel_FilterRoundTrip(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	token, err := s.IssueAccessToken(time.Minute)
	require.NoError(t, err)

	filter := map[string]any{"filters": []any{map[string]any{"panw.traffic": map[string]any{"filter": "SELECT * FROM `panw.traffic`"}}}}
	require.Equal(t, http.StatusOK, post(t, ts.URL+channelPath+"/filters", token, filter).StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+channelPath+"/filters", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "SELECT * FROM `panw.traffic`"))
}

func TestPoll_EmptyBody(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	token, err := s.IssueAccessToken(time.Minute)
	require.NoError(t, err)

	assert.Nil(t, pollGroups(t, ts.URL, token))
	assert.Equal(t, 1, s.Counters().Polls)
}

func TestPoll_AtLeastOnce(t *testing.T) {
	s, ts := newTestServer(t, Config{RequireAck: true})
	token, err := s.IssueAccessToken(time.Minute)
	require.NoError(t, err)

	s.Enqueue("EventFilter", "panw.system", map[string]any{"id": 1})

	first := pollGroups(t, ts.URL, token)
	require.Len(t, first, 1)
	s.Enqueue("EventFilter", "panw.system", map[string]any{"id": 2})

	// Unacked batches are redelivered.
	again := pollGroups(t, ts.URL, token)
	assert.Equal(t, first, again)

	// Nack puts the in-flight batch ahead of newer ones.
	require.Equal(t, http.StatusOK, post(t, ts.URL+channelPath+"/nack", token, nil).StatusCode)
	requeued := pollGroups(t, ts.URL, token)
	require.Len(t, requeued, 2)
	assert.EqualValues(t, 1, requeued[0].Event[0]["id"])

	require.Equal(t, http.StatusOK, post(t, ts.URL+channelPath+"/ack", token, nil).StatusCode)
	assert.Nil(t, pollGroups(t, ts.URL, token))

	c := s.Counters()
	assert.Equal(t, 1, c.Acks)
	assert.Equal(t, 1, c.Nacks)
	assert.Zero(t, c.InFlight)
}

func TestFlush_DropsBacklog(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	token, err := s.IssueAccessToken(time.Minute)
	require.NoError(t, err)

	s.GenerateTraffic("EventFilter", 3)
	require.Equal(t, 1, s.Counters().Pending)
	require.Equal(t, http.StatusOK, post(t, ts.URL+channelPath+"/flush", token, nil).StatusCode)
	assert.Zero(t, s.Counters().Pending)
}

func TestFailNext(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	token, err := s.IssueAccessToken(time.Minute)
	require.NoError(t, err)

	s.FailNext(http.StatusServiceUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, post(t, ts.URL+channelPath+"/poll", token, nil).StatusCode)
	assert.Equal(t, http.StatusOK, post(t, ts.URL+channelPath+"/poll", token, nil).StatusCode)
}

func TestGenerateTraffic_Pairs(t *testing.T) {
	s := New(Config{Seed: 7})
	s.GenerateTraffic("c", 4)

	s.mu.Lock()
	groups := s.channels["c"].pending
	s.mu.Unlock()

	require.Len(t, groups, 1)
	assert.Equal(t, string(model.LogTypeTraffic), groups[0].LogType)
	require.Len(t, groups[0].Event, 8)
	for i := 0; i < 8; i += 2 {
		src, dst := groups[0].Event[i], groups[0].Event[i+1]
		assert.Equal(t, src[model.FieldSessionID], dst[model.FieldSessionID])
		assert.Contains(t, src, model.FieldMAC)
		assert.NotContains(t, src, model.FieldMACStc)
		assert.Contains(t, dst, model.FieldMACStc)
		assert.NotContains(t, dst, model.FieldMAC)
	}
}

func TestHandler_SetsRequestID(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	resp := post(t, ts.URL+channelPath+"/poll", "", nil)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
