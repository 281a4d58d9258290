// Package mockfeed is an in-process stand-in for the identity provider and
// the event-service channel API. It backs tests and `feedctl mock-server`.
package mockfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/telhawk-systems/eventfeed/common/logging"
	"github.com/telhawk-systems/eventfeed/common/middleware"
)

// Identity endpoint paths.
const (
	TokenPath  = "/api/oauth2/RequestToken"
	RevokePath = "/api/oauth2/RevokeToken"
)

// Config configures a Server.
type Config struct {
	ClientID     string
	ClientSecret string
	SigningKey   []byte
	// TokenTTL is the lifetime of issued access tokens.
	TokenTTL time.Duration
	// RotateRefresh issues a new refresh token on every refresh.
	RotateRefresh bool
	// RequireAck redelivers the in-flight batch until it is acked.
	RequireAck bool
	// Seed makes generated data reproducible. Zero uses the clock.
	Seed   int64
	Logger *slog.Logger
}

// Group is one poll response element.
type Group struct {
	LogType string           `json:"logType"`
	Event   []map[string]any `json:"event"`
}

// Counters reports how the server was used.
type Counters struct {
	TokensIssued int `json:"tokensIssued"`
	Revoked      int `json:"revoked"`
	Polls        int `json:"polls"`
	Acks         int `json:"acks"`
	Nacks        int `json:"nacks"`
	Flushes      int `json:"flushes"`
	Pending      int `json:"pending"`
	InFlight     int `json:"inFlight"`
}

type channel struct {
	filter   json.RawMessage
	pending  []Group
	inflight []Group
}

// Server implements the mock endpoints.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	faker         *gofakeit.Faker
	refreshTokens map[string]bool
	channels      map[string]*channel
	failNext      []int
	counters      Counters
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.ClientID == "" {
		cfg.ClientID = "mock-client"
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = "mock-secret"
	}
	if len(cfg.SigningKey) == 0 {
		cfg.SigningKey = []byte("mockfeed-signing-key")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Server{
		cfg:           cfg,
		logger:        logging.OrDiscard(cfg.Logger),
		faker:         gofakeit.New(seed),
		refreshTokens: make(map[string]bool),
		channels:      make(map[string]*channel),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+TokenPath, s.handleToken)
	mux.HandleFunc("POST "+RevokePath, s.handleRevoke)

	const ch = "/event-service/v1/channels/{channel}"
	mux.HandleFunc("GET "+ch+"/filters", s.authorized(s.handleGetFilters))
	mux.HandleFunc("POST "+ch+"/filters", s.authorized(s.handleSetFilters))
	mux.HandleFunc("POST "+ch+"/poll", s.authorized(s.handlePoll))
	mux.HandleFunc("POST "+ch+"/ack", s.authorized(s.handleAck))
	mux.HandleFunc("POST "+ch+"/nack", s.authorized(s.handleNack))
	mux.HandleFunc("POST "+ch+"/flush", s.authorized(s.handleFlush))
	return middleware.RequestID(mux)
}

// ClientID returns the accepted client id.
func (s *Server) ClientID() string { return s.cfg.ClientID }

// ClientSecret returns the accepted client secret.
func (s *Server) ClientSecret() string { return s.cfg.ClientSecret }

// IssueRefreshToken registers and returns a valid refresh token.
func (s *Server) IssueRefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newRefreshTokenLocked()
}

func (s *Server) newRefreshTokenLocked() string {
	token := uuid.New().String()
	s.refreshTokens[token] = true
	return token
}

// IssueAccessToken signs an access token valid for ttl.
func (s *Server) IssueAccessToken(ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   s.cfg.ClientID,
		Issuer:    "mockfeed",
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
}

// FailNext makes the next len(statuses) event-service calls answer with
// the given statuses, in order.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, statuses...)
}

// Enqueue queues records on channelID for the next poll.
func (s *Server) Enqueue(channelID, logType string, records ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.channelLocked(channelID)
	c.pending = append(c.pending, Group{LogType: logType, Event: records})
}

// Counters returns a snapshot of the usage counters, totalled over channels.
func (s *Server) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.counters
	for _, c := range s.channels {
		out.Pending += len(c.pending)
		out.InFlight += len(c.inflight)
	}
	return out
}

// Run generates pairs traffic pairs on channelID every interval until ctx
// is done.
func (s *Server) Run(ctx context.Context, channelID string, interval time.Duration, pairs int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.GenerateTraffic(channelID, pairs)
			s.GenerateThreats(channelID, 1)
		}
	}
}

func (s *Server) channelLocked(id string) *channel {
	c, ok := s.channels[id]
	if !ok {
		c = &channel{filter: json.RawMessage(`{"filters":[]}`)}
		s.channels[id] = c
	}
	return c
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "401", "missing bearer token")
			return
		}
		_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			return s.cfg.SigningKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "401", "invalid access token")
			return
		}

		s.mu.Lock()
		var status int
		if len(s.failNext) > 0 {
			status, s.failNext = s.failNext[0], s.failNext[1:]
		}
		s.mu.Unlock()
		if status != 0 {
			writeError(w, status, fmt.Sprint(status), "injected failure")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	if req["client_id"] != s.cfg.ClientID || req["client_secret"] != s.cfg.ClientSecret {
		writeError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}

	s.mu.Lock()
	var refresh string
	switch req["grant_type"] {
	case "refresh_token":
		if !s.refreshTokens[req["refresh_token"]] {
			s.mu.Unlock()
			writeError(w, http.StatusBadRequest, "invalid_grant", "unknown refresh token")
			return
		}
		if s.cfg.RotateRefresh {
			delete(s.refreshTokens, req["refresh_token"])
			refresh = s.newRefreshTokenLocked()
		}
	case "authorization_code":
		if req["code"] == "" || req["redirect_uri"] == "" {
			s.mu.Unlock()
			writeError(w, http.StatusBadRequest, "invalid_request", "code and redirect_uri required")
			return
		}
		refresh = s.newRefreshTokenLocked()
	default:
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", req["grant_type"])
		return
	}
	s.counters.TokensIssued++
	s.mu.Unlock()

	access, err := s.IssueAccessToken(s.cfg.TokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	resp := map[string]string{
		"access_token": access,
		"expires_in":   fmt.Sprint(int(s.cfg.TokenTTL.Seconds())),
	}
	if refresh != "" {
		resp["refresh_token"] = refresh
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	if req["client_id"] != s.cfg.ClientID || req["client_secret"] != s.cfg.ClientSecret {
		writeError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}

	s.mu.Lock()
	known := s.refreshTokens[req["token"]]
	delete(s.refreshTokens, req["token"])
	if known {
		s.counters.Revoked++
	}
	s.mu.Unlock()

	if !known {
		writeError(w, http.StatusBadRequest, "invalid_token", "unknown token")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetFilters(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	filter := s.channelLocked(r.PathValue("channel")).filter
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(filter)
}

func (s *Server) handleSetFilters(w http.ResponseWriter, r *http.Request) {
	var doc struct {
		Filters []map[string]json.RawMessage `json:"filters"`
		Flush   bool                         `json:"flush"`
	}
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil || json.Unmarshal(raw, &doc) != nil {
		writeError(w, http.StatusBadRequest, "E400", "malformed filter")
		return
	}

	s.mu.Lock()
	c := s.channelLocked(r.PathValue("channel"))
	c.filter = raw
	if doc.Flush {
		c.pending, c.inflight = nil, nil
	}
	s.mu.Unlock()

	s.logger.Info("filter set", logging.Count(len(doc.Filters)))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.counters.Polls++
	c := s.channelLocked(r.PathValue("channel"))
	var out []Group
	switch {
	case s.cfg.RequireAck && len(c.inflight) > 0:
		out = c.inflight
	case s.cfg.RequireAck:
		c.inflight, c.pending = c.pending, nil
		out = c.inflight
	default:
		out, c.pending = c.pending, nil
	}
	s.mu.Unlock()

	if len(out) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.counters.Acks++
	s.channelLocked(r.PathValue("channel")).inflight = nil
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleNack(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.counters.Nacks++
	c := s.channelLocked(r.PathValue("channel"))
	c.pending = append(c.inflight, c.pending...)
	c.inflight = nil
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.counters.Flushes++
	c := s.channelLocked(r.PathValue("channel"))
	c.pending, c.inflight = nil, nil
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"errorCode": code, "errorMessage": msg})
}
