package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/telhawk-systems/eventfeed/pkg/transport"
)

const identityTimeout = 30 * time.Second

// tokenResponse is the identity endpoint answer. expires_in is sent as a
// string by the identity provider and as a number by some proxies.
type tokenResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresIn    seconds `json:"expires_in"`
}

type seconds int64

func (s *seconds) UnmarshalJSON(b []byte) error {
	str := strings.Trim(string(b), `"`)
	if str == "" || str == "null" {
		*s = 0
		return nil
	}
	n, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return fmt.Errorf("expires_in: %w", err)
	}
	*s = seconds(n)
	return nil
}

type identityResponse struct {
	status int
	body   []byte
}

func (r *identityResponse) ok() bool {
	return r.status >= 200 && r.status < 300
}

// postIdentity sends a JSON document to an identity endpoint. Transport
// failures are retried with the credential's policy; HTTP statuses are
// returned to the caller for classification.
func (c *Credential) postIdentity(ctx context.Context, url string, payload any) (*identityResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return transport.Retry(ctx, c.policy, func(ctx context.Context) (*identityResponse, error) {
		ctx, cancel := context.WithTimeout(ctx, identityTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return &identityResponse{status: resp.StatusCode, body: data}, nil
	})
}
