// Package pricingapi is the thin collaborator describing the upstream wire
// format: one HTTP POST per compute, a JSON request/response shape, and the
// rate-extraction rule the facade and the stale fallback path both use.
package pricingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/Krishna8167/pricingcache/internal/pricingerr"
)

// Defaults per the design's external-interfaces section.
const (
	DefaultOpenTimeout = 10 * time.Second
	DefaultReadTimeout = 30 * time.Second
)

// Attribute is one (period, hotel, room) tuple in the request body.
type Attribute struct {
	Period string `json:"period"`
	Hotel  string `json:"hotel"`
	Room   string `json:"room"`
}

type requestBody struct {
	Attributes []Attribute `json:"attributes"`
}

// Rate is one entry in the upstream response's rates array.
type Rate struct {
	Period string  `json:"period"`
	Hotel  string  `json:"hotel"`
	Room   string  `json:"room"`
	Rate   float64 `json:"rate"`
}

type responseBody struct {
	Rates []Rate `json:"rates"`
}

// Client performs the single upstream call the leader branch invokes under
// the breaker and API_TIMEOUT watchdog.
type Client struct {
	httpClient *http.Client
	url        string
	token      string

	// limiter bounds outbound request rate so a burst of HalfOpen probes
	// (every process independently deciding to retry at once) cannot itself
	// overwhelm a recovering upstream.
	limiter *rate.Limiter
}

// New builds a Client. rps/burst configure the outbound rate limiter; a
// zero rps disables limiting.
func New(url, token string, rps float64, burst int) *Client {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: DefaultOpenTimeout + DefaultReadTimeout,
			Transport: &http.Transport{
				ResponseHeaderTimeout: DefaultReadTimeout,
			},
		},
		url:     url,
		token:   token,
		limiter: limiter,
	}
}

// Fetch performs one POST for the given attribute and returns the raw
// response body on 2xx. Non-2xx maps to a pricingerr API-kind error
// carrying the status code and body, per the design.
func (c *Client) Fetch(ctx context.Context, attr Attribute) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, pricingerr.NewUnexpected("rate limiter wait", err)
		}
	}

	payload, err := json.Marshal(requestBody{Attributes: []Attribute{attr}})
	if err != nil {
		return nil, pricingerr.NewUnexpected("encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, pricingerr.NewUnexpected("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pricingerr.NewUnexpected("upstream request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pricingerr.NewUnexpected("read upstream response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, pricingerr.NewAPI(resp.StatusCode, body)
	}

	return body, nil
}

// ExtractRate parses a raw upstream response body (fresh or stale — both
// are the same bytes, see the design's note on fallback extraction) and
// returns the rate for attr: the entry matching the full triple if present,
// otherwise rates[0]. An empty or malformed rates array is an error.
func ExtractRate(body []byte, attr Attribute) (float64, error) {
	var parsed responseBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, pricingerr.NewUnexpected("malformed upstream payload", err)
	}
	if len(parsed.Rates) == 0 {
		return 0, pricingerr.NewUnexpected("upstream payload has no rates", nil)
	}

	for _, r := range parsed.Rates {
		if r.Period == attr.Period && r.Hotel == attr.Hotel && r.Room == attr.Room {
			return r.Rate, nil
		}
	}
	return parsed.Rates[0].Rate, nil
}

// FormatRate renders a rate the way the service boundary's response shape
// requires: an integer-as-string.
func FormatRate(rate float64) string {
	return fmt.Sprintf("%d", int64(rate))
}
