// Package stats retrieves cumulative points and work units of a folding
// identity from the external stats provider.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/okian/teamcomp/internal/domain/model"
	"github.com/okian/teamcomp/pkg/metrics"
)

const (
	source         = "stats"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

type statsResponse struct {
	Earned *int64 `json:"earned"`
	WUs    *int64 `json:"wus"`
}

// Client talks to the stats provider over HTTP.
type Client struct {
	baseURL string
	team    int
	http    *http.Client
}

// New returns a client for the provider at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the absolute stats of identity. Points and units are the
// provider's lifetime totals, not deltas.
func (c *Client) Fetch(ctx context.Context, identity, passkey string) (_ model.RawStats, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordRetrievalLatency(source, time.Since(start))
		if err != nil {
			metrics.RecordRetrievalFailure(source, failureKind(err))
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statsURL(identity, passkey), nil)
	if err != nil {
		return model.RawStats{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.RawStats{}, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.RawStats{}, fmt.Errorf("%w: %s", ErrNoWorkUnits, identity)
	case resp.StatusCode >= http.StatusInternalServerError:
		return model.RawStats{}, fmt.Errorf("%w: status %d", ErrConnection, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return model.RawStats{}, fmt.Errorf("%w: status %d", ErrMalformed, resp.StatusCode)
	}

	var body statsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return model.RawStats{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if body.Earned == nil || body.WUs == nil {
		return model.RawStats{}, fmt.Errorf("%w: missing earned or wus", ErrMalformed)
	}
	if *body.Earned < 0 || *body.WUs < 0 {
		return model.RawStats{}, fmt.Errorf("%w: negative totals", ErrMalformed)
	}
	if *body.WUs == 0 {
		return model.RawStats{}, fmt.Errorf("%w: %s", ErrNoWorkUnits, identity)
	}
	return model.RawStats{Points: *body.Earned, Units: *body.WUs}, nil
}

func (c *Client) statsURL(identity, passkey string) string {
	q := url.Values{}
	if passkey != "" {
		q.Set("passkey", passkey)
	}
	if c.team > 0 {
		q.Set("team", strconv.Itoa(c.team))
	}
	u := c.baseURL + "/user/" + url.PathEscape(identity) + "/stats"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrNoWorkUnits):
		return "no_work_units"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrConnection):
		return "connection"
	default:
		return "malformed"
	}
}
