// Package pricing retrieves the average points-per-day of known hardware,
// the input of multiplier re-pricing.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/okian/teamcomp/internal/domain/model"
	"github.com/okian/teamcomp/internal/domain/scoring"
	"github.com/okian/teamcomp/pkg/metrics"
)

const (
	source         = "pricing"
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 8 << 20
)

type entry struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Make        string   `json:"make"`
	Type        string   `json:"type"`
	AveragePPD  *float64 `json:"average_ppd"`
}

// Client talks to the pricing provider over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithTimeout bounds every request made by the client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
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

// Fetch returns the current pricing list. Entries without a positive
// average PPD are dropped.
func (c *Client) Fetch(ctx context.Context) (_ []scoring.PricingEntry, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordRetrievalLatency(source, time.Since(start))
		if err != nil {
			metrics.RecordRetrievalFailure(source, "error")
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/gpus", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrConnection, resp.StatusCode)
	}

	var raw []entry
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	out := make([]scoring.PricingEntry, 0, len(raw))
	for _, e := range raw {
		if e.Name == "" || e.AveragePPD == nil {
			continue
		}
		ppd := *e.AveragePPD
		if ppd <= 0 || math.IsNaN(ppd) || math.IsInf(ppd, 0) {
			continue
		}
		out = append(out, scoring.PricingEntry{
			Name:        e.Name,
			DisplayName: e.DisplayName,
			Make:        model.HardwareMake(strings.ToUpper(e.Make)),
			Type:        model.HardwareType(strings.ToUpper(e.Type)),
			AveragePPD:  ppd,
		})
	}
	return out, nil
}
