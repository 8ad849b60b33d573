package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"cdsflow/config"
	"cdsflow/logger"
	"cdsflow/models"
)

// Adapter is one variant of the upstream dissemination surface. An adapter
// owns endpoint resolution, the fetch and the decode for its mode; the
// ingestion loop only sees decoded RawRecords.
type Adapter interface {
	Mode() models.Mode
	Fetch(ctx context.Context) (*models.FetchResult, error)
}

// Client is the HTTP client shared by the source adapters. It applies the
// configured timeout, a browser-like User-Agent and an outbound rate limit.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Log
}

func NewClient(cfg *config.Config) *Client {
	transport := userAgentTransport{
		agent: cfg.HTTP.UserAgent,
		base:  http.DefaultTransport,
	}

	rl := cfg.HTTP.RateLimit
	rps := rl.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := rl.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.HTTP.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logger.GetLogger(),
	}
}

// Get performs a rate-limited GET and returns the response body. Non-2xx
// statuses are returned as errors so callers can treat them as transient
// fetch failures.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := rawURL
	if len(params) > 0 {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
		}
		q := parsed.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		parsed.RawQuery = q.Encode()
		reqURL = parsed.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("get %s: unexpected status %d", reqURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", reqURL, err)
	}

	logger.LogPerformanceEntry(c.log.WithComponent("source_http"), "source_http", "api_request", time.Since(start), logger.Fields{
		"url":   rawURL,
		"bytes": len(body),
	})

	return body, nil
}
