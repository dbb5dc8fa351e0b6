package dictionary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/goran-ethernal/ChainMapper/internal/common"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/pkg/config"
	"github.com/goran-ethernal/ChainMapper/pkg/dictionary"
	"golang.org/x/time/rate"
)

var _ dictionary.Dictionary = (*Client)(nil)

const maxResponseBytes = 32 << 20

type heightsRequest struct {
	Conditions []dictionary.Condition `json:"conditions"`
	From       uint64                 `json:"from"`
	To         uint64                 `json:"to"`
	Limit      int                    `json:"limit"`
}

// Client talks to a dictionary service over HTTP.
type Client struct {
	url         string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	log         *logger.Logger
}

// NewClient creates a rate limited dictionary client.
func NewClient(cfg *config.DictionaryConfig, log *logger.Logger) *Client {
	return &Client{
		url: strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout.Duration,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second, //nolint:mnd
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		log:         log.WithComponent(common.ComponentDictionary),
	}
}

// GetSparseHeights returns the heights in [lo, hi] matching any of conditions.
func (c *Client) GetSparseHeights(
	ctx context.Context, conditions []dictionary.Condition, lo, hi uint64,
) (*dictionary.Result, error) {
	body, err := json.Marshal(heightsRequest{
		Conditions: conditions,
		From:       lo,
		To:         hi,
		Limit:      int(hi - lo + 1),
	})
	if err != nil {
		return nil, err
	}

	var result dictionary.Result
	if err := c.do(ctx, http.MethodPost, "/heights", body, &result); err != nil {
		return nil, err
	}

	if err := validateHeights(result.Heights, lo, hi); err != nil {
		requestsInc("malformed")
		return nil, err
	}

	c.log.Debugf("dictionary returned %d heights for [%d, %d] (dictionary height %d)",
		len(result.Heights), lo, hi, result.DictionaryHeight)

	return &result, nil
}

// GetMetadata returns the dictionary's chain id and indexed height.
func (c *Client) GetMetadata(ctx context.Context) (*dictionary.Metadata, error) {
	var meta dictionary.Metadata
	if err := c.do(ctx, http.MethodGet, "/metadata", nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsInc("error")
		return fmt.Errorf("dictionary %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	requestDurationLog(path, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		requestsInc("error")
		return fmt.Errorf("dictionary %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		requestsInc("malformed")
		return fmt.Errorf("dictionary %s %s: malformed response: %w", method, path, err)
	}

	requestsInc("ok")
	return nil
}

func validateHeights(heights []uint64, lo, hi uint64) error {
	if !slices.IsSorted(heights) {
		return fmt.Errorf("dictionary heights are not sorted")
	}
	for i, h := range heights {
		if h < lo || h > hi {
			return fmt.Errorf("dictionary height %d outside requested range [%d, %d]", h, lo, hi)
		}
		if i > 0 && heights[i-1] == h {
			return fmt.Errorf("dictionary height %d is duplicated", h)
		}
	}
	return nil
}
