// Package httpsource reads paginated records from a REST JSON service.
//
// The service exposes:
//
//	GET /units                               -> ["unit-a", "unit-b", ...]
//	GET /units/{id}/count                    -> {"count": 1234}
//	GET /units/{id}/items?skip=400&limit=200 -> [{"id": "...", "url": "...", "payload": {...}}, ...]
//
// Items must be returned in a stable identity order so that skip/limit pages
// never overlap.
package httpsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	errs "reprocessor/pkg/errors"
	"reprocessor/pkg/logger"
	"reprocessor/pkg/source"
)

// Client is a source.Source and source.UnitLister over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	logger     logger.Logger
}

var (
	_ source.Source     = (*Client)(nil)
	_ source.UnitLister = (*Client)(nil)
)

// NewClient creates a client for baseURL. A non-empty token is sent as a
// bearer token on every request.
func NewClient(baseURL string, timeout time.Duration, token string, log logger.Logger) *Client {
	headers := map[string]string{
		"Accept":     "application/json",
		"User-Agent": "reprocessor/1.0",
	}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		headers:    headers,
		logger:     logger.OrNop(log),
	}
}

// ListUnits returns every unit id, sorted lexically.
func (c *Client) ListUnits(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.getJSON(ctx, "/units", nil, &ids); err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of items of a unit.
func (c *Client) Count(ctx context.Context, unitID string) (int64, error) {
	var body struct {
		Count int64 `json:"count"`
	}
	if err := c.getJSON(ctx, "/units/"+url.PathEscape(unitID)+"/count", nil, &body); err != nil {
		return 0, err
	}
	return body.Count, nil
}

// FetchPage returns the items [skip, skip+limit) of a unit.
func (c *Client) FetchPage(ctx context.Context, unitID string, skip, limit int) ([]source.Item, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))

	var items []source.Item
	if err := c.getJSON(ctx, "/units/"+url.PathEscape(unitID)+"/items", q, &items); err != nil {
		return nil, err
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, target interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errs.New(errs.ErrorTypeUnknown, 0, "failed to create request", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"url":      u,
			"error":    err.Error(),
			"duration": duration,
		})
		return errs.New(errs.ErrorTypeNetwork, 0, "request failed", err)
	}
	defer resp.Body.Close()

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"url":      u,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errs.New(errs.TypeForStatus(resp.StatusCode), resp.StatusCode,
			fmt.Sprintf("GET %s: %s", path, strings.TrimSpace(string(body))), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.New(errs.ErrorTypeParsing, resp.StatusCode, "failed to decode response", err)
	}
	return nil
}
