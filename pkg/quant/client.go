// Package quant is a Go SDK for the quant-server HTTP API.
package quant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is returned for replies outside the 2xx range.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quant api: %d %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the quant-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new quant API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Watchlist returns the watched symbols and their latest bars.
func (c *Client) Watchlist(ctx context.Context) (WatchlistResponse, error) {
	var out WatchlistResponse
	err := c.do(ctx, http.MethodGet, "/api/watchlist", nil, &out)
	return out, err
}

// SetWatchlist replaces the watchlist with symbols.
func (c *Client) SetWatchlist(ctx context.Context, symbols []string) (WatchlistResponse, error) {
	var out WatchlistResponse
	err := c.do(ctx, http.MethodPut, "/api/watchlist", WatchlistRequest{Symbols: symbols}, &out)
	return out, err
}

func (c *Client) AddSymbol(ctx context.Context, symbol string) error {
	return c.do(ctx, http.MethodPut, "/api/watchlist/"+url.PathEscape(symbol), nil, nil)
}

func (c *Client) RemoveSymbol(ctx context.Context, symbol string) error {
	return c.do(ctx, http.MethodDelete, "/api/watchlist/"+url.PathEscape(symbol), nil, nil)
}

// Positions returns the net position per watched symbol.
func (c *Client) Positions(ctx context.Context) (PositionsResponse, error) {
	var out PositionsResponse
	err := c.do(ctx, http.MethodGet, "/api/positions", nil, &out)
	return out, err
}

// Orders lists orders. status may be "", "open", "filled" or "history".
func (c *Client) Orders(ctx context.Context, status string) ([]Order, error) {
	path := "/api/orders"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out OrdersResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// Order returns a single order by id.
func (c *Client) Order(ctx context.Context, id int64) (Order, error) {
	var out Order
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/orders/%d", id), nil, &out)
	return out, err
}

// PlaceOrder submits a new order.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	var out Order
	err := c.do(ctx, http.MethodPost, "/api/orders", req, &out)
	return out, err
}

// CancelPendingOrders cancels every order not yet submitted to the venue.
func (c *Client) CancelPendingOrders(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/orders", nil, nil)
}

// Search looks up symbols by ticker or company name.
func (c *Client) Search(ctx context.Context, query string) ([]SymbolInfo, error) {
	var out SearchResponse
	if err := c.do(ctx, http.MethodGet, "/api/search?q="+url.QueryEscape(query), nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
