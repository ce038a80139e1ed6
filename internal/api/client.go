// Package api fetches portal collections over REST for the query cache.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mockexam/livefeed/internal/cache"
)

const userAgent = "livefeed/1.0"

var paths = map[cache.Key]string{
	cache.KeyExamAttempts:  "/exam-attempts",
	cache.KeyBookings:      "/bookings",
	cache.KeyPayments:      "/payments",
	cache.KeyActiveUsers:   "/users/active",
	cache.KeyNotifications: "/notifications",
	cache.KeyExams:         "/exams",
}

// Path returns the endpoint for key relative to the API base URL.
func Path(key cache.Key) (string, bool) {
	p, ok := paths[key]
	return p, ok
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Fetch(ctx context.Context, key cache.Key) ([]byte, error) {
	path, ok := paths[key]
	if !ok {
		return nil, fmt.Errorf("no endpoint for %q", key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
