// Package liveness probes whether a backend is already listening locally.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
)

// StatusError is returned when a backend answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("probe %s: unexpected status %d", e.URL, e.StatusCode)
}

// Checker issues single liveness probes.
type Checker struct {
	client *http.Client
}

// NewChecker creates a Checker. A nil client uses a client without timeout.
func NewChecker(client *http.Client) *Checker {
	if client == nil {
		client = &http.Client{}
	}
	return &Checker{client: client}
}

// IsRunning issues one GET to url. A refused connection means the backend is
// not listening and yields false without error. Any other failure, including
// a non-2xx answer, is returned as an error.
func (c *Checker) IsRunning(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("creating probe request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return false, nil
		}
		return false, fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	return true, nil
}
