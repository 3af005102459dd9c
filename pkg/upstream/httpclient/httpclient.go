// Package httpclient is the real-mode upstream.Client, selected whenever
// CSP_API_TOKEN is non-empty. It retries transient transport failures with
// bounded backoff and gives up after a fixed number of attempts, the same
// "retry transport errors, don't retry business errors" shape the
// teacher's reconciler applies when it swallows per-row store errors and
// continues.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/sandboxbroker/pkg/upstream"
)

const (
	defaultTimeout = 15 * time.Second
	maxAttempts    = 3
	baseBackoff    = 200 * time.Millisecond
)

// Client is the real upstream.Client, authenticated with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

type listResponse struct {
	Accounts []struct {
		ExternalID string `json:"external_id"`
		Name       string `json:"name"`
		State      string `json:"state"`
	} `json:"accounts"`
}

// List fetches the full upstream account inventory, retrying transport
// failures and 5xx responses up to maxAttempts times with linear backoff.
// Any other non-200 response is not retried; it is surfaced immediately as
// apierrors.Upstream by the reconciler that calls this.
func (c *Client) List(ctx context.Context) ([]upstream.Account, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		accounts, err := c.listOnce(ctx)
		if err == nil {
			return accounts, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * baseBackoff):
		}
	}
	return nil, lastErr
}

func (c *Client) listOnce(ctx context.Context) ([]upstream.Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/accounts", nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &transientError{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &transientError{fmt.Errorf("upstream returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}

	out := make([]upstream.Account, 0, len(body.Accounts))
	for _, a := range body.Accounts {
		out = append(out, upstream.Account{ExternalID: a.ExternalID, Name: a.Name, State: a.State})
	}
	return out, nil
}

// transientError marks a network-level or 5xx failure as retryable.
type transientError struct{ cause error }

func (e *transientError) Error() string { return e.cause.Error() }
func (e *transientError) Unwrap() error { return e.cause }

func isTransient(err error) bool {
	_, ok := err.(*transientError)
	return ok
}
