package truelayer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxAttempts bounds one logical call: the initial request, any re-issue
// after a token refresh, and every polling GET all draw from the same
// budget.
const maxAttempts = 3

// defaultPollDelay is the wait before following a results_uri or
// re-polling after a 204.
const defaultPollDelay = 1500 * time.Millisecond

// response is a terminal provider response. The caller interprets the
// status: 2xx carries the payload, anything else is a provider error.
type response struct {
	statusCode int
	body       []byte
}

// requestFn issues one HTTP request. It is re-invoked verbatim when the
// policy decides to retry the current target.
type requestFn func(ctx context.Context) (*http.Response, error)

// doWithPolicy runs one logical call under the retry/poll policy. After
// each response, in precedence order:
//
//  1. 401: refresh the access token (at most once per logical call) and
//     re-issue the current request.
//  2. 200/202 carrying results_uri: wait, then GET that URI under the
//     same policy; 204 means not ready, re-poll the same target.
//  3. anything else is terminal and returned as-is.
//
// Exceeding the attempt budget yields ErrRetryBudgetExhausted, never a
// fabricated provider response.
func (c *Client) doWithPolicy(ctx context.Context, issue requestFn) (*response, error) {
	refreshed := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := issue(ctx)
		if err != nil {
			return nil, fmt.Errorf("truelayer: request: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("truelayer: reading response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			if !refreshed {
				if _, err := c.tokens.Refresh(ctx); err != nil {
					return nil, err
				}
				refreshed = true
			}

		case resp.StatusCode == http.StatusNoContent:
			// Result not computed yet; same target, after the delay.
			if err := c.wait(ctx); err != nil {
				return nil, err
			}

		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
			if uri := resultsURI(body); uri != "" {
				if err := c.wait(ctx); err != nil {
					return nil, err
				}
				issue = func(ctx context.Context) (*http.Response, error) {
					return c.get(ctx, uri)
				}
				continue
			}
			return &response{statusCode: resp.StatusCode, body: body}, nil

		default:
			return &response{statusCode: resp.StatusCode, body: body}, nil
		}
	}

	return nil, ErrRetryBudgetExhausted
}

func (c *Client) wait(ctx context.Context) error {
	select {
	case <-time.After(c.pollDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resultsURI extracts the polling target from an asynchronous-job body,
// or returns "" for an inline result.
func resultsURI(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return env.ResultsURI
}
