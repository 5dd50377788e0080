package truelayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// Config is the provider configuration threaded into client and token
// manager constructors; there is no ambient state.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// PSUIP is forwarded on every data call as X-PSU-IP, required by
	// the provider for consent auditing.
	PSUIP string

	// BaseURL and AuthURL override the production endpoints, mainly
	// for tests against a local double.
	BaseURL string
	AuthURL string

	// PollDelay overrides the wait between polling attempts.
	PollDelay time.Duration

	HTTPClient *http.Client
}

// Client issues authenticated calls against the provider's data API.
// Every method runs under the retry/poll policy in retry.go.
type Client struct {
	httpClient *http.Client
	tokens     *TokenManager
	endpoints  endpoints
	psuIP      string
	pollDelay  time.Duration
}

// NewClient builds a client around an existing token manager.
func NewClient(cfg Config, tokens *TokenManager) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	auth := cfg.AuthURL
	if auth == "" {
		auth = defaultAuthURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	delay := cfg.PollDelay
	if delay <= 0 {
		delay = defaultPollDelay
	}
	return &Client{
		httpClient: httpClient,
		tokens:     tokens,
		endpoints:  endpoints{base: base, auth: auth},
		psuIP:      cfg.PSUIP,
		pollDelay:  delay,
	}
}

// Tokens exposes the token manager, e.g. for seeding a refresh token.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// Accounts lists the link's bank accounts.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := c.getResults(ctx, c.endpoints.list(ResourceAccounts), &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Cards lists the link's cards.
func (c *Client) Cards(ctx context.Context) ([]Card, error) {
	var cards []Card
	if err := c.getResults(ctx, c.endpoints.list(ResourceCards), &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// Balance fetches the live balance of one account or card.
func (c *Client) Balance(ctx context.Context, resource Resource, accountID string) (Balance, error) {
	var balances []Balance
	if err := c.getResults(ctx, c.endpoints.balance(resource, accountID), &balances); err != nil {
		return Balance{}, err
	}
	if len(balances) == 0 {
		return Balance{}, fmt.Errorf("truelayer: balance response for %s carried no results", accountID)
	}
	return balances[0], nil
}

// BatchTransactions runs the batch transactions query for every account
// and card under the link. Wide windows are typically answered out of
// band; the retry policy follows the results_uri transparently.
func (c *Client) BatchTransactions(ctx context.Context, from, to civil.Date, pending, withBalance bool) (*BatchResponse, error) {
	payload, err := json.Marshal(batchRequest{
		From:    from.String(),
		To:      to.String(),
		Pending: pending,
		Balance: withBalance,
	})
	if err != nil {
		return nil, fmt.Errorf("truelayer: encoding batch request: %w", err)
	}

	url := c.endpoints.batchTransactions()
	resp, err := c.doWithPolicy(ctx, func(ctx context.Context) (*http.Response, error) {
		return c.post(ctx, url, payload)
	})
	if err != nil {
		return nil, err
	}
	if resp.statusCode < 200 || resp.statusCode > 299 {
		return nil, &ProviderError{StatusCode: resp.statusCode, Body: string(resp.body)}
	}

	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return nil, fmt.Errorf("truelayer: decoding batch response: %w", err)
	}
	var results batchResults
	if len(env.Results) > 0 {
		if err := json.Unmarshal(env.Results, &results); err != nil {
			return nil, fmt.Errorf("truelayer: decoding batch results: %w", err)
		}
	}
	return &BatchResponse{
		Status:   env.Status,
		Accounts: results.Accounts,
		Cards:    results.Cards,
		Raw:      resp.body,
	}, nil
}

// getResults GETs a data endpoint and decodes its "results" array.
func (c *Client) getResults(ctx context.Context, url string, out any) error {
	resp, err := c.doWithPolicy(ctx, func(ctx context.Context) (*http.Response, error) {
		return c.get(ctx, url)
	})
	if err != nil {
		return err
	}
	if resp.statusCode < 200 || resp.statusCode > 299 {
		return &ProviderError{StatusCode: resp.statusCode, Body: string(resp.body)}
	}

	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return fmt.Errorf("truelayer: decoding response from %s: %w", url, err)
	}
	if len(env.Results) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Results, out); err != nil {
		return fmt.Errorf("truelayer: decoding results from %s: %w", url, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	return c.httpClient.Do(req)
}

func (c *Client) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.tokens.AccessToken())
	req.Header.Set("X-Client-Correlation-Id", uuid.NewString())
	if c.psuIP != "" {
		req.Header.Set("X-PSU-IP", c.psuIP)
	}
}

// DetectPublicIP asks ipify for the caller's public address, used as the
// X-PSU-IP value when none is configured.
func DetectPublicIP(ctx context.Context, httpClient *http.Client) (string, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.ipify.org", nil)
	if err != nil {
		return "", err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("truelayer: detecting public IP: %w", err)
	}
	defer resp.Body.Close()

	ip, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("truelayer: reading public IP response: %w", err)
	}
	return string(ip), nil
}
