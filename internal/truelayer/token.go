package truelayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// TokenState is the TokenManager lifecycle state.
type TokenState int

const (
	StateUnauthorized TokenState = iota
	StateAuthorized
	StateRefreshPending
	StateFailed
)

func (s TokenState) String() string {
	switch s {
	case StateAuthorized:
		return "authorized"
	case StateRefreshPending:
		return "refresh_pending"
	case StateFailed:
		return "failed"
	default:
		return "unauthorized"
	}
}

// RotateFunc receives the new refresh token after every successful
// exchange or refresh. It must persist the token before returning: the
// old token is already invalid, so a crash between rotation and
// persistence orphans the link.
type RotateFunc func(ctx context.Context, refreshToken string) error

// TokenManager owns one link's access/refresh token pair and performs
// code exchange and refresh against the token endpoint. Safe for
// concurrent use, though the engine drives one link from one goroutine.
type TokenManager struct {
	mu sync.Mutex

	clientID     string
	clientSecret string
	redirectURI  string
	tokenURL     string
	httpClient   *http.Client

	state    TokenState
	access   string
	refresh  string
	onRotate RotateFunc
}

// NewTokenManager creates a manager in the Unauthorized state.
func NewTokenManager(clientID, clientSecret, redirectURI, tokenURL string, httpClient *http.Client, onRotate RotateFunc) *TokenManager {
	if tokenURL == "" {
		tokenURL = defaultAuthURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenManager{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		tokenURL:     tokenURL,
		httpClient:   httpClient,
		state:        StateUnauthorized,
		onRotate:     onRotate,
	}
}

// SetRefreshToken seeds the manager with a pre-existing refresh token,
// e.g. one loaded from the ledger. The first authenticated call will
// refresh it into an access token.
func (m *TokenManager) SetRefreshToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh = token
}

// State returns the current lifecycle state.
func (m *TokenManager) State() TokenState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AccessToken returns the current access token, empty when unauthorized.
func (m *TokenManager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access
}

// RefreshToken returns the current refresh token.
func (m *TokenManager) RefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh
}

// ExchangeCode performs the one-shot authorization-code exchange. On a
// non-success status the manager stays Unauthorized and the provider's
// response body is carried on the returned AuthError.
func (m *TokenManager) ExchangeCode(ctx context.Context, code string) (TokenPair, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
		"redirect_uri":  {m.redirectURI},
		"code":          {code},
	}
	return m.requestTokens(ctx, form)
}

// Refresh exchanges the current refresh token for a new pair. On success
// both tokens are replaced atomically and the rotation callback persists
// the new refresh token. On provider rejection the previous tokens are
// retained so the caller may retry later.
func (m *TokenManager) Refresh(ctx context.Context) (TokenPair, error) {
	m.mu.Lock()
	refresh := m.refresh
	prev := m.state
	if refresh == "" {
		m.mu.Unlock()
		return TokenPair{}, fmt.Errorf("truelayer: no refresh token to refresh with")
	}
	m.state = StateRefreshPending
	m.mu.Unlock()

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
		"refresh_token": {refresh},
	}

	pair, err := m.requestTokens(ctx, form)
	if err != nil {
		m.mu.Lock()
		var authErr *AuthError
		if errors.As(err, &authErr) {
			m.state = StateFailed
		} else {
			m.state = prev
		}
		m.mu.Unlock()
		return TokenPair{}, err
	}
	return pair, nil
}

func (m *TokenManager) requestTokens(ctx context.Context, form url.Values) (TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenPair{}, fmt.Errorf("truelayer: building token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return TokenPair{}, fmt.Errorf("truelayer: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenPair{}, fmt.Errorf("truelayer: reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return TokenPair{}, &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var pair TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return TokenPair{}, fmt.Errorf("truelayer: decoding token response: %w", err)
	}

	m.mu.Lock()
	m.access = pair.AccessToken
	m.refresh = pair.RefreshToken
	m.state = StateAuthorized
	m.mu.Unlock()

	if m.onRotate != nil {
		if err := m.onRotate(ctx, pair.RefreshToken); err != nil {
			return pair, fmt.Errorf("truelayer: persisting rotated refresh token: %w", err)
		}
	}
	return pair, nil
}
