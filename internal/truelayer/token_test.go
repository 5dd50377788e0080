package truelayer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExchangeCode_Success(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		gotForm = map[string]string{
			"grant_type":   r.PostFormValue("grant_type"),
			"client_id":    r.PostFormValue("client_id"),
			"redirect_uri": r.PostFormValue("redirect_uri"),
			"code":         r.PostFormValue("code"),
		}
		fmt.Fprint(w, `{"access_token":"access-1","refresh_token":"refresh-1"}`)
	}))
	defer srv.Close()

	var rotated []string
	tm := NewTokenManager("client-id", "secret", "https://example.com/cb", srv.URL, srv.Client(),
		func(ctx context.Context, token string) error {
			rotated = append(rotated, token)
			return nil
		})

	pair, err := tm.ExchangeCode(context.Background(), "auth-code-123")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}

	if gotForm["grant_type"] != "authorization_code" {
		t.Errorf("grant_type = %q", gotForm["grant_type"])
	}
	if gotForm["code"] != "auth-code-123" {
		t.Errorf("code = %q", gotForm["code"])
	}
	if gotForm["redirect_uri"] != "https://example.com/cb" {
		t.Errorf("redirect_uri = %q", gotForm["redirect_uri"])
	}
	if pair.AccessToken != "access-1" || pair.RefreshToken != "refresh-1" {
		t.Errorf("unexpected pair: %+v", pair)
	}
	if tm.State() != StateAuthorized {
		t.Errorf("state = %v, want authorized", tm.State())
	}
	if len(rotated) != 1 || rotated[0] != "refresh-1" {
		t.Errorf("rotation callback got %v, want [refresh-1]", rotated)
	}
}

func TestExchangeCode_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	tm := NewTokenManager("client-id", "secret", "https://example.com/cb", srv.URL, srv.Client(), nil)

	_, err := tm.ExchangeCode(context.Background(), "bad-code")

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", authErr.StatusCode)
	}
	if authErr.Body == "" {
		t.Error("expected provider body on the error")
	}
	if tm.State() != StateUnauthorized {
		t.Errorf("state = %v, want unauthorized after failed exchange", tm.State())
	}
}

func TestRefresh_RotatesBothTokens(t *testing.T) {
	var sentRefresh string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostFormValue("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q", r.PostFormValue("grant_type"))
		}
		sentRefresh = r.PostFormValue("refresh_token")
		fmt.Fprint(w, `{"access_token":"access-2","refresh_token":"refresh-2"}`)
	}))
	defer srv.Close()

	var rotated []string
	tm := NewTokenManager("client-id", "secret", "https://example.com/cb", srv.URL, srv.Client(),
		func(ctx context.Context, token string) error {
			rotated = append(rotated, token)
			return nil
		})
	tm.SetRefreshToken("refresh-1")

	if _, err := tm.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if sentRefresh != "refresh-1" {
		t.Errorf("sent refresh token %q, want refresh-1", sentRefresh)
	}
	if tm.AccessToken() != "access-2" || tm.RefreshToken() != "refresh-2" {
		t.Errorf("tokens not replaced: access=%q refresh=%q", tm.AccessToken(), tm.RefreshToken())
	}
	if len(rotated) != 1 || rotated[0] != "refresh-2" {
		t.Errorf("rotation callback got %v, want [refresh-2]", rotated)
	}
}

func TestRefresh_RejectedKeepsPreviousTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	tm := NewTokenManager("client-id", "secret", "https://example.com/cb", srv.URL, srv.Client(), nil)
	tm.SetRefreshToken("refresh-1")

	_, err := tm.Refresh(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if tm.RefreshToken() != "refresh-1" {
		t.Errorf("refresh token must be retained on failure, got %q", tm.RefreshToken())
	}
	if tm.State() != StateFailed {
		t.Errorf("state = %v, want failed after provider rejection", tm.State())
	}
}

func TestRefresh_WithoutToken(t *testing.T) {
	tm := NewTokenManager("client-id", "secret", "https://example.com/cb", "http://127.0.0.1:0", nil, nil)

	if _, err := tm.Refresh(context.Background()); err == nil {
		t.Fatal("expected an error when refreshing without a token")
	}
}
