package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/nmorozov/bankfeed/internal/api/handlers"
	"github.com/nmorozov/bankfeed/internal/jobs/inmemory"
	"github.com/nmorozov/bankfeed/internal/ledger"
)

// stubLedger satisfies ledger.Ledger; tests override what they need.
type stubLedger struct {
	links    []ledger.Link
	accounts map[bool][]ledger.Account
	txs      []ledger.Transaction
}

func (s *stubLedger) GetLinks(ctx context.Context) ([]ledger.Link, error) { return s.links, nil }
func (s *stubLedger) AddLink(ctx context.Context, refreshToken string) (string, error) {
	return "", nil
}
func (s *stubLedger) UpdateLinkRefreshToken(ctx context.Context, linkID, refreshToken string) error {
	return nil
}
func (s *stubLedger) GetAccounts(ctx context.Context, linkID string, card bool) ([]ledger.Account, error) {
	return s.accounts[card], nil
}
func (s *stubLedger) AddAccount(ctx context.Context, account ledger.Account) error { return nil }
func (s *stubLedger) SetOverdraft(ctx context.Context, accountID string, limit float64) error {
	return nil
}
func (s *stubLedger) SetCreditLimit(ctx context.Context, accountID string, limit float64) error {
	return nil
}
func (s *stubLedger) GetLastTransaction(ctx context.Context, accountID string) (*ledger.Transaction, error) {
	return nil, nil
}
func (s *stubLedger) GetTransactions(ctx context.Context, accountID string, from, to civil.Date) ([]ledger.Transaction, error) {
	return s.txs, nil
}
func (s *stubLedger) InsertTransaction(ctx context.Context, tx ledger.Transaction) error { return nil }
func (s *stubLedger) InsertPendingTransaction(ctx context.Context, tx ledger.PendingTransaction) error {
	return nil
}
func (s *stubLedger) DeletePendingTransactions(ctx context.Context, accountID string) error {
	return nil
}

type stubLinker struct {
	codeErr error
}

func (l *stubLinker) LinkWithCode(ctx context.Context, code string) (string, error) {
	if l.codeErr != nil {
		return "", l.codeErr
	}
	return "link-from-code", nil
}

func (l *stubLinker) LinkWithRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	return "link-from-token", nil
}

func TestCreateLink(t *testing.T) {
	h := handlers.NewLinksHandler(&stubLedger{}, &stubLinker{}, nil, zerolog.Nop())

	t.Run("WithCode", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/links", strings.NewReader(`{"code":"abc"}`))
		h.CreateLink(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201", rec.Code)
		}
		var body map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["link_id"] != "link-from-code" {
			t.Errorf("link_id = %q", body["link_id"])
		}
	})

	t.Run("WithRefreshToken", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/links", strings.NewReader(`{"refresh_token":"rt"}`))
		h.CreateLink(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201", rec.Code)
		}
	})

	t.Run("MissingCredential", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/links", strings.NewReader(`{}`))
		h.CreateLink(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("ProviderRejection", func(t *testing.T) {
		h := handlers.NewLinksHandler(&stubLedger{}, &stubLinker{codeErr: errors.New("invalid_grant")}, nil, zerolog.Nop())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/links", strings.NewReader(`{"code":"bad"}`))
		h.CreateLink(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", rec.Code)
		}
	})
}

func TestListLinks_HidesRefreshTokens(t *testing.T) {
	store := &stubLedger{links: []ledger.Link{{ID: "link-1", RefreshToken: "super-secret"}}}
	h := handlers.NewLinksHandler(store, &stubLinker{}, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ListLinks(rec, httptest.NewRequest(http.MethodGet, "/api/links", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "super-secret") {
		t.Error("refresh token leaked in response")
	}
	if !strings.Contains(rec.Body.String(), "link-1") {
		t.Error("link id missing from response")
	}
}

func TestEnqueueSync(t *testing.T) {
	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(1, 4, jobStore)
	h := handlers.NewLinksHandler(&stubLedger{}, &stubLinker{}, queue, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/links/link-1/sync", nil)
	h.EnqueueSync(rec, req, "link-1")

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["job_id"] == "" {
		t.Fatal("no job_id in response")
	}

	saved, err := jobStore.GetJob(context.Background(), body["job_id"])
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if saved.LinkID != "link-1" {
		t.Errorf("job link id = %q, want link-1", saved.LinkID)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	h := handlers.NewJobsHandler(inmemory.NewStore(), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.GetJob(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil), "nope")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListTransactions_RequiresWindow(t *testing.T) {
	h := handlers.NewTransactionsHandler(&stubLedger{}, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/accounts/acc-1/transactions", nil)
	h.ListTransactions(rec, req, "acc-1")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListTransactions(t *testing.T) {
	store := &stubLedger{txs: []ledger.Transaction{{AccountID: "acc-1", NormalisedID: "t1", Currency: "GBP"}}}
	h := handlers.NewTransactionsHandler(store, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/accounts/acc-1/transactions?from=2024-01-01&to=2024-01-31", nil)
	h.ListTransactions(rec, req, "acc-1")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 {
		t.Errorf("count = %d, want 1", body.Count)
	}
}
