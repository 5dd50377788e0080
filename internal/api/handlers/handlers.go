// Package handlers implements the HTTP API: linking banks, inspecting
// the ledger, and triggering sync jobs.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/nmorozov/bankfeed/internal/api/middleware"
	"github.com/nmorozov/bankfeed/internal/jobs"
	"github.com/nmorozov/bankfeed/internal/ledger"
)

// Linker performs the synchronous part of adding a bank link.
type Linker interface {
	LinkWithCode(ctx context.Context, code string) (string, error)
	LinkWithRefreshToken(ctx context.Context, refreshToken string) (string, error)
}

// LinksHandler handles link and account endpoints.
type LinksHandler struct {
	store     ledger.Ledger
	linker    Linker
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewLinksHandler creates a new links handler.
func NewLinksHandler(store ledger.Ledger, linker Linker, publisher jobs.Publisher, log zerolog.Logger) *LinksHandler {
	return &LinksHandler{store: store, linker: linker, publisher: publisher, log: log}
}

// ListLinks handles GET /api/links. Refresh tokens never leave the
// service; only link ids are returned.
func (h *LinksHandler) ListLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.store.GetLinks(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list links")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list links")
		return
	}

	ids := make([]string, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.ID)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"links": ids,
		"count": len(ids),
	})
}

// CreateLink handles POST /api/links. The body carries either an
// authorization code from the consent flow or a refresh token obtained
// out of band. Linking is synchronous: it verifies the credential,
// discovers accounts and backfills history before returning.
func (h *LinksHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code         string `json:"code"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var (
		linkID string
		err    error
	)
	switch {
	case req.Code != "":
		linkID, err = h.linker.LinkWithCode(r.Context(), req.Code)
	case req.RefreshToken != "":
		linkID, err = h.linker.LinkWithRefreshToken(r.Context(), req.RefreshToken)
	default:
		middleware.WriteError(w, http.StatusBadRequest, "Either code or refresh_token is required")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create link")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to create link")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]string{"link_id": linkID})
}

// Callback handles GET /callback, the consent flow's redirect target.
func (h *LinksHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteError(w, http.StatusBadRequest, "code query parameter is required")
		return
	}

	linkID, err := h.linker.LinkWithCode(r.Context(), code)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to complete consent callback")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to complete linking")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"link_id": linkID})
}

// ListAccounts handles GET /api/links/:linkId/accounts.
func (h *LinksHandler) ListAccounts(w http.ResponseWriter, r *http.Request, linkID string) {
	ctx := r.Context()

	accounts, err := h.store.GetAccounts(ctx, linkID, false)
	if err != nil {
		h.log.Error().Err(err).Str("link_id", linkID).Msg("Failed to list accounts")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list accounts")
		return
	}
	cards, err := h.store.GetAccounts(ctx, linkID, true)
	if err != nil {
		h.log.Error().Err(err).Str("link_id", linkID).Msg("Failed to list cards")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list cards")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"cards":    cards,
	})
}

// EnqueueSync handles POST /api/links/:linkId/sync. The pass itself runs
// on the worker; the response carries the job id to poll.
func (h *LinksHandler) EnqueueSync(w http.ResponseWriter, r *http.Request, linkID string) {
	job := &jobs.SyncLinkJob{LinkID: linkID}
	if err := h.publisher.PublishSyncLink(r.Context(), job); err != nil {
		h.log.Error().Err(err).Str("link_id", linkID).Msg("Failed to enqueue sync")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue sync")
		return
	}

	h.log.Info().Str("link_id", linkID).Str("job_id", job.JobID).Msg("Sync enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// TransactionsHandler handles ledger read endpoints.
type TransactionsHandler struct {
	store ledger.Ledger
	log   zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(store ledger.Ledger, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{store: store, log: log}
}

// ListTransactions handles GET /api/accounts/:accountId/transactions.
// from and to are required query parameters in YYYY-MM-DD form.
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request, accountID string) {
	from, err := civil.ParseDate(r.URL.Query().Get("from"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "from must be a date in YYYY-MM-DD form")
		return
	}
	to, err := civil.ParseDate(r.URL.Query().Get("to"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "to must be a date in YYYY-MM-DD form")
		return
	}

	txs, err := h.store.GetTransactions(r.Context(), accountID, from, to)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to list transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

// JobsHandler handles job status endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{store: store, log: log}
}

// ListJobs handles GET /api/jobs with optional link_id and status
// filters.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := jobs.JobFilter{
		LinkID: r.URL.Query().Get("link_id"),
		Status: jobs.JobStatus(r.URL.Query().Get("status")),
	}

	list, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetJob handles GET /api/jobs/:jobId.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}
