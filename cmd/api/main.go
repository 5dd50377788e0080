// Command api serves the HTTP API: linking banks, inspecting the
// ledger, and triggering sync jobs. The job queue runs in-process, so a
// single instance both accepts and executes sync work.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nmorozov/bankfeed/internal/api/handlers"
	"github.com/nmorozov/bankfeed/internal/api/middleware"
	"github.com/nmorozov/bankfeed/internal/archive"
	"github.com/nmorozov/bankfeed/internal/banksync"
	"github.com/nmorozov/bankfeed/internal/config"
	infraBQ "github.com/nmorozov/bankfeed/internal/infra/bigquery"
	"github.com/nmorozov/bankfeed/internal/jobs"
	"github.com/nmorozov/bankfeed/internal/jobs/inmemory"
	"github.com/nmorozov/bankfeed/internal/logger"
	"github.com/nmorozov/bankfeed/internal/truelayer"
)

func main() {
	port := flag.String("port", "8080", "HTTP server port")
	flag.Parse()

	log := logger.New().With().Str("component", "api").Logger()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()
	ctx = logger.WithContext(ctx, log)

	store, err := infraBQ.NewStore(ctx, cfg.ProjectID, cfg.DatasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ledger store")
	}
	defer store.Close()

	var archiver banksync.Archiver
	if cfg.ArchiveBucket != "" {
		gcs, err := archive.New(ctx, cfg.ArchiveBucket, "batches")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create archive store")
		}
		defer gcs.Close()
		archiver = gcs
	}

	service := banksync.NewService(truelayer.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		PSUIP:        cfg.PSUIP,
	}, store, archiver, banksync.Options{BackfillDays: cfg.BackfillDays})

	// Job infrastructure. In-memory is fine here because sync jobs for
	// one link must run on the instance that owns its token anyway.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(4, 100, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job jobs.Job) error {
		syncJob, ok := job.(*jobs.SyncLinkJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		jobLog := log.With().Str("job_id", syncJob.JobID).Str("link_id", syncJob.LinkID).Logger()
		ctx = logger.WithContext(ctx, jobLog)

		report, err := service.SyncLink(ctx, syncJob.LinkID)
		if err != nil {
			jobLog.Error().Err(err).Msg("Sync failed")
			return err
		}
		jobLog.Info().
			Bool("skipped", report.Skipped).
			Int("inserted", report.Inserted()).
			Msg("Sync completed")
		return nil
	}

	go func() {
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	linksHandler := handlers.NewLinksHandler(store, service, jobQueue, log)
	transactionsHandler := handlers.NewTransactionsHandler(store, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/links", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			linksHandler.ListLinks(w, r)
		case http.MethodPost:
			linksHandler.CreateLink(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/links/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/links/")
		parts := strings.SplitN(rest, "/", 2)
		if parts[0] == "" || len(parts) != 2 {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		linkID, action := parts[0], parts[1]

		switch {
		case action == "accounts" && r.Method == http.MethodGet:
			linksHandler.ListAccounts(w, r, linkID)
		case action == "sync" && r.Method == http.MethodPost:
			linksHandler.EnqueueSync(w, r, linkID)
		default:
			middleware.WriteError(w, http.StatusNotFound, "Not found")
		}
	})

	mux.HandleFunc("/api/accounts/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/accounts/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] != "transactions" {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		transactionsHandler.ListTransactions(w, r, parts[0])
	})

	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		jobsHandler.GetJob(w, r, jobID)
	})

	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			linksHandler.Callback(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	handler := middleware.Logger(log)(
		middleware.Recovery(log)(
			middleware.CORS(mux),
		),
	)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // linking backfills synchronously
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		log.Info().Str("port", *port).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	cancelWorker()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	_ = jobQueue.Stop(stopCtx)

	log.Info().Msg("API server stopped")
}
