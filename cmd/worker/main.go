// Command worker runs the background sync service: a queue consumer for
// on-demand jobs plus a ticker that enqueues a pass over every link at
// the configured interval.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	log := logger.New().With().Str("component", "worker").Logger()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
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
	} else {
		log.Warn().Msg("No archive bucket configured - raw payloads will not be kept")
	}

	psuIP := cfg.PSUIP
	if psuIP == "" {
		detected, err := truelayer.DetectPublicIP(ctx, nil)
		if err != nil {
			log.Warn().Err(err).Msg("Could not detect public IP")
		} else {
			psuIP = detected
		}
	}

	service := banksync.NewService(truelayer.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		PSUIP:        psuIP,
	}, store, archiver, banksync.Options{BackfillDays: cfg.BackfillDays})

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(4, 100, jobStore)

	handler := func(ctx context.Context, job jobs.Job) error {
		syncJob, ok := job.(*jobs.SyncLinkJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		jobLog := log.With().Str("job_id", syncJob.JobID).Str("link_id", syncJob.LinkID).Logger()
		ctx = logger.WithContext(ctx, jobLog)
		jobLog.Info().Msg("Processing sync job")

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

	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	// Periodic passes: one job per link per tick. The queue serializes
	// per link, so a slow pass just delays the next one.
	go func() {
		ticker := time.NewTicker(cfg.SyncInterval)
		defer ticker.Stop()

		enqueueAll := func() {
			links, err := store.GetLinks(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to list links")
				return
			}
			for _, link := range links {
				job := &jobs.SyncLinkJob{LinkID: link.ID}
				if err := jobQueue.PublishSyncLink(ctx, job); err != nil {
					log.Error().Err(err).Str("link_id", link.ID).Msg("Failed to enqueue sync")
				}
			}
			log.Info().Int("links", len(links)).Msg("Enqueued periodic sync")
		}

		enqueueAll()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				enqueueAll()
			}
		}
	}()

	log.Info().Dur("interval", cfg.SyncInterval).Msg("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker")
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := jobQueue.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("Queue did not drain in time")
	}
	log.Info().Msg("Worker stopped")
}
