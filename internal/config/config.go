package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries everything the binaries need from the environment. The
// provider credentials are loaded once at startup and threaded into the
// client constructors; nothing reads the environment after this.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// PSUIP is the end user's public IP, forwarded to the provider for
	// consent auditing. When empty the client detects it at startup.
	PSUIP string

	ProjectID string
	DatasetID string

	// ArchiveBucket enables raw payload archiving to GCS when non-empty.
	ArchiveBucket string

	SyncInterval time.Duration
	BackfillDays int
}

// FromEnv reads the configuration from environment variables. The
// provider credentials are required; everything else has a default.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ClientID:      os.Getenv("TRUELAYER_CLIENT_ID"),
		ClientSecret:  os.Getenv("TRUELAYER_CLIENT_SECRET"),
		RedirectURI:   os.Getenv("TRUELAYER_REDIRECT_URI"),
		PSUIP:         os.Getenv("TRUELAYER_PSU_IP"),
		ProjectID:     os.Getenv("GCP_PROJECT"),
		DatasetID:     "finance",
		ArchiveBucket: os.Getenv("ARCHIVE_BUCKET"),
		SyncInterval:  6 * time.Hour,
		BackfillDays:  60,
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("config: TRUELAYER_CLIENT_ID and TRUELAYER_CLIENT_SECRET are required")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("config: GCP_PROJECT is required")
	}

	if v := os.Getenv("BQ_DATASET"); v != "" {
		cfg.DatasetID = v
	}

	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: parsing SYNC_INTERVAL: %w", err)
		}
		cfg.SyncInterval = d
	}

	if v := os.Getenv("BACKFILL_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("config: BACKFILL_DAYS must be a positive integer, got %q", v)
		}
		cfg.BackfillDays = n
	}

	return cfg, nil
}
