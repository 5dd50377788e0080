package banksync

import (
	"context"
	"errors"
	"fmt"

	"github.com/nmorozov/bankfeed/internal/ledger"
	"github.com/nmorozov/bankfeed/internal/logger"
	"github.com/nmorozov/bankfeed/internal/truelayer"
)

// ErrLinkNotFound is returned when a sync targets an unknown link id.
var ErrLinkNotFound = errors.New("banksync: link not found")

// Service runs the engine against real provider clients. It builds one
// client per link, with token rotation wired back into the ledger.
type Service struct {
	cfg    truelayer.Config
	store  ledger.Ledger
	engine *Engine
}

// NewService assembles the service. archive may be nil.
func NewService(cfg truelayer.Config, store ledger.Ledger, archive Archiver, opts Options) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		engine: NewEngine(store, archive, opts),
	}
}

// Engine exposes the underlying engine, mainly for tests.
func (s *Service) Engine() *Engine {
	return s.engine
}

// clientFor builds a provider client seeded with the link's refresh
// token. Rotated tokens are written back to the ledger as soon as the
// provider issues them; the old token is dead at that point.
func (s *Service) clientFor(link ledger.Link) *truelayer.Client {
	var rotate truelayer.RotateFunc
	if link.ID != "" {
		linkID := link.ID
		rotate = func(ctx context.Context, token string) error {
			return s.store.UpdateLinkRefreshToken(ctx, linkID, token)
		}
	}
	tokens := truelayer.NewTokenManager(
		s.cfg.ClientID, s.cfg.ClientSecret, s.cfg.RedirectURI,
		s.cfg.AuthURL, s.cfg.HTTPClient, rotate,
	)
	tokens.SetRefreshToken(link.RefreshToken)
	return truelayer.NewClient(s.cfg, tokens)
}

// LinkWithCode exchanges an authorization code from the provider's
// consent flow, persists the resulting link, then discovers its accounts
// and backfills their history.
func (s *Service) LinkWithCode(ctx context.Context, code string) (string, error) {
	tokens := truelayer.NewTokenManager(
		s.cfg.ClientID, s.cfg.ClientSecret, s.cfg.RedirectURI,
		s.cfg.AuthURL, s.cfg.HTTPClient, nil,
	)
	pair, err := tokens.ExchangeCode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("banksync: exchanging authorization code: %w", err)
	}
	return s.adoptLink(ctx, pair.RefreshToken)
}

// LinkWithRefreshToken adopts a refresh token obtained out of band. The
// token is verified by refreshing it before the link is persisted.
func (s *Service) LinkWithRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	probe := s.clientFor(ledger.Link{RefreshToken: refreshToken})
	pair, err := probe.Tokens().Refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("banksync: verifying refresh token: %w", err)
	}
	return s.adoptLink(ctx, pair.RefreshToken)
}

func (s *Service) adoptLink(ctx context.Context, refreshToken string) (string, error) {
	linkID, err := s.store.AddLink(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	log := logger.FromContext(ctx).With().Str("link_id", linkID).Logger()
	ctx = logger.WithContext(ctx, log)
	log.Info().Msg("link persisted")

	link := ledger.Link{ID: linkID, RefreshToken: refreshToken}
	client := s.clientFor(link)
	if _, err := client.Tokens().Refresh(ctx); err != nil {
		return linkID, fmt.Errorf("banksync: authorizing new link: %w", err)
	}
	link.RefreshToken = client.Tokens().RefreshToken()

	if err := s.engine.DiscoverAccounts(ctx, client, linkID); err != nil {
		return linkID, err
	}
	if _, err := s.engine.Backfill(ctx, client, link); err != nil {
		return linkID, err
	}
	return linkID, nil
}

// SyncLink runs one incremental pass over the given link id.
func (s *Service) SyncLink(ctx context.Context, linkID string) (*Report, error) {
	links, err := s.store.GetLinks(ctx)
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if link.ID == linkID {
			return s.syncOne(ctx, link)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLinkNotFound, linkID)
}

// SyncAll runs an incremental pass over every link. A failing link is
// logged and skipped so one revoked consent cannot block the rest; the
// joined errors come back alongside the reports that did complete.
func (s *Service) SyncAll(ctx context.Context) ([]*Report, error) {
	links, err := s.store.GetLinks(ctx)
	if err != nil {
		return nil, err
	}

	var (
		reports []*Report
		errs    []error
	)
	for _, link := range links {
		report, err := s.syncOne(ctx, link)
		if err != nil {
			log := logger.FromContext(ctx)
			log.Error().Err(err).
				Str("link_id", link.ID).
				Msg("link sync failed")
			errs = append(errs, fmt.Errorf("link %s: %w", link.ID, err))
			continue
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

func (s *Service) syncOne(ctx context.Context, link ledger.Link) (*Report, error) {
	client := s.clientFor(link)

	// Refresh up front so every data call in the pass runs on a fresh
	// access token and the rotated refresh token is persisted early.
	if _, err := client.Tokens().Refresh(ctx); err != nil {
		return nil, fmt.Errorf("banksync: refreshing link %s: %w", link.ID, err)
	}

	if err := s.engine.DiscoverAccounts(ctx, client, link.ID); err != nil {
		return nil, err
	}
	return s.engine.SyncLink(ctx, client, link)
}
