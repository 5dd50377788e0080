// Package banksync pulls transactions from a linked bank and folds them
// into the ledger. The engine owns window selection and the merge; it
// talks to the provider through the Provider interface so one engine
// serves every link.
package banksync

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/nmorozov/bankfeed/internal/ledger"
	"github.com/nmorozov/bankfeed/internal/logger"
	"github.com/nmorozov/bankfeed/internal/truelayer"
)

const defaultBackfillDays = 60

// Options tune the engine. The zero value is usable.
type Options struct {
	// BackfillDays sets how far back the first sync of a fresh account
	// reaches. Defaults to 60.
	BackfillDays int

	// StopOnEmptyAccount aborts the remaining accounts of a link as soon
	// as one account yields no new transactions. Off by default: a dormant
	// account should not starve the active ones.
	StopOnEmptyAccount bool

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// AccountReport summarises one account's share of a sync pass.
type AccountReport struct {
	AccountID string
	Fetched   int
	Inserted  int
	Path      InsertPath

	// BalanceVerified is false when the fallback path inserted rows whose
	// running balances do not chain. The rows are kept; the flag is for
	// the operator.
	BalanceVerified bool
}

// Report summarises a full sync pass over one link.
type Report struct {
	LinkID   string
	From, To civil.Date

	// Skipped is set when the ledger is already current and no provider
	// call was made.
	Skipped bool

	Accounts []AccountReport
}

// Inserted totals the new rows across every account in the pass.
func (r *Report) Inserted() int {
	n := 0
	for _, a := range r.Accounts {
		n += a.Inserted
	}
	return n
}

// Engine coordinates provider pulls and ledger writes.
type Engine struct {
	store   ledger.Ledger
	archive Archiver
	opts    Options
}

// NewEngine builds an engine over the ledger. archive may be nil.
func NewEngine(store ledger.Ledger, archive Archiver, opts Options) *Engine {
	if opts.BackfillDays <= 0 {
		opts.BackfillDays = defaultBackfillDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{store: store, archive: archive, opts: opts}
}

func (e *Engine) today() civil.Date {
	return civil.DateOf(e.opts.Now().UTC())
}

// SyncLink runs one incremental pass over a link: pick the window from
// the ledger's high-water mark, pull the batch, merge per account, then
// replace the pending sets.
func (e *Engine) SyncLink(ctx context.Context, p Provider, link ledger.Link) (*Report, error) {
	log := logger.FromContext(ctx).With().Str("link_id", link.ID).Logger()
	ctx = logger.WithContext(ctx, log)

	accounts, err := e.allAccounts(ctx, link.ID)
	if err != nil {
		return nil, err
	}

	to := e.today()
	from, err := e.windowStart(ctx, accounts, to)
	if err != nil {
		return nil, err
	}
	report := &Report{LinkID: link.ID, From: from, To: to}
	if !from.Before(to) {
		log.Info().Str("from", from.String()).Msg("ledger is current, skipping pull")
		report.Skipped = true
		return report, nil
	}

	log.Info().Str("from", from.String()).Str("to", to.String()).Msg("pulling transactions")
	if err := e.pullWindow(ctx, p, link.ID, from, to, report); err != nil {
		return report, err
	}
	if err := e.refreshPending(ctx, p, from, to); err != nil {
		return report, err
	}
	log.Info().Int("inserted", report.Inserted()).Msg("sync pass complete")
	return report, nil
}

// Backfill seeds a freshly linked bank: it pulls the full backfill
// window without consulting per-account history.
func (e *Engine) Backfill(ctx context.Context, p Provider, link ledger.Link) (*Report, error) {
	log := logger.FromContext(ctx).With().Str("link_id", link.ID).Logger()
	ctx = logger.WithContext(ctx, log)

	to := e.today()
	from := to.AddDays(-e.opts.BackfillDays)
	report := &Report{LinkID: link.ID, From: from, To: to}

	log.Info().Str("from", from.String()).Str("to", to.String()).Msg("backfilling link")
	if err := e.pullWindow(ctx, p, link.ID, from, to, report); err != nil {
		return report, err
	}
	if err := e.refreshPending(ctx, p, from, to); err != nil {
		return report, err
	}
	return report, nil
}

// windowStart picks the earliest resume point across the link's
// accounts. An account with no history pushes the window back to the
// full backfill depth so its opening run is captured.
func (e *Engine) windowStart(ctx context.Context, accounts []ledger.Account, today civil.Date) (civil.Date, error) {
	start := today
	for _, acc := range accounts {
		last, err := e.store.GetLastTransaction(ctx, acc.AccountID)
		if err != nil {
			return civil.Date{}, err
		}
		candidate := today.AddDays(-e.opts.BackfillDays)
		if last != nil {
			candidate = last.Timestamp
		}
		if candidate.Before(start) {
			start = candidate
		}
	}
	return start, nil
}

func (e *Engine) allAccounts(ctx context.Context, linkID string) ([]ledger.Account, error) {
	accounts, err := e.store.GetAccounts(ctx, linkID, false)
	if err != nil {
		return nil, err
	}
	cards, err := e.store.GetAccounts(ctx, linkID, true)
	if err != nil {
		return nil, err
	}
	return append(accounts, cards...), nil
}

// pullWindow issues the settled-transactions batch call and merges every
// returned account and card.
func (e *Engine) pullWindow(ctx context.Context, p Provider, linkID string, from, to civil.Date, report *Report) error {
	resp, err := p.BatchTransactions(ctx, from, to, false, true)
	if err != nil {
		return fmt.Errorf("banksync: batch transactions: %w", err)
	}
	if resp.Failed() {
		return fmt.Errorf("banksync: provider reported batch status %q", resp.Status)
	}
	e.archiveBatch(ctx, linkID, resp.Raw)

	for _, batch := range append(resp.Accounts, resp.Cards...) {
		acc, err := e.mergeAccount(ctx, batch, from, to)
		if err != nil {
			return fmt.Errorf("banksync: merging account %s: %w", batch.AccountID, err)
		}
		report.Accounts = append(report.Accounts, acc)
		if acc.Inserted == 0 && e.opts.StopOnEmptyAccount {
			log := logger.FromContext(ctx)
			log.Info().
				Str("account_id", batch.AccountID).
				Msg("account yielded nothing new, stopping link")
			break
		}
	}
	return nil
}

// refreshPending replaces each account's provisional set with the
// provider's current view. Pending rows have no stable identity, so the
// old set is dropped wholesale rather than merged.
func (e *Engine) refreshPending(ctx context.Context, p Provider, from, to civil.Date) error {
	resp, err := p.BatchTransactions(ctx, from, to, true, false)
	if err != nil {
		return fmt.Errorf("banksync: batch pending transactions: %w", err)
	}
	if resp.Failed() {
		return fmt.Errorf("banksync: provider reported pending batch status %q", resp.Status)
	}

	for _, batch := range append(resp.Accounts, resp.Cards...) {
		if err := e.store.DeletePendingTransactions(ctx, batch.AccountID); err != nil {
			return err
		}
		for i := len(batch.Transactions) - 1; i >= 0; i-- {
			tx, err := toPendingTransaction(batch.AccountID, batch.Transactions[i])
			if err != nil {
				return err
			}
			if err := e.store.InsertPendingTransaction(ctx, tx); err != nil {
				return err
			}
		}
	}
	return nil
}

// DiscoverAccounts persists the link's accounts and cards on first sight
// and seeds their limits. Re-running against an already discovered link
// is a no-op per resource kind.
func (e *Engine) DiscoverAccounts(ctx context.Context, p Provider, linkID string) error {
	log := logger.FromContext(ctx).With().Str("link_id", linkID).Logger()

	known, err := e.store.GetAccounts(ctx, linkID, false)
	if err != nil {
		return err
	}
	if len(known) == 0 {
		accounts, err := p.Accounts(ctx)
		if err != nil {
			return fmt.Errorf("banksync: listing accounts: %w", err)
		}
		for _, wire := range accounts {
			if err := e.store.AddAccount(ctx, toAccount(linkID, wire)); err != nil {
				return err
			}
		}
		log.Info().Int("count", len(accounts)).Msg("discovered accounts")
	}

	knownCards, err := e.store.GetAccounts(ctx, linkID, true)
	if err != nil {
		return err
	}
	if len(knownCards) == 0 {
		cards, err := p.Cards(ctx)
		if err != nil {
			return fmt.Errorf("banksync: listing cards: %w", err)
		}
		for _, wire := range cards {
			if err := e.store.AddAccount(ctx, toCard(linkID, wire)); err != nil {
				return err
			}
		}
		log.Info().Int("count", len(cards)).Msg("discovered cards")
	}

	return e.RefreshLimits(ctx, p, linkID)
}

// RefreshLimits re-reads the live balance of every account and card and
// stores the overdraft or credit limit it carries.
func (e *Engine) RefreshLimits(ctx context.Context, p Provider, linkID string) error {
	accounts, err := e.store.GetAccounts(ctx, linkID, false)
	if err != nil {
		return err
	}
	for _, acc := range accounts {
		balance, err := p.Balance(ctx, truelayer.ResourceAccounts, acc.AccountID)
		if err != nil {
			return fmt.Errorf("banksync: balance for account %s: %w", acc.AccountID, err)
		}
		if err := e.store.SetOverdraft(ctx, acc.AccountID, balance.Overdraft); err != nil {
			return err
		}
	}

	cards, err := e.store.GetAccounts(ctx, linkID, true)
	if err != nil {
		return err
	}
	for _, card := range cards {
		balance, err := p.Balance(ctx, truelayer.ResourceCards, card.AccountID)
		if err != nil {
			return fmt.Errorf("banksync: balance for card %s: %w", card.AccountID, err)
		}
		if err := e.store.SetCreditLimit(ctx, card.AccountID, balance.CreditLimit); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) archiveBatch(ctx context.Context, linkID string, payload []byte) {
	if e.archive == nil || len(payload) == 0 {
		return
	}
	// Archiving is best-effort: a failed upload must not fail the sync.
	if err := e.archive.ArchiveBatch(ctx, linkID, payload); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("archiving batch payload failed")
	}
}
