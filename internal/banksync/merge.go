package banksync

import (
	"context"
	"math"

	"cloud.google.com/go/civil"

	"github.com/nmorozov/bankfeed/internal/ledger"
	"github.com/nmorozov/bankfeed/internal/logger"
	"github.com/nmorozov/bankfeed/internal/truelayer"
)

// InsertPath records which insertion strategy handled an account during
// one merge pass.
type InsertPath string

const (
	// PathNone means every fetched transaction was already persisted.
	PathNone InsertPath = "none"
	// PathFast means the provider's balance matched the tail of the
	// fetched run, so the reversed order was trusted as-is.
	PathFast InsertPath = "fast"
	// PathFallback means same-day ordering had to be reconstructed from
	// day buckets.
	PathFallback InsertPath = "fallback"
)

// balanceTolerance absorbs float noise when comparing money amounts.
const balanceTolerance = 0.005

func amountsEqual(a, b float64) bool {
	return math.Abs(a-b) < balanceTolerance
}

// mergeAccount folds one account's batch results into the ledger. The
// provider returns transactions newest-first with no idempotency
// guarantees, so the merge rebuilds ascending order, drops everything
// already persisted in the overlap window, and only then inserts.
func (e *Engine) mergeAccount(ctx context.Context, batch truelayer.BatchAccount, from, to civil.Date) (AccountReport, error) {
	log := logger.FromContext(ctx).With().Str("account_id", batch.AccountID).Logger()
	report := AccountReport{AccountID: batch.AccountID, Fetched: len(batch.Transactions), Path: PathNone}

	last, err := e.store.GetLastTransaction(ctx, batch.AccountID)
	if err != nil {
		return report, err
	}

	overlap, err := e.overlapSet(ctx, batch.AccountID, from, to, last)
	if err != nil {
		return report, err
	}

	// Reverse into ascending order and drop known transactions. The
	// overlap window starts a day before the request so boundary-day
	// duplicates are caught even when the provider shifts timestamps.
	incoming := make([]ledger.Transaction, 0, len(batch.Transactions))
	for i := len(batch.Transactions) - 1; i >= 0; i-- {
		wire := batch.Transactions[i]
		if _, seen := overlap[wire.DedupID()]; seen {
			continue
		}
		tx, err := toTransaction(batch.AccountID, wire)
		if err != nil {
			return report, err
		}
		incoming = append(incoming, tx)
	}
	if len(incoming) == 0 {
		log.Debug().Int("fetched", report.Fetched).Msg("no new transactions")
		return report, nil
	}

	if e.fastPathApplies(batch.Balance, incoming) {
		report.Path = PathFast
		report.BalanceVerified = true
		for _, tx := range incoming {
			if err := e.store.InsertTransaction(ctx, tx); err != nil {
				return report, err
			}
			report.Inserted++
		}
		log.Info().Int("inserted", report.Inserted).Msg("merged on fast path")
		return report, nil
	}

	// Same-day provider order is not reliable when the balance check
	// fails, so rebuild each day from its bucket.
	ordered := reorderByDay(incoming)
	report.Path = PathFallback
	report.BalanceVerified = chainConsistent(last, ordered)
	for _, tx := range ordered {
		if err := e.store.InsertTransaction(ctx, tx); err != nil {
			return report, err
		}
		report.Inserted++
	}
	ev := log.Info()
	if !report.BalanceVerified {
		ev = log.Warn()
	}
	ev.Int("inserted", report.Inserted).
		Bool("balance_verified", report.BalanceVerified).
		Msg("merged on fallback path")
	return report, nil
}

// overlapSet collects the dedup ids already persisted around the fetch
// window. The window extends past the requested end up to the last
// persisted transaction, which can be newer when a previous sync ran
// ahead of this one's range.
func (e *Engine) overlapSet(ctx context.Context, accountID string, from, to civil.Date, last *ledger.Transaction) (map[string]struct{}, error) {
	overlapTo := to
	if last != nil && last.Timestamp.After(overlapTo) {
		overlapTo = last.Timestamp
	}
	persisted, err := e.store.GetTransactions(ctx, accountID, from.AddDays(-1), overlapTo)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(persisted))
	for _, tx := range persisted {
		set[tx.NormalisedID] = struct{}{}
	}
	return set, nil
}

// fastPathApplies reports whether the newest incoming transaction's
// running balance agrees with the account's live balance. When it does,
// the reversed provider order is already the true chronological order.
func (e *Engine) fastPathApplies(balance *truelayer.Balance, incoming []ledger.Transaction) bool {
	if balance == nil {
		return false
	}
	tail := incoming[len(incoming)-1]
	if tail.Balance.Currency == "" {
		return false
	}
	return amountsEqual(balance.Current, tail.Balance.Amount)
}

// reorderByDay splits an ascending run into contiguous same-day buckets
// and reverses each bucket. The provider's within-day order is
// newest-first even after the whole list is reversed, so flipping each
// bucket restores chronological order per day.
func reorderByDay(incoming []ledger.Transaction) []ledger.Transaction {
	ordered := make([]ledger.Transaction, 0, len(incoming))
	for start := 0; start < len(incoming); {
		end := start + 1
		for end < len(incoming) && incoming[end].Timestamp == incoming[start].Timestamp {
			end++
		}
		for i := end - 1; i >= start; i-- {
			ordered = append(ordered, incoming[i])
		}
		start = end
	}
	return ordered
}

// chainConsistent checks that each transaction's running balance follows
// from the previous balance plus its amount. The last persisted
// transaction anchors the start of the chain when its currency matches.
// Inconsistency is reported, never acted on: the rows are inserted
// regardless, and the flag surfaces in the sync report.
func chainConsistent(last *ledger.Transaction, ordered []ledger.Transaction) bool {
	prev := last
	for i := range ordered {
		tx := &ordered[i]
		if tx.Balance.Currency == "" {
			return false
		}
		if prev != nil && prev.Balance.Currency == tx.Balance.Currency {
			if !amountsEqual(prev.Balance.Amount+tx.Amount, tx.Balance.Amount) {
				return false
			}
		}
		prev = tx
	}
	return true
}
