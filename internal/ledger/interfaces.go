package ledger

import (
	"context"

	"cloud.google.com/go/civil"
)

// Ledger is the persistence contract consumed by the sync engine. The
// engine only assumes per-row durability (each insert commits on its own)
// and that GetTransactions returns rows in ascending timestamp order;
// everything else is up to the implementation.
//
// Writers for a single account must be serialized by the caller: the
// engine computes an ascending insertion order and relies on inserts
// landing in that order.
type Ledger interface {
	// GetLinks returns every linked credential with its current
	// refresh token.
	GetLinks(ctx context.Context) ([]Link, error)

	// AddLink persists a new linked credential and returns its id.
	AddLink(ctx context.Context, refreshToken string) (string, error)

	// UpdateLinkRefreshToken replaces a link's stored refresh token
	// after the provider rotates it. Losing this write orphans the
	// link, so it must happen before the rotated token is used again.
	UpdateLinkRefreshToken(ctx context.Context, linkID, refreshToken string) error

	// GetAccounts returns the accounts (card=false) or cards
	// (card=true) under a link.
	GetAccounts(ctx context.Context, linkID string, card bool) ([]Account, error)

	// AddAccount persists a newly discovered account or card.
	AddAccount(ctx context.Context, account Account) error

	// SetOverdraft updates an account's overdraft limit.
	SetOverdraft(ctx context.Context, accountID string, limit float64) error

	// SetCreditLimit updates a card's credit limit.
	SetCreditLimit(ctx context.Context, accountID string, limit float64) error

	// GetLastTransaction returns the most recently persisted
	// transaction for an account, or nil when the account has no
	// history yet.
	GetLastTransaction(ctx context.Context, accountID string) (*Transaction, error)

	// GetTransactions returns the account's persisted transactions
	// with from <= timestamp <= to, ascending by timestamp.
	GetTransactions(ctx context.Context, accountID string, from, to civil.Date) ([]Transaction, error)

	// InsertTransaction persists one settled transaction. Re-inserting
	// a transaction with a NormalisedID already present for the
	// account is a no-op.
	InsertTransaction(ctx context.Context, tx Transaction) error

	// InsertPendingTransaction persists one provisional transaction.
	InsertPendingTransaction(ctx context.Context, tx PendingTransaction) error

	// DeletePendingTransactions drops the account's pending set, used
	// before re-ingesting the provider's current pending view.
	DeletePendingTransactions(ctx context.Context, accountID string) error
}
