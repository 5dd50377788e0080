package banksync

import (
	"context"

	"cloud.google.com/go/civil"

	"github.com/nmorozov/bankfeed/internal/truelayer"
)

// Provider is the slice of the provider client the engine needs. It is
// bound to one link's credentials; the engine never mixes links on one
// provider. The concrete implementation is *truelayer.Client.
type Provider interface {
	// Accounts lists the link's bank accounts.
	Accounts(ctx context.Context) ([]truelayer.Account, error)

	// Cards lists the link's cards.
	Cards(ctx context.Context) ([]truelayer.Card, error)

	// Balance fetches the live balance of one account or card.
	Balance(ctx context.Context, resource truelayer.Resource, accountID string) (truelayer.Balance, error)

	// BatchTransactions runs the batch transactions query across every
	// account and card under the link.
	BatchTransactions(ctx context.Context, from, to civil.Date, pending, withBalance bool) (*truelayer.BatchResponse, error)
}

// Archiver stores raw provider batch payloads for auditing. A nil
// archiver disables archiving.
type Archiver interface {
	ArchiveBatch(ctx context.Context, linkID string, payload []byte) error
}
