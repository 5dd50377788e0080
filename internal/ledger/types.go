package ledger

import (
	"cloud.google.com/go/civil"
)

// Link is one authorized connection to a user's banking session. The
// refresh token is single-use: the provider rotates it on every refresh,
// so the stored value must be replaced immediately after each rotation.
type Link struct {
	ID           string
	RefreshToken string
}

// Account is a provider account or card discovered under a link. The
// provider-assigned AccountID is stable and is the primary key.
type Account struct {
	AccountID     string
	LinkID        string
	IsCard        bool
	DisplayName   string
	AccountType   string
	Currency      string
	AccountNumber string
	SortCode      string

	// Limit is the overdraft for accounts and the credit limit for
	// cards; refreshed periodically from the provider's balance call.
	Limit float64
}

// Money is an amount with its currency.
type Money struct {
	Amount   float64
	Currency string
}

// Classification is the optional provider category pair.
type Classification struct {
	Category    string
	Subcategory string
}

// Transaction is one settled movement on an account. NormalisedID is the
// dedup key across overlapping fetch windows; when the provider does not
// supply a normalised identifier the raw transaction id is stored there
// instead. Balance is the running balance as reported by the provider
// immediately after this transaction.
type Transaction struct {
	AccountID      string
	NormalisedID   string
	Timestamp      civil.Date
	Amount         float64
	Currency       string
	MerchantName   string
	Description    string
	Type           string
	Category       string
	Classification *Classification
	Balance        Money
}

// PendingTransaction is a provisional, not-yet-settled movement. It has
// the same shape as Transaction minus the running-balance snapshot.
type PendingTransaction struct {
	AccountID      string
	NormalisedID   string
	Timestamp      civil.Date
	Amount         float64
	Currency       string
	MerchantName   string
	Description    string
	Type           string
	Category       string
	Classification *Classification
}
