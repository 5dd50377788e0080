package truelayer

import "fmt"

const (
	defaultBaseURL = "https://api.truelayer.com"
	defaultAuthURL = "https://auth.truelayer.com/connect/token"
)

// Resource selects between the account and card variants of the data
// endpoints.
type Resource int

const (
	ResourceAccounts Resource = iota
	ResourceCards
)

func (r Resource) segment() string {
	if r == ResourceCards {
		return "cards"
	}
	return "accounts"
}

// endpoints builds provider URLs from the configured bases. One pure
// method per resource; nothing is keyed by string.
type endpoints struct {
	base string
	auth string
}

func (e endpoints) token() string {
	return e.auth
}

func (e endpoints) list(r Resource) string {
	return fmt.Sprintf("%s/data/v1/%s", e.base, r.segment())
}

func (e endpoints) balance(r Resource, accountID string) string {
	return fmt.Sprintf("%s/data/v1/%s/%s/balance", e.base, r.segment(), accountID)
}

func (e endpoints) batchTransactions() string {
	return fmt.Sprintf("%s/data/v1/batch/transactions", e.base)
}
