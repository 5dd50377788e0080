// Package truelayer is the client for the Open Banking data provider.
// Every outbound call runs under a bounded retry policy that absorbs
// access-token expiry and the provider's asynchronous result delivery;
// see retry.go.
package truelayer

import (
	"encoding/json"
)

// envelope is the provider's standard response wrapper. Results sit under
// the "results" key; batch queries answered out of band instead carry a
// "results_uri" to poll.
type envelope struct {
	Results    json.RawMessage `json:"results"`
	ResultsURI string          `json:"results_uri"`
	Status     string          `json:"status"`
}

// TokenPair is an access/refresh token pair from the token endpoint.
// The refresh token is single-use: the provider invalidates the old one
// the moment a new pair is issued.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Account is the wire shape of one bank account.
type Account struct {
	AccountID     string        `json:"account_id"`
	AccountType   string        `json:"account_type"`
	DisplayName   string        `json:"display_name"`
	Currency      string        `json:"currency"`
	AccountNumber AccountNumber `json:"account_number"`
}

// AccountNumber carries the local scheme identifiers.
type AccountNumber struct {
	Number   string `json:"number"`
	SortCode string `json:"sort_code"`
}

// Card is the wire shape of one card.
type Card struct {
	AccountID         string `json:"account_id"`
	CardNetwork       string `json:"card_network"`
	CardType          string `json:"card_type"`
	DisplayName       string `json:"display_name"`
	Currency          string `json:"currency"`
	PartialCardNumber string `json:"partial_card_number"`
}

// Balance is the wire shape of the per-account balance call. Overdraft is
// populated for accounts, CreditLimit and PaymentDueDate for cards.
type Balance struct {
	Currency       string  `json:"currency"`
	Available      float64 `json:"available"`
	Current        float64 `json:"current"`
	Overdraft      float64 `json:"overdraft"`
	CreditLimit    float64 `json:"credit_limit"`
	PaymentDueDate string  `json:"payment_due_date"`
}

// Transaction is the wire shape of one transaction. NormalisedID is the
// provider's stable identifier used for dedup across overlapping windows;
// it may be absent, in which case TransactionID stands in.
type Transaction struct {
	TransactionID  string          `json:"transaction_id"`
	NormalisedID   string          `json:"normalised_provider_transaction_id"`
	Timestamp      string          `json:"timestamp"`
	Amount         float64         `json:"amount"`
	Currency       string          `json:"currency"`
	Description    string          `json:"description"`
	MerchantName   string          `json:"merchant_name"`
	Type           string          `json:"transaction_type"`
	Category       string          `json:"transaction_category"`
	Classification []string        `json:"transaction_classification"`
	RunningBalance *RunningBalance `json:"running_balance"`
}

// DedupID returns the identifier used for overlap elimination.
func (t Transaction) DedupID() string {
	if t.NormalisedID != "" {
		return t.NormalisedID
	}
	return t.TransactionID
}

// RunningBalance is the balance snapshot immediately after a transaction.
type RunningBalance struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// batchRequest is the body of the batch transactions query.
type batchRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Pending bool   `json:"pending"`
	Balance bool   `json:"balance"`
}

// BatchAccount is one account's slice of a batch transactions response.
type BatchAccount struct {
	AccountID    string        `json:"account_id"`
	Balance      *Balance      `json:"balance"`
	Transactions []Transaction `json:"transactions"`
}

// batchResults is the nested "results" object of a batch response.
type batchResults struct {
	Accounts []BatchAccount `json:"accounts"`
	Cards    []BatchAccount `json:"cards"`
}

// BatchResponse is a completed batch transactions query. Raw holds the
// unparsed payload for archiving.
type BatchResponse struct {
	Status   string
	Accounts []BatchAccount
	Cards    []BatchAccount
	Raw      []byte
}

// Failed reports whether the provider marked the batch as failed.
func (b *BatchResponse) Failed() bool {
	return b.Status == "Failed"
}
