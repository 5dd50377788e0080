// Package bigquery implements the ledger contract on top of BigQuery.
// Each insert is one streaming-insert row with a deterministic insert id,
// so a crash mid-sync leaves a consistent, partially-synced ledger and
// re-runs dedup cleanly.
package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

const (
	linksTable        = "linked_credentials"
	accountsTable     = "accounts"
	transactionsTable = "transactions"
	pendingTable      = "pending_transactions"
)

type LinkRow struct {
	LinkID       string                 `bigquery:"link_id"`       // REQUIRED
	RefreshToken string                 `bigquery:"refresh_token"` // REQUIRED, rotates on every use
	CreatedTS    time.Time              `bigquery:"created_ts"`    // REQUIRED
	UpdatedTS    bigquery.NullTimestamp `bigquery:"updated_ts"`    // NULLABLE
}

type AccountRow struct {
	AccountID     string `bigquery:"account_id"` // REQUIRED, provider-assigned
	LinkID        string `bigquery:"link_id"`    // REQUIRED
	IsCard        bool   `bigquery:"is_card"`
	DisplayName   string `bigquery:"display_name"`   // NULLABLE
	AccountType   string `bigquery:"account_type"`   // NULLABLE
	Currency      string `bigquery:"currency"`       // NULLABLE
	AccountNumber string `bigquery:"account_number"` // NULLABLE
	SortCode      string `bigquery:"sort_code"`      // NULLABLE

	// CreditLimit holds the overdraft for accounts and the credit
	// limit for cards.
	CreditLimit *big.Rat `bigquery:"credit_limit"` // NUMERIC, NULLABLE

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"` // NULLABLE
}

type TransactionRow struct {
	AccountID    string `bigquery:"account_id"`    // REQUIRED
	NormalisedID string `bigquery:"normalised_id"` // REQUIRED, dedup key per account

	Timestamp civil.Date `bigquery:"timestamp"` // REQUIRED, calendar date
	Amount    *big.Rat   `bigquery:"amount"`    // REQUIRED NUMERIC, signed
	Currency  string     `bigquery:"currency"`  // REQUIRED

	MerchantName bigquery.NullString `bigquery:"merchant_name"` // NULLABLE
	Description  string              `bigquery:"description"`   // NULLABLE
	Type         string              `bigquery:"type"`          // NULLABLE
	Category     bigquery.NullString `bigquery:"category"`      // NULLABLE

	ClassCategory    bigquery.NullString `bigquery:"class_category"`    // NULLABLE
	ClassSubcategory bigquery.NullString `bigquery:"class_subcategory"` // NULLABLE

	BalanceAmount   *big.Rat `bigquery:"balance_amount"`   // REQUIRED NUMERIC, running balance
	BalanceCurrency string   `bigquery:"balance_currency"` // REQUIRED

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

type PendingTransactionRow struct {
	AccountID    string `bigquery:"account_id"`    // REQUIRED
	NormalisedID string `bigquery:"normalised_id"` // REQUIRED

	Timestamp civil.Date `bigquery:"timestamp"` // REQUIRED
	Amount    *big.Rat   `bigquery:"amount"`    // REQUIRED NUMERIC
	Currency  string     `bigquery:"currency"`  // REQUIRED

	MerchantName bigquery.NullString `bigquery:"merchant_name"` // NULLABLE
	Description  string              `bigquery:"description"`   // NULLABLE
	Type         string              `bigquery:"type"`          // NULLABLE
	Category     bigquery.NullString `bigquery:"category"`      // NULLABLE

	ClassCategory    bigquery.NullString `bigquery:"class_category"`    // NULLABLE
	ClassSubcategory bigquery.NullString `bigquery:"class_subcategory"` // NULLABLE

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}
