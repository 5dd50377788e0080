package banksync

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/nmorozov/bankfeed/internal/ledger"
	"github.com/nmorozov/bankfeed/internal/truelayer"
)

// timestampLayouts are tried in order. The provider reports full
// timestamps but the ledger keeps calendar-date granularity.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimestamp(value string) (civil.Date, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return civil.DateOf(ts), nil
		}
	}
	return civil.Date{}, fmt.Errorf("banksync: unparseable timestamp %q", value)
}

func classificationOf(wire []string) *ledger.Classification {
	if len(wire) == 0 {
		return nil
	}
	c := &ledger.Classification{Category: wire[0]}
	if len(wire) > 1 {
		c.Subcategory = wire[1]
	}
	return c
}

// toTransaction converts one wire transaction for an account. The dedup
// identifier falls back to the raw transaction id when the provider
// omits the normalised one.
func toTransaction(accountID string, wire truelayer.Transaction) (ledger.Transaction, error) {
	ts, err := parseTimestamp(wire.Timestamp)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx := ledger.Transaction{
		AccountID:      accountID,
		NormalisedID:   wire.DedupID(),
		Timestamp:      ts,
		Amount:         wire.Amount,
		Currency:       wire.Currency,
		MerchantName:   wire.MerchantName,
		Description:    wire.Description,
		Type:           wire.Type,
		Category:       wire.Category,
		Classification: classificationOf(wire.Classification),
	}
	if wire.RunningBalance != nil {
		tx.Balance = ledger.Money{
			Amount:   wire.RunningBalance.Amount,
			Currency: wire.RunningBalance.Currency,
		}
	}
	return tx, nil
}

func toPendingTransaction(accountID string, wire truelayer.Transaction) (ledger.PendingTransaction, error) {
	ts, err := parseTimestamp(wire.Timestamp)
	if err != nil {
		return ledger.PendingTransaction{}, err
	}
	return ledger.PendingTransaction{
		AccountID:      accountID,
		NormalisedID:   wire.DedupID(),
		Timestamp:      ts,
		Amount:         wire.Amount,
		Currency:       wire.Currency,
		MerchantName:   wire.MerchantName,
		Description:    wire.Description,
		Type:           wire.Type,
		Category:       wire.Category,
		Classification: classificationOf(wire.Classification),
	}, nil
}

func toAccount(linkID string, wire truelayer.Account) ledger.Account {
	return ledger.Account{
		AccountID:     wire.AccountID,
		LinkID:        linkID,
		DisplayName:   wire.DisplayName,
		AccountType:   wire.AccountType,
		Currency:      wire.Currency,
		AccountNumber: wire.AccountNumber.Number,
		SortCode:      wire.AccountNumber.SortCode,
	}
}

func toCard(linkID string, wire truelayer.Card) ledger.Account {
	return ledger.Account{
		AccountID:   wire.AccountID,
		LinkID:      linkID,
		IsCard:      true,
		DisplayName: wire.DisplayName,
		AccountType: wire.CardType,
		Currency:    wire.Currency,
	}
}
