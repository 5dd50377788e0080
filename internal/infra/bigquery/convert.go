package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/nmorozov/bankfeed/internal/ledger"
)

func ratFromFloat(v float64) *big.Rat {
	return new(big.Rat).SetFloat64(v)
}

func floatFromRat(r *big.Rat) float64 {
	if r == nil {
		return 0
	}
	f, _ := r.Float64()
	return f
}

func nullStr(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func strOrEmpty(s bigquery.NullString) string {
	if s.Valid {
		return s.StringVal
	}
	return ""
}

func accountFromRow(row *AccountRow) ledger.Account {
	return ledger.Account{
		AccountID:     row.AccountID,
		LinkID:        row.LinkID,
		IsCard:        row.IsCard,
		DisplayName:   row.DisplayName,
		AccountType:   row.AccountType,
		Currency:      row.Currency,
		AccountNumber: row.AccountNumber,
		SortCode:      row.SortCode,
		Limit:         floatFromRat(row.CreditLimit),
	}
}

func transactionFromRow(row *TransactionRow) ledger.Transaction {
	tx := ledger.Transaction{
		AccountID:    row.AccountID,
		NormalisedID: row.NormalisedID,
		Timestamp:    row.Timestamp,
		Amount:       floatFromRat(row.Amount),
		Currency:     row.Currency,
		MerchantName: strOrEmpty(row.MerchantName),
		Description:  row.Description,
		Type:         row.Type,
		Category:     strOrEmpty(row.Category),
		Balance: ledger.Money{
			Amount:   floatFromRat(row.BalanceAmount),
			Currency: row.BalanceCurrency,
		},
	}
	if row.ClassCategory.Valid {
		tx.Classification = &ledger.Classification{
			Category:    row.ClassCategory.StringVal,
			Subcategory: strOrEmpty(row.ClassSubcategory),
		}
	}
	return tx
}

func transactionToRow(tx ledger.Transaction) *TransactionRow {
	row := &TransactionRow{
		AccountID:       tx.AccountID,
		NormalisedID:    tx.NormalisedID,
		Timestamp:       tx.Timestamp,
		Amount:          ratFromFloat(tx.Amount),
		Currency:        tx.Currency,
		MerchantName:    nullStr(tx.MerchantName),
		Description:     tx.Description,
		Type:            tx.Type,
		Category:        nullStr(tx.Category),
		BalanceAmount:   ratFromFloat(tx.Balance.Amount),
		BalanceCurrency: tx.Balance.Currency,
		CreatedTS:       time.Now().UTC(),
	}
	if tx.Classification != nil {
		row.ClassCategory = nullStr(tx.Classification.Category)
		row.ClassSubcategory = nullStr(tx.Classification.Subcategory)
	}
	return row
}

func pendingToRow(tx ledger.PendingTransaction) *PendingTransactionRow {
	row := &PendingTransactionRow{
		AccountID:    tx.AccountID,
		NormalisedID: tx.NormalisedID,
		Timestamp:    tx.Timestamp,
		Amount:       ratFromFloat(tx.Amount),
		Currency:     tx.Currency,
		MerchantName: nullStr(tx.MerchantName),
		Description:  tx.Description,
		Type:         tx.Type,
		Category:     nullStr(tx.Category),
		CreatedTS:    time.Now().UTC(),
	}
	if tx.Classification != nil {
		row.ClassCategory = nullStr(tx.Classification.Category)
		row.ClassSubcategory = nullStr(tx.Classification.Subcategory)
	}
	return row
}
