package banksync_test

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/nmorozov/bankfeed/internal/ledger"
	"github.com/nmorozov/bankfeed/internal/truelayer"
)

// fakeLedger is an in-memory Ledger for engine tests. Transactions keep
// insertion order per account so ordering assertions are meaningful.
type fakeLedger struct {
	links    []ledger.Link
	accounts []ledger.Account
	txs      map[string][]ledger.Transaction
	pending  map[string][]ledger.PendingTransaction
	limits   map[string]float64
	rotated  map[string]string

	pendingDeletes []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		txs:     map[string][]ledger.Transaction{},
		pending: map[string][]ledger.PendingTransaction{},
		limits:  map[string]float64{},
		rotated: map[string]string{},
	}
}

func (f *fakeLedger) GetLinks(ctx context.Context) ([]ledger.Link, error) {
	return f.links, nil
}

func (f *fakeLedger) AddLink(ctx context.Context, refreshToken string) (string, error) {
	id := fmt.Sprintf("link-%d", len(f.links)+1)
	f.links = append(f.links, ledger.Link{ID: id, RefreshToken: refreshToken})
	return id, nil
}

func (f *fakeLedger) UpdateLinkRefreshToken(ctx context.Context, linkID, refreshToken string) error {
	f.rotated[linkID] = refreshToken
	return nil
}

func (f *fakeLedger) GetAccounts(ctx context.Context, linkID string, card bool) ([]ledger.Account, error) {
	var out []ledger.Account
	for _, acc := range f.accounts {
		if acc.LinkID == linkID && acc.IsCard == card {
			out = append(out, acc)
		}
	}
	return out, nil
}

func (f *fakeLedger) AddAccount(ctx context.Context, account ledger.Account) error {
	f.accounts = append(f.accounts, account)
	return nil
}

func (f *fakeLedger) SetOverdraft(ctx context.Context, accountID string, limit float64) error {
	f.limits[accountID] = limit
	return nil
}

func (f *fakeLedger) SetCreditLimit(ctx context.Context, accountID string, limit float64) error {
	f.limits[accountID] = limit
	return nil
}

func (f *fakeLedger) GetLastTransaction(ctx context.Context, accountID string) (*ledger.Transaction, error) {
	var last *ledger.Transaction
	for i := range f.txs[accountID] {
		tx := &f.txs[accountID][i]
		if last == nil || !tx.Timestamp.Before(last.Timestamp) {
			last = tx
		}
	}
	if last == nil {
		return nil, nil
	}
	copied := *last
	return &copied, nil
}

func (f *fakeLedger) GetTransactions(ctx context.Context, accountID string, from, to civil.Date) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, tx := range f.txs[accountID] {
		if tx.Timestamp.Before(from) || tx.Timestamp.After(to) {
			continue
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (f *fakeLedger) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	f.txs[tx.AccountID] = append(f.txs[tx.AccountID], tx)
	return nil
}

func (f *fakeLedger) InsertPendingTransaction(ctx context.Context, tx ledger.PendingTransaction) error {
	f.pending[tx.AccountID] = append(f.pending[tx.AccountID], tx)
	return nil
}

func (f *fakeLedger) DeletePendingTransactions(ctx context.Context, accountID string) error {
	f.pendingDeletes = append(f.pendingDeletes, accountID)
	f.pending[accountID] = nil
	return nil
}

func (f *fakeLedger) insertedIDs(accountID string) []string {
	var ids []string
	for _, tx := range f.txs[accountID] {
		ids = append(ids, tx.NormalisedID)
	}
	return ids
}

var _ ledger.Ledger = (*fakeLedger)(nil)

// mockProvider implements banksync.Provider with overridable funcs.
type mockProvider struct {
	AccountsFunc          func(ctx context.Context) ([]truelayer.Account, error)
	CardsFunc             func(ctx context.Context) ([]truelayer.Card, error)
	BalanceFunc           func(ctx context.Context, resource truelayer.Resource, accountID string) (truelayer.Balance, error)
	BatchTransactionsFunc func(ctx context.Context, from, to civil.Date, pending, withBalance bool) (*truelayer.BatchResponse, error)
}

func (m *mockProvider) Accounts(ctx context.Context) ([]truelayer.Account, error) {
	if m.AccountsFunc == nil {
		return nil, nil
	}
	return m.AccountsFunc(ctx)
}

func (m *mockProvider) Cards(ctx context.Context) ([]truelayer.Card, error) {
	if m.CardsFunc == nil {
		return nil, nil
	}
	return m.CardsFunc(ctx)
}

func (m *mockProvider) Balance(ctx context.Context, resource truelayer.Resource, accountID string) (truelayer.Balance, error) {
	if m.BalanceFunc == nil {
		return truelayer.Balance{}, nil
	}
	return m.BalanceFunc(ctx, resource, accountID)
}

func (m *mockProvider) BatchTransactions(ctx context.Context, from, to civil.Date, pending, withBalance bool) (*truelayer.BatchResponse, error) {
	if m.BatchTransactionsFunc == nil {
		return &truelayer.BatchResponse{Status: "Succeeded"}, nil
	}
	return m.BatchTransactionsFunc(ctx, from, to, pending, withBalance)
}

func mustDate(t *testing.T, value string) civil.Date {
	t.Helper()
	d, err := civil.ParseDate(value)
	if err != nil {
		t.Fatalf("parsing date %q: %v", value, err)
	}
	return d
}

func fixedClock(t *testing.T, value string) func() time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", value)
	if err != nil {
		t.Fatalf("parsing clock %q: %v", value, err)
	}
	return func() time.Time { return ts }
}

// wireTx builds a provider transaction with a running balance.
func wireTx(id, day string, amount, balance float64) truelayer.Transaction {
	return truelayer.Transaction{
		TransactionID: id,
		NormalisedID:  id,
		Timestamp:     day + "T00:00:00Z",
		Amount:        amount,
		Currency:      "GBP",
		Description:   "tx " + id,
		RunningBalance: &truelayer.RunningBalance{
			Amount:   balance,
			Currency: "GBP",
		},
	}
}

// wireTxNoBalance builds a provider transaction without a running balance.
func wireTxNoBalance(id, day string, amount float64) truelayer.Transaction {
	return truelayer.Transaction{
		TransactionID: id,
		NormalisedID:  id,
		Timestamp:     day + "T00:00:00Z",
		Amount:        amount,
		Currency:      "GBP",
		Description:   "tx " + id,
	}
}

func settledBatch(accounts ...truelayer.BatchAccount) *truelayer.BatchResponse {
	return &truelayer.BatchResponse{Status: "Succeeded", Accounts: accounts}
}

// batchByKind routes the settled and pending halves of a sync pass.
func batchByKind(settled, pending *truelayer.BatchResponse) func(ctx context.Context, from, to civil.Date, p, b bool) (*truelayer.BatchResponse, error) {
	return func(ctx context.Context, from, to civil.Date, p, b bool) (*truelayer.BatchResponse, error) {
		if p {
			if pending == nil {
				return &truelayer.BatchResponse{Status: "Succeeded"}, nil
			}
			return pending, nil
		}
		return settled, nil
	}
}
