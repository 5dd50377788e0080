package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/nmorozov/bankfeed/internal/ledger"
)

// Store is the BigQuery-backed Ledger. It holds a shared client to avoid
// creating a new connection for each operation.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string

	transactionSchema bigquery.Schema
	pendingSchema     bigquery.Schema
}

// NewStore creates a Store against the given project and dataset.
func NewStore(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bigquery: creating client: %w", err)
	}
	return NewStoreWithClient(client, projectID, datasetID)
}

// NewStoreWithClient wraps an existing client, mainly for tests.
func NewStoreWithClient(client *bigquery.Client, projectID, datasetID string) (*Store, error) {
	txSchema, err := bigquery.InferSchema(TransactionRow{})
	if err != nil {
		return nil, fmt.Errorf("bigquery: inferring transaction schema: %w", err)
	}
	pendingSchema, err := bigquery.InferSchema(PendingTransactionRow{})
	if err != nil {
		return nil, fmt.Errorf("bigquery: inferring pending schema: %w", err)
	}
	return &Store{
		client:            client,
		projectID:         projectID,
		datasetID:         datasetID,
		transactionSchema: txSchema,
		pendingSchema:     pendingSchema,
	}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.projectID, s.datasetID, name)
}

// GetLinks returns every linked credential.
func (s *Store) GetLinks(ctx context.Context) ([]ledger.Link, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT link_id, refresh_token, created_ts, updated_ts
		FROM %s
		ORDER BY created_ts
	`, s.table(linksTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery: reading links: %w", err)
	}

	var links []ledger.Link
	for {
		var row LinkRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery: iterating links: %w", err)
		}
		links = append(links, ledger.Link{ID: row.LinkID, RefreshToken: row.RefreshToken})
	}
	return links, nil
}

// AddLink persists a new linked credential and returns its id.
func (s *Store) AddLink(ctx context.Context, refreshToken string) (string, error) {
	row := &LinkRow{
		LinkID:       uuid.NewString(),
		RefreshToken: refreshToken,
		CreatedTS:    time.Now().UTC(),
	}
	inserter := s.client.Dataset(s.datasetID).Table(linksTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return "", fmt.Errorf("bigquery: inserting link: %w", err)
	}
	return row.LinkID, nil
}

// UpdateLinkRefreshToken replaces a link's refresh token after rotation.
func (s *Store) UpdateLinkRefreshToken(ctx context.Context, linkID, refreshToken string) error {
	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET refresh_token = @refresh_token, updated_ts = CURRENT_TIMESTAMP()
		WHERE link_id = @link_id
	`, s.table(linksTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "refresh_token", Value: refreshToken},
		{Name: "link_id", Value: linkID},
	}
	return s.runDML(ctx, q, "updating link refresh token")
}

// GetAccounts returns the accounts or cards under a link.
func (s *Store) GetAccounts(ctx context.Context, linkID string, card bool) ([]ledger.Account, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT account_id, link_id, is_card, display_name, account_type,
		       currency, account_number, sort_code, credit_limit,
		       created_ts, updated_ts
		FROM %s
		WHERE link_id = @link_id AND is_card = @is_card
		ORDER BY created_ts
	`, s.table(accountsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "link_id", Value: linkID},
		{Name: "is_card", Value: card},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery: reading accounts: %w", err)
	}

	var accounts []ledger.Account
	for {
		var row AccountRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery: iterating accounts: %w", err)
		}
		accounts = append(accounts, accountFromRow(&row))
	}
	return accounts, nil
}

// AddAccount persists a newly discovered account or card.
func (s *Store) AddAccount(ctx context.Context, account ledger.Account) error {
	row := &AccountRow{
		AccountID:     account.AccountID,
		LinkID:        account.LinkID,
		IsCard:        account.IsCard,
		DisplayName:   account.DisplayName,
		AccountType:   account.AccountType,
		Currency:      account.Currency,
		AccountNumber: account.AccountNumber,
		SortCode:      account.SortCode,
		CreditLimit:   ratFromFloat(account.Limit),
		CreatedTS:     time.Now().UTC(),
	}
	inserter := s.client.Dataset(s.datasetID).Table(accountsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("bigquery: inserting account %s: %w", account.AccountID, err)
	}
	return nil
}

// SetOverdraft updates an account's overdraft limit.
func (s *Store) SetOverdraft(ctx context.Context, accountID string, limit float64) error {
	return s.setLimit(ctx, accountID, limit)
}

// SetCreditLimit updates a card's credit limit.
func (s *Store) SetCreditLimit(ctx context.Context, accountID string, limit float64) error {
	return s.setLimit(ctx, accountID, limit)
}

func (s *Store) setLimit(ctx context.Context, accountID string, limit float64) error {
	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET credit_limit = @credit_limit, updated_ts = CURRENT_TIMESTAMP()
		WHERE account_id = @account_id
	`, s.table(accountsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "credit_limit", Value: ratFromFloat(limit)},
		{Name: "account_id", Value: accountID},
	}
	return s.runDML(ctx, q, "updating account limit")
}

// GetLastTransaction returns the most recently persisted transaction for
// an account, or nil when the account has no history.
func (s *Store) GetLastTransaction(ctx context.Context, accountID string) (*ledger.Transaction, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT account_id, normalised_id, timestamp, amount, currency,
		       merchant_name, description, type, category,
		       class_category, class_subcategory,
		       balance_amount, balance_currency, created_ts
		FROM %s
		WHERE account_id = @account_id
		ORDER BY timestamp DESC, created_ts DESC
		LIMIT 1
	`, s.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery: reading last transaction: %w", err)
	}

	var row TransactionRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bigquery: iterating last transaction: %w", err)
	}
	tx := transactionFromRow(&row)
	return &tx, nil
}

// GetTransactions returns the account's transactions within the window,
// ascending by timestamp and insertion order.
func (s *Store) GetTransactions(ctx context.Context, accountID string, from, to civil.Date) ([]ledger.Transaction, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT account_id, normalised_id, timestamp, amount, currency,
		       merchant_name, description, type, category,
		       class_category, class_subcategory,
		       balance_amount, balance_currency, created_ts
		FROM %s
		WHERE account_id = @account_id
		  AND timestamp BETWEEN @from_date AND @to_date
		ORDER BY timestamp, created_ts
	`, s.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "from_date", Value: from},
		{Name: "to_date", Value: to},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery: reading transactions: %w", err)
	}

	var txs []ledger.Transaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery: iterating transactions: %w", err)
		}
		txs = append(txs, transactionFromRow(&row))
	}
	return txs, nil
}

// InsertTransaction persists one settled transaction. The streaming
// insert id is derived from (account_id, normalised_id) so re-ingesting
// the same transaction is a no-op.
func (s *Store) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	row := transactionToRow(tx)
	saver := &bigquery.StructSaver{
		Struct:   row,
		Schema:   s.transactionSchema,
		InsertID: tx.AccountID + ":" + tx.NormalisedID,
	}
	inserter := s.client.Dataset(s.datasetID).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, saver); err != nil {
		return fmt.Errorf("bigquery: inserting transaction %s: %w", tx.NormalisedID, err)
	}
	return nil
}

// InsertPendingTransaction persists one provisional transaction.
func (s *Store) InsertPendingTransaction(ctx context.Context, tx ledger.PendingTransaction) error {
	row := pendingToRow(tx)
	saver := &bigquery.StructSaver{
		Struct:   row,
		Schema:   s.pendingSchema,
		InsertID: tx.AccountID + ":" + tx.NormalisedID,
	}
	inserter := s.client.Dataset(s.datasetID).Table(pendingTable).Inserter()
	if err := inserter.Put(ctx, saver); err != nil {
		return fmt.Errorf("bigquery: inserting pending transaction %s: %w", tx.NormalisedID, err)
	}
	return nil
}

// DeletePendingTransactions drops the account's pending set before the
// provider's current view is re-ingested.
func (s *Store) DeletePendingTransactions(ctx context.Context, accountID string) error {
	q := s.client.Query(fmt.Sprintf(`
		DELETE FROM %s WHERE account_id = @account_id
	`, s.table(pendingTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
	}
	return s.runDML(ctx, q, "deleting pending transactions")
}

func (s *Store) runDML(ctx context.Context, q *bigquery.Query, op string) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("bigquery: %s: run: %w", op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("bigquery: %s: wait: %w", op, err)
	}
	if status.Err() != nil {
		return fmt.Errorf("bigquery: %s: job: %w", op, status.Err())
	}
	return nil
}

var _ ledger.Ledger = (*Store)(nil)
