package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	interfaces "github.com/sheikh-saqib/roundup-savings-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"
)

type PostgresLedgerStore struct {
	db *sql.DB
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
	}
}

func parseBig(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return n, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (p *PostgresLedgerStore) TransactionExists(ctx context.Context, idempotencyKey string) (bool, error) {
	const query = `select 1 from transactions where idempotency_key = $1 Limit 1`

	var exists int
	err := p.db.QueryRowContext(ctx, query, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func (p *PostgresLedgerStore) saveTransaction(ctx context.Context, tx models.Transaction, dbTx *sql.Tx) error {
	const query = `INSERT INTO transactions(id, idempotency_key, asset, from_account, to_account, amount, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err := dbTx.ExecContext(ctx, query, tx.ID, nullable(tx.IdempotencyKey), tx.Asset.Hex(),
		tx.FromAccount.Hex(), tx.ToAccount.Hex(), tx.Amount.String(), tx.CreatedAt)

	return err
}

func (p *PostgresLedgerStore) saveEntry(ctx context.Context, ledgerEntry models.LedgerEntry, exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}) error {
	const query = `INSERT INTO ledger_entries (id, transaction_id, account_id, asset, amount, created_at)
	VALUES ($1,$2,$3,$4,$5,$6)`

	_, err := exec.ExecContext(ctx, query, ledgerEntry.ID, nullable(ledgerEntry.TransactionID),
		ledgerEntry.AccountID.Hex(), ledgerEntry.Asset.Hex(), ledgerEntry.Amount, ledgerEntry.CreatedAt)
	return err
}

func (p *PostgresLedgerStore) SaveEntry(ctx context.Context, ledgerEntry models.LedgerEntry) error {
	return p.saveEntry(ctx, ledgerEntry, p.db)
}

func (p *PostgresLedgerStore) SaveTransactions(ctx context.Context, txs []models.Transaction, entries []models.LedgerEntry) (err error) {

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	for _, tx := range txs {
		if err = p.saveTransaction(ctx, tx, dbTx); err != nil {
			return err
		}
	}

	for _, entry := range entries {
		if err = p.saveEntry(ctx, entry, dbTx); err != nil {
			return err
		}
	}
	return dbTx.Commit()
}

func (p *PostgresLedgerStore) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {

	const query = `SELECT id, COALESCE(transaction_id, ''), account_id, asset, amount, created_at
	FROM ledger_entries ORDER BY created_at, id`

	rows, err := p.db.QueryContext(ctx, query)

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	return scanEntries(rows)
}

func (p *PostgresLedgerStore) GetEntriesByAccount(ctx context.Context, accountId common.Address) ([]models.LedgerEntry, error) {
	const query = `SELECT id, COALESCE(transaction_id, ''), account_id, asset, amount, created_at
	FROM ledger_entries WHERE account_id = $1`

	rows, err := p.db.QueryContext(ctx, query, accountId.Hex())

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry

	for rows.Next() {
		var entry models.LedgerEntry
		var account, asset string
		err := rows.Scan(
			&entry.ID,
			&entry.TransactionID,
			&account,
			&asset,
			&entry.Amount,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entry.AccountID = common.HexToAddress(account)
		entry.Asset = common.HexToAddress(asset)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
