package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	interfaces "github.com/sheikh-saqib/roundup-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"
)

type PostgresSubscriptionStore struct {
	db *sql.DB
}

func NewPostgresSubscriptionStore(db *sql.DB) *PostgresSubscriptionStore {
	return &PostgresSubscriptionStore{db: db}
}

func (p *PostgresSubscriptionStore) PutSubscription(ctx context.Context, sub models.Subscription) error {
	const query = `INSERT INTO subscriptions (payee, account, amount, last_paid, enabled)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (payee, account) DO UPDATE SET
		amount = EXCLUDED.amount,
		last_paid = EXCLUDED.last_paid,
		enabled = EXCLUDED.enabled`

	_, err := p.db.ExecContext(ctx, query, sub.Payee.Hex(), sub.Account.Hex(), sub.Amount.String(), sub.LastPaid.UTC(), sub.Enabled)
	return err
}

func (p *PostgresSubscriptionStore) GetSubscription(ctx context.Context, payee, account common.Address) (*models.Subscription, error) {
	const query = `SELECT amount::text, last_paid, enabled FROM subscriptions WHERE payee = $1 AND account = $2`

	var amount string
	sub := models.Subscription{Payee: payee, Account: account}
	err := p.db.QueryRowContext(ctx, query, payee.Hex(), account.Hex()).Scan(&amount, &sub.LastPaid, &sub.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if sub.Amount, err = parseBig(amount); err != nil {
		return nil, err
	}
	sub.LastPaid = sub.LastPaid.UTC()
	return &sub, nil
}

var _ interfaces.SubscriptionStore = (*PostgresSubscriptionStore)(nil)
