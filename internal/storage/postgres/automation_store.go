package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	interfaces "github.com/sheikh-saqib/roundup-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"
)

type PostgresAutomationStore struct {
	db *sql.DB
}

func NewPostgresAutomationStore(db *sql.DB) *PostgresAutomationStore {
	return &PostgresAutomationStore{db: db}
}

func (p *PostgresAutomationStore) PutAutomation(ctx context.Context, a models.RoundUpAutomation) error {
	const query = `INSERT INTO roundup_automations (account, slot, savings_destination, round_up_unit, enabled, updated_at)
	VALUES ($1, $2, $3, $4, $5, now())
	ON CONFLICT (account, slot) DO UPDATE SET
		savings_destination = EXCLUDED.savings_destination,
		round_up_unit = EXCLUDED.round_up_unit,
		enabled = EXCLUDED.enabled,
		updated_at = now()`

	_, err := p.db.ExecContext(ctx, query, a.Account.Hex(), strconv.FormatUint(a.Slot, 10),
		a.SavingsDestination.Hex(), a.RoundUpUnit.String(), a.Enabled)
	return err
}

func (p *PostgresAutomationStore) GetAutomation(ctx context.Context, account common.Address, slot uint64) (*models.RoundUpAutomation, error) {
	const query = `SELECT account, slot::text, savings_destination, round_up_unit::text, enabled
	FROM roundup_automations WHERE account = $1 AND slot = $2`

	a, err := scanAutomation(p.db.QueryRowContext(ctx, query, account.Hex(), strconv.FormatUint(slot, 10)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (p *PostgresAutomationStore) ListAutomations(ctx context.Context, account common.Address) ([]models.RoundUpAutomation, error) {
	const query = `SELECT account, slot::text, savings_destination, round_up_unit::text, enabled
	FROM roundup_automations WHERE account = $1 ORDER BY slot`

	rows, err := p.db.QueryContext(ctx, query, account.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.RoundUpAutomation{}
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row scanner) (*models.RoundUpAutomation, error) {
	var account, slot, destination, unit string
	var a models.RoundUpAutomation
	if err := row.Scan(&account, &slot, &destination, &unit, &a.Enabled); err != nil {
		return nil, err
	}

	s, err := strconv.ParseUint(slot, 10, 64)
	if err != nil {
		return nil, err
	}
	if a.RoundUpUnit, err = parseBig(unit); err != nil {
		return nil, err
	}
	a.Account = common.HexToAddress(account)
	a.Slot = s
	a.SavingsDestination = common.HexToAddress(destination)
	return &a, nil
}

var _ interfaces.AutomationStore = (*PostgresAutomationStore)(nil)
