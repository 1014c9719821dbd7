package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nupips/team-engine/internal/model"
)

// PostgresStore implements NodeStore using PostgreSQL as the source of
// truth. All monetary values are stored as NUMERIC for exact decimal
// precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const userColumns = `id, username, name, email, phone, COALESCE(parent_id, ''),
       user_type, status,
       wallet_balance::TEXT,
       total_deposits::TEXT, total_withdrawals::TEXT,
       total_rebate_income::TEXT, total_affiliate_income::TEXT,
       gtc_linked, hide_from_downline, created_at`

func (s *PostgresStore) GetNode(ctx context.Context, id string) (*model.UserNode, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)

	u, err := scanUserNode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return u, nil
}

func (s *PostgresStore) GetChildren(ctx context.Context, parentIDs []string) ([]model.UserNode, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE parent_id = ANY($1) ORDER BY id`, parentIDs)
	if err != nil {
		return nil, fmt.Errorf("get children: %w", err)
	}
	defer rows.Close()

	var nodes []model.UserNode
	for rows.Next() {
		u, err := scanUserNode(rows)
		if err != nil {
			return nil, fmt.Errorf("get children: %w", err)
		}
		nodes = append(nodes, *u)
	}
	return nodes, rows.Err()
}

// scanUserNode reads one users row. NUMERIC columns arrive as TEXT and are
// parsed into decimals.
func scanUserNode(row pgx.Row) (*model.UserNode, error) {
	var u model.UserNode
	var balance, deposits, withdrawals, rebate, affiliate string

	err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.Phone, &u.ParentID,
		&u.UserType, &u.Status,
		&balance,
		&deposits, &withdrawals,
		&rebate, &affiliate,
		&u.GTCLinked, &u.Privacy.HideFromDownline, &u.CreatedAt)
	if err != nil {
		return nil, err
	}

	u.WalletBalance, _ = decimal.NewFromString(balance)
	u.Financials.TotalDeposits, _ = decimal.NewFromString(deposits)
	u.Financials.TotalWithdrawals, _ = decimal.NewFromString(withdrawals)
	u.Financials.TotalRebateIncome, _ = decimal.NewFromString(rebate)
	u.Financials.TotalAffiliateIncome, _ = decimal.NewFromString(affiliate)

	return &u, nil
}
