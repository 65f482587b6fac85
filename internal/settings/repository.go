package settings

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const loanActivationDayKey = "loan_activation_day"

// PGSource reads configuration tables from Postgres.
type PGSource struct {
	pool *pgxpool.Pool
}

// NewPGSource constructs a PGSource.
func NewPGSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool}
}

// LoadRaw reads fixed fees, contribution ratios, the first loan type's
// interest rate and the loan activation day.
func (s *PGSource) LoadRaw(ctx context.Context) (Raw, error) {
	raw := Raw{Fees: make(map[string]decimal.Decimal)}

	rows, err := s.pool.Query(ctx, `SELECT fee_type, amount FROM fixed_fees`)
	if err != nil {
		return Raw{}, err
	}
	for rows.Next() {
		var feeType string
		var amount decimal.Decimal
		if err := rows.Scan(&feeType, &amount); err != nil {
			rows.Close()
			return Raw{}, err
		}
		raw.Fees[feeType] = amount
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Raw{}, err
	}

	var ratios Ratios
	err = s.pool.QueryRow(ctx, `SELECT shares_ratio, savings_ratio FROM contribution_settings ORDER BY id LIMIT 1`).
		Scan(&ratios.Shares, &ratios.Savings)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return Raw{}, err
	default:
		raw.Ratios = &ratios
	}

	var rate decimal.Decimal
	err = s.pool.QueryRow(ctx, `SELECT interest_rate FROM loan_types ORDER BY id LIMIT 1`).Scan(&rate)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return Raw{}, err
	default:
		raw.InterestRate = &rate
	}

	var dayValue string
	err = s.pool.QueryRow(ctx, `SELECT value FROM system_settings WHERE key = $1`, loanActivationDayKey).Scan(&dayValue)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return Raw{}, err
	default:
		if day, convErr := strconv.Atoi(dayValue); convErr == nil {
			raw.LoanActivationDay = &day
		}
	}
	return raw, nil
}
