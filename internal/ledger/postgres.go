package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coopledger/coopledger/internal/platform/db"
)

var _ Store = (*PGStore)(nil)
var _ Tx = (*pgTx)(nil)

// PGStore persists ledger entries in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore using the provided pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// WithTx executes fn inside a repeatable-read transaction. Any error returned
// by fn rolls back every write made through the Tx.
func (s *PGStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	if s == nil || s.pool == nil {
		return ErrStoreNotInitialised
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LoadPeriodForUpdate(ctx context.Context, periodID int64) (Period, error) {
	var p Period
	err := t.tx.QueryRow(ctx, `SELECT id, name, status, start_date, end_date FROM periods WHERE id = $1 FOR UPDATE`, periodID).
		Scan(&p.ID, &p.Name, &p.Status, &p.StartDate, &p.EndDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (t *pgTx) MarkPeriodProcessed(ctx context.Context, periodID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE periods SET status = $2, updated_at = NOW() WHERE id = $1`, periodID, PeriodStatusProcessed)
	return err
}

const memberColumns = `id, user_id, name, status, entry_fee_paid, stop_loan_interest, allow_savings_with_loan, savings_with_loan_amount`

func scanMember(row pgx.Row) (Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.UserID, &m.Name, &m.Status, &m.EntryFeePaid, &m.StopLoanInterest, &m.AllowSavingsWithLoan, &m.SavingsWithLoanAmount)
	return m, err
}

func (t *pgTx) GetMember(ctx context.Context, memberID int64) (Member, error) {
	m, err := scanMember(t.tx.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, memberID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, ErrMemberNotFound
		}
		return Member{}, err
	}
	return m, nil
}

func (t *pgTx) ListActiveMembers(ctx context.Context) ([]Member, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+memberColumns+` FROM members WHERE status = $1 ORDER BY id`, MemberStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (t *pgTx) MarkEntryFeePaid(ctx context.Context, memberID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE members SET entry_fee_paid = TRUE WHERE id = $1`, memberID)
	return err
}

func (t *pgTx) Totals(ctx context.Context, memberID, periodID int64) (Totals, error) {
	var out Totals
	err := t.tx.QueryRow(ctx, `SELECT
	(SELECT COALESCE(SUM(amount), 0) FROM loans WHERE member_id = $1 AND status IN ('active', 'completed')),
	(SELECT COALESCE(SUM(amount), 0) FROM loan_repayments WHERE member_id = $1),
	(SELECT COALESCE(SUM(amount), 0) FROM commodities WHERE member_id = $1),
	(SELECT COALESCE(SUM(amount), 0) FROM commodity_repayments WHERE member_id = $1),
	(SELECT COALESCE(SUM(amount), 0) FROM contributions WHERE member_id = $1 AND period_id = $2)`,
		memberID, periodID).Scan(&out.Loan, &out.LoanRepaid, &out.Commodity, &out.CommodityRepaid, &out.Contribution)
	return out, err
}

func (t *pgTx) HasCompletedMarker(ctx context.Context, memberID, periodID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM mastertransact WHERE member_id = $1 AND period_id = $2 AND transaction_type = $3 AND completed)`,
		memberID, periodID, TxPeriodProcessed).Scan(&exists)
	return exists, err
}

func (t *pgTx) TablesWithRows(ctx context.Context, memberID, periodID int64) ([]string, error) {
	var found []string
	for _, table := range PartialTables {
		var exists bool
		// table names come from the fixed PartialTables list.
		query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE member_id = $1 AND period_id = $2)`, table)
		if err := t.tx.QueryRow(ctx, query, memberID, periodID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("ledger: probe %s: %w", table, err)
		}
		if exists {
			found = append(found, table)
		}
	}
	return found, nil
}

func (t *pgTx) LoadMemberState(ctx context.Context, memberID, periodID int64) (string, bool, error) {
	var state string
	err := t.tx.QueryRow(ctx, `SELECT state FROM member_period_states WHERE member_id = $1 AND period_id = $2`, memberID, periodID).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return state, true, nil
}

func (t *pgTx) SaveMemberState(ctx context.Context, memberID, periodID int64, state string) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO member_period_states (member_id, period_id, state, updated_at) VALUES ($1, $2, $3, NOW())
ON CONFLICT (member_id, period_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`, memberID, periodID, state)
	return err
}

func (t *pgTx) InsertFee(ctx context.Context, fee FeeEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO fees (member_id, period_id, fee_type, amount) VALUES ($1, $2, $3, $4)`,
		fee.MemberID, fee.PeriodID, fee.Type, fee.Amount)
	return err
}

func (t *pgTx) CountLevyArrears(ctx context.Context, memberID, beforePeriodID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM member_levy_debt WHERE member_id = $1 AND period_id < $2 AND outstanding_amount = 0`,
		memberID, beforePeriodID).Scan(&count)
	return count, err
}

func (t *pgTx) InsertLevyDebt(ctx context.Context, debt LevyDebt) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO member_levy_debt (member_id, period_id, outstanding_amount) VALUES ($1, $2, $3)`,
		debt.MemberID, debt.PeriodID, debt.OutstandingAmount())
	return err
}

func (t *pgTx) ClearLevyArrears(ctx context.Context, memberID int64, baseLevy decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE member_levy_debt SET outstanding_amount = $2 WHERE member_id = $1`, memberID, baseLevy)
	return err
}

func (t *pgTx) ListCommodityPositions(ctx context.Context, memberID int64) ([]CommodityPosition, error) {
	rows, err := t.tx.Query(ctx, `SELECT c.id, c.member_id, c.name, c.amount, c.deduction_count,
	COALESCE((SELECT SUM(r.amount) FROM commodity_repayments r WHERE r.commodity_id = c.id), 0)
FROM commodities c WHERE c.member_id = $1 ORDER BY c.id`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CommodityPosition
	for rows.Next() {
		var p CommodityPosition
		if err := rows.Scan(&p.ID, &p.MemberID, &p.Name, &p.Amount, &p.DeductionCount, &p.Repaid); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertCommodityRepayment(ctx context.Context, r CommodityRepayment) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO commodity_repayments (commodity_id, member_id, period_id, amount) VALUES ($1, $2, $3, $4)`,
		r.CommodityID, r.MemberID, r.PeriodID, r.Amount)
	return err
}

func (t *pgTx) ListLoanPositions(ctx context.Context, memberID int64, statuses ...LoanStatus) ([]LoanPosition, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	rows, err := t.tx.Query(ctx, `SELECT l.id, l.member_id, l.period_id, l.amount, l.interest_rate, l.status, l.grant_date, l.start_date, l.due_date,
	COALESCE((SELECT SUM(r.amount) FROM loan_repayments r WHERE r.loan_id = l.id), 0)
FROM loans l WHERE l.member_id = $1 AND (cardinality($2::text[]) = 0 OR l.status = ANY($2)) ORDER BY l.id`, memberID, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LoanPosition
	for rows.Next() {
		var p LoanPosition
		if err := rows.Scan(&p.ID, &p.MemberID, &p.PeriodID, &p.Amount, &p.InterestRate, &p.Status, &p.GrantDate, &p.StartDate, &p.DueDate, &p.Repaid); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) PendingLoanTotal(ctx context.Context, memberID, periodID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM loans WHERE member_id = $1 AND period_id = $2 AND status = $3`,
		memberID, periodID, LoanStatusPending).Scan(&total)
	return total, err
}

func (t *pgTx) UpdateLoanStatus(ctx context.Context, loanID int64, status LoanStatus, startDate *time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE loans SET status = $2, start_date = COALESCE($3, start_date) WHERE id = $1`, loanID, status, startDate)
	return err
}

func (t *pgTx) ActivatePendingLoans(ctx context.Context, memberID int64, startDate time.Time) (int, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE loans SET status = $2, start_date = $3 WHERE member_id = $1 AND status = $4`,
		memberID, LoanStatusActive, startDate, LoanStatusPending)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) InsertLoanRepayment(ctx context.Context, r LoanRepayment) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO loan_repayments (loan_id, member_id, period_id, amount, principal_amount, interest_amount, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, r.LoanID, r.MemberID, r.PeriodID, r.Amount, r.PrincipalAmount, r.InterestAmount, r.Status)
	return err
}

func (t *pgTx) InterestTotals(ctx context.Context, memberID, throughPeriodID int64) (decimal.Decimal, decimal.Decimal, error) {
	var charged, paid decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT
	(SELECT COALESCE(SUM(amount), 0) FROM interest_charged WHERE member_id = $1 AND period_id <= $2),
	(SELECT COALESCE(SUM(amount), 0) FROM interest_paid WHERE member_id = $1 AND period_id <= $2)`,
		memberID, throughPeriodID).Scan(&charged, &paid)
	return charged, paid, err
}

func (t *pgTx) InsertInterestCharged(ctx context.Context, e InterestEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO interest_charged (member_id, period_id, amount) VALUES ($1, $2, $3)`, e.MemberID, e.PeriodID, e.Amount)
	return err
}

func (t *pgTx) InsertInterestPaid(ctx context.Context, e InterestEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO interest_paid (member_id, period_id, amount) VALUES ($1, $2, $3)`, e.MemberID, e.PeriodID, e.Amount)
	return err
}

func (t *pgTx) MemberBalanceExists(ctx context.Context, memberID, periodID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM member_balances WHERE member_id = $1 AND period_id = $2)`, memberID, periodID).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertMemberBalance(ctx context.Context, b MemberBalance) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO member_balances (member_id, period_id, savings, shares) VALUES ($1, $2, $3, $4)`,
		b.MemberID, b.PeriodID, b.Savings, b.Shares)
	return err
}

func (t *pgTx) FindTransaction(ctx context.Context, memberID, periodID int64, txType TransactionType) (Transaction, bool, error) {
	var out Transaction
	err := t.tx.QueryRow(ctx, `SELECT id, member_id, period_id, transaction_type, amount, completed, created_at FROM mastertransact
WHERE member_id = $1 AND period_id = $2 AND transaction_type = $3 ORDER BY id LIMIT 1`, memberID, periodID, txType).
		Scan(&out.ID, &out.MemberID, &out.PeriodID, &out.Type, &out.Amount, &out.Completed, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	return out, true, nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, e Transaction) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO mastertransact (member_id, period_id, transaction_type, amount, completed) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		e.MemberID, e.PeriodID, e.Type, e.Amount, e.Completed).Scan(&id)
	return id, err
}

func (t *pgTx) AddToTransaction(ctx context.Context, id int64, amount decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE mastertransact SET amount = amount + $2 WHERE id = $1`, id, amount)
	return err
}

// MemberPeriod identifies one member within one period.
type MemberPeriod struct {
	MemberID int64
	PeriodID int64
}

func incompleteQuery() string {
	var b strings.Builder
	b.WriteString("WITH touched AS (")
	for i, table := range PartialTables {
		if i > 0 {
			b.WriteString(" UNION ")
		}
		fmt.Fprintf(&b, "SELECT member_id, period_id FROM %s", table)
	}
	b.WriteString(`)
SELECT t.member_id, t.period_id FROM touched t
WHERE NOT EXISTS (
	SELECT 1 FROM mastertransact m
	WHERE m.member_id = t.member_id AND m.period_id = t.period_id
	AND m.transaction_type = 'period_processed' AND m.completed
)
ORDER BY t.period_id, t.member_id
LIMIT $1`)
	return b.String()
}

// ListIncomplete returns member/period pairs holding side-table rows without
// a completion marker. Such pairs block the next run for their period.
func (s *PGStore) ListIncomplete(ctx context.Context, limit int) ([]MemberPeriod, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreNotInitialised
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, incompleteQuery(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MemberPeriod
	for rows.Next() {
		var mp MemberPeriod
		if err := rows.Scan(&mp.MemberID, &mp.PeriodID); err != nil {
			return nil, err
		}
		out = append(out, mp)
	}
	return out, rows.Err()
}
