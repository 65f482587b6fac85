// Package ledgertest provides an in-memory ledger.Store for tests.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coopledger/coopledger/internal/ledger"
)

// State is the full content of the in-memory ledger.
type State struct {
	Members             map[int64]ledger.Member
	Periods             map[int64]ledger.Period
	Contributions       map[[2]int64]decimal.Decimal
	Loans               []ledger.Loan
	LoanRepayments      []ledger.LoanRepayment
	InterestCharged     []ledger.InterestEntry
	InterestPaid        []ledger.InterestEntry
	Commodities         []ledger.Commodity
	CommodityRepayments []ledger.CommodityRepayment
	Fees                []ledger.FeeEntry
	LevyDebts           []ledger.LevyDebt
	MemberBalances      []ledger.MemberBalance
	Transactions        []ledger.Transaction
	MemberStates        map[[2]int64]string
	nextID              int64
}

func (s State) clone() State {
	out := State{
		Members:             make(map[int64]ledger.Member, len(s.Members)),
		Periods:             make(map[int64]ledger.Period, len(s.Periods)),
		Contributions:       make(map[[2]int64]decimal.Decimal, len(s.Contributions)),
		Loans:               append([]ledger.Loan(nil), s.Loans...),
		LoanRepayments:      append([]ledger.LoanRepayment(nil), s.LoanRepayments...),
		InterestCharged:     append([]ledger.InterestEntry(nil), s.InterestCharged...),
		InterestPaid:        append([]ledger.InterestEntry(nil), s.InterestPaid...),
		Commodities:         append([]ledger.Commodity(nil), s.Commodities...),
		CommodityRepayments: append([]ledger.CommodityRepayment(nil), s.CommodityRepayments...),
		Fees:                append([]ledger.FeeEntry(nil), s.Fees...),
		LevyDebts:           append([]ledger.LevyDebt(nil), s.LevyDebts...),
		MemberBalances:      append([]ledger.MemberBalance(nil), s.MemberBalances...),
		Transactions:        append([]ledger.Transaction(nil), s.Transactions...),
		MemberStates:        make(map[[2]int64]string, len(s.MemberStates)),
		nextID:              s.nextID,
	}
	for k, v := range s.Members {
		out.Members[k] = v
	}
	for k, v := range s.Periods {
		out.Periods[k] = v
	}
	for k, v := range s.Contributions {
		out.Contributions[k] = v
	}
	for k, v := range s.MemberStates {
		out.MemberStates[k] = v
	}
	return out
}

// Store is an in-memory ledger.Store. WithTx works on a copy of the state and
// only publishes it when fn succeeds.
type Store struct {
	mu    sync.Mutex
	state State
	// FailOn makes the named Tx method return the error, for rollback tests.
	FailOn map[string]error
}

var _ ledger.Store = (*Store)(nil)

// New constructs an empty store.
func New() *Store {
	return &Store{state: State{
		Members:       make(map[int64]ledger.Member),
		Periods:       make(map[int64]ledger.Period),
		Contributions: make(map[[2]int64]decimal.Decimal),
		MemberStates:  make(map[[2]int64]string),
	}}
}

// WithTx runs fn against a working copy of the state.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	tx := &memTx{state: &work, failOn: s.FailOn}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Snapshot returns a copy of the committed state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *Store) id() int64 {
	s.state.nextID++
	return s.state.nextID
}

// AddMember seeds a member.
func (s *Store) AddMember(m ledger.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Status == "" {
		m.Status = ledger.MemberStatusActive
	}
	s.state.Members[m.ID] = m
}

// AddPeriod seeds a period.
func (s *Store) AddPeriod(p ledger.Period) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status == "" {
		p.Status = ledger.PeriodStatusOpen
	}
	s.state.Periods[p.ID] = p
}

// SetContribution seeds a member's contribution for a period.
func (s *Store) SetContribution(memberID, periodID int64, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Contributions[[2]int64{memberID, periodID}] = amount
}

// AddLoan seeds a loan and returns its id.
func (s *Store) AddLoan(l ledger.Loan) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == 0 {
		l.ID = s.id()
	}
	s.state.Loans = append(s.state.Loans, l)
	return l.ID
}

// AddLoanRepayment seeds a historical repayment.
func (s *Store) AddLoanRepayment(r ledger.LoanRepayment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.id()
	s.state.LoanRepayments = append(s.state.LoanRepayments, r)
}

// AddCommodity seeds a commodity and returns its id.
func (s *Store) AddCommodity(c ledger.Commodity) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	}
	s.state.Commodities = append(s.state.Commodities, c)
	return c.ID
}

// AddCommodityRepayment seeds a historical commodity repayment.
func (s *Store) AddCommodityRepayment(r ledger.CommodityRepayment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.id()
	s.state.CommodityRepayments = append(s.state.CommodityRepayments, r)
}

// AddInterestCharged seeds a historical interest charge.
func (s *Store) AddInterestCharged(e ledger.InterestEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.id()
	s.state.InterestCharged = append(s.state.InterestCharged, e)
}

// AddInterestPaid seeds a historical interest payment.
func (s *Store) AddInterestPaid(e ledger.InterestEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.id()
	s.state.InterestPaid = append(s.state.InterestPaid, e)
}

// AddFee seeds a fee row.
func (s *Store) AddFee(f ledger.FeeEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = s.id()
	s.state.Fees = append(s.state.Fees, f)
}

// AddLevyDebt seeds a development-levy tracking row.
func (s *Store) AddLevyDebt(d ledger.LevyDebt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.id()
	s.state.LevyDebts = append(s.state.LevyDebts, d)
}

// AddTransaction seeds a mastertransact row.
func (s *Store) AddTransaction(t ledger.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	s.state.Transactions = append(s.state.Transactions, t)
}

type memTx struct {
	state  *State
	failOn map[string]error
}

func (t *memTx) fail(method string) error {
	if t.failOn == nil {
		return nil
	}
	return t.failOn[method]
}

func (t *memTx) id() int64 {
	t.state.nextID++
	return t.state.nextID
}

func (t *memTx) LoadPeriodForUpdate(ctx context.Context, periodID int64) (ledger.Period, error) {
	if err := t.fail("LoadPeriodForUpdate"); err != nil {
		return ledger.Period{}, err
	}
	p, ok := t.state.Periods[periodID]
	if !ok {
		return ledger.Period{}, ledger.ErrPeriodNotFound
	}
	return p, nil
}

func (t *memTx) MarkPeriodProcessed(ctx context.Context, periodID int64) error {
	if err := t.fail("MarkPeriodProcessed"); err != nil {
		return err
	}
	p := t.state.Periods[periodID]
	p.Status = ledger.PeriodStatusProcessed
	t.state.Periods[periodID] = p
	return nil
}

func (t *memTx) GetMember(ctx context.Context, memberID int64) (ledger.Member, error) {
	m, ok := t.state.Members[memberID]
	if !ok {
		return ledger.Member{}, ledger.ErrMemberNotFound
	}
	return m, nil
}

func (t *memTx) ListActiveMembers(ctx context.Context) ([]ledger.Member, error) {
	var out []ledger.Member
	for _, m := range t.state.Members {
		if m.Status == ledger.MemberStatusActive {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) MarkEntryFeePaid(ctx context.Context, memberID int64) error {
	m := t.state.Members[memberID]
	m.EntryFeePaid = true
	t.state.Members[memberID] = m
	return nil
}

func (t *memTx) Totals(ctx context.Context, memberID, periodID int64) (ledger.Totals, error) {
	if err := t.fail("Totals"); err != nil {
		return ledger.Totals{}, err
	}
	out := ledger.Totals{Contribution: t.state.Contributions[[2]int64{memberID, periodID}]}
	for _, l := range t.state.Loans {
		if l.MemberID == memberID && (l.Status == ledger.LoanStatusActive || l.Status == ledger.LoanStatusCompleted) {
			out.Loan = out.Loan.Add(l.Amount)
		}
	}
	for _, r := range t.state.LoanRepayments {
		if r.MemberID == memberID {
			out.LoanRepaid = out.LoanRepaid.Add(r.Amount)
		}
	}
	for _, c := range t.state.Commodities {
		if c.MemberID == memberID {
			out.Commodity = out.Commodity.Add(c.Amount)
		}
	}
	for _, r := range t.state.CommodityRepayments {
		if r.MemberID == memberID {
			out.CommodityRepaid = out.CommodityRepaid.Add(r.Amount)
		}
	}
	return out, nil
}

func (t *memTx) HasCompletedMarker(ctx context.Context, memberID, periodID int64) (bool, error) {
	for _, tr := range t.state.Transactions {
		if tr.MemberID == memberID && tr.PeriodID == periodID && tr.Type == ledger.TxPeriodProcessed && tr.Completed {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) TablesWithRows(ctx context.Context, memberID, periodID int64) ([]string, error) {
	has := map[string]bool{}
	for _, r := range t.state.Fees {
		if r.MemberID == memberID && r.PeriodID == periodID {
			has["fees"] = true
		}
	}
	for _, r := range t.state.LevyDebts {
		if r.MemberID == memberID && r.PeriodID == periodID {
			has["member_levy_debt"] = true
		}
	}
	for _, r := range t.state.CommodityRepayments {
		if r.MemberID == memberID && r.PeriodID == periodID {
			has["commodity_repayments"] = true
		}
	}
	for _, r := range t.state.InterestCharged {
		if r.MemberID == memberID && r.PeriodID == periodID {
			has["interest_charged"] = true
		}
	}
	for _, r := range t.state.InterestPaid {
		if r.MemberID == memberID && r.PeriodID == periodID {
			has["interest_paid"] = true
		}
	}
	for _, r := range t.state.LoanRepayments {
		if r.MemberID == memberID && r.PeriodID == periodID {
			has["loan_repayments"] = true
		}
	}
	for _, r := range t.state.MemberBalances {
		if r.MemberID == memberID && r.PeriodID == periodID {
			has["member_balances"] = true
		}
	}
	var out []string
	for _, table := range ledger.PartialTables {
		if has[table] {
			out = append(out, table)
		}
	}
	return out, nil
}

func (t *memTx) LoadMemberState(ctx context.Context, memberID, periodID int64) (string, bool, error) {
	state, ok := t.state.MemberStates[[2]int64{memberID, periodID}]
	return state, ok, nil
}

func (t *memTx) SaveMemberState(ctx context.Context, memberID, periodID int64, state string) error {
	t.state.MemberStates[[2]int64{memberID, periodID}] = state
	return nil
}

func (t *memTx) InsertFee(ctx context.Context, fee ledger.FeeEntry) error {
	if err := t.fail("InsertFee"); err != nil {
		return err
	}
	fee.ID = t.id()
	t.state.Fees = append(t.state.Fees, fee)
	return nil
}

func (t *memTx) CountLevyArrears(ctx context.Context, memberID, beforePeriodID int64) (int, error) {
	count := 0
	for _, d := range t.state.LevyDebts {
		if d.MemberID == memberID && d.PeriodID < beforePeriodID && d.Arrears {
			count++
		}
	}
	return count, nil
}

func (t *memTx) InsertLevyDebt(ctx context.Context, debt ledger.LevyDebt) error {
	debt.ID = t.id()
	t.state.LevyDebts = append(t.state.LevyDebts, debt)
	return nil
}

func (t *memTx) ClearLevyArrears(ctx context.Context, memberID int64, baseLevy decimal.Decimal) error {
	for i, d := range t.state.LevyDebts {
		if d.MemberID == memberID {
			d.Arrears = false
			d.BaseLevy = baseLevy
			t.state.LevyDebts[i] = d
		}
	}
	return nil
}

func (t *memTx) ListCommodityPositions(ctx context.Context, memberID int64) ([]ledger.CommodityPosition, error) {
	var out []ledger.CommodityPosition
	for _, c := range t.state.Commodities {
		if c.MemberID != memberID {
			continue
		}
		pos := ledger.CommodityPosition{Commodity: c}
		for _, r := range t.state.CommodityRepayments {
			if r.CommodityID == c.ID {
				pos.Repaid = pos.Repaid.Add(r.Amount)
			}
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) InsertCommodityRepayment(ctx context.Context, r ledger.CommodityRepayment) error {
	r.ID = t.id()
	t.state.CommodityRepayments = append(t.state.CommodityRepayments, r)
	return nil
}

func (t *memTx) ListLoanPositions(ctx context.Context, memberID int64, statuses ...ledger.LoanStatus) ([]ledger.LoanPosition, error) {
	var out []ledger.LoanPosition
	for _, l := range t.state.Loans {
		if l.MemberID != memberID || !statusIn(l.Status, statuses) {
			continue
		}
		pos := ledger.LoanPosition{Loan: l}
		for _, r := range t.state.LoanRepayments {
			if r.LoanID == l.ID {
				pos.Repaid = pos.Repaid.Add(r.Amount)
			}
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func statusIn(status ledger.LoanStatus, statuses []ledger.LoanStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (t *memTx) PendingLoanTotal(ctx context.Context, memberID, periodID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, l := range t.state.Loans {
		if l.MemberID == memberID && l.PeriodID == periodID && l.Status == ledger.LoanStatusPending {
			total = total.Add(l.Amount)
		}
	}
	return total, nil
}

func (t *memTx) UpdateLoanStatus(ctx context.Context, loanID int64, status ledger.LoanStatus, startDate *time.Time) error {
	for i, l := range t.state.Loans {
		if l.ID == loanID {
			l.Status = status
			if startDate != nil {
				sd := *startDate
				l.StartDate = &sd
			}
			t.state.Loans[i] = l
		}
	}
	return nil
}

func (t *memTx) ActivatePendingLoans(ctx context.Context, memberID int64, startDate time.Time) (int, error) {
	n := 0
	for i, l := range t.state.Loans {
		if l.MemberID == memberID && l.Status == ledger.LoanStatusPending {
			sd := startDate
			l.Status = ledger.LoanStatusActive
			l.StartDate = &sd
			t.state.Loans[i] = l
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertLoanRepayment(ctx context.Context, r ledger.LoanRepayment) error {
	if err := t.fail("InsertLoanRepayment"); err != nil {
		return err
	}
	r.ID = t.id()
	t.state.LoanRepayments = append(t.state.LoanRepayments, r)
	return nil
}

func (t *memTx) InterestTotals(ctx context.Context, memberID, throughPeriodID int64) (decimal.Decimal, decimal.Decimal, error) {
	charged, paid := decimal.Zero, decimal.Zero
	for _, e := range t.state.InterestCharged {
		if e.MemberID == memberID && e.PeriodID <= throughPeriodID {
			charged = charged.Add(e.Amount)
		}
	}
	for _, e := range t.state.InterestPaid {
		if e.MemberID == memberID && e.PeriodID <= throughPeriodID {
			paid = paid.Add(e.Amount)
		}
	}
	return charged, paid, nil
}

func (t *memTx) InsertInterestCharged(ctx context.Context, e ledger.InterestEntry) error {
	e.ID = t.id()
	t.state.InterestCharged = append(t.state.InterestCharged, e)
	return nil
}

func (t *memTx) InsertInterestPaid(ctx context.Context, e ledger.InterestEntry) error {
	e.ID = t.id()
	t.state.InterestPaid = append(t.state.InterestPaid, e)
	return nil
}

func (t *memTx) MemberBalanceExists(ctx context.Context, memberID, periodID int64) (bool, error) {
	for _, b := range t.state.MemberBalances {
		if b.MemberID == memberID && b.PeriodID == periodID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertMemberBalance(ctx context.Context, b ledger.MemberBalance) error {
	b.ID = t.id()
	t.state.MemberBalances = append(t.state.MemberBalances, b)
	return nil
}

func (t *memTx) FindTransaction(ctx context.Context, memberID, periodID int64, txType ledger.TransactionType) (ledger.Transaction, bool, error) {
	for _, tr := range t.state.Transactions {
		if tr.MemberID == memberID && tr.PeriodID == periodID && tr.Type == txType {
			return tr, true, nil
		}
	}
	return ledger.Transaction{}, false, nil
}

func (t *memTx) InsertTransaction(ctx context.Context, e ledger.Transaction) (int64, error) {
	if err := t.fail("InsertTransaction:" + string(e.Type)); err != nil {
		return 0, err
	}
	e.ID = t.id()
	t.state.Transactions = append(t.state.Transactions, e)
	return e.ID, nil
}

func (t *memTx) AddToTransaction(ctx context.Context, id int64, amount decimal.Decimal) error {
	for i, tr := range t.state.Transactions {
		if tr.ID == id {
			tr.Amount = tr.Amount.Add(amount)
			t.state.Transactions[i] = tr
		}
	}
	return nil
}
