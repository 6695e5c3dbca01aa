package spending

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"mercator-hq/gatekeeper/pkg/admission"
	"mercator-hq/gatekeeper/pkg/config"
)

// dayLayout formats the local calendar date used as the bucket tag.
const dayLayout = "2006-01-02"

// Manager tracks daily spending and enforces the configured ceilings.
// It is safe for concurrent use.
type Manager struct {
	src    config.Source
	now    admission.Clock
	loc    *time.Location
	logger *slog.Logger

	mu     sync.Mutex
	day    string
	tokens map[string]*Record
	total  Total
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for day bucketing.
func WithClock(clock admission.Clock) Option {
	return func(m *Manager) {
		m.now = clock
	}
}

// WithLocation sets the time zone whose midnight starts a new day.
// The default is time.Local.
func WithLocation(loc *time.Location) Option {
	return func(m *Manager) {
		m.loc = loc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// New creates a spending manager reading limits from src.
func New(src config.Source, opts ...Option) *Manager {
	m := &Manager{
		src:    src,
		now:    admission.SystemClock,
		loc:    time.Local,
		logger: slog.Default(),
		tokens: make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "limits.spending")
	m.day = m.today()
	m.total.Day = m.day
	return m
}

// Validate checks whether a payment of amount in token fits within every
// configured ceiling. It has no side effects beyond the day rollover.
func (m *Manager) Validate(token, amount string, batch *Batch) error {
	l, amt, err := m.prepare(token, amount, batch)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	return m.checkLocked(ledgerKey(token), amt, l)
}

// RecordSpending adds amount to today's totals for token. Malformed or
// non-positive amounts are ignored.
func (m *Manager) RecordSpending(token, amount string) {
	amt, ok := parseAmount(amount)
	key := ledgerKey(token)
	if !ok || key == "" {
		m.logger.Debug("ignoring invalid spending record", "token", token, "amount", amount)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	m.addLocked(key, amt)
}

// ValidateAndReserve checks the ceilings against the totals as they would be
// after charging amount and, if every check passes, commits the charge before
// returning. Releasing the returned reservation subtracts exactly amount.
func (m *Manager) ValidateAndReserve(token, amount string, batch *Batch) (*admission.Reservation, error) {
	l, amt, err := m.prepare(token, amount, batch)
	if err != nil {
		return nil, err
	}
	key := ledgerKey(token)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	if err := m.checkLocked(key, amt, l); err != nil {
		return nil, err
	}
	m.addLocked(key, amt)
	day := m.day

	m.logger.Debug("spending reserved", "token", key, "amount", amt.String(), "day", day)

	return admission.NewReservation(key, amt.String(), m.now(), func() {
		m.release(key, day, amt)
	}), nil
}

// GetTokenSpending returns today's spending for token.
func (m *Manager) GetTokenSpending(token string) Record {
	key := ledgerKey(token)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	if rec, ok := m.tokens[key]; ok {
		return *rec
	}
	return Record{Token: key, Day: m.day, Amount: decimal.Zero}
}

// GetTotalDailySpending returns today's aggregate spending.
func (m *Manager) GetTotalDailySpending() Total {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	return m.total
}

// GetRemainingAllowance reports the ceilings that apply to token and how much
// of each is left today.
func (m *Manager) GetRemainingAllowance(token string) (Allowance, error) {
	l, err := m.limitsFor(token)
	if err != nil {
		return Allowance{}, err
	}
	key := ledgerKey(token)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	spent := decimal.Zero
	if rec, ok := m.tokens[key]; ok {
		spent = rec.Amount
	}

	a := Allowance{
		Token:          key,
		Day:            m.day,
		PerTransaction: l.perTx,
		DailyLimit:     l.daily,
		TotalLimit:     l.total,
		Spent:          spent,
	}
	if l.daily.Valid {
		a.DailyRemaining = decimal.NewNullDecimal(nonNegative(l.daily.Decimal.Sub(spent)))
	}
	if l.total.Valid {
		a.TotalRemaining = decimal.NewNullDecimal(nonNegative(l.total.Decimal.Sub(m.total.Amount)))
	}
	return a, nil
}

// Reset clears all spending unconditionally.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.day = m.today()
	m.clearLocked()
	m.logger.Debug("spending ledger reset")
}

// Snapshot returns a copy of the ledger for persistence.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	s := Snapshot{Day: m.day, Total: m.total, Tokens: make([]Record, 0, len(m.tokens))}
	for _, rec := range m.tokens {
		s.Tokens = append(s.Tokens, *rec)
	}
	sort.Slice(s.Tokens, func(i, j int) bool { return s.Tokens[i].Token < s.Tokens[j].Token })
	return s
}

// Restore replaces the ledger with s if s belongs to the current day. It
// reports whether the snapshot was applied.
func (m *Manager) Restore(s Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	if s.Day != m.day {
		m.logger.Info("ignoring spending snapshot from another day", "snapshot_day", s.Day, "day", m.day)
		return false
	}

	m.clearLocked()
	for _, rec := range s.Tokens {
		key := ledgerKey(rec.Token)
		if key == "" || rec.Amount.IsNegative() {
			continue
		}
		m.tokens[key] = &Record{Token: key, Day: m.day, Amount: rec.Amount, Count: rec.Count}
	}
	if !s.Total.Amount.IsNegative() {
		m.total = Total{Day: m.day, Amount: s.Total.Amount, Count: s.Total.Count}
	}
	return true
}

// Day returns the current bucket tag.
func (m *Manager) Day() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	return m.day
}

// prepare parses the request and resolves limits outside the lock.
func (m *Manager) prepare(token, amount string, batch *Batch) (limits, decimal.Decimal, error) {
	if ledgerKey(token) == "" {
		return limits{}, decimal.Decimal{}, admission.Malformed(admission.CodeInvalidToken, "token is required")
	}
	amt, ok := parseAmount(amount)
	if !ok {
		return limits{}, decimal.Decimal{}, admission.Malformed(admission.CodeInvalidAmount,
			"invalid amount %q: must be a finite positive decimal", amount)
	}

	l, err := m.limitsFor(token)
	if err != nil {
		return limits{}, decimal.Decimal{}, err
	}

	if batch != nil {
		if err := checkBatch(batch, l); err != nil {
			return limits{}, decimal.Decimal{}, err
		}
	}
	return l, amt, nil
}

func (m *Manager) limitsFor(token string) (limits, error) {
	cfg, err := m.src.Snapshot()
	if err != nil {
		return limits{}, admission.Internal(admission.CodeConfigUnavailable, "spending limits unavailable", err)
	}
	return resolve(&cfg.Security.SpendingLimits, strings.TrimSpace(token))
}

func checkBatch(batch *Batch, l limits) error {
	if strings.TrimSpace(batch.Total) == "" {
		return admission.Malformed(admission.CodeInvalidBatch, "batch payment requires a batch total")
	}
	total, ok := parseAmount(batch.Total)
	if !ok {
		return admission.Malformed(admission.CodeInvalidBatch,
			"invalid batch total %q: must be a finite positive decimal", batch.Total)
	}
	if batch.RecipientCount < 1 {
		return admission.Malformed(admission.CodeInvalidBatch, "batch must have at least one recipient")
	}
	if l.batchSize > 0 && batch.RecipientCount > l.batchSize {
		return admission.LimitExceeded(admission.CodeBatchSizeLimit,
			"batch size exceeds maximum",
			fmt.Sprint(batch.RecipientCount), fmt.Sprint(l.batchSize))
	}
	if l.batchTotal.Valid && total.GreaterThan(l.batchTotal.Decimal) {
		return admission.LimitExceeded(admission.CodeBatchTotalLimit,
			"batch total exceeds maximum",
			total.String(), l.batchTotal.Decimal.String())
	}
	return nil
}

// checkLocked verifies amt against every ceiling. Caller holds m.mu.
func (m *Manager) checkLocked(key string, amt decimal.Decimal, l limits) error {
	if !l.perTx.Valid {
		return &admission.Error{
			Kind:   admission.KindNotAllowed,
			Code:   admission.CodeNoLimitConfigured,
			Reason: fmt.Sprintf("no spending limit configured for token %s", key),
		}
	}
	if amt.GreaterThan(l.perTx.Decimal) {
		return admission.LimitExceeded(admission.CodePerTransactionLimit,
			fmt.Sprintf("amount exceeds per-transaction limit for %s", key),
			amt.String(), l.perTx.Decimal.String())
	}

	if l.daily.Valid {
		spent := decimal.Zero
		if rec, ok := m.tokens[key]; ok {
			spent = rec.Amount
		}
		if next := spent.Add(amt); next.GreaterThan(l.daily.Decimal) {
			return admission.LimitExceeded(admission.CodeDailyTokenLimit,
				fmt.Sprintf("daily limit for %s would be exceeded", key),
				next.String(), l.daily.Decimal.String())
		}
	}

	if l.total.Valid {
		if next := m.total.Amount.Add(amt); next.GreaterThan(l.total.Decimal) {
			return admission.LimitExceeded(admission.CodeDailyTotalLimit,
				"aggregate daily limit would be exceeded",
				next.String(), l.total.Decimal.String())
		}
	}
	return nil
}

func (m *Manager) addLocked(key string, amt decimal.Decimal) {
	rec, ok := m.tokens[key]
	if !ok {
		rec = &Record{Token: key, Day: m.day, Amount: decimal.Zero}
		m.tokens[key] = rec
	}
	rec.Amount = rec.Amount.Add(amt)
	rec.Count++

	m.total.Amount = m.total.Amount.Add(amt)
	m.total.Count++
}

// release subtracts a reserved amount if it was charged to the current day.
func (m *Manager) release(key, day string, amt decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	if day != m.day {
		m.logger.Debug("reservation released after day rollover", "token", key, "day", day)
		return
	}

	if rec, ok := m.tokens[key]; ok {
		rec.Amount = nonNegative(rec.Amount.Sub(amt))
		if rec.Count > 0 {
			rec.Count--
		}
	}
	m.total.Amount = nonNegative(m.total.Amount.Sub(amt))
	if m.total.Count > 0 {
		m.total.Count--
	}

	m.logger.Debug("spending released", "token", key, "amount", amt.String())
}

// rollover clears every counter when the local date has changed.
// Caller holds m.mu.
func (m *Manager) rollover() {
	today := m.today()
	if today == m.day {
		return
	}
	m.logger.Debug("spending day rollover", "previous", m.day, "day", today)
	m.day = today
	m.clearLocked()
}

func (m *Manager) clearLocked() {
	m.tokens = make(map[string]*Record)
	m.total = Total{Day: m.day, Amount: decimal.Zero}
}

func (m *Manager) today() string {
	return m.now().In(m.loc).Format(dayLayout)
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
