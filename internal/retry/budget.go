package retry

import (
	"fmt"
	"sync"
)

// ── Failure budget ───────────────────────────────────────────────────

// BudgetConfig configures a [Budget].
type BudgetConfig struct {
	// Initial is the number of failures tolerated over the budget's
	// lifetime (default 50).
	Initial int
	// OnExhausted is called once, under the lock, when the last unit
	// is spent.  Keep it fast.
	OnExhausted func(spent int)
}

// DefaultBudgetConfig returns the daemon's stock budget.
func DefaultBudgetConfig() *BudgetConfig {
	return &BudgetConfig{Initial: 50}
}

// Budget is a one-way circuit breaker: every failure spends one unit,
// successes never restore it, and once exhausted it stays exhausted.  It
// bounds how long the dispatch loop keeps serving under sustained failure
// (resource exhaustion, misconfigured authorisation) rather than counting
// retries for any single connection.
type Budget struct {
	mu          sync.Mutex
	initial     int
	remaining   int
	onExhausted func(spent int)
}

// NewBudget creates a budget with the given config.
func NewBudget(cfg *BudgetConfig) *Budget {
	if cfg == nil {
		cfg = DefaultBudgetConfig()
	}
	n := cfg.Initial
	if n <= 0 {
		n = 50
	}
	return &Budget{
		initial:     n,
		remaining:   n,
		onExhausted: cfg.OnExhausted,
	}
}

// Spend records one failure and returns the units left.  Spending an
// exhausted budget is a no-op.
func (b *Budget) Spend() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.remaining == 0 {
		return 0
	}
	b.remaining--
	if b.remaining == 0 && b.onExhausted != nil {
		b.onExhausted(b.initial)
	}
	return b.remaining
}

// Remaining returns the units left.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Spent returns the number of failures recorded so far.
func (b *Budget) Spent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initial - b.remaining
}

// Exhausted reports whether the budget has run out.
func (b *Budget) Exhausted() bool {
	return b.Remaining() == 0
}

// Initial returns the configured size.
func (b *Budget) Initial() int { return b.initial }

func (b *Budget) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("%d/%d", b.remaining, b.initial)
}
