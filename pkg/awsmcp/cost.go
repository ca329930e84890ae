package awsmcp

import (
	"context"
	"math"
	"sync"
	"time"
)

// HourlyRates is the on-demand hourly price table, keyed by resource class.
var HourlyRates = map[string]float64{
	"t3.micro":  0.0104,
	"t3.small":  0.0208,
	"t3.medium": 0.0416,
	"t3.large":  0.0832,
	"m5.large":  0.096,
	"m5.xlarge": 0.192,
	"c5.large":  0.085,
	"c5.xlarge": 0.17,
}

// DefaultHourlyRate is charged for resource classes missing from the table.
const DefaultHourlyRate = 0.1

const hoursPerMonth = 24 * 30

// Estimate is the projected recurring cost of one operation.
type Estimate struct {
	Operation     string  `json:"operation"`
	ResourceClass string  `json:"resource_class"`
	HourlyRate    float64 `json:"hourly_rate"`
	Monthly       float64 `json:"estimated_monthly_cost"`

	// Fallback is true when the class was not in the rate table.
	Fallback bool `json:"fallback_rate,omitempty"`
}

// CostGuard estimates the monthly cost of mutating operations and decides
// whether the account's CostPolicy blocks them. It has no side effects.
type CostGuard struct {
	rates    map[string]float64
	fallback float64
}

// CostGuardOption configures a CostGuard.
type CostGuardOption func(*CostGuard)

// WithRates replaces the hourly rate table.
func WithRates(rates map[string]float64) CostGuardOption {
	return func(g *CostGuard) {
		g.rates = make(map[string]float64, len(rates))
		for k, v := range rates {
			g.rates[k] = v
		}
	}
}

// WithDefaultRate sets the rate used for unknown resource classes.
func WithDefaultRate(rate float64) CostGuardOption {
	return func(g *CostGuard) {
		g.fallback = rate
	}
}

// NewCostGuard creates a CostGuard over HourlyRates.
func NewCostGuard(opts ...CostGuardOption) *CostGuard {
	g := &CostGuard{fallback: DefaultHourlyRate}
	WithRates(HourlyRates)(g)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Estimate projects the hourly rate of class to a 30-day month.
func (g *CostGuard) Estimate(operation, class string) Estimate {
	rate, ok := g.rates[class]
	if !ok {
		rate = g.fallback
	}
	return Estimate{
		Operation:     operation,
		ResourceClass: class,
		HourlyRate:    rate,
		Monthly:       round4(rate * hoursPerMonth),
		Fallback:      !ok,
	}
}

// Check estimates the operation and fails with CostLimitExceeded when the
// policy requires approval and the estimate exceeds the alert threshold.
// With tracking disabled it always allows.
func (g *CostGuard) Check(operation, class string, policy CostPolicy) (Estimate, error) {
	est := g.Estimate(operation, class)
	if !policy.TrackCosts {
		return est, nil
	}
	if policy.RequireApproval && est.Monthly > policy.AlertThreshold {
		return est, ErrCostLimitExceeded(est.Monthly, policy.AlertThreshold, operation).
			WithDetail("resource_class", class)
	}
	return est, nil
}

// CheckBudget fails with CostLimitExceeded when adding est to the amount
// already spent today would pass the policy's daily budget.
func (g *CostGuard) CheckBudget(est Estimate, spentToday float64, policy CostPolicy) error {
	if !policy.TrackCosts || policy.DailyBudget == nil {
		return nil
	}
	limit := *policy.DailyBudget
	if round4(spentToday+est.Monthly) > limit {
		return ErrCostLimitExceeded(est.Monthly, limit, est.Operation).
			WithDetail("budget", "daily").
			WithDetail("spent_today", round4(spentToday))
	}
	return nil
}

// budgetHolds tracks estimates of invocations that passed the daily budget
// check and have not reached the ledger yet. Check and hold happen under
// one lock, so concurrent invocations cannot all spend the same headroom.
type budgetHolds struct {
	mu      sync.Mutex
	pending map[string]float64
}

func newBudgetHolds() *budgetHolds {
	return &budgetHolds{pending: make(map[string]float64)}
}

// reserve checks est against the ledger total plus pending holds of
// account on day and, when it fits, holds it until release is called.
// Callers record to the ledger before releasing.
func (h *budgetHolds) reserve(ctx context.Context, guard *CostGuard, ledger CostLedger, account string, day time.Time, est Estimate, policy CostPolicy) (release func(), err error) {
	key := account + "/" + DayKey(day)

	h.mu.Lock()
	defer h.mu.Unlock()

	spent, err := ledger.DailyTotal(ctx, account, day)
	if err != nil {
		return nil, ErrService("cost ledger unavailable: "+err.Error(), "cost", "DailyTotal").WithCause(err)
	}
	if err := guard.CheckBudget(est, spent+h.pending[key], policy); err != nil {
		return nil, err
	}
	h.pending[key] += est.Monthly

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if left := round4(h.pending[key] - est.Monthly); left > 0 {
				h.pending[key] = left
			} else {
				delete(h.pending, key)
			}
		})
	}, nil
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
