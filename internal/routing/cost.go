package routing

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oncallops/answergate/internal/metrics"
)

// defaultOutputTokens is the assumed completion budget when estimating the
// cost of a request before it runs.
const defaultOutputTokens = 500

// EstimateTokens approximates the token count of text. CJK characters pack
// roughly 1.5 characters per token while Latin text averages 4, so mixed
// prompts must weight them separately or cost estimates skew badly.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	var cjk, other int
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}

	return int(float64(cjk)/1.5 + float64(other)/4)
}

func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK unified ideographs
		return true
	case r >= 0xAC00 && r <= 0xD7A3: // Hangul syllables
		return true
	case r >= 0x3040 && r <= 0x30FF: // Hiragana + Katakana
		return true
	}
	return false
}

// CostEstimate is a pre-call cost projection for one provider.
type CostEstimate struct {
	Provider        string  `json:"provider"`
	EstimatedTokens int     `json:"estimated_tokens"`
	CostPer1K       float64 `json:"cost_per_1k"`
	EstimatedCost   float64 `json:"estimated_cost"`
}

// Budget caps spend per day and month. AlertFraction is the usage ratio at
// which budget alerts start firing.
type Budget struct {
	DailyLimitUSD   float64
	MonthlyLimitUSD float64
	AlertFraction   float64
}

func DefaultBudget() Budget {
	return Budget{
		DailyLimitUSD:   10.0,
		MonthlyLimitUSD: 100.0,
		AlertFraction:   0.8,
	}
}

type spendRecord struct {
	provider  string
	tokens    int
	cost      float64
	timestamp time.Time
}

// CostTracker estimates request cost and keeps the spend ledger. Daily and
// monthly totals roll over lazily on the first record of a new day/month.
type CostTracker struct {
	mu sync.Mutex

	budget           Budget
	dailySpent       float64
	monthlySpent     float64
	lastResetDaily   time.Time
	lastResetMonthly time.Time

	records []spendRecord
}

func NewCostTracker(budget Budget) *CostTracker {
	now := time.Now().UTC()
	return &CostTracker{
		budget:           budget,
		lastResetDaily:   now,
		lastResetMonthly: now,
	}
}

// Estimate projects the cost of sending inputText to the provider.
func (c *CostTracker) Estimate(p *ProviderConfig, inputText string) CostEstimate {
	tokens := EstimateTokens(inputText) + defaultOutputTokens
	cost := float64(tokens) / 1000 * p.CostPer1KTokens
	return CostEstimate{
		Provider:        p.Name,
		EstimatedTokens: tokens,
		CostPer1K:       p.CostPer1KTokens,
		EstimatedCost:   cost,
	}
}

// Record adds an actual spend to the ledger, rolling the daily/monthly
// windows when needed and warning once usage crosses the alert fraction.
func (c *CostTracker) Record(provider string, tokens int, cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()

	if now.Year() != c.lastResetDaily.Year() || now.YearDay() != c.lastResetDaily.YearDay() {
		c.dailySpent = 0
		c.lastResetDaily = now
	}
	if now.Month() != c.lastResetMonthly.Month() || now.Year() != c.lastResetMonthly.Year() {
		c.monthlySpent = 0
		c.lastResetMonthly = now
	}

	c.dailySpent += cost
	c.monthlySpent += cost

	c.records = append(c.records, spendRecord{
		provider:  provider,
		tokens:    tokens,
		cost:      cost,
		timestamp: now,
	})
	if len(c.records) > 1000 {
		c.records = c.records[len(c.records)-1000:]
	}

	if c.budget.DailyLimitUSD > 0 {
		metrics.SetBudgetUsage("daily", c.dailySpent/c.budget.DailyLimitUSD)
	}
	if c.budget.MonthlyLimitUSD > 0 {
		metrics.SetBudgetUsage("monthly", c.monthlySpent/c.budget.MonthlyLimitUSD)
	}

	if c.shouldAlertLocked() {
		slog.Warn("cost budget alert",
			"daily_spent", c.dailySpent,
			"daily_limit", c.budget.DailyLimitUSD,
			"monthly_spent", c.monthlySpent,
			"monthly_limit", c.budget.MonthlyLimitUSD,
		)
	}
}

func (c *CostTracker) shouldAlertLocked() bool {
	if c.budget.AlertFraction <= 0 {
		return false
	}
	var daily, monthly float64
	if c.budget.DailyLimitUSD > 0 {
		daily = c.dailySpent / c.budget.DailyLimitUSD
	}
	if c.budget.MonthlyLimitUSD > 0 {
		monthly = c.monthlySpent / c.budget.MonthlyLimitUSD
	}
	return daily >= c.budget.AlertFraction || monthly >= c.budget.AlertFraction
}

// WithinBudget reports whether an additional cost still fits both limits.
func (c *CostTracker) WithinBudget(additional float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.budget.DailyLimitUSD > 0 && c.dailySpent+additional > c.budget.DailyLimitUSD {
		return false
	}
	if c.budget.MonthlyLimitUSD > 0 && c.monthlySpent+additional > c.budget.MonthlyLimitUSD {
		return false
	}
	return true
}

// BudgetStatus is the spend position against both limits.
type BudgetStatus struct {
	DailyLimitUSD   float64 `json:"daily_limit_usd"`
	MonthlyLimitUSD float64 `json:"monthly_limit_usd"`
	DailySpent      float64 `json:"daily_spent"`
	MonthlySpent    float64 `json:"monthly_spent"`
}

func (c *CostTracker) BudgetStatus() BudgetStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	return BudgetStatus{
		DailyLimitUSD:   c.budget.DailyLimitUSD,
		MonthlyLimitUSD: c.budget.MonthlyLimitUSD,
		DailySpent:      c.dailySpent,
		MonthlySpent:    c.monthlySpent,
	}
}

// ProviderSpend aggregates ledger entries for one provider.
type ProviderSpend struct {
	CostUSD  float64 `json:"cost_usd"`
	Tokens   int     `json:"tokens"`
	Requests int     `json:"requests"`
}

// CostSummary reports spend over a trailing window.
type CostSummary struct {
	PeriodHours  int                      `json:"period_hours"`
	TotalCostUSD float64                  `json:"total_cost_usd"`
	TotalTokens  int                      `json:"total_tokens"`
	RequestCount int                      `json:"request_count"`
	ByProvider   map[string]ProviderSpend `json:"by_provider"`
	Budget       BudgetStatus             `json:"budget"`
}

// Summary aggregates the ledger over the last `hours` hours.
func (c *CostTracker) Summary(hours int) CostSummary {
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	c.mu.Lock()
	defer c.mu.Unlock()

	summary := CostSummary{
		PeriodHours: hours,
		ByProvider:  make(map[string]ProviderSpend),
		Budget: BudgetStatus{
			DailyLimitUSD:   c.budget.DailyLimitUSD,
			MonthlyLimitUSD: c.budget.MonthlyLimitUSD,
			DailySpent:      c.dailySpent,
			MonthlySpent:    c.monthlySpent,
		},
	}

	for _, r := range c.records {
		if r.timestamp.Before(cutoff) {
			continue
		}
		summary.TotalCostUSD += r.cost
		summary.TotalTokens += r.tokens
		summary.RequestCount++

		spend := summary.ByProvider[r.provider]
		spend.CostUSD += r.cost
		spend.Tokens += r.tokens
		spend.Requests++
		summary.ByProvider[r.provider] = spend
	}

	return summary
}
