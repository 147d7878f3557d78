// Package budget watches the spend ledger and raises leveled alerts when
// usage approaches or exceeds the configured limits.
package budget

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oncallops/answergate/internal/routing"
)

type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelExceeded AlertLevel = "exceeded"
)

// Alert describes one budget threshold crossing for a spend window
// ("daily" or "monthly").
type Alert struct {
	Window     string     `json:"window"`
	Level      AlertLevel `json:"level"`
	LimitUSD   float64    `json:"limit_usd"`
	CurrentUSD float64    `json:"current_usd"`
	Percentage float64    `json:"percentage"`
	Timestamp  time.Time  `json:"timestamp"`
}

type AlertHandler func(alert Alert)

type Thresholds struct {
	Warning  float64
	Critical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning:  0.8,
		Critical: 0.95,
	}
}

// Monitor compares spend against limits and fires handlers when a window
// crosses into a new alert level. Repeated checks at the same level are
// suppressed; dropping back below the warning threshold re-arms the window.
type Monitor struct {
	mu         sync.Mutex
	tracker    *routing.CostTracker
	thresholds Thresholds
	handlers   []AlertHandler
	lastAlerts map[string]AlertLevel
}

func NewMonitor(tracker *routing.CostTracker, thresholds Thresholds) *Monitor {
	return &Monitor{
		tracker:    tracker,
		thresholds: thresholds,
		lastAlerts: make(map[string]AlertLevel),
	}
}

func (m *Monitor) OnAlert(handler AlertHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Check evaluates both spend windows and returns the alerts fired.
func (m *Monitor) Check() []Alert {
	status := m.tracker.BudgetStatus()

	var fired []Alert
	if a := m.checkWindow("daily", status.DailySpent, status.DailyLimitUSD); a != nil {
		fired = append(fired, *a)
	}
	if a := m.checkWindow("monthly", status.MonthlySpent, status.MonthlyLimitUSD); a != nil {
		fired = append(fired, *a)
	}
	return fired
}

func (m *Monitor) checkWindow(window string, spent, limit float64) *Alert {
	if limit <= 0 {
		return nil
	}

	percentage := spent / limit

	var level AlertLevel
	switch {
	case percentage >= 1.0:
		level = AlertLevelExceeded
	case percentage >= m.thresholds.Critical:
		level = AlertLevelCritical
	case percentage >= m.thresholds.Warning:
		level = AlertLevelWarning
	default:
		m.mu.Lock()
		delete(m.lastAlerts, window)
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	if last, ok := m.lastAlerts[window]; ok && last == level {
		m.mu.Unlock()
		return nil
	}
	m.lastAlerts[window] = level
	handlers := make([]AlertHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	alert := Alert{
		Window:     window,
		Level:      level,
		LimitUSD:   limit,
		CurrentUSD: spent,
		Percentage: percentage * 100,
		Timestamp:  time.Now().UTC(),
	}

	slog.Warn("budget alert",
		"window", window,
		"level", string(level),
		"spent_usd", spent,
		"limit_usd", limit,
	)

	for _, h := range handlers {
		h(alert)
	}
	return &alert
}

// Watch runs Check on an interval until stop is closed.
func (m *Monitor) Watch(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check()
		case <-stop:
			return
		}
	}
}
