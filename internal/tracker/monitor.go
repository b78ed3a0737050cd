package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rawblock/utxoracle-live/internal/logging"
)

// AccuracyWindowReport is the Correlation Tracker's periodic rolling
// accuracy computation across the three windows spec.md §4.7 names.
type AccuracyWindowReport struct {
	ComputedAt  time.Time
	Hour1       WindowStat
	Hour24      WindowStat
	Day7        WindowStat
}

// WindowStat is one window's average accuracy and sample size.
type WindowStat struct {
	AvgAccuracy float64
	SampleSize  int
}

// AlertLevel is the accuracy monitor's severity.
type AlertLevel string

const (
	AlertNone     AlertLevel = ""
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// monitorCooldown is the per-level de-duplication window from spec.md §4.7.
const monitorCooldown = time.Hour

// AccuracyMonitor runs every 5 minutes (spec.md §4.7), computing rolling
// accuracy over 1h/24h/7d windows and emitting de-duplicated
// WARNING/CRITICAL alerts when any window falls below threshold.
type AccuracyMonitor struct {
	store        *Store
	warnThresh   float64
	critThresh   float64
	log          *slog.Logger
	onAlert      func(level AlertLevel, window string, stat WindowStat)

	mu           sync.Mutex
	lastAlertAt  map[AlertLevel]time.Time
}

// NewAccuracyMonitor constructs an AccuracyMonitor. onAlert is invoked
// synchronously from the monitor's own task whenever a new (non-cooled-
// down) alert fires; it may be nil.
func NewAccuracyMonitor(store *Store, warnThresh, critThresh float64, onAlert func(AlertLevel, string, WindowStat)) *AccuracyMonitor {
	return &AccuracyMonitor{
		store:       store,
		warnThresh:  warnThresh,
		critThresh:  critThresh,
		onAlert:     onAlert,
		log:         logging.For("tracker.accuracy_monitor"),
		lastAlertAt: make(map[AlertLevel]time.Time),
	}
}

// Run computes the three windows and evaluates thresholds, once.
// Callers invoke this on a 5-minute ticker.
func (m *AccuracyMonitor) Run(ctx context.Context, now time.Time) (AccuracyWindowReport, error) {
	hour1, err := m.windowStat(ctx, now.Add(-time.Hour))
	if err != nil {
		return AccuracyWindowReport{}, err
	}
	hour24, err := m.windowStat(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return AccuracyWindowReport{}, err
	}
	day7, err := m.windowStat(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		return AccuracyWindowReport{}, err
	}

	report := AccuracyWindowReport{ComputedAt: now, Hour1: hour1, Hour24: hour24, Day7: day7}

	m.evaluate(now, "1h", hour1)
	m.evaluate(now, "24h", hour24)
	m.evaluate(now, "7d", day7)

	return report, nil
}

func (m *AccuracyMonitor) windowStat(ctx context.Context, since time.Time) (WindowStat, error) {
	avg, n, err := m.store.AccuracyOverWindow(ctx, since)
	if err != nil {
		return WindowStat{}, err
	}
	return WindowStat{AvgAccuracy: avg, SampleSize: n}, nil
}

func (m *AccuracyMonitor) evaluate(now time.Time, window string, stat WindowStat) {
	if stat.SampleSize == 0 {
		return
	}
	level := AlertNone
	switch {
	case stat.AvgAccuracy < m.critThresh:
		level = AlertCritical
	case stat.AvgAccuracy < m.warnThresh:
		level = AlertWarning
	}
	if level == AlertNone {
		return
	}

	m.mu.Lock()
	last, seen := m.lastAlertAt[level]
	cooledDown := !seen || now.Sub(last) >= monitorCooldown
	if cooledDown {
		m.lastAlertAt[level] = now
	}
	m.mu.Unlock()

	if !cooledDown {
		return
	}

	m.log.Warn("accuracy threshold breached", "level", level, "window", window, "avg_accuracy", stat.AvgAccuracy, "sample_size", stat.SampleSize)
	if m.onAlert != nil {
		m.onAlert(level, window, stat)
	}
}
