package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/amirk1998/quicknotes/internal/logging"
)

const (
	failedSignInThreshold = 5
	failedSignInWindow    = 5 * time.Minute
)

// Alert reports a subject that crossed the failed sign-in threshold.
type Alert struct {
	Subject  string
	Attempts int
}

type Monitor struct {
	logger *Logger
	log    logging.Logger
	now    func() time.Time
}

// NewMonitor creates a new security monitor
func NewMonitor(logger *Logger, log logging.Logger) *Monitor {
	return &Monitor{
		logger: logger,
		log:    log,
		now:    time.Now,
	}
}

// DetectFailedSignIns counts failed sign-ins per email over the last five
// minutes and records a critical event for each email at or above the threshold.
func (m *Monitor) DetectFailedSignIns(ctx context.Context) ([]Alert, error) {
	now := m.now()
	start := now.Add(-failedSignInWindow)

	events, err := m.logger.QueryLogs(ctx, QueryFilters{
		StartTime: &start,
		EndTime:   &now,
		Action:    ActionSignIn,
		Limit:     1000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	failedAttempts := make(map[string]int)
	var order []string
	for _, event := range events {
		if event.Success || event.Subject == "" {
			continue
		}
		if failedAttempts[event.Subject] == 0 {
			order = append(order, event.Subject)
		}
		failedAttempts[event.Subject]++
	}

	var alerts []Alert
	for _, subject := range order {
		n := failedAttempts[subject]
		if n < failedSignInThreshold {
			continue
		}

		m.log.Warn(ctx, "security alert: repeated failed sign-ins", "email", subject, "attempts", n)
		alerts = append(alerts, Alert{Subject: subject, Attempts: n})

		if err := m.logger.Log(ctx, &Event{
			Level:    LevelCritical,
			Subject:  subject,
			Action:   ActionFailedSignInThreshold,
			Resource: "authentication",
			Success:  false,
			ErrorMsg: fmt.Sprintf("%d failed attempts detected", n),
		}); err != nil {
			m.log.Error(ctx, "failed to record security alert", "error", err)
		}
	}

	return alerts, nil
}

// DetectSuspiciousActivity runs all security checks
func (m *Monitor) DetectSuspiciousActivity(ctx context.Context) error {
	if _, err := m.DetectFailedSignIns(ctx); err != nil {
		m.log.Error(ctx, "failed to detect failed sign-ins", "error", err)
		return err
	}
	return nil
}

// Run checks every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.DetectSuspiciousActivity(ctx)
		}
	}
}
