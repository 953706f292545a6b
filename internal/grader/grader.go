// Package grader settles issued alerts against the final corner count once a
// fixture has finished. It runs on its own schedule, independent of the live
// coordinator, and never guesses a result for a fixture that is not final.
package grader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/cornerwatch/internal/logger"
	"github.com/rewired-gh/cornerwatch/internal/models"
)

// FinalFeed reports a fixture's settled statistics.
type FinalFeed interface {
	FinalStats(ctx context.Context, fixtureID int64) (models.FinalStats, error)
}

// Store lists and settles alerts.
type Store interface {
	UnsettledAlerts(ctx context.Context, createdBefore time.Time) ([]*models.Alert, error)
	SettleAlert(ctx context.Context, id string, finalCorners int, result models.Result, checkedAt time.Time) error
}

// Notifier receives the settlements of a pass.
type Notifier interface {
	NotifyResults(ctx context.Context, settled []Settlement) error
}

// Recorder receives settlement metrics.
type Recorder interface {
	Settled(tier models.Tier, result models.Result)
	PendingAlerts(n int)
}

type nopRecorder struct{}

func (nopRecorder) Settled(models.Tier, models.Result) {}
func (nopRecorder) PendingAlerts(int)                  {}

// Config controls grading cadence. MinAge is how old an alert must be before
// its fixture is looked up.
type Config struct {
	Interval     time.Duration
	MinAge       time.Duration
	FetchTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     10 * time.Minute,
		MinAge:       100 * time.Minute,
		FetchTimeout: 10 * time.Second,
	}
}

// Deps are the grader's collaborators. Notifier and Metrics may be nil.
type Deps struct {
	Feed     FinalFeed
	Store    Store
	Notifier Notifier
	Metrics  Recorder
}

// Settlement is one graded alert.
type Settlement struct {
	Alert        *models.Alert
	FinalCorners int
	Result       models.Result
}

// PassReport summarises one grading pass.
type PassReport struct {
	Checked  int
	Settled  []Settlement
	Pending  int
	Skipped  int
	Failures []models.FixtureError
}

// Settle grades a line against the final count. Over wins above the line, Under
// below it, and an exact hit is a push.
func Settle(direction models.Direction, line float64, finalCorners int) models.Result {
	final := float64(finalCorners)
	if direction == models.Under {
		final, line = line, final
	}
	switch {
	case final > line:
		return models.ResultWin
	case final == line:
		return models.ResultRefund
	default:
		return models.ResultLoss
	}
}

// Grade settles alert without mutating it. An alert that already carries a
// result returns models.ErrAlreadyGraded.
func Grade(alert *models.Alert, finalCorners int) (models.Result, error) {
	if alert.Settled() {
		return "", fmt.Errorf("alert %s: %w", alert.ID, models.ErrAlreadyGraded)
	}
	if finalCorners < 0 {
		return "", fmt.Errorf("%w: final corners must not be negative", models.ErrDataShape)
	}
	return Settle(alert.Direction, alert.ImpliedLine, finalCorners), nil
}

// Grader settles alerts against final corner counts.
type Grader struct {
	deps Deps
	cfg  Config
}

// New creates a grader. A nil Metrics records nothing.
func New(deps Deps, cfg Config) *Grader {
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	return &Grader{deps: deps, cfg: cfg}
}

type finalResult struct {
	stats models.FinalStats
	err   error
}

// RunPass grades every unsettled alert older than MinAge. Final statistics are
// fetched once per fixture per pass. Fixtures that are not final stay pending.
func (g *Grader) RunPass(ctx context.Context, now time.Time) (PassReport, error) {
	var report PassReport

	alerts, err := g.deps.Store.UnsettledAlerts(ctx, now.Add(-g.cfg.MinAge))
	if err != nil {
		return report, err
	}
	report.Checked = len(alerts)

	finals := make(map[int64]finalResult)
	for _, alert := range alerts {
		fr, ok := finals[alert.FixtureID]
		if !ok {
			fr = g.fetch(ctx, alert.FixtureID)
			finals[alert.FixtureID] = fr
		}

		if fr.err != nil {
			report.Pending++
			if !errors.Is(fr.err, models.ErrSettlementAmbiguous) {
				report.Failures = append(report.Failures, models.FixtureError{FixtureID: alert.FixtureID, Stage: "final_stats", Err: fr.err})
			}
			continue
		}
		if !fr.stats.Finished {
			report.Pending++
			continue
		}

		result, err := Grade(alert, fr.stats.Corners)
		if errors.Is(err, models.ErrAlreadyGraded) {
			report.Skipped++
			continue
		}
		if err != nil {
			report.Failures = append(report.Failures, models.FixtureError{FixtureID: alert.FixtureID, Stage: "grade", Err: err})
			continue
		}

		err = g.deps.Store.SettleAlert(ctx, alert.ID, fr.stats.Corners, result, now)
		if errors.Is(err, models.ErrAlreadyGraded) {
			report.Skipped++
			continue
		}
		if err != nil {
			report.Failures = append(report.Failures, models.FixtureError{FixtureID: alert.FixtureID, Stage: "settle", Err: err})
			continue
		}

		corners, checked := fr.stats.Corners, now
		alert.FinalCorners, alert.Result, alert.CheckedAt = &corners, &result, &checked
		report.Settled = append(report.Settled, Settlement{Alert: alert, FinalCorners: corners, Result: result})
		g.deps.Metrics.Settled(alert.Tier, result)
		logger.With("fixture_id", alert.FixtureID).With("tier", alert.Tier).
			Info("Settled %s over %.1f with %d corners: %s", alert.Teams(), alert.ImpliedLine, corners, result)
	}

	for _, fe := range report.Failures {
		logger.Warn("Grading failed: %v", fe)
	}
	g.deps.Metrics.PendingAlerts(report.Pending)

	if g.deps.Notifier != nil && len(report.Settled) > 0 {
		if err := g.deps.Notifier.NotifyResults(ctx, report.Settled); err != nil {
			logger.Warn("Failed to send results notification: %v", err)
		}
	}

	logger.Info("Grading pass: %d checked, %d settled, %d pending, %d skipped, %d failures",
		report.Checked, len(report.Settled), report.Pending, report.Skipped, len(report.Failures))
	return report, nil
}

func (g *Grader) fetch(ctx context.Context, fixtureID int64) finalResult {
	if g.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.FetchTimeout)
		defer cancel()
	}
	stats, err := g.deps.Feed.FinalStats(ctx, fixtureID)
	return finalResult{stats: stats, err: err}
}

// Run grades on Interval until ctx is cancelled.
func (g *Grader) Run(ctx context.Context) error {
	logger.Info("Starting grader (interval: %v, min age: %v)", g.cfg.Interval, g.cfg.MinAge)

	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	pass := func() {
		if _, err := g.RunPass(context.WithoutCancel(ctx), time.Now()); err != nil {
			logger.Error("Grading pass failed: %v", err)
		}
	}

	pass()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Grader stopped")
			return nil
		case <-ticker.C:
			pass()
		}
	}
}
