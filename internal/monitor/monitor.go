// Package monitor runs the per-fixture alert lifecycle. Each poll cycle ingests
// the live feed into the momentum aggregator, evaluates the classifier chain for
// fixtures inside a timing window, confirms corner-market liquidity and emits at
// most one alert per fixture and tier.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/cornerwatch/internal/logger"
	"github.com/rewired-gh/cornerwatch/internal/marker"
	"github.com/rewired-gh/cornerwatch/internal/models"
	"github.com/rewired-gh/cornerwatch/internal/momentum"
	"github.com/rewired-gh/cornerwatch/internal/psychology"
)

// LiveFeed lists in-progress fixtures.
type LiveFeed interface {
	PollLiveFixtures(ctx context.Context) ([]models.LiveFixture, error)
}

// OddsFeed supplies pre-match prices and the live corner market.
type OddsFeed interface {
	PrematchWinOdds(ctx context.Context, fixtureID int64) (models.MatchOdds, error)
	CornerMarket(ctx context.Context, fixtureID int64, currentCorners int) (models.CornerMarket, error)
}

// Notifier delivers an alert. An error means the alert was not delivered.
type Notifier interface {
	NotifyAlert(ctx context.Context, alert *models.Alert, candidate *models.AlertCandidate) error
}

// OpsNotifier receives loop health notifications.
type OpsNotifier interface {
	SendError(err error) error
	SendRecovery(failureCount int) error
}

// AlertStore persists alerts and caches pre-match odds.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *models.Alert) error
	DeleteAlert(ctx context.Context, id string) error
	AlertedTiers(ctx context.Context, fixtureID int64) ([]models.Tier, error)
	LoadOdds(ctx context.Context, fixtureID int64) (*models.MatchOdds, error)
	SaveOdds(ctx context.Context, fixtureID int64, odds models.MatchOdds, fetchedAt time.Time) error
	DeleteOdds(ctx context.Context, fixtureID int64) error
}

// Recorder receives cycle metrics.
type Recorder interface {
	CycleCompleted(d time.Duration, err error)
	FixturesMonitored(n int)
	AlertSent(tier models.Tier)
	FixtureFailed(stage string, err error)
	PendingRollbacks(n int)
}

type nopRecorder struct{}

func (nopRecorder) CycleCompleted(time.Duration, error) {}
func (nopRecorder) FixturesMonitored(int)              {}
func (nopRecorder) AlertSent(models.Tier)              {}
func (nopRecorder) FixtureFailed(string, error)        {}
func (nopRecorder) PendingRollbacks(int)               {}

// LiquidityConfig controls the corner-market confirmation.
type LiquidityConfig struct {
	// Required rejects candidates without a tradable line. When false a market
	// with too few tradable lines falls back to a line half a corner above the
	// current count. A failed market fetch rejects the candidate either way.
	Required    bool
	MinLineOdds float64
	MaxLineOdds float64
	MinLines    int
}

// Config holds the coordinator settings.
type Config struct {
	PollInterval    time.Duration
	FetchTimeout    time.Duration
	WatchFromMinute int
	AbsentGrace     time.Duration
	Workers         int
	SaveRetries     int
	SaveRetryDelay  time.Duration
	Liquidity       LiquidityConfig
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    30 * time.Second,
		FetchTimeout:    10 * time.Second,
		WatchFromMinute: 20,
		AbsentGrace:     5 * time.Minute,
		Workers:         8,
		SaveRetries:     3,
		SaveRetryDelay:  500 * time.Millisecond,
		Liquidity: LiquidityConfig{
			Required:    true,
			MinLineOdds: 1.5,
			MaxLineOdds: 3.5,
			MinLines:    1,
		},
	}
}

// Deps are the coordinator's collaborators. Ops and Metrics may be nil.
type Deps struct {
	Feed       LiveFeed
	Odds       OddsFeed
	Notifier   Notifier
	Ops        OpsNotifier
	Store      AlertStore
	Markers    marker.Set
	Aggregator *momentum.Aggregator
	Chain      *psychology.Chain
	Bands      psychology.Bands
	Metrics    Recorder
}

// CycleReport summarises one poll cycle.
type CycleReport struct {
	Polled     int
	Monitoring int
	Alerts     []*models.Alert
	Failures   []models.FixtureError
	Retired    []int64
	// PendingRollbacks counts recorded alerts whose notification failed and
	// whose row could not be removed yet.
	PendingRollbacks int
	Duration         time.Duration
}

type collector struct {
	mu     sync.Mutex
	report CycleReport
}

func (c *collector) alert(a *models.Alert) {
	c.mu.Lock()
	c.report.Alerts = append(c.report.Alerts, a)
	c.mu.Unlock()
}

func (c *collector) retired(id int64) {
	c.mu.Lock()
	c.report.Retired = append(c.report.Retired, id)
	c.mu.Unlock()
}

func (c *collector) fail(fe models.FixtureError) {
	c.mu.Lock()
	c.report.Failures = append(c.report.Failures, fe)
	c.mu.Unlock()
}

// Coordinator owns the fixture lifecycle.
type Coordinator struct {
	deps Deps
	cfg  Config

	mu       sync.Mutex
	fixtures map[int64]*fixtureState

	rollbackMu sync.Mutex
	rollbacks  []*models.Alert
}

// New creates a coordinator. A nil Metrics records nothing.
func New(deps Deps, cfg Config) *Coordinator {
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.SaveRetries < 1 {
		cfg.SaveRetries = 1
	}
	return &Coordinator{
		deps:     deps,
		cfg:      cfg,
		fixtures: make(map[int64]*fixtureState),
	}
}

// Run polls on PollInterval until ctx is cancelled. The in-flight cycle always
// runs to completion. On exit queued rollbacks get one last bounded attempt and
// any left over are logged by alert ID.
func (c *Coordinator) Run(ctx context.Context) error {
	logger.Info("Starting coordinator (interval: %v, workers: %d, watch from: %d')",
		c.cfg.PollInterval, c.cfg.Workers, c.cfg.WatchFromMinute)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	cycle := func() {
		_, err := c.RunCycle(context.WithoutCancel(ctx), time.Now())
		if err != nil {
			consecutiveFailures++
			logger.Error("Monitoring cycle failed: %v", err)
			if consecutiveFailures == 1 && c.deps.Ops != nil {
				if sendErr := c.deps.Ops.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification: %v", sendErr)
				}
			}
			return
		}
		if consecutiveFailures > 0 && c.deps.Ops != nil {
			if sendErr := c.deps.Ops.SendRecovery(consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification: %v", sendErr)
			}
		}
		consecutiveFailures = 0
	}

	cycle()
	for {
		select {
		case <-ctx.Done():
			c.drain(ctx)
			logger.Info("Coordinator stopped")
			return nil
		case <-ticker.C:
			cycle()
		}
	}
}

// RunCycle performs one poll tick. Only a live-feed failure fails the cycle;
// per-fixture failures are collected in the report.
func (c *Coordinator) RunCycle(ctx context.Context, now time.Time) (CycleReport, error) {
	start := time.Now()
	col := &collector{}

	c.flushRollbacks(ctx)

	fixtures, err := c.deps.Feed.PollLiveFixtures(ctx)
	if err != nil {
		err = fmt.Errorf("failed to poll live fixtures: %w", err)
		c.deps.Metrics.CycleCompleted(time.Since(start), err)
		return CycleReport{Duration: time.Since(start)}, err
	}
	col.report.Polled = len(fixtures)

	seen := make(map[int64]bool, len(fixtures))
	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Workers)
	for i := range fixtures {
		f := fixtures[i]
		if f.ID <= 0 {
			col.fail(models.FixtureError{FixtureID: f.ID, Stage: "validate",
				Err: fmt.Errorf("%w: fixture id must be positive", models.ErrDataShape)})
			continue
		}
		seen[f.ID] = true

		if f.Phase == models.PhaseFinished {
			if st := c.lookup(f.ID); st != nil {
				c.retire(ctx, st, "finished")
				col.retired(f.ID)
			}
			continue
		}

		st := c.track(f, now)
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					col.fail(models.FixtureError{FixtureID: f.ID, Stage: "panic", Err: fmt.Errorf("%v", r)})
					logger.Error("Recovered panic processing fixture %d: %v", f.ID, r)
				}
			}()
			c.processFixture(ctx, st, f, now, col)
			return nil
		})
	}
	_ = g.Wait()

	for _, st := range c.absent(seen, now) {
		c.retire(ctx, st, "absent")
		col.retired(st.id)
	}

	col.mu.Lock()
	report := col.report
	col.mu.Unlock()
	report.Monitoring = c.Monitoring()
	report.PendingRollbacks = c.PendingRollbacks()
	report.Duration = time.Since(start)

	for _, fe := range report.Failures {
		c.deps.Metrics.FixtureFailed(fe.Stage, fe.Err)
	}
	c.deps.Metrics.FixturesMonitored(report.Monitoring)
	c.deps.Metrics.PendingRollbacks(report.PendingRollbacks)
	c.deps.Metrics.CycleCompleted(report.Duration, nil)

	logger.Info("Cycle completed in %v: %d polled, %d monitoring, %d alerts, %d failures, %d retired",
		report.Duration, report.Polled, report.Monitoring, len(report.Alerts), len(report.Failures), len(report.Retired))
	return report, nil
}

func (c *Coordinator) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.FetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.FetchTimeout)
}

func (c *Coordinator) lookup(id int64) *fixtureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fixtures[id]
}

// track returns the state of f, creating it on first sighting.
func (c *Coordinator) track(f models.LiveFixture, now time.Time) *fixtureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.fixtures[f.ID]
	if !ok {
		st = newFixtureState(f, now)
		c.fixtures[f.ID] = st
		logger.With("fixture_id", f.ID).Debug("Discovered %s vs %s (%s)", f.HomeTeam, f.AwayTeam, f.League)
	}
	return st
}

// absent returns tracked fixtures missing from this poll for longer than AbsentGrace.
func (c *Coordinator) absent(seen map[int64]bool, now time.Time) []*fixtureState {
	c.mu.Lock()
	states := make([]*fixtureState, 0, len(c.fixtures))
	for id, st := range c.fixtures {
		if !seen[id] {
			states = append(states, st)
		}
	}
	c.mu.Unlock()

	var out []*fixtureState
	for _, st := range states {
		st.mu.Lock()
		stale := now.Sub(st.lastSeen) > c.cfg.AbsentGrace
		st.mu.Unlock()
		if stale {
			out = append(out, st)
		}
	}
	return out
}

func (c *Coordinator) retire(ctx context.Context, st *fixtureState, reason string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.stage == StageRetired {
		return
	}
	st.stage = StageRetired

	c.mu.Lock()
	if c.fixtures[st.id] == st {
		delete(c.fixtures, st.id)
	}
	c.mu.Unlock()

	c.deps.Aggregator.Remove(st.id)
	if !c.hasRollback(st.id) {
		if err := c.deps.Markers.Clear(ctx, st.id); err != nil {
			logger.Warn("Failed to clear markers for fixture %d: %v", st.id, err)
		}
	}
	if err := c.deps.Store.DeleteOdds(ctx, st.id); err != nil {
		logger.Warn("Failed to delete cached odds for fixture %d: %v", st.id, err)
	}
	logger.With("fixture_id", st.id).Info("Retired fixture (%s), alerted tiers: %v", reason, st.alertedTiers())
}

func (c *Coordinator) processFixture(ctx context.Context, st *fixtureState, f models.LiveFixture, now time.Time, col *collector) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.stage == StageRetired {
		return
	}
	st.fixture = f
	st.lastSeen = now
	log := logger.With("fixture_id", f.ID)

	fail := func(stage string, err error) {
		col.fail(models.FixtureError{FixtureID: f.ID, Stage: stage, Err: err})
		log.Warn("Fixture %s failed at %s (%s): %v", f.ScoreLine(), stage, models.ErrorKind(err), err)
	}

	if err := f.Validate(); err != nil {
		fail("validate", err)
		return
	}
	res := c.deps.Aggregator.AddSnapshot(f.ID, f.Minute, *f.HomeStats, *f.AwayStats)
	if res.Home == momentum.Reset || res.Away == momentum.Reset {
		log.Warn("Minute regressed to %d, momentum series restarted (home %s, away %s)", f.Minute, res.Home, res.Away)
	}

	if st.stage == StageDiscovered {
		if f.Minute < c.cfg.WatchFromMinute {
			return
		}
		if err := c.hydrate(ctx, st); err != nil {
			fail("hydrate", err)
			return
		}
		st.stage = StageMonitoring
		log.Info("Monitoring %s vs %s from %d'", f.HomeTeam, f.AwayTeam, f.Minute)
	}

	state := psychology.StateFromFixture(&f)
	skip := func(t models.Tier) bool { return st.alerted[t] }
	if !c.deps.Chain.InWindow(state, skip) {
		return
	}

	profile, err := c.profile(ctx, st, now)
	if err != nil {
		fail("odds", err)
		return
	}

	scores := c.deps.Aggregator.ComputeScores(f.ID)
	candidate := c.deps.Chain.Evaluate(*profile, state, scores, skip)
	if candidate == nil {
		log.Debug("No candidate at %d' (%s), momentum %.0f/%.0f", f.Minute, f.ScoreLine(), scores.Home.Total, scores.Away.Total)
		return
	}
	log = log.With("tier", candidate.Tier)

	line, ok, err := c.confirmLiquidity(ctx, &f)
	if err != nil {
		fail("liquidity", err)
		return
	}
	if !ok {
		log.Info("Candidate %s dropped: no tradable corner line", candidate.Label)
		return
	}

	won, err := c.deps.Markers.TryMark(ctx, f.ID, candidate.Tier)
	if err != nil {
		fail("marker", err)
		return
	}
	if !won {
		st.alerted[candidate.Tier] = true
		log.Debug("Tier already marked by another cycle")
		return
	}

	alert := &models.Alert{
		ID:             uuid.NewString(),
		FixtureID:      f.ID,
		Tier:           candidate.Tier,
		Regime:         candidate.Regime,
		Intensity:      candidate.Intensity,
		League:         f.League,
		HomeTeam:       f.HomeTeam,
		AwayTeam:       f.AwayTeam,
		TargetSide:     candidate.TargetSide,
		ScoreAtAlert:   f.ScoreLine(),
		MinuteSent:     f.Minute,
		CornersAtAlert: f.TotalCorners(),
		Direction:      models.Over,
		ImpliedLine:    line.Line,
		LineOdds:       line.Odds,
		HomeMomentum:   scores.Home.Total,
		AwayMomentum:   scores.Away.Total,
		CreatedAt:      now,
	}

	// Recorded before sent: a tier present in the store is never sent again.
	if err := c.save(ctx, alert); err != nil {
		if errors.Is(err, models.ErrDuplicateAlert) {
			st.alerted[candidate.Tier] = true
			log.Info("Tier already recorded, not re-sending")
			return
		}
		c.release(ctx, alert)
		fail("persist", err)
		return
	}

	if err := c.deps.Notifier.NotifyAlert(ctx, alert, candidate); err != nil {
		fail("notify", err)
		c.rollback(ctx, alert)
		return
	}
	st.alerted[candidate.Tier] = true
	c.deps.Metrics.AlertSent(candidate.Tier)
	col.alert(alert)
	log.Info("Alert sent: %s %s at %d' (%s), over %.1f @ %.2f",
		candidate.Label, candidate.TargetSide, f.Minute, f.ScoreLine(), line.Line, line.Odds)
}

// hydrate loads the tiers already alerted for st, e.g. before a restart.
func (c *Coordinator) hydrate(ctx context.Context, st *fixtureState) error {
	if st.hydrated {
		return nil
	}
	tiers, err := c.deps.Store.AlertedTiers(ctx, st.id)
	if err != nil {
		return fmt.Errorf("failed to load alerted tiers: %w", err)
	}
	for _, t := range tiers {
		st.alerted[t] = true
	}
	st.hydrated = true
	return nil
}

// profile returns the fixture's odds profile, loading odds from the cache or
// the provider on first use.
func (c *Coordinator) profile(ctx context.Context, st *fixtureState, now time.Time) (*models.OddsProfile, error) {
	if st.profile != nil {
		return st.profile, nil
	}

	odds, err := c.deps.Store.LoadOdds(ctx, st.id)
	if err != nil {
		logger.Warn("Failed to load cached odds for fixture %d: %v", st.id, err)
		odds = nil
	}
	if odds == nil {
		fctx, cancel := c.fetchContext(ctx)
		fetched, err := c.deps.Odds.PrematchWinOdds(fctx, st.id)
		cancel()
		if err != nil {
			return nil, err
		}
		odds = &fetched
		if err := c.deps.Store.SaveOdds(ctx, st.id, fetched, now); err != nil {
			logger.Warn("Failed to cache odds for fixture %d: %v", st.id, err)
		}
	}

	profile, err := psychology.BuildProfile(*odds, c.deps.Bands)
	if err != nil {
		return nil, err
	}
	st.profile = &profile
	return st.profile, nil
}

// confirmLiquidity picks the over line to back. ok is false when no tradable
// line exists and liquidity is required.
func (c *Coordinator) confirmLiquidity(ctx context.Context, f *models.LiveFixture) (models.CornerLine, bool, error) {
	lq := c.cfg.Liquidity
	corners := f.TotalCorners()
	fallback := models.CornerLine{Line: float64(corners) + 0.5}

	fctx, cancel := c.fetchContext(ctx)
	market, err := c.deps.Odds.CornerMarket(fctx, f.ID, corners)
	cancel()
	if err != nil {
		return models.CornerLine{}, false, err
	}

	tradable := market.Tradable(lq.MinLineOdds, lq.MaxLineOdds)
	minLines := lq.MinLines
	if minLines < 1 {
		minLines = 1
	}
	if len(tradable) < minLines {
		if !lq.Required {
			return fallback, true, nil
		}
		return models.CornerLine{}, false, nil
	}
	line, ok := models.PickOverLine(tradable, corners)
	return line, ok, nil
}

// save writes alert with bounded retry.
func (c *Coordinator) save(ctx context.Context, alert *models.Alert) error {
	return c.retry(ctx, func() error { return c.deps.Store.SaveAlert(ctx, alert) })
}

// rollback undoes a recorded alert whose notification failed so the tier can
// fire again. When the row cannot be removed the alert is queued and its
// marker stays held until a later cycle succeeds.
func (c *Coordinator) rollback(ctx context.Context, alert *models.Alert) {
	err := c.retry(ctx, func() error { return c.deps.Store.DeleteAlert(ctx, alert.ID) })
	if err != nil {
		logger.With("fixture_id", alert.FixtureID).
			Error("Failed to remove unsent alert %s, queued for rollback: %v", alert.ID, err)
		c.rollbackMu.Lock()
		c.rollbacks = append(c.rollbacks, alert)
		c.rollbackMu.Unlock()
		return
	}
	c.release(ctx, alert)
}

func (c *Coordinator) release(ctx context.Context, alert *models.Alert) {
	if err := c.deps.Markers.Release(ctx, alert.FixtureID, alert.Tier); err != nil {
		logger.With("fixture_id", alert.FixtureID).Error("Failed to release %s marker: %v", alert.Tier, err)
	}
}

// retry runs op up to SaveRetries times with linear backoff. A duplicate alert
// is final.
func (c *Coordinator) retry(ctx context.Context, op func() error) error {
	var err error
	for i := 0; i < c.cfg.SaveRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(c.cfg.SaveRetryDelay * time.Duration(i)):
			}
		}
		err = op()
		if err == nil || errors.Is(err, models.ErrDuplicateAlert) {
			return err
		}
	}
	return err
}

func (c *Coordinator) flushRollbacks(ctx context.Context) {
	c.rollbackMu.Lock()
	queued := c.rollbacks
	c.rollbacks = nil
	c.rollbackMu.Unlock()
	if len(queued) == 0 {
		return
	}

	var still []*models.Alert
	for _, a := range queued {
		if err := c.deps.Store.DeleteAlert(ctx, a.ID); err != nil {
			logger.Warn("Unsent alert %s still recorded: %v", a.ID, err)
			still = append(still, a)
			continue
		}
		c.release(ctx, a)
	}
	logger.Info("Rolled back %d of %d unsent alerts", len(queued)-len(still), len(queued))

	c.rollbackMu.Lock()
	c.rollbacks = append(still, c.rollbacks...)
	c.rollbackMu.Unlock()
}

// drain makes a final bounded rollback attempt once the run context is done.
func (c *Coordinator) drain(ctx context.Context) {
	if c.PendingRollbacks() == 0 {
		return
	}
	fctx, cancel := c.fetchContext(context.WithoutCancel(ctx))
	defer cancel()
	c.flushRollbacks(fctx)

	c.rollbackMu.Lock()
	ids := make([]string, len(c.rollbacks))
	for i, a := range c.rollbacks {
		ids[i] = a.ID
	}
	c.rollbackMu.Unlock()
	if len(ids) > 0 {
		logger.Error("Stopping with %d unsent alerts still recorded, their tiers will not fire again: %v", len(ids), ids)
	}
}

// PendingRollbacks returns how many unsent alerts still await removal.
func (c *Coordinator) PendingRollbacks() int {
	c.rollbackMu.Lock()
	defer c.rollbackMu.Unlock()
	return len(c.rollbacks)
}

func (c *Coordinator) hasRollback(fixtureID int64) bool {
	c.rollbackMu.Lock()
	defer c.rollbackMu.Unlock()
	for _, a := range c.rollbacks {
		if a.FixtureID == fixtureID {
			return true
		}
	}
	return false
}
