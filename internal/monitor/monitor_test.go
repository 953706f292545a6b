package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/cornerwatch/internal/marker"
	"github.com/rewired-gh/cornerwatch/internal/models"
	"github.com/rewired-gh/cornerwatch/internal/momentum"
	"github.com/rewired-gh/cornerwatch/internal/psychology"
	"github.com/rewired-gh/cornerwatch/internal/storage"
)

var kickoff = time.Date(2026, 10, 16, 19, 0, 0, 0, time.UTC)

type fakeFeed struct {
	mu       sync.Mutex
	fixtures []models.LiveFixture
	errs     []error
	polls    int
	delay    time.Duration
}

func (f *fakeFeed) set(fixtures ...models.LiveFixture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixtures = fixtures
}

func (f *fakeFeed) failNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

func (f *fakeFeed) PollLiveFixtures(ctx context.Context) ([]models.LiveFixture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return append([]models.LiveFixture(nil), f.fixtures...), nil
}

type fakeOdds struct {
	mu          sync.Mutex
	odds        map[int64]models.MatchOdds
	oddsErr     map[int64]error
	markets     map[int64]models.CornerMarket
	marketErr   error
	oddsCalls   int
	marketCalls int
}

func newFakeOdds() *fakeOdds {
	return &fakeOdds{
		odds:    make(map[int64]models.MatchOdds),
		oddsErr: make(map[int64]error),
		markets: make(map[int64]models.CornerMarket),
	}
}

func (o *fakeOdds) PrematchWinOdds(ctx context.Context, id int64) (models.MatchOdds, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.oddsCalls++
	if err := o.oddsErr[id]; err != nil {
		return models.MatchOdds{}, err
	}
	odds, ok := o.odds[id]
	if !ok {
		return models.MatchOdds{}, fmt.Errorf("%w: no odds", models.ErrDataShape)
	}
	return odds, nil
}

func (o *fakeOdds) CornerMarket(ctx context.Context, id int64, corners int) (models.CornerMarket, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.marketCalls++
	if o.marketErr != nil {
		return models.CornerMarket{}, o.marketErr
	}
	return o.markets[id], nil
}

func (o *fakeOdds) calls() (odds, market int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.oddsCalls, o.marketCalls
}

type fakeNotifier struct {
	mu         sync.Mutex
	failures   int
	sent       []*models.Alert
	candidates []*models.AlertCandidate
}

func (n *fakeNotifier) NotifyAlert(ctx context.Context, a *models.Alert, c *models.AlertCandidate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failures > 0 {
		n.failures--
		return errors.New("telegram unavailable")
	}
	n.sent = append(n.sent, a)
	n.candidates = append(n.candidates, c)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakeOps struct {
	mu         sync.Mutex
	errors     int
	recoveries []int
}

func (o *fakeOps) SendError(error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors++
	return nil
}

func (o *fakeOps) SendRecovery(n int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recoveries = append(o.recoveries, n)
	return nil
}

// flakyStore fails the first failSaves SaveAlert and failDeletes DeleteAlert calls.
type flakyStore struct {
	*storage.Storage
	mu          sync.Mutex
	failSaves   int
	failDeletes int
	attempts    int
}

func (s *flakyStore) SaveAlert(ctx context.Context, a *models.Alert) error {
	s.mu.Lock()
	s.attempts++
	if s.failSaves > 0 {
		s.failSaves--
		s.mu.Unlock()
		return errors.New("database is locked")
	}
	s.mu.Unlock()
	return s.Storage.SaveAlert(ctx, a)
}

func (s *flakyStore) DeleteAlert(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.failDeletes > 0 {
		s.failDeletes--
		s.mu.Unlock()
		return errors.New("database is locked")
	}
	s.mu.Unlock()
	return s.Storage.DeleteAlert(ctx, id)
}

type harness struct {
	coord    *Coordinator
	feed     *fakeFeed
	odds     *fakeOdds
	notifier *fakeNotifier
	store    *flakyStore
	markers  *marker.Memory
	agg      *momentum.Aggregator
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FetchTimeout = time.Second
	cfg.Workers = 4
	cfg.SaveRetries = 2
	cfg.SaveRetryDelay = 0
	return cfg
}

func newStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		feed:     &fakeFeed{},
		odds:     newFakeOdds(),
		notifier: &fakeNotifier{},
		store:    &flakyStore{Storage: newStore(t)},
		markers:  marker.NewMemory(),
		agg:      momentum.New(momentum.DefaultConfig()),
	}
	h.coord = h.newCoordinator(cfg, h.agg)
	return h
}

func (h *harness) newCoordinator(cfg Config, agg *momentum.Aggregator) *Coordinator {
	return New(Deps{
		Feed:       h.feed,
		Odds:       h.odds,
		Notifier:   h.notifier,
		Store:      h.store,
		Markers:    h.markers,
		Aggregator: agg,
		Chain:      psychology.NewChain(psychology.DefaultConfig()),
		Bands:      psychology.DefaultBands(),
	}, cfg)
}

func (h *harness) cycle(t *testing.T, minute int) CycleReport {
	t.Helper()
	report, err := h.coord.RunCycle(context.Background(), kickoff.Add(time.Duration(minute)*time.Minute))
	require.NoError(t, err)
	return report
}

func stats(onTarget, offTarget, dangerous int, possession float64, corners int) *models.TeamStats {
	return &models.TeamStats{
		ShotsOnTarget:    onTarget,
		ShotsOffTarget:   offTarget,
		DangerousAttacks: dangerous,
		Possession:       possession,
		Corners:          corners,
	}
}

func live(id int64, minute int, phase models.Phase, hs, as int, home, away *models.TeamStats) models.LiveFixture {
	return models.LiveFixture{
		ID:        id,
		League:    "England - Premier League",
		HomeTeam:  fmt.Sprintf("Home %d", id),
		AwayTeam:  fmt.Sprintf("Away %d", id),
		Minute:    minute,
		Phase:     phase,
		HomeScore: hs,
		AwayScore: as,
		HomeStats: home,
		AwayStats: away,
	}
}

// Favorite priced 1.20, 0-0. At 87' the home side has 146 momentum and the away
// side 72, which clears the late panicking-favorite gate.
func favoriteAt80(id int64) models.LiveFixture {
	return live(id, 80, models.PhaseSecondHalf, 0, 0, stats(3, 6, 40, 60, 5), stats(1, 3, 20, 40, 2))
}

func favoriteAt87(id int64) models.LiveFixture {
	return live(id, 87, models.PhaseSecondHalf, 0, 0, stats(5, 6, 46, 60, 6), stats(1, 4, 25, 40, 3))
}

func (h *harness) primeFavorite(id int64) {
	h.odds.mu.Lock()
	defer h.odds.mu.Unlock()
	h.odds.odds[id] = models.MatchOdds{Home: 1.20, Away: 15.0}
	h.odds.markets[id] = models.CornerMarket{Available: true, Lines: []models.CornerLine{
		{Line: 10.5, Odds: 1.90},
	}}
}

func countAlerts(t *testing.T, s *storage.Storage) int {
	t.Helper()
	alerts, err := s.RecentAlerts(context.Background(), 100)
	require.NoError(t, err)
	return len(alerts)
}

func TestPanickingFavoriteAlertsOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	h.primeFavorite(1001)

	h.feed.set(favoriteAt80(1001))
	report := h.cycle(t, 80)
	assert.Empty(t, report.Alerts)
	assert.Equal(t, 1, report.Monitoring)

	h.feed.set(favoriteAt87(1001))
	report = h.cycle(t, 87)
	require.Len(t, report.Alerts, 1)
	assert.Empty(t, report.Failures)

	alert := report.Alerts[0]
	assert.Equal(t, models.TierLatePanic, alert.Tier)
	assert.Equal(t, models.IntensityMaximum, alert.Intensity)
	assert.Equal(t, models.Home, alert.TargetSide)
	assert.Equal(t, "0-0", alert.ScoreAtAlert)
	assert.Equal(t, 87, alert.MinuteSent)
	assert.Equal(t, 9, alert.CornersAtAlert)
	assert.Equal(t, 10.5, alert.ImpliedLine)
	assert.Equal(t, 146.0, alert.HomeMomentum)
	assert.Equal(t, 72.0, alert.AwayMomentum)

	stored, err := h.store.GetAlertByFixtureTier(context.Background(), 1001, models.TierLatePanic)
	require.NoError(t, err)
	assert.Equal(t, alert.ID, stored.ID)

	for i := 0; i < 3; i++ {
		report = h.cycle(t, 87)
		assert.Empty(t, report.Alerts)
	}
	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, 1, countAlerts(t, h.store.Storage))

	oddsCalls, _ := h.odds.calls()
	assert.Equal(t, 1, oddsCalls, "pre-match odds are fetched once per fixture")

	status := h.coord.Snapshot()
	require.Len(t, status, 1)
	assert.Equal(t, "monitoring", status[0].Stage)
	assert.Equal(t, []models.Tier{models.TierLatePanic}, status[0].Alerted)
}

func TestConcurrentCyclesAlertOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	h.primeFavorite(1001)
	h.feed.set(favoriteAt80(1001))
	h.cycle(t, 80)

	h.feed.set(favoriteAt87(1001))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.coord.RunCycle(context.Background(), kickoff.Add(87*time.Minute))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, 1, countAlerts(t, h.store.Storage))
}

func TestCoordinatorsSharingMarkersAlertOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	h.primeFavorite(1001)
	other := h.newCoordinator(testConfig(), momentum.New(momentum.DefaultConfig()))

	h.feed.set(favoriteAt80(1001))
	for _, c := range []*Coordinator{h.coord, other} {
		_, err := c.RunCycle(context.Background(), kickoff.Add(80*time.Minute))
		require.NoError(t, err)
	}

	h.feed.set(favoriteAt87(1001))
	var wg sync.WaitGroup
	for _, c := range []*Coordinator{h.coord, other} {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			_, err := c.RunCycle(context.Background(), kickoff.Add(87*time.Minute))
			assert.NoError(t, err)
		}(c)
	}
	wg.Wait()

	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, 1, countAlerts(t, h.store.Storage))
}

func TestFightingUnderdogCoexistsWithOtherTier(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	const id = 2002

	require.NoError(t, h.store.Storage.SaveAlert(ctx, &models.Alert{
		ID:           "first-half",
		FixtureID:    id,
		Tier:         models.TierFirstHalfPanic,
		Regime:       models.RegimePanickingFavorite,
		Intensity:    models.IntensityHigh,
		HomeTeam:     "Home 2002",
		AwayTeam:     "Away 2002",
		TargetSide:   models.Home,
		ScoreAtAlert: "0-1",
		MinuteSent:   31,
		Direction:    models.Over,
		ImpliedLine:  4.5,
		CreatedAt:    kickoff.Add(31 * time.Minute),
	}))

	h.odds.mu.Lock()
	h.odds.odds[id] = models.MatchOdds{Home: 1.35, Away: 9.0}
	h.odds.markets[id] = models.CornerMarket{Available: true, Lines: []models.CornerLine{
		{Line: 7.5, Odds: 1.40},
		{Line: 8.5, Odds: 1.95},
		{Line: 9.5, Odds: 2.60, Suspended: true},
	}}
	h.odds.mu.Unlock()

	h.feed.set(live(id, 74, models.PhaseSecondHalf, 1, 1, stats(3, 5, 30, 55, 4), stats(2, 2, 10, 45, 2)))
	report := h.cycle(t, 74)
	assert.Empty(t, report.Alerts)

	h.feed.set(live(id, 80, models.PhaseSecondHalf, 1, 1, stats(3, 5, 32, 55, 4), stats(4, 2, 14, 45, 3)))
	report = h.cycle(t, 80)
	require.Len(t, report.Alerts, 1)

	alert := report.Alerts[0]
	assert.Equal(t, models.TierLateUnderdog, alert.Tier)
	assert.Equal(t, models.Away, alert.TargetSide)
	assert.Equal(t, 8.5, alert.ImpliedLine)
	assert.Equal(t, 128.0, alert.AwayMomentum)

	h.notifier.mu.Lock()
	assert.Equal(t, "giant_killing", h.notifier.candidates[0].Label)
	h.notifier.mu.Unlock()

	tiers, err := h.store.AlertedTiers(ctx, id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.Tier{models.TierFirstHalfPanic, models.TierLateUnderdog}, tiers)
}

func TestFailuresAreIsolatedPerFixture(t *testing.T) {
	h := newHarness(t, testConfig())
	h.primeFavorite(1001)
	h.primeFavorite(1002)
	h.odds.mu.Lock()
	h.odds.oddsErr[1001] = fmt.Errorf("%w: timeout", models.ErrTransientFetch)
	h.odds.mu.Unlock()

	broken := live(1003, 87, models.PhaseSecondHalf, 0, 0, nil, nil)

	h.feed.set(favoriteAt80(1001), favoriteAt80(1002))
	h.cycle(t, 80)
	h.feed.set(favoriteAt87(1001), favoriteAt87(1002), broken)
	report := h.cycle(t, 87)

	require.Len(t, report.Alerts, 1)
	assert.Equal(t, int64(1002), report.Alerts[0].FixtureID)

	kinds := map[int64]string{}
	for _, fe := range report.Failures {
		kinds[fe.FixtureID] = models.ErrorKind(fe)
	}
	assert.Equal(t, map[int64]string{1001: "transient_fetch", 1003: "data_shape"}, kinds)

	h.odds.mu.Lock()
	delete(h.odds.oddsErr, 1001)
	h.odds.mu.Unlock()

	report = h.cycle(t, 87)
	require.Len(t, report.Alerts, 1, "transient failure retried next cycle")
	assert.Equal(t, int64(1001), report.Alerts[0].FixtureID)
}

func TestNotifyFailureReleasesMarker(t *testing.T) {
	h := newHarness(t, testConfig())
	h.primeFavorite(1001)
	h.notifier.failures = 1

	h.feed.set(favoriteAt80(1001))
	h.cycle(t, 80)
	h.feed.set(favoriteAt87(1001))
	report := h.cycle(t, 87)

	assert.Empty(t, report.Alerts)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "notify", report.Failures[0].Stage)
	marked, err := h.markers.IsMarked(context.Background(), 1001, models.TierLatePanic)
	require.NoError(t, err)
	assert.False(t, marked)
	assert.Equal(t, 0, countAlerts(t, h.store.Storage))

	report = h.cycle(t, 87)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, 1, countAlerts(t, h.store.Storage))
}

func TestPersistFailureSkipsNotification(t *testing.T) {
	h := newHarness(t, testConfig())
	h.primeFavorite(1001)
	h.store.failSaves = 2

	h.feed.set(favoriteAt80(1001))
	h.cycle(t, 80)
	h.feed.set(favoriteAt87(1001))
	report := h.cycle(t, 87)

	assert.Empty(t, report.Alerts)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "persist", report.Failures[0].Stage)
	assert.Zero(t, h.notifier.count(), "nothing is sent before it is recorded")
	marked, err := h.markers.IsMarked(context.Background(), 1001, models.TierLatePanic)
	require.NoError(t, err)
	assert.False(t, marked)

	report = h.cycle(t, 87)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, 1, countAlerts(t, h.store.Storage))
}

func TestUnsentAlertRollbackIsQueued(t *testing.T) {
	h := newHarness(t, testConfig())
	h.primeFavorite(1001)
	h.notifier.failures = 1
	h.store.failDeletes = 2

	h.feed.set(favoriteAt80(1001))
	h.cycle(t, 80)
	h.feed.set(favoriteAt87(1001))
	report := h.cycle(t, 87)

	assert.Empty(t, report.Alerts)
	assert.Equal(t, 1, report.PendingRollbacks)
	assert.Equal(t, 1, countAlerts(t, h.store.Storage))
	marked, err := h.markers.IsMarked(context.Background(), 1001, models.TierLatePanic)
	require.NoError(t, err)
	assert.True(t, marked, "marker held while the unsent row exists")

	report = h.cycle(t, 87)
	assert.Equal(t, 0, report.PendingRollbacks)
	require.Len(t, report.Alerts, 1, "tier fires again once the row is removed")
	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, 1, countAlerts(t, h.store.Storage))
}

func TestRunDrainsRollbacksOnStop(t *testing.T) {
	h := newHarness(t, testConfig())
	h.coord.cfg.PollInterval = time.Hour
	h.primeFavorite(1001)
	h.feed.set(favoriteAt80(1001))
	h.cycle(t, 80)

	h.notifier.failures = 1
	h.store.failDeletes = 2
	h.feed.set(favoriteAt87(1001))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.coord.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.coord.PendingRollbacks() == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Zero(t, h.coord.PendingRollbacks())
	assert.Zero(t, countAlerts(t, h.store.Storage))
	marked, err := h.markers.IsMarked(context.Background(), 1001, models.TierLatePanic)
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestSeparateMarkerSetsAlertOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	h.primeFavorite(1001)
	h.feed.set(favoriteAt80(1001))
	h.cycle(t, 80)

	// A second process on the same database with its own markers, already
	// watching the fixture when the first one sends.
	otherMarkers := marker.NewMemory()
	other := New(Deps{
		Feed:       h.feed,
		Odds:       h.odds,
		Notifier:   h.notifier,
		Store:      h.store,
		Markers:    otherMarkers,
		Aggregator: momentum.New(momentum.DefaultConfig()),
		Chain:      psychology.NewChain(psychology.DefaultConfig()),
		Bands:      psychology.DefaultBands(),
	}, testConfig())
	_, err := other.RunCycle(context.Background(), kickoff.Add(80*time.Minute))
	require.NoError(t, err)

	h.feed.set(favoriteAt87(1001))
	report := h.cycle(t, 87)
	require.Len(t, report.Alerts, 1)

	report, err = other.RunCycle(context.Background(), kickoff.Add(87*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, report.Alerts)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, 1, countAlerts(t, h.store.Storage))

	status := other.Snapshot()
	require.Len(t, status, 1)
	assert.Equal(t, []models.Tier{models.TierLatePanic}, status[0].Alerted)
}

func TestPollIsNotBoundByFetchTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.FetchTimeout = 10 * time.Millisecond
	h := newHarness(t, cfg)
	h.feed.delay = 50 * time.Millisecond
	h.feed.set(favoriteAt80(1001))

	report := h.cycle(t, 80)
	assert.Equal(t, 1, report.Polled)
}

func TestLiquidityGate(t *testing.T) {
	t.Run("no tradable line", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.primeFavorite(1001)
		h.odds.mu.Lock()
		h.odds.markets[1001] = models.CornerMarket{Available: true, Lines: []models.CornerLine{
			{Line: 10.5, Odds: 1.90, Suspended: true},
			{Line: 11.5, Odds: 4.50},
		}}
		h.odds.mu.Unlock()

		h.feed.set(favoriteAt80(1001))
		h.cycle(t, 80)
		h.feed.set(favoriteAt87(1001))
		report := h.cycle(t, 87)

		assert.Empty(t, report.Alerts)
		assert.Empty(t, report.Failures)
		assert.Equal(t, 0, h.markers.Len())
	})

	t.Run("thin market falls back when not required", func(t *testing.T) {
		cfg := testConfig()
		cfg.Liquidity.Required = false
		h := newHarness(t, cfg)
		h.primeFavorite(1001)
		h.odds.mu.Lock()
		h.odds.markets[1001] = models.CornerMarket{Available: true, Lines: []models.CornerLine{
			{Line: 11.5, Odds: 4.50},
		}}
		h.odds.mu.Unlock()

		h.feed.set(favoriteAt80(1001))
		h.cycle(t, 80)
		h.feed.set(favoriteAt87(1001))
		report := h.cycle(t, 87)

		require.Len(t, report.Alerts, 1)
		assert.Equal(t, 9.5, report.Alerts[0].ImpliedLine)
	})

	t.Run("market fetch failure when not required", func(t *testing.T) {
		cfg := testConfig()
		cfg.Liquidity.Required = false
		h := newHarness(t, cfg)
		h.primeFavorite(1001)
		h.odds.mu.Lock()
		h.odds.marketErr = fmt.Errorf("%w: 503", models.ErrTransientFetch)
		h.odds.mu.Unlock()

		h.feed.set(favoriteAt80(1001))
		h.cycle(t, 80)
		h.feed.set(favoriteAt87(1001))
		report := h.cycle(t, 87)

		assert.Empty(t, report.Alerts)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, "liquidity", report.Failures[0].Stage)
		assert.Equal(t, "transient_fetch", models.ErrorKind(report.Failures[0].Err))
		assert.Zero(t, h.notifier.count())
	})

	t.Run("market fetch failure when required", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.primeFavorite(1001)
		h.odds.mu.Lock()
		h.odds.marketErr = fmt.Errorf("%w: 503", models.ErrTransientFetch)
		h.odds.mu.Unlock()

		h.feed.set(favoriteAt80(1001))
		h.cycle(t, 80)
		h.feed.set(favoriteAt87(1001))
		report := h.cycle(t, 87)

		assert.Empty(t, report.Alerts)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, "liquidity", report.Failures[0].Stage)
	})
}

func TestOutsideWindowSkipsEvaluation(t *testing.T) {
	h := newHarness(t, testConfig())
	h.primeFavorite(1001)

	early := favoriteAt80(1001)
	early.Minute = 60
	later := favoriteAt87(1001)
	later.Minute = 67
	h.feed.set(early)
	h.cycle(t, 60)
	h.feed.set(later)
	report := h.cycle(t, 67)

	assert.Empty(t, report.Alerts)
	oddsCalls, marketCalls := h.odds.calls()
	assert.Zero(t, oddsCalls)
	assert.Zero(t, marketCalls)
}

func TestWatchFromMinute(t *testing.T) {
	h := newHarness(t, testConfig())
	h.feed.set(live(1001, 12, models.PhaseFirstHalf, 0, 0, stats(1, 1, 5, 50, 1), stats(0, 1, 4, 50, 0)))
	report := h.cycle(t, 12)

	assert.Equal(t, 0, report.Monitoring)
	status := h.coord.Snapshot()
	require.Len(t, status, 1)
	assert.Equal(t, "discovered", status[0].Stage)
	assert.Equal(t, 1, h.agg.Len(), "snapshots are ingested before monitoring starts")
}

func TestRetirement(t *testing.T) {
	h := newHarness(t, testConfig())
	h.primeFavorite(1001)
	h.feed.set(favoriteAt80(1001), live(1002, 50, models.PhaseSecondHalf, 1, 0, stats(1, 1, 5, 50, 1), stats(0, 1, 4, 50, 0)))
	h.cycle(t, 80)
	require.Len(t, h.coord.Snapshot(), 2)

	finished := favoriteAt87(1001)
	finished.Phase = models.PhaseFinished
	h.feed.set(finished)

	report := h.cycle(t, 81)
	assert.Equal(t, []int64{1001}, report.Retired)
	require.Len(t, h.coord.Snapshot(), 1, "absent fixture kept within grace")

	report = h.cycle(t, 84)
	assert.Empty(t, report.Retired)

	report = h.cycle(t, 86)
	assert.Equal(t, []int64{1002}, report.Retired)
	assert.Empty(t, h.coord.Snapshot())
	assert.Zero(t, h.agg.Len())
}

func TestRestartKeepsAlertedTiers(t *testing.T) {
	h := newHarness(t, testConfig())
	h.primeFavorite(1001)
	h.feed.set(favoriteAt80(1001))
	h.cycle(t, 80)
	h.feed.set(favoriteAt87(1001))
	h.cycle(t, 87)
	require.Equal(t, 1, h.notifier.count())

	h.markers = marker.NewMemory()
	h.coord = h.newCoordinator(testConfig(), momentum.New(momentum.DefaultConfig()))
	h.feed.set(favoriteAt80(1001))
	h.cycle(t, 80)
	h.feed.set(favoriteAt87(1001))
	report := h.cycle(t, 87)

	assert.Empty(t, report.Alerts)
	assert.Equal(t, 1, h.notifier.count())
	oddsCalls, _ := h.odds.calls()
	assert.Equal(t, 1, oddsCalls, "cached odds survive a restart")
}

func TestFeedFailureFailsCycle(t *testing.T) {
	h := newHarness(t, testConfig())
	h.feed.failNext(fmt.Errorf("%w: 502", models.ErrTransientFetch))

	_, err := h.coord.RunCycle(context.Background(), kickoff)
	assert.ErrorIs(t, err, models.ErrTransientFetch)
}

func TestRunNotifiesErrorAndRecovery(t *testing.T) {
	h := newHarness(t, testConfig())
	ops := &fakeOps{}
	h.coord.deps.Ops = ops
	h.coord.cfg.PollInterval = 5 * time.Millisecond
	transient := fmt.Errorf("%w: 502", models.ErrTransientFetch)
	h.feed.failNext(transient, transient, transient)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.coord.Run(ctx) }()

	require.Eventually(t, func() bool {
		ops.mu.Lock()
		defer ops.mu.Unlock()
		return len(ops.recoveries) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	ops.mu.Lock()
	defer ops.mu.Unlock()
	assert.Equal(t, 1, ops.errors, "only the first failure of a run is reported")
	assert.Equal(t, []int{3}, ops.recoveries)
}
