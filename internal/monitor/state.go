package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/cornerwatch/internal/models"
)

// Stage is a fixture's lifecycle position.
type Stage int

const (
	StageDiscovered Stage = iota
	StageMonitoring
	StageRetired
)

func (s Stage) String() string {
	switch s {
	case StageDiscovered:
		return "discovered"
	case StageMonitoring:
		return "monitoring"
	case StageRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// fixtureState is the per-fixture lifecycle token. mu is held for the whole of a
// fixture's processing so check-then-mark runs in one critical section.
type fixtureState struct {
	mu       sync.Mutex
	id       int64
	stage    Stage
	fixture  models.LiveFixture
	lastSeen time.Time
	profile  *models.OddsProfile
	alerted  map[models.Tier]bool
	hydrated bool
}

func newFixtureState(f models.LiveFixture, now time.Time) *fixtureState {
	return &fixtureState{
		id:       f.ID,
		stage:    StageDiscovered,
		fixture:  f,
		lastSeen: now,
		alerted:  make(map[models.Tier]bool),
	}
}

func (s *fixtureState) alertedTiers() []models.Tier {
	tiers := make([]models.Tier, 0, len(s.alerted))
	for _, t := range models.AllTiers {
		if s.alerted[t] {
			tiers = append(tiers, t)
		}
	}
	return tiers
}

// FixtureStatus is a read-only view of one tracked fixture.
type FixtureStatus struct {
	FixtureID int64         `json:"fixture_id"`
	League    string        `json:"league"`
	HomeTeam  string        `json:"home_team"`
	AwayTeam  string        `json:"away_team"`
	Minute    int           `json:"minute"`
	Score     string        `json:"score"`
	Stage     string        `json:"stage"`
	Alerted   []models.Tier `json:"alerted"`
	LastSeen  time.Time     `json:"last_seen"`
}

// Snapshot returns the status of every tracked fixture ordered by id.
func (c *Coordinator) Snapshot() []FixtureStatus {
	c.mu.Lock()
	states := make([]*fixtureState, 0, len(c.fixtures))
	for _, st := range c.fixtures {
		states = append(states, st)
	}
	c.mu.Unlock()

	out := make([]FixtureStatus, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, FixtureStatus{
			FixtureID: st.id,
			League:    st.fixture.League,
			HomeTeam:  st.fixture.HomeTeam,
			AwayTeam:  st.fixture.AwayTeam,
			Minute:    st.fixture.Minute,
			Score:     st.fixture.ScoreLine(),
			Stage:     st.stage.String(),
			Alerted:   st.alertedTiers(),
			LastSeen:  st.lastSeen,
		})
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FixtureID < out[j].FixtureID })
	return out
}

// Monitoring returns how many tracked fixtures are past discovery.
func (c *Coordinator) Monitoring() int {
	n := 0
	for _, s := range c.Snapshot() {
		if s.Stage == StageMonitoring.String() {
			n++
		}
	}
	return n
}
