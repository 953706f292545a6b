// Package momentum turns a stream of cumulative per-minute team statistics into a
// decayed momentum score per side.
//
// Each fixture owns an independently locked window of snapshots per side. The
// fixture map is split across shards so snapshot writes for different fixtures
// never contend on one lock.
//
// A side's score is built from the increments of three counters across the trailing
// window (shots on target, shots off target, dangerous attacks). The newest four
// one-minute increments are weighted 4,3,2,1; older increments count once:
//
//	stat = weighted_recent + max(0, raw_diff - unweighted_recent)
//	total = on*12 + off*8 + dangerous*2 + floor(max(0, avg_possession-50)/5)
package momentum

import (
	"fmt"
	"hash/maphash"
	"math"
	"sync"

	"github.com/rewired-gh/cornerwatch/internal/models"
)

// Config holds the momentum formula parameters.
type Config struct {
	WindowMinutes    int       `mapstructure:"window_minutes"`
	OnTargetWeight   float64   `mapstructure:"on_target_weight"`
	OffTargetWeight  float64   `mapstructure:"off_target_weight"`
	DangerousWeight  float64   `mapstructure:"dangerous_weight"`
	RecencyWeights   []float64 `mapstructure:"recency_weights"` // newest increment first
	PossessionParity float64   `mapstructure:"possession_parity"`
	PossessionStep   float64   `mapstructure:"possession_step"`
}

// DefaultConfig returns the tuned production defaults.
func DefaultConfig() Config {
	return Config{
		WindowMinutes:    10,
		OnTargetWeight:   12,
		OffTargetWeight:  8,
		DangerousWeight:  2,
		RecencyWeights:   []float64{4, 3, 2, 1},
		PossessionParity: 50,
		PossessionStep:   5,
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.WindowMinutes < 1 {
		return fmt.Errorf("momentum.window_minutes must be at least 1")
	}
	if c.OnTargetWeight < 0 || c.OffTargetWeight < 0 || c.DangerousWeight < 0 {
		return fmt.Errorf("momentum weights must not be negative")
	}
	if len(c.RecencyWeights) > c.WindowMinutes {
		return fmt.Errorf("momentum.recency_weights must not be longer than the window")
	}
	for _, w := range c.RecencyWeights {
		if w < 1 {
			return fmt.Errorf("momentum.recency_weights must each be at least 1")
		}
	}
	if c.PossessionParity < 0 || c.PossessionParity > 100 {
		return fmt.Errorf("momentum.possession_parity must be between 0 and 100")
	}
	if c.PossessionStep <= 0 {
		return fmt.Errorf("momentum.possession_step must be positive")
	}
	return nil
}

// Outcome describes what AddSnapshot did with one side's observation.
type Outcome int

const (
	Appended Outcome = iota
	Duplicate
	Reset
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Duplicate:
		return "duplicate"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

// AddResult reports the per-side outcome of AddSnapshot.
type AddResult struct {
	Home Outcome
	Away Outcome
}

type window struct {
	mu   sync.RWMutex
	home []models.StatSnapshot
	away []models.StatSnapshot
}

const shardCount = 16

type shard struct {
	mu       sync.RWMutex
	fixtures map[int64]*window
}

// Aggregator is a sharded map from fixture id to its rolling snapshot windows.
type Aggregator struct {
	cfg    Config
	seed   maphash.Seed
	shards [shardCount]*shard
}

// New creates an empty Aggregator.
func New(cfg Config) *Aggregator {
	a := &Aggregator{cfg: cfg, seed: maphash.MakeSeed()}
	for i := range a.shards {
		a.shards[i] = &shard{fixtures: make(map[int64]*window)}
	}
	return a
}

func (a *Aggregator) shardFor(fixtureID int64) *shard {
	var h maphash.Hash
	h.SetSeed(a.seed)
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(fixtureID >> (8 * i))
	}
	_, _ = h.Write(b[:])
	return a.shards[h.Sum64()%shardCount]
}

func (a *Aggregator) lookup(fixtureID int64) *window {
	s := a.shardFor(fixtureID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fixtures[fixtureID]
}

func (a *Aggregator) getOrCreate(fixtureID int64) *window {
	if w := a.lookup(fixtureID); w != nil {
		return w
	}
	s := a.shardFor(fixtureID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.fixtures[fixtureID]; ok {
		return w
	}
	w := &window{}
	s.fixtures[fixtureID] = w
	return w
}

// AddSnapshot records one minute of cumulative stats for both sides. Per side, a
// repeated minute is ignored and a regressed minute clears that side's series first.
func (a *Aggregator) AddSnapshot(fixtureID int64, minute int, home, away models.TeamStats) AddResult {
	w := a.getOrCreate(fixtureID)
	w.mu.Lock()
	defer w.mu.Unlock()

	var res AddResult
	w.home, res.Home = a.appendSide(w.home, models.StatSnapshot{Minute: minute, TeamStats: home})
	w.away, res.Away = a.appendSide(w.away, models.StatSnapshot{Minute: minute, TeamStats: away})
	return res
}

// AddSide records a snapshot for one side only.
func (a *Aggregator) AddSide(fixtureID int64, side models.Side, snap models.StatSnapshot) Outcome {
	w := a.getOrCreate(fixtureID)
	w.mu.Lock()
	defer w.mu.Unlock()

	var out Outcome
	if side == models.Home {
		w.home, out = a.appendSide(w.home, snap)
	} else {
		w.away, out = a.appendSide(w.away, snap)
	}
	return out
}

func (a *Aggregator) appendSide(series []models.StatSnapshot, snap models.StatSnapshot) ([]models.StatSnapshot, Outcome) {
	outcome := Appended
	if n := len(series); n > 0 {
		last := series[n-1].Minute
		switch {
		case snap.Minute == last:
			return series, Duplicate
		case snap.Minute < last:
			series = series[:0]
			outcome = Reset
		}
	}
	series = append(series, snap)

	cut := 0
	for cut < len(series) && snap.Minute-series[cut].Minute > a.cfg.WindowMinutes {
		cut++
	}
	if cut > 0 {
		series = append(series[:0], series[cut:]...)
	}
	return series, outcome
}

// ComputeScores returns the current momentum of both sides. Unknown fixtures score zero.
func (a *Aggregator) ComputeScores(fixtureID int64) models.MomentumScores {
	w := a.lookup(fixtureID)
	if w == nil {
		return models.MomentumScores{}
	}
	w.mu.RLock()
	home := append([]models.StatSnapshot(nil), w.home...)
	away := append([]models.StatSnapshot(nil), w.away...)
	w.mu.RUnlock()

	return models.MomentumScores{
		Home: Score(a.cfg, home),
		Away: Score(a.cfg, away),
	}
}

// Series returns a copy of one side's current window, oldest first.
func (a *Aggregator) Series(fixtureID int64, side models.Side) []models.StatSnapshot {
	w := a.lookup(fixtureID)
	if w == nil {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if side == models.Home {
		return append([]models.StatSnapshot(nil), w.home...)
	}
	return append([]models.StatSnapshot(nil), w.away...)
}

// Remove discards all state for a retired fixture.
func (a *Aggregator) Remove(fixtureID int64) {
	s := a.shardFor(fixtureID)
	s.mu.Lock()
	delete(s.fixtures, fixtureID)
	s.mu.Unlock()
}

// Len returns the number of fixtures with state.
func (a *Aggregator) Len() int {
	n := 0
	for _, s := range a.shards {
		s.mu.RLock()
		n += len(s.fixtures)
		s.mu.RUnlock()
	}
	return n
}

// Fixtures returns the ids of all fixtures with state, in no particular order.
func (a *Aggregator) Fixtures() []int64 {
	var ids []int64
	for _, s := range a.shards {
		s.mu.RLock()
		for id := range s.fixtures {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
	}
	return ids
}

type statFunc func(models.StatSnapshot) int

func onTarget(s models.StatSnapshot) int  { return s.ShotsOnTarget }
func offTarget(s models.StatSnapshot) int { return s.ShotsOffTarget }
func dangerous(s models.StatSnapshot) int { return s.DangerousAttacks }

// Score computes one side's momentum from a window of snapshots ordered by minute.
// It is a pure function of its inputs.
func Score(cfg Config, snaps []models.StatSnapshot) models.MomentumScore {
	if len(snaps) == 0 {
		return models.MomentumScore{}
	}

	score := models.MomentumScore{
		OnTargetPoints:   weightedDelta(cfg.RecencyWeights, snaps, onTarget) * cfg.OnTargetWeight,
		OffTargetPoints:  weightedDelta(cfg.RecencyWeights, snaps, offTarget) * cfg.OffTargetWeight,
		DangerousPoints:  weightedDelta(cfg.RecencyWeights, snaps, dangerous) * cfg.DangerousWeight,
		PossessionPoints: possessionPoints(cfg, snaps),
		WindowCovered:    snaps[len(snaps)-1].Minute - snaps[0].Minute,
	}
	score.Total = score.OnTargetPoints + score.OffTargetPoints + score.DangerousPoints + score.PossessionPoints
	return score
}

// weightedDelta recomposes a counter's increase across the window with the newest
// one-minute increments weighted by weights[0], weights[1], ...
func weightedDelta(weights []float64, snaps []models.StatSnapshot, stat statFunc) float64 {
	earliest, latest := snaps[0], snaps[len(snaps)-1]
	raw := math.Max(0, float64(stat(latest)-stat(earliest)))

	var weighted, unweighted float64
	for k, w := range weights {
		hi := latest.Minute - k
		lo := hi - 1
		if lo < earliest.Minute {
			break
		}
		inc := math.Max(0, float64(valueAt(snaps, hi, stat)-valueAt(snaps, lo, stat)))
		weighted += w * inc
		unweighted += inc
	}
	older := math.Max(0, raw-unweighted)
	return weighted + older
}

// valueAt reads a counter at minute as a step function: the value of the latest
// snapshot taken at or before minute.
func valueAt(snaps []models.StatSnapshot, minute int, stat statFunc) int {
	v := stat(snaps[0])
	for _, s := range snaps {
		if s.Minute > minute {
			break
		}
		v = stat(s)
	}
	return v
}

func possessionPoints(cfg Config, snaps []models.StatSnapshot) float64 {
	if cfg.PossessionStep <= 0 {
		return 0
	}
	var sum float64
	for _, s := range snaps {
		sum += s.Possession
	}
	avg := sum / float64(len(snaps))
	return math.Floor(math.Max(0, avg-cfg.PossessionParity) / cfg.PossessionStep)
}
