// Package psychology classifies a live fixture into a psychological regime that
// historically produces corner pressure.
//
// Two regimes exist, Panicking-Favorite and Fighting-Underdog, each evaluated in a
// late-game and a first-half timing context with its own thresholds. Classifiers are
// pure: they read the odds profile, the match state and both momentum scores and
// return a candidate or nil.
package psychology

import (
	"fmt"

	"github.com/rewired-gh/cornerwatch/internal/models"
)

// MatchState is the live reading a classifier evaluates.
type MatchState struct {
	Minute    int
	Phase     models.Phase
	HomeScore int
	AwayScore int
	HomeStats models.TeamStats
	AwayStats models.TeamStats
}

// StateFromFixture builds a MatchState from a validated live fixture.
func StateFromFixture(f *models.LiveFixture) MatchState {
	s := MatchState{
		Minute:    f.Minute,
		Phase:     f.Phase,
		HomeScore: f.HomeScore,
		AwayScore: f.AwayScore,
	}
	if f.HomeStats != nil {
		s.HomeStats = *f.HomeStats
	}
	if f.AwayStats != nil {
		s.AwayStats = *f.AwayStats
	}
	return s
}

// Margin returns side's goal lead; negative when trailing.
func (s MatchState) Margin(side models.Side) int {
	if side == models.Home {
		return s.HomeScore - s.AwayScore
	}
	return s.AwayScore - s.HomeScore
}

// TotalShots returns shots by both sides.
func (s MatchState) TotalShots() int {
	return s.HomeStats.TotalShots() + s.AwayStats.TotalShots()
}

// ShotsOnTarget returns on-target shots by both sides.
func (s MatchState) ShotsOnTarget() int {
	return s.HomeStats.ShotsOnTarget + s.AwayStats.ShotsOnTarget
}

// ScoreLine formats the score as "H-A".
func (s MatchState) ScoreLine() string {
	return fmt.Sprintf("%d-%d", s.HomeScore, s.AwayScore)
}

// Classifier evaluates one tier.
type Classifier interface {
	Tier() models.Tier
	// InWindow reports whether the match clock and phase fall inside the tier's window.
	InWindow(state MatchState) bool
	Evaluate(profile models.OddsProfile, state MatchState, scores models.MomentumScores) *models.AlertCandidate
}

// Window is an inclusive minute range within one match phase.
type Window struct {
	Phase models.Phase
	Start int
	End   int
}

// Contains reports whether state is inside the window.
func (w Window) Contains(state MatchState) bool {
	return state.Phase == w.Phase && state.Minute >= w.Start && state.Minute <= w.End
}

func windowFor(ctx models.TimingContext, cfg ContextConfig) Window {
	return Window{Phase: ctx.Phase(), Start: cfg.WindowStart, End: cfg.WindowEnd}
}

// severity maps combined situation and price points to an intensity.
func severity(points int) models.Intensity {
	switch {
	case points >= 3:
		return models.IntensityMaximum
	case points == 2:
		return models.IntensityHigh
	default:
		return models.IntensityBuilding
	}
}

// checkGate applies the shared momentum and shot-volume floors. It returns the
// rationale lines explaining a pass, or ok=false at the first failing floor.
func checkGate(g Gate, side models.Side, multiplier float64, state MatchState, scores models.MomentumScores) (rationale []string, ok bool) {
	sideTotal := scores.For(side).Total
	bar := g.SideMomentumMin * multiplier
	if sideTotal < bar {
		return nil, false
	}
	combined := scores.Combined()
	if combined < g.CombinedMomentumMin {
		return nil, false
	}
	shots, onTarget := state.TotalShots(), state.ShotsOnTarget()
	if shots < g.MinTotalShots || onTarget < g.MinShotsOnTarget {
		return nil, false
	}

	return []string{
		fmt.Sprintf("%s momentum %.0f >= %.0f (%.0f x %.2f)", side, sideTotal, bar, g.SideMomentumMin, multiplier),
		fmt.Sprintf("combined momentum %.0f >= %.0f", combined, g.CombinedMomentumMin),
		fmt.Sprintf("shots %d (on target %d)", shots, onTarget),
	}, true
}
