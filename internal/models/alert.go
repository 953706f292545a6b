package models

import (
	"errors"
	"fmt"
	"time"
)

// Regime is the psychological situation a classifier recognises.
type Regime string

const (
	RegimePanickingFavorite Regime = "panicking_favorite"
	RegimeFightingUnderdog  Regime = "fighting_underdog"
)

// TimingContext is the part of the match a tier watches.
type TimingContext string

const (
	ContextLate      TimingContext = "late"
	ContextFirstHalf TimingContext = "first_half"
)

// Phase returns the match phase a context is evaluated in.
func (c TimingContext) Phase() Phase {
	if c == ContextFirstHalf {
		return PhaseFirstHalf
	}
	return PhaseSecondHalf
}

// Tier is an alert category: one regime in one timing context. Each fixture
// alerts at most once per tier.
type Tier string

const (
	TierLatePanic         Tier = "late_panic"
	TierLateUnderdog      Tier = "late_underdog"
	TierFirstHalfPanic    Tier = "first_half_panic"
	TierFirstHalfUnderdog Tier = "first_half_underdog"
)

// AllTiers lists tiers in evaluation order.
var AllTiers = []Tier{TierLatePanic, TierLateUnderdog, TierFirstHalfPanic, TierFirstHalfUnderdog}

// TierFor maps a regime and timing context to its tier.
func TierFor(regime Regime, ctx TimingContext) Tier {
	switch {
	case regime == RegimePanickingFavorite && ctx == ContextLate:
		return TierLatePanic
	case regime == RegimeFightingUnderdog && ctx == ContextLate:
		return TierLateUnderdog
	case regime == RegimePanickingFavorite && ctx == ContextFirstHalf:
		return TierFirstHalfPanic
	default:
		return TierFirstHalfUnderdog
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	for _, known := range AllTiers {
		if t == known {
			return true
		}
	}
	return false
}

// Intensity grades how strongly a regime applies.
type Intensity int

const (
	IntensityBuilding Intensity = iota + 1
	IntensityHigh
	IntensityMaximum
)

func (i Intensity) String() string {
	switch i {
	case IntensityBuilding:
		return "building"
	case IntensityHigh:
		return "high"
	case IntensityMaximum:
		return "maximum"
	default:
		return "unknown"
	}
}

// IntensityLabel returns the regime-specific name of an intensity level.
func IntensityLabel(regime Regime, i Intensity) string {
	if regime != RegimeFightingUnderdog {
		return i.String()
	}
	switch i {
	case IntensityBuilding:
		return "spirited"
	case IntensityHigh:
		return "fighting"
	case IntensityMaximum:
		return "giant_killing"
	default:
		return "unknown"
	}
}

// AlertCandidate is a classifier's output before any gate beyond the classifier runs.
type AlertCandidate struct {
	Regime     Regime        `json:"regime"`
	Context    TimingContext `json:"context"`
	Tier       Tier          `json:"tier"`
	TargetSide Side          `json:"target_side"`
	Intensity  Intensity     `json:"intensity"`
	Label      string        `json:"label"`
	// Score is the target side's momentum total at evaluation time.
	Score float64 `json:"score"`
	// Multiplier is the pressure or desperation multiplier that scaled the momentum bar.
	Multiplier float64  `json:"multiplier"`
	Rationale  []string `json:"rationale"`
}

// Validate checks the candidate is structurally complete.
func (c *AlertCandidate) Validate() error {
	if c.Regime != RegimePanickingFavorite && c.Regime != RegimeFightingUnderdog {
		return fmt.Errorf("unknown regime %q", c.Regime)
	}
	if c.Tier != TierFor(c.Regime, c.Context) {
		return fmt.Errorf("tier %q does not match regime %q in context %q", c.Tier, c.Regime, c.Context)
	}
	if c.TargetSide != Home && c.TargetSide != Away {
		return errors.New("target side must be home or away")
	}
	if c.Intensity < IntensityBuilding || c.Intensity > IntensityMaximum {
		return errors.New("intensity out of range")
	}
	if c.Score < 0 {
		return errors.New("score must not be negative")
	}
	return nil
}

// Direction is the side of a corner line an alert backs.
type Direction string

const (
	Over  Direction = "over"
	Under Direction = "under"
)

// Result is the settled outcome of an alert.
type Result string

const (
	ResultWin    Result = "WIN"
	ResultLoss   Result = "LOSS"
	ResultRefund Result = "REFUND"
)

// Alert is a persisted, notified alert. Settlement fields stay nil until graded.
type Alert struct {
	ID             string    `json:"id"`
	FixtureID      int64     `json:"fixture_id"`
	Tier           Tier      `json:"tier"`
	Regime         Regime    `json:"regime"`
	Intensity      Intensity `json:"intensity"`
	League         string    `json:"league"`
	HomeTeam       string    `json:"home_team"`
	AwayTeam       string    `json:"away_team"`
	TargetSide     Side      `json:"target_side"`
	ScoreAtAlert   string    `json:"score_at_alert"`
	MinuteSent     int       `json:"minute_sent"`
	CornersAtAlert int       `json:"corners_at_alert"`
	Direction      Direction `json:"direction"`
	ImpliedLine    float64   `json:"implied_line"`
	LineOdds       float64   `json:"line_odds"`
	HomeMomentum   float64   `json:"home_momentum"`
	AwayMomentum   float64   `json:"away_momentum"`
	CreatedAt      time.Time `json:"created_at"`

	FinalCorners *int       `json:"final_corners,omitempty"`
	Result       *Result    `json:"result,omitempty"`
	CheckedAt    *time.Time `json:"checked_at,omitempty"`
}

// Validate checks alert field constraints before persistence.
func (a *Alert) Validate() error {
	if a.ID == "" {
		return errors.New("alert ID must not be empty")
	}
	if a.FixtureID <= 0 {
		return errors.New("fixture ID must be positive")
	}
	if !a.Tier.Valid() {
		return fmt.Errorf("unknown tier %q", a.Tier)
	}
	if a.HomeTeam == "" || a.AwayTeam == "" {
		return errors.New("team names must not be empty")
	}
	if a.Direction != Over && a.Direction != Under {
		return errors.New("direction must be 'over' or 'under'")
	}
	if a.ImpliedLine <= 0 {
		return errors.New("implied line must be positive")
	}
	if a.MinuteSent < 0 || a.CornersAtAlert < 0 {
		return errors.New("minute and corners must not be negative")
	}
	if a.CreatedAt.IsZero() {
		return errors.New("created at must be set")
	}
	return nil
}

// Settled reports whether the grader has already written a result.
func (a *Alert) Settled() bool {
	return a.CheckedAt != nil
}

// Teams formats "Home vs Away".
func (a *Alert) Teams() string {
	return a.HomeTeam + " vs " + a.AwayTeam
}
