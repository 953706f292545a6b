// Package models defines the core domain entities: live fixtures, stat snapshots,
// momentum scores, odds profiles, alert candidates and persisted alerts.
package models

import (
	"errors"
	"fmt"
)

// Side identifies one team of a fixture.
type Side string

const (
	Home Side = "home"
	Away Side = "away"
)

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == Home {
		return Away
	}
	return Home
}

// Phase is the match period reported by the live feed.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseFirstHalf  Phase = "first_half"
	PhaseHalfTime   Phase = "half_time"
	PhaseSecondHalf Phase = "second_half"
	PhaseExtraTime  Phase = "extra_time"
	PhaseFinished   Phase = "finished"
	PhaseUnknown    Phase = "unknown"
)

// InPlay reports whether the ball is rolling in regulation time.
func (p Phase) InPlay() bool {
	return p == PhaseFirstHalf || p == PhaseSecondHalf
}

// TeamStats holds cumulative-to-date counters for one side.
type TeamStats struct {
	ShotsOnTarget    int     `json:"shots_on_target"`
	ShotsOffTarget   int     `json:"shots_off_target"`
	DangerousAttacks int     `json:"dangerous_attacks"`
	Possession       float64 `json:"possession"`
	Corners          int     `json:"corners"`
}

// TotalShots returns on- plus off-target shots.
func (t TeamStats) TotalShots() int {
	return t.ShotsOnTarget + t.ShotsOffTarget
}

// Validate checks counter ranges.
func (t TeamStats) Validate() error {
	if t.ShotsOnTarget < 0 || t.ShotsOffTarget < 0 {
		return errors.New("shot counters must not be negative")
	}
	if t.DangerousAttacks < 0 {
		return errors.New("dangerous attacks must not be negative")
	}
	if t.Corners < 0 {
		return errors.New("corners must not be negative")
	}
	if t.Possession < 0 || t.Possession > 100 {
		return errors.New("possession must be between 0 and 100")
	}
	return nil
}

// StatSnapshot is one minute-stamped observation for one side of a fixture.
type StatSnapshot struct {
	Minute int
	TeamStats
}

// LiveFixture is one row of the live feed poll.
type LiveFixture struct {
	ID        int64      `json:"id"`
	League    string     `json:"league"`
	HomeTeam  string     `json:"home_team"`
	AwayTeam  string     `json:"away_team"`
	Minute    int        `json:"minute"`
	Phase     Phase      `json:"phase"`
	HomeScore int        `json:"home_score"`
	AwayScore int        `json:"away_score"`
	HomeStats *TeamStats `json:"home_stats,omitempty"`
	AwayStats *TeamStats `json:"away_stats,omitempty"`
}

// Validate returns an ErrDataShape-wrapped error when expected fields are missing.
func (f *LiveFixture) Validate() error {
	if f.ID <= 0 {
		return fmt.Errorf("%w: fixture id must be positive", ErrDataShape)
	}
	if f.HomeTeam == "" || f.AwayTeam == "" {
		return fmt.Errorf("%w: fixture %d: team names must not be empty", ErrDataShape, f.ID)
	}
	if f.Minute < 0 {
		return fmt.Errorf("%w: fixture %d: minute must not be negative", ErrDataShape, f.ID)
	}
	if f.HomeStats == nil || f.AwayStats == nil {
		return fmt.Errorf("%w: fixture %d: statistics missing", ErrDataShape, f.ID)
	}
	if err := f.HomeStats.Validate(); err != nil {
		return fmt.Errorf("%w: fixture %d home: %v", ErrDataShape, f.ID, err)
	}
	if err := f.AwayStats.Validate(); err != nil {
		return fmt.Errorf("%w: fixture %d away: %v", ErrDataShape, f.ID, err)
	}
	return nil
}

// Stats returns the stats block for a side; nil when absent.
func (f *LiveFixture) Stats(side Side) *TeamStats {
	if side == Home {
		return f.HomeStats
	}
	return f.AwayStats
}

// Goals returns the goals scored by side.
func (f *LiveFixture) Goals(side Side) int {
	if side == Home {
		return f.HomeScore
	}
	return f.AwayScore
}

// TotalCorners returns the combined corner count; zero when stats are missing.
func (f *LiveFixture) TotalCorners() int {
	n := 0
	if f.HomeStats != nil {
		n += f.HomeStats.Corners
	}
	if f.AwayStats != nil {
		n += f.AwayStats.Corners
	}
	return n
}

// ScoreLine formats the current score as "H-A".
func (f *LiveFixture) ScoreLine() string {
	return fmt.Sprintf("%d-%d", f.HomeScore, f.AwayScore)
}

// FinalStats is the settled statistic line of a fixture.
type FinalStats struct {
	FixtureID int64
	Finished  bool
	Corners   int
}
