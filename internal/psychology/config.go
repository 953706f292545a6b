package psychology

import (
	"fmt"
)

// Gate is the shared validation floor every candidate must clear.
type Gate struct {
	// SideMomentumMin is scaled by the regime multiplier before comparison.
	SideMomentumMin     float64 `mapstructure:"side_momentum_min"`
	CombinedMomentumMin float64 `mapstructure:"combined_momentum_min"`
	MinTotalShots       int     `mapstructure:"min_total_shots"`
	MinShotsOnTarget    int     `mapstructure:"min_shots_on_target"`
}

// FavoriteThresholds parameterise the Panicking-Favorite regime.
type FavoriteThresholds struct {
	Enabled bool `mapstructure:"enabled"`
	// MaxOdds is the heaviest price still counted as a favorite.
	MaxOdds     float64 `mapstructure:"max_odds"`
	StrongOdds  float64 `mapstructure:"strong_odds"`
	ExtremeOdds float64 `mapstructure:"extreme_odds"`
	// MaxGoalMargin is the largest lead at which the favorite is still under pressure.
	MaxGoalMargin int  `mapstructure:"max_goal_margin"`
	Gate          Gate `mapstructure:"gate"`
}

// UnderdogThresholds parameterise the Fighting-Underdog regime.
type UnderdogThresholds struct {
	Enabled     bool    `mapstructure:"enabled"`
	MinOdds     float64 `mapstructure:"min_odds"`
	StrongOdds  float64 `mapstructure:"strong_odds"`
	ExtremeOdds float64 `mapstructure:"extreme_odds"`
	// MaxDeficit is how many goals the underdog may trail by.
	MaxDeficit int  `mapstructure:"max_deficit"`
	Gate       Gate `mapstructure:"gate"`
}

// ContextConfig holds one timing context's window and both regimes' thresholds.
type ContextConfig struct {
	Enabled     bool               `mapstructure:"enabled"`
	WindowStart int                `mapstructure:"window_start"`
	WindowEnd   int                `mapstructure:"window_end"`
	Favorite    FavoriteThresholds `mapstructure:"favorite"`
	Underdog    UnderdogThresholds `mapstructure:"underdog"`
}

// Config is the complete classifier tuning surface.
type Config struct {
	Late      ContextConfig `mapstructure:"late"`
	FirstHalf ContextConfig `mapstructure:"first_half"`
	Bands     Bands         `mapstructure:"bands"`
}

// DefaultConfig returns the tuned production thresholds.
func DefaultConfig() Config {
	return Config{
		Late: ContextConfig{
			Enabled:     true,
			WindowStart: 75,
			WindowEnd:   89,
			Favorite: FavoriteThresholds{
				Enabled:       true,
				MaxOdds:       1.60,
				StrongOdds:    1.40,
				ExtremeOdds:   1.25,
				MaxGoalMargin: 0,
				Gate: Gate{
					SideMomentumMin:     150,
					CombinedMomentumMin: 180,
					MinTotalShots:       14,
					MinShotsOnTarget:    4,
				},
			},
			Underdog: UnderdogThresholds{
				Enabled:     true,
				MinOdds:     4.0,
				StrongOdds:  6.0,
				ExtremeOdds: 8.0,
				MaxDeficit:  1,
				Gate: Gate{
					SideMomentumMin:     140,
					CombinedMomentumMin: 120,
					MinTotalShots:       12,
					MinShotsOnTarget:    3,
				},
			},
		},
		FirstHalf: ContextConfig{
			Enabled:     true,
			WindowStart: 28,
			WindowEnd:   35,
			Favorite: FavoriteThresholds{
				Enabled:       true,
				MaxOdds:       1.50,
				StrongOdds:    1.35,
				ExtremeOdds:   1.20,
				MaxGoalMargin: 0,
				Gate: Gate{
					SideMomentumMin:     110,
					CombinedMomentumMin: 140,
					MinTotalShots:       7,
					MinShotsOnTarget:    2,
				},
			},
			Underdog: UnderdogThresholds{
				Enabled:     true,
				MinOdds:     4.5,
				StrongOdds:  6.5,
				ExtremeOdds: 9.0,
				MaxDeficit:  0,
				Gate: Gate{
					SideMomentumMin:     100,
					CombinedMomentumMin: 110,
					MinTotalShots:       6,
					MinShotsOnTarget:    2,
				},
			},
		},
		Bands: DefaultBands(),
	}
}

// Validate checks threshold ordering and ranges.
func (c Config) Validate() error {
	if err := c.Late.validate("late"); err != nil {
		return err
	}
	if err := c.FirstHalf.validate("first_half"); err != nil {
		return err
	}
	return c.Bands.Validate()
}

func (c ContextConfig) validate(name string) error {
	prefix := "psychology." + name
	if c.WindowStart < 0 || c.WindowEnd > 130 || c.WindowStart > c.WindowEnd {
		return fmt.Errorf("%s: window [%d, %d] is invalid", prefix, c.WindowStart, c.WindowEnd)
	}

	f := c.Favorite
	if f.ExtremeOdds <= 1.0 || f.ExtremeOdds > f.StrongOdds || f.StrongOdds > f.MaxOdds {
		return fmt.Errorf("%s.favorite: odds must satisfy 1.0 < extreme_odds <= strong_odds <= max_odds", prefix)
	}
	if f.MaxGoalMargin < 0 {
		return fmt.Errorf("%s.favorite.max_goal_margin must not be negative", prefix)
	}
	if err := f.Gate.validate(prefix + ".favorite.gate"); err != nil {
		return err
	}

	u := c.Underdog
	if u.MinOdds <= 1.0 || u.MinOdds > u.StrongOdds || u.StrongOdds > u.ExtremeOdds {
		return fmt.Errorf("%s.underdog: odds must satisfy 1.0 < min_odds <= strong_odds <= extreme_odds", prefix)
	}
	if u.MaxDeficit < 0 {
		return fmt.Errorf("%s.underdog.max_deficit must not be negative", prefix)
	}
	return u.Gate.validate(prefix + ".underdog.gate")
}

func (g Gate) validate(prefix string) error {
	if g.SideMomentumMin < 0 || g.CombinedMomentumMin < 0 {
		return fmt.Errorf("%s: momentum floors must not be negative", prefix)
	}
	if g.MinTotalShots < 0 || g.MinShotsOnTarget < 0 {
		return fmt.Errorf("%s: shot floors must not be negative", prefix)
	}
	if g.MinShotsOnTarget > g.MinTotalShots {
		return fmt.Errorf("%s: min_shots_on_target must not exceed min_total_shots", prefix)
	}
	return nil
}
