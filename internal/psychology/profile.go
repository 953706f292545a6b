package psychology

import (
	"fmt"
	"sort"

	"github.com/rewired-gh/cornerwatch/internal/models"
)

// Band maps an odds threshold to a momentum-bar multiplier.
type Band struct {
	Odds       float64 `mapstructure:"odds"`
	Multiplier float64 `mapstructure:"multiplier"`
}

// Bands holds the pressure (favorite) and desperation (underdog) multiplier tables.
//
// A pressure band applies when the favorite is priced at or below its odds; the
// tightest matching band wins. A desperation band applies when the underdog is
// priced at or above its odds; the longest matching band wins. No match means 1.0.
type Bands struct {
	Pressure    []Band `mapstructure:"pressure"`
	Desperation []Band `mapstructure:"desperation"`
}

// DefaultBands returns the production multiplier tables.
func DefaultBands() Bands {
	return Bands{
		Pressure: []Band{
			{Odds: 1.25, Multiplier: 0.8},
			{Odds: 1.40, Multiplier: 0.9},
		},
		Desperation: []Band{
			{Odds: 8.0, Multiplier: 0.8},
			{Odds: 5.0, Multiplier: 0.9},
		},
	}
}

// Validate checks every band is a positive price with a positive multiplier.
func (b Bands) Validate() error {
	for _, band := range append(append([]Band(nil), b.Pressure...), b.Desperation...) {
		if band.Odds <= 1.0 {
			return fmt.Errorf("psychology.bands: odds %.2f must be greater than 1.0", band.Odds)
		}
		if band.Multiplier <= 0 {
			return fmt.Errorf("psychology.bands: multiplier for odds %.2f must be positive", band.Odds)
		}
	}
	return nil
}

// PressureFor returns the favorite multiplier for odds.
func (b Bands) PressureFor(odds float64) float64 {
	bands := append([]Band(nil), b.Pressure...)
	sort.Slice(bands, func(i, j int) bool { return bands[i].Odds < bands[j].Odds })
	for _, band := range bands {
		if odds <= band.Odds {
			return band.Multiplier
		}
	}
	return 1.0
}

// DesperationFor returns the underdog multiplier for odds.
func (b Bands) DesperationFor(odds float64) float64 {
	bands := append([]Band(nil), b.Desperation...)
	sort.Slice(bands, func(i, j int) bool { return bands[i].Odds > bands[j].Odds })
	for _, band := range bands {
		if odds >= band.Odds {
			return band.Multiplier
		}
	}
	return 1.0
}

// BuildProfile derives the favorite, underdog and multipliers from pre-match prices.
// Equal prices yield a balanced profile with no favorite.
func BuildProfile(odds models.MatchOdds, bands Bands) (models.OddsProfile, error) {
	if err := odds.Validate(); err != nil {
		return models.OddsProfile{}, fmt.Errorf("%w: %v", models.ErrDataShape, err)
	}

	p := models.OddsProfile{
		Odds:                  odds,
		PressureMultiplier:    1.0,
		DesperationMultiplier: 1.0,
	}
	switch {
	case odds.Home < odds.Away:
		p.Favorite, p.Underdog = models.Home, models.Away
	case odds.Away < odds.Home:
		p.Favorite, p.Underdog = models.Away, models.Home
	default:
		p.FavoriteOdds, p.UnderdogOdds = odds.Home, odds.Away
		return p, nil
	}

	p.FavoriteOdds = odds.For(p.Favorite)
	p.UnderdogOdds = odds.For(p.Underdog)
	p.PressureMultiplier = bands.PressureFor(p.FavoriteOdds)
	p.DesperationMultiplier = bands.DesperationFor(p.UnderdogOdds)
	return p, nil
}
