package models

import (
	"errors"
	"sort"
)

// MatchOdds are the pre-match win-market prices in decimal format.
type MatchOdds struct {
	Home float64  `json:"home"`
	Away float64  `json:"away"`
	Draw *float64 `json:"draw,omitempty"`
}

// Validate checks that both win prices are real decimal odds.
func (o MatchOdds) Validate() error {
	if o.Home <= 1.0 || o.Away <= 1.0 {
		return errors.New("win odds must be greater than 1.0")
	}
	if o.Draw != nil && *o.Draw <= 1.0 {
		return errors.New("draw odds must be greater than 1.0")
	}
	return nil
}

// For returns the price of side.
func (o MatchOdds) For(side Side) float64 {
	if side == Home {
		return o.Home
	}
	return o.Away
}

// OddsProfile is the immutable, derived reading of a fixture's pre-match prices.
type OddsProfile struct {
	Odds         MatchOdds `json:"odds"`
	Favorite     Side      `json:"favorite"`
	Underdog     Side      `json:"underdog"`
	FavoriteOdds float64   `json:"favorite_odds"`
	UnderdogOdds float64   `json:"underdog_odds"`
	// PressureMultiplier scales the momentum bar for a panicking favorite.
	PressureMultiplier float64 `json:"pressure_multiplier"`
	// DesperationMultiplier scales the momentum bar for a fighting underdog.
	DesperationMultiplier float64 `json:"desperation_multiplier"`
}

// Balanced reports whether neither side is priced shorter than the other.
func (p OddsProfile) Balanced() bool {
	return p.Favorite == ""
}

// CornerLine is one quoted line of the total-corners market.
type CornerLine struct {
	Line      float64 `json:"line"`
	Odds      float64 `json:"odds"`
	Suspended bool    `json:"suspended"`
}

// CornerMarket is the liquidity view of the live total-corners market.
type CornerMarket struct {
	Available bool         `json:"available"`
	Lines     []CornerLine `json:"lines"`
}

// Tradable returns the non-suspended lines whose odds fall inside [minOdds, maxOdds],
// sorted by line ascending. A zero bound is ignored.
func (m CornerMarket) Tradable(minOdds, maxOdds float64) []CornerLine {
	if !m.Available {
		return nil
	}
	var out []CornerLine
	for _, l := range m.Lines {
		if l.Suspended {
			continue
		}
		if minOdds > 0 && l.Odds < minOdds {
			continue
		}
		if maxOdds > 0 && l.Odds > maxOdds {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}

// PickOverLine returns the lowest tradable line strictly above currentCorners,
// falling back to the highest tradable line. ok is false when lines is empty.
func PickOverLine(lines []CornerLine, currentCorners int) (CornerLine, bool) {
	if len(lines) == 0 {
		return CornerLine{}, false
	}
	best := -1
	for i, l := range lines {
		if l.Line > float64(currentCorners) && (best < 0 || l.Line < lines[best].Line) {
			best = i
		}
	}
	if best >= 0 {
		return lines[best], true
	}
	highest := lines[0]
	for _, l := range lines[1:] {
		if l.Line > highest.Line {
			highest = l
		}
	}
	return highest, true
}
