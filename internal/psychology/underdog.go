package psychology

import (
	"fmt"

	"github.com/rewired-gh/cornerwatch/internal/models"
)

// FightingUnderdog fires when a long-priced side is level, ahead, or close behind.
type FightingUnderdog struct {
	Context    models.TimingContext
	Window     Window
	Thresholds UnderdogThresholds
}

// NewFightingUnderdog builds the classifier for one timing context.
func NewFightingUnderdog(ctx models.TimingContext, cfg ContextConfig) *FightingUnderdog {
	return &FightingUnderdog{Context: ctx, Window: windowFor(ctx, cfg), Thresholds: cfg.Underdog}
}

func (c *FightingUnderdog) Tier() models.Tier {
	return models.TierFor(models.RegimeFightingUnderdog, c.Context)
}

func (c *FightingUnderdog) InWindow(state MatchState) bool {
	return c.Window.Contains(state)
}

func (c *FightingUnderdog) Evaluate(profile models.OddsProfile, state MatchState, scores models.MomentumScores) *models.AlertCandidate {
	if !c.Window.Contains(state) {
		return nil
	}
	if profile.Balanced() || profile.UnderdogOdds < c.Thresholds.MinOdds {
		return nil
	}

	dog := profile.Underdog
	margin := state.Margin(dog)
	if margin < -c.Thresholds.MaxDeficit {
		return nil
	}

	points := 0
	situation := "trailing"
	switch {
	case margin > 0:
		points, situation = 2, "ahead"
	case margin == 0:
		points, situation = 1, "level"
	}
	switch {
	case profile.UnderdogOdds >= c.Thresholds.ExtremeOdds:
		points += 2
	case profile.UnderdogOdds >= c.Thresholds.StrongOdds:
		points++
	}

	gate, ok := checkGate(c.Thresholds.Gate, dog, profile.DesperationMultiplier, state, scores)
	if !ok {
		return nil
	}

	intensity := severity(points)
	rationale := append([]string{
		fmt.Sprintf("%s underdog at %.2f %s %s at %d'", dog, profile.UnderdogOdds, situation, state.ScoreLine(), state.Minute),
	}, gate...)

	return &models.AlertCandidate{
		Regime:     models.RegimeFightingUnderdog,
		Context:    c.Context,
		Tier:       c.Tier(),
		TargetSide: dog,
		Intensity:  intensity,
		Label:      models.IntensityLabel(models.RegimeFightingUnderdog, intensity),
		Score:      scores.For(dog).Total,
		Multiplier: profile.DesperationMultiplier,
		Rationale:  rationale,
	}
}
