package psychology

import (
	"fmt"

	"github.com/rewired-gh/cornerwatch/internal/models"
)

// PanickingFavorite fires when a heavily priced favorite is not winning by enough.
type PanickingFavorite struct {
	Context    models.TimingContext
	Window     Window
	Thresholds FavoriteThresholds
}

// NewPanickingFavorite builds the classifier for one timing context.
func NewPanickingFavorite(ctx models.TimingContext, cfg ContextConfig) *PanickingFavorite {
	return &PanickingFavorite{Context: ctx, Window: windowFor(ctx, cfg), Thresholds: cfg.Favorite}
}

func (c *PanickingFavorite) Tier() models.Tier {
	return models.TierFor(models.RegimePanickingFavorite, c.Context)
}

func (c *PanickingFavorite) InWindow(state MatchState) bool {
	return c.Window.Contains(state)
}

func (c *PanickingFavorite) Evaluate(profile models.OddsProfile, state MatchState, scores models.MomentumScores) *models.AlertCandidate {
	if !c.Window.Contains(state) {
		return nil
	}
	if profile.Balanced() || profile.FavoriteOdds > c.Thresholds.MaxOdds {
		return nil
	}

	fav := profile.Favorite
	margin := state.Margin(fav)
	if margin > c.Thresholds.MaxGoalMargin {
		return nil
	}

	points := 0
	situation := "leading narrowly"
	switch {
	case margin < 0:
		points, situation = 2, "losing"
	case margin == 0:
		points, situation = 1, "drawing"
	}
	switch {
	case profile.FavoriteOdds <= c.Thresholds.ExtremeOdds:
		points += 2
	case profile.FavoriteOdds <= c.Thresholds.StrongOdds:
		points++
	}

	gate, ok := checkGate(c.Thresholds.Gate, fav, profile.PressureMultiplier, state, scores)
	if !ok {
		return nil
	}

	intensity := severity(points)
	rationale := append([]string{
		fmt.Sprintf("%s favorite at %.2f %s %s at %d'", fav, profile.FavoriteOdds, situation, state.ScoreLine(), state.Minute),
	}, gate...)

	return &models.AlertCandidate{
		Regime:     models.RegimePanickingFavorite,
		Context:    c.Context,
		Tier:       c.Tier(),
		TargetSide: fav,
		Intensity:  intensity,
		Label:      models.IntensityLabel(models.RegimePanickingFavorite, intensity),
		Score:      scores.For(fav).Total,
		Multiplier: profile.PressureMultiplier,
		Rationale:  rationale,
	}
}
