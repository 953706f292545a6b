package psychology

import (
	"github.com/rewired-gh/cornerwatch/internal/models"
)

// Chain evaluates classifiers in priority order.
type Chain struct {
	classifiers []Classifier
}

// NewChain builds the enabled classifiers from cfg. Within a context the favorite
// regime precedes the underdog regime; late precedes first half.
func NewChain(cfg Config) *Chain {
	var cs []Classifier
	for _, c := range []struct {
		ctx models.TimingContext
		cfg ContextConfig
	}{
		{models.ContextLate, cfg.Late},
		{models.ContextFirstHalf, cfg.FirstHalf},
	} {
		if !c.cfg.Enabled {
			continue
		}
		if c.cfg.Favorite.Enabled {
			cs = append(cs, NewPanickingFavorite(c.ctx, c.cfg))
		}
		if c.cfg.Underdog.Enabled {
			cs = append(cs, NewFightingUnderdog(c.ctx, c.cfg))
		}
	}
	return &Chain{classifiers: cs}
}

// NewChainOf builds a chain from explicit classifiers.
func NewChainOf(classifiers ...Classifier) *Chain {
	return &Chain{classifiers: classifiers}
}

// Tiers returns the tiers the chain can emit, in evaluation order.
func (c *Chain) Tiers() []models.Tier {
	tiers := make([]models.Tier, 0, len(c.classifiers))
	for _, cl := range c.classifiers {
		tiers = append(tiers, cl.Tier())
	}
	return tiers
}

// InWindow reports whether any classifier not skipped is inside its window.
func (c *Chain) InWindow(state MatchState, skip func(models.Tier) bool) bool {
	for _, cl := range c.classifiers {
		if skip != nil && skip(cl.Tier()) {
			continue
		}
		if cl.InWindow(state) {
			return true
		}
	}
	return false
}

// Evaluate returns the first candidate produced by a classifier whose tier is not
// skipped, or nil.
func (c *Chain) Evaluate(profile models.OddsProfile, state MatchState, scores models.MomentumScores, skip func(models.Tier) bool) *models.AlertCandidate {
	for _, cl := range c.classifiers {
		if skip != nil && skip(cl.Tier()) {
			continue
		}
		if cand := cl.Evaluate(profile, state, scores); cand != nil {
			return cand
		}
	}
	return nil
}
