package models

// MomentumScore is a derived view of one side's recent attacking pressure.
type MomentumScore struct {
	OnTargetPoints   float64 `json:"on_target_points"`
	OffTargetPoints  float64 `json:"off_target_points"`
	DangerousPoints  float64 `json:"dangerous_points"`
	PossessionPoints float64 `json:"possession_points"`
	Total            float64 `json:"total"`
	// WindowCovered is the minute span of the snapshots behind this score.
	WindowCovered int `json:"window_covered"`
}

// MomentumScores pairs both sides of a fixture.
type MomentumScores struct {
	Home MomentumScore `json:"home"`
	Away MomentumScore `json:"away"`
}

// For returns the score of side.
func (m MomentumScores) For(side Side) MomentumScore {
	if side == Home {
		return m.Home
	}
	return m.Away
}

// Combined returns the sum of both sides' totals.
func (m MomentumScores) Combined() float64 {
	return m.Home.Total + m.Away.Total
}
