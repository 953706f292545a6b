package main

import (
	"context"
	"strings"

	"github.com/rewired-gh/cornerwatch/internal/grader"
	"github.com/rewired-gh/cornerwatch/internal/logger"
	"github.com/rewired-gh/cornerwatch/internal/models"
)

// logNotifier stands in for Telegram when it is disabled.
type logNotifier struct{}

func (logNotifier) NotifyAlert(ctx context.Context, alert *models.Alert, candidate *models.AlertCandidate) error {
	logger.With("fixture_id", alert.FixtureID).With("tier", alert.Tier).
		Info("ALERT %s %d' %s: %s %s %.1f (%s) [%s]",
			alert.Teams(), alert.MinuteSent, alert.ScoreAtAlert, candidate.Label,
			alert.Direction, alert.ImpliedLine, candidate.Intensity, strings.Join(candidate.Rationale, "; "))
	return nil
}

func (logNotifier) NotifyResults(ctx context.Context, settled []grader.Settlement) error {
	for _, s := range settled {
		logger.With("fixture_id", s.Alert.FixtureID).With("tier", s.Alert.Tier).
			Info("RESULT %s %s %.1f final %d: %s",
				s.Alert.Teams(), s.Alert.Direction, s.Alert.ImpliedLine, s.FinalCorners, s.Result)
	}
	return nil
}
