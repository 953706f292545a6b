package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/cornerwatch/internal/grader"
	"github.com/rewired-gh/cornerwatch/internal/models"
	"github.com/rewired-gh/cornerwatch/internal/monitor"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{">blockquote", "\\>blockquote"},
		{"#header", "\\#header"},
		{"+plus-minus", "\\+plus\\-minus"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	// The chat ID is parsed before the bot is created, so no network call is made.
	_, err := NewClient("", "not-a-number", 3, time.Second)
	if err == nil {
		t.Fatal("Expected error for invalid chat ID, got nil")
	}
	if !strings.Contains(err.Error(), "invalid chat ID") {
		t.Errorf("unexpected error: %v", err)
	}
}

func sampleAlert() *models.Alert {
	return &models.Alert{
		ID:             "a1",
		FixtureID:      1001,
		Tier:           models.TierLatePanic,
		League:         "England - Premier League",
		HomeTeam:       "Arsenal",
		AwayTeam:       "Luton",
		TargetSide:     models.Home,
		ScoreAtAlert:   "0-0",
		MinuteSent:     87,
		CornersAtAlert: 9,
		Direction:      models.Over,
		ImpliedLine:    10.5,
		LineOdds:       1.9,
		HomeMomentum:   146,
		AwayMomentum:   72,
	}
}

func TestFormatAlert(t *testing.T) {
	candidate := &models.AlertCandidate{
		Label:     "giant_killing",
		Rationale: []string{"home momentum 146 >= 120 (150 x 0.80)"},
	}
	msg := formatAlert(sampleAlert(), candidate)

	for _, want := range []string{
		"*Late panic* \\(giant killing\\)",
		"Arsenal vs Luton",
		"England \\- Premier League",
		"87' · 0\\-0 · 9 corners",
		"🎯 Arsenal",
		"Momentum 146 / 72",
		"*Over 10\\.5 @ 1\\.90*",
		"• home momentum 146 \\>\\= 120 \\(150 x 0\\.80\\)",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("alert message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatAlertWithoutLineOdds(t *testing.T) {
	alert := sampleAlert()
	alert.LineOdds = 0
	alert.TargetSide = models.Away
	msg := formatAlert(alert, &models.AlertCandidate{Label: "fighting"})

	if !strings.Contains(msg, "*Over 10\\.5*") {
		t.Errorf("expected bare line, got:\n%s", msg)
	}
	if !strings.Contains(msg, "🎯 Luton") {
		t.Errorf("expected away target, got:\n%s", msg)
	}
}

func TestFormatResults(t *testing.T) {
	win, refund := sampleAlert(), sampleAlert()
	refund.HomeTeam = "Lecce"
	refund.ImpliedLine = 10
	msg := formatResults([]grader.Settlement{
		{Alert: win, FinalCorners: 12, Result: models.ResultWin},
		{Alert: refund, FinalCorners: 10, Result: models.ResultRefund},
	})

	for _, want := range []string{
		"1\\. ✅ Arsenal vs Luton",
		"over 10\\.5 · final 12 · *WIN*",
		"2\\. ↩️ Lecce vs Luton",
		"1 won, 0 lost, 1 refunded",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("results message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatStatus(t *testing.T) {
	if got := formatStatus(nil); got != "No fixtures tracked" {
		t.Errorf("empty status = %q", got)
	}

	msg := formatStatus([]monitor.FixtureStatus{
		{FixtureID: 1, HomeTeam: "Arsenal", AwayTeam: "Luton", Score: "0-0", Minute: 87, Stage: "monitoring",
			Alerted: []models.Tier{models.TierLatePanic}},
		{FixtureID: 2, HomeTeam: "Lecce", AwayTeam: "Inter", Score: "1-0", Minute: 12, Stage: "discovered"},
	})
	for _, want := range []string{
		"*2 fixtures tracked*",
		"Arsenal 0\\-0 Luton 87' \\[monitoring\\] 🚩 Late panic",
		"Lecce 1\\-0 Inter 12' \\[discovered\\]\n",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("status message missing %q:\n%s", want, msg)
		}
	}
}

func TestSendErrorEscapesMessage(t *testing.T) {
	err := errors.New("failed to poll live fixtures: 502 (bad gateway)")
	text := escapeMarkdownV2(err.Error())
	if !strings.Contains(text, "\\(bad gateway\\)") {
		t.Errorf("parentheses not escaped: %q", text)
	}
}
