// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/cornerwatch/internal/grader"
	"github.com/rewired-gh/cornerwatch/internal/logger"
	"github.com/rewired-gh/cornerwatch/internal/models"
	"github.com/rewired-gh/cornerwatch/internal/monitor"
)

// StatusFunc returns the fixtures currently tracked, for /status.
type StatusFunc func() []monitor.FixtureStatus

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	status         StatusFunc
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SetStatusFunc installs the /status provider.
func (c *Client) SetStatusFunc(f StatusFunc) {
	c.status = f
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	var reply tgbotapi.MessageConfig
	switch msg.Command() {
	case "ping":
		reply = tgbotapi.NewMessage(msg.Chat.ID, "Pong")
	case "status":
		var fixtures []monitor.FixtureStatus
		if c.status != nil {
			fixtures = c.status()
		}
		reply = tgbotapi.NewMessage(msg.Chat.ID, formatStatus(fixtures))
		reply.ParseMode = "MarkdownV2"
	default:
		return
	}
	if _, err := c.bot.Send(reply); err != nil {
		logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("send cancelled after %d attempts: %w", i+1, lastErr)
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(context.Background(), text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(context.Background(), text)
}

// NotifyAlert sends one alert card.
func (c *Client) NotifyAlert(ctx context.Context, alert *models.Alert, candidate *models.AlertCandidate) error {
	return c.sendMarkdownV2(ctx, formatAlert(alert, candidate))
}

// NotifyResults sends the settlements of a grading pass.
func (c *Client) NotifyResults(ctx context.Context, settled []grader.Settlement) error {
	if len(settled) == 0 {
		return nil
	}
	return c.sendMarkdownV2(ctx, formatResults(settled))
}

var tierTitles = map[models.Tier]string{
	models.TierLatePanic:         "Late panic",
	models.TierLateUnderdog:      "Late underdog",
	models.TierFirstHalfPanic:    "First-half panic",
	models.TierFirstHalfUnderdog: "First-half underdog",
}

func tierTitle(t models.Tier) string {
	if title, ok := tierTitles[t]; ok {
		return title
	}
	return string(t)
}

var resultEmoji = map[models.Result]string{
	models.ResultWin:    "✅",
	models.ResultLoss:   "❌",
	models.ResultRefund: "↩️",
}

// formatAlert formats an alert card into a Telegram MarkdownV2 message.
func formatAlert(alert *models.Alert, candidate *models.AlertCandidate) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🚩 *%s* \\(%s\\)\n\n",
		escapeMarkdownV2(tierTitle(alert.Tier)), escapeMarkdownV2(strings.ReplaceAll(candidate.Label, "_", " ")))
	fmt.Fprintf(&b, "⚽ %s\n", escapeMarkdownV2(alert.Teams()))
	if alert.League != "" {
		fmt.Fprintf(&b, "🏆 %s\n", escapeMarkdownV2(alert.League))
	}
	fmt.Fprintf(&b, "⏱ %d' · %s · %d corners\n",
		alert.MinuteSent, escapeMarkdownV2(alert.ScoreAtAlert), alert.CornersAtAlert)

	team := alert.HomeTeam
	if alert.TargetSide == models.Away {
		team = alert.AwayTeam
	}
	fmt.Fprintf(&b, "🎯 %s\n", escapeMarkdownV2(team))
	fmt.Fprintf(&b, "📈 Momentum %s / %s\n",
		escapeMarkdownV2(fmt.Sprintf("%.0f", alert.HomeMomentum)), escapeMarkdownV2(fmt.Sprintf("%.0f", alert.AwayMomentum)))

	direction := "Over"
	if alert.Direction == models.Under {
		direction = "Under"
	}
	line := fmt.Sprintf("%s %.1f", direction, alert.ImpliedLine)
	if alert.LineOdds > 0 {
		line += fmt.Sprintf(" @ %.2f", alert.LineOdds)
	}
	fmt.Fprintf(&b, "💰 *%s*\n", escapeMarkdownV2(line))

	if len(candidate.Rationale) > 0 {
		b.WriteString("\n")
		for _, r := range candidate.Rationale {
			fmt.Fprintf(&b, "• %s\n", escapeMarkdownV2(r))
		}
	}
	return b.String()
}

// formatResults formats settlements into a Telegram MarkdownV2 message.
func formatResults(settled []grader.Settlement) string {
	var b strings.Builder
	b.WriteString("📊 *Settled alerts*\n\n")

	counts := map[models.Result]int{}
	for i, s := range settled {
		counts[s.Result]++
		fmt.Fprintf(&b, "%d\\. %s %s\n", i+1, resultEmoji[s.Result], escapeMarkdownV2(s.Alert.Teams()))
		fmt.Fprintf(&b, "   %s · %s %s · final %d · *%s*\n",
			escapeMarkdownV2(tierTitle(s.Alert.Tier)), s.Alert.Direction,
			escapeMarkdownV2(fmt.Sprintf("%.1f", s.Alert.ImpliedLine)),
			s.FinalCorners, s.Result)
	}
	fmt.Fprintf(&b, "\n%d won, %d lost, %d refunded",
		counts[models.ResultWin], counts[models.ResultLoss], counts[models.ResultRefund])
	return b.String()
}

// formatStatus formats the tracked fixtures for /status.
func formatStatus(fixtures []monitor.FixtureStatus) string {
	if len(fixtures) == 0 {
		return "No fixtures tracked"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "👀 *%d fixtures tracked*\n\n", len(fixtures))
	for _, f := range fixtures {
		fmt.Fprintf(&b, "%s %s %s %d' \\[%s\\]",
			escapeMarkdownV2(f.HomeTeam), escapeMarkdownV2(f.Score), escapeMarkdownV2(f.AwayTeam),
			f.Minute, escapeMarkdownV2(f.Stage))
		if len(f.Alerted) > 0 {
			tiers := make([]string, len(f.Alerted))
			for i, t := range f.Alerted {
				tiers[i] = tierTitle(t)
			}
			fmt.Fprintf(&b, " 🚩 %s", escapeMarkdownV2(strings.Join(tiers, ", ")))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
