// Package telegram sends run and promotion notifications via the Telegram Bot API.
package telegram

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/pmoforecast/internal/metrics"
	"github.com/rewired-gh/pmoforecast/internal/models"
	"github.com/rewired-gh/pmoforecast/internal/pipeline"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
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
	return newClient(bot, chatIDInt, maxRetries, retryDelayBase), nil
}

func newClient(bot sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError reports a run that aborted before any model ran.
func (c *Client) SendError(runErr error) error {
	text := fmt.Sprintf("⚠️ *Forecast run failed*\n`%s`", escapeMarkdownV2(runErr.Error()))
	return c.sendMarkdownV2(text)
}

// NotifyChampion announces a promotion.
func (c *Client) NotifyChampion(p models.Promotion, rec *models.RunRecord) error {
	return c.sendMarkdownV2(formatChampion(p, rec))
}

// SendRunSummary reports the per-model outcome of one run.
func (c *Client) SendRunSummary(runID string, results pipeline.Results) error {
	return c.sendMarkdownV2(formatRunSummary(runID, results))
}

func formatChampion(p models.Promotion, rec *models.RunRecord) string {
	var b strings.Builder
	b.WriteString("🏆 *New champion model*\n\n")
	fmt.Fprintf(&b, "Model: *%s*\n", escapeMarkdownV2(p.Name))
	fmt.Fprintf(&b, "Run: `%s`\n", escapeMarkdownV2(p.RunID))
	fmt.Fprintf(&b, "%s: %s\n", escapeMarkdownV2(p.Metric), escapeMarkdownV2(fmt.Sprintf("%.4f", p.Value)))
	if rec != nil && rec.Framework != "" {
		fmt.Fprintf(&b, "Framework: %s\n", escapeMarkdownV2(rec.Framework))
	}
	fmt.Fprintf(&b, "📅 %s", escapeMarkdownV2(p.PromotedAt.Format("2006-01-02 15:04:05")))
	return b.String()
}

func formatRunSummary(runID string, results pipeline.Results) string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Forecast run* `%s`\n\n", escapeMarkdownV2(runID))
	for i, name := range names {
		res := results[name]
		fmt.Fprintf(&b, "%d\\. *%s*\n", i+1, escapeMarkdownV2(name))
		if res.Err != nil {
			fmt.Fprintf(&b, "   ❌ `%s`\n", escapeMarkdownV2(res.Err.Error()))
			continue
		}
		parts := make([]string, 0, len(metrics.Names))
		for _, m := range metrics.Names {
			if v, ok := res.Metrics[m]; ok {
				parts = append(parts, fmt.Sprintf("%s %.4f", m, v))
			}
		}
		fmt.Fprintf(&b, "   %s\n", escapeMarkdownV2(strings.Join(parts, " | ")))
		if res.Trend != nil {
			emoji := "📈"
			if res.Trend.PctChange < 0 {
				emoji = "📉"
			}
			change := escapeMarkdownV2(fmt.Sprintf("%+.2f%%", res.Trend.PctChange))
			fmt.Fprintf(&b, "   %s %s \\(%s\\)\n", emoji, escapeMarkdownV2(res.Trend.Direction), change)
		}
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
