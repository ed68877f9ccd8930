// Package telegram provides a client for sending run notifications via the Telegram Bot API.
// It formats a finished segmentation run into a MarkdownV2 report and delivers
// it with retries.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/polysegment/internal/models"
)

// sender is the part of the bot API the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// RunReport is the content of a run notification.
type RunReport struct {
	RunID        string
	FinishedAt   time.Time
	Duration     time.Duration
	Events       int
	Markets      int
	Skipped      int
	Failed       int
	BucketCounts [4]int // Indexed by models.Bucket
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
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

// SendReport sends the summary of a finished run
func (c *Client) SendReport(report RunReport) error {
	return c.send(formatReport(report))
}

// SendError sends a notification that a run aborted
func (c *Client) SendError(err error) error {
	message := "*Segmentation run failed*\n\n"
	message += fmt.Sprintf("Error: `%s`\n", escapeCode(err.Error()))
	return c.send(message)
}

// send delivers a MarkdownV2 message with linear backoff between attempts
func (c *Client) send(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatReport formats a run into a Telegram message
func formatReport(r RunReport) string {
	var b strings.Builder
	b.WriteString("*Segmentation run finished*\n\n")

	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Finished: %s\n", escapeMarkdownV2(r.FinishedAt.UTC().Format("2006-01-02 15:04:05")))
	}
	fmt.Fprintf(&b, "Duration: %s\n", escapeMarkdownV2(formatDuration(r.Duration)))
	if r.RunID != "" {
		fmt.Fprintf(&b, "Run: `%s`\n", escapeCode(r.RunID))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Events: *%d*\n", r.Events)
	fmt.Fprintf(&b, "Markets: *%d* processed, %d skipped, %d failed\n", r.Markets, r.Skipped, r.Failed)
	b.WriteString("\nTrades by segment:\n")
	for _, bucket := range models.ColumnOrder {
		fmt.Fprintf(&b, "   %s: %d\n", bucket, r.BucketCounts[bucket])
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteString("\\" + string(char))
		default:
			b.WriteRune(char)
		}
	}
	return b.String()
}

// escapeCode escapes text inside a MarkdownV2 code span, where only ` and \ are special
func escapeCode(text string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(text)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if hours := int(d.Hours()); hours >= 1 {
		return fmt.Sprintf("%dh%dm", hours, int(d.Minutes())%60)
	}
	if mins := int(d.Minutes()); mins >= 1 {
		return fmt.Sprintf("%dm%ds", mins, int(d.Seconds())%60)
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
