// Package telegram provides the notification sink via the Telegram Bot API.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Sagarzx/Car-Market-Alert/internal/models"
)

// Client delivers alerts to a Telegram chat.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
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

// Notify sends one alert. Listings with a known image go out as a photo
// message with the alert text as caption.
func (c *Client) Notify(candidate models.Candidate) error {
	text := FormatMessage(candidate)

	var msg tgbotapi.Chattable
	if candidate.Listing.ImageURL != "" {
		photo := tgbotapi.NewPhoto(c.chatID, tgbotapi.FileURL(candidate.Listing.ImageURL))
		photo.Caption = text
		photo.ParseMode = "MarkdownV2"
		msg = photo
	} else {
		m := tgbotapi.NewMessage(c.chatID, text)
		m.ParseMode = "MarkdownV2"
		msg = m
	}
	return c.send(msg)
}

// SendError sends a cycle error notification. Call this only on the first
// occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	m := tgbotapi.NewMessage(c.chatID, fmt.Sprintf("⚠️ *Cycle error*\n`%s`", escapeMarkdownV2(cycleErr.Error())))
	m.ParseMode = "MarkdownV2"
	return c.send(m)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	m := tgbotapi.NewMessage(c.chatID, fmt.Sprintf("✅ *Recovered* after %d consecutive failure\\(s\\)", failureCount))
	m.ParseMode = "MarkdownV2"
	return c.send(m)
}

// send delivers a message with linear-backoff retry.
func (c *Client) send(msg tgbotapi.Chattable) error {
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

// FormatMessage renders one alert as Telegram MarkdownV2.
func FormatMessage(c models.Candidate) string {
	l := c.Listing

	var header, delta string
	switch c.Kind {
	case models.KindMargin:
		header = "💰 *Below market*"
		delta = fmt.Sprintf("%s under the %s reference", formatEuro(c.DeltaAbs), formatEuro(c.Baseline))
	case models.KindDrop:
		header = "🔻 *Price drop*"
		delta = fmt.Sprintf("down %s from %s", formatEuro(c.DeltaAbs), formatEuro(c.Baseline))
	default:
		header = "📣 *New listing*"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s \\(%s\\)\n", header, escapeMarkdownV2(l.Source)))
	b.WriteString(fmt.Sprintf("• %s\n", escapeMarkdownV2(l.Title)))
	b.WriteString(fmt.Sprintf("• Price: %s\n", escapeMarkdownV2(formatEuro(l.Price))))
	if delta != "" {
		b.WriteString(fmt.Sprintf("• %s\n", escapeMarkdownV2(delta)))
	}
	if l.Year != 0 {
		b.WriteString(fmt.Sprintf("• Year: %d\n", l.Year))
	}
	b.WriteString(fmt.Sprintf("• KM: %s\n", escapeMarkdownV2(formatKm(l.Km))))
	if l.Region != "" {
		b.WriteString(fmt.Sprintf("• Region: %s\n", escapeMarkdownV2(l.Region)))
	}
	b.WriteString(escapeMarkdownV2(l.URL))
	return b.String()
}

// formatEuro renders "€9.999" with dotted thousands grouping.
func formatEuro(v float64) string {
	return "€" + groupThousands(int64(v))
}

func formatKm(v float64) string {
	if v == 0 {
		return "—"
	}
	return groupThousands(int64(v)) + " km"
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
