package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"scout/internal/notifier"
)

// API is the subset of the Telegram Bot API used by the bot and channel.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Channel delivers alerts as Telegram messages with inline action buttons.
// Delivery handles have the form "chatID:messageID".
type Channel struct {
	api API
	log *slog.Logger
}

// NewChannel creates a Telegram notification channel.
func NewChannel(api API, log *slog.Logger) *Channel {
	return &Channel{api: api, log: log}
}

// Send implements notifier.Channel.
func (c *Channel) Send(_ context.Context, channelID string, msg notifier.Message) (string, error) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid channel id %q", channelID)
	}

	out := tgbotapi.NewMessage(chatID, msg.Text)
	out.DisableWebPagePreview = true
	if kb := keyboard(msg); kb != nil {
		out.ReplyMarkup = *kb
	}

	sent, err := c.api.Send(out)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return FormatHandle(chatID, sent.MessageID), nil
}

// Edit implements notifier.Channel. An edit that changes nothing is not an error.
func (c *Channel) Edit(_ context.Context, handle string, msg notifier.Message) error {
	chatID, messageID, err := ParseHandle(handle)
	if err != nil {
		return err
	}

	var edit tgbotapi.EditMessageTextConfig
	if kb := keyboard(msg); kb != nil {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, msg.Text, *kb)
	} else {
		// Omitting reply_markup removes the buttons.
		edit = tgbotapi.NewEditMessageText(chatID, messageID, msg.Text)
	}
	edit.DisableWebPagePreview = true

	if _, err := c.api.Request(edit); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			c.log.Debug("alert unchanged", "handle", handle)
			return nil
		}
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// FormatHandle builds the delivery handle of a Telegram message.
func FormatHandle(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

// ParseHandle splits a delivery handle into chat and message IDs.
func ParseHandle(handle string) (int64, int, error) {
	chatPart, msgPart, ok := strings.Cut(handle, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid handle %q", handle)
	}
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid handle %q", handle)
	}
	messageID, err := strconv.Atoi(msgPart)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid handle %q", handle)
	}
	return chatID, messageID, nil
}

// keyboard lays actions out two per row. Callback data is "action:matchID".
func keyboard(msg notifier.Message) *tgbotapi.InlineKeyboardMarkup {
	if len(msg.Actions) == 0 {
		return nil
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, a := range msg.Actions {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(a.Label, fmt.Sprintf("%s:%d", a.Name, msg.MatchID)))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}
