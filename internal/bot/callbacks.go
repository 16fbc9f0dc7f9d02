package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"scout/internal/model"
	"scout/internal/notifier"
	"scout/internal/storage"
)

const (
	cbDeleteConfirm = "delete_confirm"
	cbDelete        = "delete"
	cbNoop          = "noop"
)

const busyText = "Too many drafts in progress, try again in a minute."

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.From == nil {
		b.answer(cb.ID, "")
		return
	}
	chatID := cb.Message.Chat.ID

	if !b.cfg.IsUserAllowed(cb.From.ID) {
		b.answer(cb.ID, "Access denied.")
		return
	}

	action, idStr, ok := strings.Cut(cb.Data, ":")
	if !ok {
		b.answer(cb.ID, "")
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		b.answer(cb.ID, "")
		return
	}

	b.log.Info("callback",
		"action", action,
		"id", id,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cbNoop:
		b.answer(cb.ID, "Cancelled.")
	case cbDeleteConfirm:
		b.answer(cb.ID, "")
		b.handleDeleteConfirm(ctx, chatID, idStr)
	case cbDelete:
		b.answer(cb.ID, "")
		b.handleDelete(ctx, chatID, idStr)
	default:
		m, ok := b.ownedMatch(ctx, chatID, id)
		if !ok {
			b.answer(cb.ID, fmt.Sprintf("Match #%d not found.", id))
			return
		}
		thread := FormatHandle(chatID, cb.Message.MessageID)
		b.answer(cb.ID, b.handleMatchAction(ctx, chatID, action, m, thread))
	}
}

// handleMatchAction applies an alert button and returns the toast text.
// Draft generation runs in the background and reports back in the chat.
func (b *Bot) handleMatchAction(ctx context.Context, chatID int64, action string, m *model.Match, thread string) string {
	matchID := m.ID
	switch action {
	case notifier.ActionDone, notifier.ActionSkip:
		mark, toast := b.actions.MarkDone, "Marked as done."
		if action == notifier.ActionSkip {
			mark, toast = b.actions.MarkSkipped, "Skipped."
		}
		status, changed, err := mark(ctx, matchID)
		if err != nil {
			return b.actionError(matchID, action, err)
		}
		if !changed {
			return fmt.Sprintf("Match #%d is already %s.", matchID, status)
		}
		return toast
	case notifier.ActionRegenerate:
		if m.Status.IsTerminal() {
			return b.actionError(matchID, action, notifier.ErrClosed)
		}
		started := b.goDraft(ctx, func(ctx context.Context) {
			d, err := b.actions.Regenerate(ctx, matchID)
			if err != nil {
				b.reply(chatID, b.actionError(matchID, action, err))
				return
			}
			b.reply(chatID, fmt.Sprintf("Draft v%d ready for match #%d.", d.Version, matchID))
		})
		if !started {
			return busyText
		}
		return "Generating a new draft..."
	case notifier.ActionRefine:
		if err := b.actions.StartRefine(ctx, matchID, thread); err != nil {
			return b.actionError(matchID, action, err)
		}
		b.reply(chatID, fmt.Sprintf("Reply to the alert for match #%d with feedback and I will revise the draft.", matchID))
		return "Refinement started."
	case notifier.ActionFinalize:
		d, err := b.actions.Finalize(ctx, matchID)
		if err != nil {
			return b.actionError(matchID, action, err)
		}
		return fmt.Sprintf("Draft v%d marked final.", d.Version)
	case notifier.ActionCopy:
		text, err := b.actions.CopyPlain(ctx, matchID)
		if err != nil {
			return b.actionError(matchID, action, err)
		}
		b.reply(chatID, text)
		return ""
	default:
		return ""
	}
}

func (b *Bot) actionError(matchID int64, action string, err error) string {
	switch {
	case errors.Is(err, notifier.ErrClosed):
		return fmt.Sprintf("Match #%d is already closed.", matchID)
	case errors.Is(err, notifier.ErrNoDraft):
		return "There is no draft yet."
	case errors.Is(err, notifier.ErrDraftingDisabled):
		return "Drafting is disabled."
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Sprintf("Match #%d not found.", matchID)
	}
	b.log.Error("alert action", "match_id", matchID, "action", action, "error", err)
	if errors.Is(err, notifier.ErrDeliveryFailed) {
		return "Saved, but the alert could not be updated."
	}
	return "Something went wrong, try again."
}

// handleFeedback treats a reply to an alert as refinement feedback.
func (b *Bot) handleFeedback(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	thread := FormatHandle(chatID, msg.ReplyToMessage.MessageID)
	text := msg.Text

	started := b.goDraft(ctx, func(ctx context.Context) {
		d, err := b.actions.Feedback(ctx, thread, text)
		switch {
		case errors.Is(err, notifier.ErrUnknownThread):
			b.log.Debug("reply to a non-alert message", "chat_id", chatID, "thread", thread)
		case errors.Is(err, notifier.ErrClosed):
			b.reply(chatID, "This match is already closed.")
		case errors.Is(err, notifier.ErrDraftingDisabled):
			b.reply(chatID, "Drafting is disabled.")
		case err != nil:
			b.log.Error("refine draft", "thread", thread, "error", err)
			b.reply(chatID, "Could not revise the draft, try again.")
		default:
			b.reply(chatID, fmt.Sprintf("Draft v%d ready, see the alert above.", d.Version))
		}
	})
	if !started {
		b.reply(chatID, busyText)
	}
}

func (b *Bot) handleDeleteConfirm(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /delete <id>")
		return
	}
	sub, ok := b.owned(ctx, chatID, id)
	if !ok {
		return
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Delete #%d \"%s\" with all its matches and drafts? This cannot be undone.", id, sub.Name))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, delete", fmt.Sprintf("%s:%d", cbDelete, id)),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", cbNoop+":0"),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send delete confirmation", "error", err)
	}
}

// ownedMatch returns the match if it was delivered to chatID.
func (b *Bot) ownedMatch(ctx context.Context, chatID, matchID int64) (*model.Match, bool) {
	m, err := b.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, false
	}
	sub, err := b.store.GetSubscriber(ctx, m.SubscriberID)
	if err != nil {
		return nil, false
	}
	return m, sub.ChannelID == strconv.FormatInt(chatID, 10)
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Error("answer callback", "error", err)
	}
}
