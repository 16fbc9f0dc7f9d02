package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"scout/internal/model"
	"scout/internal/storage"
)

const defaultInterval = time.Hour

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to Community Scout!

Watch Reddit, Hacker News and RSS feeds for keywords and get alerts with a drafted reply.

Quick start:
1. /new <name> — create a subscriber for this chat
2. /keyword <id> <phrase> — add a keyword
3. /target <id> reddit golang — add a place to watch

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Subscribers:
/new <name> — create a subscriber
/list — show subscribers in this chat
/info <id> — subscriber details
/interval <id> <min> — set scan interval (1-1440)
/style <id> [prompt] — set or clear the reply style
/pause <id> — pause scanning
/resume <id> — resume scanning
/delete <id> — delete a subscriber and its history

Keywords and targets:
/keyword <id> <phrase> — add a keyword
/rmkeyword <id> <phrase> — remove a keyword
/target <id> <source> [name] — add a target
/rmtarget <id> <source> [name] — remove a target

Sources: reddit <subreddit> | hackernews | rss <url>

Alerts: use the buttons under each alert. After Refine, reply to the alert with feedback to get a revised draft.`)
}

// owned loads a subscriber and checks that it belongs to chatID.
func (b *Bot) owned(ctx context.Context, chatID, id int64) (*model.Subscriber, bool) {
	sub, err := b.store.GetSubscriber(ctx, id)
	if err != nil || sub.ChannelID != strconv.FormatInt(chatID, 10) {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			b.log.Error("get subscriber", "subscriber_id", id, "error", err)
		}
		b.reply(chatID, fmt.Sprintf("Subscriber #%d not found.", id))
		return nil, false
	}
	return sub, true
}

func (b *Bot) handleNew(ctx context.Context, chatID, userID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /new <name>")
		return
	}

	sub := &model.Subscriber{
		OwnerID:   userID,
		Name:      args,
		ChannelID: strconv.FormatInt(chatID, 10),
		Interval:  defaultInterval,
		IsActive:  true,
	}
	if err := b.store.CreateSubscriber(ctx, sub); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save subscriber: %v", err))
		return
	}

	b.log.Info("subscriber created", "subscriber_id", sub.ID, "owner_id", userID, "chat_id", chatID)
	b.reply(chatID, fmt.Sprintf("Subscriber created!\n#%d %s (every %s)\nNo keywords yet. Use /keyword and /target to start watching.",
		sub.ID, sub.Name, formatInterval(sub.Interval)))
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	subs, err := b.store.ListSubscribersByChannel(ctx, strconv.FormatInt(chatID, 10))
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	pending := make(map[int64]int)
	for _, s := range subs {
		counts, err := b.store.CountMatches(ctx, s.ID)
		if err != nil {
			continue
		}
		pending[s.ID] = counts[model.StatusPending]
	}

	b.reply(chatID, FormatSubscriberList(subs, pending))
}

func (b *Bot) handleInfo(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /info <id>")
		return
	}

	sub, ok := b.owned(ctx, chatID, id)
	if !ok {
		return
	}

	counts, _ := b.store.CountMatches(ctx, sub.ID)
	b.reply(chatID, FormatSubscriberInfo(sub, counts))
}

func (b *Bot) handleKeyword(ctx context.Context, chatID int64, args string) {
	id, phrase, err := ParseIDText(args)
	if err != nil || phrase == "" {
		b.reply(chatID, "Usage: /keyword <id> <phrase>")
		return
	}
	sub, ok := b.owned(ctx, chatID, id)
	if !ok {
		return
	}

	err = b.store.AddKeyword(ctx, sub.ID, phrase)
	switch {
	case errors.Is(err, storage.ErrDuplicate):
		b.reply(chatID, fmt.Sprintf("Keyword %q is already set for #%d.", phrase, sub.ID))
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	default:
		b.reply(chatID, fmt.Sprintf("Keyword %q added to #%d \"%s\".", phrase, sub.ID, sub.Name))
	}
}

func (b *Bot) handleRmKeyword(ctx context.Context, chatID int64, args string) {
	id, phrase, err := ParseIDText(args)
	if err != nil || phrase == "" {
		b.reply(chatID, "Usage: /rmkeyword <id> <phrase>")
		return
	}
	sub, ok := b.owned(ctx, chatID, id)
	if !ok {
		return
	}

	removed, err := b.store.RemoveKeyword(ctx, sub.ID, phrase)
	switch {
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	case !removed:
		b.reply(chatID, fmt.Sprintf("Keyword %q not found in #%d.", phrase, sub.ID))
	default:
		b.reply(chatID, fmt.Sprintf("Keyword %q removed from #%d \"%s\".", phrase, sub.ID, sub.Name))
	}
}

func (b *Bot) handleTarget(ctx context.Context, chatID int64, args string) {
	id, rest, err := ParseIDText(args)
	if err != nil || rest == "" {
		b.reply(chatID, "Usage: /target <id> <source> [name]")
		return
	}
	target, err := ParseTarget(rest)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	sub, ok := b.owned(ctx, chatID, id)
	if !ok {
		return
	}

	err = b.store.AddTarget(ctx, sub.ID, target)
	switch {
	case errors.Is(err, storage.ErrDuplicate):
		b.reply(chatID, fmt.Sprintf("Target %s is already watched by #%d.", target, sub.ID))
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	default:
		b.reply(chatID, fmt.Sprintf("Target %s added to #%d \"%s\".", target, sub.ID, sub.Name))
	}
}

func (b *Bot) handleRmTarget(ctx context.Context, chatID int64, args string) {
	id, rest, err := ParseIDText(args)
	if err != nil || rest == "" {
		b.reply(chatID, "Usage: /rmtarget <id> <source> [name]")
		return
	}
	target, err := ParseTarget(rest)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	sub, ok := b.owned(ctx, chatID, id)
	if !ok {
		return
	}

	removed, err := b.store.RemoveTarget(ctx, sub.ID, target)
	switch {
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	case !removed:
		b.reply(chatID, fmt.Sprintf("Target %s not found in #%d.", target, sub.ID))
	default:
		b.reply(chatID, fmt.Sprintf("Target %s removed from #%d \"%s\".", target, sub.ID, sub.Name))
	}
}

func (b *Bot) handleInterval(ctx context.Context, chatID int64, args string) {
	id, interval, err := ParseIntervalArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	sub, ok := b.owned(ctx, chatID, id)
	if !ok {
		return
	}

	sub.Interval = interval
	if err := b.store.UpdateSubscriber(ctx, sub); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Subscriber #%d interval set to %s.", id, formatInterval(interval)))
}

func (b *Bot) handleStyle(ctx context.Context, chatID int64, args string) {
	id, prompt, err := ParseIDText(args)
	if err != nil {
		b.reply(chatID, "Usage: /style <id> [prompt]")
		return
	}
	sub, ok := b.owned(ctx, chatID, id)
	if !ok {
		return
	}

	sub.StylePrompt = prompt
	if err := b.store.UpdateSubscriber(ctx, sub); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if prompt == "" {
		b.reply(chatID, fmt.Sprintf("Subscriber #%d uses the default style.", id))
		return
	}
	b.reply(chatID, fmt.Sprintf("Subscriber #%d style updated.", id))
}

func (b *Bot) handleSetActive(ctx context.Context, chatID int64, args string, active bool) {
	id, err := ParseIDArg(args)
	if err != nil {
		if active {
			b.reply(chatID, "Usage: /resume <id>")
		} else {
			b.reply(chatID, "Usage: /pause <id>")
		}
		return
	}
	sub, ok := b.owned(ctx, chatID, id)
	if !ok {
		return
	}

	sub.IsActive = active
	if err := b.store.UpdateSubscriber(ctx, sub); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	verb := "paused"
	if active {
		verb = "resumed"
	}
	b.reply(chatID, fmt.Sprintf("Subscriber #%d \"%s\" %s.", id, sub.Name, verb))
}

func (b *Bot) handleDelete(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /delete <id>")
		return
	}
	sub, ok := b.owned(ctx, chatID, id)
	if !ok {
		return
	}

	if err := b.store.DeleteSubscriber(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Error deleting subscriber: %v", err))
		return
	}
	b.log.Info("subscriber deleted", "subscriber_id", id, "chat_id", chatID)
	b.reply(chatID, fmt.Sprintf("Subscriber #%d \"%s\" deleted.", id, sub.Name))
}
