package bot

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/semaphore"

	"scout/internal/config"
	"scout/internal/model"
	"scout/internal/storage"
)

// Actions applies user interactions to delivered alerts.
type Actions interface {
	MarkDone(ctx context.Context, matchID int64) (model.MatchStatus, bool, error)
	MarkSkipped(ctx context.Context, matchID int64) (model.MatchStatus, bool, error)
	Regenerate(ctx context.Context, matchID int64) (model.Draft, error)
	StartRefine(ctx context.Context, matchID int64, threadID string) error
	Feedback(ctx context.Context, threadID, text string) (model.Draft, error)
	Finalize(ctx context.Context, matchID int64) (model.Draft, error)
	CopyPlain(ctx context.Context, matchID int64) (string, error)
}

// maxDrafting bounds draft generations running off the update loop.
const maxDrafting = 2

// Bot is the Telegram bot that manages subscribers and handles alert interactions.
type Bot struct {
	api     API
	store   storage.Storage
	actions Actions
	cfg     *config.Config
	log     *slog.Logger

	drafting *semaphore.Weighted
	inflight sync.WaitGroup
}

// New creates a Bot on top of an authorized API client.
func New(api API, store storage.Storage, actions Actions, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:      api,
		store:    store,
		actions:  actions,
		cfg:      cfg,
		log:      log,
		drafting: semaphore.NewWeighted(maxDrafting),
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.inflight.Wait()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	switch {
	case msg.IsCommand():
		if !b.cfg.IsUserAllowed(msg.From.ID) {
			b.reply(msg.Chat.ID, "Access denied.")
			return
		}
		b.handleCommand(ctx, msg)
	case msg.ReplyToMessage != nil && msg.Text != "":
		if !b.cfg.IsUserAllowed(msg.From.ID) {
			return
		}
		b.handleFeedback(ctx, msg)
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

// goDraft runs fn in the background so a slow generator never stalls the
// update loop. It reports false when too many drafts are already running.
func (b *Bot) goDraft(ctx context.Context, fn func(ctx context.Context)) bool {
	if !b.drafting.TryAcquire(1) {
		return false
	}
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		defer b.drafting.Release(1)
		fn(ctx)
	}()
	return true
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "new":
		b.handleNew(ctx, chatID, msg.From.ID, args)
	case "list":
		b.handleList(ctx, chatID)
	case "info":
		b.handleInfo(ctx, chatID, args)
	case "keyword":
		b.handleKeyword(ctx, chatID, args)
	case "rmkeyword":
		b.handleRmKeyword(ctx, chatID, args)
	case "target":
		b.handleTarget(ctx, chatID, args)
	case "rmtarget":
		b.handleRmTarget(ctx, chatID, args)
	case "interval":
		b.handleInterval(ctx, chatID, args)
	case "style":
		b.handleStyle(ctx, chatID, args)
	case "pause":
		b.handleSetActive(ctx, chatID, args, false)
	case "resume":
		b.handleSetActive(ctx, chatID, args, true)
	case "delete":
		b.handleDeleteConfirm(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
