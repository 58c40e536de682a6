// Package tg is the Telegram front end: command and callback handlers over
// the ledger engine and the deposit address allocator.
package tg

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"earn-bot/internal/alloc"
	"earn-bot/internal/config"
	"earn-bot/internal/ledger"
	"earn-bot/internal/metrics"
)

// Bot wraps the telegram bot with handlers.
type Bot struct {
	bot      *bot.Bot
	cfg      *config.Config
	ledger   *ledger.Engine
	alloc    *alloc.Allocator
	states   *StateManager
	metrics  *metrics.Metrics
	log      *slog.Logger
	username string
}

// New creates a new telegram bot and registers all handlers.
func New(cfg *config.Config, engine *ledger.Engine, allocator *alloc.Allocator, metricRegistry *metrics.Metrics, log *slog.Logger) (*Bot, error) {
	b := &Bot{
		cfg:     cfg,
		ledger:  engine,
		alloc:   allocator,
		states:  NewStateManager(),
		metrics: metricRegistry,
		log:     log.With("component", "tg"),
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithMiddlewares(b.countUpdates),
	}

	tgBot, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	b.bot = tgBot

	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start ", bot.MatchTypePrefix, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/deposit", bot.MatchTypeExact, b.depositHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/packages", bot.MatchTypeExact, b.packagesHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/daily_reward", bot.MatchTypeExact, b.dailyRewardHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/my_packages", bot.MatchTypeExact, b.myPackagesHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/my_balance", bot.MatchTypeExact, b.myBalanceHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/referral_link", bot.MatchTypeExact, b.referralLinkHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/my_team", bot.MatchTypeExact, b.myTeamHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/withdraw", bot.MatchTypeExact, b.withdrawHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/cancel", bot.MatchTypeExact, b.cancelHandler)
	tgBot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "verify_channel", bot.MatchTypeExact, b.verifyChannelHandler)
	tgBot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "pkg:", bot.MatchTypePrefix, b.packageSelectHandler)

	return b, nil
}

// Start runs long polling until the context is cancelled.
func (b *Bot) Start(ctx context.Context) {
	b.resolveUsername(ctx)
	b.bot.Start(ctx)
}

// StartWebhook serves updates delivered to the webhook handler until the
// context is cancelled.
func (b *Bot) StartWebhook(ctx context.Context) {
	b.resolveUsername(ctx)
	b.bot.StartWebhook(ctx)
}

// WebhookHandler returns the HTTP handler Telegram posts updates to.
func (b *Bot) WebhookHandler() http.Handler {
	return b.bot.WebhookHandler()
}

// RegisterWebhook points Telegram at the given public URL.
func (b *Bot) RegisterWebhook(ctx context.Context, url string) error {
	ok, err := b.bot.SetWebhook(ctx, &bot.SetWebhookParams{URL: url})
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	if !ok {
		return fmt.Errorf("set webhook %s: rejected", url)
	}
	return nil
}

func (b *Bot) resolveUsername(ctx context.Context) {
	me, err := b.bot.GetMe(ctx)
	if err != nil {
		b.log.Warn("resolve bot username", "error", err)
		return
	}
	b.username = me.Username
}

func (b *Bot) countUpdates(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
		if b.metrics != nil {
			b.metrics.TGIncomingUpdates.Inc()
		}
		next(ctx, tgBot, update)
	}
}

// SendMessage delivers a plain text message to a user.
func (b *Bot) SendMessage(ctx context.Context, userID int64, text string) error {
	_, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: userID,
		Text:   text,
	})
	if err != nil {
		b.countOutgoing("error")
		return fmt.Errorf("send message to %d: %w", userID, err)
	}
	b.countOutgoing("ok")
	return nil
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}
	if _, err := b.bot.SendMessage(ctx, params); err != nil {
		b.log.Error("send message", "chat", chatID, "error", err)
		b.countOutgoing("error")
		return
	}
	b.countOutgoing("ok")
}

func (b *Bot) countOutgoing(status string) {
	if b.metrics != nil {
		b.metrics.TGOutgoingMsgs.WithLabelValues(status).Inc()
	}
}

func (b *Bot) answerCallback(ctx context.Context, cb *models.CallbackQuery, text string) {
	params := &bot.AnswerCallbackQueryParams{CallbackQueryID: cb.ID}
	if text != "" {
		params.Text = text
		params.ShowAlert = true
	}
	if _, err := b.bot.AnswerCallbackQuery(ctx, params); err != nil {
		b.log.Warn("answer callback", "error", err)
	}
}
