package tg

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"earn-bot/internal/alloc"
	"earn-bot/internal/ledger"
	"earn-bot/internal/money"
)

const welcomeText = `Welcome to "Infinity Earn 2x" platform where you can:

👉 Invest 10 USDT and earn 0.33 USDT daily for 60 days.
👉 Invest 20 USDT and earn 0.66 USDT daily for 60 days.
👉 Invest 50 USDT and earn 1.66 USDT daily for 60 days.
👉 Invest 100 USDT and earn 3.33 USDT daily for 60 days.
👉 Invest 200 USDT and earn 6.66 USDT daily for 60 days.
👉 Invest 500 USDT and earn 16.66 USDT daily for 60 days.
👉 Invest 1000 USDT and earn 33.33 USDT daily for 60 days.

🎁 You can also get 10% bonus on first deposit of your friend if your friend joined by your referral link.

Join our Telegram Channel for latest announcements and verify your account to start your earning now.`

const verifiedText = "Congratulations!\n" +
	"You have been verified. Deposit your balance, select your package by sending commands from the menu, and start your earning journey. " +
	"You can also select multiple packages one by one to boost your earning."

func (b *Bot) startHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	userID := update.Message.From.ID

	var referrer int64
	_, arg, _ := strings.Cut(update.Message.Text, " ")
	if rest, ok := strings.CutPrefix(strings.TrimSpace(arg), "ref"); ok {
		if id, err := strconv.ParseInt(rest, 10, 64); err == nil {
			referrer = id
		}
	}

	if _, err := b.ledger.EnsureUser(ctx, userID, referrer); err != nil {
		b.log.Error("ensure user", "user", userID, "error", err)
	}

	b.send(ctx, update.Message.Chat.ID, welcomeText, welcomeKeyboard(b.cfg.ChannelUsername))
}

func (b *Bot) verifyChannelHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	cb := update.CallbackQuery
	b.answerCallback(ctx, cb, "")
	userID := cb.From.ID

	joined := false
	member, err := tgBot.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: b.cfg.ChannelUsername,
		UserID: userID,
	})
	if err != nil {
		b.log.Warn("channel membership check failed", "user", userID, "error", err)
	} else {
		switch member.Type {
		case models.ChatMemberTypeMember, models.ChatMemberTypeAdministrator, models.ChatMemberTypeOwner:
			joined = true
		}
	}

	if !joined {
		b.send(ctx, userID, "Join our channel and verify first.", nil)
		return
	}

	if err := b.ledger.SetVerified(ctx, userID); err != nil {
		b.log.Error("mark verified", "user", userID, "error", err)
	}
	b.send(ctx, userID, verifiedText, nil)
}

func (b *Bot) depositHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	userID := update.Message.From.ID

	if _, err := b.ledger.Get(ctx, userID); err != nil {
		b.log.Error("ensure user", "user", userID, "error", err)
	}

	addr, err := b.alloc.Request(ctx, userID)
	if err != nil {
		if errors.Is(err, alloc.ErrPoolEmpty) {
			b.send(ctx, update.Message.Chat.ID,
				"No deposit address is available right now. Please try again in a minute.", nil)
			return
		}
		b.log.Error("deposit address request failed", "user", userID, "error", err)
		b.send(ctx, update.Message.Chat.ID, "Could not get deposit address. Try again later.", nil)
		return
	}

	b.send(ctx, update.Message.Chat.ID,
		fmt.Sprintf("Your receiving address of USDT on BSC (Binance Smart Chain) is\n%s", addr), nil)
}

func (b *Bot) packagesHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	b.send(ctx, update.Message.Chat.ID, "Select a package:", packagesKeyboard())
}

func (b *Bot) packageSelectHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	cb := update.CallbackQuery
	b.answerCallback(ctx, cb, "")
	userID := cb.From.ID

	denomination, err := strconv.ParseInt(strings.TrimPrefix(cb.Data, "pkg:"), 10, 64)
	if err != nil {
		b.send(ctx, userID, "Invalid package.", nil)
		return
	}

	pkg, err := b.ledger.ActivatePackage(ctx, userID, denomination)
	switch {
	case errors.Is(err, ledger.ErrInvalidDenomination):
		b.send(ctx, userID, "Invalid package.", nil)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		b.send(ctx, userID,
			fmt.Sprintf("Insufficient balance for the %d USDT package. Deposit first with /deposit.", denomination), nil)
	case err != nil:
		b.log.Error("package activation failed", "user", userID, "error", err)
		b.send(ctx, userID, "Could not activate the package. Try again later.", nil)
	default:
		b.send(ctx, userID, fmt.Sprintf(
			"Package activated: %s for %d days.\nDaily reward: %s USDT. Claim it every day with /daily_reward.",
			pkg.Name, ledger.PackageTermDays, pkg.Daily), nil)
	}
}

func (b *Bot) dailyRewardHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	userID := update.Message.From.ID

	credited, err := b.ledger.ClaimDaily(ctx, userID)
	if err != nil {
		b.log.Error("daily claim failed", "user", userID, "error", err)
		b.send(ctx, update.Message.Chat.ID, "Could not claim the daily reward. Try again later.", nil)
		return
	}
	if credited.IsZero() {
		b.send(ctx, update.Message.Chat.ID,
			"Nothing to claim. Either you already claimed today or you have no active package.", nil)
		return
	}
	b.send(ctx, update.Message.Chat.ID,
		fmt.Sprintf("Daily reward of %s USDT added to your balance.", credited), nil)
}

func (b *Bot) myPackagesHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	userID := update.Message.From.ID

	packages, err := b.ledger.ActivePackages(ctx, userID)
	if err != nil {
		b.log.Error("list packages failed", "user", userID, "error", err)
		b.send(ctx, update.Message.Chat.ID, "Could not load your packages. Try again later.", nil)
		return
	}
	if len(packages) == 0 {
		b.send(ctx, update.Message.Chat.ID, "You have no active packages. Pick one with /packages.", nil)
		return
	}

	var lines []string
	lines = append(lines, "Your active packages:")
	now := time.Now().UTC()
	for _, p := range packages {
		daysLeft := int(p.EndTS.Sub(now).Hours() / 24)
		lines = append(lines, fmt.Sprintf("• %s, %s USDT daily, %d days left", p.Name, p.Daily, daysLeft))
	}
	b.send(ctx, update.Message.Chat.ID, strings.Join(lines, "\n"), nil)
}

func (b *Bot) myBalanceHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	userID := update.Message.From.ID

	user, err := b.ledger.Get(ctx, userID)
	if err != nil {
		b.log.Error("load balance failed", "user", userID, "error", err)
		b.send(ctx, update.Message.Chat.ID, "Could not load your balance. Try again later.", nil)
		return
	}
	b.send(ctx, update.Message.Chat.ID, fmt.Sprintf("Your balance: %s USDT", user.Balance), nil)
}

func (b *Bot) referralLinkHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	userID := update.Message.From.ID

	if b.username == "" {
		b.resolveUsername(ctx)
	}
	if b.username == "" {
		b.send(ctx, update.Message.Chat.ID, "Could not build your referral link. Try again later.", nil)
		return
	}
	b.send(ctx, update.Message.Chat.ID,
		fmt.Sprintf("https://t.me/%s?start=ref%d", b.username, userID), nil)
}

func (b *Bot) myTeamHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	userID := update.Message.From.ID

	n, err := b.ledger.QualifiedFriends(ctx, userID)
	if err != nil {
		b.log.Error("qualified friends failed", "user", userID, "error", err)
		b.send(ctx, update.Message.Chat.ID, "Could not load your team. Try again later.", nil)
		return
	}
	b.send(ctx, update.Message.Chat.ID,
		fmt.Sprintf("Friends who activated their first package: %d", n), nil)
}

func (b *Bot) withdrawHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	userID := update.Message.From.ID

	b.states.Set(userID, StateAwaitAddress, "")
	b.send(ctx, update.Message.Chat.ID,
		"Send the USDT (BSC) address for your withdrawal, or /cancel to abort.", nil)
}

func (b *Bot) cancelHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	b.states.Clear(update.Message.From.ID)
	b.send(ctx, update.Message.Chat.ID, "Cancelled.", nil)
}

func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	userID := update.Message.From.ID
	text := strings.TrimSpace(update.Message.Text)

	state, address := b.states.Get(userID)
	switch state {
	case StateAwaitAddress:
		b.handleWithdrawAddress(ctx, update.Message, text)
	case StateAwaitAmount:
		b.handleWithdrawAmount(ctx, update.Message, text, address)
	}
}

func (b *Bot) handleWithdrawAddress(ctx context.Context, msg *models.Message, address string) {
	if len(address) < 20 || strings.HasPrefix(address, "/") {
		b.send(ctx, msg.Chat.ID, "That does not look like a BSC address. Send it again or /cancel.", nil)
		return
	}
	b.states.Set(msg.From.ID, StateAwaitAmount, address)
	b.send(ctx, msg.Chat.ID, "Send the amount of USDT to withdraw:", nil)
}

func (b *Bot) handleWithdrawAmount(ctx context.Context, msg *models.Message, text, address string) {
	userID := msg.From.ID

	amount, err := money.Parse(strings.Replace(text, ",", ".", 1))
	if err != nil || !amount.IsPositive() {
		b.send(ctx, msg.Chat.ID, "Send a positive amount, for example 25 or 12.5, or /cancel.", nil)
		return
	}

	ok, err := b.ledger.RequestWithdrawal(ctx, userID, amount, address)
	b.states.Clear(userID)
	if err != nil {
		b.log.Error("withdrawal request failed", "user", userID, "error", err)
		b.send(ctx, msg.Chat.ID, "Could not submit the withdrawal. Try again later.", nil)
		return
	}
	if !ok {
		b.send(ctx, msg.Chat.ID, "Insufficient balance for that amount.", nil)
		return
	}
	b.send(ctx, msg.Chat.ID,
		fmt.Sprintf("Withdrawal request of %s USDT to %s submitted. It will be processed manually.", amount, address), nil)
}
