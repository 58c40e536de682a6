package tg

import (
	"fmt"
	"strings"

	"github.com/go-telegram/bot/models"

	"earn-bot/internal/ledger"
)

// welcomeKeyboard returns the channel link and verify button shown on /start.
func welcomeKeyboard(channelUsername string) *models.InlineKeyboardMarkup {
	channel := strings.TrimPrefix(channelUsername, "@")
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "📢 Telegram Channel", URL: fmt.Sprintf("https://t.me/%s", channel)},
			},
			{
				{Text: "✅ Verify", CallbackData: "verify_channel"},
			},
		},
	}
}

// packagesKeyboard lays the fixed denominations out three per row.
func packagesKeyboard() *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton
	var row []models.InlineKeyboardButton
	for _, plan := range ledger.Plans() {
		row = append(row, models.InlineKeyboardButton{
			Text:         plan.Name(),
			CallbackData: fmt.Sprintf("pkg:%d", plan.Denomination),
		})
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
