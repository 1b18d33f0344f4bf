package service

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	signals "signal_bot/internal/modules/signals/service"
	"signal_bot/pkg/logger"
)

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID != t.cfg.ChatID || !msg.IsCommand() {
		return
	}

	var reply string
	switch msg.Command() {
	case "active":
		reply = formatActive(t.admin.Active())
	case "remove":
		reply = t.handleRemove(ctx, msg.CommandArguments())
	default:
		reply = "Команды: /active, /remove <symbol>"
	}

	if _, err := t.Send(reply); err != nil {
		logger.Error("[TG] reply /%s: %v", msg.Command(), err)
	}
}

func (t *Telegram) handleRemove(ctx context.Context, args string) string {
	symbol := strings.ToLower(strings.TrimSpace(args))
	if symbol == "" {
		return "Укажи символ: /remove btcusdt"
	}

	err := t.admin.Remove(ctx, symbol)
	switch {
	case errors.Is(err, signals.ErrNoSignal):
		return "Открытого сигнала по " + symbol + " нет"
	case err != nil:
		logger.Error("[TG] remove %s: %v", symbol, err)
		return "❌ Не удалось удалить " + symbol + ": " + err.Error()
	}
	return "🗑 Сигнал по " + symbol + " удалён"
}
