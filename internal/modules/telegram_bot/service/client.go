package service

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	signals "signal_bot/internal/modules/signals/service"
	"signal_bot/internal/observability"
	"signal_bot/pkg/logger"
)

// Bot — часть *tgbot.BotAPI, которой пользуется сервис.
type Bot interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	GetUpdatesChan(config tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

// SignalAdmin — операции менеджера сигналов для команд бота.
type SignalAdmin interface {
	Active() []signals.ActiveSignal
	Remove(ctx context.Context, symbol string) error
}

type Config struct {
	ChatID        int64
	FlushInterval time.Duration
}

type notice struct {
	symbol string
	price  float64
	at     time.Time
}

// Telegram — сток уведомлений о сигналах: копит их и отправляет одним
// сообщением по таймеру. Без бота только пишет в лог.
type Telegram struct {
	bot     Bot
	cfg     Config
	admin   SignalAdmin
	metrics *observability.Metrics

	mu    sync.Mutex
	queue []notice
}

func NewTelegram(cfg Config, bot Bot, admin SignalAdmin, metrics *observability.Metrics) *Telegram {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	return &Telegram{
		bot:     bot,
		cfg:     cfg,
		admin:   admin,
		metrics: metrics,
	}
}

// Notify ставит сигнал в очередь, не блокируя вызывающего.
func (t *Telegram) Notify(symbol string, price float64) {
	t.mu.Lock()
	t.queue = append(t.queue, notice{symbol: symbol, price: price, at: time.Now()})
	t.mu.Unlock()
}

func (t *Telegram) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Flush отправляет накопленное одним сообщением.
func (t *Telegram) Flush() {
	t.mu.Lock()
	batch := t.queue
	t.queue = nil
	t.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	text := formatNotices(batch)
	if t.bot == nil || t.cfg.ChatID == 0 {
		logger.Info("[TG] %s", strings.ReplaceAll(text, "\n", " | "))
		return
	}
	if _, err := t.Send(text); err != nil {
		t.metrics.NotifyErrors.Inc()
		logger.Error("[TG] send %d signals: %v", len(batch), err)
	}
}

func (t *Telegram) Send(msg string) (tgbot.Message, error) {
	return t.bot.Send(tgbot.NewMessage(t.cfg.ChatID, msg))
}

// Run шлёт очередь по таймеру; на выходе отправляет остаток.
func (t *Telegram) Run(ctx context.Context) {
	tick := time.NewTicker(t.cfg.FlushInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			t.Flush()
			return
		case <-tick.C:
			t.Flush()
		}
	}
}

// Start: long-polling команд из настроенного чата.
func (t *Telegram) Start(ctx context.Context) {
	if t.bot == nil {
		return
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(ctx, upd)
			}
		}
	}()
}

func (t *Telegram) Stop() {
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
}
