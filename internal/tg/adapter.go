// Package tg adapts the Telegram Bot API to the transport collaborator
// interfaces: live updates are normalized and published on the event bus,
// admin-chat messages are routed to the command surface, and outbound
// status messages map Bot API rate limiting to flood-wait errors.
package tg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/matheus3301/tgsd/internal/bus"
	"github.com/matheus3301/tgsd/internal/transport"
	"go.uber.org/zap"
)

// TelegramBot is the slice of the Bot API client the adapter uses. Kept as
// an interface so tests can swap in a fake.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetSelf() tgbotapi.User
}

type botWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *botWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *botWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *botWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *botWrapper) GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	return w.bot.GetChat(config)
}

func (w *botWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking).
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &botWrapper{bot: bot}, nil
}

// Commander executes one admin command line and returns the reply text.
type Commander interface {
	Execute(ctx context.Context, line string) string
}

// Options configures the adapter.
type Options struct {
	Token      string
	Proxy      string
	AdminChats []int64
}

// Adapter is the Bot API transport. It implements transport.Client.
type Adapter struct {
	opts       Options
	bot        TelegramBot
	botFactory BotFactory
	bus        *bus.Bus
	commander  Commander
	admins     map[int64]bool
	logger     *zap.Logger
	cancel     context.CancelFunc
}

// New creates an adapter with the real Bot API factory.
func New(opts Options, b *bus.Bus, commander Commander, logger *zap.Logger) (*Adapter, error) {
	return NewWithFactory(opts, b, commander, defaultBotFactory, logger)
}

// NewWithFactory creates an adapter with a custom bot factory (for testing).
func NewWithFactory(opts Options, b *bus.Bus, commander Commander, factory BotFactory, logger *zap.Logger) (*Adapter, error) {
	if opts.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	admins := make(map[int64]bool, len(opts.AdminChats))
	for _, id := range opts.AdminChats {
		admins[id] = true
	}
	return &Adapter{
		opts:       opts,
		botFactory: factory,
		bus:        b,
		commander:  commander,
		admins:     admins,
		logger:     logger,
	}, nil
}

// SetCommander wires the command surface. Must be called before Start;
// the router depends on collaborators that in turn depend on this adapter,
// so it cannot be passed at construction.
func (a *Adapter) SetCommander(c Commander) {
	a.commander = c
}

func (a *Adapter) initBot() error {
	client := http.DefaultClient
	if a.opts.Proxy != "" {
		proxyURL, err := url.Parse(a.opts.Proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	bot, err := a.botFactory(a.opts.Token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	a.bot = bot
	a.logger.Info("authorized", zap.String("username", bot.GetSelf().UserName))
	return nil
}

// Start connects the bot and runs the update loop until the context is
// canceled or Stop is called.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.initBot(); err != nil {
		return err
	}

	ctx, a.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "edited_message"}
	updates := a.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				a.handleUpdate(ctx, update)
			case <-ctx.Done():
				return
			}
		}
	}()

	a.logger.Info("polling started")
	return nil
}

// Stop stops the update loop.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.bot != nil {
		a.bot.StopReceivingUpdates()
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		msg := update.Message
		if a.commander != nil && a.admins[msg.Chat.ID] && strings.HasPrefix(msg.Text, "/") {
			a.dispatchCommand(ctx, msg.Chat.ID, msg.Text)
			return
		}
		a.publish(transport.EventAdded, msg, int64(msg.Date))
	case update.EditedMessage != nil:
		msg := update.EditedMessage
		ts := int64(msg.Date)
		if msg.EditDate > 0 {
			ts = int64(msg.EditDate)
		}
		a.publish(transport.EventEdited, msg, ts)
	}
}

// publish normalizes a Bot API message and puts it on the bus. Messages
// with neither text nor a document carry nothing searchable and are
// skipped.
func (a *Adapter) publish(kind transport.EventKind, msg *tgbotapi.Message, unixSec int64) {
	m := transport.Message{
		ChatID:    msg.Chat.ID,
		MessageID: int64(msg.MessageID),
		Timestamp: unixSec * 1000,
	}
	if msg.From != nil {
		m.SenderID = msg.From.ID
	}
	m.Text = msg.Text
	if m.Text == "" {
		m.Text = msg.Caption
	}
	if msg.Document != nil {
		m.HasFile = true
		m.Filename = msg.Document.FileName
	}
	if m.Text == "" && !m.HasFile {
		return
	}

	a.bus.Publish(bus.Event{
		Kind:      bus.KindTransportMessage,
		Timestamp: time.Now(),
		Payload:   transport.Event{Kind: kind, Message: m},
	})
}

// dispatchCommand runs the command in its own goroutine; a slow command
// (name refresh, clear all) must not stall the update loop.
func (a *Adapter) dispatchCommand(ctx context.Context, chatID int64, line string) {
	go func() {
		reply := a.commander.Execute(ctx, line)
		if reply == "" {
			return
		}
		if err := a.SendStatus(ctx, chatID, reply); err != nil {
			a.logger.Warn("command reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}()
}

// FetchHistory is not available through the Bot API; bots only see updates
// delivered to them. Backfill jobs against this transport fail with a
// clear message.
func (a *Adapter) FetchHistory(ctx context.Context, chatID, beforeID int64, limit int) ([]transport.Message, error) {
	return nil, transport.ErrHistoryUnsupported
}

// SendStatus delivers text to a chat, chunked under the Bot API message
// size limit.
func (a *Adapter) SendStatus(ctx context.Context, chatID int64, text string) error {
	if a.bot == nil {
		return errors.New("telegram bot not initialized")
	}

	const maxLen = 4000
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			// Split at the last newline under the limit when there is one.
			idx := strings.LastIndex(chunk[:maxLen], "\n")
			if idx > 0 {
				chunk = chunk[:idx]
			} else {
				chunk = chunk[:maxLen]
			}
		}
		text = strings.TrimPrefix(text[len(chunk):], "\n")

		if _, err := a.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// ChatName resolves the display title of a chat.
func (a *Adapter) ChatName(ctx context.Context, chatID int64) (string, error) {
	if a.bot == nil {
		return "", errors.New("telegram bot not initialized")
	}
	chat, err := a.bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return "", mapError(err)
	}
	if chat.Title != "" {
		return chat.Title, nil
	}
	name := strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	if name != "" {
		return name, nil
	}
	if chat.UserName != "" {
		return chat.UserName, nil
	}
	return strconv.FormatInt(chatID, 10), nil
}

// mapError translates Bot API errors into the transport error taxonomy.
// A 429 with retry_after becomes a FloodWaitError carrying the exact wait.
func mapError(err error) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		if tgErr.RetryAfter > 0 {
			return &transport.FloodWaitError{Wait: time.Duration(tgErr.RetryAfter) * time.Second}
		}
		msg := strings.ToLower(tgErr.Message)
		if tgErr.Code == 403 || strings.Contains(msg, "chat not found") {
			return fmt.Errorf("%w: %s", transport.ErrChatUnavailable, tgErr.Message)
		}
	}
	return err
}
