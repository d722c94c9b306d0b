// Package registry tracks which conversations are monitored, their privacy
// mode, and display-name to id resolution backed by a cached name table.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/tgsd/internal/store"
	"github.com/matheus3301/tgsd/internal/transport"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a name or id resolves to no known chat.
var ErrNotFound = errors.New("chat not found")

// Registry owns ChatRegistration state. The in-memory cache mirrors the
// chats table and is refreshed at process start and on explicit refresh.
type Registry struct {
	db     *store.DB
	client transport.Client
	logger *zap.Logger

	monitorAll bool
	excluded   map[int64]bool

	mu    sync.RWMutex
	cache map[int64]store.Chat

	cron *cron.Cron
}

// New creates a registry. excluded only applies when monitorAll is set.
func New(db *store.DB, client transport.Client, monitorAll bool, excluded []int64, logger *zap.Logger) *Registry {
	ex := make(map[int64]bool, len(excluded))
	for _, id := range excluded {
		ex[id] = true
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		db:         db,
		client:     client,
		logger:     logger,
		monitorAll: monitorAll,
		excluded:   ex,
		cache:      make(map[int64]store.Chat),
	}
}

// LoadCache populates the name cache from the chats table. Called at
// process start so every previously indexed chat resumes monitoring.
func (r *Registry) LoadCache() error {
	chats, err := r.db.ListChats()
	if err != nil {
		return fmt.Errorf("load chats: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[int64]store.Chat, len(chats))
	for _, c := range chats {
		r.cache[c.ChatID] = c
	}
	return nil
}

// Resolve maps a display name or numeric id to a chat id. Name matching is
// case-insensitive against cached names. Numeric input is accepted as-is.
func (r *Registry) Resolve(nameOrID string) (int64, error) {
	nameOrID = strings.TrimSpace(nameOrID)
	if nameOrID == "" {
		return 0, ErrNotFound
	}
	if id, err := strconv.ParseInt(nameOrID, 10, 64); err == nil {
		return id, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.cache {
		if strings.EqualFold(c.Name, nameOrID) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrNotFound, nameOrID)
}

// Register tracks a chat, resolving its display name from the transport on
// a best-effort basis.
func (r *Registry) Register(ctx context.Context, chatID int64, whitelisted bool) error {
	name := ""
	if r.client != nil {
		n, err := r.client.ChatName(ctx, chatID)
		if err != nil {
			if errors.Is(err, transport.ErrChatUnavailable) {
				return fmt.Errorf("register chat %d: %w", chatID, err)
			}
			r.logger.Warn("chat name lookup failed", zap.Int64("chat_id", chatID), zap.Error(err))
		} else {
			name = n
		}
	}
	c := store.Chat{ChatID: chatID, Name: name, Monitored: true, Whitelisted: whitelisted}
	if err := r.db.UpsertChat(&c); err != nil {
		return fmt.Errorf("register chat %d: %w", chatID, err)
	}
	r.mu.Lock()
	r.cache[chatID] = c
	r.mu.Unlock()
	return nil
}

// Deregister stops monitoring a chat. The registration row is kept with
// monitored cleared; nothing is silently deleted.
func (r *Registry) Deregister(chatID int64) error {
	r.mu.Lock()
	c, ok := r.cache[chatID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: chat %d", ErrNotFound, chatID)
	}
	c.Monitored = false
	if err := r.db.UpsertChat(&c); err != nil {
		return err
	}
	r.mu.Lock()
	r.cache[chatID] = c
	r.mu.Unlock()
	return nil
}

// List returns all registrations.
func (r *Registry) List() []store.Chat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chats := make([]store.Chat, 0, len(r.cache))
	for _, c := range r.cache {
		chats = append(chats, c)
	}
	return chats
}

// IsMonitored reports whether live events for this chat should be indexed.
// Explicit registrations win; otherwise the monitor-all policy applies
// minus the configured exclusions.
func (r *Registry) IsMonitored(chatID int64) bool {
	r.mu.RLock()
	c, ok := r.cache[chatID]
	r.mu.RUnlock()
	if ok {
		return c.Monitored
	}
	return r.monitorAll && !r.excluded[chatID]
}

// IsWhitelisted reports the privacy mode of a chat.
func (r *Registry) IsWhitelisted(chatID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache[chatID].Whitelisted
}

// FindChats returns registrations whose cached name contains the given
// substring, case-insensitively.
func (r *Registry) FindChats(substr string) []store.Chat {
	substr = strings.ToLower(substr)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []store.Chat
	for _, c := range r.cache {
		if substr != "" && strings.Contains(strings.ToLower(c.Name), substr) {
			out = append(out, c)
		}
	}
	return out
}

// Name returns the cached display name for a chat, or the id rendered as
// text when no name is known.
func (r *Registry) Name(chatID int64) string {
	r.mu.RLock()
	c, ok := r.cache[chatID]
	r.mu.RUnlock()
	if ok && c.Name != "" {
		return c.Name
	}
	return strconv.FormatInt(chatID, 10)
}

// RefreshNames re-resolves every registered chat's display name from the
// transport. Chats that fail resolution are logged and skipped; a flood
// wait pauses the sweep for exactly the required duration.
func (r *Registry) RefreshNames(ctx context.Context) (updated int, err error) {
	for _, c := range r.List() {
		for {
			name, err := r.client.ChatName(ctx, c.ChatID)
			if fw, ok := transport.AsFloodWait(err); ok {
				r.logger.Info("flood wait during name refresh", zap.Duration("wait", fw.Wait))
				select {
				case <-time.After(fw.Wait):
					continue
				case <-ctx.Done():
					return updated, ctx.Err()
				}
			}
			if err != nil {
				r.logger.Warn("name refresh failed", zap.Int64("chat_id", c.ChatID), zap.Error(err))
				break
			}
			if name != "" && name != c.Name {
				if err := r.db.RenameChat(c.ChatID, name); err != nil {
					return updated, err
				}
				r.mu.Lock()
				cc := r.cache[c.ChatID]
				cc.Name = name
				r.cache[c.ChatID] = cc
				r.mu.Unlock()
				updated++
			}
			break
		}
	}
	return updated, nil
}

// StartScheduledRefresh runs RefreshNames on the given cron schedule.
// Empty spec disables scheduling.
func (r *Registry) StartScheduledRefresh(spec string) error {
	if spec == "" {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if n, err := r.RefreshNames(ctx); err != nil {
			r.logger.Warn("scheduled name refresh failed", zap.Error(err))
		} else {
			r.logger.Info("scheduled name refresh done", zap.Int("updated", n))
		}
	})
	if err != nil {
		return fmt.Errorf("refresh schedule %q: %w", spec, err)
	}
	c.Start()
	r.cron = c
	return nil
}

// StopScheduledRefresh stops the cron scheduler if one is running.
func (r *Registry) StopScheduledRefresh() {
	if r.cron != nil {
		r.cron.Stop()
	}
}
