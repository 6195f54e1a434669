package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"

	"challenge-bot/internal/cache"
	"challenge-bot/internal/funnel"
	"challenge-bot/internal/ledger"
	"challenge-bot/internal/lib/sl"
	"challenge-bot/internal/messages"
	"challenge-bot/internal/storage"
)

type Settings struct {
	AdminIDs      []int64
	ClubChannelID int64 // 0 -> no invite links
}

type Handler struct {
	Log       *slog.Logger
	Transport *messages.Transport
	Notifier  *messages.Notifier
	Funnel    *funnel.Service
	Ledger    *ledger.Ledger
	DB        *storage.DB
	Debounce  cache.Debouncer // nil -> every press goes through
	Clock     clockwork.Clock
	Settings  Settings
}

// Handle routes one update. Errors are logged here; the update loop never
// stops on a single bad update.
func (h *Handler) Handle(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			h.Log.Error("panic in update handler", slog.Any("panic", r), slog.Int("update_id", upd.UpdateID))
		}
	}()

	switch {
	case upd.CallbackQuery != nil:
		h.HandleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.IsCommand():
		h.HandleCommand(ctx, upd.Message)
	case upd.Message != nil:
		h.HandleText(ctx, upd.Message)
	}
}

func (h *Handler) isAdmin(userID int64) bool {
	return slices.Contains(h.Settings.AdminIDs, userID)
}

func (h *Handler) ensureUser(ctx context.Context, u *tgbotapi.User) {
	if u == nil {
		return
	}
	if err := h.DB.EnsureUser(ctx, u.ID, u.UserName, h.Clock.Now()); err != nil {
		h.Log.Error("ensure user failed", slog.Int64("user_id", u.ID), sl.Err(err))
	}
}

// send logs instead of returning: a failed chat message is not something
// the caller can fix.
func (h *Handler) send(ctx context.Context, chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	err := h.Transport.Send(ctx, chatID, text, kb)
	switch {
	case errors.Is(err, messages.ErrBlocked):
		if err := h.DB.MarkBlocked(ctx, chatID); err != nil {
			h.Log.Error("mark blocked failed", slog.Int64("user_id", chatID), sl.Err(err))
		}
	case err != nil:
		h.Log.Error("send failed", slog.Int64("chat_id", chatID), sl.Err(err))
	}
}

func (h *Handler) notifyAdmins(ctx context.Context, text string) {
	for _, id := range h.Settings.AdminIDs {
		if err := h.Transport.Send(ctx, id, text, nil); err != nil {
			h.Log.Warn("admin notification failed", slog.Int64("admin_id", id), sl.Err(err))
		}
	}
}

func (h *Handler) debounced(ctx context.Context, userID int64, data string) bool {
	if h.Debounce == nil {
		return false
	}
	ok, err := h.Debounce.Allow(ctx, fmt.Sprintf("%d:%s", userID, data))
	if err != nil {
		h.Log.Warn("debounce unavailable", sl.Err(err))
		return false
	}
	return !ok
}
