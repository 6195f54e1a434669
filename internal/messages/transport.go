package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"challenge-bot/internal/models"
)

// ErrBlocked means the user blocked the bot; further sends are pointless.
var ErrBlocked = errors.New("bot blocked by user")

// Bot is the part of *tgbotapi.BotAPI the transport uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Transport struct {
	bot Bot
	log *slog.Logger
	// paces multi-message sends such as day materials; nil -> no pacing
	limiter *rate.Limiter
}

func NewTransport(bot Bot, log *slog.Logger, limiter *rate.Limiter) *Transport {
	return &Transport{bot: bot, log: log, limiter: limiter}
}

// classify maps a Telegram 403 to ErrBlocked.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.Code == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrBlocked, tgErr.Message)
	}
	return err
}

func (t *Transport) Send(ctx context.Context, chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	if _, err := t.bot.Send(msg); err != nil {
		return classify(err)
	}
	return nil
}

// Answer acknowledges a callback query. Telegram shows a spinner on the
// button until this is done.
func (t *Transport) Answer(callbackID, text string, alert bool) {
	cfg := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cfg = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	if _, err := t.bot.Request(cfg); err != nil {
		t.log.Debug("answer callback failed", slog.String("error", err.Error()))
	}
}

// RemoveKeyboard strips inline buttons from an answered message.
func (t *Transport) RemoveKeyboard(chatID int64, messageID int) {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	if _, err := t.bot.Request(edit); err != nil {
		t.log.Debug("remove keyboard failed", slog.String("error", err.Error()))
	}
}

// SendMaterials sends catalog files in order, paced by the limiter.
func (t *Transport) SendMaterials(ctx context.Context, chatID int64, items []models.Material) error {
	for _, m := range items {
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		caption := m.Title
		if m.Description != "" {
			caption += "\n\n" + m.Description
		}
		var c tgbotapi.Chattable
		switch m.FileType {
		case models.FileDocument:
			doc := tgbotapi.NewDocument(chatID, tgbotapi.FileID(m.FileID))
			doc.Caption = caption
			c = doc
		default:
			photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(m.FileID))
			photo.Caption = caption
			c = photo
		}
		if _, err := t.bot.Send(c); err != nil {
			return classify(err)
		}
	}
	return nil
}

// InviteLink creates a single-use link to the channel. A nil expiry makes
// the link permanent.
func (t *Transport) InviteLink(channelID int64, expire *time.Time) (string, error) {
	const op = "messages.InviteLink"

	cfg := tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig:  tgbotapi.ChatConfig{ChatID: channelID},
		MemberLimit: 1,
	}
	if expire != nil {
		cfg.ExpireDate = int(expire.Unix())
	}
	resp, err := t.bot.Request(cfg)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	var link tgbotapi.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return link.InviteLink, nil
}
