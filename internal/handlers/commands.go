package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"challenge-bot/internal/ledger"
	"challenge-bot/internal/lib/sl"
	"challenge-bot/internal/messages"
	"challenge-bot/internal/models"
	"challenge-bot/internal/storage"
)

var validate = validator.New()

func (h *Handler) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	h.ensureUser(ctx, msg.From)
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		h.HandleStart(ctx, msg)
		return
	case "menu":
		h.send(ctx, chatID, messages.TextMenu(), messages.MenuKeyboard())
		return
	}

	if msg.From == nil || !h.isAdmin(msg.From.ID) {
		h.send(ctx, chatID, messages.TextUseButtons(), nil)
		return
	}
	switch msg.Command() {
	case "stats":
		h.handleStats(ctx, chatID)
	case "create_promo":
		h.handleCreatePromo(ctx, chatID, msg.CommandArguments())
	case "materials":
		h.handleListMaterials(ctx, chatID)
	case "delete_material":
		h.handleDeleteMaterial(ctx, chatID, msg.CommandArguments())
	default:
		h.send(ctx, chatID, textAdminHelp(), nil)
	}
}

// ---------------- /start --------------------
func (h *Handler) HandleStart(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	log := h.Log.With(slog.String("op", "handlers.HandleStart"), slog.Int64("user_id", chatID))

	r, err := h.Funnel.Record(ctx, chatID)
	if err != nil {
		log.Error("load funnel failed", sl.Err(err))
		h.send(ctx, chatID, messages.TextSomethingWrong(), nil)
		return
	}

	switch {
	case r == nil:
		h.send(ctx, chatID, messages.TextWelcome(), messages.AgeKeyboard(h.Funnel.Config().Ages()))
	case r.Finished():
		u, err := h.DB.User(ctx, chatID)
		if err != nil {
			log.Error("load user failed", sl.Err(err))
		}
		now := h.Clock.Now()
		if u.HasActiveSubscription(now) {
			h.send(ctx, chatID, messages.TextWelcomeSubscribed(*u.SubscriptionUntil, h.isForever(u.Tariff)), messages.MenuKeyboard())
			return
		}
		h.send(ctx, chatID, messages.TextWelcomeFinished(), nil)
		if err := h.Notifier.SendOffer(ctx, chatID); err != nil {
			log.Error("send offer failed", sl.Err(err))
		}
	default:
		h.send(ctx, chatID, messages.TextWelcomeBack(r.CurrentDay), messages.DayStartKeyboard(r.CurrentDay))
	}
}

func (h *Handler) isForever(code string) bool {
	t, _, err := h.Ledger.Tariffs().Resolve(code)
	return err == nil && t.Forever()
}

// ---------------- admin --------------------
func (h *Handler) handleStats(ctx context.Context, chatID int64) {
	st, err := h.DB.Stats(ctx, h.Funnel.Config().Days)
	if err != nil {
		h.Log.Error("stats failed", sl.Err(err))
		h.send(ctx, chatID, messages.TextSomethingWrong(), nil)
		return
	}
	h.send(ctx, chatID, textStats(st), nil)
}

type promoInput struct {
	Code        string `validate:"required,alphanum,max=32"`
	Discount    int    `validate:"min=1,max=99"`
	Hours       int    `validate:"min=1,max=720"`
	Description string `validate:"max=256"`
}

// /create_promo CODE DISCOUNT HOURS [DESCRIPTION]
func (h *Handler) handleCreatePromo(ctx context.Context, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) < 3 {
		h.send(ctx, chatID, textCreatePromoUsage(), nil)
		return
	}
	discount, err1 := strconv.Atoi(fields[1])
	hours, err2 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil {
		h.send(ctx, chatID, textCreatePromoUsage(), nil)
		return
	}
	in := promoInput{
		Code:        ledger.NormalizePromo(fields[0]),
		Discount:    discount,
		Hours:       hours,
		Description: strings.Join(fields[3:], " "),
	}
	if err := validate.Struct(in); err != nil {
		h.send(ctx, chatID, textInvalidInput(err), nil)
		return
	}

	err := h.Ledger.SavePromo(ctx, models.PromoCode{
		Code:            in.Code,
		DiscountPercent: in.Discount,
		ValidHours:      in.Hours,
		Description:     in.Description,
	})
	if err != nil {
		h.Log.Error("save promo failed", slog.String("code", in.Code), sl.Err(err))
		h.send(ctx, chatID, messages.TextSomethingWrong(), nil)
		return
	}
	h.send(ctx, chatID, fmt.Sprintf("Промокод %s сохранён: -%d%%, %d ч.", in.Code, in.Discount, in.Hours), nil)
}

func (h *Handler) handleListMaterials(ctx context.Context, chatID int64) {
	items, err := h.DB.AllMaterials(ctx)
	if err != nil {
		h.Log.Error("list materials failed", sl.Err(err))
		h.send(ctx, chatID, messages.TextSomethingWrong(), nil)
		return
	}
	h.send(ctx, chatID, textMaterials(items), nil)
}

// /delete_material <cat> <day> <variant>
func (h *Handler) handleDeleteMaterial(ctx context.Context, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) != 3 {
		h.send(ctx, chatID, "Формат: /delete_material <возраст> <день> <вариант>", nil)
		return
	}
	cat := models.Category(fields[0])
	day, err1 := strconv.Atoi(fields[1])
	variant, err2 := strconv.Atoi(fields[2])
	if !cat.Valid() || err1 != nil || err2 != nil {
		h.send(ctx, chatID, "Формат: /delete_material <возраст> <день> <вариант>", nil)
		return
	}

	err := h.DB.DeleteMaterial(ctx, cat, day, variant)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.send(ctx, chatID, "Материал не найден.", nil)
	case err != nil:
		h.Log.Error("delete material failed", sl.Err(err))
		h.send(ctx, chatID, messages.TextSomethingWrong(), nil)
	default:
		h.send(ctx, chatID, "Материал удалён.", nil)
	}
}
