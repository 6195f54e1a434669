package handlers

import (
	"context"
	"errors"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"challenge-bot/internal/funnel"
	"challenge-bot/internal/ledger"
	"challenge-bot/internal/lib/sl"
	"challenge-bot/internal/messages"
	"challenge-bot/internal/models"
)

// answer is the toast shown on the pressed button.
type answer struct {
	text  string
	alert bool
}

var (
	noAnswer    = answer{}
	staleAnswer = answer{text: messages.TextStale()}
	oopsAnswer  = answer{text: messages.TextSomethingWrong(), alert: true}
)

func (h *Handler) HandleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.From == nil {
		h.Transport.Answer(cq.ID, "", false)
		return
	}
	chatID := cq.Message.Chat.ID
	h.ensureUser(ctx, cq.From)

	if h.debounced(ctx, cq.From.ID, cq.Data) {
		h.Transport.Answer(cq.ID, "", false)
		return
	}

	cb, err := messages.ParseCallback(cq.Data)
	if err != nil {
		h.Log.Debug("bad callback", slog.String("data", cq.Data))
		h.Transport.Answer(cq.ID, staleAnswer.text, false)
		return
	}

	// gateway calls may take longer than Telegram waits for an answer
	if cb.Action == messages.ActBuy || cb.Action == messages.ActPromoPay {
		h.Transport.Answer(cq.ID, "", false)
		h.dispatch(ctx, chatID, cq.From.ID, cb)
		return
	}
	a := h.dispatch(ctx, chatID, cq.From.ID, cb)
	h.Transport.Answer(cq.ID, a.text, a.alert)
}

func (h *Handler) dispatch(ctx context.Context, chatID, userID int64, cb messages.Callback) answer {
	switch cb.Action {
	case messages.ActAge:
		return h.onAge(ctx, chatID, userID, cb.Age)
	case messages.ActDay:
		return h.onDay(ctx, chatID, userID, cb.Day, cb.Step)
	case messages.ActTime:
		if cb.Day == 1 {
			if _, err := h.Funnel.StartDay(ctx, userID, 1); err != nil {
				return h.funnelError(userID, err)
			}
			h.send(ctx, chatID, messages.TextAskDifficulty(), messages.DifficultyKeyboard(cb.Bucket))
			return noAnswer
		}
		return h.report(ctx, chatID, userID, cb.Day, cb.Bucket, "")
	case messages.ActDiff:
		return h.report(ctx, chatID, userID, 1, cb.Bucket, cb.Difficulty)
	case messages.ActCategory:
		return h.onCategory(ctx, chatID, userID, cb)
	case messages.ActMenu:
		h.send(ctx, chatID, messages.TextMenu(), messages.MenuKeyboard())
	case messages.ActProgress:
		r, err := h.Funnel.Record(ctx, userID)
		if err != nil {
			return h.funnelError(userID, err)
		}
		h.send(ctx, chatID, messages.TextProgress(r, h.Funnel.Config().Days), messages.MenuKeyboard())
	case messages.ActFAQ:
		h.send(ctx, chatID, messages.TextFAQ(), messages.MenuKeyboard())
	case messages.ActTariffs:
		return h.onTariffs(ctx, chatID, userID)
	case messages.ActBuy:
		return h.onBuy(ctx, chatID, userID, cb.Table, cb.Code)
	case messages.ActPromoPay:
		return h.onPromoPay(ctx, chatID, userID, cb.Code)
	case messages.ActCheck:
		return h.onCheck(ctx, chatID, userID, cb.GatewayID)
	}
	return noAnswer
}

// funnelError turns a state machine error into the button toast.
func (h *Handler) funnelError(userID int64, err error) answer {
	switch {
	case errors.Is(err, funnel.ErrStaleInteraction),
		errors.Is(err, funnel.ErrNotStarted),
		errors.Is(err, funnel.ErrInvalidDay),
		errors.Is(err, funnel.ErrInvalidReport),
		errors.Is(err, funnel.ErrInvalidAge),
		errors.Is(err, funnel.ErrInvalidCategoryChange):
		return staleAnswer
	case errors.Is(err, funnel.ErrAlreadyStarted):
		return answer{text: messages.TextAlreadyStarted(), alert: true}
	}
	h.Log.Error("funnel operation failed", slog.Int64("user_id", userID), sl.Err(err))
	return oopsAnswer
}

func (h *Handler) onAge(ctx context.Context, chatID, userID int64, age int) answer {
	r, err := h.Funnel.SelectAge(ctx, userID, age)
	if err != nil {
		return h.funnelError(userID, err)
	}
	h.send(ctx, chatID, messages.TextAgeSelected(r.Category), messages.DayStartKeyboard(r.CurrentDay))
	return noAnswer
}

func (h *Handler) onDay(ctx context.Context, chatID, userID int64, day int, step string) answer {
	switch step {
	case messages.StepStart:
		r, err := h.Funnel.StartDay(ctx, userID, day)
		if err != nil {
			return h.funnelError(userID, err)
		}
		items, err := h.DB.Materials(ctx, r.Category, day)
		if err != nil {
			h.Log.Error("load materials failed", slog.Int64("user_id", userID), sl.Err(err))
			return oopsAnswer
		}
		if len(items) == 0 {
			h.send(ctx, chatID, messages.TextNoMaterials(), nil)
		} else if err := h.Transport.SendMaterials(ctx, chatID, items); err != nil {
			h.Log.Error("send materials failed", slog.Int64("user_id", userID), sl.Err(err))
		}
		h.send(ctx, chatID, messages.TextDayIntro(day), messages.DayReportKeyboard(day))

	case messages.StepDone:
		if _, err := h.Funnel.StartDay(ctx, userID, day); err != nil {
			return h.funnelError(userID, err)
		}
		h.send(ctx, chatID, messages.TextAskTime(day), messages.TimeKeyboard(day))

	case messages.StepFailed:
		opts, err := h.Funnel.DayFailed(ctx, userID, day)
		if err != nil {
			return h.funnelError(userID, err)
		}
		h.send(ctx, chatID, messages.TextDayFailed(day),
			messages.FailureKeyboard(day, opts.Category, opts.Easier, opts.Harder))
	}
	return noAnswer
}

func (h *Handler) report(ctx context.Context, chatID, userID int64, day int, bucket models.TimeBucket, diff models.Difficulty) answer {
	out, err := h.Funnel.ReportDayOutcome(ctx, userID, day, bucket, diff)
	if err != nil {
		return h.funnelError(userID, err)
	}
	if !out.Applied {
		return answer{text: messages.TextAlreadyRecorded()}
	}
	if out.Finished {
		h.completeChallenge(ctx, chatID, out.Record)
		return noAnswer
	}

	h.send(ctx, chatID, messages.TextDayDone(day), nil)
	if o := out.Offer; o != nil {
		next, ok := o.From.Harder()
		h.send(ctx, chatID, messages.TextCategoryOffer(o.To, ok && next == o.To),
			messages.CategoryOfferKeyboard(o.From, o.To))
	}
	return noAnswer
}

// completeChallenge shows the results and the sales offer, then sets the
// (last day, offer) flag the 12h follow-up depends on.
func (h *Handler) completeChallenge(ctx context.Context, chatID int64, r *models.FunnelRecord) {
	log := h.Log.With(slog.String("op", "handlers.completeChallenge"), slog.Int64("user_id", r.UserID))

	s := funnel.Summarize(r)
	h.send(ctx, chatID, messages.TextResults(s.Minutes, s.Delta), nil)

	u, err := h.DB.User(ctx, r.UserID)
	if err != nil {
		log.Error("load user failed", sl.Err(err))
	}
	if u.HasActiveSubscription(h.Clock.Now()) {
		h.send(ctx, chatID, messages.TextMenu(), messages.MenuKeyboard())
		return
	}

	if err := h.Notifier.SendOffer(ctx, chatID); err != nil {
		log.Error("send offer failed", sl.Err(err))
		return
	}
	days := h.Funnel.Config().Days
	if _, err := h.DB.MarkReminderSent(ctx, r.UserID, days, models.ReminderOffer, h.Clock.Now()); err != nil {
		log.Error("mark offer sent failed", sl.Err(err))
	}
}

func (h *Handler) onCategory(ctx context.Context, chatID, userID int64, cb messages.Callback) answer {
	if cb.Keep {
		h.send(ctx, chatID, messages.TextCategoryKept(), nil)
		return noAnswer
	}
	r, applied, err := h.Funnel.ConfirmCategory(ctx, userID, cb.From, cb.To)
	if err != nil {
		return h.funnelError(userID, err)
	}
	if !applied {
		return answer{text: messages.TextAlreadyRecorded()}
	}
	var kb *tgbotapi.InlineKeyboardMarkup
	if r.IsActive {
		kb = messages.DayStartKeyboard(r.CurrentDay)
	}
	h.send(ctx, chatID, messages.TextCategoryChanged(r.Category), kb)
	return noAnswer
}

// onTariffs shows the discounted table to users who finished the challenge.
func (h *Handler) onTariffs(ctx context.Context, chatID, userID int64) answer {
	r, err := h.Funnel.Record(ctx, userID)
	if err != nil {
		return h.funnelError(userID, err)
	}
	table, list := models.TariffTableStandard, h.Ledger.Tariffs().Standard()
	if r != nil && r.Finished() {
		table, list = models.TariffTableFunnel, h.Ledger.Tariffs().Funnel()
	}
	h.send(ctx, chatID, messages.TextTariffs(list), messages.TariffKeyboard(table, list))
	return noAnswer
}

func (h *Handler) onBuy(ctx context.Context, chatID, userID int64, table, code string) answer {
	if table == models.TariffTableFunnel {
		r, err := h.Funnel.Record(ctx, userID)
		if err != nil {
			return h.funnelError(userID, err)
		}
		if r == nil || !r.Finished() {
			h.send(ctx, chatID, messages.TextStale(), nil)
			return noAnswer
		}
	}

	intent, err := h.Ledger.CreatePaymentIntent(ctx, userID, table, code)
	if errors.Is(err, ledger.ErrUnknownTariff) {
		h.send(ctx, chatID, messages.TextStale(), nil)
		return noAnswer
	}
	if err != nil {
		h.Log.Error("create payment failed", slog.Int64("user_id", userID), slog.String("tariff", code), sl.Err(err))
		h.send(ctx, chatID, messages.TextGatewayDown(), messages.RetryPaymentKeyboard(messages.BuyData(table, code)))
		return noAnswer
	}
	h.sendIntent(ctx, chatID, intent)
	return noAnswer
}

func (h *Handler) onPromoPay(ctx context.Context, chatID, userID int64, code string) answer {
	intent, err := h.Ledger.CreatePromoPayment(ctx, userID, code)
	switch {
	case errors.Is(err, ledger.ErrPromoNotFound),
		errors.Is(err, ledger.ErrPromoExpired),
		errors.Is(err, ledger.ErrPromoAlreadyUsed):
		h.send(ctx, chatID, messages.TextPromoUnavailable(), nil)
		return noAnswer
	case err != nil:
		h.Log.Error("create promo payment failed", slog.Int64("user_id", userID), slog.String("code", code), sl.Err(err))
		h.send(ctx, chatID, messages.TextGatewayDown(), messages.RetryPaymentKeyboard(messages.PromoPayData(code)))
		return noAnswer
	}
	h.sendIntent(ctx, chatID, intent)
	return noAnswer
}

func (h *Handler) sendIntent(ctx context.Context, chatID int64, intent *ledger.Intent) {
	h.send(ctx, chatID, messages.TextPaymentCreated(intent.Tariff, intent.Payment.Amount),
		messages.PaymentKeyboard(intent.ConfirmationURL, intent.Payment.GatewayID))
}

func (h *Handler) onCheck(ctx context.Context, chatID, userID int64, gatewayID string) answer {
	p, err := h.DB.PaymentByGatewayID(ctx, gatewayID)
	if err != nil {
		h.Log.Error("load payment failed", slog.String("gateway_id", gatewayID), sl.Err(err))
		return oopsAnswer
	}
	if p == nil || p.UserID != userID {
		return staleAnswer
	}

	res, err := h.Ledger.Reconcile(ctx, gatewayID)
	switch {
	case errors.Is(err, ledger.ErrGatewayUnavailable):
		return answer{text: messages.TextGatewayDown(), alert: true}
	case err != nil:
		h.Log.Error("reconcile failed", slog.String("gateway_id", gatewayID), sl.Err(err))
		return oopsAnswer
	}

	switch res.Status {
	case ledger.ReconcilePending:
		return answer{text: messages.TextPaymentPending(), alert: true}
	case ledger.ReconcileAlreadyGranted:
		return answer{text: messages.TextAlreadyPaid()}
	case ledger.ReconcileFailed:
		h.send(ctx, chatID, messages.TextPaymentFailed(res.GatewayStatus), messages.MenuKeyboard())
	case ledger.ReconcileGranted:
		h.deliver(ctx, res)
	}
	return noAnswer
}
