package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"challenge-bot/internal/ledger"
	"challenge-bot/internal/lib/sl"
	"challenge-bot/internal/messages"
)

// ProcessPayment reconciles a payment reported by the gateway webhook and
// delivers access when this call is the one that granted it.
func (h *Handler) ProcessPayment(ctx context.Context, gatewayID string) error {
	const op = "handlers.ProcessPayment"

	res, err := h.Ledger.Reconcile(ctx, gatewayID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.Status == ledger.ReconcileGranted {
		h.deliver(ctx, res)
	}
	return nil
}

// deliver runs once per granted payment: club invite, confirmation and the
// admin notice.
func (h *Handler) deliver(ctx context.Context, res *ledger.ReconcileResult) {
	userID := res.Payment.UserID
	log := h.Log.With(slog.String("op", "handlers.deliver"), slog.Int64("user_id", userID),
		slog.String("gateway_id", res.Payment.GatewayID))

	var link string
	if h.Settings.ClubChannelID != 0 {
		var expire *time.Time
		if !res.Tariff.Forever() {
			expire = &res.Until
		}
		var err error
		link, err = h.Transport.InviteLink(h.Settings.ClubChannelID, expire)
		if err != nil {
			log.Error("invite link failed", sl.Err(err))
		}
	}

	h.send(ctx, userID, messages.TextPaymentGranted(res.Tariff, res.Until, link), messages.MenuKeyboard())
	h.notifyAdmins(ctx, textAdminPayment(userID, res.Tariff.Name, res.Payment.Amount, res.Until, res.Tariff.Forever()))
	log.Info("access delivered", slog.String("tariff", res.Tariff.Code), slog.Time("until", res.Until))
}
