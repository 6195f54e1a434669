package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"challenge-bot/internal/models"
	"challenge-bot/internal/yookassa"
)

type ReconcileStatus int

const (
	// ReconcilePending: the user has not paid yet, ask again later.
	ReconcilePending ReconcileStatus = iota
	ReconcileGranted
	ReconcileAlreadyGranted
	// ReconcileFailed: canceled or another terminal gateway state.
	ReconcileFailed
)

func (s ReconcileStatus) String() string {
	switch s {
	case ReconcilePending:
		return "pending"
	case ReconcileGranted:
		return "granted"
	case ReconcileAlreadyGranted:
		return "already_granted"
	case ReconcileFailed:
		return "failed"
	}
	return "unknown"
}

type ReconcileResult struct {
	Status        ReconcileStatus
	GatewayStatus string
	Payment       models.Payment
	Tariff        models.Tariff
	Until         time.Time // set when Granted
}

// Reconcile polls the gateway for a payment and grants the entitlement at
// most once. Any number of concurrent or repeated calls for the same id
// produce exactly one Granted result.
func (l *Ledger) Reconcile(ctx context.Context, gatewayID string) (*ReconcileResult, error) {
	const op = "ledger.Reconcile"
	log := l.log.With(slog.String("op", op), slog.String("gateway_id", gatewayID))

	p, err := l.store.PaymentByGatewayID(ctx, gatewayID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrPaymentNotFound, gatewayID)
	}

	tariff, _, err := l.tariffs.Resolve(p.TariffCode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res := &ReconcileResult{Payment: *p, Tariff: tariff}

	if p.Status == models.PaymentCompleted {
		res.Status = ReconcileAlreadyGranted
		res.GatewayStatus = yookassa.StatusSucceeded
		return res, nil
	}

	gp, err := l.gateway.GetPayment(ctx, gatewayID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrGatewayUnavailable, err)
	}
	res.GatewayStatus = gp.Status

	switch gp.Status {
	case yookassa.StatusPending, yookassa.StatusWaitingForCapture:
		res.Status = ReconcilePending
		l.event("pending")
		return res, nil
	case yookassa.StatusSucceeded:
	default:
		res.Status = ReconcileFailed
		log.Info("payment not successful", slog.String("status", gp.Status))
		return res, nil
	}

	until, granted, err := l.store.GrantEntitlement(ctx, models.Grant{
		PaymentID:  p.ID,
		UserID:     p.UserID,
		TariffCode: tariff.Code,
		Days:       tariff.Days,
		At:         l.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !granted {
		res.Status = ReconcileAlreadyGranted
		l.event("already_granted")
		return res, nil
	}

	res.Status = ReconcileGranted
	res.Until = until
	res.Payment.Status = models.PaymentCompleted
	l.event("granted")
	log.Info("entitlement granted",
		slog.Int64("user_id", p.UserID),
		slog.String("tariff", tariff.Code),
		slog.Time("until", until))
	return res, nil
}
