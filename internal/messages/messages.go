package messages

import (
	"context"
	"fmt"

	"challenge-bot/internal/models"
)

// PromoTerms describe the code sent with the final offer.
type PromoTerms struct {
	Code     string
	Discount int
	Hours    int
}

// Notifier renders scheduled reminders and offers.
type Notifier struct {
	t       *Transport
	tariffs []models.Tariff // funnel table
	promo   PromoTerms
}

func NewNotifier(t *Transport, funnelTariffs []models.Tariff, promo PromoTerms) *Notifier {
	return &Notifier{t: t, tariffs: funnelTariffs, promo: promo}
}

// --- morning / evening / offers ----------
func (n *Notifier) Notify(ctx context.Context, kind models.ReminderKind, day int, c models.Candidate) error {
	chatID := c.Funnel.UserID

	switch kind {
	case models.ReminderMorning:
		return n.t.Send(ctx, chatID, TextMorning(day), DayStartKeyboard(day))
	case models.ReminderEvening:
		return n.t.Send(ctx, chatID, TextEvening(day), DayStartKeyboard(day))
	case models.ReminderOffer:
		return n.SendOffer(ctx, chatID)
	case models.ReminderOffer12h:
		return n.t.Send(ctx, chatID, TextOffer12h()+"\n\n"+TextTariffs(n.tariffs), TariffKeyboard(models.TariffTableFunnel, n.tariffs))
	case models.ReminderOffer24h:
		return n.t.Send(ctx, chatID, TextOffer24h(n.promo.Code, n.promo.Discount, n.promo.Hours), PromoKeyboard(n.promo.Code))
	}
	return fmt.Errorf("messages.Notify: unknown reminder kind %q", kind)
}

// SendOffer is the sales offer shown right after the last day.
func (n *Notifier) SendOffer(ctx context.Context, chatID int64) error {
	return n.t.Send(ctx, chatID, TextOffer()+"\n\n"+TextTariffs(n.tariffs), TariffKeyboard(models.TariffTableFunnel, n.tariffs))
}
