package ledger

import (
	"fmt"
	"strings"

	"challenge-bot/internal/models"
)

const (
	promoSep = "_promo_"
	tableSep = ":"
)

// Tariffs is the immutable price list. The funnel table holds the
// discounted prices offered to users who finished the challenge.
type Tariffs struct {
	standard []models.Tariff
	funnel   []models.Tariff
}

func DefaultStandard() []models.Tariff {
	return []models.Tariff{
		{Code: "1month", Name: "1 месяц", Days: 30, Price: 490, OldPrice: 990},
		{Code: "3months", Name: "3 месяца", Days: 90, Price: 1290, OldPrice: 2490},
		{Code: "forever", Name: "Навсегда", Days: 36500, Price: 2990, OldPrice: 5990},
	}
}

func DefaultFunnel() []models.Tariff {
	return []models.Tariff{
		{Code: "1month", Name: "1 месяц", Days: 30, Price: 290, OldPrice: 490},
		{Code: "forever", Name: "Навсегда", Days: 36500, Price: 990, OldPrice: 2990},
	}
}

func NewTariffs(standard, funnel []models.Tariff) (Tariffs, error) {
	for _, table := range [][]models.Tariff{standard, funnel} {
		seen := map[string]bool{}
		for _, t := range table {
			switch {
			case t.Code == "" || strings.Contains(t.Code, promoSep) || strings.Contains(t.Code, tableSep):
				return Tariffs{}, fmt.Errorf("ledger: bad tariff code %q", t.Code)
			case t.Days <= 0 || t.Price <= 0:
				return Tariffs{}, fmt.Errorf("ledger: tariff %q needs positive days and price", t.Code)
			case seen[t.Code]:
				return Tariffs{}, fmt.Errorf("ledger: duplicate tariff %q", t.Code)
			}
			seen[t.Code] = true
		}
	}
	return Tariffs{
		standard: append([]models.Tariff(nil), standard...),
		funnel:   append([]models.Tariff(nil), funnel...),
	}, nil
}

func (t Tariffs) Standard() []models.Tariff { return append([]models.Tariff(nil), t.standard...) }

func (t Tariffs) Funnel() []models.Tariff { return append([]models.Tariff(nil), t.funnel...) }

// PromoTariffCode tags a base tariff with the promo code it was bought with.
func PromoTariffCode(base, promo string) string {
	return base + promoSep + promo
}

// TableTariffCode is the code stored on a payment: the tariff qualified by
// the table it was sold from, since both tables may carry the same code.
func TableTariffCode(table, code string) string {
	return table + tableSep + code
}

// Resolve maps a stored tariff code to its terms: a promo-tagged code
// resolves to its base; a table-qualified code is looked up in that table
// only; plain codes are looked up in the funnel table, then the standard
// one. Unknown codes are a configuration error.
func (t Tariffs) Resolve(code string) (tariff models.Tariff, promo string, err error) {
	base := code
	if i := strings.Index(code, promoSep); i >= 0 {
		base, promo = code[:i], code[i+len(promoSep):]
	}
	if table, c, ok := strings.Cut(base, tableSep); ok {
		tr, err := t.Lookup(table, c)
		if err != nil {
			return models.Tariff{}, "", err
		}
		return tr, promo, nil
	}
	if tr, ok := find(t.funnel, base); ok {
		return tr, promo, nil
	}
	if tr, ok := find(t.standard, base); ok {
		return tr, promo, nil
	}
	return models.Tariff{}, "", fmt.Errorf("%w: %q", ErrUnknownTariff, code)
}

// Lookup resolves a code within one table, "funnel" or "standard".
func (t Tariffs) Lookup(table, code string) (models.Tariff, error) {
	var list []models.Tariff
	switch table {
	case TableFunnel:
		list = t.funnel
	case TableStandard:
		list = t.standard
	}
	if tr, ok := find(list, code); ok {
		return tr, nil
	}
	return models.Tariff{}, fmt.Errorf("%w: %s/%s", ErrUnknownTariff, table, code)
}

const (
	TableFunnel   = models.TariffTableFunnel
	TableStandard = models.TariffTableStandard
)

func find(list []models.Tariff, code string) (models.Tariff, bool) {
	for _, t := range list {
		if t.Code == code {
			return t, true
		}
	}
	return models.Tariff{}, false
}
