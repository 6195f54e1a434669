package messages

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"challenge-bot/internal/models"
)

func keyboard(rows ...[]tgbotapi.InlineKeyboardButton) *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

func AgeKeyboard(ages []int) *tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(ages))
	for _, a := range ages {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(strconv.Itoa(a), AgeData(a)))
	}
	return keyboard(row)
}

func DayStartKeyboard(day int) *tgbotapi.InlineKeyboardMarkup {
	return keyboard(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf(btnStartDay, day), DayData(day, StepStart)),
	))
}

func DayReportKeyboard(day int) *tgbotapi.InlineKeyboardMarkup {
	return keyboard(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(btnDone, DayData(day, StepDone)),
		tgbotapi.NewInlineKeyboardButtonData(btnFailed, DayData(day, StepFailed)),
	))
}

func TimeKeyboard(day int) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, b := range models.TimeBuckets() {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(BucketLabel(b), TimeData(day, b)),
		))
	}
	return keyboard(rows...)
}

func DifficultyKeyboard(b models.TimeBucket) *tgbotapi.InlineKeyboardMarkup {
	return keyboard(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(btnEasy, DiffData(b, models.DifficultyEasy)),
		tgbotapi.NewInlineKeyboardButtonData(btnNormal, DiffData(b, models.DifficultyNormal)),
		tgbotapi.NewInlineKeyboardButtonData(btnHard, DiffData(b, models.DifficultyHard)),
	))
}

func CategoryOfferKeyboard(from, to models.Category) *tgbotapi.InlineKeyboardMarkup {
	return keyboard(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(btnAccept, CategoryData(from, to)),
		tgbotapi.NewInlineKeyboardButtonData(btnKeep, KeepCategoryData()),
	))
}

// FailureKeyboard offers retry, an easier or harder bracket when one
// exists, and the menu.
func FailureKeyboard(day int, current, easier, harder models.Category) *tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(btnRetry, DayData(day, StepStart))),
	}
	if easier != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf(btnEasier, easier), CategoryData(current, easier))))
	}
	if harder != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf(btnHarder, harder), CategoryData(current, harder))))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(btnMenu, string(ActMenu))))
	return keyboard(rows...)
}

func MenuKeyboard() *tgbotapi.InlineKeyboardMarkup {
	return keyboard(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(btnProgress, string(ActProgress))),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(btnTariffs, string(ActTariffs))),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(btnFAQ, string(ActFAQ))),
	)
}

func TariffKeyboard(table string, tariffs []models.Tariff) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, t := range tariffs {
		label := fmt.Sprintf("%s: %d ₽", t.Name, t.Price)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, BuyData(table, t.Code))))
	}
	return keyboard(rows...)
}

func PaymentKeyboard(url, gatewayID string) *tgbotapi.InlineKeyboardMarkup {
	return keyboard(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(btnPay, url)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(btnCheck, CheckData(gatewayID))),
	)
}

func RetryPaymentKeyboard(retryData string) *tgbotapi.InlineKeyboardMarkup {
	return keyboard(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(btnTryAgain, retryData)))
}

func PromoKeyboard(code string) *tgbotapi.InlineKeyboardMarkup {
	return keyboard(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(btnPromoPay, PromoPayData(code))))
}
