package messages

import (
	"fmt"
	"strings"
	"time"

	"challenge-bot/internal/models"
)

const (
	btnStartDay   = "▶️ Начать день %d"
	btnDone       = "✅ Выполнили"
	btnFailed     = "😔 Не получилось"
	btnEasy       = "Легко"
	btnNormal     = "Нормально"
	btnHard       = "Сложно"
	btnAccept     = "Да, сменить"
	btnKeep       = "Оставить как есть"
	btnRetry      = "🔁 Попробовать ещё раз"
	btnEasier     = "⬇️ Задания полегче (%s)"
	btnHarder     = "⬆️ Задания посложнее (%s)"
	btnMenu       = "🏠 Меню"
	btnProgress   = "📊 Мой прогресс"
	btnTariffs    = "💳 Тарифы"
	btnFAQ        = "❓ Вопросы"
	btnPay        = "💳 Оплатить"
	btnCheck      = "🔄 Проверить оплату"
	btnPromoPay   = "🎁 Оплатить со скидкой"
	btnTryAgain   = "🔁 Попробовать снова"
	dateLayout    = "02.01.2006"
	foreverMarker = "навсегда"
)

var bucketLabels = map[models.TimeBucket]string{
	models.BucketLess5:  "Меньше 5 минут",
	models.Bucket5to10:  "5–10 минут",
	models.Bucket10to15: "10–15 минут",
	models.BucketMore15: "Больше 15 минут",
}

func BucketLabel(b models.TimeBucket) string { return bucketLabels[b] }

func CategoryLabel(c models.Category) string { return string(c) + " лет" }

func TextWelcome() string {
	return "Привет! 👋\n\nЭто 3-дневный челлендж «Суперконцентрация» для детей 3–7 лет. " +
		"Каждый день короткое игровое задание на внимание, а в конце наглядный результат.\n\n" +
		"Сколько лет вашему ребёнку?"
}

func TextAgeSelected(c models.Category) string {
	return fmt.Sprintf("Отлично! Подобрали задания для возраста %s.\n\nГотовы начать первый день?", CategoryLabel(c))
}

func TextDayIntro(day int) string {
	return fmt.Sprintf("📅 День %d\n\nВыполните задания вместе с ребёнком и засеките, сколько минут он удерживал внимание. "+
		"Когда закончите, нажмите кнопку ниже.", day)
}

func TextNoMaterials() string {
	return "Материалы для этого дня скоро появятся. Мы напомним о них."
}

func TextAskTime(day int) string {
	return fmt.Sprintf("Сколько времени ребёнок занимался заданием в день %d?", day)
}

func TextAskDifficulty() string {
	return "Как ребёнку было по сложности?"
}

func TextDayDone(day int) string {
	return fmt.Sprintf("Супер! День %d пройден ✅\n\nЗавтра утром пришлём задание на следующий день.", day)
}

func TextCategoryOffer(o models.Category, harder bool) string {
	if harder {
		return fmt.Sprintf("Похоже, задания даются легко. Перейти на уровень %s?", CategoryLabel(o))
	}
	return fmt.Sprintf("Похоже, задания пока сложноваты. Перейти на уровень %s?", CategoryLabel(o))
}

func TextCategoryChanged(c models.Category) string {
	return fmt.Sprintf("Готово, со следующего задания уровень %s.", CategoryLabel(c))
}

func TextCategoryKept() string {
	return "Хорошо, оставляем текущий уровень."
}

func TextDayFailed(day int) string {
	return fmt.Sprintf("Ничего страшного, так бывает! День %d можно пройти ещё раз или выбрать другой уровень.", day)
}

func TextAlreadyRecorded() string { return "Ответ уже записан 👍" }

func TextStale() string { return "Эта кнопка уже неактуальна." }

func TextAlreadyStarted() string {
	return "Челлендж уже идёт, возраст изменить нельзя. Продолжим?"
}

func TextSomethingWrong() string { return "Что-то пошло не так, попробуйте ещё раз чуть позже." }

// TextResults is the summary after the last day.
func TextResults(minutes []int, delta int) string {
	var b strings.Builder
	b.WriteString("🏆 Челлендж пройден!\n\n")
	for i, m := range minutes {
		fmt.Fprintf(&b, "День %d: ~%d мин\n", i+1, m)
	}
	switch {
	case delta > 0:
		fmt.Fprintf(&b, "\nВнимание выросло на %d мин. Отличный результат!", delta)
	case delta < 0:
		b.WriteString("\nВ этот раз без роста, и это нормально: внимание тренируется регулярностью.")
	default:
		b.WriteString("\nРезультат стабильный. Регулярные занятия помогут его улучшить.")
	}
	return b.String()
}

func TextOffer() string {
	return "Хотите продолжить занятия? В клубе новые задания каждый день.\n\n" +
		"Для участников челленджа специальные цены:"
}

func TextTariffs(tariffs []models.Tariff) string {
	var b strings.Builder
	b.WriteString("💳 Тарифы клуба:\n")
	for _, t := range tariffs {
		if t.OldPrice > t.Price {
			fmt.Fprintf(&b, "\n• %s: %d ₽ (вместо %d ₽)", t.Name, t.Price, t.OldPrice)
		} else {
			fmt.Fprintf(&b, "\n• %s: %d ₽", t.Name, t.Price)
		}
	}
	return b.String()
}

func TextMorning(day int) string {
	return fmt.Sprintf("☀️ Доброе утро! Сегодня день %d челленджа. Задание уже ждёт вас.", day)
}

func TextEvening(day int) string {
	return fmt.Sprintf("🌙 Напоминаем: задание дня %d ещё не выполнено. Это займёт всего 10–15 минут!", day)
}

func TextOffer12h() string {
	return "Вы отлично прошли челлендж! Напоминаем, что специальные цены для участников ещё действуют."
}

func TextOffer24h(code string, discount, hours int) string {
	return fmt.Sprintf("🎁 Последний шанс: промокод %s даёт скидку %d%% на месяц в клубе. "+
		"Действует %d часов.", code, discount, hours)
}

func TextPaymentCreated(t models.Tariff, price int) string {
	return fmt.Sprintf("Тариф «%s», %d ₽.\n\nНажмите «Оплатить», а после оплаты вернитесь и нажмите «Проверить оплату».", t.Name, price)
}

func TextPaymentPending() string {
	return "Платёж ещё обрабатывается. Попробуйте проверить через минуту."
}

func TextPaymentFailed(status string) string {
	return fmt.Sprintf("Платёж не прошёл (статус: %s). Можно попробовать ещё раз.", status)
}

func TextGatewayDown() string {
	return "Платёжная система сейчас недоступна. Попробуйте ещё раз через пару минут."
}

func TextPromoUnavailable() string {
	return "Промокод недействителен или уже использован."
}

func TextPaymentGranted(t models.Tariff, until time.Time, link string) string {
	period := "до " + until.Format(dateLayout)
	if t.Forever() {
		period = foreverMarker
	}
	text := fmt.Sprintf("🎉 Оплата прошла! Доступ к клубу %s.", period)
	if link != "" {
		text += "\n\nВаша персональная ссылка для входа:\n" + link
	}
	return text
}

func TextAlreadyPaid() string { return "Этот платёж уже учтён, доступ открыт ✅" }

func TextProgress(r *models.FunnelRecord, days int) string {
	if r == nil {
		return "Вы ещё не начали челлендж. Нажмите /start."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Ваш прогресс (уровень %s)\n", CategoryLabel(r.Category))
	for d := 1; d <= days; d++ {
		p := r.Day(d)
		switch {
		case p.Completed():
			fmt.Fprintf(&b, "\nДень %d: ✅ %s", d, BucketLabel(p.TimeBucket))
		case d == r.CurrentDay && r.IsActive:
			fmt.Fprintf(&b, "\nДень %d: ⏳ сегодня", d)
		default:
			fmt.Fprintf(&b, "\nДень %d: —", d)
		}
	}
	return b.String()
}

func TextFAQ() string {
	return "❓ Частые вопросы\n\n" +
		"Сколько времени занимает задание? 10–15 минут в день.\n\n" +
		"Что если пропустили день? Задание останется доступным, мы напомним.\n\n" +
		"Как оплатить клуб? Нажмите «Тарифы» в меню."
}

func TextMenu() string { return "🏠 Главное меню" }

func TextWelcomeBack(day int) string {
	return fmt.Sprintf("С возвращением! 👋 Продолжаем челлендж, сейчас день %d.", day)
}

func TextWelcomeFinished() string {
	return "С возвращением! Челлендж уже пройден 🏆"
}

func TextWelcomeSubscribed(until time.Time, forever bool) string {
	if forever {
		return "С возвращением! Доступ к клубу открыт навсегда ✅"
	}
	return "С возвращением! Доступ к клубу открыт до " + until.Format(dateLayout) + " ✅"
}

func TextUseButtons() string {
	return "Пожалуйста, пользуйтесь кнопками под сообщениями или командой /start."
}
