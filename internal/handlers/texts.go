package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"challenge-bot/internal/lib/sl"
	"challenge-bot/internal/messages"
	"challenge-bot/internal/models"
)

const materialCommand = "/material"

// HandleText handles non-command messages. Admins upload day materials as a
// photo or document captioned with /material.
func (h *Handler) HandleText(ctx context.Context, msg *tgbotapi.Message) {
	h.ensureUser(ctx, msg.From)
	chatID := msg.Chat.ID

	if msg.From != nil && h.isAdmin(msg.From.ID) && strings.HasPrefix(msg.Caption, materialCommand) {
		h.handleMaterialUpload(ctx, msg)
		return
	}
	h.send(ctx, chatID, messages.TextUseButtons(), nil)
}

type materialInput struct {
	Category string `validate:"oneof=3-5 4-6 5-7"`
	Day      int    `validate:"min=1"`
	Variant  int    `validate:"min=1"`
	Title    string `validate:"required,max=128"`
}

// /material <cat> <day> <variant> <title> | <description>
func (h *Handler) handleMaterialUpload(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	var (
		fileID   string
		fileType models.FileType
	)
	switch {
	case len(msg.Photo) > 0:
		fileID, fileType = msg.Photo[len(msg.Photo)-1].FileID, models.FilePhoto
	case msg.Document != nil:
		fileID, fileType = msg.Document.FileID, models.FileDocument
	default:
		h.send(ctx, chatID, textMaterialUsage(), nil)
		return
	}

	m, err := parseMaterialCaption(msg.Caption, h.Funnel.Config().Days)
	if err != nil {
		h.send(ctx, chatID, textInvalidInput(err), nil)
		return
	}
	m.FileID, m.FileType = fileID, fileType

	if err := h.DB.SaveMaterial(ctx, m); err != nil {
		h.Log.Error("save material failed", sl.Err(err))
		h.send(ctx, chatID, messages.TextSomethingWrong(), nil)
		return
	}
	h.send(ctx, chatID, fmt.Sprintf("Материал сохранён: %s, день %d, вариант %d (#%d).",
		m.Category, m.Day, m.Variant, m.ID), nil)
}

func parseMaterialCaption(caption string, days int) (*models.Material, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(caption, materialCommand))
	fields := strings.SplitN(rest, " ", 4)
	if len(fields) < 4 {
		return nil, fmt.Errorf("формат: %s", textMaterialUsage())
	}
	day, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("день: %w", err)
	}
	variant, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, fmt.Errorf("вариант: %w", err)
	}
	title, description, _ := strings.Cut(fields[3], "|")

	in := materialInput{
		Category: fields[0],
		Day:      day,
		Variant:  variant,
		Title:    strings.TrimSpace(title),
	}
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if day > days {
		return nil, fmt.Errorf("день должен быть от 1 до %d", days)
	}
	return &models.Material{
		Category:    models.Category(in.Category),
		Day:         in.Day,
		Variant:     in.Variant,
		Title:       in.Title,
		Description: strings.TrimSpace(description),
	}, nil
}

// ---------------- admin texts --------------------

func textAdminHelp() string {
	return "Команды администратора:\n" +
		"/stats\n" +
		"/create_promo CODE СКИДКА ЧАСЫ [описание]\n" +
		"/materials\n" +
		"/delete_material <возраст> <день> <вариант>\n" +
		textMaterialUsage()
}

func textMaterialUsage() string {
	return "Фото или документ с подписью: /material <возраст> <день> <вариант> <название> | <описание>"
}

func textCreatePromoUsage() string {
	return "Формат: /create_promo CODE СКИДКА ЧАСЫ [описание]"
}

func textInvalidInput(err error) string {
	return "Неверные данные: " + err.Error()
}

func textStats(st *models.Stats) string {
	var b strings.Builder
	b.WriteString("📈 Статистика\n\n")
	fmt.Fprintf(&b, "Пользователей: %d\n", st.Users)
	fmt.Fprintf(&b, "Начали челлендж: %d\n", st.Started)
	for i, n := range st.DaysCompleted {
		fmt.Fprintf(&b, "День %d пройден: %d\n", i+1, n)
	}
	fmt.Fprintf(&b, "Завершили: %d\n", st.Finished)
	fmt.Fprintf(&b, "Сменили уровень: %d\n", st.CategoryChanged)
	fmt.Fprintf(&b, "Купили после челленджа: %d\n", st.Purchased)
	fmt.Fprintf(&b, "Платящих всего: %d\n", st.PaidUsers)
	fmt.Fprintf(&b, "Выручка: %d ₽\n", st.Revenue)
	fmt.Fprintf(&b, "Заблокировали бота: %d", st.Blocked)
	if st.Started > 0 {
		fmt.Fprintf(&b, "\n\nКонверсия в покупку: %.1f%%", float64(st.Purchased)*100/float64(st.Started))
	}
	return b.String()
}

func textMaterials(items []models.Material) string {
	if len(items) == 0 {
		return "Материалов пока нет."
	}
	var b strings.Builder
	b.WriteString("📚 Материалы:")
	for _, m := range items {
		fmt.Fprintf(&b, "\n%s / день %d / вариант %d: %s (%s)", m.Category, m.Day, m.Variant, m.Title, m.FileType)
	}
	return b.String()
}

func textAdminPayment(userID int64, tariff string, amount int, until time.Time, forever bool) string {
	period := "до " + until.Format("02.01.2006")
	if forever {
		period = "навсегда"
	}
	return fmt.Sprintf("💰 Оплата: пользователь %d, тариф «%s», %d ₽, доступ %s.", userID, tariff, amount, period)
}
