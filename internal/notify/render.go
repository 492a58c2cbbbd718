package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mmeshcher/storefront-core/internal/model"
)

// markdownSpecial — управляющие символы разметки MarkdownV2 мессенджера.
const markdownSpecial = "_*[]()~`>#+-=|{}.!\\"

const timeLayout = "02.01.2006 15:04:05 MST"

// EscapeMarkdown экранирует управляющие символы разметки, чтобы пользовательский текст
// отображался буквально и не ломал форматирование сообщения.
// Все управляющие символы однобайтовые, поэтому строка обходится по байтам и
// остальные байты, включая некорректный UTF-8, копируются без изменений.
func EscapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(markdownSpecial, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Render превращает уведомление в текст сообщения с экранированными полями.
func Render(p Payload) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	var lines []string
	switch p.Kind {
	case KindWorkerApplication:
		lines = renderWorkerApplication(p.WorkerApplication)
	case KindSellerListing:
		lines = renderSellerListing(p.SellerListing)
	case KindStatusChange:
		lines = renderStatusChange(p.StatusChange)
	default:
		return "", fmt.Errorf("unknown payload kind %q", p.Kind)
	}

	lines = append(lines, field("Время", p.CreatedAt.Format(timeLayout)))
	return strings.Join(lines, "\n"), nil
}

func renderWorkerApplication(a *WorkerApplication) []string {
	return []string{
		"*" + EscapeMarkdown("Новая заявка мастера") + "*",
		field("Имя", strings.TrimSpace(a.FirstName+" "+a.LastName)),
		field("Email", a.Email),
		field("Телефон", a.Phone),
		field("Роль", a.Role),
		field("Длина пароля", strconv.Itoa(a.PasswordLength)),
	}
}

func renderSellerListing(l *SellerListing) []string {
	lines := []string{
		"*" + EscapeMarkdown("Новое объявление") + "*",
		field("Название", l.Title),
		field("Категория", l.Category),
		field("Цена", l.Price.StringFixed(2)),
		field("Описание", l.Description),
		field("Контакт", l.Contact),
	}
	if l.PhotoURL != "" {
		lines = append(lines, field("Фото", l.PhotoURL))
	}
	return lines
}

var statusTitles = map[model.WorkflowStatus]string{
	model.StatusPending:   "возвращено на модерацию",
	model.StatusApproved:  "одобрено",
	model.StatusPublished: "опубликовано",
	model.StatusRejected:  "отклонено",
}

var subjectTitles = map[model.SubjectKind]string{
	model.SubjectWorker:  "Мастер",
	model.SubjectListing: "Объявление",
}

func renderStatusChange(c *StatusChange) []string {
	title := subjectTitles[c.Subject]
	if title == "" {
		title = string(c.Subject)
	}
	status := statusTitles[c.Status]
	if status == "" {
		status = string(c.Status)
	}

	lines := []string{
		"*" + EscapeMarkdown(title+": "+status) + "*",
		field("ID", c.ID),
	}
	if c.Title != "" {
		lines = append(lines, field("Название", c.Title))
	}
	if c.ActivationPending {
		lines = append(lines, EscapeMarkdown("Внимание: аккаунт не активирован, требуется повтор активации."))
	}
	return lines
}

func field(name, value string) string {
	return "*" + EscapeMarkdown(name) + ":* " + EscapeMarkdown(value)
}
