package report

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"tg-activity-bot/internal/domain"
)

const dayLayout = "2006-01-02"

// Section описывает раздел рейтинга в отчёте.
type Section struct {
	Title   string
	Entries []domain.RankingEntry
	// Unit подписывает основной показатель, например «публикаций».
	Unit string
	// SecondaryUnit подписывает второй показатель. Пустое значение скрывает его.
	SecondaryUnit string
}

// Meta содержит подписи, которые не выводятся из результата агрегации.
type Meta struct {
	ZoneName string
}

// FormatPeriod возвращает период в виде «2026-01-01 – 2026-01-03» в поясе интервала.
func FormatPeriod(interval domain.DateInterval) string {
	return interval.FirstDay().Format(dayLayout) + " – " + interval.LastDay().Format(dayLayout)
}

// FormatStart формирует сообщение о начале анализа.
func FormatStart(channels []domain.Channel, interval domain.DateInterval, meta Meta) string {
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, "<code>"+escapeHTML(ch.Name())+"</code>")
	}
	return fmt.Sprintf("🔍 Анализирую <b>%d</b> канал(ов): %s\nза период: <code>%s</code> (%s)",
		len(channels), strings.Join(names, ", "), FormatPeriod(interval), escapeHTML(meta.ZoneName))
}

// FormatActivity формирует полный текст отчёта об активности.
func FormatActivity(res domain.AggregationResult, sections []Section, meta Meta) string {
	var parts []string
	parts = append(parts, buildSummary(res, meta))

	if len(res.Publications) == 0 {
		parts = append(parts, "📎 Публикаций за указанный период не найдено.")
	} else {
		if channels := buildChannelSections(res); channels != "" {
			parts = append(parts, channels)
		}
		for _, section := range sections {
			if text := buildRankingSection(section); text != "" {
				parts = append(parts, text)
			}
		}
	}

	if notes := buildNotes(res); notes != "" {
		parts = append(parts, notes)
	}

	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

func buildSummary(res domain.AggregationResult, meta Meta) string {
	var b strings.Builder
	b.WriteString("📊 <b>Отчёт по активности</b>\n")
	b.WriteString(fmt.Sprintf("• <b>Период</b>: %s (%s)\n", FormatPeriod(res.Interval), escapeHTML(meta.ZoneName)))
	b.WriteString(fmt.Sprintf("• <b>Каналы</b>: %d\n", len(res.Channels)))
	b.WriteString(fmt.Sprintf("• <b>Просмотрено сообщений</b>: %d\n", res.ScannedMessages))
	b.WriteString(fmt.Sprintf("• <b>Сообщений участников</b>: %d\n", res.TotalMessages))
	b.WriteString(fmt.Sprintf("• <b>Публикаций</b>: %d", len(res.Publications)))
	return b.String()
}

func buildChannelSections(res domain.AggregationResult) string {
	byChannel := make(map[string][]domain.Publication)
	for _, p := range res.Publications {
		byChannel[p.ChannelName] = append(byChannel[p.ChannelName], p)
	}

	var b strings.Builder
	num := 1
	seen := make(map[string]bool)
	for _, ch := range res.Channels {
		name := ch.Name()
		pubs := byChannel[name]
		if len(pubs) == 0 || seen[name] {
			continue
		}
		seen[name] = true
		b.WriteString("\n\n📁 <b>Канал: " + escapeHTML(name) + "</b>")
		for _, p := range pubs {
			b.WriteString("\n" + formatPublication(num, p))
			num++
		}
	}
	return strings.TrimSpace(b.String())
}

func formatPublication(num int, p domain.Publication) string {
	link := "сообщение"
	if url := strings.TrimSpace(p.Permalink); url != "" {
		link = fmt.Sprintf("<a href=\"%s\">сообщение</a>", html.EscapeString(url))
	}
	line := fmt.Sprintf("%d. <b>%s</b> — %s", num, escapeHTML(p.Author.String()), link)
	if n := p.AttachmentCount(); n > 0 {
		line += fmt.Sprintf(" (%d влож.)", n)
	}
	if len(p.Categories) > 0 {
		line += " [" + escapeHTML(strings.Join(p.Categories, ", ")) + "]"
	}
	return line
}

func buildRankingSection(section Section) string {
	if len(section.Entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("🏆 <b>" + escapeHTML(section.Title) + "</b>")
	for i, e := range section.Entries {
		b.WriteString(fmt.Sprintf("\n%d. <b>%s</b> — %d %s", i+1, escapeHTML(e.Subject.Author.String()), e.Primary, section.Unit))
		if section.SecondaryUnit != "" {
			b.WriteString(fmt.Sprintf(" (%d %s)", e.Secondary, section.SecondaryUnit))
		}
	}
	return b.String()
}

func buildNotes(res domain.AggregationResult) string {
	var lines []string
	for _, d := range res.Diagnostics {
		lines = append(lines, fmt.Sprintf("⚠️ Канал <code>%s</code> пропущен: %s", escapeHTML(d.Channel), DescribeError(d.Err)))
	}
	if res.Truncated {
		lines = append(lines, "⚠️ Достигнут лимит просмотра сообщений, отчёт неполный.")
	}
	return strings.Join(lines, "\n")
}

// DescribeError превращает ошибку в короткое сообщение для пользователя.
func DescribeError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrChannelAccessDenied):
		return "нет прав на чтение истории"
	case errors.Is(err, domain.ErrChannelNotFound):
		return "канал не найден"
	case errors.Is(err, domain.ErrExportTooLarge):
		return "файл слишком большой для отправки (>8 МБ)"
	case errors.Is(err, domain.ErrRemoteSheetMissing):
		return "не удалось создать лист таблицы"
	case errors.Is(err, domain.ErrUnclassifiedRemote):
		return "ошибка удалённого сервиса"
	default:
		return "ошибка чтения"
	}
}

// FormatMembers формирует отчёт о выгрузке участников с ролью.
func FormatMembers(roleName string, day time.Time, members []domain.Member, meta Meta) string {
	if len(members) == 0 {
		return fmt.Sprintf("👥 Пользователи с ролью <b>%s</b> не найдены.", escapeHTML(roleName))
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📋 <b>Экспорт роли: %s</b>\n", escapeHTML(roleName)))
	b.WriteString(fmt.Sprintf("• <b>Дата экспорта</b>: %s (%s)\n", day.Format(dayLayout), escapeHTML(meta.ZoneName)))
	b.WriteString(fmt.Sprintf("• <b>Найдено пользователей</b>: %d\n\n", len(members)))
	b.WriteString("<b>Список пользователей:</b>")
	for i, m := range members {
		username := "—"
		if m.Username != "" {
			username = "@" + m.Username
		}
		joined := "неизвестно"
		if !m.JoinedAt.IsZero() {
			joined = m.JoinedAt.Format(dayLayout)
		}
		b.WriteString(fmt.Sprintf("\n%d. <b>%s</b> (%s) • ID: <code>%d</code> • Вступил: %s",
			i+1, escapeHTML(m.Name()), escapeHTML(username), m.UserID, joined))
	}
	return b.String()
}

func escapeHTML(s string) string {
	return html.EscapeString(s)
}
