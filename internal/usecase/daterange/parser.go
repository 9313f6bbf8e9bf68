package daterange

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/olebedev/when/rules/ru"

	"tg-activity-bot/internal/domain"
)

// Поддерживаемые строгие грамматики дат.
const (
	GrammarISO    = "YYYY-MM-DD"
	GrammarDotted = "DD.MM.YYYY"
	GrammarDashed = "DD-MM-YYYY"
)

var grammars = map[string]struct {
	layout string
	hint   string
}{
	GrammarISO:    {layout: "2006-01-02", hint: "ГГГГ-ММ-ДД"},
	GrammarDotted: {layout: "02.01.2006", hint: "ДД.ММ.ГГГГ"},
	GrammarDashed: {layout: "02-01-2006", hint: "ДД-ММ-ГГГГ"},
}

var (
	timeOfDayRe = regexp.MustCompile(`\d{1,2}:\d{2}`)
	agoRe       = regexp.MustCompile(`(?i)^(\d{1,3})\s+(день|дня|дней|неделю|недели|недель|days?|weeks?)\s+(назад|ago)$`)
)

// Config задаёт грамматику парсера.
type Config struct {
	Location *time.Location
	Grammar  string
	// Relaxed включает разбор свободных выражений («вчера», «3 дня назад», «last monday»).
	Relaxed bool
	Now     func() time.Time
}

// Parser превращает текстовые границы периода в интервал UTC.
type Parser struct {
	loc     *time.Location
	layout  string
	hint    string
	relaxed *when.Parser
	now     func() time.Time
}

// NewParser создаёт парсер. Неизвестная грамматика считается ошибкой конфигурации.
func NewParser(cfg Config) (*Parser, error) {
	g, ok := grammars[cfg.Grammar]
	if !ok {
		return nil, fmt.Errorf("неизвестный формат даты %q", cfg.Grammar)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	p := &Parser{loc: loc, layout: g.layout, hint: g.hint, now: now}
	if cfg.Relaxed {
		w := when.New(nil)
		w.Add(ru.All...)
		w.Add(en.All...)
		w.Add(common.All...)
		p.relaxed = w
	}
	return p, nil
}

// Hint возвращает подсказку по формату для сообщений пользователю.
func (p *Parser) Hint() string {
	return p.hint
}

// Location возвращает часовой пояс парсера.
func (p *Parser) Location() *time.Location {
	return p.loc
}

// Parse строит интервал. Пустой endText означает «сейчас».
// Конец без указанного времени растягивается до 23:59:59.999999 своего дня.
func (p *Parser) Parse(startText, endText string) (domain.DateInterval, error) {
	start, startHasTime, err := p.point(startText)
	if err != nil {
		return domain.DateInterval{}, err
	}
	if !startHasTime {
		start = domain.DayOf(start, p.loc)
	}

	var (
		end        time.Time
		endHasTime bool
	)
	if strings.TrimSpace(endText) == "" {
		end = p.now().In(p.loc)
	} else {
		end, endHasTime, err = p.point(endText)
		if err != nil {
			return domain.DateInterval{}, err
		}
	}
	if !endHasTime {
		end = endOfDay(end, p.loc)
	}

	if start.After(end) {
		return domain.DateInterval{}, fmt.Errorf("%w: %s > %s", domain.ErrInvalidRange,
			start.Format(time.DateTime), end.Format(time.DateTime))
	}
	return domain.DateInterval{Start: start.UTC(), End: end.UTC(), Location: p.loc}, nil
}

// ParseDay возвращает интервал одного календарного дня.
func (p *Parser) ParseDay(text string) (domain.DateInterval, error) {
	day, _, err := p.point(text)
	if err != nil {
		return domain.DateInterval{}, err
	}
	start := domain.DayOf(day, p.loc)
	return domain.DateInterval{Start: start.UTC(), End: endOfDay(start, p.loc).UTC(), Location: p.loc}, nil
}

func (p *Parser) point(text string) (time.Time, bool, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return time.Time{}, false, fmt.Errorf("%w: пустая дата", domain.ErrDateFormat)
	}
	if t, err := time.ParseInLocation(p.layout, trimmed, p.loc); err == nil {
		return t, false, nil
	}
	for _, suffix := range []string{" 15:04:05", " 15:04"} {
		if t, err := time.ParseInLocation(p.layout+suffix, trimmed, p.loc); err == nil {
			return t, true, nil
		}
	}
	if p.relaxed != nil {
		if t, ok := p.ago(trimmed); ok {
			return t, false, nil
		}
		// when ищет выражение внутри строки; принимается только совпадение на всю строку.
		res, err := p.relaxed.Parse(trimmed, p.now().In(p.loc))
		if err == nil && res != nil && res.Index == 0 && strings.TrimSpace(res.Text) == trimmed {
			return res.Time.In(p.loc), timeOfDayRe.MatchString(res.Text), nil
		}
	}
	return time.Time{}, false, fmt.Errorf("%w: %q (ожидается %s)", domain.ErrDateFormat, trimmed, p.hint)
}

// ago разбирает «N дней/недель назад» и «N days/weeks ago» относительно начала текущего дня.
func (p *Parser) ago(text string) (time.Time, bool) {
	m := agoRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, false
	}
	if strings.HasPrefix(strings.ToLower(m[2]), "нед") || strings.HasPrefix(strings.ToLower(m[2]), "week") {
		n *= 7
	}
	return domain.DayOf(p.now(), p.loc).AddDate(0, 0, -n), true
}

func endOfDay(t time.Time, loc *time.Location) time.Time {
	return domain.DayOf(t, loc).AddDate(0, 0, 1).Add(-time.Microsecond)
}

// Format печатает день в формате, который понимает парсер.
func (p *Parser) Format(t time.Time) string {
	return t.In(p.loc).Format(p.layout)
}
