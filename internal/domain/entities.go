package domain

import (
	"iter"
	"strings"
	"time"
)

// Author описывает автора сообщения.
type Author struct {
	ID          int64
	Username    string
	DisplayName string
	Bot         bool
}

// String возвращает имя автора для отчётов.
func (a Author) String() string {
	switch {
	case a.Username != "":
		return "@" + a.Username
	case strings.TrimSpace(a.DisplayName) != "":
		return strings.TrimSpace(a.DisplayName)
	default:
		return "id" + formatID(a.ID)
	}
}

// Attachment описывает вложение сообщения.
type Attachment struct {
	Filename    string
	URL         string
	ContentType string
}

// ChannelKind различает типы чатов Telegram.
type ChannelKind string

const (
	ChannelKindBroadcast  ChannelKind = "broadcast"
	ChannelKindSupergroup ChannelKind = "supergroup"
	// ChannelKindChat обозначает обычную группу без access hash.
	ChannelKindChat ChannelKind = "chat"
)

// Channel описывает канал или группу, из которых читается история.
type Channel struct {
	ID         int64
	AccessHash int64
	Username   string
	Title      string
	Kind       ChannelKind
}

// Name возвращает короткое имя канала.
func (c Channel) Name() string {
	if c.Username != "" {
		return c.Username
	}
	if c.Title != "" {
		return c.Title
	}
	return "c" + formatID(c.ID)
}

// Message представляет сообщение из истории канала, только для чтения.
type Message struct {
	ID          int
	Author      Author
	CreatedAt   time.Time
	Text        string
	Attachments []Attachment
	Mentions    []string
	Channel     Channel
	Permalink   string
}

// DateInterval задаёт закрытый интервал в UTC.
type DateInterval struct {
	Start time.Time
	End   time.Time
	// Location задаёт часовой пояс календарных дней.
	Location *time.Location
}

func (i DateInterval) location() *time.Location {
	if i.Location == nil {
		return time.UTC
	}
	return i.Location
}

// FirstDay возвращает полночь первого дня интервала в его часовом поясе.
func (i DateInterval) FirstDay() time.Time {
	return DayOf(i.Start, i.location())
}

// LastDay возвращает полночь последнего дня интервала в его часовом поясе.
func (i DateInterval) LastDay() time.Time {
	return DayOf(i.End, i.location())
}

// Days возвращает количество календарных дней, включая оба конца.
func (i DateInterval) Days() int {
	first, last := i.FirstDay(), i.LastDay()
	if last.Before(first) {
		return 0
	}
	days := 0
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days++
	}
	return days
}

// Contains сообщает, попадает ли момент в интервал.
func (i DateInterval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && !t.After(i.End)
}

// DayOf возвращает полночь календарного дня момента t в поясе loc.
func DayOf(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// AttachmentRef описывает пронумерованное вложение публикации.
type AttachmentRef struct {
	Number      int
	Filename    string
	URL         string
	ContentType string
}

// Publication фиксирует одно сообщение с вложениями или совпавшей категорией.
type Publication struct {
	Author      Author
	MessageID   int
	Permalink   string
	ChannelName string
	Timestamp   time.Time
	Attachments []AttachmentRef
	Categories  []string
	HasLink     bool
}

// AttachmentCount возвращает число вложений публикации.
func (p Publication) AttachmentCount() int {
	return len(p.Attachments)
}

// UserStats содержит счётчики одного пользователя.
type UserStats struct {
	Author          Author
	MessageCount    int
	AttachmentCount int
	ImageCount      int
	LinkCount       int
	Categories      map[string]int
}

// UserCounters хранит счётчики пользователей в порядке первого появления.
type UserCounters struct {
	order []int64
	stats map[int64]*UserStats
}

// NewUserCounters создаёт пустой набор счётчиков.
func NewUserCounters() *UserCounters {
	return &UserCounters{stats: make(map[int64]*UserStats)}
}

// Touch возвращает счётчики автора, создавая их при первом обращении.
func (c *UserCounters) Touch(author Author) *UserStats {
	if s, ok := c.stats[author.ID]; ok {
		return s
	}
	s := &UserStats{Author: author, Categories: make(map[string]int)}
	c.stats[author.ID] = s
	c.order = append(c.order, author.ID)
	return s
}

// Get возвращает счётчики пользователя.
func (c *UserCounters) Get(userID int64) (UserStats, bool) {
	if c == nil {
		return UserStats{}, false
	}
	s, ok := c.stats[userID]
	if !ok {
		return UserStats{}, false
	}
	return *s, true
}

// Len возвращает количество пользователей.
func (c *UserCounters) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}

// All перебирает счётчики в порядке первого появления.
func (c *UserCounters) All() iter.Seq[UserStats] {
	return func(yield func(UserStats) bool) {
		if c == nil {
			return
		}
		for _, id := range c.order {
			if !yield(*c.stats[id]) {
				return
			}
		}
	}
}

// DayCount хранит количество публикаций за календарный день.
type DayCount struct {
	Date  time.Time
	Count int
}

// DailyCounts хранит счётчики по дням без пропусков.
type DailyCounts struct {
	loc   *time.Location
	days  []DayCount
	index map[string]int
}

// NewDailyCounts создаёт счётчики с нулями для каждого дня интервала.
func NewDailyCounts(interval DateInterval) *DailyCounts {
	loc := interval.location()
	d := &DailyCounts{loc: loc, index: make(map[string]int)}
	first, last := interval.FirstDay(), interval.LastDay()
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		d.index[day.Format(time.DateOnly)] = len(d.days)
		d.days = append(d.days, DayCount{Date: day})
	}
	return d
}

// Inc увеличивает счётчик дня, в который попадает момент t. Моменты вне интервала игнорируются.
func (d *DailyCounts) Inc(t time.Time) bool {
	key := t.In(d.loc).Format(time.DateOnly)
	idx, ok := d.index[key]
	if !ok {
		return false
	}
	d.days[idx].Count++
	return true
}

// Count возвращает значение за день.
func (d *DailyCounts) Count(day time.Time) int {
	idx, ok := d.index[day.In(d.loc).Format(time.DateOnly)]
	if !ok {
		return 0
	}
	return d.days[idx].Count
}

// Days возвращает копию ряда по дням.
func (d *DailyCounts) Days() []DayCount {
	if d == nil {
		return nil
	}
	out := make([]DayCount, len(d.days))
	copy(out, d.days)
	return out
}

// Total возвращает сумму по всем дням.
func (d *DailyCounts) Total() int {
	total := 0
	for _, day := range d.days {
		total += day.Count
	}
	return total
}

// ChannelDiagnostic описывает сбой чтения одного канала.
type ChannelDiagnostic struct {
	Channel string
	Err     error
}

// AggregationResult содержит итог одного прогона агрегации.
type AggregationResult struct {
	Interval        DateInterval
	Channels        []Channel
	TotalMessages   int
	ScannedMessages int
	Publications    []Publication
	Users           *UserCounters
	Daily           *DailyCounts
	Diagnostics     []ChannelDiagnostic
	Truncated       bool
}

// RankingEntry описывает позицию в рейтинге.
type RankingEntry struct {
	Subject   UserStats
	Primary   int
	Secondary int
}

// MemberStatus описывает положение участника в чате.
type MemberStatus string

const (
	MemberStatusCreator MemberStatus = "creator"
	MemberStatusAdmin   MemberStatus = "admin"
	MemberStatusMember  MemberStatus = "member"
)

// Member описывает участника чата для выгрузки по роли.
type Member struct {
	UserID      int64
	Username    string
	DisplayName string
	// JoinedAt пуст, если дата вступления неизвестна (например, у создателя).
	JoinedAt time.Time
	Status   MemberStatus
	// Rank содержит подпись администратора.
	Rank     string
	RoleName string
	Bot      bool
}

// Name возвращает отображаемое имя участника.
func (m Member) Name() string {
	if strings.TrimSpace(m.DisplayName) != "" {
		return strings.TrimSpace(m.DisplayName)
	}
	if m.Username != "" {
		return "@" + m.Username
	}
	return "id" + formatID(m.UserID)
}
