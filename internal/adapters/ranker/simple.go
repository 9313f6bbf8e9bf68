package ranker

import (
	"sort"
	"strings"

	"tg-activity-bot/internal/domain"
)

// Key извлекает числовой критерий из счётчиков пользователя.
type Key struct {
	Name  string
	Value func(domain.UserStats) int
}

var (
	// ByPublications сортирует по числу публикаций.
	ByPublications = Key{Name: "publications", Value: func(s domain.UserStats) int { return s.MessageCount }}
	// ByAttachments сортирует по числу вложений.
	ByAttachments = Key{Name: "attachments", Value: func(s domain.UserStats) int { return s.AttachmentCount }}
	// ByImages сортирует по числу изображений.
	ByImages = Key{Name: "images", Value: func(s domain.UserStats) int { return s.ImageCount }}
	// ByLinks сортирует по числу сообщений со ссылками.
	ByLinks = Key{Name: "links", Value: func(s domain.UserStats) int { return s.LinkCount }}
)

// ByCategory ранжирует по числу сообщений категории.
func ByCategory(name string) Key {
	return Key{Name: "category:" + name, Value: func(s domain.UserStats) int { return s.Categories[name] }}
}

// KeyByName возвращает критерий по имени из конфигурации.
func KeyByName(name string) (Key, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ByPublications.Name:
		return ByPublications, true
	case ByAttachments.Name:
		return ByAttachments, true
	case ByImages.Name:
		return ByImages, true
	case ByLinks.Name:
		return ByLinks, true
	}
	if cat, ok := strings.CutPrefix(strings.TrimSpace(name), "category:"); ok && cat != "" {
		return ByCategory(cat), true
	}
	return Key{}, false
}

// TopN сортирует пользователей по убыванию primary, затем secondary.
// При полном равенстве сохраняется порядок первого появления. n <= 0 означает без ограничения.
func TopN(users *domain.UserCounters, n int, primary, secondary Key) []domain.RankingEntry {
	entries := make([]domain.RankingEntry, 0, users.Len())
	for stats := range users.All() {
		entries = append(entries, domain.RankingEntry{
			Subject:   stats,
			Primary:   primary.Value(stats),
			Secondary: secondary.Value(stats),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Primary != entries[j].Primary {
			return entries[i].Primary > entries[j].Primary
		}
		return entries[i].Secondary > entries[j].Secondary
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// TopNNonZero как TopN, но отбрасывает пользователей с нулевым primary.
func TopNNonZero(users *domain.UserCounters, n int, primary, secondary Key) []domain.RankingEntry {
	all := TopN(users, 0, primary, secondary)
	out := make([]domain.RankingEntry, 0, len(all))
	for _, e := range all {
		if e.Primary <= 0 {
			break
		}
		out = append(out, e)
	}
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
