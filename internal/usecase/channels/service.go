package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tg-activity-bot/internal/domain"
)

// AllChannels в группе означает все доступные аккаунту каналы.
const AllChannels = "*"

// MaxWarnings ограничивает число предупреждений о ненайденных каналах.
const MaxWarnings = 5

// ErrNoChannels возвращается, когда не удалось найти ни одного канала.
var ErrNoChannels = errors.New("не удалось найти каналы для анализа")

// Selection содержит итог выбора каналов.
type Selection struct {
	Channels []domain.Channel
	// Group содержит имя группы, если каналы заданы группой.
	Group    string
	Warnings []string
}

// Service превращает аргументы команды в список каналов.
type Service struct {
	resolver domain.ChannelResolver
	groups   map[string][]string
}

// NewService создаёт сервис. Ключи групп должны быть в нижнем регистре.
func NewService(resolver domain.ChannelResolver, groups map[string][]string) *Service {
	return &Service{resolver: resolver, groups: groups}
}

// Groups возвращает определения групп.
func (s *Service) Groups() map[string][]string {
	return s.groups
}

// Select разрешает каналы. Один аргумент с именем группы раскрывается в её каналы.
// Ненайденные каналы попадают в предупреждения, ошибкой считается только пустой итог.
func (s *Service) Select(ctx context.Context, args []string) (Selection, error) {
	args = NormalizeArgs(args)
	var sel Selection

	refs := args
	if len(args) == 1 {
		if group, ok := s.groups[strings.ToLower(args[0])]; ok {
			sel.Group = strings.ToLower(args[0])
			refs = group
		}
	}

	seen := make(map[int64]struct{})
	add := func(ch domain.Channel) {
		if _, ok := seen[ch.ID]; ok {
			return
		}
		seen[ch.ID] = struct{}{}
		sel.Channels = append(sel.Channels, ch)
	}

	for _, ref := range refs {
		if ref == AllChannels {
			all, err := s.resolver.ResolveAll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return Selection{}, ctx.Err()
				}
				sel.warn(fmt.Sprintf("⚠️ Не удалось получить список каналов: %v", err))
				continue
			}
			if len(all) == 0 {
				sel.warn("❌ Нет каналов с правами на чтение истории")
			}
			for _, ch := range all {
				add(ch)
			}
			continue
		}
		ch, err := s.resolver.Resolve(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return Selection{}, ctx.Err()
			}
			sel.warn(fmt.Sprintf("⚠️ Канал `%s` не найден или нет прав", ref))
			continue
		}
		add(ch)
	}

	if len(sel.Channels) == 0 {
		return sel, ErrNoChannels
	}
	return sel, nil
}

func (s *Selection) warn(msg string) {
	if len(s.Warnings) < MaxWarnings {
		s.Warnings = append(s.Warnings, msg)
	}
}

// NormalizeArgs убирает пустые значения, ведущий # и повторы, сохраняя порядок.
func NormalizeArgs(args []string) []string {
	seen := make(map[string]struct{}, len(args))
	cleaned := make([]string, 0, len(args))
	for _, arg := range args {
		trimmed := strings.TrimPrefix(strings.TrimSpace(arg), "#")
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, trimmed)
	}
	return cleaned
}
