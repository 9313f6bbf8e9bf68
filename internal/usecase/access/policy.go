package access

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-activity-bot/internal/domain"
)

// Policy решает, кто может запускать отчёты.
// Пользователь из белого списка допускается всегда. Иначе решает Authorizer, если он задан.
// Без белого списка и без Authorizer доступ открыт всем.
type Policy struct {
	allowed    map[int64]struct{}
	authorizer domain.Authorizer
	events     domain.BusinessMetricRepo
	log        zerolog.Logger
	now        func() time.Time
}

// NewPolicy создаёт политику. authorizer и events могут быть nil.
func NewPolicy(allowedIDs []int64, authorizer domain.Authorizer, events domain.BusinessMetricRepo, log zerolog.Logger) *Policy {
	allowed := make(map[int64]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	return &Policy{allowed: allowed, authorizer: authorizer, events: events, log: log, now: time.Now}
}

// Check проверяет доступ к команде и фиксирует отказ бизнес-метрикой.
func (p *Policy) Check(ctx context.Context, chatID, userID int64, command string) (bool, error) {
	if _, ok := p.allowed[userID]; ok {
		return true, nil
	}
	if p.authorizer == nil && len(p.allowed) == 0 {
		return true, nil
	}

	granted := false
	if p.authorizer != nil {
		ok, err := p.authorizer.Allowed(ctx, chatID, userID)
		if err != nil {
			return false, fmt.Errorf("проверка прав %d в чате %d: %w", userID, chatID, err)
		}
		granted = ok
	}
	if !granted {
		p.denied(ctx, chatID, userID, command)
	}
	return granted, nil
}

func (p *Policy) denied(ctx context.Context, chatID, userID int64, command string) {
	p.log.Info().Int64("chat", chatID).Int64("user", userID).Str("command", command).Msg("access: доступ запрещён")
	if p.events == nil {
		return
	}
	err := p.events.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:      domain.BusinessMetricEventAccessDenied,
		ChatID:     &chatID,
		UserID:     &userID,
		Metadata:   map[string]any{"command": command},
		OccurredAt: p.now().UTC(),
	})
	if err != nil {
		p.log.Warn().Err(err).Msg("access: не удалось записать бизнес-метрику")
	}
}
