package mtproto

import (
	"context"
	"errors"

	"github.com/gotd/td/session"
	"github.com/rs/zerolog"

	"tg-activity-bot/internal/domain"
)

// DBSession хранит сессию gotd в репозитории под именем.
type DBSession struct {
	repo domain.SessionRepo
	name string
	log  zerolog.Logger
}

// NewDBSession создаёт хранилище сессии.
func NewDBSession(repo domain.SessionRepo, name string, log zerolog.Logger) *DBSession {
	return &DBSession{repo: repo, name: name, log: log}
}

// LoadSession загружает сессию и при необходимости конвертирует её из формата Telethon.
func (s *DBSession) LoadSession(ctx context.Context) ([]byte, error) {
	raw, err := s.repo.LoadSession(ctx, s.name)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, session.ErrNotFound
		}
		return nil, err
	}
	data, converted, err := NormalizeSessionBytes(raw)
	if err != nil {
		return nil, err
	}
	if converted {
		s.log.Info().Str("session", s.name).Msg("сессия сконвертирована в формат gotd")
		if err := s.repo.StoreSession(ctx, s.name, data); err != nil {
			s.log.Warn().Err(err).Str("session", s.name).Msg("не удалось сохранить сконвертированную сессию")
		}
	}
	return data, nil
}

// StoreSession сохраняет сессию.
func (s *DBSession) StoreSession(ctx context.Context, data []byte) error {
	return s.repo.StoreSession(ctx, s.name, data)
}
