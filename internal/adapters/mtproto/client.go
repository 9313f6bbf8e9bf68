package mtproto

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
)

// ErrNotAuthorized возвращается, когда сессия не авторизована.
var ErrNotAuthorized = errors.New("MTProto-сессия не авторизована, импортируйте её через mtproto-session-importer")

// maxFloodWait ограничивает ожидание по FLOOD_WAIT.
const maxFloodWait = time.Minute

// Client держит подключение пользовательского аккаунта к Telegram.
type Client struct {
	client *telegram.Client
	log    zerolog.Logger

	mu   sync.Mutex
	done chan error
}

// NewClient создаёт клиента поверх хранилища сессии.
func NewClient(apiID int, apiHash string, storage telegram.SessionStorage, log zerolog.Logger) *Client {
	client := telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: storage,
		NoUpdates:      true,
	})
	return &Client{client: client, log: log}
}

// Start подключается в фоне и ждёт проверки авторизации. Соединение живёт до отмены ctx.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return errors.New("MTProto-клиент уже запущен")
	}
	done := make(chan error, 1)
	c.done = done
	c.mu.Unlock()

	ready := make(chan struct{})
	go func() {
		done <- c.client.Run(ctx, func(ctx context.Context) error {
			status, err := c.client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("проверка авторизации: %w", err)
			}
			if !status.Authorized {
				return ErrNotAuthorized
			}
			if status.User != nil {
				c.log.Info().Int64("user_id", status.User.ID).Str("username", status.User.Username).Msg("MTProto-сессия активна")
			}
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case <-ready:
		return nil
	case err := <-done:
		done <- err
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait блокируется до остановки соединения.
func (c *Client) Wait() error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	err := <-done
	done <- err
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// API возвращает сырой клиент tg.
func (c *Client) API() *tg.Client {
	return c.client.API()
}

// withFloodWait повторяет вызов один раз, если Telegram попросил подождать.
func withFloodWait[T any](ctx context.Context, log zerolog.Logger, call func() (T, error)) (T, error) {
	res, err := call()
	wait, ok := tgerr.AsFloodWait(err)
	if !ok || wait > maxFloodWait {
		return res, err
	}
	log.Warn().Dur("wait", wait).Msg("FLOOD_WAIT, ждём")
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-timer.C:
	}
	return call()
}
