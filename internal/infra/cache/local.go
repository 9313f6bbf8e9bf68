package cache

import (
	"context"
	"sync"
	"time"

	"tg-activity-bot/internal/domain"
)

// LocalLocker сериализует секции внутри одного процесса. ttl игнорируется.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

var _ domain.Locker = (*LocalLocker)(nil)

// NewLocalLocker создаёт блокировку процесса.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

// Lock ждёт освобождения ключа или отмены контекста.
func (l *LocalLocker) Lock(ctx context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-slot }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
