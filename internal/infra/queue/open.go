package queue

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"tg-activity-bot/internal/domain"
)

// ErrNoBroker возвращается, когда не задан ни RabbitMQ, ни Redis.
var ErrNoBroker = errors.New("не указан брокер очереди (RABBITMQ_URL или REDIS_ADDR)")

// Open выбирает брокер: RabbitMQ, если задан URL, иначе список Redis.
// Возвращённая функция закрывает соединение с RabbitMQ; клиент Redis закрывает вызывающий.
func Open(rabbitURL string, redisClient *redis.Client, key string) (domain.ReportQueue, func() error, error) {
	if rabbitURL != "" {
		q, err := NewRabbitReportQueue(rabbitURL, key)
		if err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil
	}
	if redisClient == nil {
		return nil, nil, ErrNoBroker
	}
	return NewRedisReportQueue(redisClient, key), func() error { return nil }, nil
}
