package mtproto

import (
	"context"
	"iter"
	"sort"
	"strconv"
	"time"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/metrics"
)

// DefaultPageSize равен максимальному размеру страницы messages.getHistory.
const DefaultPageSize = 100

// HistoryAPI описывает часть tg.Client, нужную для чтения истории.
type HistoryAPI interface {
	MessagesGetHistory(ctx context.Context, request *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
}

// History читает историю каналов постранично.
type History struct {
	api      HistoryAPI
	pageSize int
	log      zerolog.Logger
}

var _ domain.HistorySource = (*History)(nil)

// NewHistory создаёт источник истории.
func NewHistory(api HistoryAPI, pageSize int, log zerolog.Logger) *History {
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}
	return &History{api: api, pageSize: pageSize, log: log}
}

// History отдаёт сообщения канала в интервале [After, Before]. Части альбома склеиваются в одно сообщение.
// Без OldestFirst сообщения идут от новых к старым.
func (h *History) History(ctx context.Context, ch domain.Channel, q domain.HistoryQuery) iter.Seq2[domain.Message, error] {
	if q.OldestFirst {
		return h.oldestFirst(ctx, ch, q)
	}
	return h.newestFirst(ctx, ch, q)
}

type page struct {
	messages []*tg.Message
	entities entities
	raw      int
	// minID и maxID считаются по всем сообщениям страницы, включая служебные.
	minID, maxID int
}

func (h *History) fetch(ctx context.Context, ch domain.Channel, req *tg.MessagesGetHistoryRequest) (page, error) {
	req.Peer = inputPeer(ch)
	start := time.Now()
	res, err := withFloodWait(ctx, h.log, func() (tg.MessagesMessagesClass, error) {
		return h.api.MessagesGetHistory(ctx, req)
	})
	metrics.ObserveNetworkRequest("mtproto", "messages_get_history", strconv.FormatInt(ch.ID, 10), start, err)
	if err != nil {
		return page{}, mapRPCError(err, ch.Name())
	}

	var (
		raw   []tg.MessageClass
		users []tg.UserClass
		chats []tg.ChatClass
	)
	switch v := res.(type) {
	case *tg.MessagesMessages:
		raw, users, chats = v.Messages, v.Users, v.Chats
	case *tg.MessagesMessagesSlice:
		raw, users, chats = v.Messages, v.Users, v.Chats
	case *tg.MessagesChannelMessages:
		raw, users, chats = v.Messages, v.Users, v.Chats
	}

	p := page{entities: newEntities(users, chats), raw: len(raw)}
	for _, m := range raw {
		if id := m.GetID(); p.minID == 0 || id < p.minID {
			p.minID = id
		}
		if id := m.GetID(); id > p.maxID {
			p.maxID = id
		}
		// служебные и пустые сообщения не несут пользовательского контента
		if msg, ok := m.(*tg.Message); ok {
			p.messages = append(p.messages, msg)
		}
	}
	return p, nil
}

// emitter отдаёт сообщения потребителю, склеивая альбомы и соблюдая лимит.
type emitter struct {
	yield   func(domain.Message, error) bool
	limit   int
	emitted int
	grouped album
}

func (e *emitter) add(m *tg.Message, msg domain.Message) bool {
	for _, ready := range e.grouped.add(m, msg) {
		if !e.emit(ready) {
			return false
		}
	}
	return true
}

func (e *emitter) emit(msg domain.Message) bool {
	if e.full() {
		return false
	}
	e.emitted++
	return e.yield(msg, nil)
}

func (e *emitter) full() bool {
	return e.limit > 0 && e.emitted >= e.limit
}

func (e *emitter) finish() {
	if msg, ok := e.grouped.flush(); ok {
		e.emit(msg)
	}
}

func (h *History) oldestFirst(ctx context.Context, ch domain.Channel, q domain.HistoryQuery) iter.Seq2[domain.Message, error] {
	return func(yield func(domain.Message, error) bool) {
		out := &emitter{yield: yield, limit: q.Limit}
		lastID := 0

		req := &tg.MessagesGetHistoryRequest{Limit: h.pageSize, AddOffset: -h.pageSize}
		if !q.After.IsZero() {
			req.OffsetDate = int(q.After.Unix())
		} else {
			req.OffsetID = 1
		}
		for {
			if err := ctx.Err(); err != nil {
				yield(domain.Message{}, err)
				return
			}
			p, err := h.fetch(ctx, ch, req)
			if err != nil {
				yield(domain.Message{}, err)
				return
			}
			sort.Slice(p.messages, func(i, j int) bool { return p.messages[i].ID < p.messages[j].ID })

			for _, m := range p.messages {
				if m.ID <= lastID {
					continue
				}
				created := time.Unix(int64(m.Date), 0)
				if !q.Before.IsZero() && created.After(q.Before) {
					out.finish()
					return
				}
				if !q.After.IsZero() && created.Before(q.After) {
					continue
				}
				if !out.add(m, convertMessage(m, ch, p.entities)) {
					return
				}
			}
			if out.full() {
				return
			}
			if p.raw < req.Limit || p.maxID <= lastID {
				out.finish()
				return
			}
			lastID = p.maxID
			req = &tg.MessagesGetHistoryRequest{OffsetID: lastID + 1, Limit: h.pageSize, AddOffset: -h.pageSize}
		}
	}
}

func (h *History) newestFirst(ctx context.Context, ch domain.Channel, q domain.HistoryQuery) iter.Seq2[domain.Message, error] {
	return func(yield func(domain.Message, error) bool) {
		out := &emitter{yield: yield, limit: q.Limit}

		req := &tg.MessagesGetHistoryRequest{Limit: h.pageSize}
		if !q.Before.IsZero() {
			req.OffsetDate = int(q.Before.Unix()) + 1
		}
		for {
			if err := ctx.Err(); err != nil {
				yield(domain.Message{}, err)
				return
			}
			p, err := h.fetch(ctx, ch, req)
			if err != nil {
				yield(domain.Message{}, err)
				return
			}
			sort.Slice(p.messages, func(i, j int) bool { return p.messages[i].ID > p.messages[j].ID })

			for _, m := range p.messages {
				created := time.Unix(int64(m.Date), 0)
				if !q.After.IsZero() && created.Before(q.After) {
					out.finish()
					return
				}
				if !q.Before.IsZero() && created.After(q.Before) {
					continue
				}
				if !out.add(m, convertMessage(m, ch, p.entities)) {
					return
				}
			}
			if out.full() {
				return
			}
			if p.raw < req.Limit || p.minID == 0 {
				out.finish()
				return
			}
			req = &tg.MessagesGetHistoryRequest{OffsetID: p.minID, Limit: h.pageSize}
		}
	}
}
