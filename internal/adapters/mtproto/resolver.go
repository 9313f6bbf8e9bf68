package mtproto

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/metrics"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{3,31}$`)

// channelIDOffset задаёт префикс идентификаторов каналов в Bot API (-100…).
const channelIDOffset = 1_000_000_000_000

// Ref содержит разобранную ссылку на канал.
type Ref struct {
	Username string
	ID       int64
	Title    string
}

// ParseRef разбирает @username, ссылку t.me, числовой идентификатор или название.
func ParseRef(raw string) (Ref, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return Ref{}, fmt.Errorf("%w: пустое имя", domain.ErrChannelNotFound)
	}
	lower := strings.ToLower(ref)
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, prefix) {
			ref, lower = ref[len(prefix):], lower[len(prefix):]
		}
	}
	for _, host := range []string{"t.me/", "telegram.me/", "www.t.me/"} {
		if !strings.HasPrefix(lower, host) {
			continue
		}
		parts := strings.Split(strings.Trim(ref[len(host):], "/"), "/")
		switch {
		case len(parts) >= 2 && parts[0] == "c":
			id, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return Ref{}, fmt.Errorf("%w: %s", domain.ErrChannelNotFound, raw)
			}
			return Ref{ID: id}, nil
		case strings.HasPrefix(parts[0], "+") || parts[0] == "joinchat":
			return Ref{}, fmt.Errorf("%w: пригласительные ссылки не поддерживаются", domain.ErrChannelNotFound)
		case usernamePattern.MatchString(parts[0]):
			return Ref{Username: parts[0]}, nil
		default:
			return Ref{}, fmt.Errorf("%w: %s", domain.ErrChannelNotFound, raw)
		}
	}
	if name, ok := strings.CutPrefix(ref, "@"); ok {
		if !usernamePattern.MatchString(name) {
			return Ref{}, fmt.Errorf("%w: %s", domain.ErrChannelNotFound, raw)
		}
		return Ref{Username: name}, nil
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		switch {
		case id <= -channelIDOffset:
			return Ref{ID: -id - channelIDOffset}, nil
		case id < 0:
			return Ref{ID: -id}, nil
		default:
			return Ref{ID: id}, nil
		}
	}
	if usernamePattern.MatchString(ref) {
		return Ref{Username: ref, Title: ref}, nil
	}
	return Ref{Title: ref}, nil
}

// Resolver находит каналы, доступные пользовательскому аккаунту.
type Resolver struct {
	api *tg.Client
	log zerolog.Logger
}

var _ domain.ChannelResolver = (*Resolver)(nil)

// NewResolver создаёт резолвер.
func NewResolver(api *tg.Client, log zerolog.Logger) *Resolver {
	return &Resolver{api: api, log: log}
}

// Resolve находит канал по ссылке. Имя без @ сначала ищется как username, затем среди названий чатов аккаунта.
func (r *Resolver) Resolve(ctx context.Context, raw string) (domain.Channel, error) {
	ref, err := ParseRef(raw)
	if err != nil {
		return domain.Channel{}, err
	}
	if ref.Username != "" {
		ch, err := r.resolveUsername(ctx, ref.Username)
		if err == nil || ref.Title == "" || !isNotFound(err) {
			return ch, err
		}
	}
	all, err := r.ResolveAll(ctx)
	if err != nil {
		return domain.Channel{}, err
	}
	for _, ch := range all {
		if ref.ID != 0 && ch.ID == ref.ID {
			return ch, nil
		}
		if ref.Title != "" && strings.EqualFold(strings.TrimSpace(ch.Title), ref.Title) {
			return ch, nil
		}
	}
	return domain.Channel{}, fmt.Errorf("%w: %s", domain.ErrChannelNotFound, raw)
}

func (r *Resolver) resolveUsername(ctx context.Context, username string) (domain.Channel, error) {
	start := time.Now()
	res, err := withFloodWait(ctx, r.log, func() (*tg.ContactsResolvedPeer, error) {
		return r.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	})
	metrics.ObserveNetworkRequest("mtproto", "contacts_resolve_username", username, start, err)
	if err != nil {
		return domain.Channel{}, mapRPCError(err, username)
	}
	peer, ok := res.Peer.(*tg.PeerChannel)
	if !ok {
		return domain.Channel{}, fmt.Errorf("%w: @%s не канал и не группа", domain.ErrChannelNotFound, username)
	}
	for _, chat := range res.Chats {
		if ch, ok := chat.(*tg.Channel); ok && ch.ID == peer.ChannelID {
			return channelFromTG(ch), nil
		}
		if _, ok := chat.(*tg.ChannelForbidden); ok {
			return domain.Channel{}, fmt.Errorf("%w: @%s", domain.ErrChannelAccessDenied, username)
		}
	}
	return domain.Channel{}, fmt.Errorf("%w: @%s", domain.ErrChannelNotFound, username)
}

// ResolveAll возвращает каналы и группы, в которых состоит аккаунт.
func (r *Resolver) ResolveAll(ctx context.Context) ([]domain.Channel, error) {
	start := time.Now()
	res, err := withFloodWait(ctx, r.log, func() (tg.MessagesChatsClass, error) {
		return r.api.MessagesGetAllChats(ctx, nil)
	})
	metrics.ObserveNetworkRequest("mtproto", "messages_get_all_chats", "", start, err)
	if err != nil {
		return nil, mapRPCError(err, "*")
	}

	var chats []tg.ChatClass
	switch v := res.(type) {
	case *tg.MessagesChats:
		chats = v.Chats
	case *tg.MessagesChatsSlice:
		chats = v.Chats
	}
	return channelsFromChats(chats), nil
}

func channelsFromChats(chats []tg.ChatClass) []domain.Channel {
	out := make([]domain.Channel, 0, len(chats))
	for _, chat := range chats {
		switch c := chat.(type) {
		case *tg.Channel:
			if c.Left {
				continue
			}
			out = append(out, channelFromTG(c))
		case *tg.Chat:
			if c.Deactivated || c.Left {
				continue
			}
			out = append(out, domain.Channel{ID: c.ID, Title: c.Title, Kind: domain.ChannelKindChat})
		}
	}
	return out
}

func channelFromTG(c *tg.Channel) domain.Channel {
	kind := domain.ChannelKindSupergroup
	if c.Broadcast {
		kind = domain.ChannelKindBroadcast
	}
	return domain.Channel{
		ID:         c.ID,
		AccessHash: c.AccessHash,
		Username:   c.Username,
		Title:      c.Title,
		Kind:       kind,
	}
}

// inputPeer строит адрес чата для запросов истории.
func inputPeer(ch domain.Channel) tg.InputPeerClass {
	if ch.Kind == domain.ChannelKindChat {
		return &tg.InputPeerChat{ChatID: ch.ID}
	}
	return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
}

func inputChannel(ch domain.Channel) *tg.InputChannel {
	return &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
}

// mapRPCError переводит ошибки Telegram в доменные.
func mapRPCError(err error, target string) error {
	switch {
	case tgerr.Is(err, "CHANNEL_PRIVATE", "CHAT_FORBIDDEN", "CHAT_ADMIN_REQUIRED", "CHANNEL_PUBLIC_GROUP_NA", "USER_BANNED_IN_CHANNEL"):
		return fmt.Errorf("%w: %s: %w", domain.ErrChannelAccessDenied, target, err)
	case tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID", "CHANNEL_INVALID", "PEER_ID_INVALID", "CHAT_ID_INVALID"):
		return fmt.Errorf("%w: %s: %w", domain.ErrChannelNotFound, target, err)
	default:
		return fmt.Errorf("%w: %s: %w", domain.ErrUnclassifiedRemote, target, err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrChannelNotFound)
}
