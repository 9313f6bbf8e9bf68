package mtproto

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/metrics"
)

const participantsPage = 200

// MembersAPI описывает часть tg.Client для чтения участников.
type MembersAPI interface {
	ChannelsGetParticipants(ctx context.Context, request *tg.ChannelsGetParticipantsRequest) (tg.ChannelsChannelParticipantsClass, error)
	MessagesGetFullChat(ctx context.Context, chatID int64) (*tg.MessagesChatFull, error)
}

// Members перечисляет участников каналов и групп.
type Members struct {
	api MembersAPI
	log zerolog.Logger
}

var _ domain.MemberSource = (*Members)(nil)

// NewMembers создаёт источник участников.
func NewMembers(api MembersAPI, log zerolog.Logger) *Members {
	return &Members{api: api, log: log}
}

// Members отдаёт участников, которых API отбирает по роли. Подпись и дата вступления проверяет вызывающий.
func (m *Members) Members(ctx context.Context, ch domain.Channel, role domain.Role) iter.Seq2[domain.Member, error] {
	if ch.Kind == domain.ChannelKindChat {
		return m.chatMembers(ctx, ch, role)
	}
	return m.channelMembers(ctx, ch, role)
}

func participantsFilter(role domain.Role) tg.ChannelParticipantsFilterClass {
	switch role.Kind {
	case domain.RoleAdmins, domain.RoleCreator, domain.RoleRank:
		return &tg.ChannelParticipantsAdmins{}
	case domain.RoleBots:
		return &tg.ChannelParticipantsBots{}
	default:
		return &tg.ChannelParticipantsRecent{}
	}
}

func (m *Members) channelMembers(ctx context.Context, ch domain.Channel, role domain.Role) iter.Seq2[domain.Member, error] {
	return func(yield func(domain.Member, error) bool) {
		offset := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(domain.Member{}, err)
				return
			}
			req := &tg.ChannelsGetParticipantsRequest{
				Channel: inputChannel(ch),
				Filter:  participantsFilter(role),
				Offset:  offset,
				Limit:   participantsPage,
			}
			start := time.Now()
			res, err := withFloodWait(ctx, m.log, func() (tg.ChannelsChannelParticipantsClass, error) {
				return m.api.ChannelsGetParticipants(ctx, req)
			})
			metrics.ObserveNetworkRequest("mtproto", "channels_get_participants", strconv.FormatInt(ch.ID, 10), start, err)
			if err != nil {
				yield(domain.Member{}, mapRPCError(err, ch.Name()))
				return
			}
			page, ok := res.(*tg.ChannelsChannelParticipants)
			if !ok || len(page.Participants) == 0 {
				return
			}
			users := newEntities(page.Users, nil).users
			for _, p := range page.Participants {
				member, ok := memberFromParticipant(p, users)
				if !ok {
					continue
				}
				if !yield(member, nil) {
					return
				}
			}
			offset += len(page.Participants)
			if offset >= page.Count || len(page.Participants) < participantsPage {
				return
			}
		}
	}
}

func memberFromParticipant(p tg.ChannelParticipantClass, users map[int64]*tg.User) (domain.Member, bool) {
	switch v := p.(type) {
	case *tg.ChannelParticipantCreator:
		return newMember(v.UserID, 0, domain.MemberStatusCreator, v.Rank, users), true
	case *tg.ChannelParticipantAdmin:
		return newMember(v.UserID, v.Date, domain.MemberStatusAdmin, v.Rank, users), true
	case *tg.ChannelParticipant:
		return newMember(v.UserID, v.Date, domain.MemberStatusMember, "", users), true
	case *tg.ChannelParticipantSelf:
		return newMember(v.UserID, v.Date, domain.MemberStatusMember, "", users), true
	default:
		// заблокированные и вышедшие не считаются участниками
		return domain.Member{}, false
	}
}

func newMember(userID int64, joined int, status domain.MemberStatus, rank string, users map[int64]*tg.User) domain.Member {
	member := domain.Member{UserID: userID, Status: status, Rank: rank, RoleName: firstNonEmpty(rank, string(status))}
	if joined > 0 {
		member.JoinedAt = time.Unix(int64(joined), 0).UTC()
	}
	if u, ok := users[userID]; ok {
		author := authorFromUser(u)
		member.Username = author.Username
		member.DisplayName = author.DisplayName
		member.Bot = author.Bot
		if member.Bot && status == domain.MemberStatusMember {
			member.RoleName = "bot"
		}
	}
	return member
}

// chatMembers читает участников обычной группы: API отдаёт их одним списком без фильтров.
func (m *Members) chatMembers(ctx context.Context, ch domain.Channel, role domain.Role) iter.Seq2[domain.Member, error] {
	return func(yield func(domain.Member, error) bool) {
		start := time.Now()
		full, err := withFloodWait(ctx, m.log, func() (*tg.MessagesChatFull, error) {
			return m.api.MessagesGetFullChat(ctx, ch.ID)
		})
		metrics.ObserveNetworkRequest("mtproto", "messages_get_full_chat", strconv.FormatInt(ch.ID, 10), start, err)
		if err != nil {
			yield(domain.Member{}, mapRPCError(err, ch.Name()))
			return
		}
		chat, ok := full.FullChat.(*tg.ChatFull)
		if !ok {
			return
		}
		list, ok := chat.Participants.(*tg.ChatParticipants)
		if !ok {
			yield(domain.Member{}, fmt.Errorf("%w: %s", domain.ErrChannelAccessDenied, ch.Name()))
			return
		}
		users := newEntities(full.Users, nil).users
		for _, p := range list.Participants {
			var member domain.Member
			switch v := p.(type) {
			case *tg.ChatParticipantCreator:
				member = newMember(v.UserID, 0, domain.MemberStatusCreator, "", users)
			case *tg.ChatParticipantAdmin:
				member = newMember(v.UserID, v.Date, domain.MemberStatusAdmin, "", users)
			case *tg.ChatParticipant:
				member = newMember(v.UserID, v.Date, domain.MemberStatusMember, "", users)
			default:
				continue
			}
			if !role.Matches(member) {
				continue
			}
			if !yield(member, nil) {
				return
			}
		}
	}
}
