package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/metrics"
)

// ChatMemberGetter запрашивает статус участника чата.
type ChatMemberGetter interface {
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// ChatAdminAuthorizer пускает создателя чата и администраторов.
// Если задан rank, администратор должен иметь такую подпись. Rank «*» означает любого администратора.
type ChatAdminAuthorizer struct {
	bot  ChatMemberGetter
	rank string
}

var _ domain.Authorizer = (*ChatAdminAuthorizer)(nil)

// NewChatAdminAuthorizer создаёт проверку по статусу в чате.
func NewChatAdminAuthorizer(bot ChatMemberGetter, rank string) *ChatAdminAuthorizer {
	rank = strings.TrimSpace(rank)
	if rank == "*" {
		rank = ""
	}
	return &ChatAdminAuthorizer{bot: bot, rank: rank}
}

// Allowed реализует domain.Authorizer. В личном чате ролей нет, поэтому доступ закрыт.
func (a *ChatAdminAuthorizer) Allowed(_ context.Context, chatID, userID int64) (bool, error) {
	if chatID == userID {
		return false, nil
	}
	start := time.Now()
	member, err := a.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	metrics.ObserveNetworkRequest("telegram_bot", "get_chat_member", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		return false, fmt.Errorf("статус участника: %w", err)
	}
	switch {
	case member.IsCreator():
		return true, nil
	case member.IsAdministrator():
		return a.rank == "" || strings.EqualFold(strings.TrimSpace(member.CustomTitle), a.rank), nil
	default:
		return false, nil
	}
}
