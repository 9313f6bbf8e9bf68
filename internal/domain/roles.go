package domain

import "strings"

// RoleKind описывает группу участников чата.
type RoleKind string

const (
	RoleAdmins  RoleKind = "admins"
	RoleCreator RoleKind = "creator"
	RoleBots    RoleKind = "bots"
	RoleMembers RoleKind = "members"
	// RoleRank выбирает администраторов с заданной подписью (custom title).
	RoleRank RoleKind = "rank"
)

// Role описывает роль, по которой выгружаются участники.
type Role struct {
	Kind RoleKind
	Rank string
}

var roleAliases = map[string]RoleKind{
	"admins":         RoleAdmins,
	"admin":          RoleAdmins,
	"администраторы": RoleAdmins,
	"админы":         RoleAdmins,
	"creator":        RoleCreator,
	"owner":          RoleCreator,
	"владелец":       RoleCreator,
	"bots":           RoleBots,
	"боты":           RoleBots,
	"members":        RoleMembers,
	"all":            RoleMembers,
	"участники":      RoleMembers,
}

// ParseRole разбирает ввод пользователя. Кавычки снимаются, неизвестное значение считается подписью администратора.
func ParseRole(input string) (Role, bool) {
	trimmed := strings.TrimSpace(input)
	if len(trimmed) >= 2 {
		first, last := trimmed[0], trimmed[len(trimmed)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			trimmed = strings.TrimSpace(trimmed[1 : len(trimmed)-1])
		}
	}
	if trimmed == "" {
		return Role{}, false
	}
	if kind, ok := roleAliases[strings.ToLower(trimmed)]; ok {
		return Role{Kind: kind}, true
	}
	return Role{Kind: RoleRank, Rank: trimmed}, true
}

// Name возвращает человекочитаемое имя роли.
func (r Role) Name() string {
	if r.Kind == RoleRank {
		return r.Rank
	}
	return string(r.Kind)
}

// Matches проверяет, относится ли участник к роли.
func (r Role) Matches(m Member) bool {
	switch r.Kind {
	case RoleAdmins:
		return m.Status == MemberStatusAdmin || m.Status == MemberStatusCreator
	case RoleCreator:
		return m.Status == MemberStatusCreator
	case RoleBots:
		return m.Bot
	case RoleRank:
		return m.Status != MemberStatusMember && strings.EqualFold(strings.TrimSpace(m.Rank), r.Rank)
	default:
		return true
	}
}
