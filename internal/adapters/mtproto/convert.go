package mtproto

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/gotd/td/tg"

	"tg-activity-bot/internal/domain"
)

// entities хранит пользователей и чаты из ответа API.
type entities struct {
	users map[int64]*tg.User
	chats map[int64]*tg.Channel
}

func newEntities(users []tg.UserClass, chats []tg.ChatClass) entities {
	e := entities{users: make(map[int64]*tg.User, len(users)), chats: make(map[int64]*tg.Channel)}
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			e.users[user.ID] = user
		}
	}
	for _, c := range chats {
		if ch, ok := c.(*tg.Channel); ok {
			e.chats[ch.ID] = ch
		}
	}
	return e
}

// Permalink возвращает ссылку на сообщение. У обычных групп ссылок нет.
func Permalink(ch domain.Channel, msgID int) string {
	switch {
	case ch.Kind == domain.ChannelKindChat:
		return ""
	case ch.Username != "":
		return fmt.Sprintf("https://t.me/%s/%d", ch.Username, msgID)
	default:
		return fmt.Sprintf("https://t.me/c/%d/%d", ch.ID, msgID)
	}
}

func authorFromUser(u *tg.User) domain.Author {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	return domain.Author{ID: u.ID, Username: u.Username, DisplayName: name, Bot: u.Bot}
}

// authorOf определяет автора. Посты от имени канала (и анонимных админов) приписываются
// самому каналу с идентификатором в формате Bot API (-100…).
func authorOf(m *tg.Message, ch domain.Channel, e entities) domain.Author {
	from, ok := m.GetFromID()
	if !ok {
		return channelAuthor(m, ch.ID, ch.Username, ch.Title)
	}
	switch p := from.(type) {
	case *tg.PeerUser:
		if u, ok := e.users[p.UserID]; ok {
			return authorFromUser(u)
		}
		return domain.Author{ID: p.UserID}
	case *tg.PeerChannel:
		if c, ok := e.chats[p.ChannelID]; ok {
			return channelAuthor(m, c.ID, c.Username, c.Title)
		}
		if p.ChannelID == ch.ID {
			return channelAuthor(m, ch.ID, ch.Username, ch.Title)
		}
		return channelAuthor(m, p.ChannelID, "", "")
	default:
		return domain.Author{}
	}
}

func channelAuthor(m *tg.Message, channelID int64, username, title string) domain.Author {
	return domain.Author{
		ID:          -(channelIDOffset + channelID),
		Username:    username,
		DisplayName: firstNonEmpty(m.PostAuthor, title),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// attachmentOf возвращает вложение сообщения, если оно есть.
func attachmentOf(m *tg.Message, permalink string) (domain.Attachment, bool) {
	media, ok := m.GetMedia()
	if !ok {
		return domain.Attachment{}, false
	}
	url := permalink
	if url != "" {
		url += "?single"
	}
	switch v := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := v.GetPhoto()
		if !ok {
			return domain.Attachment{}, false
		}
		return domain.Attachment{
			Filename:    fmt.Sprintf("photo_%d.jpg", photo.GetID()),
			URL:         url,
			ContentType: "image/jpeg",
		}, true
	case *tg.MessageMediaDocument:
		raw, ok := v.GetDocument()
		if !ok {
			return domain.Attachment{}, false
		}
		doc, ok := raw.AsNotEmpty()
		if !ok {
			return domain.Attachment{}, false
		}
		name := fmt.Sprintf("document_%d", doc.ID)
		for _, attr := range doc.Attributes {
			if f, ok := attr.(*tg.DocumentAttributeFilename); ok && f.FileName != "" {
				name = f.FileName
			}
		}
		return domain.Attachment{Filename: name, URL: url, ContentType: doc.MimeType}, true
	default:
		return domain.Attachment{}, false
	}
}

// mentionsOf извлекает упоминания. Смещения сущностей считаются в UTF-16.
func mentionsOf(m *tg.Message, e entities) []string {
	if len(m.Entities) == 0 {
		return nil
	}
	units := utf16.Encode([]rune(m.Message))
	var out []string
	for _, ent := range m.Entities {
		switch v := ent.(type) {
		case *tg.MessageEntityMention:
			if text := sliceUTF16(units, v.Offset, v.Length); text != "" {
				out = append(out, text)
			}
		case *tg.MessageEntityMentionName:
			if u, ok := e.users[v.UserID]; ok && u.Username != "" {
				out = append(out, "@"+u.Username)
			} else if text := sliceUTF16(units, v.Offset, v.Length); text != "" {
				out = append(out, text)
			}
		}
	}
	return out
}

func sliceUTF16(units []uint16, offset, length int) string {
	if offset < 0 || length <= 0 || offset+length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[offset : offset+length]))
}

// convertMessage переводит сообщение API в доменное.
func convertMessage(m *tg.Message, ch domain.Channel, e entities) domain.Message {
	link := Permalink(ch, m.ID)
	msg := domain.Message{
		ID:        m.ID,
		Author:    authorOf(m, ch, e),
		CreatedAt: time.Unix(int64(m.Date), 0).UTC(),
		Text:      m.Message,
		Mentions:  mentionsOf(m, e),
		Channel:   ch,
		Permalink: link,
	}
	if att, ok := attachmentOf(m, link); ok {
		msg.Attachments = []domain.Attachment{att}
	}
	return msg
}

// album склеивает части альбома (общий grouped_id) в одно сообщение.
type album struct {
	groupedID int64
	msg       *domain.Message
}

// add добавляет сообщение и возвращает сообщения, которые уже собраны полностью.
func (a *album) add(m *tg.Message, converted domain.Message) []domain.Message {
	groupedID, grouped := m.GetGroupedID()
	if grouped && a.msg != nil && groupedID == a.groupedID {
		a.msg.Attachments = append(a.msg.Attachments, converted.Attachments...)
		if strings.TrimSpace(a.msg.Text) == "" {
			a.msg.Text = converted.Text
		}
		a.msg.Mentions = append(a.msg.Mentions, converted.Mentions...)
		return nil
	}
	var out []domain.Message
	if prev, ok := a.flush(); ok {
		out = append(out, prev)
	}
	if grouped {
		a.groupedID = groupedID
		a.msg = &converted
		return out
	}
	return append(out, converted)
}

// flush возвращает накопленное сообщение.
func (a *album) flush() (domain.Message, bool) {
	if a.msg == nil {
		return domain.Message{}, false
	}
	msg := *a.msg
	a.msg = nil
	a.groupedID = 0
	return msg, true
}
