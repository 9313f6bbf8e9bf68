// Package export выгружает результаты агрегации в CSV и в удалённую таблицу.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"tg-activity-bot/internal/domain"
)

// DefaultMaxBytes ограничивает размер файла для загрузки в чат.
const DefaultMaxBytes = 8_000_000

const (
	timestampLayout = "2006-01-02 15:04:05"
	dayLayout       = "2006-01-02"

	filesSep   = "; "
	numbersSep = ", "
	urlsSep    = " | "
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// PublicationsHeader перечисляет колонки CSV с публикациями.
var PublicationsHeader = []string{
	"number", "author", "user_id", "channel", "message_url", "timestamp",
	"attachments_count", "attachment_numbers", "files", "urls", "categories", "has_link",
}

// RankingHeader перечисляет колонки CSV с рейтингом.
var RankingHeader = []string{"place", "author", "user_id", "publications", "attachments", "images", "links"}

// ImagesHeader перечисляет колонки CSV с изображениями.
var ImagesHeader = []string{
	"number", "publication_number", "author", "user_id", "channel", "message_url",
	"timestamp", "attachment_number", "filename", "url", "content_type",
}

// MembersHeader перечисляет колонки CSV с участниками роли.
var MembersHeader = []string{"number", "user_id", "username", "display_name", "joined_at", "role_name", "export_date"}

// PublicationsCSV кодирует публикации, время выводится в поясе loc.
func PublicationsCSV(pubs []domain.Publication, loc *time.Location) ([]byte, error) {
	rows := make([][]string, 0, len(pubs))
	for i, p := range pubs {
		numbers := make([]string, 0, len(p.Attachments))
		files := make([]string, 0, len(p.Attachments))
		urls := make([]string, 0, len(p.Attachments))
		for _, a := range p.Attachments {
			numbers = append(numbers, strconv.Itoa(a.Number))
			files = append(files, a.Filename)
			urls = append(urls, a.URL)
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			p.Author.String(),
			strconv.FormatInt(p.Author.ID, 10),
			p.ChannelName,
			p.Permalink,
			p.Timestamp.In(location(loc)).Format(timestampLayout),
			strconv.Itoa(p.AttachmentCount()),
			strings.Join(numbers, numbersSep),
			strings.Join(files, filesSep),
			strings.Join(urls, urlsSep),
			strings.Join(p.Categories, filesSep),
			strconv.FormatBool(p.HasLink),
		})
	}
	return encode(PublicationsHeader, rows)
}

// RankingCSV кодирует позиции рейтинга.
func RankingCSV(entries []domain.RankingEntry) ([]byte, error) {
	rows := make([][]string, 0, len(entries))
	for i, e := range entries {
		s := e.Subject
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			s.Author.String(),
			strconv.FormatInt(s.Author.ID, 10),
			strconv.Itoa(s.MessageCount),
			strconv.Itoa(s.AttachmentCount),
			strconv.Itoa(s.ImageCount),
			strconv.Itoa(s.LinkCount),
		})
	}
	return encode(RankingHeader, rows)
}

// ImagesCSV выводит по строке на каждое вложение, которое isImage признаёт изображением.
func ImagesCSV(pubs []domain.Publication, loc *time.Location, isImage func(contentType string) bool) ([]byte, error) {
	var rows [][]string
	for i, p := range pubs {
		for _, a := range p.Attachments {
			if !isImage(a.ContentType) {
				continue
			}
			rows = append(rows, []string{
				strconv.Itoa(len(rows) + 1),
				strconv.Itoa(i + 1),
				p.Author.String(),
				strconv.FormatInt(p.Author.ID, 10),
				p.ChannelName,
				p.Permalink,
				p.Timestamp.In(location(loc)).Format(timestampLayout),
				strconv.Itoa(a.Number),
				a.Filename,
				a.URL,
				a.ContentType,
			})
		}
	}
	return encode(ImagesHeader, rows)
}

// MembersCSV кодирует участников, выгруженных на дату day.
func MembersCSV(members []domain.Member, day time.Time) ([]byte, error) {
	rows := make([][]string, 0, len(members))
	for i, m := range members {
		joined := ""
		if !m.JoinedAt.IsZero() {
			joined = m.JoinedAt.In(day.Location()).Format(timestampLayout)
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.FormatInt(m.UserID, 10),
			m.Username,
			m.Name(),
			joined,
			m.RoleName,
			day.Format(dayLayout),
		})
	}
	return encode(MembersHeader, rows)
}

func encode(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("запись заголовка csv: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("запись csv: %w", err)
	}
	return buf.Bytes(), nil
}

// CheckSize проверяет размер файла до отправки. limit <= 0 означает DefaultMaxBytes.
func CheckSize(data []byte, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if len(data) > limit {
		return fmt.Errorf("%d байт при лимите %d: %w", len(data), limit, domain.ErrExportTooLarge)
	}
	return nil
}

var unsafeFileChars = regexp.MustCompile(`[\\/*?:"<>|\s]`)

// SafeName убирает из имени недопустимые в файлах символы и обрезает его до 30 символов.
func SafeName(name string) string {
	cleaned := unsafeFileChars.ReplaceAllString(name, "")
	runes := []rune(cleaned)
	if len(runes) > 30 {
		runes = runes[:30]
	}
	return string(runes)
}

// ActivityFileName строит имя CSV отчёта по первым трём каналам и границам периода.
func ActivityFileName(channels []domain.Channel, interval domain.DateInterval) string {
	names := make([]string, 0, 3)
	for i, ch := range channels {
		if i == 3 {
			break
		}
		names = append(names, ch.Name())
	}
	return fmt.Sprintf("activity_report_%s_%s_%s.csv",
		SafeName(strings.Join(names, "_")),
		interval.FirstDay().Format(dayLayout),
		interval.LastDay().Format(dayLayout))
}

// RoleFileName строит имя CSV выгрузки роли.
func RoleFileName(roleName string, day time.Time) string {
	return fmt.Sprintf("role_export_%s_%s.csv", SafeName(roleName), day.Format(dayLayout))
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
