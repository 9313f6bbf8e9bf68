package members

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/usecase/daterange"
	"tg-activity-bot/internal/usecase/export"
)

type fakeOutbox struct {
	texts []string
	docs  []string
}

func (o *fakeOutbox) SendText(_ context.Context, _ int64, text string) error {
	o.texts = append(o.texts, text)
	return nil
}

func (o *fakeOutbox) SendDocument(_ context.Context, _ int64, name string, _ []byte, _ string) error {
	o.docs = append(o.docs, name)
	return nil
}

func (o *fakeOutbox) SendPhoto(context.Context, int64, string, []byte, string) error { return nil }

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, ref string) (domain.Channel, error) {
	if ref == "team" {
		return domain.Channel{ID: 5, Username: "team", Kind: domain.ChannelKindSupergroup}, nil
	}
	return domain.Channel{}, fmt.Errorf("%w: %s", domain.ErrChannelNotFound, ref)
}

func (fakeResolver) ResolveAll(context.Context) ([]domain.Channel, error) { return nil, nil }

type fakeMembers struct {
	members []domain.Member
	err     error
	roles   []domain.Role
}

func (f *fakeMembers) Members(_ context.Context, _ domain.Channel, role domain.Role) iter.Seq2[domain.Member, error] {
	f.roles = append(f.roles, role)
	return func(yield func(domain.Member, error) bool) {
		if f.err != nil {
			yield(domain.Member{}, f.err)
			return
		}
		for _, m := range f.members {
			if !yield(m, nil) {
				return
			}
		}
	}
}

type fakeSheets struct {
	appended int
}

func (f *fakeSheets) SheetTitles(context.Context) ([]string, error) {
	return []string{export.SheetRoles}, nil
}
func (f *fakeSheets) AddSheet(context.Context, string) error              { return nil }
func (f *fakeSheets) GetValues(context.Context, string) ([][]any, error)  { return nil, nil }
func (f *fakeSheets) UpdateValues(context.Context, string, [][]any) error { return nil }
func (f *fakeSheets) AppendValues(_ context.Context, _ string, values [][]any) error {
	f.appended += len(values)
	return nil
}

func day(d int) time.Time {
	return time.Date(2026, 1, d, 12, 0, 0, 0, time.UTC)
}

func newService(t *testing.T, src domain.MemberSource, sheets domain.SheetsAPI) (*Service, *fakeOutbox) {
	t.Helper()
	parser, err := daterange.NewParser(daterange.Config{Location: time.UTC, Grammar: "YYYY-MM-DD"})
	require.NoError(t, err)
	out := &fakeOutbox{}
	var writer *export.SheetWriter
	if sheets != nil {
		writer = export.NewSheetWriter(sheets, nil, export.SheetWriterConfig{}, zerolog.Nop())
	}
	svc := NewService(fakeResolver{}, src, parser, out, writer, nil, Config{ProgressEvery: 2, ChunkLimit: 4000, ZoneName: "UTC"}, zerolog.Nop())
	svc.now = func() time.Time { return day(20) }
	return svc, out
}

func roleJob(role string) domain.ReportJob {
	return domain.ReportJob{
		ID:          "job-2",
		Kind:        domain.ReportKindRoleExport,
		ChatID:      100,
		ChannelArgs: []string{"team"},
		StartText:   "2026-01-10",
		Role:        role,
	}
}

func TestRunExportsRankedAdmins(t *testing.T) {
	src := &fakeMembers{members: []domain.Member{
		{UserID: 1, Username: "alice", Status: domain.MemberStatusAdmin, Rank: "Media Team", RoleName: "Media Team", JoinedAt: day(2)},
		{UserID: 2, Username: "bob", Status: domain.MemberStatusAdmin, Rank: "Support", RoleName: "Support", JoinedAt: day(3)},
		{UserID: 3, Username: "carol", Status: domain.MemberStatusAdmin, Rank: "media team", RoleName: "media team", JoinedAt: day(15)},
		{UserID: 4, Username: "helper_bot", Status: domain.MemberStatusAdmin, Rank: "Media Team", RoleName: "bot", Bot: true},
		{UserID: 5, Username: "owner", Status: domain.MemberStatusCreator, Rank: "Media Team", RoleName: "Media Team"},
	}}
	sheets := &fakeSheets{}
	svc, out := newService(t, src, sheets)

	require.NoError(t, svc.Run(context.Background(), roleJob(`"Media Team"`)))

	text := strings.Join(out.texts, "\n")
	assert.Contains(t, text, "📋 <b>Экспорт роли: Media Team</b>")
	assert.Contains(t, text, "• <b>Найдено пользователей</b>: 2")
	assert.Contains(t, text, "@alice")
	assert.Contains(t, text, "@owner")
	assert.NotContains(t, text, "@carol")
	assert.NotContains(t, text, "@helper_bot")
	assert.Contains(t, text, "⏳ Просмотрено 2 участников...")
	assert.Equal(t, []string{"role_export_MediaTeam_2026-01-10.csv"}, out.docs)
	assert.Equal(t, 2, sheets.appended)
	require.Len(t, src.roles, 1)
	assert.Equal(t, domain.RoleRank, src.roles[0].Kind)
}

func TestRunBotsRoleKeepsBots(t *testing.T) {
	src := &fakeMembers{members: []domain.Member{
		{UserID: 1, Username: "alice", Status: domain.MemberStatusMember},
		{UserID: 4, Username: "helper_bot", Status: domain.MemberStatusMember, Bot: true, RoleName: "bot"},
	}}
	svc, out := newService(t, src, nil)

	require.NoError(t, svc.Run(context.Background(), roleJob("bots")))
	text := strings.Join(out.texts, "\n")
	assert.Contains(t, text, "@helper_bot")
	assert.NotContains(t, text, "@alice")
}

func TestRunNobodyFound(t *testing.T) {
	svc, out := newService(t, &fakeMembers{}, &fakeSheets{})

	require.NoError(t, svc.Run(context.Background(), roleJob("admins")))
	assert.Contains(t, strings.Join(out.texts, "\n"), "Пользователи с ролью <b>admins</b> не найдены")
	assert.Empty(t, out.docs)
}

func TestRunUserErrors(t *testing.T) {
	tests := []struct {
		name string
		job  func() domain.ReportJob
		src  *fakeMembers
		want string
	}{
		{
			name: "bad date",
			job:  func() domain.ReportJob { j := roleJob("admins"); j.StartText = "10.01.2026"; return j },
			src:  &fakeMembers{},
			want: "Неверный формат даты",
		},
		{
			name: "no role",
			job:  func() domain.ReportJob { return roleJob("  ") },
			src:  &fakeMembers{},
			want: "Укажите роль",
		},
		{
			name: "unknown chat",
			job:  func() domain.ReportJob { j := roleJob("admins"); j.ChannelArgs = []string{"other"}; return j },
			src:  &fakeMembers{},
			want: "Чат не найден",
		},
		{
			name: "access denied",
			job:  func() domain.ReportJob { return roleJob("admins") },
			src:  &fakeMembers{err: domain.ErrChannelAccessDenied},
			want: "нет прав на просмотр участников",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, out := newService(t, tt.src, nil)
			require.NoError(t, svc.Run(context.Background(), tt.job()))
			require.NotEmpty(t, out.texts)
			assert.Contains(t, out.texts[len(out.texts)-1], tt.want)
		})
	}
}
