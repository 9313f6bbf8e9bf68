package ranker

import (
	"testing"

	"tg-activity-bot/internal/domain"
)

type row struct {
	id           int64
	name         string
	pubs, atts   int
	hiredMatches int
}

func counters(rows ...row) *domain.UserCounters {
	c := domain.NewUserCounters()
	for _, r := range rows {
		s := c.Touch(domain.Author{ID: r.id, Username: r.name})
		s.MessageCount = r.pubs
		s.AttachmentCount = r.atts
		if r.hiredMatches > 0 {
			s.Categories["hired"] = r.hiredMatches
		}
	}
	return c
}

func names(entries []domain.RankingEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Subject.Author.Username)
	}
	return out
}

func TestTopNOrdersByPrimaryThenSecondary(t *testing.T) {
	c := counters(row{1, "A", 3, 5, 0}, row{2, "B", 3, 2, 0}, row{3, "C", 5, 1, 0})

	got := names(TopN(c, 10, ByPublications, ByAttachments))
	want := []string{"C", "A", "B"}
	if len(got) != len(want) {
		t.Fatalf("ожидали %v, получили %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ожидали %v, получили %v", want, got)
		}
	}
}

func TestTopNKeepsInsertionOrderOnFullTie(t *testing.T) {
	c := counters(row{1, "first", 2, 2, 0}, row{2, "second", 2, 2, 0}, row{3, "third", 2, 2, 0})

	for i := 0; i < 20; i++ {
		got := names(TopN(c, 0, ByPublications, ByAttachments))
		if got[0] != "first" || got[1] != "second" || got[2] != "third" {
			t.Fatalf("порядок должен быть детерминированным, получили %v", got)
		}
	}
}

func TestTopNLimitsAndEmpty(t *testing.T) {
	c := counters(row{1, "a", 1, 0, 0}, row{2, "b", 2, 0, 0}, row{3, "c", 3, 0, 0})
	if got := TopN(c, 2, ByPublications, ByAttachments); len(got) != 2 {
		t.Fatalf("ожидали 2 элемента, получили %d", len(got))
	}
	if got := TopN(c, 10, ByPublications, ByAttachments); len(got) != 3 {
		t.Fatalf("ожидали всех пользователей, получили %d", len(got))
	}
	if got := TopN(domain.NewUserCounters(), 10, ByPublications, ByAttachments); len(got) != 0 {
		t.Fatalf("ожидали пустой результат")
	}
	if got := TopN(nil, 10, ByPublications, ByAttachments); len(got) != 0 {
		t.Fatalf("ожидали пустой результат для nil")
	}
}

func TestTopNNonZeroByCategory(t *testing.T) {
	c := counters(row{1, "a", 1, 0, 0}, row{2, "b", 1, 0, 2}, row{3, "c", 1, 0, 1})

	got := names(TopNNonZero(c, 10, ByCategory("hired"), ByPublications))
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("ожидали [b c], получили %v", got)
	}
}

func TestKeyByName(t *testing.T) {
	if k, ok := KeyByName("Attachments"); !ok || k.Name != ByAttachments.Name {
		t.Fatalf("ожидали ключ attachments")
	}
	if k, ok := KeyByName("category:fired"); !ok || k.Name != "category:fired" {
		t.Fatalf("ожидали ключ категории")
	}
	if _, ok := KeyByName("karma"); ok {
		t.Fatalf("не ожидали ключ karma")
	}
}
