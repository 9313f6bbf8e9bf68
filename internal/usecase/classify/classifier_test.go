package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-activity-bot/internal/domain"
)

var lifecycle = domain.Categories{
	"hired": {"принят", "нанят", "hired"},
	"fired": {"уволен", "fired"},
}

func human() domain.Author {
	return domain.Author{ID: 7, Username: "alice"}
}

func TestClassifyZeroMessage(t *testing.T) {
	c, err := New(Options{Categories: lifecycle})
	require.NoError(t, err)

	res := c.Classify(domain.Message{})
	assert.True(t, res.Attributable)
	assert.False(t, res.HasImage)
	assert.False(t, res.HasLink)
	assert.Empty(t, res.AttachmentKinds)
	assert.Empty(t, res.MatchedCategories)
}

func TestClassifyChannelPostIsAttributable(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)

	res := c.Classify(domain.Message{
		Author:      domain.Author{ID: -1_000_000_000_042, Username: "news", DisplayName: "Новости"},
		Attachments: []domain.Attachment{{Filename: "photo.jpg", ContentType: "image/jpeg"}},
	})
	assert.True(t, res.Attributable)
	assert.True(t, res.HasImage)
}

func TestClassifyBotIsNotAttributable(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)

	res := c.Classify(domain.Message{Author: domain.Author{ID: 1, Bot: true}, Text: "hi"})
	assert.False(t, res.Attributable)
}

func TestClassifyWholeWordCategories(t *testing.T) {
	c, err := New(Options{Categories: lifecycle})
	require.NoError(t, err)

	tests := []struct {
		text string
		want []string
	}{
		{text: "Иван принят в команду", want: []string{"hired"}},
		{text: "ПРИНЯТ!", want: []string{"hired"}},
		{text: "это непринятый коммит", want: nil},
		{text: "принятый вариант", want: nil},
		{text: "Пётр уволен, Анна нанята", want: []string{"fired"}},
		{text: "hired, then fired", want: []string{"fired", "hired"}},
		{text: "firedrill", want: nil},
	}
	for _, tt := range tests {
		res := c.Classify(domain.Message{Author: human(), Text: tt.text})
		assert.Equal(t, tt.want, res.MatchedCategories, tt.text)
	}
}

func TestClassifyAttachments(t *testing.T) {
	msg := domain.Message{
		Author: human(),
		Text:   "смотрите https://example.com",
		Attachments: []domain.Attachment{
			{Filename: "a.png", ContentType: "image/png"},
			{Filename: "b.bin", ContentType: "application/octet-stream"},
			{Filename: "c.mp4", ContentType: "video/mp4"},
		},
	}

	strict, err := New(Options{})
	require.NoError(t, err)
	res := strict.Classify(msg)
	assert.True(t, res.Attributable)
	assert.True(t, res.HasImage)
	assert.True(t, res.HasLink)
	assert.Equal(t, []AttachmentKind{KindImage, KindDocument, KindVideo}, res.AttachmentKinds)
	assert.Equal(t, 1, res.ImageCount())

	lenient, err := New(Options{TreatOctetStreamAsImage: true})
	require.NoError(t, err)
	assert.Equal(t, 2, lenient.Classify(msg).ImageCount())
}

func TestClassifyOctetStreamAloneIsNotImage(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)

	res := c.Classify(domain.Message{Author: human(), Attachments: []domain.Attachment{{ContentType: "application/octet-stream"}}})
	assert.False(t, res.HasImage)
}

func TestNewRejectsEmptyKeywords(t *testing.T) {
	_, err := New(Options{Categories: domain.Categories{"hired": {" "}}})
	assert.Error(t, err)
	_, err = New(Options{Categories: domain.Categories{"fired": nil}})
	assert.Error(t, err)
}
