package classify

import (
	"fmt"
	"regexp"
	"strings"

	"tg-activity-bot/internal/domain"
)

// AttachmentKind описывает грубый тип вложения по content type.
type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindVideo    AttachmentKind = "video"
	KindAudio    AttachmentKind = "audio"
	KindDocument AttachmentKind = "document"
	KindOther    AttachmentKind = "other"
)

const octetStream = "application/octet-stream"

// Result содержит итог классификации одного сообщения.
type Result struct {
	Attributable      bool
	HasImage          bool
	HasLink           bool
	AttachmentKinds   []AttachmentKind
	MatchedCategories []string
}

// ImageCount возвращает число вложений-изображений.
func (r Result) ImageCount() int {
	n := 0
	for _, k := range r.AttachmentKinds {
		if k == KindImage {
			n++
		}
	}
	return n
}

// Options настраивает классификатор.
type Options struct {
	Categories domain.Categories
	// TreatOctetStreamAsImage считает application/octet-stream изображением.
	TreatOctetStreamAsImage bool
}

type category struct {
	name string
	re   *regexp.Regexp
}

// Classifier зависит только от сообщения и конфигурации.
type Classifier struct {
	categories   []category
	octetAsImage bool
}

// New компилирует категории. Ключевые слова ищутся целым словом без учёта регистра.
func New(opts Options) (*Classifier, error) {
	if err := opts.Categories.Validate(); err != nil {
		return nil, err
	}
	c := &Classifier{octetAsImage: opts.TreatOctetStreamAsImage}
	for _, name := range opts.Categories.Names() {
		re, err := wholeWordRegexp(opts.Categories[name])
		if err != nil {
			return nil, fmt.Errorf("категория %q: %w", name, err)
		}
		c.categories = append(c.categories, category{name: name, re: re})
	}
	return c, nil
}

// \b в RE2 работает только с ASCII, поэтому границы слова задаются явно через классы Unicode.
func wholeWordRegexp(keywords []string) (*regexp.Regexp, error) {
	quoted := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		quoted = append(quoted, regexp.QuoteMeta(strings.TrimSpace(kw)))
	}
	pattern := `(?i)(?:^|[^\p{L}\p{N}_])(?:` + strings.Join(quoted, "|") + `)(?:$|[^\p{L}\p{N}_])`
	return regexp.Compile(pattern)
}

// Classify никогда не падает: у пустого сообщения все признаки содержимого false.
// Неатрибутируемы только сообщения ботов; посты каналов приходят с идентификатором канала.
func (c *Classifier) Classify(msg domain.Message) Result {
	res := Result{
		Attributable: !msg.Author.Bot,
		HasLink:      strings.Contains(msg.Text, "http://") || strings.Contains(msg.Text, "https://"),
	}
	for _, att := range msg.Attachments {
		kind := c.kindOf(att.ContentType)
		if kind == KindImage {
			res.HasImage = true
		}
		res.AttachmentKinds = append(res.AttachmentKinds, kind)
	}
	if msg.Text != "" {
		for _, cat := range c.categories {
			if cat.re.MatchString(msg.Text) {
				res.MatchedCategories = append(res.MatchedCategories, cat.name)
			}
		}
	}
	return res
}

func (c *Classifier) kindOf(contentType string) AttachmentKind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	case ct == octetStream && c.octetAsImage:
		return KindImage
	case strings.HasPrefix(ct, "video/"):
		return KindVideo
	case strings.HasPrefix(ct, "audio/"):
		return KindAudio
	case strings.HasPrefix(ct, "application/"), strings.HasPrefix(ct, "text/"):
		return KindDocument
	default:
		return KindOther
	}
}

// IsImage сообщает, считается ли вложение с таким content type изображением.
func (c *Classifier) IsImage(contentType string) bool {
	return c.kindOf(contentType) == KindImage
}

// CategoryNames возвращает имена категорий по алфавиту.
func (c *Classifier) CategoryNames() []string {
	names := make([]string, 0, len(c.categories))
	for _, cat := range c.categories {
		names = append(names, cat.name)
	}
	return names
}
