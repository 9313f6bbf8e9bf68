package telegram

import (
	"strings"
	"unicode"
)

// MessageLimit ограничивает длину одного сообщения Bot API в символах.
const MessageLimit = 4096

// SplitMessage разбивает текст на части не длиннее limit символов.
// Части собираются из целых строк; жёстко режется только строка, которая сама длиннее limit.
// Такой разрез не попадает внутрь HTML-тега или сущности, незакрытые теги переносятся в следующую часть.
// limit <= 0 означает MessageLimit.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || limit > MessageLimit {
		limit = MessageLimit
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len([]rune(trimmed)) <= limit {
		return []string{trimmed}
	}

	var (
		parts   []string
		current []rune
	)
	flush := func() {
		chunk := strings.Trim(string(current), "\n")
		if strings.TrimSpace(chunk) != "" {
			parts = append(parts, chunk)
		}
		current = current[:0]
	}

	for _, line := range strings.Split(trimmed, "\n") {
		runes := []rune(line)
		for len(runes) > limit {
			flush()
			var head []rune
			head, runes = cutLine(runes, limit)
			parts = append(parts, string(head))
		}
		need := len(runes)
		if len(current) > 0 {
			need++
		}
		if len(current)+need > limit {
			flush()
		}
		if len(current) > 0 {
			current = append(current, '\n')
		}
		current = append(current, runes...)
	}
	flush()

	return parts
}

type htmlTag struct {
	name string
	raw  []rune
}

// cutLine отрезает от строки голову не длиннее limit. Разрез ставится между токенами,
// по возможности на пробеле; открытые на месте разреза теги закрываются в голове
// и открываются заново в хвосте. Если в limit не помещается даже разметка,
// длина считается по видимым символам, как её считает Telegram.
func cutLine(runes []rune, limit int) (head, tail []rune) {
	var (
		open          []htmlTag
		raw, rawSpace cutPoint
		vis, visSpace cutPoint
		visible       int
		afterSpace    bool
	)
	for i := 0; ; {
		if visible > 0 {
			at := cutPoint{pos: i, visible: visible, open: open}
			if i+closersLen(open) <= limit {
				raw = at
				if afterSpace {
					rawSpace = at
				}
			}
			if visible <= limit {
				vis = at
				if afterSpace {
					visSpace = at
				}
			}
		}
		if i == len(runes) || visible > limit {
			break
		}
		afterSpace = false
		switch runes[i] {
		case '<':
			if end := indexRune(runes[i:], '>'); end > 0 {
				open = applyTag(open, runes[i:i+end+1])
				i += end + 1
				continue
			}
		case '&':
			if end := indexRune(runes[i:], ';'); end > 1 && end <= 10 {
				visible++
				i += end + 1
				continue
			}
		}
		visible++
		afterSpace = unicode.IsSpace(runes[i])
		i++
	}

	cut := vis
	switch {
	case raw.pos > 0 && rawSpace.pos > limit/2:
		cut = rawSpace
	case raw.pos > 0:
		cut = raw
	case visSpace.visible > limit/2:
		cut = visSpace
	}
	if cut.pos == 0 || cut.pos == len(runes) {
		return runes, nil
	}

	end := cut.pos
	for end > 1 && unicode.IsSpace(runes[end-1]) {
		end--
	}
	head = append([]rune(nil), runes[:end]...)
	for i := len(cut.open) - 1; i >= 0; i-- {
		head = append(head, []rune("</"+cut.open[i].name+">")...)
	}
	for _, tag := range cut.open {
		tail = append(tail, tag.raw...)
	}
	tail = append(tail, runes[cut.pos:]...)
	return head, tail
}

// cutPoint описывает допустимое место разреза.
type cutPoint struct {
	pos     int
	visible int
	open    []htmlTag
}

func applyTag(open []htmlTag, raw []rune) []htmlTag {
	body := strings.TrimSpace(string(raw[1 : len(raw)-1]))
	closing := strings.HasPrefix(body, "/")
	body = strings.TrimPrefix(body, "/")
	fields := strings.FieldsFunc(body, func(r rune) bool { return unicode.IsSpace(r) || r == '/' })
	if len(fields) == 0 {
		return open
	}
	name := strings.ToLower(fields[0])
	if !closing {
		if strings.HasSuffix(body, "/") {
			return open
		}
		return append(open, htmlTag{name: name, raw: raw})
	}
	for i := len(open) - 1; i >= 0; i-- {
		if open[i].name == name {
			return open[:i:i]
		}
	}
	return open
}

func closersLen(open []htmlTag) int {
	n := 0
	for _, tag := range open {
		n += len([]rune(tag.name)) + 3
	}
	return n
}

func indexRune(runes []rune, r rune) int {
	for i, v := range runes {
		if v == r {
			return i
		}
	}
	return -1
}
