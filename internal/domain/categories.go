package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Categories сопоставляет имя категории со списком ключевых слов.
type Categories map[string][]string

// Validate проверяет, что у каждой категории есть имя и хотя бы одно непустое слово.
func (c Categories) Validate() error {
	for name, keywords := range c {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("категория без имени")
		}
		if len(keywords) == 0 {
			return fmt.Errorf("категория %q: нет ключевых слов", name)
		}
		for _, kw := range keywords {
			if strings.TrimSpace(kw) == "" {
				return fmt.Errorf("категория %q: пустое ключевое слово", name)
			}
		}
	}
	return nil
}

// Names возвращает имена категорий в алфавитном порядке.
func (c Categories) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
