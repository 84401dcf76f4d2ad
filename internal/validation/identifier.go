// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxUserIDLength = 64
	maxTitleLength  = 512
)

// IsValidUserID проверяет идентификатор читателя: непустая строка ограниченной
// длины без пробельных и управляющих символов.
func IsValidUserID(id string) bool {
	if id == "" || len(id) > maxUserIDLength || !utf8.ValidString(id) {
		return false
	}

	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}

	return true
}

// IsValidTitle проверяет название книги: непустая после обрезки пробелов
// строка ограниченной длины без управляющих символов.
func IsValidTitle(title string) bool {
	if strings.TrimSpace(title) == "" || len(title) > maxTitleLength || !utf8.ValidString(title) {
		return false
	}

	for _, r := range title {
		if unicode.IsControl(r) {
			return false
		}
	}

	return true
}
