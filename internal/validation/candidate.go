// Package validation содержит функции валидации входных данных.
package validation

import (
	"net/mail"
	"strings"
)

// MaxCandidateIDLength ограничивает длину идентификатора участника.
const MaxCandidateIDLength = 64

// IsValidCandidateID проверяет идентификатор участника: латиница, цифры, '-', '_' и '.'.
func IsValidCandidateID(id string) bool {
	if id == "" || len(id) > MaxCandidateIDLength {
		return false
	}

	for i := 0; i < len(id); i++ {
		ch := id[i]
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_' || ch == '.':
		default:
			return false
		}
	}

	return true
}

// IsValidEmail проверяет, что строка является одиночным адресом без отображаемого имени.
// Пустой адрес допустим: email участника необязателен.
func IsValidEmail(email string) bool {
	if email == "" {
		return true
	}

	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}

	return addr.Address == email && strings.Contains(addr.Address, "@")
}
