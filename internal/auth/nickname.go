package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"roomchat/internal/apperror"
)

const maxNicknameLength = 20

var forbiddenNames = []string{
	"admin", "administrator", "system", "root", "null", "undefined", "bot",
}

// ValidateNickname trims and checks a display name: 1-20 characters of
// letters, digits, spaces, '_' or '-', not containing a reserved word.
func ValidateNickname(nickname string) (string, error) {
	trimmed := strings.TrimSpace(nickname)

	n := utf8.RuneCountInString(trimmed)
	if n < 1 || n > maxNicknameLength {
		return "", apperror.Validation(apperror.CodeInvalidNickname, "must be 1-20 characters")
	}

	for _, r := range trimmed {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' ' && r != '_' && r != '-' {
			return "", apperror.Validation(apperror.CodeInvalidNickname, "only letters, digits, spaces, _ and - are allowed")
		}
	}

	lower := strings.ToLower(trimmed)
	for _, name := range forbiddenNames {
		if strings.Contains(lower, name) {
			return "", apperror.Validation(apperror.CodeInvalidNickname, "reserved name")
		}
	}

	return trimmed, nil
}
