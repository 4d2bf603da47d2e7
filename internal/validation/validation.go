package validation

import (
	"errors"
	"strings"
)

// MaxPlaceLen is the maximum accepted place length in runes.
const MaxPlaceLen = 100

// ErrPlaceEmpty is returned when the place is empty or whitespace-only after trim.
var ErrPlaceEmpty = errors.New("place is required")

// ErrPlaceTooLong is returned when the place length exceeds MaxPlaceLen.
var ErrPlaceTooLong = errors.New("place too long")

// ErrPlaceForbiddenChars is returned when the place contains disallowed characters.
var ErrPlaceForbiddenChars = errors.New("place contains forbidden characters")

// ValidatePlace trims the input, enforces the length bound, and rejects
// characters that could smuggle markup or path syntax into storage keys
// and log lines. Returns the trimmed string. Normalization (lowercase)
// is left to the service layer.
func ValidatePlace(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrPlaceEmpty
	}
	if len(r) > MaxPlaceLen {
		return "", ErrPlaceTooLong
	}
	for _, c := range r {
		if isForbiddenPlaceRune(c) {
			return "", ErrPlaceForbiddenChars
		}
	}
	return s, nil
}

func isForbiddenPlaceRune(r rune) bool {
	switch r {
	case '<', '>', '"', '\\', '[', ']':
		return true
	}
	return false
}
