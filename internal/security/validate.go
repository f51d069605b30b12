package security

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrInputTooLong      = errors.New("security: input exceeds maximum length")
	ErrNullByte          = errors.New("security: null byte in input")
	ErrInvalidUTF8       = errors.New("security: invalid UTF-8")
	ErrControlCharacters = errors.New("security: control characters in input")
)

// InputValidator screens strings arriving from outside the process,
// session tokens over the control socket foremost. Null bytes are
// always rejected; everything else is opt-in per field.
type InputValidator struct {
	// MaxLength caps the input in bytes; 0 means unlimited.
	MaxLength int

	// RequireUTF8 rejects byte sequences that are not valid UTF-8.
	RequireUTF8 bool

	// AllowControlChars permits control characters other than
	// tab/newline. Session tokens never carry them.
	AllowControlChars bool
}

// Validate reports the first rule the input violates, nil if clean.
func (v *InputValidator) Validate(input string) error {
	if v.MaxLength > 0 && len(input) > v.MaxLength {
		return fmt.Errorf("%w: %d > %d", ErrInputTooLong, len(input), v.MaxLength)
	}
	if strings.IndexByte(input, 0) >= 0 {
		return ErrNullByte
	}
	if v.RequireUTF8 && !utf8.ValidString(input) {
		return ErrInvalidUTF8
	}
	if !v.AllowControlChars {
		for _, r := range input {
			if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
				return ErrControlCharacters
			}
		}
	}
	return nil
}
