// Package code implements session codes, the short human-typeable
// tokens that pair an agent with a technician.
//
// A code is 9 characters from [0-9A-Z] shown in groups of three,
// e.g. 785-234-991 or K7Q-2MX-9PD. Input is case-insensitive and may
// carry dashes or spaces between the groups.
package code

import (
	"errors"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	Length    = 9
	GroupSize = 3
	separator = '-'
)

// Alphabet is used for new codes.
// It skips 0/O and 1/I so a code read over the phone survives.
const Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

var ErrInvalidCode = errors.New("invalid session code")

// Code is a canonical session code in its grouped form.
type Code string

// Parse canonicalizes user input into a Code.
func Parse(s string) (Code, error) {
	var b strings.Builder
	b.Grow(Length)
	for _, r := range s {
		switch {
		case r == separator || r == ' ':
			continue
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
			r -= 'a' - 'A'
		default:
			return "", ErrInvalidCode
		}
		if b.Len() == Length {
			return "", ErrInvalidCode
		}
		b.WriteRune(r)
	}
	if b.Len() != Length {
		return "", ErrInvalidCode
	}
	return group(b.String()), nil
}

// Generate makes a new random code.
func Generate() (Code, error) {
	raw, err := gonanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", err
	}
	return group(raw), nil
}

func group(raw string) Code {
	var b strings.Builder
	b.Grow(Length + Length/GroupSize - 1)
	for i := 0; i < len(raw); i++ {
		if i > 0 && i%GroupSize == 0 {
			b.WriteByte(separator)
		}
		b.WriteByte(raw[i])
	}
	return Code(b.String())
}

func (c Code) String() string { return string(c) }

// Compact returns the code without separators.
func (c Code) Compact() string { return strings.ReplaceAll(string(c), string(separator), "") }

func (c Code) IsEmpty() bool { return c == "" }
