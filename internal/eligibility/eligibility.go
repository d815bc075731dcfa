// Package eligibility screens a registration request before any store is
// touched.
//
// Screening has two halves: structural validation of the national identifier
// (format, embedded birth date, checksum) and a lookup against the authority
// registry. Both run on raw input; nothing here persists or logs the
// identifier.
package eligibility

import (
	"context"
	"time"

	dErrors "electorate/pkg/domain-errors"
	"electorate/pkg/platform/normalize"
)

// MinimumAge is the age a person must have reached to register.
const MinimumAge = 18

// Screener validates identifiers and cross-checks the authority registry.
type Screener struct {
	registry Registry
	now      func() time.Time
}

// Option configures a Screener.
type Option func(*Screener)

// WithClock injects a time source for age and birth-date checks.
func WithClock(now func() time.Time) Option {
	return func(s *Screener) { s.now = now }
}

// NewScreener creates a Screener backed by the given registry.
func NewScreener(registry Registry, opts ...Option) *Screener {
	s := &Screener{registry: registry, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Screen checks that the person identified by the national identifier may
// register. Returns nil when eligible; otherwise a coded domain error:
// CodeValidation for a malformed identifier, CodeNotFound when the authority
// registry does not know the identifier, CodeForbidden when the registry
// marks the person ineligible or underage.
func (s *Screener) Screen(ctx context.Context, fullName, nationalID string) error {
	canonical := normalize.Identifier(nationalID)
	if err := s.validate(canonical); err != nil {
		return err
	}

	person, err := s.registry.Lookup(ctx, canonical)
	if err != nil {
		return err
	}
	if !person.Eligible {
		return dErrors.New(dErrors.CodeForbidden, "person is not eligible to register")
	}
	if normalize.FullName(person.FullName) != normalize.FullName(fullName) {
		return dErrors.New(dErrors.CodeValidation, "name does not match the authority registry")
	}
	if s.age(person.BirthDate) < MinimumAge {
		return dErrors.Newf(dErrors.CodeForbidden, "person must be at least %d years old", MinimumAge)
	}
	return nil
}

// validate checks the structural rules of the national identifier: exactly
// 11 digits, a century/sex marker in the first position, a plausible embedded
// birth date, and a valid mod-11 checksum.
func (s *Screener) validate(code string) error {
	if len(code) != 11 {
		return dErrors.New(dErrors.CodeValidation, "national identifier must be exactly 11 digits")
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return dErrors.New(dErrors.CodeValidation, "national identifier must contain only digits")
		}
	}

	century := ""
	switch code[0] {
	case '3', '4':
		century = "19"
	case '5', '6':
		century = "20"
	default:
		return dErrors.New(dErrors.CodeValidation, "national identifier century marker must be 3, 4, 5 or 6")
	}

	birth, err := time.Parse("20060102", century+code[1:7])
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "national identifier encodes an invalid birth date")
	}
	if birth.After(s.now()) {
		return dErrors.New(dErrors.CodeValidation, "national identifier encodes a future birth date")
	}

	if !checksumValid(code) {
		return dErrors.New(dErrors.CodeValidation, "national identifier checksum is invalid")
	}
	return nil
}

// checksumValid implements the standard two-pass mod-11 check: the first
// weight row decides unless it yields 10, in which case the second row is
// used, with a second 10 collapsing to 0.
func checksumValid(code string) bool {
	weights1 := [10]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 1}
	weights2 := [10]int{3, 4, 5, 6, 7, 8, 9, 1, 2, 3}

	sum := 0
	for i := 0; i < 10; i++ {
		sum += int(code[i]-'0') * weights1[i]
	}
	remainder := sum % 11
	if remainder == 10 {
		sum = 0
		for i := 0; i < 10; i++ {
			sum += int(code[i]-'0') * weights2[i]
		}
		remainder = sum % 11
		if remainder == 10 {
			remainder = 0
		}
	}
	return remainder == int(code[10]-'0')
}

func (s *Screener) age(birth time.Time) int {
	now := s.now()
	years := now.Year() - birth.Year()
	if now.YearDay() < birth.YearDay() {
		years--
	}
	return years
}
