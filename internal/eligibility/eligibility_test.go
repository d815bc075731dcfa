package eligibility

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "electorate/pkg/domain-errors"
)

// Identifiers below pass the mod-11 checksum; 38607123416 exercises the
// second weight row.
const (
	validCode      = "39010112348"
	secondPassCode = "38607123416"
	minorCode      = "60802151230"
)

func fixedNow() time.Time {
	return time.Date(2026, time.February, 1, 12, 0, 0, 0, time.UTC)
}

func seededScreener(t *testing.T) (*Screener, *InMemoryRegistry) {
	t.Helper()
	reg := NewInMemoryRegistry()
	reg.Seed(Person{
		NationalID: validCode,
		FullName:   "Jonas Basanavičius",
		BirthDate:  time.Date(1990, time.October, 11, 0, 0, 0, 0, time.UTC),
		Eligible:   true,
	})
	reg.Seed(Person{
		NationalID: secondPassCode,
		FullName:   "Ona Petrauskienė",
		BirthDate:  time.Date(1986, time.July, 12, 0, 0, 0, 0, time.UTC),
		Eligible:   true,
	})
	reg.Seed(Person{
		NationalID: minorCode,
		FullName:   "Matas Jaunutis",
		BirthDate:  time.Date(2008, time.February, 15, 0, 0, 0, 0, time.UTC),
		Eligible:   true,
	})
	return NewScreener(reg, WithClock(fixedNow)), reg
}

func TestScreen_Eligible(t *testing.T) {
	s, _ := seededScreener(t)

	assert.NoError(t, s.Screen(context.Background(), "Jonas Basanavičius", validCode))

	t.Run("name matching is canonicalized", func(t *testing.T) {
		assert.NoError(t, s.Screen(context.Background(), "  jonas   BASANAVIČIUS ", validCode))
	})

	t.Run("second checksum pass", func(t *testing.T) {
		assert.NoError(t, s.Screen(context.Background(), "Ona Petrauskienė", secondPassCode))
	})

	t.Run("identifier whitespace ignored", func(t *testing.T) {
		assert.NoError(t, s.Screen(context.Background(), "Jonas Basanavičius", "390 1011 2348"))
	})
}

func TestScreen_MalformedIdentifier(t *testing.T) {
	s, _ := seededScreener(t)
	ctx := context.Background()

	cases := map[string]string{
		"too short":          "3901011234",
		"too long":           "390101123480",
		"non-digit":          "3901011234a",
		"bad century marker": "79010112348",
		"bad month":          "39511112348",
		"bad checksum":       "39010112340",
	}
	for name, code := range cases {
		t.Run(name, func(t *testing.T) {
			err := s.Screen(ctx, "Jonas Basanavičius", code)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
		})
	}
}

func TestScreen_FutureBirthDate(t *testing.T) {
	reg := NewInMemoryRegistry()
	// Clock set before the encoded birth date.
	s := NewScreener(reg, WithClock(func() time.Time {
		return time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
	}))

	err := s.Screen(context.Background(), "Jonas Basanavičius", validCode)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestScreen_RegistryOutcomes(t *testing.T) {
	s, reg := seededScreener(t)
	ctx := context.Background()

	t.Run("unknown identifier", func(t *testing.T) {
		err := s.Screen(ctx, "Kazys Grinius", "46003021238")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound), "got %v", err)
	})

	t.Run("ineligible person", func(t *testing.T) {
		reg.Seed(Person{
			NationalID: "46003021238",
			FullName:   "Kazys Grinius",
			BirthDate:  time.Date(1960, time.March, 2, 0, 0, 0, 0, time.UTC),
			Eligible:   false,
		})
		err := s.Screen(ctx, "Kazys Grinius", "46003021238")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden), "got %v", err)
	})

	t.Run("name mismatch", func(t *testing.T) {
		err := s.Screen(ctx, "Someone Else", validCode)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
	})

	t.Run("underage", func(t *testing.T) {
		err := s.Screen(ctx, "Matas Jaunutis", minorCode)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden), "got %v", err)
	})
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- national_id: "39010112348"
  full_name: "Jonas Basanavičius"
  birth_date: 1990-01-01
  eligible: true
- national_id: "38607123416"
  full_name: "Antanas Smetona"
  birth_date: 1986-07-12
  eligible: false
`), 0o600))

	reg, err := LoadSeedFile(path)
	require.NoError(t, err)

	p, err := reg.Lookup(context.Background(), "39010112348")
	require.NoError(t, err)
	assert.Equal(t, "Jonas Basanavičius", p.FullName)
	assert.True(t, p.Eligible)
	assert.Equal(t, 1990, p.BirthDate.Year())

	t.Run("bad birth date rejected", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("- national_id: \"1\"\n  birth_date: yesterday\n"), 0o600))
		_, err := LoadSeedFile(bad)
		assert.ErrorContains(t, err, "birth_date")
	})
}
