package hasher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"electorate/pkg/domain"
	dErrors "electorate/pkg/domain-errors"
)

func TestNameFingerprint_Deterministic(t *testing.T) {
	a, err := NameFingerprint("Jonas Basanavičius")
	require.NoError(t, err)
	b, err := NameFingerprint("Jonas Basanavičius")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a.Bytes(), domain.HashSize)
	assert.False(t, a.IsZero())
}

func TestNameFingerprint_NormalizationEquivalence(t *testing.T) {
	variants := []string{
		"Jonas Basanavičius",
		"  jonas basanavičius ",
		"JONAS\t\tBASANAVIČIUS",
		"jonas  basanavičius",
	}

	want, err := NameFingerprint(variants[0])
	require.NoError(t, err)
	for _, v := range variants[1:] {
		got, err := NameFingerprint(v)
		require.NoError(t, err)
		assert.Equal(t, want, got, "variant %q must fingerprint identically", v)
	}
}

func TestNameFingerprint_DistinctInputsDiverge(t *testing.T) {
	a, err := NameFingerprint("Jonas Basanavičius")
	require.NoError(t, err)
	b, err := NameFingerprint("Jonas Basanavicius")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestNameFingerprint_RejectsEmpty(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n"} {
		_, err := NameFingerprint(input)
		require.Error(t, err, "input %q", input)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	}
}

func TestIdentifierFingerprint(t *testing.T) {
	t.Run("internal whitespace ignored", func(t *testing.T) {
		a, err := IdentifierFingerprint("39010112345")
		require.NoError(t, err)
		b, err := IdentifierFingerprint(" 3901 0112 345 ")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := IdentifierFingerprint("  ")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// The same string fingerprinted as a name and as an identifier must produce
// different digests; otherwise one leaked digest would identify both fields.
func TestFingerprints_DomainSeparated(t *testing.T) {
	asName, err := NameFingerprint("12345")
	require.NoError(t, err)
	asID, err := IdentifierFingerprint("12345")
	require.NoError(t, err)
	assert.NotEqual(t, asName, asID)
}

func TestIdentityKey(t *testing.T) {
	nameFp, err := NameFingerprint("Jonas Basanavičius")
	require.NoError(t, err)
	idFp, err := IdentifierFingerprint("39010112345")
	require.NoError(t, err)

	key := IdentityKey(nameFp, idFp)
	assert.False(t, key.IsZero())
	assert.Equal(t, key, IdentityKey(nameFp, idFp), "derivation must be deterministic")

	// The key must not equal either fingerprint reinterpreted as a key.
	assert.NotEqual(t, key.Bytes(), nameFp.Bytes())
	assert.NotEqual(t, key.Bytes(), idFp.Bytes())

	// Swapping the pair changes the key.
	swapped := IdentityKey(idFp, nameFp)
	assert.NotEqual(t, key, swapped)
}
