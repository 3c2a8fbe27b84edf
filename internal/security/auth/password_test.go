package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
)

func TestHashIsSaltedAndVerifiable(t *testing.T) {
	h, err := NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)

	first, err := h.Hash("Correct1!")
	require.NoError(t, err)
	second, err := h.Hash("Correct1!")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "each hash carries its own salt")
	assert.True(t, h.Compare(first, "Correct1!"))
	assert.True(t, h.Compare(second, "Correct1!"))
	assert.False(t, h.Compare(first, "Wr0ng!!!"))
	assert.False(t, IsHashCorrupt(first))
}

func TestCompareWithCorruptHash(t *testing.T) {
	h, err := NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	assert.False(t, h.Compare("not-a-bcrypt-hash", "Correct1!"))
	assert.True(t, IsHashCorrupt("not-a-bcrypt-hash"))
	h.CompareDummy("anything")
}

func TestValidatePasswordStrength(t *testing.T) {
	long := strings.Repeat("a", 80) + "1"
	cases := []struct {
		password string
		ok       bool
	}{
		{"Correct1!", true},
		{"abcdefg1", true},
		{"short1", false},
		{"onlyletters", false},
		{"12345678", false},
		{long, false},
	}
	for _, tc := range cases {
		err := ValidatePasswordStrength(tc.password)
		if tc.ok {
			assert.NoError(t, err, tc.password)
		} else {
			assert.ErrorIs(t, err, domain.ErrValidation, tc.password)
		}
	}
}

func TestHashRejectsWeakPassword(t *testing.T) {
	h, err := NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	_, err = h.Hash("weak")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
