package identity_test

import (
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasherRoundTrip(t *testing.T) {
	hasher := identity.NewHasher(4)

	hash, err := hasher.Hash("s3cret-passw0rd")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-passw0rd", hash)

	assert.NoError(t, hasher.Compare("s3cret-passw0rd", hash))
	assert.ErrorIs(t, hasher.Compare("wrong", hash), identity.ErrAuthenticationFailed)
}

func TestHasherRejectsEmpty(t *testing.T) {
	hasher := identity.NewHasher(4)

	_, err := hasher.Hash("")
	assert.ErrorIs(t, err, identity.ErrNoEmptyString)
}

func TestHasherOutOfRangeCostFallsBack(t *testing.T) {
	hasher := identity.NewHasher(99)

	hash, err := hasher.Hash("anything")
	require.NoError(t, err)
	assert.NoError(t, hasher.Compare("anything", hash))
}

func TestCompareAny(t *testing.T) {
	hasher := identity.NewHasher(4)

	first, err := hasher.Hash("first")
	require.NoError(t, err)
	second, err := hasher.Hash("second")
	require.NoError(t, err)

	hashes := []string{first, second}
	assert.NoError(t, hasher.CompareAny("first", hashes))
	assert.NoError(t, hasher.CompareAny("second", hashes))
	assert.ErrorIs(t, hasher.CompareAny("third", hashes), identity.ErrAuthenticationFailed)
	assert.ErrorIs(t, hasher.CompareAny("first", nil), identity.ErrAuthenticationFailed)
}
