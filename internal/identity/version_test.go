package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binarycompat/internal/identity"
)

func TestVersionCompare(t *testing.T) {
	assert.Equal(t, 0, identity.Version{Major: 1, Minor: 2}.Compare(identity.Version{Major: 1, Minor: 2}))
	assert.Equal(t, -1, identity.Version{Major: 1}.Compare(identity.Version{Major: 2}))
	assert.Equal(t, 1, identity.Version{Major: 2}.Compare(identity.Version{Major: 1}))
	assert.Equal(t, -1, identity.Version{Major: 1, Revision: 1}.Compare(identity.Version{Major: 1, Revision: 2}))
}

func TestVersionLessEqual(t *testing.T) {
	assert.True(t, identity.Version{Major: 1}.LessEqual(identity.Version{Major: 1}))
	assert.True(t, identity.Version{Major: 1}.LessEqual(identity.Version{Major: 2}))
	assert.False(t, identity.Version{Major: 2}.LessEqual(identity.Version{Major: 1}))
}

func TestVersionIsZero(t *testing.T) {
	assert.True(t, identity.Version{}.IsZero())
	assert.False(t, identity.Version{Major: 1}.IsZero())
}

func TestVersionString(t *testing.T) {
	assert.Equal(t, "1.2.3.4", identity.Version{Major: 1, Minor: 2, Build: 3, Revision: 4}.String())
}

func TestParseVersion(t *testing.T) {
	v, err := identity.ParseVersion("1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, identity.Version{Major: 1, Minor: 2, Build: 3, Revision: 4}, v)
}

func TestParseVersionDefaultsMissingComponents(t *testing.T) {
	v, err := identity.ParseVersion("1.2")
	require.NoError(t, err)
	assert.Equal(t, identity.Version{Major: 1, Minor: 2}, v)
}

func TestParseVersionRejectsGarbage(t *testing.T) {
	_, err := identity.ParseVersion("not.a.version")
	assert.Error(t, err)

	_, err = identity.ParseVersion("1.2.3.4.5")
	assert.Error(t, err)
}

func TestParseRangeDash(t *testing.T) {
	r, err := identity.ParseRange("1.0.0.0-2.0.0.0")
	require.NoError(t, err)
	assert.Equal(t, identity.Version{Major: 1}, r.Low)
	assert.Equal(t, identity.Version{Major: 2}, r.High)
}

func TestParseRangeBareVersion(t *testing.T) {
	r, err := identity.ParseRange("1.0.0.0")
	require.NoError(t, err)
	assert.Equal(t, r.Low, r.High)
	assert.Equal(t, identity.Version{Major: 1}, r.Low)
}

func TestRangeContains(t *testing.T) {
	r := identity.Range{Low: identity.Version{Major: 1}, High: identity.Version{Major: 3}}
	assert.True(t, r.Contains(identity.Version{Major: 1}))
	assert.True(t, r.Contains(identity.Version{Major: 2}))
	assert.True(t, r.Contains(identity.Version{Major: 3}))
	assert.False(t, r.Contains(identity.Version{Major: 4}))
	assert.False(t, r.Contains(identity.Version{}))
}
