package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	k1 := DeriveKey("a@b.com", "foo.xyz")
	k2 := DeriveKey("a@b.com", "foo.xyz")
	assert.Equal(t, k1, k2, "derivation must be deterministic")
	assert.Len(t, k1, 64)

	// Different identities derive different keys, and the separator
	// prevents ambiguous concatenations from colliding.
	assert.NotEqual(t, k1, DeriveKey("a@b.com", "bar.xyz"))
	assert.NotEqual(t, DeriveKey("ab", "c"), DeriveKey("a", "bc"))
}

func TestEntityRoundTrip(t *testing.T) {
	rec := Record{
		Key:     "k1",
		AppName: "Foo",
		Website: "foo.xyz",
		Email:   "a@b.com",
		Tier:    2,
		Active:  true,
	}

	data, err := marshalEntity(rec.Entity())
	require.NoError(t, err)

	got, err := unmarshalEntity(data)
	require.NoError(t, err)
	assert.Equal(t, rec.Entity(), got)

	_, err = unmarshalEntity([]byte("{broken"))
	assert.Error(t, err)
}

func TestFieldsIsEmpty(t *testing.T) {
	assert.True(t, Fields{}.IsEmpty())

	tier := 1
	assert.False(t, Fields{Tier: &tier}.IsEmpty())

	name := ""
	assert.False(t, Fields{AppName: &name}.IsEmpty(), "a set-to-empty field is still an update")
}
