package uuid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNormalizesEquivalentForms(t *testing.T) {
	cases := []string{
		"180d",
		"0x180d",
		"0000180d-0000-1000-8000-00805f9b34fb",
		"0000180D00001000800000805F9B34FB",
		"{0000180d-0000-1000-8000-00805f9b34fb}",
	}
	want, err := Parse(cases[0])
	require.NoError(t, err)

	for _, c := range cases {
		got, err := Parse(c)
		require.NoError(t, err, c)
		assert.Equal(t, want, got, c)
	}
}

func TestParseCustom128BitUUIDPreservesIdentity(t *testing.T) {
	a, err := Parse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	require.NoError(t, err)
	b, err := Parse("6e400001b5a3f393e0a9e50e24dcca9e")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := Parse("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestShort16(t *testing.T) {
	u := MustParse("180d")
	short, ok := u.Short16()
	assert.True(t, ok)
	assert.Equal(t, uint16(0x180d), short)

	custom := MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	_, ok = custom.Short16()
	assert.False(t, ok)
}

func TestStringIsCanonicalDashedLowercase(t *testing.T) {
	u := MustParse("0x180D")
	assert.Equal(t, "0000180d-0000-1000-8000-00805f9b34fb", u.String())
}

func TestParseRejectsInvalidLength(t *testing.T) {
	_, err := Parse("abc")
	assert.Error(t, err)
}

func TestParseRejectsNonHex(t *testing.T) {
	_, err := Parse("zzzz")
	assert.Error(t, err)
}
