package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCipherRoundTrip(t *testing.T) {
	c := NewTokenCipher("k1")
	require.True(t, c.Enabled())

	sealed, err := c.Seal("refresh-abc")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "enc:"))
	assert.NotContains(t, sealed, "refresh-abc")

	again, err := c.Seal("refresh-abc")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again)

	plain, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "refresh-abc", plain)
}

func TestTokenCipherDisabled(t *testing.T) {
	c := NewTokenCipher("")
	assert.False(t, c.Enabled())

	out, err := c.Seal("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	var nilCipher *TokenCipher
	out, err = nilCipher.Seal("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestTokenCipherOpen(t *testing.T) {
	c := NewTokenCipher("k1")

	// 历史明文原样返回
	out, err := c.Open("legacy-token")
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", out)

	sealed, err := c.Seal("secret")
	require.NoError(t, err)

	_, err = NewTokenCipher("k2").Open(sealed)
	assert.Error(t, err)

	_, err = NewTokenCipher("").Open(sealed)
	assert.Error(t, err)

	_, err = c.Open("enc:%%%")
	assert.Error(t, err)

	_, err = c.Open("enc:AAAA")
	assert.Error(t, err)
}
