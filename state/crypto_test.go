package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateKey(t *testing.T) {
	key := GenerateKey()
	pub := key.Pubkey()
	_, err := pub.MarshalText()
	assert.NoError(t, err)
	assert.NotEqual(t, WfPublicKey{}, pub)
}

func TestKeyRoundTrip(t *testing.T) {
	key := GenerateKey()
	text, err := key.MarshalText()
	assert.NoError(t, err)

	var back WfPrivateKey
	assert.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, key, back)
	assert.Equal(t, key.Pubkey(), back.Pubkey())
}

func TestUnmarshalRejectsBadLength(t *testing.T) {
	var k WfPublicKey
	assert.ErrorIs(t, k.UnmarshalText([]byte("c2hvcnQ=")), ErrBadKeyLength)
	assert.Error(t, k.UnmarshalText([]byte("not base64!!")))
}
