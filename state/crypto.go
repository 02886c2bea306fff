package state

import (
	"crypto/rand"

	"golang.org/x/crypto/curve25519"
)

type WfPrivateKey [32]byte
type WfPublicKey [32]byte

// GenerateKey produces a new static Curve25519 key for the Noise handshake.
func GenerateKey() WfPrivateKey {
	var key WfPrivateKey
	if _, err := rand.Read(key[:]); err != nil {
		panic(err)
	}
	// clamp per curve25519
	key[0] &= 248
	key[31] &= 127
	key[31] |= 64
	return key
}

func (k WfPrivateKey) Pubkey() WfPublicKey {
	val, err := curve25519.X25519(k[:], curve25519.Basepoint)
	if err != nil {
		panic(err)
	}
	return WfPublicKey(val)
}
