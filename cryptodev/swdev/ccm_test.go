package swdev

import (
	"crypto/aes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unhex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// RFC 3610 packet vectors
var ccmVectors = []struct {
	name       string
	key        string
	nonce      string
	aad        string
	plaintext  string
	ciphertext string
	tag        string
}{
	{
		name:       "vector1",
		key:        "c0c1c2c3c4c5c6c7c8c9cacbcccdcecf",
		nonce:      "00000003020100a0a1a2a3a4a5",
		aad:        "0001020304050607",
		plaintext:  "08090a0b0c0d0e0f101112131415161718191a1b1c1d1e",
		ciphertext: "588c979a61c663d2f066d0c2c0f989806d5f6b61dac384",
		tag:        "17e8d12cfdf926e0",
	},
	{
		name:       "vector2",
		key:        "c0c1c2c3c4c5c6c7c8c9cacbcccdcecf",
		nonce:      "00000004030201a0a1a2a3a4a5",
		aad:        "0001020304050607",
		plaintext:  "08090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		ciphertext: "72c91a36e135f8cf291ca894085c87e3cc15c439c9e43a3b",
		tag:        "a091d56e10400916",
	},
	{
		name:       "vector7",
		key:        "c0c1c2c3c4c5c6c7c8c9cacbcccdcecf",
		nonce:      "00000009080706a0a1a2a3a4a5",
		aad:        "0001020304050607",
		plaintext:  "08090a0b0c0d0e0f101112131415161718191a1b1c1d1e",
		ciphertext: "0135d1b2c95f41d5d1d4fec185d166b8094e999dfed96c",
		tag:        "048c56602c97acbb7490",
	},
}

func TestCCMVectors(t *testing.T) {
	for _, tc := range ccmVectors {
		t.Run(tc.name, func(t *testing.T) {
			block, err := aes.NewCipher(unhex(tc.key))
			require.NoError(t, err)

			tag := unhex(tc.tag)
			aead, err := newCCM(block, 13, len(tag))
			require.NoError(t, err)
			assert.Equal(t, 13, aead.NonceSize())
			assert.Equal(t, len(tag), aead.Overhead())

			nonce := unhex(tc.nonce)
			aad := unhex(tc.aad)
			sealed := aead.Seal(nil, nonce, unhex(tc.plaintext), aad)
			assert.Equal(t, tc.ciphertext+tc.tag, hex.EncodeToString(sealed))

			plain, err := aead.Open(nil, nonce, sealed, aad)
			require.NoError(t, err)
			assert.Equal(t, tc.plaintext, hex.EncodeToString(plain))

			sealed[0] ^= 1
			_, err = aead.Open(nil, nonce, sealed, aad)
			assert.EqualError(t, err, "ccm: message authentication failed")

			_, err = aead.Open(nil, nonce, sealed[:3], aad)
			assert.Error(t, err)
		})
	}
}

func TestCCMParams(t *testing.T) {
	block, err := aes.NewCipher(make([]byte, 16))
	require.NoError(t, err)

	_, err = newCCM(block, 6, 16)
	assert.EqualError(t, err, "ccm: invalid nonce size: 6")
	_, err = newCCM(block, 14, 16)
	assert.EqualError(t, err, "ccm: invalid nonce size: 14")
	_, err = newCCM(block, 12, 5)
	assert.EqualError(t, err, "ccm: invalid tag size: 5")
	_, err = newCCM(block, 12, 18)
	assert.EqualError(t, err, "ccm: invalid tag size: 18")

	aead, err := newCCM(block, 7, 4)
	require.NoError(t, err)

	nonce := make([]byte, 7)
	msg := make([]byte, 100)
	sealed := aead.Seal([]byte("prefix"), nonce, msg, nil)
	assert.Equal(t, "prefix", string(sealed[:6]))
	plain, err := aead.Open(nil, nonce, sealed[6:], nil)
	require.NoError(t, err)
	assert.Equal(t, msg, plain)

	assert.Panics(t, func() {
		aead.Seal(nil, make([]byte, 8), msg, nil)
	})
}
