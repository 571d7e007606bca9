package engine

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stagesOf(c *chain) []cryptodev.XformType {
	var list []cryptodev.XformType
	for x := range c.head.Stages() {
		list = append(list, x.Type)
	}
	return list
}

func TestBuildChain(t *testing.T) {
	cipherAuth := []cryptodev.XformType{cryptodev.XformCipher, cryptodev.XformAuth}
	authCipher := []cryptodev.XformType{cryptodev.XformAuth, cryptodev.XformCipher}

	tcases := []struct {
		name           string
		op             SessionOp
		authCipherText bool
		exp            []cryptodev.XformType
	}{
		{"encode_auth_cipher_text", OpEncode, true, cipherAuth},
		{"decode_auth_cipher_text", OpDecode, true, authCipher},
		{"encode_auth_plain_text", OpEncode, false, authCipher},
		{"decode_auth_plain_text", OpDecode, false, cipherAuth},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			p := &SessionParams{
				Op:             tc.op,
				AuthCipherText: tc.authCipherText,
				CipherAlg:      CipherAESCBC,
				CipherKey:      []byte("0123456789abcdef"),
				CipherIV:       IV{Length: 16},
				AuthAlg:        AuthSHA256HMAC,
				AuthKey:        []byte("key"),
				AuthDigestLen:  16,
			}
			var c chain
			require.NoError(t, buildChain(&c, p))
			assert.False(t, c.aead)
			assert.Equal(t, tc.exp, stagesOf(&c))

			cx := c.cipherStage()
			ax := c.authStage()
			require.NotNil(t, cx)
			require.NotNil(t, ax)
			assert.Equal(t, cryptodev.CipherAESCBC, cx.Cipher.Algo)
			assert.Equal(t, 16, cx.Cipher.IVLength)
			assert.Equal(t, p.CipherKey, cx.Cipher.Key)
			assert.Equal(t, cryptodev.AuthSHA256HMAC, ax.Auth.Algo)
			assert.Equal(t, 16, ax.Auth.DigestLength)
			if tc.op == OpEncode {
				assert.Equal(t, cryptodev.CipherOpEncrypt, cx.Cipher.Op)
				assert.Equal(t, cryptodev.AuthOpGenerate, ax.Auth.Op)
			} else {
				assert.Equal(t, cryptodev.CipherOpDecrypt, cx.Cipher.Op)
				assert.Equal(t, cryptodev.AuthOpVerify, ax.Auth.Op)
			}
		})
	}
}

func TestBuildChainCollapse(t *testing.T) {
	var c chain

	require.NoError(t, buildChain(&c, &SessionParams{AuthAlg: AuthMD5HMAC, AuthDigestLen: 12}))
	assert.Equal(t, []cryptodev.XformType{cryptodev.XformAuth}, stagesOf(&c))
	assert.Nil(t, c.cipherStage())

	require.NoError(t, buildChain(&c, &SessionParams{Op: OpDecode, CipherAlg: CipherDES}))
	assert.Equal(t, []cryptodev.XformType{cryptodev.XformCipher}, stagesOf(&c))
	assert.Equal(t, cryptodev.Cipher3DESCBC, c.head.Cipher.Algo)
	assert.Equal(t, cryptodev.CipherOpDecrypt, c.head.Cipher.Op)
	assert.Nil(t, c.authStage())

	require.NoError(t, buildChain(&c, &SessionParams{}))
	require.Equal(t, 1, c.head.Len())
	assert.Equal(t, cryptodev.AuthNull, c.head.Auth.Algo)
}

func TestBuildChainAEAD(t *testing.T) {
	var c chain
	p := &SessionParams{
		Op:            OpDecode,
		CipherAlg:     CipherAESCCM,
		CipherKey:     make([]byte, 16),
		CipherIV:      IV{Length: 11},
		AuthAlg:       AuthSHA1HMAC, // ignored for AEAD
		AuthDigestLen: 8,
		AuthAADLen:    14,
	}
	require.NoError(t, buildChain(&c, p))
	assert.True(t, c.aead)
	assert.True(t, c.ccm)
	assert.Equal(t, []cryptodev.XformType{cryptodev.XformAEAD}, stagesOf(&c))
	assert.Equal(t, cryptodev.AEADXform{
		Algo:         cryptodev.AEADAESCCM,
		Op:           cryptodev.AEADOpDecrypt,
		Key:          p.CipherKey,
		IVLength:     11,
		DigestLength: 8,
		AADLength:    14,
	}, c.head.AEAD)

	p = &SessionParams{CipherAlg: CipherChaCha20Poly1305, AuthDigestLen: 16, AuthAADLen: 32}
	require.NoError(t, buildChain(&c, p))
	assert.False(t, c.ccm)
	assert.Equal(t, cryptodev.AEADOpEncrypt, c.head.AEAD.Op)
}

func TestBuildChainErrors(t *testing.T) {
	tcases := []struct {
		name   string
		params SessionParams
		exp    error
	}{
		{"unknown_cipher", SessionParams{CipherAlg: CipherAlg(99)}, ErrInvalidCipherSpec},
		{"alias_not_normalized", SessionParams{CipherAlg: CipherAES128CBC}, ErrInvalidCipherSpec},
		{"unknown_auth", SessionParams{AuthAlg: AuthAlg(99)}, ErrInvalidAuthSpec},
		{"aead_auth_with_cipher", SessionParams{CipherAlg: CipherAESCBC, AuthAlg: AuthAESGCM}, ErrInvalidAuthSpec},
		{"auth_digest", SessionParams{AuthAlg: AuthSHA512HMAC, AuthDigestLen: 65}, ErrInvalidAuthSpec},
		{"aead_digest", SessionParams{CipherAlg: CipherAESGCM, AuthDigestLen: 65}, ErrInvalidCipherSpec},
		{"aead_aad", SessionParams{CipherAlg: CipherAESGCM, AuthDigestLen: 16, AuthAADLen: 33}, ErrInvalidCipherSpec},
		{"ccm_aad", SessionParams{CipherAlg: CipherAESCCM, AuthDigestLen: 16, AuthAADLen: 15}, ErrInvalidCipherSpec},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var c chain
			err := buildChain(&c, &tc.params)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.exp), err.Error())
		})
	}
}

func TestNormalize(t *testing.T) {
	p := &SessionParams{
		CipherAlg:     CipherAES128GCM,
		AuthAlg:       AuthAES128GCM,
		AuthDigestLen: 8,
		PrefOpMode:    OpModeAsync,
	}
	p.normalize()
	assert.Equal(t, CipherAESGCM, p.CipherAlg)
	assert.Equal(t, AuthAESGCM, p.AuthAlg)
	assert.Equal(t, 16, p.AuthDigestLen)
	assert.Equal(t, OpModeAsync, p.OpMode)

	p = &SessionParams{AuthAlg: AuthSHA256HMAC, AuthDigestLen: 24}
	p.normalize()
	assert.Equal(t, AuthSHA256HMAC, p.AuthAlg)
	assert.Equal(t, 24, p.AuthDigestLen)
	assert.Equal(t, OpModeSync, p.OpMode)

	p = &SessionParams{AuthAlg: AuthMD596, OpMode: OpModeSync, PrefOpMode: OpModeAsync}
	p.normalize()
	assert.Equal(t, AuthMD5HMAC, p.AuthAlg)
	assert.Equal(t, 12, p.AuthDigestLen)
	assert.Equal(t, OpModeSync, p.OpMode)
}

func TestAlgorithms(t *testing.T) {
	for a := CipherNull; a <= CipherAES128GCM; a++ {
		parsed, err := ParseCipherAlg(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	}
	for a := AuthNull; a <= AuthAES128GCM; a++ {
		parsed, err := ParseAuthAlg(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	}
	parsed, err := ParseAuthAlg("AES128-GCM")
	require.NoError(t, err)
	assert.Equal(t, AuthAES128GCM, parsed)

	_, err = ParseCipherAlg("rc4")
	assert.True(t, errors.Is(err, ErrInvalidCipherSpec))
	_, err = ParseAuthAlg("crc32")
	assert.True(t, errors.Is(err, ErrInvalidAuthSpec))
	assert.Equal(t, "unknown", CipherAlg(99).String())
	assert.Equal(t, "unknown", AuthAlg(99).String())

	assert.True(t, CipherAES128GCM.IsAEAD())
	assert.False(t, CipherAESCTR.IsAEAD())
	assert.True(t, CipherZucEEA3.BitMode())
	assert.True(t, AuthChaCha20Poly1305.IsAEAD())
	assert.True(t, AuthKasumiF9.BitMode())
	assert.False(t, AuthSHA256128.BitMode())

	var ciphers CipherAlgs
	ciphers.Add(CipherAESCBC)
	ciphers.Add(CipherNull)
	assert.True(t, ciphers.Has(CipherNull))
	assert.False(t, ciphers.Has(CipherDES))
	assert.Equal(t, []CipherAlg{CipherNull, CipherAESCBC}, ciphers.List())

	var auths AuthAlgs
	auths.Add(AuthSHA256128)
	assert.Equal(t, []AuthAlg{AuthSHA256128}, auths.List())

	assert.Equal(t, CreateErrNone, CreateErrorCode(nil))
	assert.Equal(t, CreateErrInvCipher, CreateErrorCode(errors.Wrap(ErrInvalidCipherSpec, "x")))
	assert.Equal(t, CreateErrInvAuth, CreateErrorCode(ErrInvalidAuthSpec))
	assert.Equal(t, CreateErrResource, CreateErrorCode(errors.New("other")))
	assert.Equal(t, "invalid_cipher", CreateErrInvCipher.String())
}
