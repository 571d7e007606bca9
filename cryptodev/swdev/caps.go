package swdev

import (
	"github.com/effective-security/xcryptodev/cryptodev"
)

var (
	aesKeys  = cryptodev.Range(16, 32, 8)
	none     = cryptodev.ParamRange{}
	anyAAD   = cryptodev.Range(0, 65535, 1)
	gcmTags  = cryptodev.Range(12, 16, 4)
	ccmTags  = cryptodev.Range(4, 16, 2)
	ccmNonce = cryptodev.Range(7, 13, 1)
)

// capabilities of the software device
var capabilities = []cryptodev.Capability{
	cryptodev.CipherCapability(cryptodev.CipherNull, none, none),
	cryptodev.CipherCapability(cryptodev.CipherAESCBC, aesKeys, cryptodev.Fixed(16)),
	cryptodev.CipherCapability(cryptodev.CipherAESCTR, aesKeys, cryptodev.Fixed(16)),
	cryptodev.CipherCapability(cryptodev.Cipher3DESCBC, cryptodev.Range(8, 24, 8), cryptodev.Fixed(8)),

	cryptodev.AuthCapability(cryptodev.AuthNull, none, none, none),
	cryptodev.AuthCapability(cryptodev.AuthMD5HMAC, cryptodev.Range(1, 64, 1), cryptodev.Range(1, 16, 1), none),
	cryptodev.AuthCapability(cryptodev.AuthSHA1HMAC, cryptodev.Range(1, 64, 1), cryptodev.Range(1, 20, 1), none),
	cryptodev.AuthCapability(cryptodev.AuthSHA256HMAC, cryptodev.Range(1, 64, 1), cryptodev.Range(1, 32, 1), none),
	cryptodev.AuthCapability(cryptodev.AuthSHA384HMAC, cryptodev.Range(1, 128, 1), cryptodev.Range(1, 48, 1), none),
	cryptodev.AuthCapability(cryptodev.AuthSHA512HMAC, cryptodev.Range(1, 128, 1), cryptodev.Range(1, 64, 1), none),
	cryptodev.AuthCapability(cryptodev.AuthAESGMAC, aesKeys, gcmTags, cryptodev.Fixed(12)),
	cryptodev.AuthCapability(cryptodev.AuthAESCMAC, aesKeys, cryptodev.Range(4, 16, 4), none),

	cryptodev.AEADCapability(cryptodev.AEADAESGCM, aesKeys, gcmTags, anyAAD, cryptodev.Fixed(12)),
	cryptodev.AEADCapability(cryptodev.AEADAESCCM, aesKeys, ccmTags, anyAAD, ccmNonce),
	cryptodev.AEADCapability(cryptodev.AEADChaCha20Poly1305, cryptodev.Fixed(32), cryptodev.Fixed(16), anyAAD, cryptodev.Fixed(12)),
}

// Capabilities returns a copy of the software device capabilities
func Capabilities() []cryptodev.Capability {
	return append([]cryptodev.Capability(nil), capabilities...)
}
