package cryptodevtest

import (
	"github.com/effective-security/xcryptodev/cryptodev"
)

var (
	aesKeys = cryptodev.Range(16, 32, 8)
	noRange = cryptodev.ParamRange{}
)

// CBCHMACInfo returns info of a device supporting AES-CBC, AES-CTR,
// 3DES-CBC and the HMAC family
func CBCHMACInfo() cryptodev.Info {
	return cryptodev.Info{
		Driver:        "fake",
		MaxQueuePairs: 4,
		MaxSessions:   1024,
		Capabilities: []cryptodev.Capability{
			cryptodev.CipherCapability(cryptodev.CipherAESCBC, aesKeys, cryptodev.Fixed(16)),
			cryptodev.CipherCapability(cryptodev.CipherAESCTR, aesKeys, cryptodev.Fixed(16)),
			cryptodev.CipherCapability(cryptodev.Cipher3DESCBC, cryptodev.Range(16, 24, 8), cryptodev.Fixed(8)),
			cryptodev.AuthCapability(cryptodev.AuthMD5HMAC, cryptodev.Range(1, 64, 1), cryptodev.Range(1, 16, 1), noRange),
			cryptodev.AuthCapability(cryptodev.AuthSHA1HMAC, cryptodev.Range(1, 64, 1), cryptodev.Range(1, 20, 1), noRange),
			cryptodev.AuthCapability(cryptodev.AuthSHA256HMAC, cryptodev.Range(1, 64, 1), cryptodev.Range(1, 32, 1), noRange),
			cryptodev.AuthCapability(cryptodev.AuthSHA512HMAC, cryptodev.Range(1, 128, 1), cryptodev.Range(1, 64, 1), noRange),
		},
	}
}

// AEADInfo returns info of a hardware accelerated device supporting
// AES-GCM, AES-CCM and AES-GMAC
func AEADInfo() cryptodev.Info {
	return cryptodev.Info{
		Driver:        "fake_hw",
		MaxQueuePairs: 2,
		MaxSessions:   512,
		HWAccelerated: true,
		Capabilities: []cryptodev.Capability{
			cryptodev.AEADCapability(cryptodev.AEADAESGCM, aesKeys, cryptodev.Range(8, 16, 4), cryptodev.Range(0, 32, 1), cryptodev.Fixed(12)),
			cryptodev.AEADCapability(cryptodev.AEADAESCCM, aesKeys, cryptodev.Range(4, 16, 2), cryptodev.Range(0, 14, 1), cryptodev.Range(7, 13, 1)),
			cryptodev.AuthCapability(cryptodev.AuthAESGMAC, aesKeys, cryptodev.Range(8, 16, 4), cryptodev.Fixed(12)),
		},
	}
}

// BitModeInfo returns info of a device supporting wireless bit mode algorithms
func BitModeInfo() cryptodev.Info {
	return cryptodev.Info{
		Driver:        "fake_wireless",
		MaxQueuePairs: 1,
		MaxSessions:   64,
		Capabilities: []cryptodev.Capability{
			cryptodev.CipherCapability(cryptodev.CipherSnow3GUEA2, cryptodev.Fixed(16), cryptodev.Fixed(16)),
			cryptodev.CipherCapability(cryptodev.CipherKasumiF8, cryptodev.Fixed(16), cryptodev.Fixed(8)),
			cryptodev.AuthCapability(cryptodev.AuthSnow3GUIA2, cryptodev.Fixed(16), cryptodev.Fixed(4), cryptodev.Fixed(16)),
		},
	}
}
