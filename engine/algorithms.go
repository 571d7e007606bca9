package engine

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
)

// CipherAlg is a cipher algorithm of a session
type CipherAlg int

// Cipher algorithms
const (
	CipherNull CipherAlg = iota
	CipherDES
	Cipher3DESCBC
	CipherAESCBC
	CipherAESCTR
	CipherAESGCM
	CipherAESCCM
	CipherChaCha20Poly1305
	CipherKasumiF8
	CipherSnow3GUEA2
	CipherZucEEA3

	// CipherAES128CBC is deprecated, use CipherAESCBC
	CipherAES128CBC
	// CipherAES128GCM is deprecated, use CipherAESGCM
	CipherAES128GCM
)

// AuthAlg is an authentication algorithm of a session
type AuthAlg int

// Authentication algorithms
const (
	AuthNull AuthAlg = iota
	AuthMD5HMAC
	AuthSHA1HMAC
	AuthSHA256HMAC
	AuthSHA384HMAC
	AuthSHA512HMAC
	AuthAESGMAC
	AuthAESCMAC
	AuthAESGCM
	AuthAESCCM
	AuthChaCha20Poly1305
	AuthKasumiF9
	AuthSnow3GUIA2
	AuthZucEIA3

	// AuthMD596 is deprecated, use AuthMD5HMAC with 12 bytes digest
	AuthMD596
	// AuthSHA256128 is deprecated, use AuthSHA256HMAC with 16 bytes digest
	AuthSHA256128
	// AuthAES128GCM is deprecated, use AuthAESGCM with 16 bytes digest
	AuthAES128GCM
)

// cipherDef maps a cipher algorithm to the native transform,
// exactly one of native or aead is set
type cipherDef struct {
	name    string
	native  cryptodev.CipherAlgo
	aead    cryptodev.AEADAlgo
	bitMode bool
}

var ciphers = map[CipherAlg]cipherDef{
	CipherNull:             {name: "null", native: cryptodev.CipherNull},
	CipherDES:              {name: "des", native: cryptodev.Cipher3DESCBC},
	Cipher3DESCBC:          {name: "3des-cbc", native: cryptodev.Cipher3DESCBC},
	CipherAESCBC:           {name: "aes-cbc", native: cryptodev.CipherAESCBC},
	CipherAESCTR:           {name: "aes-ctr", native: cryptodev.CipherAESCTR},
	CipherAESGCM:           {name: "aes-gcm", aead: cryptodev.AEADAESGCM},
	CipherAESCCM:           {name: "aes-ccm", aead: cryptodev.AEADAESCCM},
	CipherChaCha20Poly1305: {name: "chacha20-poly1305", aead: cryptodev.AEADChaCha20Poly1305},
	CipherKasumiF8:         {name: "kasumi-f8", native: cryptodev.CipherKasumiF8, bitMode: true},
	CipherSnow3GUEA2:       {name: "snow3g-uea2", native: cryptodev.CipherSnow3GUEA2, bitMode: true},
	CipherZucEEA3:          {name: "zuc-eea3", native: cryptodev.CipherZucEEA3, bitMode: true},
}

var cipherAliases = map[CipherAlg]struct {
	name string
	alg  CipherAlg
}{
	CipherAES128CBC: {"aes128-cbc", CipherAESCBC},
	CipherAES128GCM: {"aes128-gcm", CipherAESGCM},
}

// authDef maps an authentication algorithm to the native transform,
// exactly one of native or aead is set
type authDef struct {
	name    string
	native  cryptodev.AuthAlgo
	aead    cryptodev.AEADAlgo
	bitMode bool
	// hmacKey is the natural key length of HMAC algorithms
	hmacKey int
}

var auths = map[AuthAlg]authDef{
	AuthNull:             {name: "null", native: cryptodev.AuthNull},
	AuthMD5HMAC:          {name: "md5-hmac", native: cryptodev.AuthMD5HMAC, hmacKey: 16},
	AuthSHA1HMAC:         {name: "sha1-hmac", native: cryptodev.AuthSHA1HMAC, hmacKey: 20},
	AuthSHA256HMAC:       {name: "sha256-hmac", native: cryptodev.AuthSHA256HMAC, hmacKey: 32},
	AuthSHA384HMAC:       {name: "sha384-hmac", native: cryptodev.AuthSHA384HMAC, hmacKey: 48},
	AuthSHA512HMAC:       {name: "sha512-hmac", native: cryptodev.AuthSHA512HMAC, hmacKey: 64},
	AuthAESGMAC:          {name: "aes-gmac", native: cryptodev.AuthAESGMAC},
	AuthAESCMAC:          {name: "aes-cmac", native: cryptodev.AuthAESCMAC},
	AuthAESGCM:           {name: "aes-gcm", aead: cryptodev.AEADAESGCM},
	AuthAESCCM:           {name: "aes-ccm", aead: cryptodev.AEADAESCCM},
	AuthChaCha20Poly1305: {name: "chacha20-poly1305", aead: cryptodev.AEADChaCha20Poly1305},
	AuthKasumiF9:         {name: "kasumi-f9", native: cryptodev.AuthKasumiF9, bitMode: true},
	AuthSnow3GUIA2:       {name: "snow3g-uia2", native: cryptodev.AuthSnow3GUIA2, bitMode: true},
	AuthZucEIA3:          {name: "zuc-eia3", native: cryptodev.AuthZucEIA3, bitMode: true},
}

var authAliases = map[AuthAlg]struct {
	name      string
	alg       AuthAlg
	digestLen int
}{
	AuthMD596:     {"md5-96", AuthMD5HMAC, 12},
	AuthSHA256128: {"sha256-128", AuthSHA256HMAC, 16},
	AuthAES128GCM: {"aes128-gcm", AuthAESGCM, 16},
}

func (a CipherAlg) String() string {
	if d, ok := ciphers[a]; ok {
		return d.name
	}
	if d, ok := cipherAliases[a]; ok {
		return d.name
	}
	return "unknown"
}

// Canonical returns the algorithm a deprecated identifier stands for
func (a CipherAlg) Canonical() CipherAlg {
	if d, ok := cipherAliases[a]; ok {
		return d.alg
	}
	return a
}

// IsAEAD returns true for AEAD algorithms
func (a CipherAlg) IsAEAD() bool {
	return ciphers[a.Canonical()].aead != 0
}

// BitMode returns true if the algorithm operates on bit lengths
func (a CipherAlg) BitMode() bool {
	return ciphers[a.Canonical()].bitMode
}

func (a AuthAlg) String() string {
	if d, ok := auths[a]; ok {
		return d.name
	}
	if d, ok := authAliases[a]; ok {
		return d.name
	}
	return "unknown"
}

// Canonical returns the algorithm a deprecated identifier stands for,
// and the digest length it fixes, or zero
func (a AuthAlg) Canonical() (AuthAlg, int) {
	if d, ok := authAliases[a]; ok {
		return d.alg, d.digestLen
	}
	return a, 0
}

// IsAEAD returns true for AEAD algorithms
func (a AuthAlg) IsAEAD() bool {
	alg, _ := a.Canonical()
	return auths[alg].aead != 0
}

// BitMode returns true if the algorithm operates on bit lengths
func (a AuthAlg) BitMode() bool {
	alg, _ := a.Canonical()
	return auths[alg].bitMode
}

// ParseCipherAlg returns the cipher algorithm by name
func ParseCipherAlg(name string) (CipherAlg, error) {
	name = strings.ToLower(name)
	for a, d := range ciphers {
		if d.name == name {
			return a, nil
		}
	}
	for a, d := range cipherAliases {
		if d.name == name {
			return a, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidCipherSpec, "unknown cipher: %q", name)
}

// ParseAuthAlg returns the authentication algorithm by name.
// AEAD names resolve to the AEAD authentication algorithm.
func ParseAuthAlg(name string) (AuthAlg, error) {
	name = strings.ToLower(name)
	for a, d := range auths {
		if d.name == name {
			return a, nil
		}
	}
	for a, d := range authAliases {
		if d.name == name {
			return a, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidAuthSpec, "unknown auth: %q", name)
}

// CipherAlgs is a set of cipher algorithms
type CipherAlgs uint32

// Has returns true if the set contains the algorithm
func (s CipherAlgs) Has(a CipherAlg) bool {
	return s&(1<<uint(a)) != 0
}

// Add adds the algorithm to the set
func (s *CipherAlgs) Add(a CipherAlg) {
	*s |= 1 << uint(a)
}

// List returns algorithms of the set
func (s CipherAlgs) List() []CipherAlg {
	var list []CipherAlg
	for a := CipherNull; a <= CipherAES128GCM; a++ {
		if s.Has(a) {
			list = append(list, a)
		}
	}
	return list
}

// AuthAlgs is a set of authentication algorithms
type AuthAlgs uint32

// Has returns true if the set contains the algorithm
func (s AuthAlgs) Has(a AuthAlg) bool {
	return s&(1<<uint(a)) != 0
}

// Add adds the algorithm to the set
func (s *AuthAlgs) Add(a AuthAlg) {
	*s |= 1 << uint(a)
}

// List returns algorithms of the set
func (s AuthAlgs) List() []AuthAlg {
	var list []AuthAlg
	for a := AuthNull; a <= AuthAES128GCM; a++ {
		if s.Has(a) {
			list = append(list, a)
		}
	}
	return list
}
