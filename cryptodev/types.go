package cryptodev

import (
	"fmt"
	"iter"
)

// XformType specifies the kind of a symmetric transform
type XformType int

// Transform kinds
const (
	XformNotSet XformType = iota
	XformCipher
	XformAuth
	XformAEAD
)

func (t XformType) String() string {
	switch t {
	case XformCipher:
		return "cipher"
	case XformAuth:
		return "auth"
	case XformAEAD:
		return "aead"
	}
	return "not_set"
}

// CipherAlgo is a native cipher algorithm
type CipherAlgo int

// Native cipher algorithms
const (
	CipherNull CipherAlgo = iota + 1
	Cipher3DESCBC
	CipherAESCBC
	CipherAESCTR
	CipherKasumiF8
	CipherSnow3GUEA2
	CipherZucEEA3
)

var cipherNames = map[CipherAlgo]string{
	CipherNull:       "null",
	Cipher3DESCBC:    "3des-cbc",
	CipherAESCBC:     "aes-cbc",
	CipherAESCTR:     "aes-ctr",
	CipherKasumiF8:   "kasumi-f8",
	CipherSnow3GUEA2: "snow3g-uea2",
	CipherZucEEA3:    "zuc-eea3",
}

func (a CipherAlgo) String() string {
	if n, ok := cipherNames[a]; ok {
		return n
	}
	return fmt.Sprintf("cipher(%d)", int(a))
}

// AuthAlgo is a native authentication algorithm
type AuthAlgo int

// Native authentication algorithms
const (
	AuthNull AuthAlgo = iota + 1
	AuthMD5HMAC
	AuthSHA1HMAC
	AuthSHA256HMAC
	AuthSHA384HMAC
	AuthSHA512HMAC
	AuthAESGMAC
	AuthAESCMAC
	AuthKasumiF9
	AuthSnow3GUIA2
	AuthZucEIA3
)

var authNames = map[AuthAlgo]string{
	AuthNull:       "null",
	AuthMD5HMAC:    "md5-hmac",
	AuthSHA1HMAC:   "sha1-hmac",
	AuthSHA256HMAC: "sha256-hmac",
	AuthSHA384HMAC: "sha384-hmac",
	AuthSHA512HMAC: "sha512-hmac",
	AuthAESGMAC:    "aes-gmac",
	AuthAESCMAC:    "aes-cmac",
	AuthKasumiF9:   "kasumi-f9",
	AuthSnow3GUIA2: "snow3g-uia2",
	AuthZucEIA3:    "zuc-eia3",
}

func (a AuthAlgo) String() string {
	if n, ok := authNames[a]; ok {
		return n
	}
	return fmt.Sprintf("auth(%d)", int(a))
}

// AEADAlgo is a native AEAD algorithm
type AEADAlgo int

// Native AEAD algorithms
const (
	AEADAESGCM AEADAlgo = iota + 1
	AEADAESCCM
	AEADChaCha20Poly1305
)

var aeadNames = map[AEADAlgo]string{
	AEADAESGCM:           "aes-gcm",
	AEADAESCCM:           "aes-ccm",
	AEADChaCha20Poly1305: "chacha20-poly1305",
}

func (a AEADAlgo) String() string {
	if n, ok := aeadNames[a]; ok {
		return n
	}
	return fmt.Sprintf("aead(%d)", int(a))
}

// ParamRange describes valid lengths of a key, IV, digest or AAD.
// Increment of zero means the only valid size is Min.
type ParamRange struct {
	Min       int `json:"min" yaml:"min"`
	Max       int `json:"max" yaml:"max"`
	Increment int `json:"increment" yaml:"increment"`
}

// Fixed returns a range with the single valid size
func Fixed(size int) ParamRange {
	return ParamRange{Min: size, Max: size}
}

// Range returns a range from min to max with step
func Range(min, max, step int) ParamRange {
	return ParamRange{Min: min, Max: max, Increment: step}
}

// Valid returns true if length is a valid size within the range
func (r ParamRange) Valid(length int) bool {
	if length < r.Min || length > r.Max {
		return false
	}
	if r.Increment == 0 {
		return length == r.Min
	}
	return (length-r.Min)%r.Increment == 0
}

// Sizes enumerates the valid sizes from Min to Max
func (r ParamRange) Sizes() iter.Seq[int] {
	return func(yield func(int) bool) {
		for size := r.Min; size <= r.Max; size += r.Increment {
			if !yield(size) || r.Increment == 0 {
				return
			}
		}
	}
}

// Count returns the number of valid sizes
func (r ParamRange) Count() int {
	if r.Max < r.Min {
		return 0
	}
	if r.Increment == 0 {
		return 1
	}
	return (r.Max-r.Min)/r.Increment + 1
}

func (r ParamRange) String() string {
	if r.Increment == 0 {
		return fmt.Sprintf("%d", r.Min)
	}
	return fmt.Sprintf("%d-%d/%d", r.Min, r.Max, r.Increment)
}

// Capability describes a single algorithm supported by a device
type Capability struct {
	Xform  XformType
	Cipher CipherAlgo
	Auth   AuthAlgo
	AEAD   AEADAlgo

	KeySize    ParamRange
	IVSize     ParamRange
	DigestSize ParamRange
	AADSize    ParamRange
}

// CipherCapability returns cipher capability
func CipherCapability(algo CipherAlgo, key, iv ParamRange) Capability {
	return Capability{Xform: XformCipher, Cipher: algo, KeySize: key, IVSize: iv}
}

// AuthCapability returns authentication capability
func AuthCapability(algo AuthAlgo, key, digest, iv ParamRange) Capability {
	return Capability{Xform: XformAuth, Auth: algo, KeySize: key, DigestSize: digest, IVSize: iv}
}

// AEADCapability returns AEAD capability
func AEADCapability(algo AEADAlgo, key, digest, aad, iv ParamRange) Capability {
	return Capability{Xform: XformAEAD, AEAD: algo, KeySize: key, DigestSize: digest, AADSize: aad, IVSize: iv}
}

func (c Capability) String() string {
	switch c.Xform {
	case XformCipher:
		return fmt.Sprintf("cipher=%s, key=%s, iv=%s", c.Cipher, c.KeySize, c.IVSize)
	case XformAuth:
		return fmt.Sprintf("auth=%s, key=%s, digest=%s, iv=%s", c.Auth, c.KeySize, c.DigestSize, c.IVSize)
	case XformAEAD:
		return fmt.Sprintf("aead=%s, key=%s, digest=%s, aad=%s, iv=%s", c.AEAD, c.KeySize, c.DigestSize, c.AADSize, c.IVSize)
	}
	return "undefined"
}

// Info provides device information
type Info struct {
	Driver        string
	MaxQueuePairs int
	MaxSessions   int
	HWAccelerated bool
	Capabilities  []Capability
}

// FindCipher returns the capability for the cipher algorithm
func (i *Info) FindCipher(algo CipherAlgo) (*Capability, bool) {
	for idx := range i.Capabilities {
		c := &i.Capabilities[idx]
		if c.Xform == XformCipher && c.Cipher == algo {
			return c, true
		}
	}
	return nil, false
}

// FindAuth returns the capability for the auth algorithm
func (i *Info) FindAuth(algo AuthAlgo) (*Capability, bool) {
	for idx := range i.Capabilities {
		c := &i.Capabilities[idx]
		if c.Xform == XformAuth && c.Auth == algo {
			return c, true
		}
	}
	return nil, false
}

// FindAEAD returns the capability for the AEAD algorithm
func (i *Info) FindAEAD(algo AEADAlgo) (*Capability, bool) {
	for idx := range i.Capabilities {
		c := &i.Capabilities[idx]
		if c.Xform == XformAEAD && c.AEAD == algo {
			return c, true
		}
	}
	return nil, false
}
