package engine

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
)

// Support is the support level of an operation mode
type Support int

// Support levels
const (
	SupportNo Support = iota
	SupportYes
	SupportPreferred
)

func (s Support) String() string {
	switch s {
	case SupportYes:
		return "yes"
	case SupportPreferred:
		return "preferred"
	}
	return "no"
}

// Capability is the summary of the engine capabilities
type Capability struct {
	SyncMode  Support
	AsyncMode Support

	// Ciphers and Auths are supported by any device
	Ciphers CipherAlgs
	Auths   AuthAlgs
	// HWCiphers and HWAuths are supported by hardware accelerated devices
	HWCiphers CipherAlgs
	HWAuths   AuthAlgs

	// MaxSessions is the maximum number of sessions
	MaxSessions int
}

// CipherCapability describes a supported combination of cipher parameters
type CipherCapability struct {
	KeyLen  int
	IVLen   int
	BitMode bool
}

// AuthCapability describes a supported combination of auth parameters
type AuthCapability struct {
	DigestLen int
	KeyLen    int
	IVLen     int
	AAD       cryptodev.ParamRange
	BitMode   bool
}

// device is an enabled device of the engine
type device struct {
	dev  cryptodev.Device
	info cryptodev.Info
	qps  int
}

func (d *device) cipherCap(def cipherDef) (*cryptodev.Capability, bool) {
	if def.aead != 0 {
		return d.info.FindAEAD(def.aead)
	}
	return d.info.FindCipher(def.native)
}

func (d *device) authCap(def authDef) (*cryptodev.Capability, bool) {
	if def.aead != 0 {
		return d.info.FindAEAD(def.aead)
	}
	return d.info.FindAuth(def.native)
}

// Capability returns the summary of the engine capabilities
func (e *Engine) Capability() (Capability, error) {
	if len(e.devices) == 0 {
		return Capability{}, errors.WithStack(ErrNoDevicesAvailable)
	}

	c := Capability{
		SyncMode:    SupportYes,
		AsyncMode:   SupportPreferred,
		MaxSessions: e.pool.capacity(),
	}
	// emulated in software
	c.Ciphers.Add(CipherNull)
	c.Auths.Add(AuthNull)

	for _, d := range e.devices {
		var ciphers CipherAlgs
		var auths AuthAlgs
		for a := CipherDES; a <= CipherAES128GCM; a++ {
			if _, ok := d.cipherCap(cipherDefOf(a)); ok {
				ciphers.Add(a)
			}
		}
		for a := AuthMD5HMAC; a <= AuthAES128GCM; a++ {
			if _, ok := d.authCap(authDefOf(a)); ok {
				auths.Add(a)
			}
		}

		c.Ciphers |= ciphers
		c.Auths |= auths
		if d.info.HWAccelerated {
			c.HWCiphers |= ciphers
			c.HWAuths |= auths
		}
		if d.info.MaxSessions > 0 && d.info.MaxSessions < c.MaxSessions {
			c.MaxSessions = d.info.MaxSessions
		}
	}
	return c, nil
}

// cipherDefOf returns the definition of the cipher, resolving aliases
func cipherDefOf(a CipherAlg) cipherDef {
	return ciphers[a.Canonical()]
}

// authDefOf returns the definition of the auth algorithm, resolving aliases
func authDefOf(a AuthAlg) authDef {
	alg, _ := a.Canonical()
	return auths[alg]
}

// CipherCapability fills dst with supported parameter combinations of the
// cipher, and returns the total number of combinations which may exceed
// len(dst)
func (e *Engine) CipherCapability(alg CipherAlg, dst []CipherCapability) (int, error) {
	if len(e.devices) == 0 {
		return 0, errors.WithStack(ErrNoDevicesAvailable)
	}
	def, ok := ciphers[alg.Canonical()]
	if !ok {
		return 0, errors.Wrapf(ErrInvalidCipherSpec, "unsupported cipher: %s", alg)
	}

	n := 0
	add := func(c CipherCapability) {
		if n < len(dst) {
			dst[n] = c
		}
		n++
	}

	if def.native == cryptodev.CipherNull {
		add(CipherCapability{})
		add(CipherCapability{BitMode: true})
		return n, nil
	}

	for _, d := range e.devices {
		dc, ok := d.cipherCap(def)
		if !ok {
			continue
		}
		for key := range dc.KeySize.Sizes() {
			for iv := range dc.IVSize.Sizes() {
				add(CipherCapability{KeyLen: key, IVLen: iv, BitMode: def.bitMode})
			}
		}
	}
	return n, nil
}

// AuthCapability fills dst with supported parameter combinations of the
// auth algorithm, and returns the total number of combinations which may
// exceed len(dst)
func (e *Engine) AuthCapability(alg AuthAlg, dst []AuthCapability) (int, error) {
	if len(e.devices) == 0 {
		return 0, errors.WithStack(ErrNoDevicesAvailable)
	}
	canonical, fixedDigest := alg.Canonical()
	def, ok := auths[canonical]
	if !ok {
		return 0, errors.Wrapf(ErrInvalidAuthSpec, "unsupported auth: %s", alg)
	}

	n := 0
	add := func(c AuthCapability) {
		if n < len(dst) {
			dst[n] = c
		}
		n++
	}

	if def.native == cryptodev.AuthNull {
		add(AuthCapability{})
		add(AuthCapability{BitMode: true})
		return n, nil
	}

	for _, d := range e.devices {
		dc, ok := d.authCap(def)
		if !ok {
			continue
		}

		keys := dc.KeySize
		ivs := dc.IVSize
		aad := cryptodev.ParamRange{}
		switch {
		case def.aead != 0:
			// key and IV are reported by the cipher capability
			keys = cryptodev.ParamRange{}
			ivs = cryptodev.ParamRange{}
			aad = dc.AADSize
		case def.hmacKey > 0:
			if !keys.Valid(def.hmacKey) {
				continue
			}
			keys = cryptodev.Fixed(def.hmacKey)
		}

		for digest := range dc.DigestSize.Sizes() {
			if fixedDigest != 0 && digest != fixedDigest {
				continue
			}
			for key := range keys.Sizes() {
				for iv := range ivs.Sizes() {
					add(AuthCapability{
						DigestLen: digest,
						KeyLen:    key,
						IVLen:     iv,
						AAD:       aad,
						BitMode:   def.bitMode,
					})
				}
			}
		}
	}
	return n, nil
}

// selectDevice returns the first device supporting every stage of the chain
func (e *Engine) selectDevice(c *chain) (*device, error) {
	for _, d := range e.devices {
		if d.supports(c) {
			return d, nil
		}
	}
	return nil, errors.Wrapf(ErrResourceExhausted, "no device supports the session")
}

func (d *device) supports(c *chain) bool {
	for x := range c.head.Stages() {
		switch x.Type {
		case cryptodev.XformAEAD:
			dc, ok := d.info.FindAEAD(x.AEAD.Algo)
			if !ok ||
				!dc.KeySize.Valid(len(x.AEAD.Key)) ||
				!validIV(dc.IVSize, x.AEAD.IVLength) ||
				!dc.DigestSize.Valid(x.AEAD.DigestLength) {
				return false
			}
		case cryptodev.XformCipher:
			if x.Cipher.Algo == cryptodev.CipherNull {
				continue
			}
			dc, ok := d.info.FindCipher(x.Cipher.Algo)
			if !ok ||
				!dc.KeySize.Valid(len(x.Cipher.Key)) ||
				!validIV(dc.IVSize, x.Cipher.IVLength) {
				return false
			}
		case cryptodev.XformAuth:
			if x.Auth.Algo == cryptodev.AuthNull {
				continue
			}
			dc, ok := d.info.FindAuth(x.Auth.Algo)
			if !ok ||
				!dc.KeySize.Valid(len(x.Auth.Key)) ||
				!validIV(dc.IVSize, x.Auth.IVLength) ||
				!dc.DigestSize.Valid(x.Auth.DigestLength) {
				return false
			}
		}
	}
	return true
}

func validIV(r cryptodev.ParamRange, length int) bool {
	return length <= cryptodev.MaxIVLength && r.Valid(length)
}
