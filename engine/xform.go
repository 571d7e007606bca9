package engine

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xcryptodev/packet"
)

// chain is the native transform chain of a session,
// the stages reference keys owned by the session params
type chain struct {
	xforms [2]cryptodev.Xform
	head   *cryptodev.Xform

	aead bool
	ccm  bool
}

// buildChain maps normalized session params to the native chain
func buildChain(c *chain, p *SessionParams) error {
	*c = chain{}
	encode := p.Op == OpEncode

	cdef, ok := ciphers[p.CipherAlg]
	if !ok {
		return errors.Wrapf(ErrInvalidCipherSpec, "unsupported cipher: %s", p.CipherAlg)
	}

	if cdef.aead != 0 {
		ccm := cdef.aead == cryptodev.AEADAESCCM
		switch {
		case p.AuthAADLen < 0 || p.AuthAADLen > packet.AADMax:
			return errors.Wrapf(ErrInvalidCipherSpec, "invalid AAD length: %d", p.AuthAADLen)
		case ccm && p.AuthAADLen+cryptodev.CCMAADOffset > packet.AADMax:
			return errors.Wrapf(ErrInvalidCipherSpec, "invalid AAD length for %s: %d", p.CipherAlg, p.AuthAADLen)
		case p.AuthDigestLen < 0 || p.AuthDigestLen > packet.DigestMax:
			return errors.Wrapf(ErrInvalidCipherSpec, "invalid digest length: %d", p.AuthDigestLen)
		}

		x := &c.xforms[0]
		x.Type = cryptodev.XformAEAD
		x.AEAD = cryptodev.AEADXform{
			Algo:         cdef.aead,
			Op:           cryptodev.AEADOpDecrypt,
			Key:          p.CipherKey,
			IVLength:     p.CipherIV.Length,
			DigestLength: p.AuthDigestLen,
			AADLength:    p.AuthAADLen,
		}
		if encode {
			x.AEAD.Op = cryptodev.AEADOpEncrypt
		}
		c.head = x
		c.aead = true
		c.ccm = ccm
		return nil
	}

	adef, ok := auths[p.AuthAlg]
	if !ok || adef.aead != 0 {
		return errors.Wrapf(ErrInvalidAuthSpec, "unsupported auth: %s", p.AuthAlg)
	}
	if p.AuthDigestLen < 0 || p.AuthDigestLen > packet.DigestMax {
		return errors.Wrapf(ErrInvalidAuthSpec, "invalid digest length: %d", p.AuthDigestLen)
	}

	cx := cryptodev.Xform{
		Type: cryptodev.XformCipher,
		Cipher: cryptodev.CipherXform{
			Algo:     cdef.native,
			Op:       cryptodev.CipherOpDecrypt,
			Key:      p.CipherKey,
			IVLength: p.CipherIV.Length,
		},
	}
	ax := cryptodev.Xform{
		Type: cryptodev.XformAuth,
		Auth: cryptodev.AuthXform{
			Algo:         adef.native,
			Op:           cryptodev.AuthOpVerify,
			Key:          p.AuthKey,
			IVLength:     p.AuthIV.Length,
			DigestLength: p.AuthDigestLen,
		},
	}
	if encode {
		cx.Cipher.Op = cryptodev.CipherOpEncrypt
		ax.Auth.Op = cryptodev.AuthOpGenerate
	}

	switch {
	case cdef.native == cryptodev.CipherNull:
		c.xforms[0] = ax
	case adef.native == cryptodev.AuthNull:
		c.xforms[0] = cx
	default:
		// auth over cipher text runs after encrypt and before decrypt
		cipherFirst := encode == p.AuthCipherText
		if cipherFirst {
			c.xforms[0], c.xforms[1] = cx, ax
		} else {
			c.xforms[0], c.xforms[1] = ax, cx
		}
		c.xforms[0].Next = &c.xforms[1]
	}
	c.head = &c.xforms[0]
	return nil
}

// cipherStage returns the cipher stage of a non-AEAD chain
func (c *chain) cipherStage() *cryptodev.Xform {
	return c.head.Find(cryptodev.XformCipher)
}

// authStage returns the auth stage of a non-AEAD chain
func (c *chain) authStage() *cryptodev.Xform {
	return c.head.Find(cryptodev.XformAuth)
}
