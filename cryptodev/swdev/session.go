package swdev

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"hash"

	"github.com/aead/cmac"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
	"golang.org/x/crypto/chacha20poly1305"
)

// stage processes one transform of the chain,
// and returns the op status
type stage interface {
	process(op *cryptodev.Op) cryptodev.OpStatus
}

// session is the native session of the software device
type session struct {
	dev    int
	stages []stage
}

// DeviceID returns the ID of the device the session was created on
func (s *session) DeviceID() int {
	return s.dev
}

func (s *session) process(op *cryptodev.Op) cryptodev.OpStatus {
	for _, st := range s.stages {
		if status := st.process(op); status != cryptodev.OpStatusSuccess {
			return status
		}
	}
	return cryptodev.OpStatusSuccess
}

func newSession(dev int, xform *cryptodev.Xform) (*session, error) {
	s := &session{dev: dev}
	for x := range xform.Stages() {
		var st stage
		var err error
		switch x.Type {
		case cryptodev.XformCipher:
			st, err = newCipherStage(&x.Cipher)
		case cryptodev.XformAuth:
			st, err = newAuthStage(&x.Auth)
		case cryptodev.XformAEAD:
			st, err = newAEADStage(&x.AEAD)
		default:
			err = errors.Errorf("invalid transform type: %s", x.Type)
		}
		if err != nil {
			return nil, err
		}
		if st != nil {
			s.stages = append(s.stages, st)
		}
	}
	return s, nil
}

type cipherStage struct {
	algo  cryptodev.CipherAlgo
	op    cryptodev.CipherOp
	block cipher.Block
	ivLen int
}

func newCipherStage(x *cryptodev.CipherXform) (stage, error) {
	var block cipher.Block
	var err error
	switch x.Algo {
	case cryptodev.CipherNull:
		return nil, nil
	case cryptodev.CipherAESCBC, cryptodev.CipherAESCTR:
		block, err = aes.NewCipher(x.Key)
	case cryptodev.Cipher3DESCBC:
		block, err = des.NewTripleDESCipher(expand3DESKey(x.Key))
	default:
		return nil, errors.Wrapf(cryptodev.ErrUnsupported, "cipher=%s", x.Algo)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if x.IVLength != block.BlockSize() {
		return nil, errors.Errorf("invalid IV length for %s: %d", x.Algo, x.IVLength)
	}
	return &cipherStage{algo: x.Algo, op: x.Op, block: block, ivLen: x.IVLength}, nil
}

// expand3DESKey returns 24 bytes key, for keying options 2 and 3
func expand3DESKey(key []byte) []byte {
	switch len(key) {
	case 8:
		return append(append(append([]byte{}, key...), key...), key...)
	case 16:
		return append(append([]byte{}, key...), key[:8]...)
	}
	return key
}

func (c *cipherStage) process(op *cryptodev.Op) cryptodev.OpStatus {
	data, err := op.Src.Range(op.Cipher.Offset, op.Cipher.Length)
	if err != nil {
		return cryptodev.OpStatusInvalidArgs
	}
	iv := op.CipherIV(c.ivLen)

	switch c.algo {
	case cryptodev.CipherAESCTR:
		cipher.NewCTR(c.block, iv).XORKeyStream(data, data)
	default:
		if len(data)%c.block.BlockSize() != 0 {
			return cryptodev.OpStatusInvalidArgs
		}
		if c.op == cryptodev.CipherOpEncrypt {
			cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(data, data)
		} else {
			cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(data, data)
		}
	}
	return cryptodev.OpStatusSuccess
}

type authStage struct {
	op        cryptodev.AuthOp
	mac       func(op *cryptodev.Op, data []byte) ([]byte, error)
	digestLen int
}

func newAuthStage(x *cryptodev.AuthXform) (stage, error) {
	st := &authStage{op: x.Op, digestLen: x.DigestLength}

	switch x.Algo {
	case cryptodev.AuthNull:
		return nil, nil
	case cryptodev.AuthMD5HMAC:
		st.mac = hmacFunc(md5.New, x.Key)
	case cryptodev.AuthSHA1HMAC:
		st.mac = hmacFunc(sha1.New, x.Key)
	case cryptodev.AuthSHA256HMAC:
		st.mac = hmacFunc(sha256.New, x.Key)
	case cryptodev.AuthSHA384HMAC:
		st.mac = hmacFunc(sha512.New384, x.Key)
	case cryptodev.AuthSHA512HMAC:
		st.mac = hmacFunc(sha512.New, x.Key)
	case cryptodev.AuthAESGMAC:
		block, err := aes.NewCipher(x.Key)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		gcm, err := cipher.NewGCMWithTagSize(block, x.DigestLength)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if x.IVLength != gcm.NonceSize() {
			return nil, errors.Errorf("invalid IV length for %s: %d", x.Algo, x.IVLength)
		}
		st.mac = func(op *cryptodev.Op, data []byte) ([]byte, error) {
			return gcm.Seal(nil, op.AuthIV(x.IVLength), nil, data), nil
		}
	case cryptodev.AuthAESCMAC:
		block, err := aes.NewCipher(x.Key)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		st.mac = func(_ *cryptodev.Op, data []byte) ([]byte, error) {
			h, err := cmac.New(block)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			_, _ = h.Write(data)
			return h.Sum(nil), nil
		}
	default:
		return nil, errors.Wrapf(cryptodev.ErrUnsupported, "auth=%s", x.Algo)
	}
	return st, nil
}

func hmacFunc(h func() hash.Hash, key []byte) func(*cryptodev.Op, []byte) ([]byte, error) {
	key = append([]byte(nil), key...)
	return func(_ *cryptodev.Op, data []byte) ([]byte, error) {
		mac := hmac.New(h, key)
		_, _ = mac.Write(data)
		return mac.Sum(nil), nil
	}
}

func (a *authStage) process(op *cryptodev.Op) cryptodev.OpStatus {
	data, err := op.Src.Range(op.Auth.Offset, op.Auth.Length)
	if err != nil || len(op.Digest) < a.digestLen {
		return cryptodev.OpStatusInvalidArgs
	}
	sum, err := a.mac(op, data)
	if err != nil || len(sum) < a.digestLen {
		return cryptodev.OpStatusError
	}
	sum = sum[:a.digestLen]

	if a.op == cryptodev.AuthOpVerify {
		if subtle.ConstantTimeCompare(sum, op.Digest[:a.digestLen]) != 1 {
			return cryptodev.OpStatusAuthFailed
		}
		return cryptodev.OpStatusSuccess
	}
	copy(op.Digest, sum)
	return cryptodev.OpStatusSuccess
}

type aeadStage struct {
	algo      cryptodev.AEADAlgo
	op        cryptodev.AEADOp
	aead      cipher.AEAD
	ivOffset  int
	aadOffset int
	aadLen    int
	digestLen int
}

func newAEADStage(x *cryptodev.AEADXform) (stage, error) {
	st := &aeadStage{
		algo:      x.Algo,
		op:        x.Op,
		aadLen:    x.AADLength,
		digestLen: x.DigestLength,
	}

	var err error
	switch x.Algo {
	case cryptodev.AEADAESGCM:
		var block cipher.Block
		if block, err = aes.NewCipher(x.Key); err == nil {
			st.aead, err = cipher.NewGCMWithTagSize(block, x.DigestLength)
		}
	case cryptodev.AEADAESCCM:
		var block cipher.Block
		if block, err = aes.NewCipher(x.Key); err == nil {
			st.aead, err = newCCM(block, x.IVLength, x.DigestLength)
		}
		// the first byte of the IV area holds the nonce length
		st.ivOffset = 1
		st.aadOffset = cryptodev.CCMAADOffset
	case cryptodev.AEADChaCha20Poly1305:
		if x.DigestLength != chacha20poly1305.Overhead {
			return nil, errors.Errorf("invalid digest length for %s: %d", x.Algo, x.DigestLength)
		}
		st.aead, err = chacha20poly1305.New(x.Key)
	default:
		return nil, errors.Wrapf(cryptodev.ErrUnsupported, "aead=%s", x.Algo)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if x.IVLength != st.aead.NonceSize() {
		return nil, errors.Errorf("invalid IV length for %s: %d", x.Algo, x.IVLength)
	}
	return st, nil
}

func (a *aeadStage) process(op *cryptodev.Op) cryptodev.OpStatus {
	data, err := op.Src.Range(op.Cipher.Offset, op.Cipher.Length)
	if err != nil || len(op.Digest) < a.digestLen || len(op.AAD) < a.aadOffset+a.aadLen {
		return cryptodev.OpStatusInvalidArgs
	}
	nonce := op.IV[cryptodev.CipherIVOffset+a.ivOffset : cryptodev.CipherIVOffset+a.ivOffset+a.aead.NonceSize()]
	aad := op.AAD[a.aadOffset : a.aadOffset+a.aadLen]

	if a.op == cryptodev.AEADOpEncrypt {
		sealed := a.aead.Seal(nil, nonce, data, aad)
		copy(data, sealed[:len(data)])
		copy(op.Digest, sealed[len(data):])
		return cryptodev.OpStatusSuccess
	}

	ct := make([]byte, 0, len(data)+a.digestLen)
	ct = append(append(ct, data...), op.Digest[:a.digestLen]...)
	plain, err := a.aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return cryptodev.OpStatusAuthFailed
	}
	copy(data, plain)
	return cryptodev.OpStatusSuccess
}
