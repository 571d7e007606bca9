package p11dev

import (
	"crypto/subtle"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/miekg/pkcs11"
	"go.uber.org/multierr"
)

type keyMech struct {
	mech      uint
	keyType   uint
	blockSize int
}

var cipherMechs = map[cryptodev.CipherAlgo]keyMech{
	cryptodev.CipherAESCBC:  {pkcs11.CKM_AES_CBC, pkcs11.CKK_AES, 16},
	cryptodev.Cipher3DESCBC: {pkcs11.CKM_DES3_CBC, pkcs11.CKK_DES3, 8},
}

var authMechs = map[cryptodev.AuthAlgo]keyMech{
	cryptodev.AuthMD5HMAC:    {pkcs11.CKM_MD5_HMAC, pkcs11.CKK_GENERIC_SECRET, 0},
	cryptodev.AuthSHA1HMAC:   {pkcs11.CKM_SHA_1_HMAC, pkcs11.CKK_GENERIC_SECRET, 0},
	cryptodev.AuthSHA256HMAC: {pkcs11.CKM_SHA256_HMAC, pkcs11.CKK_GENERIC_SECRET, 0},
	cryptodev.AuthSHA384HMAC: {pkcs11.CKM_SHA384_HMAC, pkcs11.CKK_GENERIC_SECRET, 0},
	cryptodev.AuthSHA512HMAC: {pkcs11.CKM_SHA512_HMAC, pkcs11.CKK_GENERIC_SECRET, 0},
	cryptodev.AuthAESCMAC:    {pkcs11.CKM_AES_CMAC, pkcs11.CKK_AES, 16},
}

var aeadMechs = map[cryptodev.AEADAlgo]keyMech{
	cryptodev.AEADAESGCM: {pkcs11.CKM_AES_GCM, pkcs11.CKK_AES, 1},
}

// stage is a transform bound to a key object
type stage struct {
	kind cryptodev.XformType
	mech uint
	key  pkcs11.ObjectHandle

	encrypt   bool
	blockSize int
	ivLen     int
	digestLen int
	aadLen    int
}

// session is the native session of PKCS#11 device
type session struct {
	dev    *Device
	stages []*stage
}

// DeviceID returns the ID of the device the session was created on
func (s *session) DeviceID() int {
	return s.dev.id
}

func newSession(d *Device, xform *cryptodev.Xform) (*session, error) {
	s := &session{dev: d}
	for x := range xform.Stages() {
		st, key, err := newStage(x)
		if err != nil {
			_ = s.destroyKeys()
			return nil, err
		}
		if st == nil {
			continue
		}

		attrs := []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
			pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, key.keyType),
			pkcs11.NewAttribute(pkcs11.CKA_TOKEN, false),
			pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
			pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, false),
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, keyOf(x)),
		}
		if st.kind == cryptodev.XformAuth {
			attrs = append(attrs,
				pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
				pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true))
		} else {
			attrs = append(attrs,
				pkcs11.NewAttribute(pkcs11.CKA_ENCRYPT, true),
				pkcs11.NewAttribute(pkcs11.CKA_DECRYPT, true))
		}

		st.key, err = d.module.CreateObject(d.ctl, attrs)
		if err != nil {
			_ = s.destroyKeys()
			return nil, errors.WithMessagef(err, "CreateObject for %s", x.Type)
		}
		s.stages = append(s.stages, st)
	}
	return s, nil
}

func keyOf(x *cryptodev.Xform) []byte {
	switch x.Type {
	case cryptodev.XformCipher:
		return x.Cipher.Key
	case cryptodev.XformAuth:
		return x.Auth.Key
	}
	return x.AEAD.Key
}

func newStage(x *cryptodev.Xform) (*stage, keyMech, error) {
	switch x.Type {
	case cryptodev.XformCipher:
		if x.Cipher.Algo == cryptodev.CipherNull {
			return nil, keyMech{}, nil
		}
		km, ok := cipherMechs[x.Cipher.Algo]
		if !ok {
			return nil, km, errors.Wrapf(cryptodev.ErrUnsupported, "cipher=%s", x.Cipher.Algo)
		}
		return &stage{
			kind:      x.Type,
			mech:      km.mech,
			encrypt:   x.Cipher.Op == cryptodev.CipherOpEncrypt,
			blockSize: km.blockSize,
			ivLen:     x.Cipher.IVLength,
		}, km, nil
	case cryptodev.XformAuth:
		if x.Auth.Algo == cryptodev.AuthNull {
			return nil, keyMech{}, nil
		}
		km, ok := authMechs[x.Auth.Algo]
		if !ok {
			return nil, km, errors.Wrapf(cryptodev.ErrUnsupported, "auth=%s", x.Auth.Algo)
		}
		return &stage{
			kind:      x.Type,
			mech:      km.mech,
			encrypt:   x.Auth.Op == cryptodev.AuthOpGenerate,
			digestLen: x.Auth.DigestLength,
		}, km, nil
	case cryptodev.XformAEAD:
		km, ok := aeadMechs[x.AEAD.Algo]
		if !ok {
			return nil, km, errors.Wrapf(cryptodev.ErrUnsupported, "aead=%s", x.AEAD.Algo)
		}
		return &stage{
			kind:      x.Type,
			mech:      km.mech,
			encrypt:   x.AEAD.Op == cryptodev.AEADOpEncrypt,
			ivLen:     x.AEAD.IVLength,
			digestLen: x.AEAD.DigestLength,
			aadLen:    x.AEAD.AADLength,
		}, km, nil
	}
	return nil, keyMech{}, errors.Errorf("invalid transform type: %s", x.Type)
}

func (s *session) destroyKeys() error {
	var err error
	for _, st := range s.stages {
		if st.key == 0 {
			continue
		}
		if derr := s.dev.module.DestroyObject(s.dev.ctl, st.key); derr != nil {
			err = multierr.Append(err, errors.WithMessage(derr, "DestroyObject"))
		}
		st.key = 0
	}
	s.stages = nil
	return err
}

func (s *session) process(sh pkcs11.SessionHandle, op *cryptodev.Op) cryptodev.OpStatus {
	for _, st := range s.stages {
		var status cryptodev.OpStatus
		switch st.kind {
		case cryptodev.XformCipher:
			status = st.cipher(s.dev.module, sh, op)
		case cryptodev.XformAuth:
			status = st.auth(s.dev.module, sh, op)
		default:
			status = st.aead(s.dev.module, sh, op)
		}
		if status != cryptodev.OpStatusSuccess {
			return status
		}
	}
	return cryptodev.OpStatusSuccess
}

func (st *stage) cipher(m Module, sh pkcs11.SessionHandle, op *cryptodev.Op) cryptodev.OpStatus {
	data, err := op.Src.Range(op.Cipher.Offset, op.Cipher.Length)
	if err != nil || len(data)%st.blockSize != 0 {
		return cryptodev.OpStatusInvalidArgs
	}
	if len(data) == 0 {
		return cryptodev.OpStatusSuccess
	}

	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(st.mech, append([]byte(nil), op.CipherIV(st.ivLen)...))}
	var out []byte
	if st.encrypt {
		if err = m.EncryptInit(sh, mech, st.key); err == nil {
			out, err = m.Encrypt(sh, data)
		}
	} else {
		if err = m.DecryptInit(sh, mech, st.key); err == nil {
			out, err = m.Decrypt(sh, data)
		}
	}
	if err != nil || len(out) != len(data) {
		logger.Tracef("mech=0x%X, err=[%v]", st.mech, err)
		return statusOf(err)
	}
	copy(data, out)
	return cryptodev.OpStatusSuccess
}

func (st *stage) auth(m Module, sh pkcs11.SessionHandle, op *cryptodev.Op) cryptodev.OpStatus {
	data, err := op.Src.Range(op.Auth.Offset, op.Auth.Length)
	if err != nil || len(op.Digest) < st.digestLen {
		return cryptodev.OpStatusInvalidArgs
	}

	var sum []byte
	if err = m.SignInit(sh, []*pkcs11.Mechanism{pkcs11.NewMechanism(st.mech, nil)}, st.key); err == nil {
		sum, err = m.Sign(sh, data)
	}
	if err != nil || len(sum) < st.digestLen {
		logger.Tracef("mech=0x%X, err=[%v]", st.mech, err)
		return statusOf(err)
	}
	sum = sum[:st.digestLen]

	if !st.encrypt {
		if subtle.ConstantTimeCompare(sum, op.Digest[:st.digestLen]) != 1 {
			return cryptodev.OpStatusAuthFailed
		}
		return cryptodev.OpStatusSuccess
	}
	copy(op.Digest, sum)
	return cryptodev.OpStatusSuccess
}

func (st *stage) aead(m Module, sh pkcs11.SessionHandle, op *cryptodev.Op) cryptodev.OpStatus {
	data, err := op.Src.Range(op.Cipher.Offset, op.Cipher.Length)
	if err != nil || len(op.Digest) < st.digestLen || len(op.AAD) < st.aadLen {
		return cryptodev.OpStatusInvalidArgs
	}

	params := pkcs11.NewGCMParams(op.CipherIV(st.ivLen), op.AAD[:st.aadLen], st.digestLen*8)
	defer params.Free()
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(st.mech, params)}

	if st.encrypt {
		var out []byte
		if err = m.EncryptInit(sh, mech, st.key); err == nil {
			out, err = m.Encrypt(sh, data)
		}
		if err != nil || len(out) != len(data)+st.digestLen {
			return statusOf(err)
		}
		copy(data, out)
		copy(op.Digest, out[len(data):])
		return cryptodev.OpStatusSuccess
	}

	in := append(append(make([]byte, 0, len(data)+st.digestLen), data...), op.Digest[:st.digestLen]...)
	var out []byte
	if err = m.DecryptInit(sh, mech, st.key); err == nil {
		out, err = m.Decrypt(sh, in)
	}
	if err != nil {
		if errors.Is(err, pkcs11.Error(pkcs11.CKR_ENCRYPTED_DATA_INVALID)) {
			return cryptodev.OpStatusAuthFailed
		}
		return statusOf(err)
	}
	if len(out) != len(data) {
		return cryptodev.OpStatusError
	}
	copy(data, out)
	return cryptodev.OpStatusSuccess
}

func statusOf(err error) cryptodev.OpStatus {
	switch {
	case err == nil:
		return cryptodev.OpStatusError
	case errors.Is(err, pkcs11.Error(pkcs11.CKR_KEY_HANDLE_INVALID)):
		return cryptodev.OpStatusInvalidSession
	case errors.Is(err, pkcs11.Error(pkcs11.CKR_ARGUMENTS_BAD)),
		errors.Is(err, pkcs11.Error(pkcs11.CKR_DATA_LEN_RANGE)),
		errors.Is(err, pkcs11.Error(pkcs11.CKR_MECHANISM_PARAM_INVALID)):
		return cryptodev.OpStatusInvalidArgs
	}
	return cryptodev.OpStatusError
}
