package p11dev

import (
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xlog"
	"github.com/miekg/pkcs11"
)

var (
	none   = cryptodev.ParamRange{}
	anyAAD = cryptodev.Range(0, 65535, 1)
)

// mechanism maps a PKCS#11 mechanism to the device capability
type mechanism struct {
	mech uint
	// capability returns the capability for the token reported key sizes
	capability func(keys cryptodev.ParamRange) cryptodev.Capability
}

func hmacMechanism(mech uint, algo cryptodev.AuthAlgo, digest, block int) mechanism {
	return mechanism{
		mech: mech,
		capability: func(keys cryptodev.ParamRange) cryptodev.Capability {
			keys.Min = max(1, keys.Min)
			keys.Max = min(keys.Max, block)
			keys.Increment = 1
			return cryptodev.AuthCapability(algo, keys, cryptodev.Range(1, digest, 1), none)
		},
	}
}

var mechanisms = []mechanism{
	{
		mech: pkcs11.CKM_AES_CBC,
		capability: func(keys cryptodev.ParamRange) cryptodev.Capability {
			return cryptodev.CipherCapability(cryptodev.CipherAESCBC, aesKeys(keys), cryptodev.Fixed(16))
		},
	},
	{
		mech: pkcs11.CKM_DES3_CBC,
		capability: func(cryptodev.ParamRange) cryptodev.Capability {
			return cryptodev.CipherCapability(cryptodev.Cipher3DESCBC, cryptodev.Fixed(24), cryptodev.Fixed(8))
		},
	},
	hmacMechanism(pkcs11.CKM_MD5_HMAC, cryptodev.AuthMD5HMAC, 16, 64),
	hmacMechanism(pkcs11.CKM_SHA_1_HMAC, cryptodev.AuthSHA1HMAC, 20, 64),
	hmacMechanism(pkcs11.CKM_SHA256_HMAC, cryptodev.AuthSHA256HMAC, 32, 64),
	hmacMechanism(pkcs11.CKM_SHA384_HMAC, cryptodev.AuthSHA384HMAC, 48, 128),
	hmacMechanism(pkcs11.CKM_SHA512_HMAC, cryptodev.AuthSHA512HMAC, 64, 128),
	{
		mech: pkcs11.CKM_AES_CMAC,
		capability: func(keys cryptodev.ParamRange) cryptodev.Capability {
			return cryptodev.AuthCapability(cryptodev.AuthAESCMAC, aesKeys(keys), cryptodev.Range(4, 16, 4), none)
		},
	},
	{
		mech: pkcs11.CKM_AES_GCM,
		capability: func(keys cryptodev.ParamRange) cryptodev.Capability {
			return cryptodev.AEADCapability(cryptodev.AEADAESGCM, aesKeys(keys), cryptodev.Range(8, 16, 4), anyAAD, cryptodev.Fixed(12))
		},
	},
}

// aesKeys bounds the token reported range with AES key sizes
func aesKeys(keys cryptodev.ParamRange) cryptodev.ParamRange {
	// some tokens report AES key sizes in bits
	if keys.Max > 32 {
		keys.Min /= 8
		keys.Max /= 8
	}
	return cryptodev.Range(max(16, keys.Min), min(32, keys.Max), 8)
}

// capabilities returns capabilities of the slot, and true if any
// of the mechanisms is performed in hardware
func capabilities(m Module, slotID uint) ([]cryptodev.Capability, bool, error) {
	list, err := m.GetMechanismList(slotID)
	if err != nil {
		return nil, false, err
	}
	supported := make(map[uint]bool, len(list))
	for _, mech := range list {
		supported[mech.Mechanism] = true
	}

	caps := []cryptodev.Capability{
		cryptodev.CipherCapability(cryptodev.CipherNull, none, none),
		cryptodev.AuthCapability(cryptodev.AuthNull, none, none, none),
	}
	hw := false
	for _, mm := range mechanisms {
		if !supported[mm.mech] {
			continue
		}
		mi, err := m.GetMechanismInfo(slotID, []*pkcs11.Mechanism{pkcs11.NewMechanism(mm.mech, nil)})
		if err != nil {
			logger.KV(xlog.WARNING, "reason", "GetMechanismInfo", "slot", slotID, "mech", mm.mech, "err", err)
			continue
		}
		if mi.Flags&(pkcs11.CKF_ENCRYPT|pkcs11.CKF_SIGN) == 0 {
			continue
		}
		c := mm.capability(cryptodev.Range(int(mi.MinKeySize), int(mi.MaxKeySize), 1))
		if c.KeySize.Count() == 0 {
			continue
		}
		hw = hw || mi.Flags&pkcs11.CKF_HW != 0
		caps = append(caps, c)
	}
	return caps, hw, nil
}
