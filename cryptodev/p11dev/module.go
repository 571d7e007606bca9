// Package p11dev exposes a PKCS#11 token as a crypto accelerator device.
//
// The token mechanism list is mapped to device capabilities, native sessions
// are secret key objects created on the token, and every queue pair owns
// a PKCS#11 session.
package p11dev

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/miekg/pkcs11"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcryptodev/cryptodev", "p11dev")

// Module is the subset of PKCS#11 API used by the device,
// implemented by *pkcs11.Ctx
type Module interface {
	Initialize(opts ...pkcs11.InitializeOption) error
	Finalize() error
	Destroy()

	GetSlotList(tokenPresent bool) ([]uint, error)
	GetSlotInfo(slotID uint) (pkcs11.SlotInfo, error)
	GetTokenInfo(slotID uint) (pkcs11.TokenInfo, error)
	GetMechanismList(slotID uint) ([]*pkcs11.Mechanism, error)
	GetMechanismInfo(slotID uint, m []*pkcs11.Mechanism) (pkcs11.MechanismInfo, error)

	OpenSession(slotID uint, flags uint) (pkcs11.SessionHandle, error)
	CloseSession(sh pkcs11.SessionHandle) error
	Login(sh pkcs11.SessionHandle, userType uint, pin string) error

	CreateObject(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) (pkcs11.ObjectHandle, error)
	DestroyObject(sh pkcs11.SessionHandle, oh pkcs11.ObjectHandle) error

	EncryptInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error
	Encrypt(sh pkcs11.SessionHandle, message []byte) ([]byte, error)
	DecryptInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error
	Decrypt(sh pkcs11.SessionHandle, cipher []byte) ([]byte, error)
	SignInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error
	Sign(sh pkcs11.SessionHandle, message []byte) ([]byte, error)
}

// ModuleFactory loads PKCS#11 library, can be replaced in tests
var ModuleFactory = func(path string) (Module, error) {
	ctx := pkcs11.New(path)
	if ctx == nil {
		return nil, errors.Errorf("unable to load PKCS#11 module: %s", path)
	}
	return ctx, nil
}

// SlotTokenInfo describes a slot with a token
type SlotTokenInfo struct {
	ID           uint
	Description  string
	Label        string
	Manufacturer string
	Model        string
	Serial       string
	Flags        uint
}

// TokensInfo returns list of tokens
func TokensInfo(m Module) ([]*SlotTokenInfo, error) {
	list := []*SlotTokenInfo{}
	slots, err := m.GetSlotList(true)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	logger.Tracef("slots=%d", len(slots))

	for _, slotID := range slots {
		si, err := m.GetSlotInfo(slotID)
		if err != nil {
			return nil, errors.WithMessagef(err, "GetSlotInfo: %d", slotID)
		}
		ti, err := m.GetTokenInfo(slotID)
		if err != nil {
			logger.KV(xlog.ERROR,
				"reason", "GetTokenInfo",
				"slotID", slotID,
				"ManufacturerID", si.ManufacturerID,
				"SlotDescription", si.SlotDescription,
				"err", err)
		} else if ti.SerialNumber != "" || ti.Label != "" {
			list = append(list, &SlotTokenInfo{
				ID:           slotID,
				Description:  si.SlotDescription,
				Label:        ti.Label,
				Manufacturer: strings.TrimSpace(ti.ManufacturerID),
				Model:        strings.TrimSpace(ti.Model),
				Serial:       ti.SerialNumber,
				Flags:        ti.Flags,
			})
		}
	}
	return list, nil
}

// findToken returns the first token matching serial or label,
// or the first token if neither is specified
func findToken(list []*SlotTokenInfo, serial, label string) (*SlotTokenInfo, error) {
	for _, ti := range list {
		if serial == "" && label == "" {
			return ti, nil
		}
		if (serial != "" && ti.Serial == serial) || (label != "" && ti.Label == label) {
			return ti, nil
		}
	}
	return nil, errors.Errorf("token not found: serial=%q, label=%q", serial, label)
}
