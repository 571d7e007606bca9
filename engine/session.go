package engine

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xcryptodev/event"
	"github.com/effective-security/xcryptodev/metricskey"
	"github.com/effective-security/xcryptodev/packet"
	"github.com/effective-security/xlog"
	"github.com/jinzhu/copier"
	"go.uber.org/multierr"
)

// SessionOp is the direction of a session
type SessionOp int

// Session directions
const (
	// OpEncode encrypts and generates the digest
	OpEncode SessionOp = iota
	// OpDecode verifies the digest and decrypts
	OpDecode
)

func (o SessionOp) String() string {
	if o == OpDecode {
		return "decode"
	}
	return "encode"
}

// OpMode is the completion mode of session operations
type OpMode int

// Operation modes
const (
	OpModeDefault OpMode = iota
	OpModeSync
	OpModeAsync
)

func (m OpMode) String() string {
	switch m {
	case OpModeSync:
		return "sync"
	case OpModeAsync:
		return "async"
	}
	return "default"
}

// IV is an initialization vector.
// Data is the default IV of the session, or nil when every operation
// provides its own IV.
type IV struct {
	Length int
	Data   []byte
}

// SessionParams provides parameters of a crypto session
type SessionParams struct {
	Op SessionOp
	// AuthCipherText specifies that the digest is computed over the
	// cipher text
	AuthCipherText bool

	// PrefOpMode is deprecated, it's used when OpMode is not set
	PrefOpMode OpMode
	// OpMode defaults to OpModeSync
	OpMode OpMode

	CipherAlg CipherAlg
	CipherKey []byte
	CipherIV  IV

	AuthAlg       AuthAlg
	AuthKey       []byte
	AuthIV        IV
	AuthDigestLen int
	// AuthAADLen is the length of AAD for AEAD algorithms
	AuthAADLen int

	// ComplQueue receives completions of async operations
	ComplQueue *event.Queue `copier:"-"`
	// OutputPool allocates output packets for requests without output
	OutputPool *packet.Pool `copier:"-"`
}

// DefaultSessionParams returns session params with default values
func DefaultSessionParams() *SessionParams {
	return &SessionParams{
		Op:        OpEncode,
		OpMode:    OpModeSync,
		CipherAlg: CipherNull,
		AuthAlg:   AuthNull,
	}
}

// normalize resolves deprecated identifiers and modes
func (p *SessionParams) normalize() {
	p.CipherAlg = p.CipherAlg.Canonical()
	alg, digestLen := p.AuthAlg.Canonical()
	p.AuthAlg = alg
	if digestLen != 0 {
		p.AuthDigestLen = digestLen
	}
	if p.OpMode == OpModeDefault {
		p.OpMode = p.PrefOpMode
	}
	if p.OpMode == OpModeDefault {
		p.OpMode = OpModeSync
	}
}

// SessionInfo describes a live session
type SessionInfo struct {
	Device     string
	DeviceID   int
	QueuePairs int
	OpMode     OpMode
	// Stages of the native chain in processing order
	Stages []cryptodev.XformType
}

// CreateSession creates a crypto session on the first device supporting
// the params. Use CreateErrorCode to get the diagnostic code of the error.
func (e *Engine) CreateSession(params *SessionParams) (Session, error) {
	if e.closed.Load() {
		return Session{}, errors.WithStack(ErrNotInitialized)
	}
	defer metricskey.PerfCryptoOperation.MeasureSince(time.Now(), "engine", "create_session")

	if len(e.devices) == 0 {
		return Session{}, errors.Mark(errors.WithStack(ErrNoDevicesAvailable), ErrResourceExhausted)
	}

	sl, err := e.pool.alloc()
	if err != nil {
		logger.KV(xlog.ERROR, "reason", "alloc", "err", err)
		return Session{}, err
	}

	if err = e.initSlot(sl, params); err != nil {
		logger.KV(xlog.DEBUG,
			"reason", "create",
			"cipher", params.CipherAlg,
			"auth", params.AuthAlg,
			"err", err)
		e.pool.release(sl)
		return Session{}, err
	}

	s := e.pool.commit(sl)
	logger.KV(xlog.DEBUG,
		"status", "created",
		"session", s,
		"device", sl.dev.dev.Name(),
		"cipher", sl.params.CipherAlg,
		"auth", sl.params.AuthAlg)
	return s, nil
}

func (e *Engine) initSlot(sl *slot, params *SessionParams) error {
	if params.CipherIV.Length < 0 || (params.CipherIV.Data != nil && len(params.CipherIV.Data) < params.CipherIV.Length) {
		return errors.Wrapf(ErrInvalidCipherSpec, "invalid IV length: %d", params.CipherIV.Length)
	}
	if params.AuthIV.Length < 0 || (params.AuthIV.Data != nil && len(params.AuthIV.Data) < params.AuthIV.Length) {
		return errors.Wrapf(ErrInvalidAuthSpec, "invalid IV length: %d", params.AuthIV.Length)
	}

	err := copier.CopyWithOption(&sl.params, params, copier.Option{DeepCopy: true})
	if err != nil {
		return errors.Mark(errors.WithMessage(err, "unable to copy session params"), ErrResourceExhausted)
	}
	p := &sl.params
	p.ComplQueue = params.ComplQueue
	p.OutputPool = params.OutputPool
	p.normalize()

	if err = buildChain(&sl.chain, p); err != nil {
		return err
	}

	// NULL stages are not in the chain
	if p.CipherIV.Length > cryptodev.MaxIVLength || p.AuthIV.Length > cryptodev.MaxIVLength {
		return errors.Wrapf(ErrResourceExhausted, "IV length exceeds %d bytes", cryptodev.MaxIVLength)
	}

	d, err := e.selectDevice(&sl.chain)
	if err != nil {
		return err
	}

	native, err := d.dev.CreateSession(sl.chain.head)
	if err != nil {
		return errors.Mark(errors.WithMessagef(err, "unable to create session on %s", d.dev.Name()), ErrResourceExhausted)
	}

	sl.dev = d
	sl.native = native
	// IV length is bounded by the device selection,
	// copied slices are never nil so the defaults are taken from params
	if params.CipherIV.Data != nil {
		copy(sl.cipherIV[:], p.CipherIV.Data[:p.CipherIV.Length])
		sl.hasCipherIV = true
	}
	if params.AuthIV.Data != nil {
		copy(sl.authIV[:], p.AuthIV.Data[:p.AuthIV.Length])
		sl.hasAuthIV = true
	}
	return nil
}

// DestroySession destroys the session, the handle becomes invalid
// even when the device fails to release the native session
func (e *Engine) DestroySession(s Session) error {
	if e.closed.Load() {
		return errors.WithStack(ErrNotInitialized)
	}

	sl, err := e.pool.claim(s)
	if err != nil {
		return err
	}
	defer e.pool.release(sl)

	dev := sl.dev.dev
	defer metricskey.PerfCryptoOperation.MeasureSince(time.Now(), dev.Name(), "destroy_session")

	// the native session is freed even when it fails to clear
	if cerr := dev.ClearSession(sl.native); cerr != nil {
		err = errors.WithMessagef(cerr, "unable to clear %s on %s", s, dev.Name())
	}
	if ferr := dev.FreeSession(sl.native); ferr != nil {
		err = multierr.Append(err, errors.WithMessagef(ferr, "unable to free %s on %s", s, dev.Name()))
	}
	if err != nil {
		logger.KV(xlog.ERROR, "reason", "destroy", "session", s, "device", dev.Name(), "err", err)
		return errors.Mark(err, ErrDeviceError)
	}
	logger.KV(xlog.DEBUG, "status", "destroyed", "session", s, "device", dev.Name())
	return nil
}

// SessionInfo returns information about the live session
func (e *Engine) SessionInfo(s Session) (*SessionInfo, error) {
	sl, err := e.pool.lookup(s)
	if err != nil {
		return nil, err
	}
	si := &SessionInfo{
		Device:     sl.dev.dev.Name(),
		DeviceID:   sl.dev.dev.ID(),
		QueuePairs: sl.dev.qps,
		OpMode:     sl.params.OpMode,
	}
	for x := range sl.chain.head.Stages() {
		si.Stages = append(si.Stages, x.Type)
	}
	return si, nil
}

// Stats returns the session pool statistics
func (e *Engine) Stats() PoolStats {
	return e.pool.stats()
}
