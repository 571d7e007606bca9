package p11dev

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xlog"
	"github.com/miekg/pkcs11"
)

// DriverName is the name the PKCS#11 driver is registered with
const DriverName = "pkcs11"

const (
	defaultQueuePairs  = 4
	defaultMaxSessions = 1024
)

func init() {
	_ = cryptodev.Register(DriverName, Load)
}

// Load creates a PKCS#11 device, implements cryptodev.Loader
func Load(id int, cfg *cryptodev.DeviceConfig) (cryptodev.Device, error) {
	if cfg.Path == "" {
		return nil, errors.New("PKCS#11 module path is required")
	}
	m, err := ModuleFactory(cfg.Path)
	if err != nil {
		return nil, err
	}
	if err = m.Initialize(); err != nil {
		m.Destroy()
		return nil, errors.WithMessagef(err, "initialize module: %s", cfg.Path)
	}

	d, err := New(id, m, cfg)
	if err != nil {
		_ = m.Finalize()
		m.Destroy()
		return nil, err
	}
	d.ownsModule = true
	return d, nil
}

// Device is a PKCS#11 token exposed as crypto device
type Device struct {
	id     int
	name   string
	socket int
	info   cryptodev.Info

	module     Module
	ownsModule bool
	slot       *SlotTokenInfo
	pin        string

	// ctl is the session keys are created and destroyed on
	ctlLock sync.Mutex
	ctl     pkcs11.SessionHandle

	lock     sync.RWMutex
	qps      []*queuePair
	sessions int
	closed   bool
}

// New returns a device for the token matching cfg on an initialized module
func New(id int, m Module, cfg *cryptodev.DeviceConfig) (*Device, error) {
	tokens, err := TokensInfo(m)
	if err != nil {
		return nil, err
	}
	slot, err := findToken(tokens, cfg.TokenSerial, cfg.TokenLabel)
	if err != nil {
		return nil, err
	}
	caps, hw, err := capabilities(m, slot.ID)
	if err != nil {
		return nil, errors.WithMessagef(err, "GetMechanismList on slot %d", slot.ID)
	}

	ctl, err := m.OpenSession(slot.ID, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return nil, errors.WithMessagef(err, "OpenSession on slot %d", slot.ID)
	}
	if err = login(m, ctl, cfg.Pin); err != nil {
		_ = m.CloseSession(ctl)
		return nil, err
	}

	if cfg.HWAccelerated != nil {
		hw = *cfg.HWAccelerated
	}
	d := &Device{
		id:     id,
		name:   values.Select(cfg.Name != "", cfg.Name, fmt.Sprintf("pkcs11_%s", slot.Label)),
		socket: cfg.Socket,
		info: cryptodev.Info{
			Driver:        DriverName,
			MaxQueuePairs: values.Select(cfg.MaxQueuePairs > 0, cfg.MaxQueuePairs, defaultQueuePairs),
			MaxSessions:   values.Select(cfg.MaxSessions > 0, cfg.MaxSessions, defaultMaxSessions),
			HWAccelerated: hw,
			Capabilities:  caps,
		},
		module: m,
		slot:   slot,
		pin:    cfg.Pin,
		ctl:    ctl,
	}

	logger.KV(xlog.INFO,
		"device", d.name,
		"slot", slot.ID,
		"label", slot.Label,
		"manufacturer", slot.Manufacturer,
		"model", slot.Model,
		"capabilities", len(caps),
		"hw", hw)
	return d, nil
}

func login(m Module, sh pkcs11.SessionHandle, pin string) error {
	if pin == "" {
		return nil
	}
	err := m.Login(sh, pkcs11.CKU_USER, pin)
	if err != nil && !errors.Is(err, pkcs11.Error(pkcs11.CKR_USER_ALREADY_LOGGED_IN)) {
		return errors.WithMessage(err, "login")
	}
	return nil
}

// ID returns the device ID
func (d *Device) ID() int {
	return d.id
}

// Name returns the device name
func (d *Device) Name() string {
	return d.name
}

// Socket returns NUMA socket
func (d *Device) Socket() int {
	return d.socket
}

// Info returns device information
func (d *Device) Info() cryptodev.Info {
	return d.info
}

// Slot returns the token slot
func (d *Device) Slot() SlotTokenInfo {
	return *d.slot
}

// Configure opens a PKCS#11 session for each queue pair
func (d *Device) Configure(cfg cryptodev.QueueConfig) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.closed {
		return errors.Errorf("device %s is closed", d.name)
	}
	if cfg.QueuePairs <= 0 || cfg.QueuePairs > d.info.MaxQueuePairs {
		return errors.Errorf("invalid queue pairs: %d, max=%d", cfg.QueuePairs, d.info.MaxQueuePairs)
	}
	if cfg.Descriptors <= 0 {
		return errors.Errorf("invalid descriptors: %d", cfg.Descriptors)
	}

	d.closeQueuePairs()
	qps := make([]*queuePair, 0, cfg.QueuePairs)
	for i := 0; i < cfg.QueuePairs; i++ {
		sh, err := d.module.OpenSession(d.slot.ID, pkcs11.CKF_SERIAL_SESSION)
		if err != nil {
			d.qps = qps
			d.closeQueuePairs()
			return errors.WithMessagef(err, "OpenSession on slot %d", d.slot.ID)
		}
		qps = append(qps, &queuePair{
			id:   i,
			dev:  d,
			sh:   sh,
			ring: make(cryptodev.OpVector, 0, cfg.Descriptors),
			size: cfg.Descriptors,
		})
	}
	d.qps = qps
	return nil
}

func (d *Device) closeQueuePairs() {
	for _, qp := range d.qps {
		if err := d.module.CloseSession(qp.sh); err != nil {
			logger.KV(xlog.WARNING, "reason", "CloseSession", "device", d.name, "qp", qp.id, "err", err)
		}
	}
	d.qps = nil
}

// QueuePairs returns the number of configured queue pairs
func (d *Device) QueuePairs() int {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return len(d.qps)
}

// QueuePair returns the queue pair with the given ID
func (d *Device) QueuePair(id int) cryptodev.QueuePair {
	d.lock.RLock()
	defer d.lock.RUnlock()
	if id < 0 || id >= len(d.qps) {
		return nil
	}
	return d.qps[id]
}

// CreateSession creates secret key objects for the transform chain
func (d *Device) CreateSession(xform *cryptodev.Xform) (cryptodev.Session, error) {
	if xform == nil {
		return nil, errors.New("transform chain is required")
	}

	d.lock.Lock()
	if d.sessions >= d.info.MaxSessions {
		d.lock.Unlock()
		return nil, errors.Wrapf(cryptodev.ErrNoSessionSpace, "device=%s, max=%d", d.name, d.info.MaxSessions)
	}
	d.sessions++
	d.lock.Unlock()

	d.ctlLock.Lock()
	s, err := newSession(d, xform)
	d.ctlLock.Unlock()
	if err != nil {
		d.lock.Lock()
		d.sessions--
		d.lock.Unlock()
		return nil, err
	}
	return s, nil
}

// ClearSession destroys the key objects of the session
func (d *Device) ClearSession(s cryptodev.Session) error {
	ss, ok := s.(*session)
	if !ok || ss.dev != d {
		return errors.Errorf("invalid session: %T", s)
	}
	d.ctlLock.Lock()
	defer d.ctlLock.Unlock()
	return ss.destroyKeys()
}

// FreeSession releases the session
func (d *Device) FreeSession(s cryptodev.Session) error {
	ss, ok := s.(*session)
	if !ok || ss.dev != d {
		return errors.Errorf("invalid session: %T", s)
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.sessions == 0 {
		return errors.Errorf("device %s has no sessions", d.name)
	}
	d.sessions--
	return nil
}

// Close closes all sessions, and finalizes the module if it was loaded
// by the device
func (d *Device) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return errors.Errorf("device %s is closed", d.name)
	}
	d.closed = true
	d.closeQueuePairs()

	var err error
	if cerr := d.module.CloseSession(d.ctl); cerr != nil {
		err = errors.WithMessage(cerr, "CloseSession")
	}
	if d.ownsModule {
		if ferr := d.module.Finalize(); ferr != nil && err == nil {
			err = errors.WithMessage(ferr, "Finalize")
		}
		d.module.Destroy()
	}
	return err
}

// queuePair processes ops on its own PKCS#11 session
type queuePair struct {
	id   int
	dev  *Device
	sh   pkcs11.SessionHandle
	size int

	lock sync.Mutex
	ring cryptodev.OpVector
}

// ID returns queue pair ID
func (qp *queuePair) ID() int {
	return qp.id
}

// EnqueueBurst processes as many ops as the ring has space for
func (qp *queuePair) EnqueueBurst(ops cryptodev.OpVector) int {
	qp.lock.Lock()
	defer qp.lock.Unlock()

	n := min(len(ops), qp.size-len(qp.ring))
	for _, op := range ops[:n] {
		s, ok := op.Session.(*session)
		if !ok || s.dev != qp.dev || op.Src == nil {
			op.Status = cryptodev.OpStatusInvalidSession
		} else {
			op.Status = s.process(qp.sh, op)
		}
		qp.ring = append(qp.ring, op)
	}
	return n
}

// DequeueBurst retrieves completed ops
func (qp *queuePair) DequeueBurst(ops cryptodev.OpVector) int {
	qp.lock.Lock()
	defer qp.lock.Unlock()

	n := copy(ops, qp.ring)
	rest := copy(qp.ring, qp.ring[n:])
	clear(qp.ring[rest:])
	qp.ring = qp.ring[:rest]
	return n
}

// Ensure compiles
var _ cryptodev.Device = (*Device)(nil)
var _ cryptodev.QueuePair = (*queuePair)(nil)
var _ Module = (*pkcs11.Ctx)(nil)
