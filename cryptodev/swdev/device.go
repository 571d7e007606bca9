// Package swdev provides a software crypto device backed by the Go crypto
// libraries. Operations are processed on enqueue, and completed ops are
// returned by dequeue in submission order.
package swdev

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcryptodev/cryptodev", "swdev")

// DriverName is the name the software driver is registered with
const DriverName = "sw"

// DefaultMaxSessions is the default limit of sessions per device
const DefaultMaxSessions = 2048

func init() {
	_ = cryptodev.Register(DriverName, Load)
}

// Load creates a software device, implements cryptodev.Loader
func Load(id int, cfg *cryptodev.DeviceConfig) (cryptodev.Device, error) {
	d := New(id, cfg.Name)
	if cfg.MaxQueuePairs > 0 {
		d.info.MaxQueuePairs = cfg.MaxQueuePairs
	}
	if cfg.MaxSessions > 0 {
		d.info.MaxSessions = cfg.MaxSessions
	}
	if cfg.HWAccelerated != nil {
		d.info.HWAccelerated = *cfg.HWAccelerated
	}
	d.socket = cfg.Socket
	return d, nil
}

// Device is a software crypto device
type Device struct {
	id     int
	name   string
	socket int
	info   cryptodev.Info

	lock     sync.RWMutex
	qps      []*queuePair
	sessions int
	closed   bool
}

// New returns a software device
func New(id int, name string) *Device {
	if name == "" {
		name = fmt.Sprintf("crypto_sw_%d", id)
	}
	return &Device{
		id:     id,
		name:   name,
		socket: -1,
		info: cryptodev.Info{
			Driver:        DriverName,
			MaxQueuePairs: runtime.NumCPU(),
			MaxSessions:   DefaultMaxSessions,
			Capabilities:  Capabilities(),
		},
	}
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

// Configure creates queue pairs with cfg.Descriptors depth
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

	d.qps = make([]*queuePair, cfg.QueuePairs)
	for i := range d.qps {
		d.qps[i] = &queuePair{
			id:   i,
			dev:  d.id,
			ring: make(cryptodev.OpVector, 0, cfg.Descriptors),
			size: cfg.Descriptors,
		}
	}
	logger.Tracef("device=%s, queue_pairs=%d, descriptors=%d", d.name, cfg.QueuePairs, cfg.Descriptors)
	return nil
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

// CreateSession instantiates a native session for the transform chain
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

	s, err := newSession(d.id, xform)
	if err != nil {
		d.lock.Lock()
		d.sessions--
		d.lock.Unlock()
		return nil, err
	}
	return s, nil
}

// ClearSession drops the keyed state of the session
func (d *Device) ClearSession(s cryptodev.Session) error {
	ss, ok := s.(*session)
	if !ok || ss.dev != d.id {
		return errors.Errorf("invalid session: %T", s)
	}
	ss.stages = nil
	return nil
}

// FreeSession releases the session
func (d *Device) FreeSession(s cryptodev.Session) error {
	ss, ok := s.(*session)
	if !ok || ss.dev != d.id {
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

// Close stops the device
func (d *Device) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return errors.Errorf("device %s is closed", d.name)
	}
	d.closed = true
	d.qps = nil
	if d.sessions > 0 {
		logger.KV(xlog.WARNING, "reason", "sessions_leaked", "device", d.name, "count", d.sessions)
	}
	return nil
}

// queuePair processes ops on enqueue into the completion ring
type queuePair struct {
	id   int
	dev  int
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
			op.Status = s.process(op)
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
