// Package cryptodevtest provides fake crypto devices for tests
package cryptodevtest

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
)

// ProcessFunc processes an enqueued op and sets its status
type ProcessFunc func(op *cryptodev.Op)

// Success completes every op with success
func Success(op *cryptodev.Op) {
	op.Status = cryptodev.OpStatusSuccess
}

// WithStatus returns ProcessFunc that completes every op with status
func WithStatus(status cryptodev.OpStatus) ProcessFunc {
	return func(op *cryptodev.Op) {
		op.Status = status
	}
}

// Session is a fake native session
type Session struct {
	Dev     int
	Xform   *cryptodev.Xform
	Cleared bool
	Freed   bool
}

// DeviceID returns the ID of the device the session was created on
func (s *Session) DeviceID() int {
	return s.Dev
}

// Device is a fake device, ops are completed on enqueue by Process
type Device struct {
	id   int
	name string
	info cryptodev.Info

	lock     sync.Mutex
	qps      []*QueuePair
	sessions []*Session
	closed   bool

	// Process is invoked for every enqueued op, defaults to Success
	Process ProcessFunc
	// Hold keeps enqueued ops pending until Release is called
	Hold bool
	// RejectEnqueue makes EnqueueBurst accept nothing
	RejectEnqueue bool
	// CreateErr is returned by CreateSession when set
	CreateErr error
	// ClearErr is returned by ClearSession when set
	ClearErr error
	// FreeErr is returned by FreeSession when set
	FreeErr error
	// ConfigureErr is returned by Configure when set
	ConfigureErr error
}

// New returns a fake device
func New(id int, name string, info cryptodev.Info) *Device {
	return &Device{
		id:      id,
		name:    name,
		info:    info,
		Process: Success,
	}
}

// Loader returns a device loader creating fake devices with info
func Loader(info cryptodev.Info) cryptodev.Loader {
	return func(id int, cfg *cryptodev.DeviceConfig) (cryptodev.Device, error) {
		i := info
		if cfg.MaxQueuePairs > 0 {
			i.MaxQueuePairs = cfg.MaxQueuePairs
		}
		if cfg.MaxSessions > 0 {
			i.MaxSessions = cfg.MaxSessions
		}
		if cfg.HWAccelerated != nil {
			i.HWAccelerated = *cfg.HWAccelerated
		}
		name := cfg.Name
		if name == "" {
			name = fmt.Sprintf("fake_%d", id)
		}
		return New(id, name, i), nil
	}
}

// FailLoader returns a device loader that always fails
func FailLoader(err error) cryptodev.Loader {
	return func(int, *cryptodev.DeviceConfig) (cryptodev.Device, error) {
		return nil, err
	}
}

// ID returns the device ID
func (d *Device) ID() int { return d.id }

// Name returns the device name
func (d *Device) Name() string { return d.name }

// Socket returns NUMA socket
func (d *Device) Socket() int { return -1 }

// Info returns device information
func (d *Device) Info() cryptodev.Info { return d.info }

// Configure creates queue pairs
func (d *Device) Configure(cfg cryptodev.QueueConfig) error {
	if d.ConfigureErr != nil {
		return d.ConfigureErr
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	d.qps = make([]*QueuePair, cfg.QueuePairs)
	for i := range d.qps {
		d.qps[i] = &QueuePair{id: i, dev: d}
	}
	return nil
}

// QueuePairs returns the number of configured queue pairs
func (d *Device) QueuePairs() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.qps)
}

// QueuePair returns the queue pair
func (d *Device) QueuePair(id int) cryptodev.QueuePair {
	d.lock.Lock()
	defer d.lock.Unlock()
	if id < 0 || id >= len(d.qps) {
		return nil
	}
	return d.qps[id]
}

// CreateSession records the chain in a fake session
func (d *Device) CreateSession(xform *cryptodev.Xform) (cryptodev.Session, error) {
	if d.CreateErr != nil {
		return nil, d.CreateErr
	}
	s := &Session{Dev: d.id, Xform: xform}
	d.lock.Lock()
	d.sessions = append(d.sessions, s)
	d.lock.Unlock()
	return s, nil
}

// ClearSession marks the session cleared
func (d *Device) ClearSession(s cryptodev.Session) error {
	if d.ClearErr != nil {
		return d.ClearErr
	}
	fs, ok := s.(*Session)
	if !ok {
		return errors.Errorf("invalid session type: %T", s)
	}
	fs.Cleared = true
	return nil
}

// FreeSession marks the session freed
func (d *Device) FreeSession(s cryptodev.Session) error {
	if d.FreeErr != nil {
		return d.FreeErr
	}
	fs, ok := s.(*Session)
	if !ok {
		return errors.Errorf("invalid session type: %T", s)
	}
	fs.Freed = true
	return nil
}

// Sessions returns all sessions created on the device
func (d *Device) Sessions() []*Session {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]*Session(nil), d.sessions...)
}

// LiveSessions returns the number of sessions not freed
func (d *Device) LiveSessions() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	n := 0
	for _, s := range d.sessions {
		if !s.Freed {
			n++
		}
	}
	return n
}

// Release completes all held ops
func (d *Device) Release() {
	d.lock.Lock()
	qps := d.qps
	d.lock.Unlock()
	for _, qp := range qps {
		qp.release()
	}
}

// Close closes the device
func (d *Device) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return errors.Errorf("device %s already closed", d.name)
	}
	d.closed = true
	return nil
}

// Closed returns true if the device was closed
func (d *Device) Closed() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.closed
}

// QueuePair is a fake queue pair
type QueuePair struct {
	id  int
	dev *Device

	lock     sync.Mutex
	held     []*cryptodev.Op
	done     []*cryptodev.Op
	enqueued int
}

// ID returns queue pair ID
func (qp *QueuePair) ID() int { return qp.id }

// EnqueueBurst processes ops, or holds them when the device is in Hold mode
func (qp *QueuePair) EnqueueBurst(ops cryptodev.OpVector) int {
	if qp.dev.RejectEnqueue {
		return 0
	}
	qp.lock.Lock()
	defer qp.lock.Unlock()
	qp.enqueued += len(ops)
	for _, op := range ops {
		if qp.dev.Hold {
			qp.held = append(qp.held, op)
			continue
		}
		qp.dev.Process(op)
		qp.done = append(qp.done, op)
	}
	return len(ops)
}

// Enqueued returns the number of accepted ops
func (qp *QueuePair) Enqueued() int {
	qp.lock.Lock()
	defer qp.lock.Unlock()
	return qp.enqueued
}

// DequeueBurst returns completed ops
func (qp *QueuePair) DequeueBurst(ops cryptodev.OpVector) int {
	qp.lock.Lock()
	defer qp.lock.Unlock()
	n := copy(ops, qp.done)
	qp.done = qp.done[n:]
	return n
}

func (qp *QueuePair) release() {
	qp.lock.Lock()
	defer qp.lock.Unlock()
	for _, op := range qp.held {
		qp.dev.Process(op)
		qp.done = append(qp.done, op)
	}
	qp.held = nil
}

// Ensure compiles
var _ cryptodev.Device = (*Device)(nil)
var _ cryptodev.QueuePair = (*QueuePair)(nil)
