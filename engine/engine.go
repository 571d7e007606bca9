// Package engine provides the symmetric crypto session and operation engine
// on top of crypto accelerator devices.
//
// The engine opens the configured devices, reports the union of their
// capabilities, binds sessions to the first device supporting the session
// parameters, and dispatches operations to the device queue pairs.
package engine

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xlog"
	"go.uber.org/multierr"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcryptodev", "engine")

// Engine is the crypto session and operation engine
type Engine struct {
	cfg     Config
	devices []*device
	pool    *sessionPool
	ops     *cryptodev.OpPool

	closeOnce sync.Once
	closed    atomic.Bool
}

// Init opens and configures the devices, and returns the engine.
// The engine is initialized with no devices when cfg has none,
// in which case sessions can not be created.
func Init(cfg *Config) (*Engine, error) {
	e := &Engine{}
	if cfg != nil {
		e.cfg = *cfg
	}
	e.cfg.applyDefaults()

	var err error
	for i := range e.cfg.Devices {
		dc := &e.cfg.Devices[i]
		d, oerr := cryptodev.Open(i, dc)
		if oerr != nil {
			err = multierr.Append(err, errors.WithMessagef(oerr, "unable to open device %q", dc.Name))
			continue
		}

		qps := e.cfg.QueuePairs
		if qps <= 0 {
			qps = runtime.NumCPU()
		}
		qcfg, cerr := cryptodev.ConfigureDevice(d, cryptodev.QueueConfig{
			QueuePairs:  qps,
			Descriptors: e.cfg.Descriptors,
		})
		if cerr != nil {
			err = multierr.Append(err, cerr)
			_ = d.Close()
			continue
		}

		e.devices = append(e.devices, &device{
			dev:  d,
			info: d.Info(),
			qps:  qcfg.QueuePairs,
		})
	}
	if err != nil {
		_ = e.closeDevices()
		return nil, err
	}

	if len(e.devices) == 0 {
		logger.KV(xlog.WARNING, "reason", "discover", "err", ErrNoDevicesAvailable)
	}

	e.pool = newSessionPool(e.cfg.MaxSessions)
	e.ops = cryptodev.NewOpPool("crypto_op_pool", cryptodev.OpPoolConfig{Capacity: e.cfg.OpPoolSize})

	logger.KV(xlog.INFO,
		"status", "initialized",
		"devices", len(e.devices),
		"max_sessions", e.cfg.MaxSessions,
		"ops", e.cfg.OpPoolSize)
	return e, nil
}

// Devices returns the enabled devices in discovery order
func (e *Engine) Devices() []cryptodev.Device {
	list := make([]cryptodev.Device, len(e.devices))
	for i, d := range e.devices {
		list[i] = d.dev
	}
	return list
}

// Close releases the devices.
// It returns ErrSessionsActive when sessions were not destroyed,
// the resources are released regardless.
func (e *Engine) Close() error {
	err := errors.WithStack(ErrNotInitialized)
	e.closeOnce.Do(func() {
		e.closed.Store(true)

		err = nil
		if stats := e.pool.stats(); stats.Live > 0 {
			logger.KV(xlog.ERROR, "reason", "leak", "sessions", stats.Live)
			err = errors.Wrapf(ErrSessionsActive, "live sessions: %d", stats.Live)
		}
		err = multierr.Append(err, e.closeDevices())
		logger.KV(xlog.INFO, "status", "closed", "err", err)
	})
	return err
}

func (e *Engine) closeDevices() error {
	devs := e.Devices()
	e.devices = nil
	return cryptodev.CloseAll(devs)
}

var (
	globalLock sync.Mutex
	global     *Engine
)

// InitGlobal initializes the process wide engine,
// the existing engine is returned when it's already initialized
func InitGlobal(cfg *Config) (*Engine, error) {
	globalLock.Lock()
	defer globalLock.Unlock()

	if global != nil {
		logger.Infof("reason=init_global, status=already_initialized")
		return global, nil
	}
	e, err := Init(cfg)
	if err != nil {
		return nil, err
	}
	global = e
	return global, nil
}

// Global returns the process wide engine
func Global() (*Engine, error) {
	globalLock.Lock()
	defer globalLock.Unlock()
	if global == nil {
		return nil, errors.WithStack(ErrNotInitialized)
	}
	return global, nil
}

// TermGlobal closes the process wide engine
func TermGlobal() error {
	globalLock.Lock()
	defer globalLock.Unlock()

	if global == nil {
		return errors.WithStack(ErrNotInitialized)
	}
	err := global.Close()
	global = nil
	return err
}
