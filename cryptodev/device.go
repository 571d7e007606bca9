package cryptodev

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

var (
	// ErrNotConfigured is returned when queue pairs are used before Configure
	ErrNotConfigured = errors.New("device is not configured")
	// ErrUnsupported is returned when a transform is not supported by the device
	ErrUnsupported = errors.New("transform is not supported")
	// ErrNoSessionSpace is returned when the device has no space for a new session
	ErrNoSessionSpace = errors.New("no space for session")
)

// Session is a device native session, created from a transform chain
type Session interface {
	// DeviceID returns the ID of the device the session was created on
	DeviceID() int
}

// QueuePair represents a crypto device queue pair
type QueuePair interface {
	// ID returns queue pair ID
	ID() int
	// EnqueueBurst submits a burst of crypto operations,
	// and returns the number of accepted ops
	EnqueueBurst(ops OpVector) int
	// DequeueBurst retrieves a burst of completed crypto operations
	DequeueBurst(ops OpVector) int
}

// QueueConfig is the device queue configuration
type QueueConfig struct {
	QueuePairs  int
	Descriptors int
}

// DefaultDescriptors is the default queue pair depth
const DefaultDescriptors = 2048

func (cfg *QueueConfig) applyDefaults(info Info) {
	if cfg.QueuePairs <= 0 || (info.MaxQueuePairs > 0 && cfg.QueuePairs > info.MaxQueuePairs) {
		cfg.QueuePairs = info.MaxQueuePairs
	}
	if cfg.QueuePairs <= 0 {
		cfg.QueuePairs = 1
	}
	if cfg.Descriptors <= 0 {
		cfg.Descriptors = DefaultDescriptors
	}
}

// Device is a crypto accelerator device
type Device interface {
	// ID returns the device ID
	ID() int
	// Name returns the device name
	Name() string
	// Socket returns NUMA socket of the device, or -1 if any
	Socket() int
	// Info returns device information and capabilities
	Info() Info

	// Configure sets up queue pairs and starts the device
	Configure(cfg QueueConfig) error
	// QueuePairs returns the number of configured queue pairs
	QueuePairs() int
	// QueuePair returns the queue pair with the given ID
	QueuePair(id int) QueuePair

	// CreateSession instantiates a native session for the transform chain
	CreateSession(xform *Xform) (Session, error)
	// ClearSession releases device private data of the session
	ClearSession(s Session) error
	// FreeSession releases the session
	FreeSession(s Session) error

	// Close stops and releases the device
	Close() error
}

// ConfigureDevice applies defaults to cfg bounded by the device info,
// and configures the device
func ConfigureDevice(d Device, cfg QueueConfig) (QueueConfig, error) {
	cfg.applyDefaults(d.Info())
	if err := d.Configure(cfg); err != nil {
		return cfg, errors.WithMessagef(err, "unable to configure device %s", d.Name())
	}
	logger.KV(xlog.INFO, "device", d.Name(), "id", d.ID(), "queue_pairs", cfg.QueuePairs, "descriptors", cfg.Descriptors)
	return cfg, nil
}
