package engine

import (
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xcryptodev/cryptodev"
)

const (
	// DefaultMaxSessions is the default capacity of the session pool
	DefaultMaxSessions = 2048
	// DefaultDequeueRetries is the default number of empty dequeue attempts
	// before an operation times out
	DefaultDequeueRetries = 100000
	// DefaultRetryInterval is the default sleep between dequeue attempts
	DefaultRetryInterval = time.Microsecond
)

// Config provides configuration for the engine
type Config struct {
	// Devices to open, in discovery order
	Devices []cryptodev.DeviceConfig `json:"devices" yaml:"devices"`
	// MaxSessions is the capacity of the session pool
	MaxSessions int `json:"max_sessions,omitempty" yaml:"max_sessions,omitempty"`
	// OpPoolSize is the number of crypto ops shared by all devices
	OpPoolSize int `json:"op_pool_size,omitempty" yaml:"op_pool_size,omitempty"`
	// QueuePairs per device, defaults to the number of CPUs
	// bounded by the device maximum
	QueuePairs int `json:"queue_pairs,omitempty" yaml:"queue_pairs,omitempty"`
	// Descriptors is the depth of a queue pair
	Descriptors int `json:"descriptors,omitempty" yaml:"descriptors,omitempty"`
	// DequeueRetries is the number of empty dequeue attempts
	DequeueRetries int `json:"dequeue_retries,omitempty" yaml:"dequeue_retries,omitempty"`
	// RetryInterval is the sleep between dequeue attempts
	RetryInterval time.Duration `json:"retry_interval,omitempty" yaml:"retry_interval,omitempty"`
}

func (c *Config) applyDefaults() {
	c.MaxSessions = values.Select(c.MaxSessions > 0, c.MaxSessions, DefaultMaxSessions)
	c.OpPoolSize = values.Select(c.OpPoolSize > 0, c.OpPoolSize, cryptodev.DefaultOpPoolCapacity)
	c.Descriptors = values.Select(c.Descriptors > 0, c.Descriptors, cryptodev.DefaultDescriptors)
	c.DequeueRetries = values.Select(c.DequeueRetries > 0, c.DequeueRetries, DefaultDequeueRetries)
	c.RetryInterval = values.Select(c.RetryInterval > 0, c.RetryInterval, DefaultRetryInterval)
}

// LoadConfig loads the engine configuration from JSON or YAML file,
// PINs of the devices are resolved against the config folder
func LoadConfig(filename string) (*Config, error) {
	cfg := new(Config)
	if err := cryptodev.DecodeFile(filename, cfg); err != nil {
		return nil, err
	}
	dir := filepath.Dir(filename)
	for i := range cfg.Devices {
		if err := cfg.Devices[i].ResolvePin(dir); err != nil {
			return nil, errors.WithMessagef(err, "unable to load PIN for device %q", cfg.Devices[i].Name)
		}
	}
	return cfg, nil
}
