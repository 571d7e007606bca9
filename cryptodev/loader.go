package cryptodev

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"go.uber.org/multierr"
)

// Loader creates a device by driver
type Loader func(id int, cfg *DeviceConfig) (Device, error)

var (
	lockLoaders sync.RWMutex
	loaders     = make(map[string]Loader)
)

// Register device loader by driver name
func Register(driver string, loader Loader) error {
	lockLoaders.Lock()
	defer lockLoaders.Unlock()

	if _, ok := loaders[driver]; ok {
		return errors.Errorf("already registered: %s", driver)
	}

	loaders[driver] = loader
	return nil
}

// Unregister device loader by driver name
func Unregister(driver string) (Loader, error) {
	lockLoaders.Lock()
	defer lockLoaders.Unlock()

	if loader, ok := loaders[driver]; ok {
		delete(loaders, driver)
		return loader, nil
	}

	return nil, errors.Errorf("not registered: %s", driver)
}

// Registered returns sorted names of registered drivers
func Registered() []string {
	lockLoaders.RLock()
	defer lockLoaders.RUnlock()

	list := make([]string, 0, len(loaders))
	for m := range loaders {
		list = append(list, m)
	}
	sort.Strings(list)
	return list
}

func loaderFor(driver string) (Loader, bool) {
	lockLoaders.RLock()
	defer lockLoaders.RUnlock()
	l, ok := loaders[driver]
	return l, ok
}

// DriverPref is a priority list of device drivers
type DriverPref []string

// Open constructs a device from the first driver in the list that succeeds
func (drvs DriverPref) Open(id int, cfg *DeviceConfig) (Device, error) {
	if len(drvs) == 0 {
		return nil, errors.Errorf("no drivers specified for device %q", cfg.Name)
	}

	var drvErrors []error
	for _, drv := range drvs {
		loader, ok := loaderFor(drv)
		if !ok {
			drvErrors = append(drvErrors, errors.Errorf("cryptodev[%s] driver not registered", drv))
			continue
		}
		d, err := loader(id, cfg)
		if err == nil {
			logger.KV(xlog.DEBUG, "device", d.Name(), "id", id, "driver", drv)
			return d, nil
		}
		drvErrors = append(drvErrors, errors.WithMessagef(err, "cryptodev[%s]", drv))
	}
	return nil, multierr.Combine(drvErrors...)
}

// Open constructs a device from the configured drivers
func Open(id int, cfg *DeviceConfig) (Device, error) {
	return DriverPref(cfg.Drivers).Open(id, cfg)
}

// CloseAll closes all devices, and returns combined errors
func CloseAll(devs []Device) error {
	var err error
	for _, d := range devs {
		if cerr := d.Close(); cerr != nil {
			err = multierr.Append(err, errors.WithMessagef(cerr, "close device %s", d.Name()))
		}
	}
	return err
}
