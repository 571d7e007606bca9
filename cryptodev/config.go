package cryptodev

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// DeviceConfig describes a crypto device to open.
//
// Drivers is the priority list of drivers to try,
// the first driver that succeeds creates the device.
type DeviceConfig struct {
	Name          string   `json:"name"            yaml:"name"`
	Drivers       []string `json:"drivers"         yaml:"drivers"`
	Socket        int      `json:"socket"          yaml:"socket"`
	MaxQueuePairs int      `json:"max_queue_pairs" yaml:"max_queue_pairs"`
	MaxSessions   int      `json:"max_sessions"    yaml:"max_sessions"`
	// HWAccelerated overrides the acceleration flag reported by the driver
	HWAccelerated *bool `json:"hw_accelerated,omitempty" yaml:"hw_accelerated,omitempty"`

	// Path is full path to PKCS#11 library
	Path string `json:"path,omitempty"         yaml:"path,omitempty"`
	// TokenSerial or TokenLabel identify the PKCS#11 token,
	// if both are specified then the first match wins
	TokenSerial string `json:"token_serial,omitempty" yaml:"token_serial,omitempty"`
	TokenLabel  string `json:"token_label,omitempty"  yaml:"token_label,omitempty"`
	// Pin is a secret to access the token.
	// If it's prefixed with `file:`, then it will be loaded from the file.
	Pin string `json:"pin,omitempty" yaml:"pin,omitempty"`
}

// DecodeFile decodes JSON or YAML file into v, based on the file suffix
func DecodeFile(filename string, v any) error {
	cfr, err := os.Open(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	defer cfr.Close()

	if strings.HasSuffix(filename, ".json") {
		err = json.NewDecoder(cfr).Decode(v)
	} else {
		err = yaml.NewDecoder(cfr).Decode(v)
	}
	if err != nil {
		return errors.WithMessagef(err, "failed to decode file: %s", filename)
	}
	return nil
}

// LoadDeviceConfig loads device configuration
func LoadDeviceConfig(filename string) (*DeviceConfig, error) {
	cfg := new(DeviceConfig)
	if err := DecodeFile(filename, cfg); err != nil {
		return nil, err
	}
	if err := cfg.ResolvePin(filepath.Dir(filename)); err != nil {
		return nil, errors.WithMessagef(err, "unable to load PIN for configuration: %s", filename)
	}
	return cfg, nil
}

// ResolvePin loads the PIN from a file, if it's prefixed with `file:`.
// The file is resolved against current folder and configDir.
func (c *DeviceConfig) ResolvePin(configDir string) error {
	if !strings.HasPrefix(c.Pin, "file:") {
		return nil
	}
	pinfile := c.Pin[5:]

	cwd, _ := os.Getwd()
	folders := []string{
		"",
		cwd,
		configDir,
	}

	for _, folder := range folders {
		if resolved, err := resolve(pinfile, folder); err == nil {
			pinfile = resolved
			break
		}
		logger.Warningf("reason=resolve, pinfile=%q, basedir=%q", pinfile, folder)
	}

	pb, err := os.ReadFile(pinfile)
	if err != nil {
		return errors.WithStack(err)
	}
	c.Pin = strings.TrimSpace(string(pb))
	return nil
}

// resolve returns absolute file name relative to baseDir,
// or error if the file does not exist
func resolve(file string, baseDir string) (string, error) {
	if file == "" {
		return file, nil
	}
	if filepath.IsAbs(file) {
		return file, nil
	}
	if baseDir == "" {
		return "", errors.Errorf("not found: %s", file)
	}

	resolved := filepath.Join(baseDir, file)
	if _, err := os.Stat(resolved); err != nil {
		return "", errors.WithStack(err)
	}
	return resolved, nil
}
