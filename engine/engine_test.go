package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xcryptodev/cryptodev/cryptodevtest"
	"github.com/effective-security/xcryptodev/cryptodev/swdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	driverFake     = "engine_fake"
	driverFakeHW   = "engine_fake_hw"
	driverWireless = "engine_fake_wireless"
	driverFail     = "engine_fake_fail"
)

func init() {
	_ = cryptodev.Register(driverFake, cryptodevtest.Loader(cryptodevtest.CBCHMACInfo()))
	_ = cryptodev.Register(driverFakeHW, cryptodevtest.Loader(cryptodevtest.AEADInfo()))
	_ = cryptodev.Register(driverWireless, cryptodevtest.Loader(cryptodevtest.BitModeInfo()))
	_ = cryptodev.Register(driverFail, cryptodevtest.FailLoader(errors.New("device not found")))
}

func devCfg(name string, drivers ...string) cryptodev.DeviceConfig {
	return cryptodev.DeviceConfig{Name: name, Drivers: drivers}
}

func newEngine(t *testing.T, cfg *Config) *Engine {
	e, err := Init(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = e.Close()
	})
	return e
}

// swEngine returns an engine with a software device
func swEngine(t *testing.T) *Engine {
	return newEngine(t, &Config{
		Devices:     []cryptodev.DeviceConfig{devCfg("sw0", swdev.DriverName)},
		MaxSessions: 8,
		OpPoolSize:  64,
		QueuePairs:  2,
	})
}

// fakeEngine returns an engine with a fake device,
// and a short poll budget
func fakeEngine(t *testing.T) (*Engine, *cryptodevtest.Device) {
	e := newEngine(t, &Config{
		Devices:        []cryptodev.DeviceConfig{devCfg("fake0", driverFake)},
		MaxSessions:    4,
		OpPoolSize:     8,
		QueuePairs:     1,
		DequeueRetries: 3,
		RetryInterval:  time.Microsecond,
	})
	devs := e.Devices()
	require.Len(t, devs, 1)
	return e, devs[0].(*cryptodevtest.Device)
}

func TestInit(t *testing.T) {
	e := newEngine(t, &Config{
		Devices: []cryptodev.DeviceConfig{
			devCfg("fake0", driverFail, driverFake),
			devCfg("hw0", driverFakeHW),
		},
		QueuePairs: 16,
	})
	assert.Equal(t, DefaultMaxSessions, e.cfg.MaxSessions)
	assert.Equal(t, cryptodev.DefaultOpPoolCapacity, e.ops.Capacity())
	assert.Equal(t, DefaultDequeueRetries, e.cfg.DequeueRetries)
	assert.Equal(t, DefaultRetryInterval, e.cfg.RetryInterval)

	devs := e.Devices()
	require.Len(t, devs, 2)
	assert.Equal(t, "fake0", devs[0].Name())
	assert.Equal(t, 0, devs[0].ID())
	assert.Equal(t, "hw0", devs[1].Name())
	assert.Equal(t, 1, devs[1].ID())
	// bounded by the device maximum
	assert.Equal(t, 4, devs[0].QueuePairs())
	assert.Equal(t, 2, devs[1].QueuePairs())

	stats := e.Stats()
	assert.Equal(t, PoolStats{Capacity: DefaultMaxSessions, Free: DefaultMaxSessions}, stats)
}

func TestInitErrors(t *testing.T) {
	_, err := Init(&Config{
		Devices: []cryptodev.DeviceConfig{
			devCfg("fake0", driverFake),
			devCfg("none", driverFail),
			devCfg("unknown", "unknown_driver"),
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unable to open device "none"`)
	assert.Contains(t, err.Error(), "device not found")
	assert.Contains(t, err.Error(), "unknown_driver")

	_, err = Init(&Config{Devices: []cryptodev.DeviceConfig{{Name: "nodrivers"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no drivers specified")
}

func TestNoDevices(t *testing.T) {
	e := newEngine(t, nil)
	assert.Empty(t, e.Devices())

	_, err := e.Capability()
	assert.True(t, errors.Is(err, ErrNoDevicesAvailable))
	_, err = e.CipherCapability(CipherAESCBC, nil)
	assert.True(t, errors.Is(err, ErrNoDevicesAvailable))
	_, err = e.AuthCapability(AuthSHA1HMAC, nil)
	assert.True(t, errors.Is(err, ErrNoDevicesAvailable))

	_, err = e.CreateSession(DefaultSessionParams())
	assert.True(t, errors.Is(err, ErrResourceExhausted))
	assert.True(t, errors.Is(err, ErrNoDevicesAvailable))
	assert.Equal(t, CreateErrResource, CreateErrorCode(err))
}

func TestClose(t *testing.T) {
	e, dev := fakeEngine(t)

	s, err := e.CreateSession(DefaultSessionParams())
	require.NoError(t, err)

	err = e.Close()
	assert.True(t, errors.Is(err, ErrSessionsActive))
	assert.True(t, dev.Closed())

	assert.True(t, errors.Is(e.Close(), ErrNotInitialized))
	_, err = e.CreateSession(DefaultSessionParams())
	assert.True(t, errors.Is(err, ErrNotInitialized))
	assert.True(t, errors.Is(e.DestroySession(s), ErrNotInitialized))
	_, err = e.Operate(t.Context(), s, &OpRequest{})
	assert.True(t, errors.Is(err, ErrNotInitialized))

	e2, dev2 := fakeEngine(t)
	s, err = e2.CreateSession(DefaultSessionParams())
	require.NoError(t, err)
	require.NoError(t, e2.DestroySession(s))
	require.NoError(t, e2.Close())
	assert.True(t, dev2.Closed())
}

func TestGlobal(t *testing.T) {
	_, err := Global()
	assert.True(t, errors.Is(err, ErrNotInitialized))
	assert.True(t, errors.Is(TermGlobal(), ErrNotInitialized))

	cfg := &Config{Devices: []cryptodev.DeviceConfig{devCfg("fake0", driverFake)}}
	e1, err := InitGlobal(cfg)
	require.NoError(t, err)
	e2, err := InitGlobal(nil)
	require.NoError(t, err)
	assert.Same(t, e1, e2)

	g, err := Global()
	require.NoError(t, err)
	assert.Same(t, e1, g)

	require.NoError(t, TermGlobal())
	assert.True(t, errors.Is(TermGlobal(), ErrNotInitialized))

	_, err = InitGlobal(&Config{Devices: []cryptodev.DeviceConfig{devCfg("none", driverFail)}})
	require.Error(t, err)
	_, err = Global()
	assert.True(t, errors.Is(err, ErrNotInitialized))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pin.txt"), []byte("1234\n"), 0600))

	cfgfile := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(cfgfile, []byte(`
max_sessions: 16
queue_pairs: 2
dequeue_retries: 10
retry_interval: 5ms
devices:
  - name: token
    drivers: [pkcs11, sw]
    pin: file:pin.txt
  - name: sw1
    drivers: [sw]
`), 0600))

	cfg, err := LoadConfig(cfgfile)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.MaxSessions)
	assert.Equal(t, 2, cfg.QueuePairs)
	assert.Equal(t, 10, cfg.DequeueRetries)
	assert.Equal(t, 5*time.Millisecond, cfg.RetryInterval)
	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, []string{"pkcs11", "sw"}, cfg.Devices[0].Drivers)
	assert.Equal(t, "1234", cfg.Devices[0].Pin)
	assert.Empty(t, cfg.Devices[1].Pin)

	require.NoError(t, os.WriteFile(cfgfile, []byte(`
devices:
  - name: token
    pin: file:missing.txt
`), 0600))
	_, err = LoadConfig(cfgfile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unable to load PIN for device "token"`)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
