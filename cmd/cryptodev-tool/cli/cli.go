package cli

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/ctl"
	"github.com/effective-security/x/print"
	"github.com/effective-security/xcryptodev/cryptodev"
	_ "github.com/effective-security/xcryptodev/cryptodev/p11dev" // register pkcs11 driver
	"github.com/effective-security/xcryptodev/cryptodev/swdev"
	"github.com/effective-security/xcryptodev/engine"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcryptodev", "cli")

// Cli provides CLI context to run commands
type Cli struct {
	Version ctl.VersionFlag `name:"version" help:"Print version information and quit" hidden:""`

	Cfg      string `help:"Location of engine config file, the software device is used if not specified" type:"path"`
	Debug    bool   `short:"D" help:"Enable debug mode"`
	LogLevel string `short:"l" help:"Set the logging level (debug|info|warn|error)" default:"error"`

	// Stdin is the source to read from, typically set to os.Stdin
	stdin io.Reader
	// Output is the destination for all output from the command, typically set to os.Stdout
	output io.Writer
	// ErrOutput is the destinaton for errors.
	// If not set, errors will be written to os.StdError
	errOutput io.Writer

	ctx    context.Context
	engine *engine.Engine
}

// Context for requests
func (c *Cli) Context() context.Context {
	if c.ctx == nil {
		c.ctx = context.Background()
	}
	return c.ctx
}

// Reader is the source to read from, typically set to os.Stdin
func (c *Cli) Reader() io.Reader {
	if c.stdin != nil {
		return c.stdin
	}
	return os.Stdin
}

// WithReader allows to specify a custom reader
func (c *Cli) WithReader(reader io.Reader) *Cli {
	c.stdin = reader
	return c
}

// Writer returns a writer for control output
func (c *Cli) Writer() io.Writer {
	if c.output != nil {
		return c.output
	}
	return os.Stdout
}

// WithWriter allows to specify a custom writer
func (c *Cli) WithWriter(out io.Writer) *Cli {
	c.output = out
	return c
}

// ErrWriter returns a writer for control output
func (c *Cli) ErrWriter() io.Writer {
	if c.errOutput != nil {
		return c.errOutput
	}
	return os.Stderr
}

// WithErrWriter allows to specify a custom error writer
func (c *Cli) WithErrWriter(out io.Writer) *Cli {
	c.errOutput = out
	return c
}

// AfterApply hook sets the log level
func (c *Cli) AfterApply(_ *kong.Kong, _ kong.Vars) error {
	if c.Debug {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	} else {
		val := strings.TrimLeft(c.LogLevel, "=")
		l, err := xlog.ParseLevel(strings.ToUpper(val))
		if err != nil {
			return errors.WithStack(err)
		}
		xlog.SetGlobalLogLevel(l)
	}
	return nil
}

// WriteJSON prints response to out
func (c *Cli) WriteJSON(value any) {
	print.JSON(c.Writer(), value)
}

// DefaultConfig returns the engine config with a single software device
func DefaultConfig() *engine.Config {
	return &engine.Config{
		Devices: []cryptodev.DeviceConfig{
			{Name: "sw0", Drivers: []string{swdev.DriverName}},
		},
	}
}

// Engine returns the crypto engine, initialized on the first call
func (c *Cli) Engine() (*engine.Engine, error) {
	if c.engine != nil {
		return c.engine, nil
	}

	cfg := DefaultConfig()
	if c.Cfg != "" {
		var err error
		cfg, err = engine.LoadConfig(c.Cfg)
		if err != nil {
			return nil, err
		}
	}

	e, err := engine.Init(cfg)
	if err != nil {
		return nil, errors.WithMessage(err, "unable to initialize crypto engine")
	}
	c.engine = e
	return e, nil
}

// Close releases the engine
func (c *Cli) Close() error {
	if c.engine == nil {
		return nil
	}
	err := c.engine.Close()
	c.engine = nil
	if err != nil {
		logger.KV(xlog.ERROR, "reason", "close", "err", err)
	}
	return err
}
