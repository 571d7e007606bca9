package cli

import (
	"fmt"

	"github.com/effective-security/xcryptodev/engine"
)

// CapsCmd prints the engine capabilities
type CapsCmd struct {
	Cipher string `help:"print supported parameters of the cipher algorithm"`
	Auth   string `help:"print supported parameters of the auth algorithm"`
}

// Run the command
func (a *CapsCmd) Run(ctx *Cli) error {
	e, err := ctx.Engine()
	if err != nil {
		return err
	}

	out := ctx.Writer()
	if a.Cipher != "" {
		alg, err := engine.ParseCipherAlg(a.Cipher)
		if err != nil {
			return err
		}
		n, err := e.CipherCapability(alg, nil)
		if err != nil {
			return err
		}
		list := make([]engine.CipherCapability, n)
		if _, err = e.CipherCapability(alg, list); err != nil {
			return err
		}
		fmt.Fprintf(out, "Cipher: %s\n", alg)
		if n == 0 {
			fmt.Fprintln(out, "  not supported")
		}
		for _, c := range list {
			fmt.Fprintf(out, "  key=%d, iv=%d, bit_mode=%t\n", c.KeyLen, c.IVLen, c.BitMode)
		}
	}

	if a.Auth != "" {
		alg, err := engine.ParseAuthAlg(a.Auth)
		if err != nil {
			return err
		}
		n, err := e.AuthCapability(alg, nil)
		if err != nil {
			return err
		}
		list := make([]engine.AuthCapability, n)
		if _, err = e.AuthCapability(alg, list); err != nil {
			return err
		}
		fmt.Fprintf(out, "Auth: %s\n", alg)
		if n == 0 {
			fmt.Fprintln(out, "  not supported")
		}
		for _, c := range list {
			fmt.Fprintf(out, "  digest=%d, key=%d, iv=%d, aad=%s, bit_mode=%t\n",
				c.DigestLen, c.KeyLen, c.IVLen, c.AAD, c.BitMode)
		}
	}

	if a.Cipher != "" || a.Auth != "" {
		return nil
	}

	c, err := e.Capability()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Sync mode:  %s\n", c.SyncMode)
	fmt.Fprintf(out, "Async mode:  %s\n", c.AsyncMode)
	fmt.Fprintf(out, "Max sessions:  %d\n", c.MaxSessions)
	fmt.Fprintf(out, "Ciphers:  %v\n", c.Ciphers.List())
	fmt.Fprintf(out, "Auths:  %v\n", c.Auths.List())
	fmt.Fprintf(out, "HW ciphers:  %v\n", c.HWCiphers.List())
	fmt.Fprintf(out, "HW auths:  %v\n", c.HWAuths.List())
	return nil
}
