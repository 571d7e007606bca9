package cli

import (
	"fmt"

	"github.com/effective-security/xcryptodev/internal/version"
)

// VersionCmd prints the version
type VersionCmd struct {
	JSON bool `help:"print JSON output"`
}

// Run the command
func (a *VersionCmd) Run(ctx *Cli) error {
	v := version.Current()
	if a.JSON {
		ctx.WriteJSON(v)
		return nil
	}
	fmt.Fprintln(ctx.Writer(), v.String())
	return nil
}
