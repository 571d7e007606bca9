package cli

import (
	"fmt"
)

// DevicesCmd prints the enabled devices
type DevicesCmd struct {
	JSON bool `help:"print JSON output"`
}

// deviceInfo is JSON output of DevicesCmd
type deviceInfo struct {
	ID            int      `json:"id"`
	Name          string   `json:"name"`
	Driver        string   `json:"driver"`
	Socket        int      `json:"socket"`
	HWAccelerated bool     `json:"hw_accelerated"`
	QueuePairs    int      `json:"queue_pairs"`
	MaxSessions   int      `json:"max_sessions"`
	Capabilities  []string `json:"capabilities"`
}

// Run the command
func (a *DevicesCmd) Run(ctx *Cli) error {
	e, err := ctx.Engine()
	if err != nil {
		return err
	}

	var list []deviceInfo
	for _, d := range e.Devices() {
		info := d.Info()
		di := deviceInfo{
			ID:            d.ID(),
			Name:          d.Name(),
			Driver:        info.Driver,
			Socket:        d.Socket(),
			HWAccelerated: info.HWAccelerated,
			QueuePairs:    d.QueuePairs(),
			MaxSessions:   info.MaxSessions,
		}
		for _, c := range info.Capabilities {
			di.Capabilities = append(di.Capabilities, c.String())
		}
		list = append(list, di)
	}

	if a.JSON {
		ctx.WriteJSON(list)
		return nil
	}

	out := ctx.Writer()
	if len(list) == 0 {
		fmt.Fprintln(out, "no devices")
		return nil
	}
	for _, di := range list {
		fmt.Fprintf(out, "Device: %d\n", di.ID)
		fmt.Fprintf(out, "  Name:  %s\n", di.Name)
		fmt.Fprintf(out, "  Driver:  %s\n", di.Driver)
		fmt.Fprintf(out, "  Socket:  %d\n", di.Socket)
		fmt.Fprintf(out, "  HW accelerated:  %t\n", di.HWAccelerated)
		fmt.Fprintf(out, "  Queue pairs:  %d\n", di.QueuePairs)
		fmt.Fprintf(out, "  Max sessions:  %d\n", di.MaxSessions)
		fmt.Fprintln(out, "  Capabilities:")
		for _, c := range di.Capabilities {
			fmt.Fprintf(out, "    %s\n", c)
		}
	}
	return nil
}
