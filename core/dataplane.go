package core

import (
	"fmt"
	"io"
	"net/netip"

	"github.com/encodeous/ribsim/rib"
	"github.com/encodeous/ribsim/state"
	"github.com/goccy/go-yaml"
)

// VrfTable is the converged output of one routing instance.
type VrfTable struct {
	Node string
	Vrf  string
	// Routes is the main RIB selection in canonical order.
	Routes []state.Route
	// Bgp is the BGP RIB selection, empty when the VRF runs no BGP.
	Bgp []state.Route
	Fib *rib.Fib
}

// DataPlane holds every VrfTable sorted by node then VRF.
type DataPlane struct {
	Tables []*VrfTable
}

func (c *computation) dataPlane() *DataPlane {
	dp := &DataPlane{}
	for _, s := range c.states {
		t := &VrfTable{
			Node:   s.id.Node,
			Vrf:    s.id.Vrf,
			Routes: s.main.BestRoutes(),
			Fib:    rib.BuildFib(s.main),
		}
		if s.bgp != nil {
			t.Bgp = s.bgp.BestRoutes()
		}
		dp.Tables = append(dp.Tables, t)
	}
	return dp
}

func (d *DataPlane) Table(node, vrf string) *VrfTable {
	for _, t := range d.Tables {
		if t.Node == node && t.Vrf == vrf {
			return t
		}
	}
	return nil
}

// Lookup forwards addr through the FIB of node/vrf.
func (d *DataPlane) Lookup(node, vrf string, addr netip.Addr) (rib.FibEntry, bool) {
	t := d.Table(node, vrf)
	if t == nil {
		return rib.FibEntry{}, false
	}
	return t.Fib.Lookup(addr)
}

type RenderOptions struct {
	// Format is "text" (default) or "yaml".
	Format string
	// Node and Vrf restrict the output when set.
	Node string
	Vrf  string
	// Fib adds the resolved forwarding entries.
	Fib bool
}

type tableView struct {
	Node   string         `yaml:"node"`
	Vrf    string         `yaml:"vrf"`
	Routes []string       `yaml:"routes"`
	Bgp    []string       `yaml:"bgp,omitempty"`
	Fib    []rib.FibEntry `yaml:"fib,omitempty"`
}

func (d *DataPlane) views(opts RenderOptions) []tableView {
	var out []tableView
	for _, t := range d.Tables {
		if (opts.Node != "" && t.Node != opts.Node) || (opts.Vrf != "" && t.Vrf != opts.Vrf) {
			continue
		}
		v := tableView{Node: t.Node, Vrf: t.Vrf, Routes: routeStrings(t.Routes), Bgp: routeStrings(t.Bgp)}
		if opts.Fib {
			v.Fib = t.Fib.Entries()
		}
		out = append(out, v)
	}
	return out
}

func routeStrings(routes []state.Route) []string {
	out := make([]string, 0, len(routes))
	for _, r := range routes {
		out = append(out, r.String())
	}
	return out
}

// Render writes the selected tables. The output depends only on the
// converged state, so equal data planes render byte-identically.
func (d *DataPlane) Render(w io.Writer, opts RenderOptions) error {
	views := d.views(opts)
	switch opts.Format {
	case "yaml":
		data, err := yaml.Marshal(views)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "", "text":
	default:
		return fmt.Errorf("unknown format %q", opts.Format)
	}
	for i, v := range views {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s vrf %s\n", v.Node, v.Vrf)
		for _, r := range v.Routes {
			fmt.Fprintf(w, "  %s\n", r)
		}
		if len(v.Bgp) > 0 {
			fmt.Fprintf(w, " bgp\n")
			for _, r := range v.Bgp {
				fmt.Fprintf(w, "  %s\n", r)
			}
		}
		if opts.Fib {
			fmt.Fprintf(w, " fib\n")
			for _, e := range v.Fib {
				fmt.Fprintf(w, "  %s %s", e.Prefix, e.Protocol)
				for _, nh := range e.NextHops {
					fmt.Fprintf(w, " [%s]", nh)
				}
				fmt.Fprintln(w)
			}
		}
	}
	return nil
}
