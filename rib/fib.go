package rib

import (
	"cmp"
	"fmt"
	"net/netip"
	"slices"

	"github.com/encodeous/ribsim/state"
	"github.com/gaissmai/bart"
)

// NextHop is a fully resolved forwarding decision.
type NextHop struct {
	Interface string     `yaml:"interface,omitempty"`
	Address   netip.Addr `yaml:"address,omitempty"`
	Discard   bool       `yaml:"discard,omitempty"`
}

func (n NextHop) String() string {
	switch {
	case n.Discard:
		return "discard"
	case n.Address.IsValid():
		return fmt.Sprintf("%s via %s", n.Interface, n.Address)
	}
	return n.Interface + " (direct)"
}

func compareNextHop(a, b NextHop) int {
	return cmp.Or(
		cmp.Compare(a.Interface, b.Interface),
		a.Address.Compare(b.Address),
		boolRank(a.Discard)-boolRank(b.Discard),
	)
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

type FibEntry struct {
	Prefix   netip.Prefix   `yaml:"prefix"`
	Protocol state.Protocol `yaml:"protocol"`
	NextHops []NextHop      `yaml:"next_hops"`
}

// Fib is the forwarding view of a main RIB: every selected route with its
// next hops recursively resolved down to an interface or a discard.
type Fib struct {
	entries []FibEntry
	lpm     bart.Table[int]
}

// BuildFib resolves the selection of rib. Prefixes whose next hops cannot be
// resolved within state.MaxResolutionDepth steps are left out.
func BuildFib(rib *Rib) *Fib {
	f := &Fib{}
	for _, p := range rib.Prefixes() {
		best := rib.Best(p)
		var hops []NextHop
		for _, rt := range best {
			hops = append(hops, resolveRoute(rib, rt, 0)...)
		}
		if len(hops) == 0 {
			continue
		}
		slices.SortFunc(hops, compareNextHop)
		hops = slices.Compact(hops)
		f.lpm.Insert(p, len(f.entries))
		f.entries = append(f.entries, FibEntry{
			Prefix:   p,
			Protocol: best[0].Protocol,
			NextHops: hops,
		})
	}
	return f
}

func resolveRoute(rib *Rib, rt state.Route, depth int) []NextHop {
	switch {
	case rt.Discard:
		return []NextHop{{Discard: true}}
	case rt.Protocol == state.ProtoConnected:
		return []NextHop{{Interface: rt.NextHopInterface}}
	case rt.NextHopInterface != "":
		return []NextHop{{Interface: rt.NextHopInterface, Address: rt.NextHop}}
	case rt.NextHop.IsValid():
		return resolveAddr(rib, rt.NextHop, rt.Prefix, depth+1)
	}
	return nil
}

func resolveAddr(rib *Rib, addr netip.Addr, self netip.Prefix, depth int) []NextHop {
	if depth > state.MaxResolutionDepth {
		return nil
	}
	_, routes, ok := rib.Resolve(addr, func(p netip.Prefix, _ []state.Route) bool {
		return p == self
	})
	if !ok {
		return nil
	}
	var out []NextHop
	for _, via := range routes {
		if via.Protocol == state.ProtoConnected {
			out = append(out, NextHop{Interface: via.NextHopInterface, Address: addr})
			continue
		}
		out = append(out, resolveRoute(rib, via, depth)...)
	}
	return out
}

// Entries returns the FIB in canonical prefix order.
func (f *Fib) Entries() []FibEntry {
	return f.entries
}

// Lookup returns the longest matching entry for addr.
func (f *Fib) Lookup(addr netip.Addr) (FibEntry, bool) {
	i, ok := f.lpm.Lookup(addr)
	if !ok {
		return FibEntry{}, false
	}
	return f.entries[i], true
}
