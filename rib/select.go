package rib

import (
	"cmp"
	"slices"

	"github.com/encodeous/ribsim/state"
)

// Selector turns the candidates of one prefix into the best route followed by
// its multipath siblings. The candidates are in canonical order; the result
// must not alias them.
type Selector func(cands []state.Route) []state.Route

// Selector picks the most preferred route and, when multipath is on, every
// candidate equivalent to it under CompareMultipath, up to maxPaths.
func (c *Comparator) Selector(multipath bool, maxPaths int) Selector {
	return func(cands []state.Route) []state.Route {
		if len(cands) == 0 {
			return nil
		}
		sorted := slices.Clone(cands)
		slices.SortStableFunc(sorted, func(a, b state.Route) int {
			return cmp.Or(c.Compare(a, b), CompareCanonical(a, b))
		})
		out := sorted[:1]
		if !multipath {
			return slices.Clone(out)
		}
		for _, r := range sorted[1:] {
			if maxPaths > 0 && len(out) >= maxPaths {
				break
			}
			if c.CompareMultipath(sorted[0], r) == 0 {
				out = append(out, r)
			}
		}
		return slices.Clone(out)
	}
}

// BgpSelector runs the BGP decision process over the eligible candidates.
// Unless MED is always compared, candidates are first grouped by neighbouring
// AS and each group is decided with MED; the group winners are then compared
// with each other, where MED never applies. This keeps the outcome independent
// of candidate order.
func (c *Comparator) BgpSelector(eligible func(state.Route) bool) Selector {
	order := func(a, b state.Route) int {
		return cmp.Or(c.CompareBgp(a, b), CompareCanonical(a, b))
	}
	sameAs := func(a, b state.Route) int {
		return cmp.Or(c.CompareBgpSameAs(a, b), CompareCanonical(a, b))
	}
	return func(cands []state.Route) []state.Route {
		usable := make([]state.Route, 0, len(cands))
		for _, r := range cands {
			if eligible == nil || eligible(r) {
				usable = append(usable, r)
			}
		}
		if len(usable) == 0 {
			return nil
		}
		var best state.Route
		if c.Config.AlwaysCompareMed {
			best = slices.MinFunc(usable, order)
		} else {
			groups := make(map[uint32][]state.Route)
			for _, r := range usable {
				as := r.Bgp.AsPath.FirstAs()
				groups[as] = append(groups[as], r)
			}
			winners := make([]state.Route, 0, len(groups))
			for _, g := range groups {
				winners = append(winners, slices.MinFunc(g, sameAs))
			}
			best = slices.MinFunc(winners, order)
		}
		out := []state.Route{best}
		if !c.multipathAllowed(best) {
			return out
		}
		rest := make([]state.Route, 0, len(usable))
		for _, r := range usable {
			if !r.Equal(best) && c.bgpMultipath(best, r) {
				rest = append(rest, r)
			}
		}
		slices.SortFunc(rest, CompareCanonical)
		for _, r := range rest {
			if c.Config.MaxPaths > 0 && len(out) >= c.Config.MaxPaths {
				break
			}
			out = append(out, r)
		}
		return out
	}
}

func (c *Comparator) multipathAllowed(best state.Route) bool {
	if best.Local() {
		return false
	}
	if best.Protocol == state.ProtoIbgp {
		return c.Config.MultipathIbgp
	}
	return c.Config.MultipathEbgp
}

// bgpMultipath requires the same session type, an identical AS path and a tie
// through the IGP cost step. An identical path means the same neighbouring AS,
// so MED is compared.
func (c *Comparator) bgpMultipath(best, r state.Route) bool {
	return r.Protocol == best.Protocol &&
		!r.Local() &&
		r.Bgp.AsPath.Equal(best.Bgp.AsPath) &&
		c.bgp(best, r, true, false) == 0
}
