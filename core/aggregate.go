package core

import (
	"net/netip"
	"slices"

	"github.com/encodeous/ribsim/state"
	"go4.org/netipx"
)

type activeAggregate struct {
	cfg        *state.AggregateCfg
	components []netip.Prefix
}

// activeAggregates lists the aggregates with at least one strictly more
// specific, non-aggregate route in the previous main RIB.
func (s *NodeRoutingState) activeAggregates() []activeAggregate {
	var out []activeAggregate
	for i := range s.cfg.Aggregates {
		cfg := &s.cfg.Aggregates[i]
		var comps []netip.Prefix
		for p, routes := range s.main.Subnets(cfg.Prefix) {
			if routes[0].Protocol == state.ProtoAggregate {
				continue
			}
			comps = append(comps, p)
		}
		if len(comps) == 0 {
			continue
		}
		slices.SortFunc(comps, netipx.ComparePrefix)
		out = append(out, activeAggregate{cfg: cfg, components: comps})
	}
	return out
}

// aggregateRoutes installs a discard route for every active aggregate.
func (s *NodeRoutingState) aggregateRoutes(aggs []activeAggregate) []state.Route {
	out := make([]state.Route, 0, len(aggs))
	for _, a := range aggs {
		out = append(out, state.NewRoute(a.cfg.Prefix.Masked(), state.ProtoAggregate).
			AdminDistance(s.ad.Of(state.ProtoAggregate)).
			Discard(true).
			Build())
	}
	return out
}

// suppressed reports whether r is a component withheld from BGP export by an
// active aggregate.
func (s *NodeRoutingState) suppressed(aggs []activeAggregate, r state.Route) bool {
	for _, a := range aggs {
		p := a.cfg.Prefix.Masked()
		if r.Prefix.Bits() <= p.Bits() || !p.Contains(netipx.RangeOfPrefix(r.Prefix).From()) || !p.Contains(netipx.PrefixLastIP(r.Prefix)) {
			continue
		}
		if a.cfg.SummaryOnly {
			return true
		}
		if a.cfg.SuppressPolicy != "" {
			res := s.pol.Evaluate(a.cfg.SuppressPolicy, r, s.env(state.DirectionOut))
			if res.Permitted() {
				return true
			}
		}
	}
	return false
}

// bgpAggregate is the BGP advertisement of an active aggregate. With as_set
// the path carries every AS seen in the BGP components.
func (s *NodeRoutingState) bgpAggregate(a activeAggregate) state.Route {
	b := state.NewRoute(a.cfg.Prefix.Masked(), state.ProtoBgp).
		AdminDistance(s.ad.Of(state.ProtoAggregate)).
		Weight(state.LocalWeight).
		LocalPref(s.localPref()).
		Origin(state.OriginIgp).
		SrcProtocol(state.ProtoAggregate)
	if a.cfg.AsSet {
		var asns []uint32
		for _, p := range a.components {
			for _, r := range s.main.Best(p) {
				if r.Protocol.IsBgp() {
					asns = append(asns, r.Bgp.AsPath.Asns()...)
				}
			}
		}
		slices.Sort(asns)
		asns = slices.Compact(asns)
		if len(asns) > 0 {
			b.AsPath(state.AsPath{state.AsSet(asns)})
		}
	}
	return b.Build()
}
