package core

import (
	"net/netip"

	"github.com/encodeous/ribsim/state"
)

// staticRoutes installs the configured statics whose next hop resolves in the
// previous main RIB. A static never resolves through its own prefix.
func (s *NodeRoutingState) staticRoutes() []state.Route {
	var out []state.Route
	for _, sr := range s.cfg.StaticRoutes {
		r, ok := s.static(sr)
		if ok {
			out = append(out, r)
		}
	}
	return out
}

func (s *NodeRoutingState) static(sr state.StaticRouteCfg) (state.Route, bool) {
	ad := sr.Distance
	if ad == 0 {
		ad = s.ad.Of(state.ProtoStatic)
	}
	b := state.NewRoute(sr.Prefix, state.ProtoStatic).
		AdminDistance(ad).
		Metric(sr.Metric).
		Tag(sr.Tag)
	switch {
	case sr.Discard:
		b.Discard(true)
	case sr.Interface != "":
		iface := s.node.Interface(sr.Interface)
		if iface == nil || !iface.Active() || iface.Vrf != s.id.Vrf {
			return state.Route{}, false
		}
		b.NextHopInterface(sr.Interface).NextHop(sr.NextHop)
	case sr.NextHop.IsValid():
		self := sr.Prefix.Masked()
		_, via, ok := s.main.Resolve(sr.NextHop, func(p netip.Prefix, _ []state.Route) bool { return p == self })
		if !ok || via[0].Discard {
			return state.Route{}, false
		}
		b.NextHop(sr.NextHop)
	default:
		return state.Route{}, false
	}
	return b.Build(), true
}

// unresolvedStatics lists statics left out of the final main RIB.
func (s *NodeRoutingState) unresolvedStatics() []state.Warning {
	var out []state.Warning
	for _, sr := range s.cfg.StaticRoutes {
		if _, ok := s.static(sr); ok {
			continue
		}
		out = append(out, state.Warning{
			Kind:    state.WarnUnresolvedNextHop,
			Node:    s.id.Node,
			Vrf:     s.id.Vrf,
			Message: "static route " + sr.Prefix.String() + " not installed: next hop " + nextHopString(sr) + " unresolved",
		})
	}
	return out
}

func nextHopString(sr state.StaticRouteCfg) string {
	if sr.Interface != "" {
		return sr.Interface
	}
	if sr.NextHop.IsValid() {
		return sr.NextHop.String()
	}
	return "(none)"
}
