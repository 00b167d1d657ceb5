package core

import (
	"net/netip"

	"github.com/encodeous/ribsim/state"
)

func levelOf(p state.Protocol) state.IsisLevel {
	if p == state.ProtoIsisL1 {
		return state.IsisLevel1
	}
	return state.IsisLevel2
}

func (s *NodeRoutingState) originateIsis() []state.Route {
	var out []state.Route
	proc := s.cfg.Isis.Level
	for _, iface := range s.node.VrfInterfaces(s.id.Vrf) {
		if !iface.Active() || iface.Isis == nil {
			continue
		}
		lvl := iface.Isis.Level
		if lvl == 0 {
			lvl = proc
		}
		for _, l := range []state.IsisLevel{state.IsisLevel1, state.IsisLevel2} {
			if !lvl.Has(l) || !proc.Has(l) {
				continue
			}
			out = append(out, state.NewRoute(iface.Address, l.Protocol()).
				AdminDistance(s.ad.Of(l.Protocol())).
				Metric(iface.Isis.Metric).
				NextHopInterface(iface.Name).
				Build())
		}
	}
	ext := s.redistribute(s.cfg.Isis.Redistribute, state.FamilyIsis, func(rd state.RedistributeCfg, r state.Route) (state.Protocol, uint32) {
		target := state.ProtoIsisL2
		if rd.MetricType == state.ProtoIsisL1 || !proc.Has(state.IsisLevel2) {
			target = state.ProtoIsisL1
		}
		if rd.Metric != 0 {
			return target, rd.Metric
		}
		return target, r.Metric
	})
	for _, r := range ext {
		out = append(out, r.Builder().AdminDistance(s.ad.Of(r.Protocol)).Build())
	}
	return out
}

// exportIsis sends level 1 routes over level 1 adjacencies and level 2 routes
// over level 2 ones. A level-1-2 router also leaks its level 1 routes into
// level 2.
func (s *NodeRoutingState) exportIsis(e Edge) []state.Route {
	var out []state.Route
	leak := s.cfg.Isis.Level == state.IsisLevel12
	for _, p := range s.isis.Prefixes() {
		r := s.isis.Best(p)[0]
		if r.NextHop.IsValid() && r.NextHopInterface == e.FromIface {
			continue
		}
		var levels []state.IsisLevel
		switch levelOf(r.Protocol) {
		case state.IsisLevel1:
			if e.Level.Has(state.IsisLevel1) {
				levels = append(levels, state.IsisLevel1)
			}
			if leak && e.Level.Has(state.IsisLevel2) {
				levels = append(levels, state.IsisLevel2)
			}
		case state.IsisLevel2:
			if e.Level.Has(state.IsisLevel2) {
				levels = append(levels, state.IsisLevel2)
			}
		}
		for _, l := range levels {
			out = append(out, r.Builder().
				Protocol(l.Protocol()).
				NextHop(netip.Addr{}).
				NextHopInterface("").
				AdminDistance(0).
				SrcProtocol(state.ProtoUnset).
				Build())
		}
	}
	return out
}

func (s *NodeRoutingState) importIsis(e Edge, routes []state.Route) []state.Route {
	iface := s.node.Interface(e.ToIface)
	if iface == nil || iface.Isis == nil {
		return nil
	}
	var out []state.Route
	for _, r := range routes {
		if !e.Level.Has(levelOf(r.Protocol)) {
			continue
		}
		metric := state.AddMetric(r.Metric, iface.Isis.Metric)
		if metric > state.MaxIsisMetric {
			continue
		}
		out = append(out, r.Builder().
			Metric(metric).
			NextHop(e.FromAddr).
			NextHopInterface(e.ToIface).
			AdminDistance(s.ad.Of(r.Protocol)).
			Build())
	}
	return out
}
