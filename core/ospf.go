package core

import (
	"net/netip"

	"github.com/encodeous/ribsim/state"
)

func (s *NodeRoutingState) ospfRouterId() netip.Addr {
	if s.cfg.Ospf.RouterId.IsValid() {
		return s.cfg.Ospf.RouterId
	}
	return s.routerId
}

// originateOspf advertises the networks of every OSPF interface, passive ones
// included, plus redistributed externals.
func (s *NodeRoutingState) originateOspf() []state.Route {
	var out []state.Route
	rid := s.ospfRouterId()
	for _, iface := range s.node.VrfInterfaces(s.id.Vrf) {
		if !iface.Active() || iface.Ospf == nil {
			continue
		}
		out = append(out, state.NewRoute(iface.Address, state.ProtoOspf).
			AdminDistance(s.ad.Of(state.ProtoOspf)).
			Metric(iface.Ospf.Cost).
			NextHopInterface(iface.Name).
			Ospf(state.OspfAttrs{Area: iface.Ospf.Area, AdvertisingRouter: rid}).
			Build())
	}
	ext := s.redistribute(s.cfg.Ospf.Redistribute, state.FamilyOspf, func(rd state.RedistributeCfg, r state.Route) (state.Protocol, uint32) {
		target := state.ProtoOspfE2
		if rd.MetricType == state.ProtoOspfE1 {
			target = state.ProtoOspfE1
		}
		metric := state.DefaultRedistMetric
		if rd.Metric != 0 {
			metric = rd.Metric
		}
		return target, metric
	})
	for _, r := range ext {
		out = append(out, r.Builder().
			AdminDistance(s.ad.Of(r.Protocol)).
			Ospf(state.OspfAttrs{AdvertisingRouter: rid}).
			Build())
	}
	return out
}

// ospfExportType applies the area rules: intra-area routes stay in their area
// and are summarised across the backbone boundary, inter-area routes are only
// passed on from the backbone, externals flood everywhere.
func ospfExportType(r state.Route, area uint32) (state.Protocol, bool) {
	switch r.Protocol {
	case state.ProtoOspf:
		if r.Ospf.Area == area {
			return state.ProtoOspf, true
		}
		if r.Ospf.Area == 0 || area == 0 {
			return state.ProtoOspfIA, true
		}
	case state.ProtoOspfIA:
		if r.Ospf.Area == area || r.Ospf.Area == 0 {
			return state.ProtoOspfIA, true
		}
	case state.ProtoOspfE1, state.ProtoOspfE2:
		return r.Protocol, true
	}
	return state.ProtoUnset, false
}

func (s *NodeRoutingState) exportOspf(e Edge) []state.Route {
	var out []state.Route
	rid := s.ospfRouterId()
	for _, p := range s.ospf.Prefixes() {
		r := s.ospf.Best(p)[0]
		// split horizon
		if r.NextHop.IsValid() && r.NextHopInterface == e.FromIface {
			continue
		}
		proto, ok := ospfExportType(r, e.Area)
		if !ok {
			continue
		}
		attrs := r.Ospf
		if proto != r.Protocol {
			attrs.AdvertisingRouter = rid
		}
		if proto != state.ProtoOspfE1 && proto != state.ProtoOspfE2 {
			attrs.Area = e.Area
		}
		out = append(out, r.Builder().
			Protocol(proto).
			NextHop(netip.Addr{}).
			NextHopInterface("").
			AdminDistance(0).
			SrcProtocol(state.ProtoUnset).
			Ospf(attrs).
			Build())
	}
	return out
}

// importOspf adds the cost of the receiving interface. Type 2 externals keep
// their metric and accumulate the cost towards the ASBR instead.
func (s *NodeRoutingState) importOspf(e Edge, routes []state.Route) []state.Route {
	iface := s.node.Interface(e.ToIface)
	if iface == nil || iface.Ospf == nil {
		return nil
	}
	cost := iface.Ospf.Cost
	rid := s.ospfRouterId()
	var out []state.Route
	for _, r := range routes {
		if r.Ospf.AdvertisingRouter == rid {
			continue
		}
		attrs := r.Ospf
		metric := r.Metric
		if r.Protocol == state.ProtoOspfE2 {
			attrs.ForwardCost = state.AddMetric(attrs.ForwardCost, cost)
		} else {
			metric = state.AddMetric(metric, cost)
		}
		if metric > state.MaxOspfMetric || attrs.ForwardCost > state.MaxOspfMetric {
			continue
		}
		rt := r.Builder().
			Metric(metric).
			NextHop(e.FromAddr).
			NextHopInterface(e.ToIface).
			AdminDistance(s.ad.Of(r.Protocol)).
			Ospf(attrs).
			Build()
		if name := s.cfg.Ospf.ImportPolicy; name != "" {
			env := s.env(state.DirectionIn)
			env.Interface = e.ToIface
			env.PeerAddress = e.FromAddr
			res := s.pol.Evaluate(name, rt, env)
			if !res.Permitted() {
				continue
			}
			rt = res.Route
		}
		out = append(out, rt)
	}
	return out
}
