package core

import (
	"net/netip"
	"slices"

	"github.com/encodeous/ribsim/perf"
	"github.com/encodeous/ribsim/policy"
	"github.com/encodeous/ribsim/state"
)

func (s *NodeRoutingState) bgpRouterId() netip.Addr {
	if s.cfg.Bgp.RouterId.IsValid() {
		return s.cfg.Bgp.RouterId
	}
	return s.routerId
}

func (s *NodeRoutingState) clusterId() netip.Addr {
	if s.cfg.Bgp.ClusterId.IsValid() {
		return s.cfg.Bgp.ClusterId
	}
	return s.bgpRouterId()
}

func (s *NodeRoutingState) localPref() uint32 {
	if s.cfg.Bgp != nil && s.cfg.Bgp.DefaultLocalPref != 0 {
		return s.cfg.Bgp.DefaultLocalPref
	}
	return state.DefaultLocalPref
}

func (s *NodeRoutingState) isRouteReflector() bool {
	return slices.ContainsFunc(s.cfg.Bgp.Neighbors, func(nb state.BgpNeighborCfg) bool {
		return nb.RouteReflectorClient
	})
}

func (s *NodeRoutingState) sessionEnv(dir state.Direction, nb *state.BgpNeighborCfg, local, peer netip.Addr) *policy.Env {
	env := s.env(dir)
	env.PeerAs = nb.RemoteAs
	env.LocalAddress = local
	env.PeerAddress = peer
	return env
}

// originateBgp builds the locally originated BGP routes: network statements
// backed by a non-BGP main RIB route, redistribution, and active aggregates.
func (s *NodeRoutingState) originateBgp(aggs []activeAggregate) []state.Route {
	var out []state.Route
	for _, p := range s.cfg.Bgp.Networks {
		p = p.Masked()
		best := s.main.Best(p)
		if len(best) == 0 || best[0].Protocol.IsBgp() {
			continue
		}
		out = append(out, state.NewRoute(p, state.ProtoBgp).
			AdminDistance(s.ad.Of(state.ProtoBgp)).
			Metric(best[0].Metric).
			Weight(state.LocalWeight).
			LocalPref(s.localPref()).
			Origin(state.OriginIgp).
			SrcProtocol(best[0].Protocol).
			Build())
	}
	ext := s.redistribute(s.cfg.Bgp.Redistribute, state.FamilyBgp, func(rd state.RedistributeCfg, r state.Route) (state.Protocol, uint32) {
		if rd.Metric != 0 {
			return state.ProtoBgp, rd.Metric
		}
		return state.ProtoBgp, r.Metric
	})
	for _, r := range ext {
		out = append(out, r.Builder().AdminDistance(s.ad.Of(state.ProtoBgp)).Build())
	}
	for _, a := range aggs {
		out = append(out, s.bgpAggregate(a))
	}
	return out
}

// importBgp applies loop prevention and the neighbor's import policy to the
// routes a peer advertised over e.
func (s *NodeRoutingState) importBgp(e Edge, routes []state.Route) []state.Route {
	nb := findNeighbor(s.cfg.Bgp, e.FromAddr)
	if nb == nil {
		return nil
	}
	localAs := s.cfg.Bgp.As
	ebgp := nb.RemoteAs != localAs
	proto := state.ProtoIbgp
	if ebgp {
		proto = state.ProtoBgp
	}
	rid, cid := s.bgpRouterId(), s.clusterId()
	var out []state.Route
	for _, r := range routes {
		if ebgp && r.Bgp.AsPath.Contains(localAs) {
			continue
		}
		if r.Bgp.OriginatorId == rid || slices.Contains(r.Bgp.ClusterList, cid) {
			continue
		}
		b := r.Builder().
			Protocol(proto).
			AdminDistance(s.ad.Of(proto)).
			ReceivedFrom(e.FromAddr, nb.RouteReflectorClient).
			Weight(0).
			NextHopInterface("")
		if ebgp {
			b.LocalPref(s.localPref())
		}
		rt := b.Build()
		if nb.ImportPolicy != "" {
			res := s.pol.Evaluate(nb.ImportPolicy, rt, s.sessionEnv(state.DirectionIn, nb, e.ToAddr, e.FromAddr))
			if !res.Permitted() {
				continue
			}
			rt = res.Route
		}
		out = append(out, rt)
	}
	return out
}

// exportBgp computes the advertisement towards the peer at e.ToAddr from the
// best BGP routes, honouring well-known communities, iBGP split horizon with
// route reflection, aggregate suppression and the neighbor's export policy.
func (s *NodeRoutingState) exportBgp(e Edge, aggs []activeAggregate) []state.Route {
	nb := findNeighbor(s.cfg.Bgp, e.ToAddr)
	if nb == nil {
		return nil
	}
	localAs := s.cfg.Bgp.As
	ebgp := nb.RemoteAs != localAs
	rr := s.isRouteReflector()
	var out []state.Route
	for _, p := range s.bgp.Prefixes() {
		r := s.bgp.Best(p)[0]
		cs := r.Bgp.Communities
		switch {
		case r.Bgp.ReceivedFrom == e.ToAddr,
			cs.Contains(state.CommunityNoAdvertise),
			ebgp && (cs.Contains(state.CommunityNoExport) || cs.Contains(state.CommunityNoExportSubconfed)),
			!ebgp && r.Protocol == state.ProtoIbgp && !(rr && (r.Bgp.ReceivedFromClient || nb.RouteReflectorClient)),
			s.suppressed(aggs, r):
			continue
		}
		b := r.Builder()
		if ebgp && !r.Local() {
			b.Metric(0)
		}
		cand := b.Build()
		nextHopSet := false
		if nb.ExportPolicy != "" {
			res := s.pol.Evaluate(nb.ExportPolicy, cand, s.sessionEnv(state.DirectionOut, nb, e.FromAddr, e.ToAddr))
			if !res.Permitted() {
				continue
			}
			cand, nextHopSet = res.Route, res.NextHopSet
		}
		b = cand.Builder()
		if ebgp {
			b.PrependAsPath(localAs).
				LocalPref(0).
				OriginatorId(netip.Addr{}).
				ClusterList(nil)
			if !nextHopSet {
				b.NextHop(e.FromAddr)
			}
		} else {
			if (nb.NextHopSelf || r.Local()) && !nextHopSet {
				b.NextHop(e.FromAddr)
			}
			if r.Protocol == state.ProtoIbgp {
				b.PrependCluster(s.clusterId())
			}
			if !cand.Bgp.OriginatorId.IsValid() {
				b.OriginatorId(s.bgpRouterId())
			}
		}
		if !nb.SendsCommunity() {
			b.Communities(nil)
		}
		out = append(out, b.Weight(0).
			NextHopInterface("").
			AdminDistance(0).
			SrcProtocol(state.ProtoUnset).
			ReceivedFrom(netip.Addr{}, false).
			Build())
		perf.ExportedRoutes.Add(1)
	}
	return out
}
