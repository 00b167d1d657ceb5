package core

import (
	"encoding/binary"
	"maps"
	"net/netip"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/encodeous/ribsim/policy"
	"github.com/encodeous/ribsim/rib"
	"github.com/encodeous/ribsim/state"
)

type ribKind uint8

const (
	ribMain ribKind = iota
	ribOspf
	ribIsis
	ribBgp
)

// NodeRoutingState is the routing state of one VRF of one node. Within a
// round it is read and written only by the worker stepping it; everything it
// learns from other nodes comes from the frozen export table of the previous
// round.
type NodeRoutingState struct {
	id       NodeVrf
	node     *state.NodeCfg
	cfg      *state.VrfCfg
	pol      *policy.Set
	ad       state.AdminDistances
	routerId netip.Addr

	main *rib.Rib
	ospf *rib.Rib
	isis *rib.Rib
	bgp  *rib.Rib
	// bgpCmp reads main for IGP costs; main still holds the previous round's
	// selection whenever BGP selection runs.
	bgpCmp *rib.Comparator

	in, out []Edge

	// feeds are the sources contributed to each RIB in the last step.
	feeds   map[string]ribKind
	exports map[Edge][]state.Route
	dirty   []Edge
	changed bool
	digest  uint64
}

func newNodeRoutingState(node *state.NodeCfg, vrf *state.VrfCfg, pol *policy.Set, ad state.AdminDistances) *NodeRoutingState {
	s := &NodeRoutingState{
		id:       NodeVrf{node.Name, vrf.Name},
		node:     node,
		cfg:      vrf,
		pol:      pol,
		ad:       ad,
		routerId: node.RouterId,
		feeds:    make(map[string]ribKind),
		exports:  make(map[Edge][]state.Route),
	}
	mainCmp := &rib.Comparator{}
	s.main = rib.New(mainCmp.Selector(true, 0))
	if vrf.Ospf != nil {
		c := &rib.Comparator{}
		s.ospf = rib.New(c.Selector(vrf.Ospf.MaxPaths != 1, vrf.Ospf.MaxPaths))
	}
	if vrf.Isis != nil {
		c := &rib.Comparator{}
		s.isis = rib.New(c.Selector(vrf.Isis.MaxPaths != 1, vrf.Isis.MaxPaths))
	}
	if vrf.Bgp != nil {
		s.bgp = rib.New(nil)
		s.bindBgp()
	}
	// round 0: connected routes are known before anything is exchanged
	s.main.Update("connected", s.connectedRoutes())
	s.main.Commit()
	s.digest = s.computeDigest()
	return s
}

func (s *NodeRoutingState) bindBgp() {
	b := s.cfg.Bgp
	s.bgpCmp = &rib.Comparator{
		Config: rib.BestPathConfig{
			AlwaysCompareMed: b.AlwaysCompareMed,
			AsPathIgnore:     b.AsPathIgnore,
			MultipathEbgp:    b.MultipathEbgp,
			MultipathIbgp:    b.MultipathIbgp,
			MaxPaths:         b.MaxPaths,
		},
		IgpCost: s.igpCost,
	}
	s.bgp.SetSelector(s.bgpCmp.BgpSelector(s.bgpEligible))
}

func (s *NodeRoutingState) table(k ribKind) *rib.Rib {
	switch k {
	case ribOspf:
		return s.ospf
	case ribIsis:
		return s.isis
	case ribBgp:
		return s.bgp
	}
	return s.main
}

func (s *NodeRoutingState) env(dir state.Direction) *policy.Env {
	env := &policy.Env{Direction: dir, Node: s.id.Node, Vrf: s.id.Vrf}
	if s.cfg.Bgp != nil {
		env.LocalAs = s.cfg.Bgp.As
	}
	return env
}

func (s *NodeRoutingState) connectedRoutes() []state.Route {
	var out []state.Route
	for _, iface := range s.node.VrfInterfaces(s.id.Vrf) {
		if !iface.Active() {
			continue
		}
		out = append(out, state.NewRoute(iface.Address, state.ProtoConnected).
			AdminDistance(s.ad.Of(state.ProtoConnected)).
			NextHopInterface(iface.Name).
			Build())
	}
	return out
}

// resolve finds the non-BGP main RIB route used to reach addr. Discard
// routes do not resolve anything.
func (s *NodeRoutingState) resolve(addr netip.Addr) (state.Route, bool) {
	_, routes, ok := s.main.Resolve(addr, func(_ netip.Prefix, routes []state.Route) bool {
		return routes[0].Protocol.IsBgp()
	})
	if !ok || routes[0].Discard {
		return state.Route{}, false
	}
	return routes[0], true
}

func (s *NodeRoutingState) igpCost(nh netip.Addr) uint32 {
	r, ok := s.resolve(nh)
	if !ok {
		return state.MaxMetric
	}
	return r.Metric
}

// bgpEligible requires learned routes to have a next hop reachable without BGP.
func (s *NodeRoutingState) bgpEligible(r state.Route) bool {
	if r.Local() {
		return true
	}
	_, ok := s.resolve(r.NextHop)
	return ok
}

// step runs one round: import from the previous round's exports, recompute
// dependent routes from the previous main RIB, select, and export.
func (s *NodeRoutingState) step(prev *exportTable) {
	fed := make(map[string]ribKind)
	feed := func(k ribKind, src string, routes []state.Route) {
		fed[src] = k
		s.table(k).Update(src, routes)
	}

	for _, e := range s.in {
		routes := prev.get(e)
		switch e.Kind {
		case EdgeOspf:
			if s.ospf != nil {
				feed(ribOspf, e.String(), s.importOspf(e, routes))
			}
		case EdgeIsis:
			if s.isis != nil {
				feed(ribIsis, e.String(), s.importIsis(e, routes))
			}
		case EdgeBgp:
			if s.bgp != nil {
				feed(ribBgp, e.String(), s.importBgp(e, routes))
			}
		}
	}

	// everything below reads main, which still holds the previous round
	aggs := s.activeAggregates()
	if s.ospf != nil {
		feed(ribOspf, "local", s.originateOspf())
	}
	if s.isis != nil {
		feed(ribIsis, "local", s.originateIsis())
	}
	if s.bgp != nil {
		feed(ribBgp, "local", s.originateBgp(aggs))
		s.bgp.Reselect()
	}
	feed(ribMain, "connected", s.connectedRoutes())
	feed(ribMain, "static", s.staticRoutes())
	feed(ribMain, "aggregate", s.aggregateRoutes(aggs))

	for src, k := range s.feeds {
		if _, ok := fed[src]; !ok {
			s.table(k).Update(src, nil)
		}
	}
	s.feeds = fed

	if s.ospf != nil {
		s.ospf.Commit()
		feed(ribMain, "ospf", learned(s.ospf))
	}
	if s.isis != nil {
		s.isis.Commit()
		feed(ribMain, "isis", learned(s.isis))
	}
	if s.bgp != nil {
		s.bgp.Commit()
		feed(ribMain, "bgp", learned(s.bgp))
	}
	s.main.Commit()

	next := make(map[Edge][]state.Route, len(s.out))
	s.dirty = nil
	for _, e := range s.out {
		var routes []state.Route
		switch e.Kind {
		case EdgeOspf:
			routes = s.exportOspf(e)
		case EdgeIsis:
			routes = s.exportIsis(e)
		case EdgeBgp:
			routes = s.exportBgp(e, aggs)
		}
		slices.SortFunc(routes, rib.CompareCanonical)
		next[e] = routes
		if !slices.EqualFunc(routes, s.exports[e], state.Route.Equal) {
			s.dirty = append(s.dirty, e)
		}
	}
	s.exports = next

	d := s.computeDigest()
	s.changed = d != s.digest
	s.digest = d
}

// learned keeps the selected routes that were received from a neighbor;
// locally originated protocol routes stay out of the main RIB.
func learned(r *rib.Rib) []state.Route {
	var out []state.Route
	for _, rt := range r.BestRoutes() {
		if rt.Protocol.IsBgp() {
			if !rt.Local() {
				out = append(out, rt)
			}
		} else if rt.NextHop.IsValid() {
			out = append(out, rt)
		}
	}
	return out
}

func (s *NodeRoutingState) computeDigest() uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, r := range []*rib.Rib{s.main, s.ospf, s.isis, s.bgp} {
		var d uint64
		if r != nil {
			d = r.Digest()
		}
		binary.LittleEndian.PutUint64(buf[:], d)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// clone deep-copies the state; the copy's selectors are rebound to it.
func (s *NodeRoutingState) clone() *NodeRoutingState {
	out := *s
	out.main = s.main.Clone()
	if s.ospf != nil {
		out.ospf = s.ospf.Clone()
	}
	if s.isis != nil {
		out.isis = s.isis.Clone()
	}
	if s.bgp != nil {
		out.bgp = s.bgp.Clone()
		out.bindBgp()
	}
	out.in = slices.Clone(s.in)
	out.out = slices.Clone(s.out)
	out.feeds = maps.Clone(s.feeds)
	out.exports = maps.Clone(s.exports)
	out.dirty = slices.Clone(s.dirty)
	return &out
}
