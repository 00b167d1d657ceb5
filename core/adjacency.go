package core

import (
	"cmp"
	"fmt"
	"net/netip"
	"slices"
	"strings"

	"github.com/encodeous/ribsim/rib"
	"github.com/encodeous/ribsim/state"
)

// NodeVrf identifies one routing instance.
type NodeVrf struct {
	Node string
	Vrf  string
}

func (n NodeVrf) String() string {
	return n.Node + "/" + n.Vrf
}

func compareNodeVrf(a, b NodeVrf) int {
	return cmp.Or(strings.Compare(a.Node, b.Node), strings.Compare(a.Vrf, b.Vrf))
}

type EdgeKind uint8

const (
	EdgeOspf EdgeKind = iota + 1
	EdgeIsis
	EdgeBgp
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeOspf:
		return "ospf"
	case EdgeIsis:
		return "isis"
	case EdgeBgp:
		return "bgp"
	}
	return fmt.Sprintf("edge(%d)", uint8(k))
}

// Edge is a directed adjacency: From exports, To imports. The reverse
// direction is a separate edge.
type Edge struct {
	Kind      EdgeKind
	From, To  NodeVrf
	FromIface string
	ToIface   string
	FromAddr  netip.Addr
	ToAddr    netip.Addr
	// Area is the OSPF area shared by both interfaces.
	Area uint32
	// Level holds the IS-IS levels both ends run on the link.
	Level state.IsisLevel
}

func (e Edge) String() string {
	if e.Kind == EdgeBgp {
		return fmt.Sprintf("%s %s(%s) -> %s(%s)", e.Kind, e.From, e.FromAddr, e.To, e.ToAddr)
	}
	return fmt.Sprintf("%s %s:%s -> %s:%s", e.Kind, e.From, e.FromIface, e.To, e.ToIface)
}

func compareEdge(a, b Edge) int {
	return cmp.Or(
		cmp.Compare(a.Kind, b.Kind),
		compareNodeVrf(a.From, b.From),
		compareNodeVrf(a.To, b.To),
		strings.Compare(a.FromIface, b.FromIface),
		strings.Compare(a.ToIface, b.ToIface),
		a.FromAddr.Compare(b.FromAddr),
		a.ToAddr.Compare(b.ToAddr),
	)
}

// Topology is the physical graph with per-interface lookups.
type Topology struct {
	Links []state.Link
	links map[state.Link]struct{}
}

func NewTopology(net *state.Network) (*Topology, error) {
	links, err := net.Links()
	if err != nil {
		return nil, err
	}
	t := &Topology{Links: links, links: make(map[state.Link]struct{}, len(links))}
	for _, l := range links {
		t.links[l] = struct{}{}
	}
	return t, nil
}

func (t *Topology) Connected(a, b state.Endpoint) bool {
	_, ok := t.links[state.MakeLink(a, b)]
	return ok
}

// IgpEdges derives OSPF and IS-IS adjacencies from the physical links. They
// do not depend on any computed state.
func (t *Topology) IgpEdges(net *state.Network) []Edge {
	var edges []Edge
	for _, l := range t.Links {
		na, nb := net.Node(l.V1.Node), net.Node(l.V2.Node)
		if na == nil || nb == nil {
			continue
		}
		ia, ib := na.Interface(l.V1.Interface), nb.Interface(l.V2.Interface)
		if ia == nil || ib == nil || !ia.Active() || !ib.Active() {
			continue
		}
		va, vb := na.Vrf(ia.Vrf), nb.Vrf(ib.Vrf)
		if va == nil || vb == nil {
			continue
		}
		base := Edge{
			From:      NodeVrf{na.Name, va.Name},
			To:        NodeVrf{nb.Name, vb.Name},
			FromIface: ia.Name,
			ToIface:   ib.Name,
			FromAddr:  ia.Address.Addr(),
			ToAddr:    ib.Address.Addr(),
		}
		if ospfAdjacent(va, ia, vb, ib) {
			e := base
			e.Kind = EdgeOspf
			e.Area = ia.Ospf.Area
			edges = append(edges, e, e.reverse())
		}
		if lvl := isisLevel(va, ia) & isisLevel(vb, ib); lvl != 0 {
			e := base
			e.Kind = EdgeIsis
			e.Level = lvl
			edges = append(edges, e, e.reverse())
		}
	}
	slices.SortFunc(edges, compareEdge)
	return edges
}

func (e Edge) reverse() Edge {
	e.From, e.To = e.To, e.From
	e.FromIface, e.ToIface = e.ToIface, e.FromIface
	e.FromAddr, e.ToAddr = e.ToAddr, e.FromAddr
	return e
}

func ospfAdjacent(va *state.VrfCfg, ia *state.InterfaceCfg, vb *state.VrfCfg, ib *state.InterfaceCfg) bool {
	if va.Ospf == nil || vb.Ospf == nil || ia.Ospf == nil || ib.Ospf == nil {
		return false
	}
	if ia.Ospf.Passive || ib.Ospf.Passive {
		return false
	}
	return ia.Ospf.Area == ib.Ospf.Area && ia.Address.Masked() == ib.Address.Masked()
}

// isisLevel is the set of levels an interface forms adjacencies on.
func isisLevel(v *state.VrfCfg, i *state.InterfaceCfg) state.IsisLevel {
	if v.Isis == nil || i.Isis == nil || i.Isis.Passive {
		return 0
	}
	lvl := i.Isis.Level
	if lvl == 0 {
		lvl = v.Isis.Level
	}
	return lvl & v.Isis.Level
}

// SessionDown explains why a configured BGP neighbor did not come up.
type SessionDown struct {
	Local  NodeVrf
	Peer   netip.Addr
	Reason string
}

func (s SessionDown) Warning() state.Warning {
	return state.Warning{
		Kind:    state.WarnSessionDown,
		Node:    s.Local.Node,
		Vrf:     s.Local.Vrf,
		Message: fmt.Sprintf("bgp neighbor %s: %s", s.Peer, s.Reason),
	}
}

type owner struct {
	id    NodeVrf
	iface *state.InterfaceCfg
}

// BgpSessions derives the BGP adjacencies that can be established given the
// current main RIBs. Both ends must configure each other, agree on AS numbers
// and reach each other: single-hop eBGP over a shared link, everything else
// through a route in each end's main RIB.
func (t *Topology) BgpSessions(net *state.Network, mains map[NodeVrf]*rib.Rib) ([]Edge, []SessionDown) {
	owners := make(map[netip.Addr][]owner)
	for i := range net.Nodes {
		node := &net.Nodes[i]
		for j := range node.Interfaces {
			iface := &node.Interfaces[j]
			if iface.Active() {
				a := iface.Address.Addr()
				owners[a] = append(owners[a], owner{NodeVrf{node.Name, iface.Vrf}, iface})
			}
		}
	}

	var edges []Edge
	var down []SessionDown
	for i := range net.Nodes {
		node := &net.Nodes[i]
		for j := range node.Vrfs {
			vrf := &node.Vrfs[j]
			if vrf.Bgp == nil {
				continue
			}
			local := NodeVrf{node.Name, vrf.Name}
			for k := range vrf.Bgp.Neighbors {
				nb := &vrf.Bgp.Neighbors[k]
				e, reason := t.session(net, mains, owners, node, vrf, nb)
				if reason != "" {
					down = append(down, SessionDown{Local: local, Peer: nb.PeerIp, Reason: reason})
					continue
				}
				edges = append(edges, e)
			}
		}
	}
	slices.SortFunc(edges, compareEdge)
	edges = slices.Compact(edges)
	slices.SortFunc(down, func(a, b SessionDown) int {
		return cmp.Or(compareNodeVrf(a.Local, b.Local), a.Peer.Compare(b.Peer))
	})
	return edges, down
}

// session returns the edge over which node imports from the neighbor.
func (t *Topology) session(net *state.Network, mains map[NodeVrf]*rib.Rib, owners map[netip.Addr][]owner,
	node *state.NodeCfg, vrf *state.VrfCfg, nb *state.BgpNeighborCfg) (Edge, string) {
	local := NodeVrf{node.Name, vrf.Name}
	localAddr, localIface := sessionSource(node, vrf.Name, nb, mains[local])
	if !localAddr.IsValid() {
		return Edge{}, "no session source towards peer"
	}
	reason := "peer address not owned by any interface"
	for _, o := range owners[nb.PeerIp] {
		if o.id.Node == node.Name {
			continue
		}
		peerNode := net.Node(o.id.Node)
		pv := peerNode.Vrf(o.id.Vrf)
		if pv == nil || pv.Bgp == nil {
			reason = "peer runs no bgp in " + o.id.Vrf
			continue
		}
		pnb := findNeighbor(pv.Bgp, localAddr)
		if pnb == nil {
			reason = fmt.Sprintf("peer %s has no neighbor %s", o.id, localAddr)
			continue
		}
		if nb.RemoteAs != pv.Bgp.As || pnb.RemoteAs != vrf.Bgp.As {
			reason = fmt.Sprintf("as mismatch with %s", o.id)
			continue
		}
		peerAddr, _ := sessionSource(peerNode, o.id.Vrf, pnb, mains[o.id])
		if peerAddr != nb.PeerIp {
			reason = fmt.Sprintf("peer %s sources the session from %s", o.id, peerAddr)
			continue
		}
		ebgp := vrf.Bgp.As != pv.Bgp.As
		if ebgp && !nb.EbgpMultihop && !pnb.EbgpMultihop {
			if localIface == nil || localIface.Address.Addr() != localAddr ||
				!t.Connected(state.Endpoint{Node: node.Name, Interface: localIface.Name}, state.Endpoint{Node: o.id.Node, Interface: o.iface.Name}) {
				reason = "single-hop ebgp peer is not directly connected"
				continue
			}
		} else if !reachable(mains[local], nb.PeerIp) || !reachable(mains[o.id], localAddr) {
			reason = "peer unreachable"
			continue
		}
		return Edge{
			Kind:     EdgeBgp,
			From:     o.id,
			To:       local,
			FromAddr: nb.PeerIp,
			ToAddr:   localAddr,
		}, ""
	}
	return Edge{}, reason
}

func findNeighbor(b *state.BgpCfg, peer netip.Addr) *state.BgpNeighborCfg {
	for i := range b.Neighbors {
		if b.Neighbors[i].PeerIp == peer {
			return &b.Neighbors[i]
		}
	}
	return nil
}

// sessionSource picks the local address of a session: the update source, the
// interface on the peer's subnet, or the egress interface of the route
// towards the peer.
func sessionSource(node *state.NodeCfg, vrf string, nb *state.BgpNeighborCfg, main *rib.Rib) (netip.Addr, *state.InterfaceCfg) {
	if nb.UpdateSource != "" {
		iface := node.Interface(nb.UpdateSource)
		if iface == nil || !iface.Active() || iface.Vrf != vrf {
			return netip.Addr{}, nil
		}
		return iface.Address.Addr(), node.ConnectedTo(vrf, nb.PeerIp)
	}
	if iface := node.ConnectedTo(vrf, nb.PeerIp); iface != nil {
		return iface.Address.Addr(), iface
	}
	if main == nil {
		return netip.Addr{}, nil
	}
	_, routes, ok := main.Lookup(nb.PeerIp)
	if !ok || routes[0].Discard {
		return netip.Addr{}, nil
	}
	r := routes[0]
	if r.NextHopInterface != "" {
		if iface := node.Interface(r.NextHopInterface); iface != nil && iface.Active() {
			return iface.Address.Addr(), nil
		}
	}
	if r.NextHop.IsValid() {
		if iface := node.ConnectedTo(vrf, r.NextHop); iface != nil {
			return iface.Address.Addr(), nil
		}
	}
	return netip.Addr{}, nil
}

func reachable(main *rib.Rib, addr netip.Addr) bool {
	if main == nil {
		return false
	}
	_, routes, ok := main.Lookup(addr)
	return ok && !routes[0].Discard
}
