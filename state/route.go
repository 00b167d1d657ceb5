package state

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

type OriginType uint8

// ranks follow the BGP decision process: IGP < EGP < INCOMPLETE
const (
	OriginIgp OriginType = iota
	OriginEgp
	OriginIncomplete
)

func (o OriginType) String() string {
	switch o {
	case OriginIgp:
		return "igp"
	case OriginEgp:
		return "egp"
	case OriginIncomplete:
		return "incomplete"
	}
	return fmt.Sprintf("origin(%d)", uint8(o))
}

func (o OriginType) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *OriginType) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "igp", "i":
		*o = OriginIgp
	case "egp", "e":
		*o = OriginEgp
	case "incomplete", "?":
		*o = OriginIncomplete
	default:
		return fmt.Errorf("unknown origin %q", text)
	}
	return nil
}

// BgpAttrs are the path attributes carried by BGP routes. MED lives in Route.Metric.
type BgpAttrs struct {
	AsPath       AsPath
	Communities  Communities
	Origin       OriginType
	LocalPref    uint32
	Weight       uint32
	OriginatorId netip.Addr
	ClusterList  []netip.Addr
	// ReceivedFrom is the peer address the route was learned from; invalid for
	// locally originated routes.
	ReceivedFrom       netip.Addr
	ReceivedFromClient bool
}

func (b BgpAttrs) clone() BgpAttrs {
	b.AsPath = b.AsPath.Clone()
	b.Communities = slices.Clone(b.Communities)
	b.ClusterList = slices.Clone(b.ClusterList)
	return b
}

func (b BgpAttrs) equal(o BgpAttrs) bool {
	return b.Origin == o.Origin &&
		b.LocalPref == o.LocalPref &&
		b.Weight == o.Weight &&
		b.OriginatorId == o.OriginatorId &&
		b.ReceivedFrom == o.ReceivedFrom &&
		b.ReceivedFromClient == o.ReceivedFromClient &&
		b.AsPath.Equal(o.AsPath) &&
		slices.Equal(b.Communities, o.Communities) &&
		slices.Equal(b.ClusterList, o.ClusterList)
}

// OspfAttrs carry the area and, for type 2 externals, the cost to the ASBR.
type OspfAttrs struct {
	Area              uint32
	ForwardCost       uint32
	AdvertisingRouter netip.Addr
}

// Route is an immutable routing table entry. Protocol specific attributes are
// only meaningful for their protocol family; use Builder to derive new routes.
type Route struct {
	Prefix           netip.Prefix
	Protocol         Protocol
	NextHop          netip.Addr
	NextHopInterface string
	Discard          bool
	AdminDistance    uint32
	Metric           uint32
	Tag              uint32
	// SrcProtocol is the protocol a redistributed route was taken from.
	SrcProtocol Protocol

	Bgp  BgpAttrs
	Ospf OspfAttrs
}

// Local reports whether the route was originated on this node rather than learned.
func (r Route) Local() bool {
	return !r.Bgp.ReceivedFrom.IsValid()
}

func (r Route) Equal(o Route) bool {
	if r.Prefix != o.Prefix ||
		r.Protocol != o.Protocol ||
		r.NextHop != o.NextHop ||
		r.NextHopInterface != o.NextHopInterface ||
		r.Discard != o.Discard ||
		r.AdminDistance != o.AdminDistance ||
		r.Metric != o.Metric ||
		r.Tag != o.Tag ||
		r.SrcProtocol != o.SrcProtocol ||
		r.Ospf != o.Ospf {
		return false
	}
	return r.Bgp.equal(o.Bgp)
}

// String is the canonical rendering of a route. Two routes render identically
// iff they are Equal, which makes it usable as a deterministic sort key.
// Attributes of another family, which policies may set, are rendered whenever
// they are present.
func (r Route) String() string {
	sb := strings.Builder{}
	fmt.Fprintf(&sb, "%s %s", r.Prefix, r.Protocol)
	if r.Discard {
		sb.WriteString(" discard")
	}
	switch {
	case r.NextHop.IsValid() && r.NextHopInterface != "":
		fmt.Fprintf(&sb, " via %s %s", r.NextHop, r.NextHopInterface)
	case r.NextHop.IsValid():
		fmt.Fprintf(&sb, " via %s", r.NextHop)
	case r.NextHopInterface != "":
		fmt.Fprintf(&sb, " dev %s", r.NextHopInterface)
	}
	fmt.Fprintf(&sb, " [%d/%d]", r.AdminDistance, r.Metric)
	if r.Tag != 0 {
		fmt.Fprintf(&sb, " tag %d", r.Tag)
	}
	if r.SrcProtocol != ProtoUnset {
		fmt.Fprintf(&sb, " from %s", r.SrcProtocol)
	}
	if r.Protocol.Family() == FamilyBgp || !r.Bgp.equal(BgpAttrs{}) {
		b := r.Bgp
		fmt.Fprintf(&sb, " lp %d path [%s] origin %s", b.LocalPref, b.AsPath, b.Origin)
		if b.Weight != 0 {
			fmt.Fprintf(&sb, " weight %d", b.Weight)
		}
		if len(b.Communities) > 0 {
			fmt.Fprintf(&sb, " comm [%s]", b.Communities)
		}
		if b.OriginatorId.IsValid() {
			fmt.Fprintf(&sb, " originator %s", b.OriginatorId)
		}
		if len(b.ClusterList) > 0 {
			fmt.Fprintf(&sb, " clusters %v", b.ClusterList)
		}
		if b.ReceivedFrom.IsValid() {
			fmt.Fprintf(&sb, " peer %s", b.ReceivedFrom)
		}
		if b.ReceivedFromClient {
			sb.WriteString(" client")
		}
	}
	if r.Protocol.Family() == FamilyOspf || r.Ospf != (OspfAttrs{}) {
		fmt.Fprintf(&sb, " area %d", r.Ospf.Area)
		if r.Ospf.ForwardCost != 0 {
			fmt.Fprintf(&sb, " fwd %d", r.Ospf.ForwardCost)
		}
		if r.Ospf.AdvertisingRouter.IsValid() {
			fmt.Fprintf(&sb, " adv %s", r.Ospf.AdvertisingRouter)
		}
	}
	return sb.String()
}

// Builder accumulates mutations of a route, for instance during policy
// evaluation, and produces a new immutable Route.
type Builder struct {
	r Route
}

// Builder returns a builder seeded with a deep copy of r.
func (r Route) Builder() *Builder {
	rb := &Builder{r: r}
	rb.r.Bgp = r.Bgp.clone()
	return rb
}

func NewRoute(prefix netip.Prefix, proto Protocol) *Builder {
	return &Builder{r: Route{Prefix: prefix.Masked(), Protocol: proto}}
}

func (b *Builder) Build() Route {
	out := b.r
	out.Bgp = b.r.Bgp.clone()
	return out
}

func (b *Builder) Clone() *Builder {
	return b.Build().Builder()
}

// Peek exposes the in-progress route for match predicates. Callers must not
// retain or mutate its slices.
func (b *Builder) Peek() *Route {
	return &b.r
}

func (b *Builder) Protocol(p Protocol) *Builder { b.r.Protocol = p; return b }
func (b *Builder) NextHop(a netip.Addr) *Builder { b.r.NextHop = a; return b }
func (b *Builder) NextHopInterface(i string) *Builder { b.r.NextHopInterface = i; return b }
func (b *Builder) Discard(d bool) *Builder { b.r.Discard = d; return b }
func (b *Builder) AdminDistance(ad uint32) *Builder { b.r.AdminDistance = ad; return b }
func (b *Builder) Metric(m uint32) *Builder { b.r.Metric = m; return b }
func (b *Builder) Tag(t uint32) *Builder { b.r.Tag = t; return b }
func (b *Builder) SrcProtocol(p Protocol) *Builder { b.r.SrcProtocol = p; return b }
func (b *Builder) AsPath(p AsPath) *Builder { b.r.Bgp.AsPath = p.Clone(); return b }
func (b *Builder) Communities(cs Communities) *Builder { b.r.Bgp.Communities = NewCommunities(cs...); return b }
func (b *Builder) Origin(o OriginType) *Builder { b.r.Bgp.Origin = o; return b }
func (b *Builder) LocalPref(lp uint32) *Builder { b.r.Bgp.LocalPref = lp; return b }
func (b *Builder) Weight(w uint32) *Builder { b.r.Bgp.Weight = w; return b }
func (b *Builder) OriginatorId(a netip.Addr) *Builder { b.r.Bgp.OriginatorId = a; return b }
func (b *Builder) ClusterList(cl []netip.Addr) *Builder { b.r.Bgp.ClusterList = slices.Clone(cl); return b }
func (b *Builder) ReceivedFrom(a netip.Addr, client bool) *Builder {
	b.r.Bgp.ReceivedFrom = a
	b.r.Bgp.ReceivedFromClient = client
	return b
}
func (b *Builder) Ospf(o OspfAttrs) *Builder { b.r.Ospf = o; return b }

func (b *Builder) AddCommunities(cs ...Community) *Builder {
	b.r.Bgp.Communities = b.r.Bgp.Communities.Union(cs)
	return b
}

func (b *Builder) DeleteCommunities(drop func(Community) bool) *Builder {
	b.r.Bgp.Communities = b.r.Bgp.Communities.Without(drop)
	return b
}

func (b *Builder) PrependAsPath(asns ...uint32) *Builder {
	b.r.Bgp.AsPath = b.r.Bgp.AsPath.Prepend(asns...)
	return b
}

func (b *Builder) ExcludeAsPath(asns ...uint32) *Builder {
	b.r.Bgp.AsPath = b.r.Bgp.AsPath.Exclude(asns...)
	return b
}

func (b *Builder) PrependCluster(id netip.Addr) *Builder {
	b.r.Bgp.ClusterList = append([]netip.Addr{id}, b.r.Bgp.ClusterList...)
	return b
}
