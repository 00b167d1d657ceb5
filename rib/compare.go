package rib

import (
	"cmp"
	"net/netip"
	"strings"

	"github.com/encodeous/ribsim/state"
	"go4.org/netipx"
)

// BestPathConfig holds the per-VRF knobs of the BGP decision process.
type BestPathConfig struct {
	AlwaysCompareMed bool
	AsPathIgnore     bool
	MultipathEbgp    bool
	MultipathIbgp    bool
	// MaxPaths bounds multipath sets; 0 means unbounded.
	MaxPaths int
}

// Comparator orders routes by preference: negative means a is preferred.
// Compare, CompareMultipath and CompareBgp are total preorders over any set of
// routes. It is immutable and safe for concurrent use.
type Comparator struct {
	Config BestPathConfig
	// IgpCost resolves the IGP metric towards a BGP next hop. nil means 0.
	IgpCost func(netip.Addr) uint32
}

// Compare orders routes across protocols: administrative distance, then
// protocol family, then the family's own rules including the final
// deterministic tie breaks.
func (c *Comparator) Compare(a, b state.Route) int {
	return c.compare(a, b, true)
}

// CompareMultipath is Compare without the tie breaks that only exist to pick
// a single winner; routes it considers equal are multipath equivalent.
func (c *Comparator) CompareMultipath(a, b state.Route) int {
	return c.compare(a, b, false)
}

func (c *Comparator) compare(a, b state.Route, tieBreak bool) int {
	if v := cmp.Compare(a.AdminDistance, b.AdminDistance); v != 0 {
		return v
	}
	fa, fb := a.Protocol.Family(), b.Protocol.Family()
	if fa != fb {
		return cmp.Compare(fa, fb)
	}
	switch fa {
	case state.FamilyBgp:
		return c.bgp(a, b, c.Config.AlwaysCompareMed, tieBreak)
	case state.FamilyOspf:
		return compareOspf(a, b)
	case state.FamilyIsis:
		return cmp.Or(cmp.Compare(a.Protocol, b.Protocol), cmp.Compare(a.Metric, b.Metric))
	}
	return cmp.Compare(a.Metric, b.Metric)
}

// CompareBgp is the BGP decision process between two BGP routes. It ignores
// administrative distance, which only matters once the winner meets other
// protocols in the main RIB. MED takes part only with AlwaysCompareMed;
// otherwise it is applied by CompareBgpSameAs inside BgpSelector's per
// neighbouring AS groups.
func (c *Comparator) CompareBgp(a, b state.Route) int {
	return c.bgp(a, b, c.Config.AlwaysCompareMed, true)
}

// CompareBgpSameAs is CompareBgp with MED always compared. It is only an
// ordering over routes whose AS paths start with the same AS.
func (c *Comparator) CompareBgpSameAs(a, b state.Route) int {
	return c.bgp(a, b, true, true)
}

// intra-area < inter-area < E1 < E2, then cost; type 2 externals tie on the
// cost to the ASBR
func compareOspf(a, b state.Route) int {
	if v := cmp.Compare(a.Protocol, b.Protocol); v != 0 {
		return v
	}
	if v := cmp.Compare(a.Metric, b.Metric); v != 0 {
		return v
	}
	if a.Protocol == state.ProtoOspfE2 {
		return cmp.Compare(a.Ospf.ForwardCost, b.Ospf.ForwardCost)
	}
	return 0
}

func (c *Comparator) igpCost(r state.Route) uint32 {
	if c.IgpCost == nil || !r.NextHop.IsValid() {
		return 0
	}
	return c.IgpCost(r.NextHop)
}

// ebgp ranks eBGP-learned (and locally originated) routes ahead of iBGP.
func ebgpRank(p state.Protocol) int {
	if p == state.ProtoIbgp {
		return 1
	}
	return 0
}

// RFC 4271 9.1.2.2, preceded by weight and followed by the usual router-id,
// cluster-list and peer address tie breaks.
func (c *Comparator) bgp(a, b state.Route, med, tieBreak bool) int {
	ab, bb := a.Bgp, b.Bgp
	// higher weight, then higher local preference
	if v := cmp.Compare(bb.Weight, ab.Weight); v != 0 {
		return v
	}
	if v := cmp.Compare(bb.LocalPref, ab.LocalPref); v != 0 {
		return v
	}
	if !c.Config.AsPathIgnore {
		if v := cmp.Compare(ab.AsPath.Length(), bb.AsPath.Length()); v != 0 {
			return v
		}
	}
	if v := cmp.Compare(ab.Origin, bb.Origin); v != 0 {
		return v
	}
	if med {
		if v := cmp.Compare(a.Metric, b.Metric); v != 0 {
			return v
		}
	}
	if v := cmp.Compare(ebgpRank(a.Protocol), ebgpRank(b.Protocol)); v != 0 {
		return v
	}
	if v := cmp.Compare(c.igpCost(a), c.igpCost(b)); v != 0 {
		return v
	}
	if !tieBreak {
		return 0
	}
	return cmp.Or(
		ab.OriginatorId.Compare(bb.OriginatorId),
		cmp.Compare(len(ab.ClusterList), len(bb.ClusterList)),
		ab.ReceivedFrom.Compare(bb.ReceivedFrom),
	)
}

// CompareCanonical is a total order over distinct routes used wherever a
// deterministic order is needed.
func CompareCanonical(a, b state.Route) int {
	return cmp.Or(
		netipx.ComparePrefix(a.Prefix, b.Prefix),
		cmp.Compare(a.Protocol, b.Protocol),
		strings.Compare(a.String(), b.String()),
	)
}
