//go:build integration

package integration

import (
	"net/netip"
	"testing"

	"github.com/encodeous/ribsim/state"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestRouteReflection(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := Run(t, Load(t, "route_reflection"))
	assert.Len(t, h.Result.Sessions, 4)

	r := h.Route("r3", "10.2.0.0/24")
	assert.Equal(t, state.ProtoIbgp, r.Protocol)
	assert.Equal(t, netip.MustParseAddr("10.0.12.2"), r.NextHop, "reflection keeps the next hop")
	assert.Equal(t, netip.MustParseAddr("10.0.12.2"), r.Bgp.OriginatorId)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.0.13.1")}, r.Bgp.ClusterList)
	assert.Equal(t, state.DefaultLocalPref, r.Bgp.LocalPref)
	assert.Empty(t, r.Bgp.AsPath)

	rr := h.Route("r1", "10.2.0.0/24")
	assert.True(t, rr.Bgp.ReceivedFromClient)
	assert.Empty(t, rr.Bgp.ClusterList)
}

func TestIbgpSplitHorizon(t *testing.T) {
	defer goleak.VerifyNone(t)
	net := Load(t, "route_reflection")
	for i := range net.Node("r1").Vrf(state.DefaultVrf).Bgp.Neighbors {
		net.Node("r1").Vrf(state.DefaultVrf).Bgp.Neighbors[i].RouteReflectorClient = false
	}
	h := Run(t, net)

	h.Route("r1", "10.2.0.0/24")
	h.Absent(at("r3", "10.2.0.0/24"))
}

func TestImportLocalPreference(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := Run(t, Load(t, "dual_homed"))

	r := h.Route("r1", "10.4.0.0/24")
	assert.Equal(t, uint32(200), r.Bgp.LocalPref)
	assert.Equal(t, netip.MustParseAddr("10.0.13.2"), r.NextHop)
	assert.Equal(t, state.NewAsPath(65003, 65004), r.Bgp.AsPath)

	// r2 keeps its direct path over the one r1 re-advertises
	assert.Equal(t, state.NewAsPath(65004), h.Route("r2", "10.4.0.0/24").Bgp.AsPath)
}

func TestTieBreakWithoutPolicy(t *testing.T) {
	defer goleak.VerifyNone(t)
	net := Load(t, "dual_homed")
	net.Node("r1").Vrf(state.DefaultVrf).Bgp.Neighbors[1].ImportPolicy = ""
	h := Run(t, net)

	r := h.Route("r1", "10.4.0.0/24")
	assert.Equal(t, state.DefaultLocalPref, r.Bgp.LocalPref)
	assert.Equal(t, 2, r.Bgp.AsPath.Length())
}

func TestNoExport(t *testing.T) {
	defer goleak.VerifyNone(t)
	net := Load(t, "dual_homed")
	net.Node("r1").Vrf(state.DefaultVrf).Bgp.Neighbors[1].ImportPolicy = ""
	net.Node("r4").Vrf(state.DefaultVrf).Bgp.Neighbors[1].ExportPolicy = "NO-EXPORT"
	h := Run(t, net)

	r3 := h.Route("r3", "10.4.0.0/24")
	assert.True(t, r3.Bgp.Communities.Contains(state.CommunityNoExport))
	assert.Equal(t, state.NewAsPath(65004), r3.Bgp.AsPath)

	r1 := h.Route("r1", "10.4.0.0/24")
	assert.Equal(t, netip.MustParseAddr("10.0.12.2"), r1.NextHop)
	assert.Equal(t, state.NewAsPath(65002, 65004), r1.Bgp.AsPath)
	assert.False(t, r1.Bgp.Communities.Contains(state.CommunityNoExport))
}
