package core

import (
	"net/netip"
	"testing"

	"github.com/encodeous/ribsim/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopology_IgpEdges(t *testing.T) {
	net := parseNet(t, ospfAreasNet)
	topo, err := NewTopology(net)
	require.NoError(t, err)

	edges := topo.IgpEdges(net)
	require.Len(t, edges, 4)
	for _, e := range edges {
		assert.Equal(t, EdgeOspf, e.Kind)
	}
	// sorted by exporter
	assert.Equal(t, Edge{
		Kind:      EdgeOspf,
		From:      NodeVrf{"r1", state.DefaultVrf},
		To:        NodeVrf{"r2", state.DefaultVrf},
		FromIface: "eth0",
		ToIface:   "eth0",
		FromAddr:  netip.MustParseAddr("10.0.12.1"),
		ToAddr:    netip.MustParseAddr("10.0.12.2"),
		Area:      1,
	}, edges[0])
	assert.Equal(t, edges[0].reverse(), edges[1])
	assert.Equal(t, uint32(0), edges[2].Area)

	assert.True(t, topo.Connected(state.Endpoint{Node: "r3", Interface: "eth0"}, state.Endpoint{Node: "r2", Interface: "eth1"}))
	assert.False(t, topo.Connected(state.Endpoint{Node: "r1", Interface: "eth0"}, state.Endpoint{Node: "r3", Interface: "eth0"}))
}

func TestTopology_IsisLevels(t *testing.T) {
	net := parseNet(t, isisNet)
	net.Node("r2").Vrf(state.DefaultVrf).Isis.Level = state.IsisLevel1
	topo, err := NewTopology(net)
	require.NoError(t, err)
	assert.Empty(t, topo.IgpEdges(net), "level-1 and level-2 routers do not meet")

	net.Node("r2").Vrf(state.DefaultVrf).Isis.Level = state.IsisLevel12
	edges := topo.IgpEdges(net)
	require.Len(t, edges, 2)
	assert.Equal(t, state.IsisLevel2, edges[0].Level)
}

func TestTopology_BgpSessions(t *testing.T) {
	net := parseNet(t, bgpPathNet)
	topo, err := NewTopology(net)
	require.NoError(t, err)

	// single-hop ebgp needs no routes
	edges, down := topo.BgpSessions(net, nil)
	assert.Empty(t, down)
	require.Len(t, edges, 6)

	var r1FromR2 *Edge
	for i := range edges {
		if edges[i].From.Node == "r2" && edges[i].To.Node == "r1" {
			r1FromR2 = &edges[i]
		}
	}
	require.NotNil(t, r1FromR2)
	assert.Equal(t, netip.MustParseAddr("10.0.12.2"), r1FromR2.FromAddr)
	assert.Equal(t, netip.MustParseAddr("10.0.12.1"), r1FromR2.ToAddr)
	assert.Equal(t, "bgp r2/default(10.0.12.2) -> r1/default(10.0.12.1)", r1FromR2.String())
}

func TestTopology_BgpSessionDownReasons(t *testing.T) {
	cases := map[string]struct {
		mutate func(*state.Network)
		reason string
	}{
		"missing neighbor": {
			mutate: func(net *state.Network) {
				net.Node("r2").Vrf(state.DefaultVrf).Bgp.Neighbors = nil
			},
			reason: "peer r2/default has no neighbor 10.0.12.1",
		},
		"not connected": {
			mutate: func(net *state.Network) {
				net.Edges = []string{"r1:eth1 r3:eth0", "r3:eth1 r4:eth0"}
			},
			reason: "single-hop ebgp peer is not directly connected",
		},
		"unknown peer": {
			mutate: func(net *state.Network) {
				net.Node("r1").Vrf(state.DefaultVrf).Bgp.Neighbors[0].PeerIp = netip.MustParseAddr("10.0.12.3")
			},
			reason: "peer address not owned by any interface",
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			net := parseNet(t, bgpPathNet)
			c.mutate(net)
			topo, err := NewTopology(net)
			require.NoError(t, err)

			edges, down := topo.BgpSessions(net, nil)
			assert.Len(t, edges, 4, "r1-r3 and r3-r4 stay up")
			var r1 *SessionDown
			for i := range down {
				if down[i].Local.Node == "r1" {
					r1 = &down[i]
				}
			}
			require.NotNil(t, r1)
			assert.Equal(t, c.reason, r1.Reason)
			assert.Equal(t, state.WarnSessionDown, r1.Warning().Kind)
		})
	}
}
