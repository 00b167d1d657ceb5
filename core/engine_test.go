package core

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/encodeous/ribsim/rib"
	"github.com/encodeous/ribsim/state"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestEngine_StaticResolution(t *testing.T) {
	defer goleak.VerifyNone(t)
	res := compute(t, staticNet)

	direct := mainRoutes(t, res, "r1", "192.168.0.0/16")
	require.Len(t, direct, 1)
	assert.Equal(t, state.ProtoStatic, direct[0].Protocol)

	// resolves through the other static, installed one round later
	recursive := mainRoutes(t, res, "r1", "172.16.0.0/12")
	require.Len(t, recursive, 1)

	assert.Len(t, mainRoutes(t, res, "r1", "100.64.0.0/10"), 1)
	assert.Empty(t, mainRoutes(t, res, "r1", "203.0.113.0/24"))
	assert.Empty(t, mainRoutes(t, res, "r1", "198.51.100.0/24"))

	unresolved := warningsOf(res, state.WarnUnresolvedNextHop)
	assert.Len(t, unresolved, 2)

	entry, ok := res.DataPlane.Lookup("r1", state.DefaultVrf, netip.MustParseAddr("172.16.4.4"))
	require.True(t, ok)
	want := []rib.NextHop{{Interface: "eth0", Address: netip.MustParseAddr("10.0.0.2")}}
	assert.Empty(t, cmp.Diff(want, entry.NextHops, cmpopts.EquateComparable(netip.Addr{})))

	entry, ok = res.DataPlane.Lookup("r1", state.DefaultVrf, netip.MustParseAddr("100.64.1.1"))
	require.True(t, ok)
	assert.Equal(t, []rib.NextHop{{Discard: true}}, entry.NextHops)
}

func TestEngine_OspfAreas(t *testing.T) {
	defer goleak.VerifyNone(t)
	res := compute(t, ospfAreasNet)

	r3 := mainRoutes(t, res, "r3", "1.1.1.1/32")
	require.Len(t, r3, 1)
	assert.Equal(t, state.ProtoOspfIA, r3[0].Protocol)
	assert.Equal(t, uint32(30), r3[0].Metric)
	assert.Equal(t, netip.MustParseAddr("10.0.23.1"), r3[0].NextHop)
	assert.Equal(t, uint32(110), r3[0].AdminDistance)

	r1 := mainRoutes(t, res, "r1", "3.3.3.3/32")
	require.Len(t, r1, 1)
	assert.Equal(t, state.ProtoOspfIA, r1[0].Protocol)
	assert.Equal(t, uint32(30), r1[0].Metric)
	assert.Equal(t, "eth0", r1[0].NextHopInterface)

	// r2's static leaks into both areas as a type 2 external
	for _, node := range []string{"r1", "r3"} {
		ext := mainRoutes(t, res, node, "192.0.2.0/24")
		require.Len(t, ext, 1, node)
		assert.Equal(t, state.ProtoOspfE2, ext[0].Protocol)
		assert.Equal(t, state.DefaultRedistMetric, ext[0].Metric)
		assert.Equal(t, uint32(10), ext[0].Ospf.ForwardCost)
	}
}

func TestEngine_OspfEqualCostMultipath(t *testing.T) {
	defer goleak.VerifyNone(t)
	res := compute(t, ospfSquareNet)

	routes := mainRoutes(t, res, "r1", "4.4.4.4/32")
	require.Len(t, routes, 2)
	for _, r := range routes {
		assert.Equal(t, uint32(30), r.Metric)
	}

	entry, ok := res.DataPlane.Lookup("r1", state.DefaultVrf, netip.MustParseAddr("4.4.4.4"))
	require.True(t, ok)
	want := []rib.NextHop{
		{Interface: "eth0", Address: netip.MustParseAddr("10.0.12.2")},
		{Interface: "eth1", Address: netip.MustParseAddr("10.0.13.2")},
	}
	assert.Empty(t, cmp.Diff(want, entry.NextHops, cmpopts.EquateComparable(netip.Addr{})))
}

func TestEngine_Isis(t *testing.T) {
	defer goleak.VerifyNone(t)
	res := compute(t, isisNet)

	routes := mainRoutes(t, res, "r1", "2.2.2.2/32")
	require.Len(t, routes, 1)
	assert.Equal(t, state.ProtoIsisL2, routes[0].Protocol)
	assert.Equal(t, uint32(20), routes[0].Metric)
	assert.Equal(t, uint32(115), routes[0].AdminDistance)
}

func TestEngine_ShorterAsPathWins(t *testing.T) {
	defer goleak.VerifyNone(t)
	for name, doc := range map[string]string{"ordered": bgpPathNet, "reordered": bgpPathNetReordered} {
		t.Run(name, func(t *testing.T) {
			res := compute(t, doc)
			routes := mainRoutes(t, res, "r1", "10.10.0.0/24")
			require.Len(t, routes, 1)
			r := routes[0]
			assert.Equal(t, state.ProtoBgp, r.Protocol)
			assert.Equal(t, netip.MustParseAddr("10.0.12.2"), r.NextHop)
			assert.Equal(t, state.NewAsPath(65002), r.Bgp.AsPath)
			assert.Equal(t, state.DefaultLocalPref, r.Bgp.LocalPref)

			// r3 keeps its own shorter path and sees r1's longer one as a candidate
			r3 := mainRoutes(t, res, "r3", "10.10.0.0/24")
			require.Len(t, r3, 1)
			assert.Equal(t, state.NewAsPath(65004), r3[0].Bgp.AsPath)
		})
	}
}

func TestEngine_DeterministicAcrossWorkersAndOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	var outputs []string
	for _, doc := range []string{bgpPathNet, bgpPathNetReordered} {
		for _, workers := range []int{1, 2, 8} {
			net := parseNet(t, doc)
			net.Settings.Workers = workers
			res, err := newEngine(t, net).Run(context.Background())
			require.NoError(t, err)
			outputs = append(outputs, render(t, res, RenderOptions{Fib: true}))
		}
	}
	for _, out := range outputs[1:] {
		assert.Equal(t, outputs[0], out)
	}
}

func TestEngine_IbgpOverOspf(t *testing.T) {
	defer goleak.VerifyNone(t)
	res := compute(t, ibgpNet)
	require.Len(t, res.Sessions, 2)

	routes := mainRoutes(t, res, "r1", "10.30.0.0/24")
	require.Len(t, routes, 1)
	r := routes[0]
	assert.Equal(t, state.ProtoIbgp, r.Protocol)
	assert.Equal(t, uint32(200), r.AdminDistance)
	assert.Equal(t, netip.MustParseAddr("3.3.3.3"), r.NextHop, "next hop is the originator's session address")
	assert.Equal(t, netip.MustParseAddr("10.0.23.2"), r.Bgp.OriginatorId)

	entry, ok := res.DataPlane.Lookup("r1", state.DefaultVrf, netip.MustParseAddr("10.30.0.9"))
	require.True(t, ok)
	assert.Equal(t, netip.MustParsePrefix("10.30.0.0/24"), entry.Prefix)
	want := []rib.NextHop{{Interface: "eth0", Address: netip.MustParseAddr("10.0.12.2")}}
	assert.Empty(t, cmp.Diff(want, entry.NextHops, cmpopts.EquateComparable(netip.Addr{})))
}

func TestEngine_SessionDown(t *testing.T) {
	defer goleak.VerifyNone(t)
	net := parseNet(t, bgpPathNet)
	r1 := net.Node("r1").Vrf(state.DefaultVrf)
	r1.Bgp.Neighbors[0].RemoteAs = 65099

	res, err := newEngine(t, net).Run(context.Background())
	require.NoError(t, err)

	down := warningsOf(res, state.WarnSessionDown)
	require.NotEmpty(t, down)
	var nodes []string
	for _, w := range down {
		nodes = append(nodes, w.Node)
		assert.Contains(t, w.Message, "as mismatch")
	}
	assert.ElementsMatch(t, []string{"r1", "r2"}, nodes)

	// only the path through r3 is left
	routes := mainRoutes(t, res, "r1", "10.10.0.0/24")
	require.Len(t, routes, 1)
	assert.Equal(t, state.NewAsPath(65003, 65004), routes[0].Bgp.AsPath)
}

func TestEngine_ResumeIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	for name, doc := range map[string]string{"bgp": bgpPathNet, "ibgp": ibgpNet, "ospf": ospfAreasNet} {
		t.Run(name, func(t *testing.T) {
			e := newEngine(t, parseNet(t, doc))
			first, err := e.Run(context.Background())
			require.NoError(t, err)

			again, err := e.Resume(context.Background(), first.Snapshot)
			require.NoError(t, err)
			require.Len(t, again.Trace, 1)
			assert.Equal(t, RoundStats{Phase: "resume", Round: 1}, again.Trace[0])
			assert.Equal(t, first.Rounds+1, again.Rounds)
			assert.Equal(t, render(t, first, RenderOptions{Fib: true}), render(t, again, RenderOptions{Fib: true}))
			assert.Equal(t, first.Sessions, again.Sessions)

			// the snapshot is not consumed by resuming
			more, err := e.Resume(context.Background(), first.Snapshot)
			require.NoError(t, err)
			assert.Equal(t, render(t, first, RenderOptions{}), render(t, more, RenderOptions{}))
		})
	}
}

func TestEngine_Oscillation(t *testing.T) {
	defer goleak.VerifyNone(t)
	_, err := newEngine(t, parseNet(t, oscillatingNet)).Run(context.Background())
	var nc *NonConvergenceError
	require.True(t, errors.As(err, &nc), "got %v", err)
	assert.True(t, nc.Oscillating)
	assert.Equal(t, "igp", nc.Phase)
	// round 5 repeats round 1
	assert.Equal(t, 4, nc.CycleLength)
	assert.Equal(t, 5, nc.Rounds)
}

func TestEngine_RoundBudget(t *testing.T) {
	defer goleak.VerifyNone(t)
	net := parseNet(t, oscillatingNet)
	net.Settings.RoundBudget = 3
	_, err := newEngine(t, net).Run(context.Background())
	var nc *NonConvergenceError
	require.True(t, errors.As(err, &nc), "got %v", err)
	assert.False(t, nc.Oscillating)
	assert.Equal(t, 3, nc.Rounds)
	assert.Contains(t, nc.Error(), "no convergence within 3 rounds")
}

func TestEngine_Cancelled(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEngine(t, parseNet(t, staticNet)).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_UndefinedPolicyReference(t *testing.T) {
	net := parseNet(t, bgpPathNet)
	net.Node("r1").Vrf(state.DefaultVrf).Bgp.Neighbors[0].ImportPolicy = "MISSING"
	e := newEngine(t, net)

	var found bool
	for _, w := range e.Warnings() {
		if w.Kind == state.WarnUndefinedPolicy && w.Policy == "MISSING" {
			found = true
		}
	}
	assert.True(t, found)

	// an undefined policy permits everything
	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, mainRoutes(t, res, "r1", "10.10.0.0/24"), 1)
}

func TestEngine_TraceEndsConverged(t *testing.T) {
	res := compute(t, bgpPathNet)
	require.NotEmpty(t, res.Trace)
	assert.Equal(t, "igp", res.Trace[0].Phase)
	last := res.Trace[len(res.Trace)-1]
	assert.Zero(t, last.Dirty)
	assert.Zero(t, last.Changed)
	assert.Equal(t, res.Rounds, len(res.Trace))
}
