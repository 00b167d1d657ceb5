package core

import (
	"net/netip"
	"testing"

	"github.com/encodeous/ribsim/policy"
	"github.com/encodeous/ribsim/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func standalone(t *testing.T, node *state.NodeCfg) *NodeRoutingState {
	t.Helper()
	pol, err := policy.Compile(node, false, state.NewDiagnostics())
	require.NoError(t, err)
	ad, err := node.Distances()
	require.NoError(t, err)
	return newNodeRoutingState(node, &node.Vrfs[0], pol, ad)
}

func learnedBgp(prefix, peer string, asns ...uint32) state.Route {
	return state.NewRoute(netip.MustParsePrefix(prefix), state.ProtoBgp).
		AdminDistance(20).
		NextHop(netip.MustParseAddr(peer)).
		ReceivedFrom(netip.MustParseAddr(peer), false).
		LocalPref(100).
		AsPath(state.NewAsPath(asns...)).
		Build()
}

func aggregateNode(agg state.AggregateCfg, policies ...state.RoutingPolicy) *state.NodeCfg {
	return &state.NodeCfg{
		Name:     "r1",
		RouterId: netip.MustParseAddr("192.0.2.1"),
		Policies: policies,
		Vrfs: []state.VrfCfg{{
			Name:       state.DefaultVrf,
			Aggregates: []state.AggregateCfg{agg},
			Bgp:        &state.BgpCfg{As: 65001},
		}},
	}
}

func TestAggregate_AsSetAndSummaryOnly(t *testing.T) {
	s := standalone(t, aggregateNode(state.AggregateCfg{
		Prefix:      netip.MustParsePrefix("10.0.0.0/16"),
		SummaryOnly: true,
		AsSet:       true,
	}))
	inside := learnedBgp("10.0.1.0/24", "203.0.113.1", 65002, 65003)
	s.main.Update("bgp", []state.Route{
		inside,
		learnedBgp("10.0.2.0/24", "203.0.113.2", 65004, 65003),
		learnedBgp("10.1.0.0/24", "203.0.113.2", 65005),
	})
	s.main.Commit()

	aggs := s.activeAggregates()
	require.Len(t, aggs, 1)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.1.0/24"),
		netip.MustParsePrefix("10.0.2.0/24"),
	}, aggs[0].components)

	r := s.bgpAggregate(aggs[0])
	assert.Equal(t, state.AsPath{state.AsSet{65002, 65003, 65004}}, r.Bgp.AsPath)
	assert.Equal(t, state.OriginIgp, r.Bgp.Origin)
	assert.Equal(t, state.LocalWeight, r.Bgp.Weight)
	assert.True(t, r.Local())

	assert.True(t, s.suppressed(aggs, inside))
	assert.False(t, s.suppressed(aggs, r), "the aggregate itself is never suppressed")
	assert.False(t, s.suppressed(aggs, learnedBgp("10.1.0.0/24", "203.0.113.2", 65005)))

	discard := s.aggregateRoutes(aggs)
	require.Len(t, discard, 1)
	assert.True(t, discard[0].Discard)
	assert.Equal(t, state.ProtoAggregate, discard[0].Protocol)
	assert.Equal(t, uint32(200), discard[0].AdminDistance)
}

func TestAggregate_NeedsComponent(t *testing.T) {
	s := standalone(t, aggregateNode(state.AggregateCfg{Prefix: netip.MustParsePrefix("10.0.0.0/16")}))
	// the exact prefix and a covering route do not activate it
	s.main.Update("bgp", []state.Route{
		learnedBgp("10.0.0.0/16", "203.0.113.1", 65002),
		learnedBgp("10.0.0.0/8", "203.0.113.1", 65002),
	})
	s.main.Commit()
	assert.Empty(t, s.activeAggregates())
}

func TestAggregate_SuppressPolicy(t *testing.T) {
	suppress := state.RoutingPolicy{
		Name: "SUPPRESS",
		Entries: []state.PolicyEntry{{
			Seq:    10,
			Action: state.ActionPermit,
			Matches: []state.Match{{
				Kind:     state.MatchPrefix,
				Prefixes: []state.PrefixRange{{Prefix: netip.MustParsePrefix("10.0.1.0/24")}},
			}},
		}},
	}
	s := standalone(t, aggregateNode(state.AggregateCfg{
		Prefix:         netip.MustParsePrefix("10.0.0.0/16"),
		SuppressPolicy: "SUPPRESS",
	}, suppress))
	one := learnedBgp("10.0.1.0/24", "203.0.113.1", 65002)
	two := learnedBgp("10.0.2.0/24", "203.0.113.1", 65002)
	s.main.Update("bgp", []state.Route{one, two})
	s.main.Commit()

	aggs := s.activeAggregates()
	require.Len(t, aggs, 1)
	assert.True(t, s.suppressed(aggs, one))
	assert.False(t, s.suppressed(aggs, two))

	r := s.bgpAggregate(aggs[0])
	assert.Empty(t, r.Bgp.AsPath, "no as_set")
}

func TestOriginate(t *testing.T) {
	node := &state.NodeCfg{
		Name: "r1",
		Policies: []state.RoutingPolicy{{
			Name: "REDIST",
			Entries: []state.PolicyEntry{
				{Seq: 10, Action: state.ActionDeny, Matches: []state.Match{{Kind: state.MatchTag, Tags: []uint32{7}}}},
				{Seq: 20, Action: state.ActionPermit, Sets: []state.SetAction{{Kind: state.SetMetric, Value: 50}}},
			},
		}},
	}
	pol, err := policy.Compile(node, false, state.NewDiagnostics())
	require.NoError(t, err)

	st := state.NewRoute(netip.MustParsePrefix("192.0.2.0/24"), state.ProtoStatic).
		AdminDistance(1).
		Metric(5).
		Tag(7).
		NextHop(netip.MustParseAddr("10.0.0.2")).
		Build()

	r, ok := Originate(state.ProtoStatic, st, state.ProtoBgp, nil, "", nil)
	require.True(t, ok)
	assert.Equal(t, state.ProtoBgp, r.Protocol)
	assert.Equal(t, state.ProtoStatic, r.SrcProtocol)
	assert.Equal(t, uint32(5), r.Metric)
	assert.Equal(t, uint32(7), r.Tag)
	assert.Equal(t, state.LocalWeight, r.Bgp.Weight)
	assert.Equal(t, state.OriginIncomplete, r.Bgp.Origin)
	assert.False(t, r.NextHop.IsValid(), "the next hop is not carried over")

	_, ok = Originate(state.ProtoStatic, st, state.ProtoBgp, pol, "REDIST", &policy.Env{Node: "r1"})
	assert.False(t, ok, "tag 7 is denied")

	untagged := st.Builder().Tag(8).Build()
	r, ok = Originate(state.ProtoStatic, untagged, state.ProtoOspfE2, pol, "REDIST", &policy.Env{Node: "r1"})
	require.True(t, ok)
	assert.Equal(t, state.ProtoOspfE2, r.Protocol)
	assert.Equal(t, uint32(50), r.Metric)
}

func TestNodeState_CloneIsIndependent(t *testing.T) {
	s := standalone(t, aggregateNode(state.AggregateCfg{Prefix: netip.MustParsePrefix("10.0.0.0/16")}))
	c := s.clone()
	c.main.Update("bgp", []state.Route{learnedBgp("10.0.1.0/24", "203.0.113.1", 65002)})
	c.main.Commit()
	assert.Zero(t, s.main.Len())
	assert.Equal(t, 1, c.main.Len())
	assert.NotEqual(t, s.computeDigest(), c.computeDigest())
}
