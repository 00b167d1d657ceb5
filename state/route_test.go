package state

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsPath(t *testing.T) {
	p, err := ParseAsPath("65002 65003 {65005,65004,65005}")
	require.NoError(t, err)
	assert.Equal(t, AsPath{{65002}, {65003}, {65004, 65005}}, p)
	assert.Equal(t, "65002 65003 {65004,65005}", p.String())
	assert.Equal(t, 3, p.Length(), "an as-set counts once")
	assert.Equal(t, uint32(65002), p.FirstAs())
	assert.Zero(t, p.OriginAs(), "origin of a path ending in a set is unknown")
	assert.True(t, p.Contains(65004))
	assert.False(t, p.Contains(65001))
	assert.Equal(t, []uint32{65002, 65003, 65004, 65005}, p.Asns())

	pre := p.Prepend(65001, 65001)
	assert.Equal(t, "65001 65001 65002 65003 {65004,65005}", pre.String())
	assert.Equal(t, "65002 65003 {65004,65005}", p.String(), "prepend copies")

	assert.Equal(t, "65002 65005", p.Exclude(65003, 65004).String(), "a single-member set is a plain hop")
	assert.Empty(t, NewAsPath(65001).Exclude(65001))

	for _, bad := range []string{"abc", "{1,2", "{1,x}", "99999999999"} {
		_, err := ParseAsPath(bad)
		assert.Error(t, err, bad)
	}
	empty, err := ParseAsPath("")
	require.NoError(t, err)
	assert.Zero(t, empty.Length())
}

func TestCommunities(t *testing.T) {
	c, err := ParseCommunity("65001:100")
	require.NoError(t, err)
	assert.Equal(t, Community(65001<<16|100), c)
	assert.Equal(t, "65001:100", c.String())

	ne, err := ParseCommunity("NO-EXPORT")
	require.NoError(t, err)
	assert.Equal(t, CommunityNoExport, ne)

	raw, err := ParseCommunity("4294967042")
	require.NoError(t, err)
	assert.Equal(t, CommunityNoAdvertise, raw)

	for _, bad := range []string{"65536:1", "1:2:3", "x:1", "nope"} {
		_, err := ParseCommunity(bad)
		assert.Error(t, err, bad)
	}

	cs := NewCommunities(MustParseCommunity("2:2"), MustParseCommunity("1:1"), MustParseCommunity("2:2"))
	assert.Equal(t, "1:1 2:2", cs.String())
	assert.True(t, cs.Contains(MustParseCommunity("1:1")))
	u := cs.Union(NewCommunities(MustParseCommunity("1:5")))
	assert.Equal(t, "1:1 1:5 2:2", u.String())
	w := u.Without(func(c Community) bool { return c>>16 == 1 })
	assert.Equal(t, "2:2", w.String())
}

func TestPrefixRange(t *testing.T) {
	pp := netip.MustParsePrefix
	cases := []struct {
		r    PrefixRange
		p    string
		want bool
	}{
		{PrefixRange{Prefix: pp("10.0.0.0/8")}, "10.0.0.0/8", true},
		{PrefixRange{Prefix: pp("10.0.0.0/8")}, "10.1.0.0/16", false},
		{PrefixRange{Prefix: pp("10.0.0.0/8"), Le: 24}, "10.1.0.0/16", true},
		{PrefixRange{Prefix: pp("10.0.0.0/8"), Le: 24}, "10.1.1.0/25", false},
		{PrefixRange{Prefix: pp("10.0.0.0/8"), Ge: 24}, "10.1.1.1/32", true},
		{PrefixRange{Prefix: pp("10.0.0.0/8"), Ge: 24}, "10.1.0.0/16", false},
		{PrefixRange{Prefix: pp("10.0.0.0/8"), Ge: 16, Le: 24}, "11.0.0.0/16", false},
		{PrefixRange{Prefix: pp("0.0.0.0/0"), Le: 32}, "2001:db8::/32", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.r.Contains(pp(c.p)), "%s contains %s", c.r, c.p)
	}

	assert.NoError(t, PrefixRange{Prefix: pp("10.0.0.0/8"), Ge: 16, Le: 24}.Validate())
	assert.Error(t, PrefixRange{Prefix: pp("10.0.0.0/8"), Ge: 4}.Validate())
	assert.Error(t, PrefixRange{Prefix: pp("10.0.0.0/8"), Ge: 24, Le: 16}.Validate())
	assert.Error(t, PrefixRange{}.Validate())
}

func TestRouteBuilderCopies(t *testing.T) {
	orig := NewRoute(netip.MustParsePrefix("10.0.0.1/24"), ProtoBgp).
		AsPath(NewAsPath(65002)).
		Communities(Communities{MustParseCommunity("1:1")}).
		Build()
	assert.Equal(t, netip.MustParsePrefix("10.0.0.0/24"), orig.Prefix, "prefixes are masked")

	derived := orig.Builder().
		PrependAsPath(65001).
		AddCommunities(MustParseCommunity("2:2")).
		Build()
	assert.Equal(t, "65002", orig.Bgp.AsPath.String())
	assert.Equal(t, "1:1", orig.Bgp.Communities.String())
	assert.Equal(t, "65001 65002", derived.Bgp.AsPath.String())
	assert.Equal(t, "1:1 2:2", derived.Bgp.Communities.String())
	assert.False(t, orig.Equal(derived))
	assert.True(t, orig.Equal(orig.Builder().Build()))
	assert.True(t, orig.Local())
	assert.False(t, derived.Builder().ReceivedFrom(netip.MustParseAddr("192.0.2.1"), false).Build().Local())
}

func TestProtocolCovers(t *testing.T) {
	assert.True(t, ProtoOspf.Covers(ProtoOspfE2))
	assert.False(t, ProtoOspfE2.Covers(ProtoOspf))
	assert.True(t, ProtoBgp.Covers(ProtoIbgp))
	assert.True(t, ProtoIsisL1.Covers(ProtoIsisL2))
	assert.False(t, ProtoStatic.Covers(ProtoConnected))

	p, err := ParseProtocol("ospf-inter")
	require.NoError(t, err)
	assert.Equal(t, ProtoOspfIA, p)
	_, err = ParseProtocol("unset")
	assert.Error(t, err)
}

func TestRouteString_ForeignAttrs(t *testing.T) {
	ospf := NewRoute(netip.MustParsePrefix("10.1.0.0/16"), ProtoOspf).
		AdminDistance(110).
		NextHop(netip.MustParseAddr("10.0.1.2")).
		Metric(20).
		Build()
	assert.Equal(t, "10.1.0.0/16 ospf via 10.0.1.2 [110/20] area 0", ospf.String())

	variants := []Route{
		ospf.Builder().LocalPref(300).Build(),
		ospf.Builder().AddCommunities(MustParseCommunity("65000:1")).Build(),
		ospf.Builder().ReceivedFrom(netip.Addr{}, true).Build(),
	}
	for _, v := range variants {
		assert.False(t, v.Equal(ospf))
		assert.NotEqual(t, ospf.String(), v.String())
	}
	assert.Equal(t, "10.1.0.0/16 ospf via 10.0.1.2 [110/20] lp 300 path [] origin igp area 0", variants[0].String())

	static := NewRoute(netip.MustParsePrefix("10.2.0.0/16"), ProtoStatic).Discard(true).Build()
	assert.Equal(t, "10.2.0.0/16 static discard [0/0]", static.String())
	withArea := static.Builder().Ospf(OspfAttrs{Area: 1}).Build()
	assert.Equal(t, "10.2.0.0/16 static discard [0/0] area 1", withArea.String())
}
