package core

import (
	"bytes"
	"context"
	"net/netip"
	"testing"

	"github.com/encodeous/ribsim/state"
	"github.com/stretchr/testify/require"
)

func parseNet(t *testing.T, doc string) *state.Network {
	t.Helper()
	net, err := state.ParseNetwork([]byte(doc))
	require.NoError(t, err)
	return net
}

func newEngine(t *testing.T, net *state.Network) *Engine {
	t.Helper()
	e, err := NewEngine(net, nil)
	require.NoError(t, err)
	return e
}

func compute(t *testing.T, doc string) *Result {
	t.Helper()
	res, err := newEngine(t, parseNet(t, doc)).Run(context.Background())
	require.NoError(t, err)
	return res
}

// mainRoutes returns the selected main RIB routes of node for prefix.
func mainRoutes(t *testing.T, res *Result, node, prefix string) []state.Route {
	t.Helper()
	tbl := res.DataPlane.Table(node, state.DefaultVrf)
	require.NotNil(t, tbl, "no table for %s", node)
	p := netip.MustParsePrefix(prefix)
	var out []state.Route
	for _, r := range tbl.Routes {
		if r.Prefix == p {
			out = append(out, r)
		}
	}
	return out
}

func render(t *testing.T, res *Result, opts RenderOptions) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, res.DataPlane.Render(&buf, opts))
	return buf.String()
}

func warningsOf(res *Result, kind state.WarningKind) []state.Warning {
	var out []state.Warning
	for _, w := range res.Warnings {
		if w.Kind == kind {
			out = append(out, w)
		}
	}
	return out
}

const staticNet = `
nodes:
  - name: r1
    interfaces:
      - name: eth0
        address: 10.0.0.1/24
    vrfs:
      - name: default
        static_routes:
          - prefix: 192.168.0.0/16
            next_hop: 10.0.0.2
          - prefix: 172.16.0.0/12
            next_hop: 192.168.1.1
          - prefix: 203.0.113.0/24
            next_hop: 198.51.100.1
          - prefix: 198.51.100.0/24
            next_hop: 203.0.113.1
          - prefix: 100.64.0.0/10
            discard: true
`

// r1 (area 1) -- r2 (ABR) -- r3 (area 0)
const ospfAreasNet = `
nodes:
  - name: r1
    interfaces:
      - name: lo
        address: 1.1.1.1/32
        ospf: {area: 1, passive: true}
      - name: eth0
        address: 10.0.12.1/30
        ospf: {area: 1}
    vrfs:
      - name: default
        ospf: {}
  - name: r2
    interfaces:
      - name: eth0
        address: 10.0.12.2/30
        ospf: {area: 1}
      - name: eth1
        address: 10.0.23.1/30
        ospf: {area: 0}
    vrfs:
      - name: default
        ospf:
          redistribute:
            - protocol: static
        static_routes:
          - prefix: 192.0.2.0/24
            discard: true
  - name: r3
    interfaces:
      - name: lo
        address: 3.3.3.3/32
        ospf: {area: 0, passive: true}
      - name: eth0
        address: 10.0.23.2/30
        ospf: {area: 0}
    vrfs:
      - name: default
        ospf: {}
`

// r1 reaches r4's loopback over two equal cost paths
const ospfSquareNet = `
nodes:
  - name: r1
    interfaces:
      - {name: eth0, address: 10.0.12.1/30, ospf: {area: 0}}
      - {name: eth1, address: 10.0.13.1/30, ospf: {area: 0}}
    vrfs:
      - {name: default, ospf: {}}
  - name: r2
    interfaces:
      - {name: eth0, address: 10.0.12.2/30, ospf: {area: 0}}
      - {name: eth1, address: 10.0.24.1/30, ospf: {area: 0}}
    vrfs:
      - {name: default, ospf: {}}
  - name: r3
    interfaces:
      - {name: eth0, address: 10.0.13.2/30, ospf: {area: 0}}
      - {name: eth1, address: 10.0.34.1/30, ospf: {area: 0}}
    vrfs:
      - {name: default, ospf: {}}
  - name: r4
    interfaces:
      - {name: eth0, address: 10.0.24.2/30, ospf: {area: 0}}
      - {name: eth1, address: 10.0.34.2/30, ospf: {area: 0}}
      - {name: lo, address: 4.4.4.4/32, ospf: {area: 0, passive: true}}
    vrfs:
      - {name: default, ospf: {}}
`

const isisNet = `
nodes:
  - name: r1
    interfaces:
      - {name: eth0, address: 10.0.12.1/30, isis: {}}
    vrfs:
      - {name: default, isis: {level: level-2}}
  - name: r2
    interfaces:
      - {name: eth0, address: 10.0.12.2/30, isis: {}}
      - {name: lo, address: 2.2.2.2/32, isis: {passive: true}}
    vrfs:
      - {name: default, isis: {level: level-2}}
`

// r2 (65002) originates 10.10.0.0/24; r4 (65004) originates it too, one AS
// further away from r1 (65001).
const bgpPathNet = `
nodes:
  - name: r1
    interfaces:
      - {name: eth0, address: 10.0.12.1/30}
      - {name: eth1, address: 10.0.13.1/30}
    vrfs:
      - name: default
        bgp:
          as: 65001
          neighbors:
            - {peer_ip: 10.0.12.2, remote_as: 65002}
            - {peer_ip: 10.0.13.2, remote_as: 65003}
  - name: r2
    interfaces:
      - {name: eth0, address: 10.0.12.2/30}
    vrfs:
      - name: default
        static_routes:
          - {prefix: 10.10.0.0/24, discard: true}
        bgp:
          as: 65002
          networks: [10.10.0.0/24]
          neighbors:
            - {peer_ip: 10.0.12.1, remote_as: 65001}
  - name: r3
    interfaces:
      - {name: eth0, address: 10.0.13.2/30}
      - {name: eth1, address: 10.0.34.1/30}
    vrfs:
      - name: default
        bgp:
          as: 65003
          neighbors:
            - {peer_ip: 10.0.13.1, remote_as: 65001}
            - {peer_ip: 10.0.34.2, remote_as: 65004}
  - name: r4
    interfaces:
      - {name: eth0, address: 10.0.34.2/30}
    vrfs:
      - name: default
        static_routes:
          - {prefix: 10.10.0.0/24, discard: true}
        bgp:
          as: 65004
          networks: [10.10.0.0/24]
          neighbors:
            - {peer_ip: 10.0.34.1, remote_as: 65003}
`

// bgpPathNet with r1's neighbors and the node list in the opposite order
const bgpPathNetReordered = `
nodes:
  - name: r4
    interfaces:
      - {name: eth0, address: 10.0.34.2/30}
    vrfs:
      - name: default
        static_routes:
          - {prefix: 10.10.0.0/24, discard: true}
        bgp:
          as: 65004
          networks: [10.10.0.0/24]
          neighbors:
            - {peer_ip: 10.0.34.1, remote_as: 65003}
  - name: r3
    interfaces:
      - {name: eth1, address: 10.0.34.1/30}
      - {name: eth0, address: 10.0.13.2/30}
    vrfs:
      - name: default
        bgp:
          as: 65003
          neighbors:
            - {peer_ip: 10.0.34.2, remote_as: 65004}
            - {peer_ip: 10.0.13.1, remote_as: 65001}
  - name: r2
    interfaces:
      - {name: eth0, address: 10.0.12.2/30}
    vrfs:
      - name: default
        static_routes:
          - {prefix: 10.10.0.0/24, discard: true}
        bgp:
          as: 65002
          networks: [10.10.0.0/24]
          neighbors:
            - {peer_ip: 10.0.12.1, remote_as: 65001}
  - name: r1
    interfaces:
      - {name: eth1, address: 10.0.13.1/30}
      - {name: eth0, address: 10.0.12.1/30}
    vrfs:
      - name: default
        bgp:
          as: 65001
          neighbors:
            - {peer_ip: 10.0.13.2, remote_as: 65003}
            - {peer_ip: 10.0.12.2, remote_as: 65002}
`

// r1 and r3 peer over iBGP between loopbacks carried by OSPF through r2.
const ibgpNet = `
nodes:
  - name: r1
    interfaces:
      - {name: lo, address: 1.1.1.1/32, ospf: {area: 0, passive: true}}
      - {name: eth0, address: 10.0.12.1/30, ospf: {area: 0}}
    vrfs:
      - name: default
        ospf: {}
        bgp:
          as: 65001
          neighbors:
            - {peer_ip: 3.3.3.3, remote_as: 65001, update_source: lo}
  - name: r2
    interfaces:
      - {name: eth0, address: 10.0.12.2/30, ospf: {area: 0}}
      - {name: eth1, address: 10.0.23.1/30, ospf: {area: 0}}
    vrfs:
      - {name: default, ospf: {}}
  - name: r3
    interfaces:
      - {name: lo, address: 3.3.3.3/32, ospf: {area: 0, passive: true}}
      - {name: eth0, address: 10.0.23.2/30, ospf: {area: 0}}
    vrfs:
      - name: default
        ospf: {}
        static_routes:
          - {prefix: 10.30.0.0/24, discard: true}
        bgp:
          as: 65001
          networks: [10.30.0.0/24]
          neighbors:
            - {peer_ip: 1.1.1.1, remote_as: 65001, update_source: lo}
`

// The static's next hop resolves through the default route only while the
// aggregate it activates is absent.
const oscillatingNet = `
nodes:
  - name: r1
    interfaces:
      - {name: eth0, address: 192.168.0.1/24}
    vrfs:
      - name: default
        static_routes:
          - {prefix: 0.0.0.0/0, next_hop: 192.168.0.2}
          - {prefix: 10.1.0.0/16, next_hop: 10.2.0.1}
        aggregates:
          - {prefix: 10.0.0.0/8}
`
