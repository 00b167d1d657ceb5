package state

import (
	"cmp"
	"fmt"
	"net/netip"
	"os"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"
)

const DefaultVrf = "default"

type IsisLevel uint8

const (
	IsisLevel1 IsisLevel = 1 << iota
	IsisLevel2
	IsisLevel12 = IsisLevel1 | IsisLevel2
)

func (l IsisLevel) Has(o IsisLevel) bool {
	return l&o != 0
}

func (l IsisLevel) String() string {
	switch l {
	case IsisLevel1:
		return "level-1"
	case IsisLevel2:
		return "level-2"
	case IsisLevel12:
		return "level-1-2"
	}
	return "none"
}

func (l IsisLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *IsisLevel) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "level-1", "l1":
		*l = IsisLevel1
	case "level-2", "l2":
		*l = IsisLevel2
	case "level-1-2", "l1l2", "l1-l2":
		*l = IsisLevel12
	default:
		return fmt.Errorf("unknown is-is level %q", text)
	}
	return nil
}

// Protocol returns the route protocol used for routes at a single level.
func (l IsisLevel) Protocol() Protocol {
	if l == IsisLevel1 {
		return ProtoIsisL1
	}
	return ProtoIsisL2
}

// Network is the frozen input of a computation: every device plus the physical topology.
type Network struct {
	Nodes []NodeCfg `yaml:"nodes"`
	// Edges are written "r1:eth0 r2:eth0"; when empty they are inferred from
	// interfaces sharing a subnet.
	Edges    []string `yaml:"edges,omitempty"`
	Settings Settings `yaml:"settings,omitempty"`
}

type Settings struct {
	// RoundBudget bounds each fixpoint; 0 derives it from the network size.
	RoundBudget           int  `yaml:"round_budget,omitempty"`
	Workers               int  `yaml:"workers,omitempty"`
	StrictPolicies        bool `yaml:"strict_policies,omitempty"`
	MaxTopologyIterations int  `yaml:"max_topology_iterations,omitempty"`
}

type NodeCfg struct {
	Name           string            `yaml:"name"`
	RouterId       netip.Addr        `yaml:"router_id,omitempty"`
	AdminDistances map[string]uint32 `yaml:"admin_distances,omitempty"`
	Interfaces     []InterfaceCfg    `yaml:"interfaces,omitempty"`
	Vrfs           []VrfCfg          `yaml:"vrfs,omitempty"`
	PrefixLists    []PrefixList      `yaml:"prefix_lists,omitempty"`
	AsPathLists    []AsPathList      `yaml:"as_path_lists,omitempty"`
	CommunityLists []CommunityList   `yaml:"community_lists,omitempty"`
	Policies       []RoutingPolicy   `yaml:"policies,omitempty"`
}

type InterfaceCfg struct {
	Name string `yaml:"name"`
	Vrf  string `yaml:"vrf,omitempty"`
	// Address keeps the host bits: 10.0.0.1/30.
	Address  netip.Prefix   `yaml:"address,omitempty"`
	Shutdown bool           `yaml:"shutdown,omitempty"`
	Ospf     *InterfaceOspf `yaml:"ospf,omitempty"`
	Isis     *InterfaceIsis `yaml:"isis,omitempty"`
}

func (i *InterfaceCfg) Active() bool {
	return !i.Shutdown && i.Address.IsValid()
}

type InterfaceOspf struct {
	Area    uint32 `yaml:"area"`
	Cost    uint32 `yaml:"cost,omitempty"`
	Passive bool   `yaml:"passive,omitempty"`
}

type InterfaceIsis struct {
	Metric  uint32    `yaml:"metric,omitempty"`
	Level   IsisLevel `yaml:"level,omitempty"`
	Passive bool      `yaml:"passive,omitempty"`
}

type VrfCfg struct {
	Name         string           `yaml:"name"`
	StaticRoutes []StaticRouteCfg `yaml:"static_routes,omitempty"`
	Aggregates   []AggregateCfg   `yaml:"aggregates,omitempty"`
	Bgp          *BgpCfg          `yaml:"bgp,omitempty"`
	Ospf         *OspfCfg         `yaml:"ospf,omitempty"`
	Isis         *IsisCfg         `yaml:"isis,omitempty"`
}

type StaticRouteCfg struct {
	Prefix    netip.Prefix `yaml:"prefix"`
	NextHop   netip.Addr   `yaml:"next_hop,omitempty"`
	Interface string       `yaml:"interface,omitempty"`
	Discard   bool         `yaml:"discard,omitempty"`
	Distance  uint32       `yaml:"distance,omitempty"`
	Metric    uint32       `yaml:"metric,omitempty"`
	Tag       uint32       `yaml:"tag,omitempty"`
}

// AggregateCfg is activated by any strictly more specific main RIB route.
// SummaryOnly suppresses all components from BGP export; SuppressPolicy
// suppresses only the components it permits.
type AggregateCfg struct {
	Prefix         netip.Prefix `yaml:"prefix"`
	SummaryOnly    bool         `yaml:"summary_only,omitempty"`
	AsSet          bool         `yaml:"as_set,omitempty"`
	SuppressPolicy string       `yaml:"suppress_policy,omitempty"`
}

type RedistributeCfg struct {
	Protocol Protocol `yaml:"protocol"`
	Policy   string   `yaml:"policy,omitempty"`
	Metric   uint32   `yaml:"metric,omitempty"`
	// MetricType selects ospf-e1/ospf-e2 or isis-l1/isis-l2 for the originated route.
	MetricType Protocol `yaml:"metric_type,omitempty"`
}

type BgpCfg struct {
	As               uint32            `yaml:"as"`
	RouterId         netip.Addr        `yaml:"router_id,omitempty"`
	ClusterId        netip.Addr        `yaml:"cluster_id,omitempty"`
	AlwaysCompareMed bool              `yaml:"always_compare_med,omitempty"`
	AsPathIgnore     bool              `yaml:"as_path_ignore,omitempty"`
	MultipathEbgp    bool              `yaml:"multipath_ebgp,omitempty"`
	MultipathIbgp    bool              `yaml:"multipath_ibgp,omitempty"`
	MaxPaths         int               `yaml:"max_paths,omitempty"`
	DefaultLocalPref uint32            `yaml:"default_local_pref,omitempty"`
	Networks         []netip.Prefix    `yaml:"networks,omitempty"`
	Redistribute     []RedistributeCfg `yaml:"redistribute,omitempty"`
	Neighbors        []BgpNeighborCfg  `yaml:"neighbors,omitempty"`
}

type BgpNeighborCfg struct {
	PeerIp   netip.Addr `yaml:"peer_ip"`
	RemoteAs uint32     `yaml:"remote_as"`
	// UpdateSource names the interface whose address sources the session.
	UpdateSource         string `yaml:"update_source,omitempty"`
	EbgpMultihop         bool   `yaml:"ebgp_multihop,omitempty"`
	ImportPolicy         string `yaml:"import_policy,omitempty"`
	ExportPolicy         string `yaml:"export_policy,omitempty"`
	NextHopSelf          bool   `yaml:"next_hop_self,omitempty"`
	SendCommunity        *bool  `yaml:"send_community,omitempty"`
	RouteReflectorClient bool   `yaml:"route_reflector_client,omitempty"`
	Description          string `yaml:"description,omitempty"`
}

func (n *BgpNeighborCfg) SendsCommunity() bool {
	return n.SendCommunity == nil || *n.SendCommunity
}

type OspfCfg struct {
	ProcessId    uint32            `yaml:"process_id,omitempty"`
	RouterId     netip.Addr        `yaml:"router_id,omitempty"`
	MaxPaths     int               `yaml:"max_paths,omitempty"`
	ImportPolicy string            `yaml:"import_policy,omitempty"`
	Redistribute []RedistributeCfg `yaml:"redistribute,omitempty"`
}

type IsisCfg struct {
	Level        IsisLevel         `yaml:"level,omitempty"`
	MaxPaths     int               `yaml:"max_paths,omitempty"`
	Redistribute []RedistributeCfg `yaml:"redistribute,omitempty"`
}

// Endpoint is one side of a physical link.
type Endpoint struct {
	Node      string
	Interface string
}

func (e Endpoint) String() string {
	return e.Node + ":" + e.Interface
}

func CompareEndpoint(a, b Endpoint) int {
	return cmp.Or(strings.Compare(a.Node, b.Node), strings.Compare(a.Interface, b.Interface))
}

// Link is an undirected physical adjacency with V1 < V2.
type Link = Pair[Endpoint, Endpoint]

func MakeLink(a, b Endpoint) Link {
	if CompareEndpoint(a, b) > 0 {
		a, b = b, a
	}
	return Link{a, b}
}

func ParseEndpoint(s string) (Endpoint, error) {
	node, iface, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || node == "" || iface == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q, expected node:interface", s)
	}
	return Endpoint{Node: node, Interface: iface}, nil
}

// ParseLink reads "r1:eth0 r2:eth0" (a "--" separator is also accepted).
func ParseLink(s string) (Link, error) {
	fields := strings.Fields(strings.ReplaceAll(s, "--", " "))
	if len(fields) != 2 {
		return Link{}, fmt.Errorf("invalid edge %q, expected two endpoints", s)
	}
	a, err := ParseEndpoint(fields[0])
	if err != nil {
		return Link{}, err
	}
	b, err := ParseEndpoint(fields[1])
	if err != nil {
		return Link{}, err
	}
	if a == b {
		return Link{}, fmt.Errorf("invalid edge %q, endpoints are identical", s)
	}
	return MakeLink(a, b), nil
}

func LoadNetwork(path string) (*Network, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	net, err := ParseNetwork(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return net, nil
}

// ParseNetwork decodes, expands and validates a network document.
func ParseNetwork(data []byte) (*Network, error) {
	var net Network
	if err := yaml.Unmarshal(data, &net); err != nil {
		return nil, err
	}
	ExpandNetwork(&net)
	if err := ValidateNetwork(&net); err != nil {
		return nil, err
	}
	return &net, nil
}

// ExpandNetwork fills in defaults: implicit VRFs, interface VRFs, costs and router ids.
func ExpandNetwork(net *Network) {
	for i := range net.Nodes {
		node := &net.Nodes[i]
		for j := range node.Interfaces {
			iface := &node.Interfaces[j]
			if iface.Vrf == "" {
				iface.Vrf = DefaultVrf
			}
			if iface.Ospf != nil && iface.Ospf.Cost == 0 {
				iface.Ospf.Cost = DefaultOspfCost
			}
			if iface.Isis != nil && iface.Isis.Metric == 0 {
				iface.Isis.Metric = DefaultIsisMetric
			}
			if node.Vrf(iface.Vrf) == nil {
				node.Vrfs = append(node.Vrfs, VrfCfg{Name: iface.Vrf})
			}
		}
		if node.Vrf(DefaultVrf) == nil {
			node.Vrfs = append(node.Vrfs, VrfCfg{Name: DefaultVrf})
		}
		if !node.RouterId.IsValid() {
			node.RouterId = node.highestAddress()
		}
		for j := range node.Vrfs {
			vrf := &node.Vrfs[j]
			if vrf.Isis != nil && vrf.Isis.Level == 0 {
				vrf.Isis.Level = IsisLevel12
			}
			if vrf.Bgp != nil && !vrf.Bgp.RouterId.IsValid() {
				vrf.Bgp.RouterId = node.RouterId
			}
			if vrf.Ospf != nil && !vrf.Ospf.RouterId.IsValid() {
				vrf.Ospf.RouterId = node.RouterId
			}
		}
	}
}

// highestAddress mirrors the usual router-id election: the numerically highest
// IPv4 interface address.
func (n *NodeCfg) highestAddress() netip.Addr {
	var best netip.Addr
	for _, iface := range n.Interfaces {
		a := iface.Address.Addr()
		if iface.Address.IsValid() && a.Is4() && (!best.IsValid() || best.Less(a)) {
			best = a
		}
	}
	return best
}

func (n *Network) Node(name string) *NodeCfg {
	for i := range n.Nodes {
		if n.Nodes[i].Name == name {
			return &n.Nodes[i]
		}
	}
	return nil
}

func (n *Network) NodeNames() []string {
	names := make([]string, 0, len(n.Nodes))
	for _, node := range n.Nodes {
		names = append(names, node.Name)
	}
	slices.Sort(names)
	return names
}

// Links returns the parsed topology, inferring it from shared subnets when no
// edges are configured.
func (n *Network) Links() ([]Link, error) {
	if len(n.Edges) == 0 {
		return n.InferLinks(), nil
	}
	links := make([]Link, 0, len(n.Edges))
	for _, e := range n.Edges {
		l, err := ParseLink(e)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	slices.SortFunc(links, compareLink)
	return slices.Compact(links), nil
}

// InferLinks pairs every two active interfaces of different nodes whose
// addresses share a subnet.
func (n *Network) InferLinks() []Link {
	bySubnet := make(map[netip.Prefix][]Endpoint)
	for _, node := range n.Nodes {
		for _, iface := range node.Interfaces {
			if !iface.Active() {
				continue
			}
			subnet := iface.Address.Masked()
			bySubnet[subnet] = append(bySubnet[subnet], Endpoint{node.Name, iface.Name})
		}
	}
	var links []Link
	for _, eps := range bySubnet {
		for i := range eps {
			for j := i + 1; j < len(eps); j++ {
				if eps[i].Node != eps[j].Node {
					links = append(links, MakeLink(eps[i], eps[j]))
				}
			}
		}
	}
	slices.SortFunc(links, compareLink)
	return slices.Compact(links)
}

func compareLink(a, b Link) int {
	return cmp.Or(CompareEndpoint(a.V1, b.V1), CompareEndpoint(a.V2, b.V2))
}

func (n *NodeCfg) Vrf(name string) *VrfCfg {
	for i := range n.Vrfs {
		if n.Vrfs[i].Name == name {
			return &n.Vrfs[i]
		}
	}
	return nil
}

func (n *NodeCfg) Interface(name string) *InterfaceCfg {
	for i := range n.Interfaces {
		if n.Interfaces[i].Name == name {
			return &n.Interfaces[i]
		}
	}
	return nil
}

// VrfInterfaces lists the interfaces of a VRF in configuration order.
func (n *NodeCfg) VrfInterfaces(vrf string) []*InterfaceCfg {
	var out []*InterfaceCfg
	for i := range n.Interfaces {
		if n.Interfaces[i].Vrf == vrf {
			out = append(out, &n.Interfaces[i])
		}
	}
	return out
}

// OwnsAddress finds the active interface of a VRF configured with addr.
func (n *NodeCfg) OwnsAddress(vrf string, addr netip.Addr) *InterfaceCfg {
	for _, iface := range n.VrfInterfaces(vrf) {
		if iface.Active() && iface.Address.Addr() == addr {
			return iface
		}
	}
	return nil
}

// ConnectedTo finds the active interface of a VRF whose subnet contains addr.
func (n *NodeCfg) ConnectedTo(vrf string, addr netip.Addr) *InterfaceCfg {
	for _, iface := range n.VrfInterfaces(vrf) {
		if iface.Active() && iface.Address.Masked().Contains(addr) {
			return iface
		}
	}
	return nil
}

// Distances resolves the node's admin distance overrides.
func (n *NodeCfg) Distances() (AdminDistances, error) {
	ad := make(AdminDistances, len(n.AdminDistances))
	for name, v := range n.AdminDistances {
		p, err := ParseProtocol(name)
		if err != nil {
			return nil, fmt.Errorf("node %s: admin_distances: %w", n.Name, err)
		}
		ad[p] = v
		// a family name covers all of its route types
		switch p {
		case ProtoOspf:
			ad[ProtoOspfIA], ad[ProtoOspfE1], ad[ProtoOspfE2] = v, v, v
		case ProtoIsisL2:
			if strings.ToLower(name) == "isis" {
				ad[ProtoIsisL1] = v
			}
		}
	}
	return ad.Merge(), nil
}

func (n *NodeCfg) Policy(name string) *RoutingPolicy {
	for i := range n.Policies {
		if n.Policies[i].Name == name {
			return &n.Policies[i]
		}
	}
	return nil
}
