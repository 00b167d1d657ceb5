package state

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"slices"
)

var namePattern, _ = regexp.Compile("^[0-9a-z._-]+$")
var interfacePattern, _ = regexp.Compile("^[0-9A-Za-z._/-]+$")
var structurePattern, _ = regexp.Compile("^[0-9A-Za-z._-]+$")

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

func InterfaceNameValidator(s string) error {
	if !interfacePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid interface name, must match pattern %s", s, interfacePattern.String())
	}
	return nil
}

// StructureNameValidator checks names of policies and match lists.
func StructureNameValidator(s string) error {
	if !structurePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid structure name, must match pattern %s", s, structurePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

func uniqueNames[T any](kind string, items []T, name func(T) string, validate func(string) error) error {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		n := name(it)
		if err := validate(n); err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		if _, ok := seen[n]; ok {
			return fmt.Errorf("duplicate %s %s", kind, n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// ValidateNetwork reports every structural problem of an expanded network.
// Undefined policy or list references are not errors; they are reported as
// warnings when policies are compiled.
func ValidateNetwork(net *Network) error {
	var errs []error
	if err := uniqueNames("node", net.Nodes, func(n NodeCfg) string { return n.Name }, NameValidator); err != nil {
		errs = append(errs, err)
	}
	for i := range net.Nodes {
		if err := NodeValidator(&net.Nodes[i]); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", net.Nodes[i].Name, err))
		}
	}
	if err := TopologyValidator(net); err != nil {
		errs = append(errs, err)
	}
	if net.Settings.RoundBudget < 0 || net.Settings.Workers < 0 || net.Settings.MaxTopologyIterations < 0 {
		errs = append(errs, fmt.Errorf("settings must not be negative"))
	}
	return errors.Join(errs...)
}

func NodeValidator(node *NodeCfg) error {
	var errs []error
	if _, err := node.Distances(); err != nil {
		errs = append(errs, err)
	}
	if err := uniqueNames("interface", node.Interfaces, func(i InterfaceCfg) string { return i.Name }, InterfaceNameValidator); err != nil {
		errs = append(errs, err)
	}
	if err := uniqueNames("vrf", node.Vrfs, func(v VrfCfg) string { return v.Name }, NameValidator); err != nil {
		errs = append(errs, err)
	}
	for _, iface := range node.Interfaces {
		if node.Vrf(iface.Vrf) == nil {
			errs = append(errs, fmt.Errorf("interface %s: vrf %s not defined", iface.Name, iface.Vrf))
		}
		if iface.Address.IsValid() && iface.Address.Addr() == iface.Address.Masked().Addr() && iface.Address.Bits() < iface.Address.Addr().BitLen()-1 {
			errs = append(errs, fmt.Errorf("interface %s: address %s is a network address", iface.Name, iface.Address))
		}
	}
	if err := uniqueNames("policy", node.Policies, func(p RoutingPolicy) string { return p.Name }, StructureNameValidator); err != nil {
		errs = append(errs, err)
	}
	if err := uniqueNames("prefix-list", node.PrefixLists, func(p PrefixList) string { return p.Name }, StructureNameValidator); err != nil {
		errs = append(errs, err)
	}
	if err := uniqueNames("as-path-list", node.AsPathLists, func(p AsPathList) string { return p.Name }, StructureNameValidator); err != nil {
		errs = append(errs, err)
	}
	if err := uniqueNames("community-list", node.CommunityLists, func(p CommunityList) string { return p.Name }, StructureNameValidator); err != nil {
		errs = append(errs, err)
	}
	for _, pl := range node.PrefixLists {
		for _, line := range pl.Lines {
			if err := line.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("prefix-list %s: %w", pl.Name, err))
			}
		}
	}
	for _, pol := range node.Policies {
		if err := PolicyValidator(&pol); err != nil {
			errs = append(errs, err)
		}
	}
	for _, vrf := range node.Vrfs {
		if err := VrfValidator(node, &vrf); err != nil {
			errs = append(errs, fmt.Errorf("vrf %s: %w", vrf.Name, err))
		}
	}
	return errors.Join(errs...)
}

// PolicyValidator checks sequence numbers and per-kind required fields. Continue
// targets are checked by the policy compiler since they are recoverable.
func PolicyValidator(p *RoutingPolicy) error {
	seqs := make([]uint32, 0, len(p.Entries))
	for _, e := range p.Entries {
		if slices.Contains(seqs, e.Seq) {
			return fmt.Errorf("policy %s: duplicate sequence number %d", p.Name, e.Seq)
		}
		seqs = append(seqs, e.Seq)
		for _, m := range e.Matches {
			if err := matchValidator(m); err != nil {
				return fmt.Errorf("policy %s seq %d: %w", p.Name, e.Seq, err)
			}
		}
		for _, s := range e.Sets {
			if err := setValidator(s); err != nil {
				return fmt.Errorf("policy %s seq %d: %w", p.Name, e.Seq, err)
			}
		}
	}
	return nil
}

func matchValidator(m Match) error {
	switch m.Kind {
	case MatchTag:
		if len(m.Tags) == 0 {
			return fmt.Errorf("match tag needs at least one tag")
		}
	case MatchPrefixList, MatchNextHopList, MatchAsPathList, MatchCommunityList:
		if m.List == "" {
			return fmt.Errorf("match %s needs a list name", m.Kind)
		}
	case MatchPrefix:
		if len(m.Prefixes) == 0 {
			return fmt.Errorf("match prefix needs at least one prefix range")
		}
		for _, r := range m.Prefixes {
			if err := r.Validate(); err != nil {
				return err
			}
		}
	case MatchProtocol:
		if len(m.Protocols) == 0 {
			return fmt.Errorf("match protocol needs at least one protocol")
		}
	case MatchInterface:
		if len(m.Interfaces) == 0 {
			return fmt.Errorf("match interface needs at least one interface")
		}
	case MatchPolicy:
		if m.Policy == "" {
			return fmt.Errorf("match policy needs a policy name")
		}
	case MatchMetric:
	default:
		return fmt.Errorf("unknown match kind %d", m.Kind)
	}
	return nil
}

func setValidator(s SetAction) error {
	switch s.Kind {
	case SetNextHop:
		if !s.NextHop.IsValid() {
			return fmt.Errorf("set next-hop needs an address")
		}
	case SetCommunity, AddCommunity:
		if s.Kind == AddCommunity && len(s.Communities) == 0 {
			return fmt.Errorf("add community needs at least one community")
		}
	case DeleteCommunity:
		if s.List == "" && len(s.Communities) == 0 {
			return fmt.Errorf("delete community needs a list or communities")
		}
	case PrependAsPath, ExcludeAsPath:
		if len(s.Asns) == 0 {
			return fmt.Errorf("%s needs at least one asn", s.Kind)
		}
	case SetMetricType:
		switch s.MetricType {
		case ProtoOspfE1, ProtoOspfE2, ProtoIsisL1, ProtoIsisL2:
		default:
			return fmt.Errorf("set metric-type must be ospf-e1, ospf-e2, isis-l1 or isis-l2")
		}
	case CallPolicy:
		if s.Policy == "" {
			return fmt.Errorf("call needs a policy name")
		}
	case SetMetric, SetLocalPref, SetTag, SetWeight, SetNextHopSelf, SetNextHopPeer, SetOrigin:
	default:
		return fmt.Errorf("unknown set kind %d", s.Kind)
	}
	return nil
}

func VrfValidator(node *NodeCfg, vrf *VrfCfg) error {
	var errs []error
	for _, st := range vrf.StaticRoutes {
		if !st.Prefix.IsValid() {
			errs = append(errs, fmt.Errorf("static route without prefix"))
			continue
		}
		if !st.Discard && !st.NextHop.IsValid() && st.Interface == "" {
			errs = append(errs, fmt.Errorf("static route %s needs a next hop, an interface or discard", st.Prefix))
		}
		if st.Interface != "" {
			iface := node.Interface(st.Interface)
			if iface == nil || iface.Vrf != vrf.Name {
				errs = append(errs, fmt.Errorf("static route %s: interface %s not in vrf", st.Prefix, st.Interface))
			}
		}
	}
	for _, agg := range vrf.Aggregates {
		if !agg.Prefix.IsValid() {
			errs = append(errs, fmt.Errorf("aggregate without prefix"))
		}
	}
	if vrf.Bgp != nil {
		if err := bgpValidator(node, vrf); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range redistributions(vrf) {
		if r.Protocol == ProtoUnset {
			errs = append(errs, fmt.Errorf("redistribution without protocol"))
		}
	}
	return errors.Join(errs...)
}

func redistributions(vrf *VrfCfg) []RedistributeCfg {
	var out []RedistributeCfg
	if vrf.Bgp != nil {
		out = append(out, vrf.Bgp.Redistribute...)
	}
	if vrf.Ospf != nil {
		out = append(out, vrf.Ospf.Redistribute...)
	}
	if vrf.Isis != nil {
		out = append(out, vrf.Isis.Redistribute...)
	}
	return out
}

func bgpValidator(node *NodeCfg, vrf *VrfCfg) error {
	bgp := vrf.Bgp
	if bgp.As == 0 {
		return fmt.Errorf("bgp: as must be set")
	}
	if !bgp.RouterId.IsValid() {
		return fmt.Errorf("bgp: router id could not be determined")
	}
	peers := make(map[netip.Addr]struct{})
	for _, nb := range bgp.Neighbors {
		if !nb.PeerIp.IsValid() {
			return fmt.Errorf("bgp: neighbor without peer ip")
		}
		if _, ok := peers[nb.PeerIp]; ok {
			return fmt.Errorf("bgp: duplicate neighbor %s", nb.PeerIp)
		}
		peers[nb.PeerIp] = struct{}{}
		if nb.RemoteAs == 0 {
			return fmt.Errorf("bgp: neighbor %s: remote_as must be set", nb.PeerIp)
		}
		if nb.UpdateSource != "" {
			iface := node.Interface(nb.UpdateSource)
			if iface == nil || iface.Vrf != vrf.Name {
				return fmt.Errorf("bgp: neighbor %s: update source %s not in vrf", nb.PeerIp, nb.UpdateSource)
			}
		}
	}
	return nil
}

// TopologyValidator checks that every edge references a configured interface.
func TopologyValidator(net *Network) error {
	links, err := net.Links()
	if err != nil {
		return err
	}
	for _, l := range links {
		for _, ep := range []Endpoint{l.V1, l.V2} {
			node := net.Node(ep.Node)
			if node == nil {
				return fmt.Errorf("edge %s -- %s: node %s not defined", l.V1, l.V2, ep.Node)
			}
			if node.Interface(ep.Interface) == nil {
				return fmt.Errorf("edge %s -- %s: interface %s not defined", l.V1, l.V2, ep)
			}
		}
	}
	return nil
}
