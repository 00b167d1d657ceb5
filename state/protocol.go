package state

import (
	"fmt"
	"strings"
)

// Protocol identifies the source of a route. OSPF and IS-IS route types are
// distinct protocols so that their preference order is expressed by the enum.
type Protocol uint8

const (
	ProtoUnset Protocol = iota
	ProtoConnected
	ProtoStatic
	ProtoAggregate
	ProtoOspf
	ProtoOspfIA
	ProtoOspfE1
	ProtoOspfE2
	ProtoIsisL1
	ProtoIsisL2
	ProtoBgp
	ProtoIbgp
)

var protocolNames = map[Protocol]string{
	ProtoUnset:     "unset",
	ProtoConnected: "connected",
	ProtoStatic:    "static",
	ProtoAggregate: "aggregate",
	ProtoOspf:      "ospf",
	ProtoOspfIA:    "ospf-ia",
	ProtoOspfE1:    "ospf-e1",
	ProtoOspfE2:    "ospf-e2",
	ProtoIsisL1:    "isis-l1",
	ProtoIsisL2:    "isis-l2",
	ProtoBgp:       "bgp",
	ProtoIbgp:      "ibgp",
}

// protocol aliases accepted in configuration
var protocolAliases = map[string]Protocol{
	"direct":       ProtoConnected,
	"ebgp":         ProtoBgp,
	"ospf-intra":   ProtoOspf,
	"ospf-inter":   ProtoOspfIA,
	"isis-level-1": ProtoIsisL1,
	"isis-level-2": ProtoIsisL2,
	"isis":         ProtoIsisL2,
}

func (p Protocol) String() string {
	if s, ok := protocolNames[p]; ok {
		return s
	}
	return fmt.Sprintf("protocol(%d)", uint8(p))
}

func ParseProtocol(s string) (Protocol, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range protocolNames {
		if name == s && p != ProtoUnset {
			return p, nil
		}
	}
	if p, ok := protocolAliases[s]; ok {
		return p, nil
	}
	return ProtoUnset, fmt.Errorf("unknown protocol %q", s)
}

func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Protocol) UnmarshalText(text []byte) error {
	v, err := ParseProtocol(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Family groups protocols whose routes are compared by the same metric rules.
type Family uint8

const (
	FamilyNone Family = iota
	FamilyConnected
	FamilyStatic
	FamilyAggregate
	FamilyOspf
	FamilyIsis
	FamilyBgp
)

func (p Protocol) Family() Family {
	switch p {
	case ProtoConnected:
		return FamilyConnected
	case ProtoStatic:
		return FamilyStatic
	case ProtoAggregate:
		return FamilyAggregate
	case ProtoOspf, ProtoOspfIA, ProtoOspfE1, ProtoOspfE2:
		return FamilyOspf
	case ProtoIsisL1, ProtoIsisL2:
		return FamilyIsis
	case ProtoBgp, ProtoIbgp:
		return FamilyBgp
	}
	return FamilyNone
}

// Covers reports whether a configured protocol selects routes of o. The base
// OSPF and BGP protocols and either IS-IS level select their whole family.
func (p Protocol) Covers(o Protocol) bool {
	switch {
	case p == o:
		return true
	case p == ProtoOspf:
		return o.IsOspf()
	case p == ProtoBgp:
		return o.IsBgp()
	case p.IsIsis():
		return o.IsIsis()
	}
	return false
}

func (p Protocol) IsBgp() bool {
	return p.Family() == FamilyBgp
}

func (p Protocol) IsOspf() bool {
	return p.Family() == FamilyOspf
}

func (p Protocol) IsIsis() bool {
	return p.Family() == FamilyIsis
}

// AdminDistances maps a protocol to its administrative distance. A node may
// override any entry; missing entries fall back to DefaultAdminDistances.
type AdminDistances map[Protocol]uint32

var DefaultAdminDistances = AdminDistances{
	ProtoConnected: 0,
	ProtoStatic:    1,
	ProtoBgp:       20,
	ProtoOspf:      110,
	ProtoOspfIA:    110,
	ProtoOspfE1:    110,
	ProtoOspfE2:    110,
	ProtoIsisL1:    115,
	ProtoIsisL2:    115,
	ProtoIbgp:      200,
	ProtoAggregate: 200,
}

// Of returns the administrative distance for p.
func (a AdminDistances) Of(p Protocol) uint32 {
	if v, ok := a[p]; ok {
		return v
	}
	if v, ok := DefaultAdminDistances[p]; ok {
		return v
	}
	return 255
}

// Merge returns a copy of the defaults overlaid with a.
func (a AdminDistances) Merge() AdminDistances {
	out := make(AdminDistances, len(DefaultAdminDistances))
	for k, v := range DefaultAdminDistances {
		out[k] = v
	}
	for k, v := range a {
		out[k] = v
	}
	return out
}
