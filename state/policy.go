package state

import (
	"fmt"
	"net/netip"
	"strings"
)

type Action uint8

const (
	ActionDeny Action = iota
	ActionPermit
)

func (a Action) String() string {
	if a == ActionPermit {
		return "permit"
	}
	return "deny"
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "permit", "accept":
		*a = ActionPermit
	case "deny", "reject":
		*a = ActionDeny
	default:
		return fmt.Errorf("unknown action %q", text)
	}
	return nil
}

// Direction tells the evaluator whether a route is being imported from or
// exported to a neighbour.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

func (d Direction) String() string {
	if d == DirectionOut {
		return "out"
	}
	return "in"
}

type MatchKind uint8

const (
	MatchTag MatchKind = iota + 1
	MatchPrefixList
	MatchPrefix
	MatchNextHopList
	MatchAsPathList
	MatchCommunityList
	MatchProtocol
	MatchInterface
	MatchPolicy
	MatchMetric
)

var matchKindNames = map[MatchKind]string{
	MatchTag:           "tag",
	MatchPrefixList:    "prefix_list",
	MatchPrefix:        "prefix",
	MatchNextHopList:   "next_hop_list",
	MatchAsPathList:    "as_path_list",
	MatchCommunityList: "community_list",
	MatchProtocol:      "protocol",
	MatchInterface:     "interface",
	MatchPolicy:        "policy",
	MatchMetric:        "metric",
}

func (k MatchKind) String() string {
	if s, ok := matchKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("match(%d)", uint8(k))
}

func (k MatchKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *MatchKind) UnmarshalText(text []byte) error {
	for kind, name := range matchKindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown match kind %q", text)
}

// Match is one clause of an entry's match predicate. Clauses of an entry are
// conjoined; the values inside one clause are alternatives.
type Match struct {
	Kind       MatchKind     `yaml:"kind"`
	Tags       []uint32      `yaml:"tags,omitempty"`
	List       string        `yaml:"list,omitempty"`
	Prefixes   []PrefixRange `yaml:"prefixes,omitempty"`
	Protocols  []Protocol    `yaml:"protocols,omitempty"`
	Interfaces []string      `yaml:"interfaces,omitempty"`
	Policy     string        `yaml:"policy,omitempty"`
	Metric     uint32        `yaml:"metric,omitempty"`
}

type SetKind uint8

const (
	SetMetric SetKind = iota + 1
	SetLocalPref
	SetTag
	SetWeight
	SetNextHop
	SetNextHopSelf
	SetNextHopPeer
	SetCommunity
	AddCommunity
	DeleteCommunity
	PrependAsPath
	ExcludeAsPath
	SetOrigin
	SetMetricType
	CallPolicy
)

var setKindNames = map[SetKind]string{
	SetMetric:       "set_metric",
	SetLocalPref:    "set_local_pref",
	SetTag:          "set_tag",
	SetWeight:       "set_weight",
	SetNextHop:      "set_next_hop",
	SetNextHopSelf:  "set_next_hop_self",
	SetNextHopPeer:  "set_next_hop_peer",
	SetCommunity:    "set_community",
	AddCommunity:    "add_community",
	DeleteCommunity: "delete_community",
	PrependAsPath:   "prepend_as_path",
	ExcludeAsPath:   "exclude_as_path",
	SetOrigin:       "set_origin",
	SetMetricType:   "set_metric_type",
	CallPolicy:      "call",
}

func (k SetKind) String() string {
	if s, ok := setKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("set(%d)", uint8(k))
}

func (k SetKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *SetKind) UnmarshalText(text []byte) error {
	for kind, name := range setKindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown set kind %q", text)
}

type MetricMode uint8

const (
	MetricAssign MetricMode = iota
	MetricAdd
	MetricSubtract
)

func (m MetricMode) String() string {
	switch m {
	case MetricAdd:
		return "add"
	case MetricSubtract:
		return "subtract"
	}
	return "assign"
}

func (m MetricMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MetricMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "assign", "":
		*m = MetricAssign
	case "add", "+":
		*m = MetricAdd
	case "subtract", "-":
		*m = MetricSubtract
	default:
		return fmt.Errorf("unknown metric mode %q", text)
	}
	return nil
}

// SetAction is one attribute mutation. CallPolicy is positioned in the action
// list like any other action so that pre- and post-call sets keep their order.
type SetAction struct {
	Kind        SetKind     `yaml:"kind"`
	Value       uint32      `yaml:"value,omitempty"`
	Mode        MetricMode  `yaml:"mode,omitempty"`
	NextHop     netip.Addr  `yaml:"next_hop,omitempty"`
	Communities []Community `yaml:"communities,omitempty"`
	List        string      `yaml:"list,omitempty"`
	Asns        []uint32    `yaml:"asns,omitempty"`
	Origin      OriginType  `yaml:"origin,omitempty"`
	MetricType  Protocol    `yaml:"metric_type,omitempty"`
	Policy      string      `yaml:"policy,omitempty"`
}

// Continue resumes evaluation at Target, or at the next entry when Target is 0.
type Continue struct {
	Target uint32 `yaml:"target,omitempty"`
}

type PolicyEntry struct {
	Seq      uint32      `yaml:"seq"`
	Action   Action      `yaml:"action"`
	Matches  []Match     `yaml:"match,omitempty"`
	Sets     []SetAction `yaml:"set,omitempty"`
	Continue *Continue   `yaml:"continue,omitempty"`
}

// RoutingPolicy is an ordered list of entries. Falling off the end yields
// DefaultAction, which is deny unless configured.
type RoutingPolicy struct {
	Name          string        `yaml:"name"`
	DefaultAction Action        `yaml:"default_action,omitempty"`
	Entries       []PolicyEntry `yaml:"entries"`
}
