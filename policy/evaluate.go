package policy

import (
	"net/netip"
	"slices"

	"github.com/encodeous/ribsim/perf"
	"github.com/encodeous/ribsim/state"
)

// maxCallDepth guards nested evaluation; the compiler already rejects cycles.
const maxCallDepth = 64

// Env carries the ambient facts a policy may read.
type Env struct {
	Direction state.Direction
	Node      string
	Vrf       string
	LocalAs   uint32
	PeerAs    uint32
	// LocalAddress is the session source used by next-hop-self.
	LocalAddress netip.Addr
	PeerAddress  netip.Addr
	Interface    string
}

type Result struct {
	Verdict state.Action
	Route   state.Route
	// NextHopSet is true when an action chose the next hop explicitly.
	NextHopSet bool
}

func (r Result) Permitted() bool {
	return r.Verdict == state.ActionPermit
}

// frame is one activation of a policy on the evaluation stack.
type frame struct {
	p     *compiledPolicy
	entry int
	// action is the next set action of the current entry; -1 until the
	// entry's match predicate has been evaluated.
	action int
}

type machine struct {
	s          *Set
	env        *Env
	rb         *state.Builder
	nextHopSet bool
	depth      int
}

// Evaluate runs the named policy against r. An undefined policy permits r
// unchanged. The returned route carries every mutation applied before the
// verdict was reached.
func (s *Set) Evaluate(name string, r state.Route, env *Env) Result {
	perf.PolicyEvaluations.Add(1)
	p, ok := s.policies[name]
	if !ok {
		return Result{Verdict: state.ActionPermit, Route: r}
	}
	if env == nil {
		env = &Env{}
	}
	m := &machine{s: s, env: env, rb: r.Builder()}
	verdict := m.run(p)
	return Result{Verdict: verdict, Route: m.rb.Build(), NextHopSet: m.nextHopSet}
}

// run is the evaluation state machine. Entries are visited in sequence order;
// a call pushes a frame for the callee, whose permit resumes the caller at its
// next action and whose deny ends evaluation.
func (m *machine) run(root *compiledPolicy) state.Action {
	stack := []frame{{p: root, action: -1}}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if f.entry < 0 || f.entry >= len(f.p.entries) {
			if f.p.defaultAction == state.ActionDeny {
				return state.ActionDeny
			}
			stack = stack[:len(stack)-1]
			continue
		}
		e := &f.p.entries[f.entry]
		if f.action < 0 {
			if !m.matches(e.Matches) {
				f.entry++
				continue
			}
			if e.Continue != nil && f.p.next[f.entry] < 0 {
				return state.ActionDeny
			}
			if e.Action == state.ActionDeny && e.Continue == nil {
				return state.ActionDeny
			}
			f.action = 0
		}
		if f.action < len(e.Sets) {
			a := e.Sets[f.action]
			f.action++
			if a.Kind != state.CallPolicy {
				m.apply(a)
				continue
			}
			callee, ok := m.s.policies[a.Policy]
			if !ok {
				continue
			}
			if len(stack) >= maxCallDepth {
				return state.ActionDeny
			}
			stack = append(stack, frame{p: callee, action: -1})
			continue
		}
		if e.Continue != nil {
			f.entry = f.p.next[f.entry]
			f.action = -1
			continue
		}
		// terminal permit: return to the caller, if any
		stack = stack[:len(stack)-1]
	}
	return state.ActionPermit
}

func (m *machine) matches(clauses []state.Match) bool {
	for _, c := range clauses {
		if !m.match(c) {
			return false
		}
	}
	return true
}

func (m *machine) match(c state.Match) bool {
	r := m.rb.Peek()
	switch c.Kind {
	case state.MatchTag:
		return slices.Contains(c.Tags, r.Tag)
	case state.MatchMetric:
		return r.Metric == c.Metric
	case state.MatchPrefix:
		return slices.ContainsFunc(c.Prefixes, func(pr state.PrefixRange) bool { return pr.Contains(r.Prefix) })
	case state.MatchPrefixList:
		pl := m.s.prefixLists[c.List]
		return pl != nil && prefixListPermits(pl, r.Prefix)
	case state.MatchNextHopList:
		pl := m.s.prefixLists[c.List]
		if pl == nil || !r.NextHop.IsValid() {
			return false
		}
		return prefixListPermits(pl, netip.PrefixFrom(r.NextHop, r.NextHop.BitLen()))
	case state.MatchAsPathList:
		al := m.s.asPathLists[c.List]
		return al != nil && m.s.asPathListPermits(al, r.Bgp.AsPath)
	case state.MatchCommunityList:
		cl := m.s.communityLists[c.List]
		return cl != nil && m.s.communityListPermits(cl, r.Bgp.Communities)
	case state.MatchProtocol:
		return slices.ContainsFunc(c.Protocols, func(p state.Protocol) bool {
			return p.Covers(r.Protocol) || (r.SrcProtocol != state.ProtoUnset && p.Covers(r.SrcProtocol))
		})
	case state.MatchInterface:
		return slices.ContainsFunc(c.Interfaces, func(i string) bool {
			return i == m.env.Interface || i == r.NextHopInterface
		})
	case state.MatchPolicy:
		return m.matchPolicy(c.Policy)
	}
	return false
}

// matchPolicy evaluates a nested policy as a predicate on a scratch copy of
// the working route; its mutations are discarded.
func (m *machine) matchPolicy(name string) bool {
	p, ok := m.s.policies[name]
	if !ok || m.depth >= maxCallDepth {
		return false
	}
	sub := &machine{s: m.s, env: m.env, rb: m.rb.Clone(), depth: m.depth + 1}
	return sub.run(p) == state.ActionPermit
}

func (m *machine) apply(a state.SetAction) {
	rb := m.rb
	r := rb.Peek()
	switch a.Kind {
	case state.SetMetric:
		switch a.Mode {
		case state.MetricAdd:
			rb.Metric(state.AddMetric(r.Metric, a.Value))
		case state.MetricSubtract:
			rb.Metric(state.SubMetric(r.Metric, a.Value))
		default:
			rb.Metric(a.Value)
		}
	case state.SetLocalPref:
		rb.LocalPref(a.Value)
	case state.SetTag:
		rb.Tag(a.Value)
	case state.SetWeight:
		rb.Weight(a.Value)
	case state.SetNextHop:
		rb.NextHop(a.NextHop).NextHopInterface("")
		m.nextHopSet = true
	case state.SetNextHopSelf:
		// meaningful on export only
		if m.env.Direction == state.DirectionOut && m.env.LocalAddress.IsValid() {
			rb.NextHop(m.env.LocalAddress).NextHopInterface("")
			m.nextHopSet = true
		}
	case state.SetNextHopPeer:
		addr := m.env.PeerAddress
		if m.env.Direction == state.DirectionOut {
			addr = m.env.LocalAddress
		}
		if addr.IsValid() {
			rb.NextHop(addr).NextHopInterface("")
			m.nextHopSet = true
		}
	case state.SetCommunity:
		rb.Communities(a.Communities)
	case state.AddCommunity:
		rb.AddCommunities(a.Communities...)
	case state.DeleteCommunity:
		cl := m.s.communityLists[a.List]
		rb.DeleteCommunities(func(c state.Community) bool {
			if slices.Contains(a.Communities, c) {
				return true
			}
			return cl != nil && m.s.communityListSelects(cl, c)
		})
	case state.PrependAsPath:
		rb.PrependAsPath(a.Asns...)
	case state.ExcludeAsPath:
		rb.ExcludeAsPath(a.Asns...)
	case state.SetOrigin:
		rb.Origin(a.Origin)
	case state.SetMetricType:
		// only externals and IS-IS routes can be retyped
		external := r.Protocol == state.ProtoOspfE1 || r.Protocol == state.ProtoOspfE2 || r.Protocol.IsIsis()
		if external && a.MetricType.Family() == r.Protocol.Family() {
			rb.Protocol(a.MetricType)
		}
	}
}
