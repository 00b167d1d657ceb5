package policy

import (
	"cmp"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/encodeous/ribsim/state"
	"github.com/jellydator/ttlcache/v3"
)

// StructureError is a policy defect that makes evaluation ill-defined.
type StructureError struct {
	Node   string
	Policy string
	Seq    uint32
	Reason string
}

func (e *StructureError) Error() string {
	if e.Seq != 0 {
		return fmt.Sprintf("node %s: policy %s seq %d: %s", e.Node, e.Policy, e.Seq, e.Reason)
	}
	return fmt.Sprintf("node %s: policy %s: %s", e.Node, e.Policy, e.Reason)
}

type compiledPolicy struct {
	name          string
	defaultAction state.Action
	entries       []state.PolicyEntry
	// next is the entry index evaluation resumes at after a continue, or -1
	// when the continue target is unusable.
	next []int
}

// Set holds the compiled policies and match lists of one node. It is immutable
// after Compile, apart from its own regex cache, and safe for concurrent
// evaluation.
type Set struct {
	node           string
	policies       map[string]*compiledPolicy
	prefixLists    map[string]*state.PrefixList
	asPathLists    map[string]*state.AsPathList
	communityLists map[string]*state.CommunityList
	declared       map[string]struct{}
	regexes        *ttlcache.Cache[string, *regexp.Regexp]
}

func indexBy[T any](items []T, name func(*T) string) map[string]*T {
	out := make(map[string]*T, len(items))
	for i := range items {
		out[name(&items[i])] = &items[i]
	}
	return out
}

// Compile indexes the node's policies, checks the call graph for cycles and
// reports undefined references. Call cycles are always fatal; an unusable
// continue target is fatal only when strict is set and otherwise makes the
// entry deny.
func Compile(node *state.NodeCfg, strict bool, diags *state.Diagnostics) (*Set, error) {
	s := &Set{
		node:           node.Name,
		policies:       make(map[string]*compiledPolicy, len(node.Policies)),
		prefixLists:    indexBy(node.PrefixLists, func(p *state.PrefixList) string { return p.Name }),
		asPathLists:    indexBy(node.AsPathLists, func(p *state.AsPathList) string { return p.Name }),
		communityLists: indexBy(node.CommunityLists, func(p *state.CommunityList) string { return p.Name }),
		declared:       make(map[string]struct{}, len(node.Policies)),
		regexes:        newRegexCache(),
	}
	for _, p := range node.Policies {
		s.declared[p.Name] = struct{}{}
	}
	if diags == nil {
		diags = state.NewDiagnostics()
	}
	var errs []error
	for _, p := range node.Policies {
		cp, err := s.compilePolicy(p, strict, diags)
		if err != nil {
			errs = append(errs, err)
		}
		s.policies[p.Name] = cp
	}
	s.checkRegexes(diags)
	if err := s.checkCalls(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

func (s *Set) compilePolicy(p state.RoutingPolicy, strict bool, diags *state.Diagnostics) (*compiledPolicy, error) {
	cp := &compiledPolicy{
		name:          p.Name,
		defaultAction: p.DefaultAction,
		entries:       slices.Clone(p.Entries),
	}
	slices.SortFunc(cp.entries, func(a, b state.PolicyEntry) int { return cmp.Compare(a.Seq, b.Seq) })
	cp.next = make([]int, len(cp.entries))

	var errs []error
	for i, e := range cp.entries {
		cp.next[i] = i + 1
		if e.Continue != nil && e.Continue.Target != 0 {
			idx, found := slices.BinarySearchFunc(cp.entries, e.Continue.Target, func(pe state.PolicyEntry, t uint32) int {
				return cmp.Compare(pe.Seq, t)
			})
			if !found || e.Continue.Target <= e.Seq {
				reason := fmt.Sprintf("continue target %d does not name a later entry", e.Continue.Target)
				if strict {
					errs = append(errs, &StructureError{Node: s.node, Policy: p.Name, Seq: e.Seq, Reason: reason})
				}
				diags.Add(state.Warning{
					Kind:    state.WarnBadContinue,
					Node:    s.node,
					Policy:  p.Name,
					Seq:     e.Seq,
					Message: reason + ", entry denies",
				})
				cp.next[i] = -1
			} else {
				cp.next[i] = idx
			}
		}
		for _, m := range e.Matches {
			if ref, ok := s.undefinedMatchRef(m); !ok {
				diags.Add(state.Warning{
					Kind:    state.WarnUndefinedReference,
					Node:    s.node,
					Policy:  p.Name,
					Seq:     e.Seq,
					Message: fmt.Sprintf("match %s references undefined %s, never matches", m.Kind, ref),
				})
			}
		}
		for _, a := range e.Sets {
			switch {
			case a.Kind == state.CallPolicy && !s.definedPolicy(a.Policy):
				diags.Add(state.Warning{
					Kind:    state.WarnUndefinedPolicy,
					Node:    s.node,
					Policy:  p.Name,
					Seq:     e.Seq,
					Message: fmt.Sprintf("call to undefined policy %s permits without changes", a.Policy),
				})
			case a.Kind == state.DeleteCommunity && a.List != "" && s.communityLists[a.List] == nil:
				diags.Add(state.Warning{
					Kind:    state.WarnUndefinedReference,
					Node:    s.node,
					Policy:  p.Name,
					Seq:     e.Seq,
					Message: fmt.Sprintf("delete community references undefined community-list %s, deletes nothing", a.List),
				})
			}
		}
	}
	return cp, errors.Join(errs...)
}

// definedPolicy also sees policies declared later in the configuration.
func (s *Set) definedPolicy(name string) bool {
	_, ok := s.declared[name]
	return ok
}

// undefinedMatchRef returns the missing structure a clause refers to.
func (s *Set) undefinedMatchRef(m state.Match) (string, bool) {
	switch m.Kind {
	case state.MatchPrefixList, state.MatchNextHopList:
		if s.prefixLists[m.List] == nil {
			return "prefix-list " + m.List, false
		}
	case state.MatchAsPathList:
		if s.asPathLists[m.List] == nil {
			return "as-path-list " + m.List, false
		}
	case state.MatchCommunityList:
		if s.communityLists[m.List] == nil {
			return "community-list " + m.List, false
		}
	case state.MatchPolicy:
		if !s.definedPolicy(m.Policy) {
			return "policy " + m.Policy, false
		}
	}
	return "", true
}

func (s *Set) checkRegexes(diags *state.Diagnostics) {
	report := func(list string, err error) {
		diags.Add(state.Warning{
			Kind:    state.WarnInvalidRegex,
			Node:    s.node,
			Message: fmt.Sprintf("list %s: %v, line never matches", list, err),
		})
	}
	for _, name := range sortedKeys(s.asPathLists) {
		for _, l := range s.asPathLists[name].Lines {
			if _, err := s.regex(l.Regex); err != nil {
				report(name, err)
			}
		}
	}
	for _, name := range sortedKeys(s.communityLists) {
		for _, l := range s.communityLists[name].Lines {
			if l.Regex == "" {
				continue
			}
			if _, err := s.regex(l.Regex); err != nil {
				report(name, err)
			}
		}
	}
}

// callees lists the defined policies p invokes, through call actions or
// nested policy matches.
func (s *Set) callees(p *compiledPolicy) []string {
	var out []string
	for _, e := range p.entries {
		for _, m := range e.Matches {
			if m.Kind == state.MatchPolicy && s.policies[m.Policy] != nil {
				out = append(out, m.Policy)
			}
		}
		for _, a := range e.Sets {
			if a.Kind == state.CallPolicy && s.policies[a.Policy] != nil {
				out = append(out, a.Policy)
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// checkCalls rejects cycles in the call graph by topological sorting over arena
// indices: policies with no remaining callees are peeled off until nothing is
// left or every remaining policy still depends on another.
func (s *Set) checkCalls() error {
	names := sortedKeys(s.policies)
	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}
	deps := make([][]int, len(names))
	callers := make([][]int, len(names))
	for i, n := range names {
		for _, c := range s.callees(s.policies[n]) {
			deps[i] = append(deps[i], index[c])
			callers[index[c]] = append(callers[index[c]], i)
		}
	}
	remaining := make([]int, len(names))
	free := make([]int, 0, len(names))
	for i := range names {
		remaining[i] = len(deps[i])
		if remaining[i] == 0 {
			free = append(free, i)
		}
	}
	done := 0
	for len(free) > 0 {
		cur := free[len(free)-1]
		free = free[:len(free)-1]
		done++
		for _, caller := range callers[cur] {
			remaining[caller]--
			if remaining[caller] == 0 {
				free = append(free, caller)
			}
		}
	}
	if done == len(names) {
		return nil
	}
	cycle := make([]string, 0)
	for i, n := range names {
		if remaining[i] > 0 {
			cycle = append(cycle, n)
		}
	}
	return &StructureError{
		Node:   s.node,
		Policy: cycle[0],
		Reason: fmt.Sprintf("call cycle detected among policies [%s]", strings.Join(cycle, ", ")),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Has reports whether a policy is defined.
func (s *Set) Has(name string) bool {
	_, ok := s.policies[name]
	return ok
}

func (s *Set) Names() []string {
	return sortedKeys(s.policies)
}
