package core

import (
	"github.com/encodeous/ribsim/policy"
	"github.com/encodeous/ribsim/state"
)

// Originate converts r, discovered by src, into a candidate route of target
// and runs it through the named policy in the export direction. An empty
// policy name permits everything. The returned route records src as its
// source protocol.
func Originate(src state.Protocol, r state.Route, target state.Protocol, p *policy.Set, name string, env *policy.Env) (state.Route, bool) {
	b := state.NewRoute(r.Prefix, target).
		Metric(r.Metric).
		Tag(r.Tag).
		SrcProtocol(src)
	if target.IsBgp() {
		b.Weight(state.LocalWeight).
			LocalPref(state.DefaultLocalPref).
			Origin(state.OriginIncomplete)
	}
	candidate := b.Build()
	if name == "" || p == nil {
		return candidate, true
	}
	e := policy.Env{}
	if env != nil {
		e = *env
	}
	e.Direction = state.DirectionOut
	res := p.Evaluate(name, candidate, &e)
	if !res.Permitted() {
		return state.Route{}, false
	}
	return res.Route, true
}

// redistribute runs redistribute statements over the previous main RIB. seed
// picks the target route type and starting metric for each source route.
// Routes of the target family itself are never redistributed, and a prefix
// is taken by the first statement that accepts it.
func (s *NodeRoutingState) redistribute(stmts []state.RedistributeCfg, family state.Family,
	seed func(state.RedistributeCfg, state.Route) (state.Protocol, uint32)) []state.Route {
	if len(stmts) == 0 {
		return nil
	}
	var out []state.Route
	for _, p := range s.main.Prefixes() {
		r := s.main.Best(p)[0]
		if r.Protocol.Family() == family {
			continue
		}
		for _, rd := range stmts {
			if !rd.Protocol.Covers(r.Protocol) {
				continue
			}
			target, metric := seed(rd, r)
			in := r.Builder().Metric(metric).Build()
			got, ok := Originate(r.Protocol, in, target, s.pol, rd.Policy, s.env(state.DirectionOut))
			if !ok {
				continue
			}
			out = append(out, got)
			break
		}
	}
	return out
}
