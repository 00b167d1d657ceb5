package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/encodeous/ribsim/perf"
	"github.com/encodeous/ribsim/policy"
	"github.com/encodeous/ribsim/rib"
	"github.com/encodeous/ribsim/state"
	"golang.org/x/sync/errgroup"
)

// Engine computes the converged routing state of a network. The network must
// already be expanded, as state.ParseNetwork does. An Engine holds no run
// state, so Run and Resume may be called repeatedly.
type Engine struct {
	net     *state.Network
	log     *slog.Logger
	topo    *Topology
	igp     []Edge
	nodes   []nodeVrfCfg
	pols    map[string]*policy.Set
	diags   []state.Warning
	workers int
	budget  int
	maxTopo int
}

type nodeVrfCfg struct {
	node *state.NodeCfg
	vrf  *state.VrfCfg
	ad   state.AdminDistances
}

// RoundStats records one round of a fixpoint phase.
type RoundStats struct {
	Phase   string
	Round   int
	Dirty   int
	Changed int
}

type Result struct {
	DataPlane *DataPlane
	// Warnings are sorted and free of duplicates.
	Warnings []state.Warning
	// Rounds counts rounds over all phases.
	Rounds   int
	Trace    []RoundStats
	Sessions []Edge
	Snapshot *Snapshot
}

// NewEngine compiles every node's policies and derives the IGP adjacencies.
// A nil logger discards all output.
func NewEngine(net *state.Network, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	topo, err := NewTopology(net)
	if err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	e := &Engine{
		net:     net,
		log:     log,
		topo:    topo,
		pols:    make(map[string]*policy.Set, len(net.Nodes)),
		workers: net.Settings.Workers,
		budget:  net.Settings.RoundBudget,
		maxTopo: net.Settings.MaxTopologyIterations,
	}
	diags := state.NewDiagnostics()
	var errs []error
	for _, name := range net.NodeNames() {
		node := net.Node(name)
		pol, err := policy.Compile(node, net.Settings.StrictPolicies, diags)
		if err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", name, err))
			continue
		}
		ad, err := node.Distances()
		if err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", name, err))
			continue
		}
		e.pols[name] = pol
		vrfs := make([]*state.VrfCfg, 0, len(node.Vrfs))
		for i := range node.Vrfs {
			vrfs = append(vrfs, &node.Vrfs[i])
		}
		slices.SortFunc(vrfs, func(a, b *state.VrfCfg) int { return strings.Compare(a.Name, b.Name) })
		for _, vrf := range vrfs {
			checkPolicyRefs(node, vrf, pol, diags)
			e.nodes = append(e.nodes, nodeVrfCfg{node: node, vrf: vrf, ad: ad})
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	e.diags = diags.Warnings()
	e.igp = topo.IgpEdges(net)
	if e.workers <= 0 {
		e.workers = runtime.GOMAXPROCS(0)
	}
	if e.maxTopo <= 0 {
		e.maxTopo = state.DefaultTopologyIters
	}
	if e.budget <= 0 {
		e.budget = max(state.MinRoundBudget, len(e.nodes)*protocolCount(net)*state.RoundsPerUnit)
	}
	return e, nil
}

// checkPolicyRefs warns about policy names used by protocol configuration
// that the node does not define. Such references permit everything.
func checkPolicyRefs(node *state.NodeCfg, vrf *state.VrfCfg, pol *policy.Set, diags *state.Diagnostics) {
	ref := func(name, where string) {
		if name == "" || pol.Has(name) {
			return
		}
		diags.Add(state.Warning{
			Kind:    state.WarnUndefinedPolicy,
			Node:    node.Name,
			Vrf:     vrf.Name,
			Policy:  name,
			Message: fmt.Sprintf("%s references undefined policy %q, treating it as permit-all", where, name),
		})
	}
	var redist []state.RedistributeCfg
	if vrf.Bgp != nil {
		for _, nb := range vrf.Bgp.Neighbors {
			ref(nb.ImportPolicy, "bgp neighbor "+nb.PeerIp.String()+" import")
			ref(nb.ExportPolicy, "bgp neighbor "+nb.PeerIp.String()+" export")
		}
		redist = append(redist, vrf.Bgp.Redistribute...)
	}
	if vrf.Ospf != nil {
		ref(vrf.Ospf.ImportPolicy, "ospf import")
		redist = append(redist, vrf.Ospf.Redistribute...)
	}
	if vrf.Isis != nil {
		redist = append(redist, vrf.Isis.Redistribute...)
	}
	for _, rd := range redist {
		ref(rd.Policy, "redistribution of "+rd.Protocol.String())
	}
	for _, a := range vrf.Aggregates {
		ref(a.SuppressPolicy, "aggregate "+a.Prefix.String())
	}
}

// protocolCount is the number of route sources in use: connected and static
// count as one, plus each dynamic protocol configured anywhere.
func protocolCount(net *state.Network) int {
	var ospf, isis, bgp bool
	for _, node := range net.Nodes {
		for _, vrf := range node.Vrfs {
			ospf = ospf || vrf.Ospf != nil
			isis = isis || vrf.Isis != nil
			bgp = bgp || vrf.Bgp != nil
		}
	}
	n := 1
	for _, on := range []bool{ospf, isis, bgp} {
		if on {
			n++
		}
	}
	return n
}

// Warnings returns the diagnostics raised while compiling policies.
func (e *Engine) Warnings() []state.Warning {
	return slices.Clone(e.diags)
}

// Policies returns the compiled policies of a node.
func (e *Engine) Policies(node string) *policy.Set {
	return e.pols[node]
}

// computation is the mutable state of one Run or Resume.
type computation struct {
	e        *Engine
	states   []*NodeRoutingState
	sessions []Edge
	exports  *exportTable
	rounds   int
	trace    []RoundStats
}

// Run computes the data plane from scratch: an IGP fixpoint, then BGP
// fixpoints until the set of established sessions stops changing.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	c := &computation{e: e, exports: &exportTable{}}
	for _, n := range e.nodes {
		c.states = append(c.states, newNodeRoutingState(n.node, n.vrf, e.pols[n.node.Name], n.ad))
	}
	c.setSessions(nil)
	if err := c.fixpoint(ctx, "igp"); err != nil {
		return nil, err
	}
	return c.converge(ctx)
}

// Resume continues from a snapshot taken by this engine. Resuming a converged
// snapshot finishes in a single round without changing anything.
func (e *Engine) Resume(ctx context.Context, snap *Snapshot) (*Result, error) {
	if snap == nil {
		return nil, errors.New("resume: nil snapshot")
	}
	c := &computation{e: e, exports: snap.exports, sessions: slices.Clone(snap.sessions), rounds: snap.Round}
	for _, n := range e.nodes {
		id := NodeVrf{n.node.Name, n.vrf.Name}
		s, ok := snap.states[id]
		if !ok {
			return nil, fmt.Errorf("resume: snapshot has no state for %s", id)
		}
		c.states = append(c.states, s.clone())
	}
	c.setSessions(c.sessions)
	if err := c.fixpoint(ctx, "resume"); err != nil {
		return nil, err
	}
	return c.converge(ctx)
}

func (c *computation) converge(ctx context.Context) (*Result, error) {
	e := c.e
	var down []SessionDown
	for i := 1; ; i++ {
		sessions, sd := e.topo.BgpSessions(e.net, c.mains())
		if slices.Equal(sessions, c.sessions) {
			down = sd
			break
		}
		if i > e.maxTopo {
			return nil, &NonConvergenceError{Phase: "bgp-topology", Rounds: c.rounds}
		}
		e.Log(TopologyChanged, "bgp sessions changed", "iteration", i, "sessions", len(sessions))
		c.setSessions(sessions)
		if err := c.fixpoint(ctx, fmt.Sprintf("bgp-%d", i)); err != nil {
			return nil, err
		}
	}

	diags := state.NewDiagnostics()
	for _, w := range e.diags {
		diags.Add(w)
	}
	for _, d := range down {
		if diags.Add(d.Warning()) {
			e.Log(DiagnosticRaised, "bgp session down", "node", d.Local, "peer", d.Peer, "reason", d.Reason)
		}
	}
	for _, s := range c.states {
		for _, w := range s.unresolvedStatics() {
			if diags.Add(w) {
				e.Log(DiagnosticRaised, w.Message, "node", s.id)
			}
		}
	}

	return &Result{
		DataPlane: c.dataPlane(),
		Warnings:  diags.Warnings(),
		Rounds:    c.rounds,
		Trace:     c.trace,
		Sessions:  slices.Clone(c.sessions),
		Snapshot:  newSnapshot(c.rounds, c.states, c.sessions, c.exports),
	}, nil
}

func (c *computation) mains() map[NodeVrf]*rib.Rib {
	out := make(map[NodeVrf]*rib.Rib, len(c.states))
	for _, s := range c.states {
		out[s.id] = s.main
	}
	return out
}

// setSessions installs the IGP adjacencies plus the given BGP sessions as the
// in and out edges of every state.
func (c *computation) setSessions(sessions []Edge) {
	old := make(map[Edge]struct{}, len(c.sessions))
	for _, s := range c.sessions {
		old[s] = struct{}{}
	}
	for _, s := range sessions {
		if _, ok := old[s]; ok {
			delete(old, s)
			continue
		}
		c.e.Log(SessionUp, s.String())
	}
	for _, s := range c.sessions {
		if _, ok := old[s]; ok {
			c.e.Log(SessionDown, s.String())
		}
	}
	c.sessions = sessions

	all := slices.Concat(c.e.igp, sessions)
	for _, s := range c.states {
		s.in, s.out = nil, nil
		for _, edge := range all {
			if edge.To == s.id {
				s.in = append(s.in, edge)
			}
			if edge.From == s.id {
				s.out = append(s.out, edge)
			}
		}
	}
}

// fixpoint runs barrier-synchronised rounds until no state changes and no
// advertisement differs from the previous round.
func (c *computation) fixpoint(ctx context.Context, phase string) error {
	e := c.e
	e.Log(PhaseStarted, phase, "units", len(c.states), "budget", e.budget)
	seen := map[uint64]int{stateHash(c.states, c.exports): 0}
	var dirty []string
	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if round > e.budget {
			e.Log(BudgetExceeded, phase, "rounds", e.budget)
			return &NonConvergenceError{Phase: phase, Rounds: e.budget, Dirty: dirty}
		}
		start := time.Now()
		prev := c.exports

		g := errgroup.Group{}
		g.SetLimit(e.workers)
		for _, s := range c.states {
			g.Go(func() error {
				s.step(prev)
				return nil
			})
		}
		_ = g.Wait()

		c.exports = newExportTable(c.states)
		c.rounds++
		stats := RoundStats{Phase: phase, Round: round}
		dirty = dirty[:0]
		for _, s := range c.states {
			for _, edge := range s.dirty {
				dirty = append(dirty, edge.String())
				e.Log(ExportChanged, edge.String(), "routes", len(c.exports.get(edge)))
			}
			if s.changed {
				stats.Changed++
			}
		}
		stats.Dirty = len(dirty)
		c.trace = append(c.trace, stats)

		perf.RoundLatency.Add(float64(time.Since(start).Microseconds()))
		perf.RoundsPerSecond.Add(1)
		perf.DirtyAdjacencies.Add(float64(stats.Dirty))
		e.Log(RoundCompleted, phase, "round", round, "dirty", stats.Dirty, "changed", stats.Changed)

		if stats.Dirty == 0 && stats.Changed == 0 {
			e.Log(PhaseConverged, phase, "rounds", round)
			return nil
		}
		h := stateHash(c.states, c.exports)
		if first, ok := seen[h]; ok {
			e.Log(OscillationDetected, phase, "round", round, "cycle", round-first)
			return &NonConvergenceError{
				Phase:       phase,
				Rounds:      round,
				Oscillating: true,
				CycleLength: round - first,
				Dirty:       slices.Clone(dirty),
			}
		}
		seen[h] = round
	}
}
