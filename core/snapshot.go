package core

import (
	"encoding/binary"
	"maps"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/encodeous/ribsim/state"
)

// exportTable is the frozen set of advertisements published at a round
// barrier. Nothing writes to it after construction.
type exportTable struct {
	routes map[Edge][]state.Route
	digest uint64
}

func (t *exportTable) get(e Edge) []state.Route {
	if t == nil {
		return nil
	}
	return t.routes[e]
}

func newExportTable(states []*NodeRoutingState) *exportTable {
	t := &exportTable{routes: make(map[Edge][]state.Route)}
	for _, s := range states {
		for e, routes := range s.exports {
			t.routes[e] = routes
		}
	}
	h := xxhash.New()
	for _, e := range slices.SortedFunc(maps.Keys(t.routes), compareEdge) {
		_, _ = h.WriteString(e.String())
		for _, r := range t.routes[e] {
			_, _ = h.WriteString("\x00")
			_, _ = h.WriteString(r.String())
		}
		_, _ = h.WriteString("\n")
	}
	t.digest = h.Sum64()
	return t
}

// stateHash identifies the whole network state at a barrier: every RIB plus
// the published advertisements. states must be in canonical order.
func stateHash(states []*NodeRoutingState, exports *exportTable) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, s := range states {
		binary.LittleEndian.PutUint64(buf[:], s.digest)
		_, _ = h.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], exports.digest)
	_, _ = h.Write(buf[:])
	return h.Sum64()
}

// Snapshot is a deep copy of a converged computation. It can seed
// Engine.Resume on the engine that produced it.
type Snapshot struct {
	Round    int
	states   map[NodeVrf]*NodeRoutingState
	sessions []Edge
	exports  *exportTable
}

func newSnapshot(round int, states []*NodeRoutingState, sessions []Edge, exports *exportTable) *Snapshot {
	snap := &Snapshot{
		Round:    round,
		states:   make(map[NodeVrf]*NodeRoutingState, len(states)),
		sessions: slices.Clone(sessions),
		exports:  exports,
	}
	for _, s := range states {
		snap.states[s.id] = s.clone()
	}
	return snap
}

// Nodes lists the node VRFs captured by the snapshot.
func (s *Snapshot) Nodes() []NodeVrf {
	return slices.SortedFunc(maps.Keys(s.states), compareNodeVrf)
}
