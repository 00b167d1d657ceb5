package rib

import (
	"cmp"
	"iter"
	"net/netip"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/encodeous/ribsim/state"
	"github.com/gaissmai/bart"
	"go4.org/netipx"
)

type candidate struct {
	src   string
	route state.Route
}

// Rib maps prefixes to their candidate routes and keeps a materialized view of
// the selected route(s) per prefix. Candidates are tagged with the source that
// contributed them (a neighbour, a protocol, local origination) so a source
// can be replaced wholesale. Best routes are recomputed only for prefixes whose
// candidates changed, on Commit.
type Rib struct {
	sel   Selector
	cands map[netip.Prefix][]candidate
	src   map[string][]state.Route
	best  map[netip.Prefix][]state.Route
	dirty map[netip.Prefix]struct{}
	lpm   *bart.Table[[]state.Route]
}

func New(sel Selector) *Rib {
	return &Rib{
		sel:   sel,
		cands: make(map[netip.Prefix][]candidate),
		src:   make(map[string][]state.Route),
		best:  make(map[netip.Prefix][]state.Route),
		dirty: make(map[netip.Prefix]struct{}),
		lpm:   new(bart.Table[[]state.Route]),
	}
}

// SetSelector swaps the selection function and marks every prefix dirty.
func (r *Rib) SetSelector(sel Selector) {
	r.sel = sel
	r.Reselect()
}

// Reselect marks every prefix dirty, for selectors whose outcome depends on
// state outside the candidate set.
func (r *Rib) Reselect() {
	for p := range r.cands {
		r.dirty[p] = struct{}{}
	}
}

func (r *Rib) insert(src string, rt state.Route) {
	cs := r.cands[rt.Prefix]
	c := candidate{src: src, route: rt}
	i, _ := slices.BinarySearchFunc(cs, c, compareCandidate)
	r.cands[rt.Prefix] = slices.Insert(cs, i, c)
	r.dirty[rt.Prefix] = struct{}{}
}

func (r *Rib) delete(src string, rt state.Route) {
	cs := r.cands[rt.Prefix]
	i, found := slices.BinarySearchFunc(cs, candidate{src: src, route: rt}, compareCandidate)
	if !found {
		return
	}
	cs = slices.Delete(cs, i, i+1)
	if len(cs) == 0 {
		delete(r.cands, rt.Prefix)
	} else {
		r.cands[rt.Prefix] = cs
	}
	r.dirty[rt.Prefix] = struct{}{}
}

func compareCandidate(a, b candidate) int {
	return cmp.Or(CompareCanonical(a.route, b.route), cmp.Compare(a.src, b.src))
}

// Update replaces every candidate contributed by src and reports whether
// anything changed.
func (r *Rib) Update(src string, routes []state.Route) bool {
	next := slices.Clone(routes)
	slices.SortFunc(next, CompareCanonical)
	next = slices.CompactFunc(next, state.Route.Equal)
	prev := r.src[src]
	if slices.EqualFunc(prev, next, state.Route.Equal) {
		return false
	}
	for _, rt := range prev {
		r.delete(src, rt)
	}
	for _, rt := range next {
		r.insert(src, rt)
	}
	if len(next) == 0 {
		delete(r.src, src)
	} else {
		r.src[src] = next
	}
	return true
}

// Commit recomputes the best routes of dirty prefixes and returns the prefixes
// whose selection changed, in canonical order.
func (r *Rib) Commit() []netip.Prefix {
	var changed []netip.Prefix
	for p := range r.dirty {
		var sel []state.Route
		if cs := r.cands[p]; len(cs) > 0 {
			routes := make([]state.Route, 0, len(cs))
			for _, c := range cs {
				if len(routes) == 0 || !routes[len(routes)-1].Equal(c.route) {
					routes = append(routes, c.route)
				}
			}
			sel = r.sel(routes)
		}
		if slices.EqualFunc(sel, r.best[p], state.Route.Equal) {
			continue
		}
		changed = append(changed, p)
		if len(sel) == 0 {
			delete(r.best, p)
			r.lpm.Delete(p)
		} else {
			r.best[p] = sel
			r.lpm.Insert(p, sel)
		}
	}
	clear(r.dirty)
	slices.SortFunc(changed, netipx.ComparePrefix)
	return changed
}

// Best returns the selected route followed by its multipath siblings.
func (r *Rib) Best(p netip.Prefix) []state.Route {
	return r.best[p.Masked()]
}

// Candidates returns every distinct candidate for p in canonical order.
func (r *Rib) Candidates(p netip.Prefix) []state.Route {
	cs := r.cands[p.Masked()]
	out := make([]state.Route, 0, len(cs))
	for _, c := range cs {
		if len(out) == 0 || !out[len(out)-1].Equal(c.route) {
			out = append(out, c.route)
		}
	}
	return out
}

// Source returns the candidates contributed by src.
func (r *Rib) Source(src string) []state.Route {
	return r.src[src]
}

// Prefixes lists prefixes with a selected route in canonical order.
func (r *Rib) Prefixes() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(r.best))
	for p := range r.best {
		out = append(out, p)
	}
	slices.SortFunc(out, netipx.ComparePrefix)
	return out
}

// BestRoutes flattens the selection in canonical prefix order.
func (r *Rib) BestRoutes() []state.Route {
	var out []state.Route
	for _, p := range r.Prefixes() {
		out = append(out, r.best[p]...)
	}
	return out
}

func (r *Rib) Len() int {
	return len(r.best)
}

// Lookup performs a longest prefix match over the selected routes.
func (r *Rib) Lookup(addr netip.Addr) (netip.Prefix, []state.Route, bool) {
	return r.Resolve(addr, nil)
}

// Resolve is Lookup that skips matches rejected by skip, falling back to
// shorter covering prefixes.
func (r *Rib) Resolve(addr netip.Addr, skip func(netip.Prefix, []state.Route) bool) (netip.Prefix, []state.Route, bool) {
	if !addr.IsValid() {
		return netip.Prefix{}, nil, false
	}
	host := netip.PrefixFrom(addr, addr.BitLen())
	var covering []netip.Prefix
	for p := range r.lpm.Supernets(host) {
		covering = append(covering, p)
	}
	// longest first
	slices.SortFunc(covering, func(a, b netip.Prefix) int { return cmp.Compare(b.Bits(), a.Bits()) })
	for _, p := range covering {
		routes := r.best[p]
		if skip != nil && skip(p, routes) {
			continue
		}
		return p, routes, true
	}
	return netip.Prefix{}, nil, false
}

// Subnets yields the selected routes of every prefix strictly inside p.
func (r *Rib) Subnets(p netip.Prefix) iter.Seq2[netip.Prefix, []state.Route] {
	p = p.Masked()
	return func(yield func(netip.Prefix, []state.Route) bool) {
		for sub, routes := range r.lpm.Subnets(p) {
			if sub == p {
				continue
			}
			if !yield(sub, routes) {
				return
			}
		}
	}
}

// Digest hashes candidates and selection in canonical order; equal digests
// mean equal RIBs for change detection.
func (r *Rib) Digest() uint64 {
	h := xxhash.New()
	prefixes := make([]netip.Prefix, 0, len(r.cands))
	for p := range r.cands {
		prefixes = append(prefixes, p)
	}
	slices.SortFunc(prefixes, netipx.ComparePrefix)
	for _, p := range prefixes {
		for _, c := range r.cands[p] {
			_, _ = h.WriteString(c.src)
			_, _ = h.WriteString(c.route.String())
			_, _ = h.WriteString("\n")
		}
		_, _ = h.WriteString("=")
		for _, b := range r.best[p] {
			_, _ = h.WriteString(b.String())
			_, _ = h.WriteString("\n")
		}
	}
	return h.Sum64()
}

// Clone deep-copies the RIB. Routes are immutable and shared.
func (r *Rib) Clone() *Rib {
	out := New(r.sel)
	for p, cs := range r.cands {
		out.cands[p] = slices.Clone(cs)
	}
	for s, routes := range r.src {
		out.src[s] = slices.Clone(routes)
	}
	for p, b := range r.best {
		out.best[p] = slices.Clone(b)
		out.lpm.Insert(p, out.best[p])
	}
	for p := range r.dirty {
		out.dirty[p] = struct{}{}
	}
	return out
}
