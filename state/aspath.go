package state

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// AsSet is one element of an AS path. A single-member set is an AS_SEQUENCE
// hop; a multi-member set is an AS_SET produced by aggregation.
type AsSet []uint32

func (s AsSet) IsSet() bool {
	return len(s) > 1
}

func (s AsSet) String() string {
	if len(s) == 1 {
		return strconv.FormatUint(uint64(s[0]), 10)
	}
	parts := make([]string, len(s))
	for i, a := range s {
		parts[i] = strconv.FormatUint(uint64(a), 10)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// AsPath is an ordered sequence of AS sets, most recent hop first.
type AsPath []AsSet

// NewAsPath builds a path of plain sequence hops.
func NewAsPath(asns ...uint32) AsPath {
	p := make(AsPath, len(asns))
	for i, a := range asns {
		p[i] = AsSet{a}
	}
	return p
}

// Length counts every sequence hop as one and every AS_SET as one (RFC 4271 9.1.2.2).
func (p AsPath) Length() int {
	return len(p)
}

func (p AsPath) Contains(asn uint32) bool {
	for _, s := range p {
		if slices.Contains(s, asn) {
			return true
		}
	}
	return false
}

// FirstAs is the neighbouring AS the path was learned from, or 0 for an empty
// path or one that starts with an AS_SET.
func (p AsPath) FirstAs() uint32 {
	if len(p) == 0 || p[0].IsSet() {
		return 0
	}
	return p[0][0]
}

// OriginAs is the right-most AS of the path.
func (p AsPath) OriginAs() uint32 {
	if len(p) == 0 || p[len(p)-1].IsSet() {
		return 0
	}
	return p[len(p)-1][0]
}

// Asns flattens the path into its AS numbers in order.
func (p AsPath) Asns() []uint32 {
	out := make([]uint32, 0, len(p))
	for _, s := range p {
		out = append(out, s...)
	}
	return out
}

func (p AsPath) Prepend(asns ...uint32) AsPath {
	out := make(AsPath, 0, len(p)+len(asns))
	for _, a := range asns {
		out = append(out, AsSet{a})
	}
	return append(out, p.Clone()...)
}

// Exclude drops every occurrence of the given AS numbers; empty sets vanish.
func (p AsPath) Exclude(asns ...uint32) AsPath {
	out := make(AsPath, 0, len(p))
	for _, s := range p {
		kept := make(AsSet, 0, len(s))
		for _, a := range s {
			if !slices.Contains(asns, a) {
				kept = append(kept, a)
			}
		}
		if len(kept) > 0 {
			out = append(out, kept)
		}
	}
	return out
}

func (p AsPath) Clone() AsPath {
	out := make(AsPath, len(p))
	for i, s := range p {
		out[i] = slices.Clone(s)
	}
	return out
}

func (p AsPath) Equal(o AsPath) bool {
	return slices.EqualFunc(p, o, func(a, b AsSet) bool { return slices.Equal(a, b) })
}

// String renders the path the way router CLIs do; AS-path regexes match against it.
func (p AsPath) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, " ")
}

// ParseAsPath reads "1 2 {3,4}".
func ParseAsPath(s string) (AsPath, error) {
	var out AsPath
	for _, tok := range strings.Fields(s) {
		if strings.HasPrefix(tok, "{") {
			if !strings.HasSuffix(tok, "}") {
				return nil, fmt.Errorf("invalid as-set %q", tok)
			}
			var set AsSet
			for _, m := range strings.Split(strings.Trim(tok, "{}"), ",") {
				v, err := strconv.ParseUint(m, 10, 32)
				if err != nil {
					return nil, fmt.Errorf("invalid as-set member %q: %w", m, err)
				}
				set = append(set, uint32(v))
			}
			slices.Sort(set)
			out = append(out, slices.Compact(set))
			continue
		}
		v, err := strconv.ParseUint(tok, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid asn %q: %w", tok, err)
		}
		out = append(out, AsSet{uint32(v)})
	}
	return out, nil
}
