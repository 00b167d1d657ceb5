package state

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

type WarningKind uint8

const (
	WarnUndefinedReference WarningKind = iota + 1
	WarnUndefinedPolicy
	WarnBadContinue
	WarnInvalidAction
	WarnSessionDown
	WarnUnresolvedNextHop
	WarnInvalidRegex
)

var warningKindNames = map[WarningKind]string{
	WarnUndefinedReference: "undefined-reference",
	WarnUndefinedPolicy:    "undefined-policy",
	WarnBadContinue:        "bad-continue",
	WarnInvalidAction:      "invalid-action",
	WarnSessionDown:        "session-down",
	WarnUnresolvedNextHop:  "unresolved-next-hop",
	WarnInvalidRegex:       "invalid-regex",
}

func (k WarningKind) String() string {
	if s, ok := warningKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("warning(%d)", uint8(k))
}

// Warning is a recoverable problem found while compiling or computing. Policy
// and Seq identify the offending policy entry when there is one.
type Warning struct {
	Kind    WarningKind
	Node    string
	Vrf     string
	Policy  string
	Seq     uint32
	Message string
}

func (w Warning) String() string {
	sb := strings.Builder{}
	sb.WriteString(w.Kind.String())
	if w.Node != "" {
		fmt.Fprintf(&sb, " node=%s", w.Node)
	}
	if w.Vrf != "" {
		fmt.Fprintf(&sb, " vrf=%s", w.Vrf)
	}
	if w.Policy != "" {
		fmt.Fprintf(&sb, " policy=%s", w.Policy)
		if w.Seq != 0 {
			fmt.Fprintf(&sb, " seq=%d", w.Seq)
		}
	}
	fmt.Fprintf(&sb, ": %s", w.Message)
	return sb.String()
}

func compareWarning(a, b Warning) int {
	return cmp.Or(
		strings.Compare(a.Node, b.Node),
		strings.Compare(a.Vrf, b.Vrf),
		strings.Compare(a.Policy, b.Policy),
		cmp.Compare(a.Seq, b.Seq),
		cmp.Compare(a.Kind, b.Kind),
		strings.Compare(a.Message, b.Message),
	)
}

// Diagnostics collects warnings from concurrent workers. Duplicates collapse.
type Diagnostics struct {
	mu    sync.Mutex
	items map[Warning]struct{}
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{items: make(map[Warning]struct{})}
}

// Add records w and reports whether it was new.
func (d *Diagnostics) Add(w Warning) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.items[w]; ok {
		return false
	}
	d.items[w] = struct{}{}
	return true
}

// Warnings returns the collected warnings in a stable order.
func (d *Diagnostics) Warnings() []Warning {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Warning, 0, len(d.items))
	for w := range d.items {
		out = append(out, w)
	}
	slices.SortFunc(out, compareWarning)
	return out
}

func (d *Diagnostics) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
