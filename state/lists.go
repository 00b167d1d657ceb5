package state

import (
	"fmt"
	"net/netip"

	"go4.org/netipx"
)

// PrefixRange matches prefixes inside Prefix whose length lies in [Ge, Le].
// With neither bound set only the exact prefix matches; with only Ge set the
// upper bound is the address length.
type PrefixRange struct {
	Prefix netip.Prefix `yaml:"prefix"`
	Ge     uint8        `yaml:"ge,omitempty"`
	Le     uint8        `yaml:"le,omitempty"`
}

func (r PrefixRange) bounds() (int, int) {
	l := r.Prefix.Bits()
	lo, hi := l, l
	if r.Ge != 0 {
		lo = int(r.Ge)
		hi = r.Prefix.Addr().BitLen()
	}
	if r.Le != 0 {
		hi = int(r.Le)
	}
	return lo, hi
}

func (r PrefixRange) Contains(p netip.Prefix) bool {
	base := r.Prefix.Masked()
	if base.Addr().Is4() != p.Addr().Is4() || p.Bits() < base.Bits() {
		return false
	}
	p = p.Masked()
	if !base.Contains(p.Addr()) || !base.Contains(netipx.PrefixLastIP(p)) {
		return false
	}
	lo, hi := r.bounds()
	return p.Bits() >= lo && p.Bits() <= hi
}

func (r PrefixRange) Validate() error {
	if !r.Prefix.IsValid() {
		return fmt.Errorf("invalid prefix range: missing prefix")
	}
	lo, hi := r.bounds()
	if lo < r.Prefix.Bits() || hi > r.Prefix.Addr().BitLen() || lo > hi {
		return fmt.Errorf("invalid prefix range %s ge %d le %d", r.Prefix, r.Ge, r.Le)
	}
	return nil
}

func (r PrefixRange) String() string {
	s := r.Prefix.Masked().String()
	if r.Ge != 0 {
		s += fmt.Sprintf(" ge %d", r.Ge)
	}
	if r.Le != 0 {
		s += fmt.Sprintf(" le %d", r.Le)
	}
	return s
}

type PrefixListLine struct {
	Action      Action `yaml:"action"`
	PrefixRange `yaml:",inline"`
}

// PrefixList is evaluated first-match; no match denies.
type PrefixList struct {
	Name  string           `yaml:"name"`
	Lines []PrefixListLine `yaml:"lines"`
}

// AsPathListLine matches a router-style regular expression against the
// rendered AS path ("_" matches a delimiter).
type AsPathListLine struct {
	Action Action `yaml:"action"`
	Regex  string `yaml:"regex"`
}

type AsPathList struct {
	Name  string           `yaml:"name"`
	Lines []AsPathListLine `yaml:"lines"`
}

// CommunityListLine matches when the route carries all of Communities, or, for
// expanded lines, when any community matches Regex.
type CommunityListLine struct {
	Action      Action      `yaml:"action"`
	Communities []Community `yaml:"communities,omitempty"`
	Regex       string      `yaml:"regex,omitempty"`
}

type CommunityList struct {
	Name  string              `yaml:"name"`
	Lines []CommunityListLine `yaml:"lines"`
}
