package state

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Community is a standard 32-bit BGP community (RFC 1997), rendered as "AS:value".
type Community uint32

const (
	CommunityNoExport          Community = 0xFFFFFF01
	CommunityNoAdvertise       Community = 0xFFFFFF02
	CommunityNoExportSubconfed Community = 0xFFFFFF03
)

var wellKnownCommunities = map[string]Community{
	"no-export":           CommunityNoExport,
	"no-advertise":        CommunityNoAdvertise,
	"no-export-subconfed": CommunityNoExportSubconfed,
	"local-as":            CommunityNoExportSubconfed,
}

// ParseCommunity accepts "AS:value", a plain 32-bit integer or a well-known name.
func ParseCommunity(s string) (Community, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := wellKnownCommunities[s]; ok {
		return c, nil
	}
	fs := strings.Split(s, ":")
	switch len(fs) {
	case 1:
		v, err := strconv.ParseUint(fs[0], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid community %q: %w", s, err)
		}
		return Community(v), nil
	case 2:
		hi, err := strconv.ParseUint(fs[0], 10, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid community %q: first part: %w", s, err)
		}
		lo, err := strconv.ParseUint(fs[1], 10, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid community %q: second part: %w", s, err)
		}
		return Community(hi<<16 | lo), nil
	}
	return 0, fmt.Errorf("invalid community %q: expected AS:value", s)
}

func MustParseCommunity(s string) Community {
	c, err := ParseCommunity(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Community) String() string {
	return fmt.Sprintf("%d:%d", uint32(c)>>16, uint32(c)&0xFFFF)
}

func (c Community) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Community) UnmarshalText(text []byte) error {
	v, err := ParseCommunity(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Communities is a sorted set of communities. The zero value is the empty set.
type Communities []Community

func NewCommunities(cs ...Community) Communities {
	out := slices.Clone(cs)
	slices.Sort(out)
	return slices.Compact(out)
}

func (cs Communities) Contains(c Community) bool {
	_, ok := slices.BinarySearch(cs, c)
	return ok
}

func (cs Communities) Union(other Communities) Communities {
	out := make(Communities, 0, len(cs)+len(other))
	out = append(out, cs...)
	out = append(out, other...)
	return NewCommunities(out...)
}

func (cs Communities) Without(drop func(Community) bool) Communities {
	out := make(Communities, 0, len(cs))
	for _, c := range cs {
		if !drop(c) {
			out = append(out, c)
		}
	}
	return out
}

func (cs Communities) String() string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}
