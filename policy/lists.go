package policy

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"github.com/encodeous/ribsim/state"
	"github.com/jellydator/ttlcache/v3"
)

func newRegexCache() *ttlcache.Cache[string, *regexp.Regexp] {
	return ttlcache.New[string, *regexp.Regexp](
		ttlcache.WithTTL[string, *regexp.Regexp](10*time.Minute),
		ttlcache.WithCapacity[string, *regexp.Regexp](4096),
		ttlcache.WithDisableTouchOnHit[string, *regexp.Regexp](),
	)
}

// delimiter is what "_" stands for in router-style expressions
const delimiter = `(?:^|$|[ ,{}()])`

// compileRegex translates a router-style expression, where "_" matches any AS
// path delimiter, into a Go regexp.
func compileRegex(expr string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(strings.ReplaceAll(expr, "_", delimiter))
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", expr, err)
	}
	return re, nil
}

// regex returns the compiled expression from the set's cache, which every
// evaluator worker of the set shares.
func (s *Set) regex(expr string) (*regexp.Regexp, error) {
	if item := s.regexes.Get(expr); item != nil {
		return item.Value(), nil
	}
	re, err := compileRegex(expr)
	if err != nil {
		return nil, err
	}
	s.regexes.Set(expr, re, ttlcache.DefaultTTL)
	return re, nil
}

func (s *Set) matchRegex(expr, str string) bool {
	re, err := s.regex(expr)
	if err != nil {
		// reported at compile time
		return false
	}
	return re.MatchString(str)
}

// permits runs a first-match list. ok is false when no line matched.
func permits[T any](lines []T, action func(T) state.Action, match func(T) bool) (permit, ok bool) {
	for _, l := range lines {
		if match(l) {
			return action(l) == state.ActionPermit, true
		}
	}
	return false, false
}

func prefixListPermits(pl *state.PrefixList, p netip.Prefix) bool {
	permit, _ := permits(pl.Lines,
		func(l state.PrefixListLine) state.Action { return l.Action },
		func(l state.PrefixListLine) bool { return l.Contains(p) })
	return permit
}

func (s *Set) asPathListPermits(al *state.AsPathList, path state.AsPath) bool {
	rendered := path.String()
	permit, _ := permits(al.Lines,
		func(l state.AsPathListLine) state.Action { return l.Action },
		func(l state.AsPathListLine) bool { return s.matchRegex(l.Regex, rendered) })
	return permit
}

func (s *Set) communityLineMatches(l state.CommunityListLine, cs state.Communities) bool {
	if l.Regex != "" {
		for _, c := range cs {
			if s.matchRegex(l.Regex, c.String()) {
				return true
			}
		}
		return false
	}
	if len(l.Communities) == 0 {
		return false
	}
	for _, c := range l.Communities {
		if !cs.Contains(c) {
			return false
		}
	}
	return true
}

func (s *Set) communityListPermits(cl *state.CommunityList, cs state.Communities) bool {
	permit, _ := permits(cl.Lines,
		func(l state.CommunityListLine) state.Action { return l.Action },
		func(l state.CommunityListLine) bool { return s.communityLineMatches(l, cs) })
	return permit
}

// communityListSelects reports whether a single community is permitted by the
// list; used by community deletion.
func (s *Set) communityListSelects(cl *state.CommunityList, c state.Community) bool {
	return s.communityListPermits(cl, state.Communities{c})
}
