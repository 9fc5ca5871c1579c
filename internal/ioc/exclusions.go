package ioc

import (
	"net/netip"
	"strings"

	"github.com/nope-sec/nope/internal/models"
)

// ExclusionMatch identifies the rule that blocked an indicator. The
// reason is surfaced to callers verbatim.
type ExclusionMatch struct {
	ExclusionID uint64 // Matched rule id.
	Value       string // Matched rule pattern.
	Reason      string // Human reason recorded on the rule.
}

// CheckExclusions returns the first rule matching the given normalized
// value, or nil if no rule matches. Rules are checked in the order
// given; callers load them ordered by id so the winner is deterministic
// when patterns overlap.
//
// The same function backs both live enforcement and the administration
// preview, so the two can never drift.
func CheckExclusions(value string, iocType models.IOCType, exclusions []models.Exclusion) *ExclusionMatch {
	lower := strings.ToLower(value)

	for i := range exclusions {
		if matchesExclusion(lower, iocType, &exclusions[i]) {
			return &ExclusionMatch{
				ExclusionID: exclusions[i].ID,
				Value:       exclusions[i].Value,
				Reason:      exclusions[i].Reason,
			}
		}
	}

	return nil
}

// matchesExclusion applies one rule to one normalized value. Parse
// failures on either side never match and never error.
func matchesExclusion(value string, iocType models.IOCType, excl *models.Exclusion) bool {
	switch excl.Type {
	case models.ExclusionTypeDomain:
		// Exact match only, no suffix semantics. A "com" rule excludes
		// the literal value "com", not "example.com".
		return iocType == models.IOCTypeDomain && value == strings.ToLower(excl.Value)

	case models.ExclusionTypeCIDR:
		if iocType != models.IOCTypeIP {
			return false
		}
		return cidrContains(excl.Value, value)

	case models.ExclusionTypeWildcard:
		if iocType != models.IOCTypeDomain && iocType != models.IOCTypeWildcard {
			return false
		}
		pattern := strings.ToLower(excl.Value)
		if !strings.HasPrefix(pattern, "*.") {
			return false
		}
		// Keep the dot: "*.internal.corp" yields ".internal.corp", so
		// "internal.corp" itself and "notinternal.corp" do not match.
		suffix := pattern[1:]
		return strings.HasSuffix(value, suffix)

	case models.ExclusionTypeIP:
		return iocType == models.IOCTypeIP && value == strings.ToLower(excl.Value)
	}

	return false
}

// cidrContains reports whether an IP value (single address or CIDR
// network) falls inside the rule's network.
func cidrContains(rule, value string) bool {
	network, errRule := parsePrefixLenient(rule)
	if errRule != nil {
		return false
	}

	if addr, errAddr := netip.ParseAddr(value); errAddr == nil {
		return network.Contains(addr)
	}

	// The value may itself be a network; match when it is a subnet of
	// the rule's network.
	inner, errValue := parsePrefixLenient(value)
	if errValue != nil {
		return false
	}
	return network.Bits() <= inner.Bits() && network.Contains(inner.Addr())
}

// parsePrefixLenient parses "addr/bits" or a bare address (treated as a
// full-length prefix), masking host bits.
func parsePrefixLenient(s string) (netip.Prefix, error) {
	if prefix, err := netip.ParsePrefix(s); err == nil {
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// DetectExclusionType classifies a free-text exclusion pattern into one
// of the four rule kinds. Unlike Classify, a bare address is "ip" and
// only slash notation is "cidr". Any pattern containing "*" must be a
// "*."-prefixed wildcard or it is rejected outright.
func DetectExclusionType(raw string) (models.ExclusionType, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return "", false
	}

	if _, errAddr := netip.ParseAddr(value); errAddr == nil {
		return models.ExclusionTypeIP, true
	}
	if _, errPrefix := netip.ParsePrefix(value); errPrefix == nil {
		return models.ExclusionTypeCIDR, true
	}

	if strings.Contains(value, "*") {
		if strings.HasPrefix(value, "*.") && len(value) > 2 {
			return models.ExclusionTypeWildcard, true
		}
		return "", false
	}

	if strings.Contains(value, ".") && !strings.HasPrefix(value, ".") {
		return models.ExclusionTypeDomain, true
	}

	return "", false
}
