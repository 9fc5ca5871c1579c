package ioc

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/nope-sec/nope/internal/models"
)

// Domain labels follow RFC 1123: 1-63 chars, alphanumeric plus inner
// hyphens, and the final label is at least two letters. A bare TLD is
// not a valid domain; at least two labels are required.
var domainRe = regexp.MustCompile(
	`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*\.[a-zA-Z]{2,}$`,
)

// Wildcard domains are a literal "*." followed by a valid domain.
var wildcardRe = regexp.MustCompile(
	`^\*\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*\.[a-zA-Z]{2,}$`,
)

// Hash formats are matched by exact hex length, longest first, so a
// 64-char hex string can never be mistaken for anything shorter.
var (
	md5Re    = regexp.MustCompile(`^[a-fA-F0-9]{32}$`)
	sha1Re   = regexp.MustCompile(`^[a-fA-F0-9]{40}$`)
	sha256Re = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
)

// Classify parses a raw input string into its normalized form and
// indicator kind. Precedence is fixed: IP, CIDR, SHA-256, SHA-1, MD5,
// wildcard domain, domain. CIDR networks are normalized to their masked
// "address/prefix" form and share the IP kind with plain addresses.
//
// Classify is a pure function and safe for concurrent use.
func Classify(raw string) (string, models.IOCType, error) {
	value := strings.TrimSpace(raw)

	if value == "" {
		return "", "", &ValidationError{Message: "value cannot be empty"}
	}

	if addr, errAddr := netip.ParseAddr(value); errAddr == nil {
		return addr.String(), models.IOCTypeIP, nil
	}

	if prefix, errPrefix := netip.ParsePrefix(value); errPrefix == nil {
		// Non-strict: host bits are masked away, so 10.1.2.3/24 and
		// 10.1.2.0/24 collapse to the same stored value.
		return prefix.Masked().String(), models.IOCTypeIP, nil
	}

	if sha256Re.MatchString(value) {
		return strings.ToLower(value), models.IOCTypeSHA256, nil
	}
	if sha1Re.MatchString(value) {
		return strings.ToLower(value), models.IOCTypeSHA1, nil
	}
	if md5Re.MatchString(value) {
		return strings.ToLower(value), models.IOCTypeMD5, nil
	}

	if wildcardRe.MatchString(value) {
		return strings.ToLower(value), models.IOCTypeWildcard, nil
	}

	if domainRe.MatchString(value) {
		return strings.ToLower(value), models.IOCTypeDomain, nil
	}

	return "", "", &ValidationError{
		Message: fmt.Sprintf("'%s' is not a valid IP address, CIDR, domain, wildcard, or hash", value),
	}
}

// TypeAllowed reports whether an indicator kind may be added to a list
// of the given type. Unknown list types allow nothing.
func TypeAllowed(iocType models.IOCType, listType models.ListType) bool {
	switch listType {
	case models.ListTypeMixed:
		return true
	case models.ListTypeIP:
		return iocType == models.IOCTypeIP
	case models.ListTypeDomain:
		return iocType == models.IOCTypeDomain || iocType == models.IOCTypeWildcard
	case models.ListTypeHash:
		return iocType == models.IOCTypeMD5 || iocType == models.IOCTypeSHA1 || iocType == models.IOCTypeSHA256
	}
	return false
}
