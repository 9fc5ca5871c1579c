package ioc

import (
	"errors"
	"strings"
	"testing"

	"github.com/nope-sec/nope/internal/models"
)

func TestClassify_IPAndCIDR(t *testing.T) {
	t.Parallel()

	value, kind, errClassify := Classify("  192.168.1.1  ")
	if errClassify != nil {
		t.Fatalf("classify ip: %v", errClassify)
	}
	if value != "192.168.1.1" || kind != models.IOCTypeIP {
		t.Fatalf("classify ip = (%q, %q)", value, kind)
	}

	value, kind, errClassify = Classify("10.1.2.3/24")
	if errClassify != nil {
		t.Fatalf("classify cidr: %v", errClassify)
	}
	if value != "10.1.2.0/24" {
		t.Fatalf("cidr host bits not masked: %q", value)
	}
	if kind != models.IOCTypeIP {
		t.Fatalf("cidr kind = %q, want ip", kind)
	}

	value, kind, errClassify = Classify("2001:db8::1")
	if errClassify != nil {
		t.Fatalf("classify ipv6: %v", errClassify)
	}
	if value != "2001:db8::1" || kind != models.IOCTypeIP {
		t.Fatalf("classify ipv6 = (%q, %q)", value, kind)
	}
}

func TestClassify_Hashes(t *testing.T) {
	t.Parallel()

	md5 := strings.Repeat("Ab", 16)
	sha1 := strings.Repeat("Ab", 20)
	sha256 := strings.Repeat("Ab", 32)

	cases := []struct {
		in   string
		kind models.IOCType
	}{
		{md5, models.IOCTypeMD5},
		{sha1, models.IOCTypeSHA1},
		{sha256, models.IOCTypeSHA256},
	}
	for _, tc := range cases {
		value, kind, errClassify := Classify(tc.in)
		if errClassify != nil {
			t.Fatalf("classify %q: %v", tc.in, errClassify)
		}
		if kind != tc.kind {
			t.Fatalf("classify %q kind = %q, want %q", tc.in, kind, tc.kind)
		}
		if value != strings.ToLower(tc.in) {
			t.Fatalf("hash not lowercased: %q", value)
		}
	}

	// Off-by-one hex lengths are not hashes and not domains.
	for _, n := range []int{31, 33, 39, 41, 63, 65} {
		in := strings.Repeat("a", n)
		if _, _, errClassify := Classify(in); errClassify == nil {
			t.Fatalf("expected rejection for %d-char hex string", n)
		}
	}
}

func TestClassify_DomainsAndWildcards(t *testing.T) {
	t.Parallel()

	value, kind, errClassify := Classify("EXAMPLE.COM")
	if errClassify != nil {
		t.Fatalf("classify domain: %v", errClassify)
	}
	if value != "example.com" || kind != models.IOCTypeDomain {
		t.Fatalf("classify domain = (%q, %q)", value, kind)
	}

	value, kind, errClassify = Classify("*.Example.com")
	if errClassify != nil {
		t.Fatalf("classify wildcard: %v", errClassify)
	}
	if value != "*.example.com" || kind != models.IOCTypeWildcard {
		t.Fatalf("classify wildcard = (%q, %q)", value, kind)
	}

	for _, in := range []string{
		"",
		"   ",
		"com",             // bare TLD
		"-bad.example.com", // leading hyphen in label
		"bad-.example.com", // trailing hyphen in label
		"*example.com",    // wildcard without dot
		"foo.*.com",       // wildcard not leading
		"not a domain",
	} {
		_, _, errClassify := Classify(in)
		if errClassify == nil {
			t.Fatalf("expected rejection for %q", in)
		}
		var validation *ValidationError
		if !errors.As(errClassify, &validation) {
			t.Fatalf("expected ValidationError for %q, got %T", in, errClassify)
		}
	}
}

func TestClassify_PrecedenceHashOverDomain(t *testing.T) {
	t.Parallel()

	// 32 hex chars that could also look like a hostname label.
	in := strings.Repeat("ab", 16)
	_, kind, errClassify := Classify(in)
	if errClassify != nil {
		t.Fatalf("classify: %v", errClassify)
	}
	if kind != models.IOCTypeMD5 {
		t.Fatalf("kind = %q, want md5", kind)
	}
}

func TestTypeAllowed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ioc  models.IOCType
		list models.ListType
		want bool
	}{
		{models.IOCTypeIP, models.ListTypeMixed, true},
		{models.IOCTypeSHA256, models.ListTypeMixed, true},
		{models.IOCTypeIP, models.ListTypeIP, true},
		{models.IOCTypeDomain, models.ListTypeIP, false},
		{models.IOCTypeDomain, models.ListTypeDomain, true},
		{models.IOCTypeWildcard, models.ListTypeDomain, true},
		{models.IOCTypeIP, models.ListTypeDomain, false},
		{models.IOCTypeMD5, models.ListTypeHash, true},
		{models.IOCTypeSHA1, models.ListTypeHash, true},
		{models.IOCTypeSHA256, models.ListTypeHash, true},
		{models.IOCTypeDomain, models.ListTypeHash, false},
		{models.IOCTypeIP, models.ListType("bogus"), false},
	}
	for _, tc := range cases {
		if got := TypeAllowed(tc.ioc, tc.list); got != tc.want {
			t.Fatalf("TypeAllowed(%s, %s) = %v, want %v", tc.ioc, tc.list, got, tc.want)
		}
	}
}
