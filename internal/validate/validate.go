// Package validate holds the input validation rules for subdomain labels and
// DNS record data, shared by the claim path and the record write path.
package validate

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/doofx0071/doofs-dns/internal/models"
)

var (
	ErrReserved = errors.New("this subdomain is reserved and cannot be used")

	subdomainRe = regexp.MustCompile(`^[a-z0-9-]+$`)
	// Relative record names may contain dots (multi-level, e.g. _foo.bar) and
	// underscores (DKIM, ACME and similar conventions).
	dnsNameRe = regexp.MustCompile(`^[a-z0-9-_.]+$`)
)

// SubdomainLabel normalizes and validates a subdomain label for claiming.
// Rules: 3-32 chars, lowercase alphanumeric plus internal hyphens, and not on
// the reserved-word list.
func SubdomainLabel(label string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(label))
	if len(s) < 3 || len(s) > 32 {
		return "", errors.New("subdomain name must be between 3 and 32 characters")
	}
	if !subdomainRe.MatchString(s) {
		return "", errors.New("subdomain can only contain lowercase letters, numbers, and hyphens")
	}
	if strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-") {
		return "", errors.New("subdomain cannot start or end with a hyphen")
	}
	if IsReserved(s) {
		return "", ErrReserved
	}
	return s, nil
}

// DNSName normalizes and validates a relative record name ("@" or a label).
func DNSName(name string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	if s == "@" {
		return "@", nil
	}
	if len(s) == 0 {
		return "", errors.New("record name cannot be empty")
	}
	if len(s) > 63 {
		return "", errors.New("DNS name segment is too long (max 63 characters)")
	}
	if !dnsNameRe.MatchString(s) {
		return "", errors.New("invalid DNS name format: use letters, numbers, hyphens, underscores, and dots")
	}
	if strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-") {
		return "", errors.New("DNS name cannot start or end with a hyphen")
	}
	return s, nil
}

// RecordContent validates record content per type and returns it trimmed.
func RecordContent(t models.RecordType, content string) (string, error) {
	c := strings.TrimSpace(content)
	if c == "" {
		return "", errors.New("record content cannot be empty")
	}

	switch t {
	case models.RecordTypeA:
		addr, err := netip.ParseAddr(c)
		if err != nil || !addr.Is4() {
			return "", errors.New("invalid IPv4 address, expected something like 1.2.3.4")
		}
	case models.RecordTypeAAAA:
		addr, err := netip.ParseAddr(c)
		if err != nil || !addr.Is6() || addr.Is4In6() || addr.Zone() != "" {
			return "", errors.New("invalid IPv6 address format")
		}
	case models.RecordTypeCNAME:
		if strings.Contains(c, "://") || strings.Contains(c, "/") {
			return "", errors.New("CNAME must be a hostname (e.g. example.com), not a URL")
		}
	case models.RecordTypeTXT:
		if len(c) > 2048 {
			return "", errors.New("TXT record content is too long (max 2048 characters)")
		}
	case models.RecordTypeMX:
		if !strings.Contains(c, ".") && c != "@" {
			return "", errors.New("MX content must be a valid hostname")
		}
	default:
		return "", fmt.Errorf("unsupported record type %q", t)
	}
	return c, nil
}

// ComputeFQDN builds the fully-qualified name a record resolves under.
// "@" addresses the claimed domain's apex.
func ComputeFQDN(name, subdomain, rootDomain string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	s := strings.ToLower(strings.TrimSpace(subdomain))
	r := strings.ToLower(strings.TrimSpace(rootDomain))

	if n == "@" {
		return s + "." + r
	}
	return n + "." + s + "." + r
}
