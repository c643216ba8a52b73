// Package ssrf validates that an operator-submitted origin URL is safe to
// fetch from a server-side worker: schemes are restricted, userinfo is
// rejected, and resolved addresses are checked against a private/link-local/
// loopback blocklist before any request is made.
package ssrf

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

var blockedHostnames = map[string]struct{}{
	"localhost":          {},
	"metadata.google.internal": {},
}

// blockedCIDRs covers RFC 1918 / RFC 4193 / loopback / link-local ranges for
// both IPv4 and IPv6, plus the cloud-metadata address.
var blockedCIDRs = mustParseCIDRs([]string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"169.254.169.254/32",
})

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("ssrf: invalid CIDR literal %q: %v", c, err))
		}
		nets = append(nets, ipnet)
	}
	return nets
}

// Policy configures origin-URL validation. An empty Allowlist disables the
// allowlist check entirely (default); a non-empty Allowlist makes validation
// strict, per spec.md §6.
type Policy struct {
	AllowedSchemes []string
	Allowlist      []string
}

// DefaultPolicy returns the permissive policy (HTTP/HTTPS only, blocklist
// checks active, no allowlist).
func DefaultPolicy() Policy {
	return Policy{AllowedSchemes: []string{"http", "https"}}
}

// PolicyFromStrictAllowlist builds a Policy from the comma-separated
// SSRF_STRICT_ALLOWLIST configuration value. An empty value yields
// DefaultPolicy (blocklist only, no allowlist).
func PolicyFromStrictAllowlist(csv string) Policy {
	p := DefaultPolicy()
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return p
	}
	for _, entry := range strings.Split(csv, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			p.Allowlist = append(p.Allowlist, entry)
		}
	}
	return p
}

// NewResolver returns the production Resolver backed by net.DefaultResolver.
func NewResolver() Resolver { return netResolver{} }

// Resolver resolves hostnames to IP addresses; satisfied by net.DefaultResolver
// in production and faked in tests.
type Resolver interface {
	LookupIPAddr(host string) ([]net.IPAddr, error)
}

type netResolver struct{}

func (netResolver) LookupIPAddr(host string) ([]net.IPAddr, error) {
	return net.DefaultResolver.LookupIPAddr(context.Background(), host)
}

// Validate parses rawURL and rejects it per the SSRF policy: disallowed
// scheme, embedded userinfo, unresolvable host, or any resolved address
// falling inside a blocked range. When policy.Allowlist is non-empty, the
// hostname must also match an allowlist entry exactly or as a subdomain.
func Validate(rawURL string, policy Policy, resolver Resolver) error {
	if resolver == nil {
		resolver = netResolver{}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid origin url: %v", domain.ErrValidation, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: origin url missing host", domain.ErrValidation)
	}
	if u.User != nil {
		return fmt.Errorf("%w: origin url must not carry userinfo", domain.ErrSSRFBlocked)
	}
	if !schemeAllowed(u.Scheme, policy.AllowedSchemes) {
		return fmt.Errorf("%w: scheme %q not allowed", domain.ErrValidation, u.Scheme)
	}

	host := u.Hostname()
	if _, blocked := blockedHostnames[strings.ToLower(host)]; blocked {
		return fmt.Errorf("%w: host %q is blocked", domain.ErrSSRFBlocked, host)
	}

	if len(policy.Allowlist) > 0 && !hostAllowed(host, policy.Allowlist) {
		return fmt.Errorf("%w: host %q is not in the allowlist", domain.ErrSSRFBlocked, host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if ipBlocked(ip) {
			return fmt.Errorf("%w: address %s is blocked", domain.ErrSSRFBlocked, ip)
		}
		return nil
	}

	addrs, err := resolver.LookupIPAddr(host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve host %q: %v", domain.ErrValidation, host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: host %q resolved to no addresses", domain.ErrValidation, host)
	}
	for _, addr := range addrs {
		if ipBlocked(addr.IP) {
			return fmt.Errorf("%w: address %s is blocked", domain.ErrSSRFBlocked, addr.IP)
		}
	}
	return nil
}

func schemeAllowed(scheme string, allowed []string) bool {
	scheme = strings.ToLower(scheme)
	for _, s := range allowed {
		if scheme == s {
			return true
		}
	}
	return false
}

func hostAllowed(host string, allowlist []string) bool {
	host = strings.ToLower(host)
	for _, entry := range allowlist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}

func ipBlocked(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range blockedCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
