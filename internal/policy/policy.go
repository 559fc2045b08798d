// Package policy provides the pure guard functions tool handlers call before
// touching the filesystem, spawning commands, or issuing network requests.
// No state, no I/O except the explicit DNS variant.
package policy

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"path/filepath"
	"strings"
)

// ViolationError reports a request blocked by an allowlist rule.
type ViolationError struct {
	Rule    string // "path", "command", "endpoint", "sensitive_file"
	Subject string // the offending path/command/URL
	Detail  string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("policy violation (%s): %s: %s", e.Rule, e.Subject, e.Detail)
}

// SSRFError reports a URL blocked because it targets a private, metadata, or
// otherwise unroutable destination, or could be made to.
type SSRFError struct {
	URL    string
	Reason string
}

func (e *SSRFError) Error() string {
	return fmt.Sprintf("ssrf blocked: %s: %s", e.URL, e.Reason)
}

// standard ports a tool may reach without an explicit endpoint grant.
var allowedPorts = map[string]struct{}{
	"80": {}, "443": {}, "8080": {}, "8443": {},
}

// AssertPathAllowed resolves path to canonical absolute form and requires it
// to be one of the allowed roots or a true descendant. Matching is on
// directory boundaries, never string prefixes: /workspace-evil does not match
// root /workspace. An empty allowlist is an open policy.
func AssertPathAllowed(path string, allowedRoots []string) error {
	if len(allowedRoots) == 0 {
		return nil
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return &ViolationError{Rule: "path", Subject: path, Detail: "cannot resolve: " + err.Error()}
	}
	for _, root := range allowedRoots {
		rootAbs, err := filepath.Abs(filepath.Clean(root))
		if err != nil {
			continue
		}
		if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
			return nil
		}
	}
	return &ViolationError{Rule: "path", Subject: abs, Detail: "outside allowed roots"}
}

// AssertCommandAllowed extracts the leading binary token of command and
// requires an exact match against the allowlist. Arguments are ignored.
// An empty allowlist is an open policy.
func AssertCommandAllowed(command string, allowlist []string) error {
	if len(allowlist) == 0 {
		return nil
	}
	fields := strings.Fields(strings.TrimSpace(command))
	if len(fields) == 0 {
		return &ViolationError{Rule: "command", Subject: command, Detail: "empty command"}
	}
	binary := fields[0]
	for _, allowed := range allowlist {
		if binary == allowed {
			return nil
		}
	}
	return &ViolationError{Rule: "command", Subject: binary, Detail: "not in command allowlist"}
}

// IsPrivateIP reports whether s parses as an IP address in a private,
// loopback, link-local, unique-local, unspecified, or metadata range.
// IPv4-mapped IPv6 forms are unmapped before classification. Non-IP strings
// return false (hostname handling is the endpoint guards' job).
func IsPrivateIP(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() || // RFC 1918 and IPv6 ULA fc00::/7
		addr.IsLinkLocalUnicast() || // 169.254/16 (metadata range) and fe80::/10
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
}

// blockedHostnames are names that resolve to internal targets without ever
// touching DNS.
func blockedHostname(host string) bool {
	switch {
	case host == "localhost", strings.HasSuffix(host, ".localhost"):
		return true
	case host == "metadata.google.internal", host == "metadata":
		return true
	}
	return false
}

// AssertEndpointAllowed runs the synchronous SSRF and allowlist checks on a
// URL: scheme, literal-IP ranges, well-known internal hostnames, port, then
// hostname-or-origin membership. An empty allowlist skips only the membership
// check; the SSRF guards always apply.
func AssertEndpointAllowed(rawURL string, allowlist []string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &SSRFError{URL: rawURL, Reason: "unparseable URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &SSRFError{URL: rawURL, Reason: fmt.Sprintf("scheme %q not allowed", u.Scheme)}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return &SSRFError{URL: rawURL, Reason: "missing host"}
	}
	if blockedHostname(host) {
		return &SSRFError{URL: rawURL, Reason: "internal hostname"}
	}
	if IsPrivateIP(strings.Trim(host, "[]")) {
		return &SSRFError{URL: rawURL, Reason: "private or unroutable address"}
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	if _, ok := allowedPorts[port]; !ok {
		return &SSRFError{URL: rawURL, Reason: fmt.Sprintf("port %s outside standard allowlist", port)}
	}

	if len(allowlist) == 0 {
		return nil
	}
	origin := u.Scheme + "://" + host
	originPort := origin + ":" + port
	for _, allowed := range allowlist {
		a := strings.ToLower(strings.TrimSuffix(allowed, "/"))
		if a == host || a == origin || a == originPort {
			return nil
		}
	}
	return &ViolationError{Rule: "endpoint", Subject: rawURL, Detail: "host not in endpoint allowlist"}
}

// AddrResolver resolves hostnames to addresses. Satisfied by *net.Resolver.
type AddrResolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// AssertEndpointAllowedDNS runs the synchronous checks, then resolves the
// hostname and re-checks every resolved address, closing the DNS-rebinding
// gap where a public-looking name resolves to a private address. A nil
// resolver uses net.DefaultResolver. Resolution failure is treated as SSRF:
// a name that cannot be vetted cannot be fetched.
func AssertEndpointAllowedDNS(ctx context.Context, rawURL string, allowlist []string, resolver AddrResolver) error {
	if err := AssertEndpointAllowed(rawURL, allowlist); err != nil {
		return err
	}

	u, _ := url.Parse(rawURL)
	host := strings.ToLower(u.Hostname())
	if _, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return nil // literal IP, already vetted above
	}

	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return &SSRFError{URL: rawURL, Reason: "DNS resolution failed: " + err.Error()}
	}
	for _, a := range addrs {
		if IsPrivateIP(a.IP.String()) {
			return &SSRFError{URL: rawURL, Reason: fmt.Sprintf("resolves to private address %s", a.IP)}
		}
	}
	return nil
}

// Credential material blocked by filename or extension, and directories whose
// contents are sensitive wherever they appear in a path.
var (
	sensitiveNames = map[string]struct{}{
		".env":                 {},
		"credentials.json":     {},
		"service-account.json": {},
		"id_rsa":               {},
		"id_ed25519":           {},
	}
	sensitiveExts = map[string]struct{}{
		".pem": {}, ".key": {}, ".p12": {}, ".pfx": {}, ".jks": {}, ".keystore": {},
	}
	sensitiveDirs = map[string]struct{}{
		".ssh": {}, ".gnupg": {}, ".aws": {},
	}
)

// AssertNotSensitiveFile blocks well-known credential and key files by exact
// name, ".env.*" variants, sensitive extensions, and sensitive directory
// segments anywhere in the path. Matching is by exact segment and suffix, so
// .envrc, .env-example, and keyboard.ts pass.
func AssertNotSensitiveFile(path string) error {
	base := strings.ToLower(filepath.Base(path))

	if _, ok := sensitiveNames[base]; ok {
		return &ViolationError{Rule: "sensitive_file", Subject: path, Detail: "credential file"}
	}
	if strings.HasPrefix(base, ".env.") {
		return &ViolationError{Rule: "sensitive_file", Subject: path, Detail: "environment file"}
	}
	if _, ok := sensitiveExts[filepath.Ext(base)]; ok {
		return &ViolationError{Rule: "sensitive_file", Subject: path, Detail: "key material extension"}
	}

	for _, seg := range strings.Split(filepath.ToSlash(filepath.Clean(path)), "/") {
		if _, ok := sensitiveDirs[strings.ToLower(seg)]; ok {
			return &ViolationError{Rule: "sensitive_file", Subject: path, Detail: "sensitive directory " + seg}
		}
	}
	return nil
}
