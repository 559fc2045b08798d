package policy

import (
	"context"
	"errors"
	"net"
	"testing"
)

func TestAssertPathAllowed(t *testing.T) {
	roots := []string{"/workspace", "/tmp/scratch"}

	cases := []struct {
		path string
		ok   bool
	}{
		{"/workspace", true},
		{"/workspace/src/main.go", true},
		{"/workspace/../workspace/file", true},
		{"/tmp/scratch/out.txt", true},
		{"/workspace-evil/file", false},
		{"/workspace/../etc/passwd", false},
		{"/etc/passwd", false},
		{"/tmp/scratch2/x", false},
	}
	for _, tc := range cases {
		err := AssertPathAllowed(tc.path, roots)
		if tc.ok && err != nil {
			t.Errorf("AssertPathAllowed(%q) = %v, want allowed", tc.path, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("AssertPathAllowed(%q) allowed, want blocked", tc.path)
		}
	}
}

func TestAssertPathAllowed_EmptyAllowlistIsOpen(t *testing.T) {
	if err := AssertPathAllowed("/anywhere/at/all", nil); err != nil {
		t.Errorf("empty allowlist should be open: %v", err)
	}
}

func TestAssertCommandAllowed(t *testing.T) {
	allow := []string{"git", "ls", "go"}

	if err := AssertCommandAllowed("git status --short", allow); err != nil {
		t.Errorf("git should be allowed: %v", err)
	}
	if err := AssertCommandAllowed("  ls -la ", allow); err != nil {
		t.Errorf("leading whitespace should not matter: %v", err)
	}
	if err := AssertCommandAllowed("rm -rf /", allow); err == nil {
		t.Error("rm should be blocked")
	}
	if err := AssertCommandAllowed("gitk", allow); err == nil {
		t.Error("prefix match is not a match")
	}
	if err := AssertCommandAllowed("", allow); err == nil {
		t.Error("empty command should be blocked")
	}
	if err := AssertCommandAllowed("anything at all", nil); err != nil {
		t.Errorf("empty allowlist should be open: %v", err)
	}
}

func TestIsPrivateIP(t *testing.T) {
	private := []string{
		"127.0.0.1", "10.0.0.8", "172.16.1.1", "192.168.1.10",
		"169.254.169.254", "0.0.0.0", "::1", "fe80::1", "fc00::1",
		"::ffff:192.168.1.1",
	}
	for _, ip := range private {
		if !IsPrivateIP(ip) {
			t.Errorf("IsPrivateIP(%q) = false, want true", ip)
		}
	}

	public := []string{"8.8.8.8", "1.1.1.1", "2606:4700::1111", "example.com", ""}
	for _, ip := range public {
		if IsPrivateIP(ip) {
			t.Errorf("IsPrivateIP(%q) = true, want false", ip)
		}
	}
}

func TestAssertEndpointAllowed_SSRFGuards(t *testing.T) {
	blocked := []string{
		"http://127.0.0.1/admin",
		"http://localhost:8080/",
		"http://sub.localhost/",
		"http://169.254.169.254/latest/meta-data/",
		"http://metadata.google.internal/computeMetadata/v1/",
		"http://10.0.0.5/internal",
		"http://[::1]/",
		"ftp://example.com/file",
		"file:///etc/passwd",
		"http://example.com:6379/",
		"http://example.com:22/",
		"http:///nohost",
	}
	for _, u := range blocked {
		if err := AssertEndpointAllowed(u, nil); err == nil {
			t.Errorf("AssertEndpointAllowed(%q) allowed, want blocked", u)
		}
	}

	allowed := []string{
		"https://example.com/api",
		"https://example.com:443/api",
		"http://example.com:8080/health",
		"https://api.github.com:8443/x",
	}
	for _, u := range allowed {
		if err := AssertEndpointAllowed(u, nil); err != nil {
			t.Errorf("AssertEndpointAllowed(%q) = %v, want allowed", u, err)
		}
	}
}

func TestAssertEndpointAllowed_Allowlist(t *testing.T) {
	allow := []string{"api.example.com", "https://other.example.com"}

	if err := AssertEndpointAllowed("https://api.example.com/v1/x", allow); err != nil {
		t.Errorf("hostname allowlist entry should match: %v", err)
	}
	if err := AssertEndpointAllowed("https://other.example.com/", allow); err != nil {
		t.Errorf("origin allowlist entry should match: %v", err)
	}
	if err := AssertEndpointAllowed("https://evil.example.com/", allow); err == nil {
		t.Error("host outside allowlist should be blocked")
	}

	// SSRF guards still apply even with a matching allowlist entry.
	if err := AssertEndpointAllowed("https://api.example.com:9443/", allow); err == nil {
		t.Error("non-standard port blocked regardless of allowlist")
	}
}

type fakeResolver struct {
	addrs map[string][]net.IPAddr
	err   error
}

func (r *fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.addrs[host], nil
}

func TestAssertEndpointAllowedDNS_Rebinding(t *testing.T) {
	ctx := context.Background()

	// A public-looking hostname resolving to a private address is SSRF.
	rebinding := &fakeResolver{addrs: map[string][]net.IPAddr{
		"evil.example.com": {{IP: net.ParseIP("8.8.8.8")}, {IP: net.ParseIP("10.0.0.1")}},
	}}
	err := AssertEndpointAllowedDNS(ctx, "https://evil.example.com/", nil, rebinding)
	var ssrf *SSRFError
	if !errors.As(err, &ssrf) {
		t.Fatalf("expected SSRFError, got %v", err)
	}

	clean := &fakeResolver{addrs: map[string][]net.IPAddr{
		"good.example.com": {{IP: net.ParseIP("93.184.216.34")}},
	}}
	if err := AssertEndpointAllowedDNS(ctx, "https://good.example.com/", nil, clean); err != nil {
		t.Errorf("clean resolution should pass: %v", err)
	}

	// A name that cannot be resolved cannot be vetted.
	failing := &fakeResolver{err: errors.New("no such host")}
	if err := AssertEndpointAllowedDNS(ctx, "https://unknown.example.com/", nil, failing); err == nil {
		t.Error("resolution failure should be blocked")
	}
}

func TestAssertNotSensitiveFile(t *testing.T) {
	blocked := []string{
		"/app/.env",
		"/app/.env.production",
		"/app/.ENV",
		"/home/u/.ssh/id_rsa",
		"/home/u/.ssh/known_hosts",
		"/home/u/.aws/config",
		"/secrets/credentials.json",
		"/secrets/service-account.json",
		"certs/server.pem",
		"certs/private.key",
		"store.p12",
		"/home/u/.gnupg/pubring.kbx",
		"id_ed25519",
	}
	for _, p := range blocked {
		if err := AssertNotSensitiveFile(p); err == nil {
			t.Errorf("AssertNotSensitiveFile(%q) allowed, want blocked", p)
		}
	}

	allowed := []string{
		"/app/.envrc",
		"/app/.env-example",
		"/app/environment.go",
		"/src/keyboard.ts",
		"/src/monkey.go",
		"/docs/ssh-setup.md",
		"README.md",
	}
	for _, p := range allowed {
		if err := AssertNotSensitiveFile(p); err != nil {
			t.Errorf("AssertNotSensitiveFile(%q) = %v, want allowed", p, err)
		}
	}
}
