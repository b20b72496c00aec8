package allowlist

import (
	"testing"

	"helios_server/core/domain"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "Jane@Example.COM", "jane@example.com"},
		{"trim", "  jane@example.com  ", "jane@example.com"},
		{"strip plus tag", "jane+news@example.com", "jane@example.com"},
		{"plus tag and case", " Jane+Foo@Example.com ", "jane@example.com"},
		{"no at sign", "not-an-email", "not-an-email"},
		{"plus only in domain untouched", "jane@ex+ample.com", "jane@ex+ample.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeEmail(tt.in)
			if got != tt.want {
				t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := NormalizeEmail(got); again != got {
				t.Errorf("not idempotent: NormalizeEmail(%q) = %q", got, again)
			}
		})
	}
}

func TestDomainOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"jane@example.com", "example.com"},
		{"Jane@EU.Acme.COM", "eu.acme.com"},
		{"no-domain", ""},
		{"trailing@", ""},
	}
	for _, tt := range tests {
		if got := DomainOf(tt.in); got != tt.want {
			t.Errorf("DomainOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDomainMatches(t *testing.T) {
	tests := []struct {
		name   string
		sender string
		entry  domain.ClientDomain
		want   bool
	}{
		{"exact equal", "acme.com", domain.ClientDomain{Domain: "acme.com"}, true},
		{"exact rejects subdomain", "eu.acme.com", domain.ClientDomain{Domain: "acme.com"}, false},
		{"wildcard equal", "acme.com", domain.ClientDomain{Domain: "acme.com", Wildcard: true}, true},
		{"wildcard subdomain", "eu.acme.com", domain.ClientDomain{Domain: "acme.com", Wildcard: true}, true},
		{"wildcard deep subdomain", "a.b.acme.com", domain.ClientDomain{Domain: "acme.com", Wildcard: true}, true},
		{"wildcard rejects lookalike tld", "acme.co", domain.ClientDomain{Domain: "acme.com", Wildcard: true}, false},
		{"wildcard rejects suffix without dot", "notacme.com", domain.ClientDomain{Domain: "acme.com", Wildcard: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DomainMatches(tt.sender, tt.entry); got != tt.want {
				t.Errorf("DomainMatches(%q, %+v) = %v, want %v", tt.sender, tt.entry, got, tt.want)
			}
		})
	}
}

func TestSnapshotAllows(t *testing.T) {
	snap := &domain.AllowlistSnapshot{
		Version: 3,
		Emails:  []string{"jane@example.com"},
		Domains: []domain.ClientDomain{
			{Domain: "exact.io"},
			{Domain: "acme.com", Wildcard: true},
		},
	}

	tests := []struct {
		name   string
		sender string
		want   bool
	}{
		{"exact email", "jane@example.com", true},
		{"exact email with tag", "Jane+list@example.com", true},
		{"exact domain", "anyone@exact.io", true},
		{"exact domain rejects subdomain", "ops@sub.exact.io", false},
		{"wildcard domain", "ops@acme.com", true},
		{"wildcard subdomain", "ops@eu.acme.com", true},
		{"wildcard rejects lookalike", "ops@acme.co", false},
		{"unknown", "eve@unknown.com", false},
		{"garbage", "not-an-email", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SnapshotAllows(snap, tt.sender); got != tt.want {
				t.Errorf("SnapshotAllows(%q) = %v, want %v", tt.sender, got, tt.want)
			}
		})
	}

	if SnapshotAllows(nil, "jane@example.com") {
		t.Error("nil snapshot must deny")
	}
}
