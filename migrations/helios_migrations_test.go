package migrations

import (
	"strings"
	"testing"
)

// Allowlist entries are scoped per client: two clients may both allowlist
// the same address or domain.
func TestAllowlistEntriesUniquePerClient(t *testing.T) {
	data, err := FS.ReadFile("0001_clients.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	schema := string(data)

	if !strings.Contains(schema, "UNIQUE (client_id, email)") {
		t.Error("client_emails uniqueness must include client_id")
	}
	if !strings.Contains(schema, "UNIQUE (client_id, domain, wildcard)") {
		t.Error("client_domains uniqueness must include client_id")
	}
	if strings.Contains(schema, "UNIQUE (email)") {
		t.Error("client_emails must not be globally unique")
	}
	if strings.Contains(schema, "UNIQUE (domain, wildcard)") {
		t.Error("client_domains must not be globally unique")
	}
}
