// Package allowlist decides whether a sender may create tasks and serves
// versioned snapshots of the permitted emails and domains.
package allowlist

import (
	"strings"

	"helios_server/core/domain"
)

// NormalizeEmail lowercases, trims and strips a "+tag" suffix from the local
// part. Idempotent.
func NormalizeEmail(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return addr
	}
	local, dom := addr[:at], addr[at+1:]
	if plus := strings.Index(local, "+"); plus >= 0 {
		local = local[:plus]
	}
	return local + "@" + dom
}

// DomainOf extracts the lowercased domain after the last '@'.
func DomainOf(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return addr[at+1:]
}

// NormalizeDomain lowercases and trims a domain. Idempotent.
func NormalizeDomain(dom string) string {
	return strings.ToLower(strings.TrimSpace(dom))
}

// DomainMatches reports whether senderDomain is covered by d. Exact entries
// require equality; wildcard entries also cover proper subdomains.
func DomainMatches(senderDomain string, d domain.ClientDomain) bool {
	dom := NormalizeDomain(d.Domain)
	if senderDomain == dom {
		return true
	}
	return d.Wildcard && strings.HasSuffix(senderDomain, "."+dom)
}

// SnapshotAllows runs the allowlist decision against a snapshot.
func SnapshotAllows(snap *domain.AllowlistSnapshot, sender string) bool {
	if snap == nil {
		return false
	}
	norm := NormalizeEmail(sender)
	for _, e := range snap.Emails {
		if norm == e {
			return true
		}
	}
	senderDomain := DomainOf(norm)
	if senderDomain == "" {
		return false
	}
	for _, d := range snap.Domains {
		if !d.Wildcard && NormalizeDomain(d.Domain) == senderDomain {
			return true
		}
	}
	for _, d := range snap.Domains {
		if d.Wildcard && DomainMatches(senderDomain, d) {
			return true
		}
	}
	return false
}
