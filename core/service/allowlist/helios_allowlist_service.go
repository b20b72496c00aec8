package allowlist

import (
	"context"
	"fmt"

	"helios_server/core/domain"
	"helios_server/core/port/out"
	"helios_server/pkg/apperr"
)

// Service serves allowlist decisions and versioned snapshots. Snapshots are
// cached; the cache is trusted only while its version matches the store's.
type Service struct {
	repo  out.AllowlistRepository
	cache out.AllowlistCache
}

// NewService creates an allowlist service. cache may be nil.
func NewService(repo out.AllowlistRepository, cache out.AllowlistCache) *Service {
	return &Service{repo: repo, cache: cache}
}

// ETag formats a snapshot version as a weak etag.
func ETag(version int64) string {
	return fmt.Sprintf("W/\"%d\"", version)
}

// SnapshotView is the API shape of a snapshot read.
type SnapshotView struct {
	NotModified bool                  `json:"not_modified,omitempty"`
	ETag        string                `json:"etag"`
	Version     int64                 `json:"version,omitempty"`
	Emails      []string              `json:"emails,omitempty"`
	Domains     []domain.ClientDomain `json:"domains,omitempty"`
	GeneratedAt string                `json:"generated_at,omitempty"`
}

// Snapshot returns the current snapshot, honoring an If-None-Match hint.
// When the caller's etag still matches the store version only
// {not_modified, etag} is returned.
func (s *Service) Snapshot(ctx context.Context, ifNoneMatch string) (*SnapshotView, error) {
	version, err := s.repo.Version(ctx)
	if err != nil {
		return nil, apperr.DatabaseError("read allowlist version", err)
	}

	if ifNoneMatch != "" && ifNoneMatch == ETag(version) {
		return &SnapshotView{NotModified: true, ETag: ETag(version)}, nil
	}

	snap, err := s.snapshot(ctx, version)
	if err != nil {
		return nil, err
	}
	return &SnapshotView{
		ETag:        ETag(snap.Version),
		Version:     snap.Version,
		Emails:      snap.Emails,
		Domains:     snap.Domains,
		GeneratedAt: snap.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}, nil
}

// Allowed reports whether sender passes the allowlist.
func (s *Service) Allowed(ctx context.Context, sender string) (bool, error) {
	version, err := s.repo.Version(ctx)
	if err != nil {
		return false, apperr.DatabaseError("read allowlist version", err)
	}
	snap, err := s.snapshot(ctx, version)
	if err != nil {
		return false, err
	}
	return SnapshotAllows(snap, sender), nil
}

// snapshot serves from cache when the cached version is still current,
// otherwise reads the store and refreshes the cache.
func (s *Service) snapshot(ctx context.Context, version int64) (*domain.AllowlistSnapshot, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx); ok && cached.Version == version {
			return cached, nil
		}
	}
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return nil, apperr.DatabaseError("read allowlist snapshot", err)
	}
	if s.cache != nil {
		s.cache.Set(ctx, snap)
	}
	return snap, nil
}
