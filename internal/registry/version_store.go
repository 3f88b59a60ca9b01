package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/specforge/specforge/internal/canon"
	"github.com/specforge/specforge/internal/domain"
	"github.com/specforge/specforge/internal/errs"
	"github.com/specforge/specforge/internal/semverx"
)

// VersionStore is the persistent index of generator manifests across
// versions. Registering the same (id,version) twice upserts (last write
// wins) — unlike the in-process Catalogue, which rejects the collision.
type VersionStore interface {
	RegisterVersion(ctx context.Context, m domain.GeneratorManifest) (*domain.GeneratorVersion, error)
	GetLatestVersion(ctx context.Context, id string) (*domain.GeneratorVersion, error)
	GetVersion(ctx context.Context, id, version string) (*domain.GeneratorVersion, error)
	GetCompatibleVersions(ctx context.Context, id, runtime, targetVersion string) ([]domain.GeneratorVersion, error)
	DeprecateVersion(ctx context.Context, id, version string) error
	CheckUpgrade(ctx context.Context, id, current, runtime string) (*domain.UpgradeInfo, error)
	ListVersions(ctx context.Context, id string) ([]domain.GeneratorVersion, error)
}

// MemoryVersionStore is the in-memory VersionStore backend, for tests and
// single-process deployments.
type MemoryVersionStore struct {
	mu       sync.Mutex
	versions map[string]map[string]domain.GeneratorVersion // id -> version -> record
}

// NewMemoryVersionStore returns an empty in-memory store.
func NewMemoryVersionStore() *MemoryVersionStore {
	return &MemoryVersionStore{versions: map[string]map[string]domain.GeneratorVersion{}}
}

func (s *MemoryVersionStore) RegisterVersion(_ context.Context, m domain.GeneratorManifest) (*domain.GeneratorVersion, error) {
	hash, err := canon.Hash(m)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "hashing manifest", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[m.ID]; !ok {
		s.versions[m.ID] = map[string]domain.GeneratorVersion{}
	}
	record := domain.GeneratorVersion{
		GeneratorID:  m.ID,
		Version:      m.Version,
		Manifest:     m,
		ManifestHash: hash,
		RegisteredAt: time.Now().UTC(),
	}
	if existing, ok := s.versions[m.ID][m.Version]; ok {
		record.DeprecatedAt = existing.DeprecatedAt
	}
	s.versions[m.ID][m.Version] = record
	return &record, nil
}

func (s *MemoryVersionStore) GetVersion(_ context.Context, id, version string) (*domain.GeneratorVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.versions[id]
	if !ok {
		return nil, nil
	}
	record, ok := versions[version]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *MemoryVersionStore) GetLatestVersion(ctx context.Context, id string) (*domain.GeneratorVersion, error) {
	all, err := s.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	var best *domain.GeneratorVersion
	for i := range all {
		v := all[i]
		if v.DeprecatedAt != nil {
			continue
		}
		if best == nil {
			best = &all[i]
			continue
		}
		if cmp, err := semverx.Compare(v.Version, best.Version); err == nil && cmp > 0 {
			best = &all[i]
		}
	}
	return best, nil
}

func (s *MemoryVersionStore) GetCompatibleVersions(ctx context.Context, id, runtime, targetVersion string) ([]domain.GeneratorVersion, error) {
	all, err := s.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}

	var out []domain.GeneratorVersion
	for _, v := range all {
		if v.DeprecatedAt != nil {
			continue
		}
		constraint, ok := v.Manifest.Compatibility[runtime]
		if !ok {
			continue
		}
		target := targetVersion
		if target == "" {
			target = v.Version
		}
		ok2, err := semverx.Satisfies(target, constraint)
		if err != nil || !ok2 {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *MemoryVersionStore) DeprecateVersion(_ context.Context, id, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.versions[id]
	if !ok {
		return errs.New(errs.KindNotFound, fmt.Sprintf("generator %s not found", id))
	}
	record, ok := versions[version]
	if !ok {
		return errs.New(errs.KindNotFound, fmt.Sprintf("generator %s@%s not found", id, version))
	}
	now := time.Now().UTC()
	record.DeprecatedAt = &now
	versions[version] = record
	return nil
}

// CheckUpgrade evaluates versionSatisfies(target, compatibility[runtime])
// against the caller-supplied runtime identity, rather than stubbing
// isCompatible = isAvailable (spec §9 REDESIGN FLAG).
func (s *MemoryVersionStore) CheckUpgrade(ctx context.Context, id, current, runtime string) (*domain.UpgradeInfo, error) {
	latest, err := s.GetLatestVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return &domain.UpgradeInfo{CurrentVersion: current}, nil
	}

	cmp, err := semverx.Compare(current, latest.Version)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "comparing versions", err)
	}
	isAvailable := cmp < 0

	isCompatible := true
	if runtime != "" {
		if constraint, ok := latest.Manifest.Compatibility[runtime]; ok {
			isCompatible, err = semverx.Satisfies(latest.Version, constraint)
			if err != nil {
				isCompatible = false
			}
		}
	}

	return &domain.UpgradeInfo{
		CurrentVersion: current,
		LatestVersion:  latest.Version,
		IsAvailable:    isAvailable,
		IsCompatible:   isCompatible,
	}, nil
}

func (s *MemoryVersionStore) ListVersions(_ context.Context, id string) ([]domain.GeneratorVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.versions[id]
	if !ok {
		return nil, nil
	}
	out := make([]domain.GeneratorVersion, 0, len(versions))
	for _, v := range versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		cmp, err := semverx.Compare(out[i].Version, out[j].Version)
		if err != nil {
			return out[i].Version < out[j].Version
		}
		return cmp < 0
	})
	return out, nil
}
