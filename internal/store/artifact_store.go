package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/specforge/specforge/internal/canon"
	"github.com/specforge/specforge/internal/domain"
	"github.com/specforge/specforge/internal/errs"
)

// DefaultIdempotencyTTL is the lifetime of a pending/completed/failed
// idempotency key record before it is treated as absent (spec.md §3).
const DefaultIdempotencyTTL = 24 * time.Hour

// ArtifactStore holds artifact metadata, per-file references, and the
// idempotency-key index, backed by a ContentAddressableStore for file
// bytes (spec.md §4.8).
type ArtifactStore interface {
	StoreArtifact(ctx context.Context, artifact domain.Artifact, idempotencyKey string) (*domain.Artifact, error)
	GetArtifact(ctx context.Context, id string) (*domain.Artifact, error)
	GetArtifactVersion(ctx context.Context, id string, version int) (*domain.Artifact, error)
	ListArtifactVersions(ctx context.Context, id string) ([]domain.Artifact, error)
	CheckIdempotencyKey(ctx context.Context, key string) (*domain.IdempotencyKeyRecord, error)
	GetArtifactByIdempotencyKey(ctx context.Context, key string) (*domain.Artifact, error)
	DeleteArtifact(ctx context.Context, id string) error
}

// fileEntry is the canonical {path,content} pair hashed for contentHash
// per spec.md §4.8 step 4 ("canonical-JSON of sort-by-path [{path,content}]").
type fileEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// computeContentHash hashes the sorted-by-path file set, independent of
// the order files were supplied in (spec.md §8 scenario 4).
func computeContentHash(files []domain.GeneratedFile) (string, int, error) {
	entries := make([]fileEntry, len(files))
	size := 0
	for i, f := range files {
		entries[i] = fileEntry{Path: f.Path, Content: f.Content}
		size += f.Size
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	hash, err := canon.Hash(entries)
	if err != nil {
		return "", 0, errs.Wrap(errs.KindStoreBackendError, "hashing file set", err)
	}
	return hash, size, nil
}

// MemoryArtifactStore is the in-memory ArtifactStore backend (spec.md §5:
// "a single mutex covering the catalogue plus idempotency table plus
// artifacts table"). Grounded on virtengine's MemoryArtifactStore
// three-map shape, generalized to versioned artifacts plus an idempotency
// index, and fixed per spec.md §9's two REDESIGN FLAGS: the version
// counter is computed and inserted inside the same critical section as
// the map write, and every StoreArtifact call also writes file bytes into
// this store's own CAS instead of only recording metadata.
type MemoryArtifactStore struct {
	mu       sync.Mutex
	cas      ContentAddressableStore
	versions map[string][]domain.Artifact          // artifactId -> versions ascending
	idemp    map[string]domain.IdempotencyKeyRecord // key -> record
	ttl      time.Duration
}

// NewMemoryArtifactStore returns an empty store backed by an in-memory CAS.
func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{
		cas:      NewMemoryCAS(),
		versions: map[string][]domain.Artifact{},
		idemp:    map[string]domain.IdempotencyKeyRecord{},
		ttl:      DefaultIdempotencyTTL,
	}
}

// expireLocked deletes and returns nil if rec has passed its TTL; callers
// must hold s.mu.
func (s *MemoryArtifactStore) expireLocked(key string) *domain.IdempotencyKeyRecord {
	rec, ok := s.idemp[key]
	if !ok {
		return nil
	}
	if time.Now().After(rec.ExpiresAt) {
		delete(s.idemp, key)
		return nil
	}
	return &rec
}

// StoreArtifact implements the 7-step protocol of spec.md §4.8.
func (s *MemoryArtifactStore) StoreArtifact(ctx context.Context, artifact domain.Artifact, idempotencyKey string) (*domain.Artifact, error) {
	s.mu.Lock()

	// Step 1: resolve existing idempotency state.
	if existing := s.expireLocked(idempotencyKey); existing != nil {
		switch existing.Status {
		case domain.IdempotencyCompleted:
			id := existing.ArtifactID
			s.mu.Unlock()
			return s.GetArtifact(ctx, id)
		case domain.IdempotencyPending:
			s.mu.Unlock()
			return nil, errs.InProgressError(idempotencyKey)
		case domain.IdempotencyFailed:
			cause := errs.New(errs.KindStoreBackendError, existing.Error)
			s.mu.Unlock()
			return nil, errs.PreviousAttemptFailedError(idempotencyKey, cause)
		}
	}

	// Step 2: insert pending record under the same critical section.
	now := time.Now().UTC()
	pending := domain.IdempotencyKeyRecord{
		ID:          uuid.NewString(),
		Key:         idempotencyKey,
		GeneratorID: artifact.Metadata.GeneratorID,
		TenantID:    artifact.Metadata.TenantID,
		Status:      domain.IdempotencyPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	s.idemp[idempotencyKey] = pending

	// Step 3: derive artifactId and the next version atomically — fixes
	// the non-atomic "existingVersions.length + 1" bug: the read and the
	// append happen under the same lock as the pending-record insert.
	artifactID := artifact.ID
	if artifactID == "" {
		artifactID = uuid.NewString()
	}
	version := len(s.versions[artifactID]) + 1

	// Step 4: content hash + size over the file set.
	contentHash, size, err := computeContentHash(artifact.Files)
	if err != nil {
		s.failLocked(idempotencyKey, err)
		s.mu.Unlock()
		return nil, err
	}

	stored := artifact
	stored.ID = artifactID
	stored.Version = version
	stored.ContentHash = contentHash
	stored.Size = size
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.Metadata.ArtifactID = artifactID

	// Step 5: persist the artifact row and every file blob — fixes the
	// CAS-bypass bug: file content is written into this store's own CAS
	// as part of the same atomic unit, not only recorded in metadata.
	for _, f := range stored.Files {
		if _, err := s.cas.Put(ctx, []byte(f.Content)); err != nil {
			s.failLocked(idempotencyKey, err)
			s.mu.Unlock()
			return nil, err
		}
	}
	s.versions[artifactID] = append(s.versions[artifactID], stored)

	// Step 6: transition to completed, commit (the mutex unlock is the commit).
	completed := s.idemp[idempotencyKey]
	completed.Status = domain.IdempotencyCompleted
	completed.ArtifactID = artifactID
	s.idemp[idempotencyKey] = completed

	s.mu.Unlock()
	return &stored, nil
}

// failLocked marks idempotencyKey failed with err's message. Callers must
// hold s.mu.
func (s *MemoryArtifactStore) failLocked(key string, err error) {
	rec, ok := s.idemp[key]
	if !ok {
		return
	}
	rec.Status = domain.IdempotencyFailed
	rec.Error = err.Error()
	s.idemp[key] = rec
}

func (s *MemoryArtifactStore) GetArtifact(_ context.Context, id string) (*domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.versions[id]
	if len(versions) == 0 {
		return nil, errs.New(errs.KindNotFound, "artifact "+id+" not found")
	}
	latest := versions[len(versions)-1]
	return &latest, nil
}

func (s *MemoryArtifactStore) GetArtifactVersion(_ context.Context, id string, version int) (*domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions[id] {
		if v.Version == version {
			found := v
			return &found, nil
		}
	}
	return nil, nil
}

func (s *MemoryArtifactStore) ListArtifactVersions(_ context.Context, id string) ([]domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Artifact, len(s.versions[id]))
	copy(out, s.versions[id])
	return out, nil
}

func (s *MemoryArtifactStore) CheckIdempotencyKey(_ context.Context, key string) (*domain.IdempotencyKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.expireLocked(key)
	return rec, nil
}

func (s *MemoryArtifactStore) GetArtifactByIdempotencyKey(ctx context.Context, key string) (*domain.Artifact, error) {
	rec, err := s.CheckIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Status != domain.IdempotencyCompleted {
		return nil, nil
	}
	return s.GetArtifact(ctx, rec.ArtifactID)
}

func (s *MemoryArtifactStore) DeleteArtifact(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.versions, id)
	return nil
}
