package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/domain"
	"github.com/specforge/specforge/internal/errs"
)

func sampleArtifact(tenant string, files ...domain.GeneratedFile) domain.Artifact {
	return domain.Artifact{
		Metadata: domain.ArtifactMetadata{GeneratorID: "hello", TenantID: tenant},
		Files:    files,
	}
}

func TestMemoryCAS_PutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cas := NewMemoryCAS()

	h1, err := cas.Put(ctx, []byte("hello"))
	require.NoError(t, err)
	h2, err := cas.Put(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	content, err := cas.Get(ctx, h1)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestMemoryCAS_GetMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	cas := NewMemoryCAS()
	_, err := cas.Get(ctx, "deadbeef")
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestMemoryArtifactStore_StoreThenGetArtifact(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArtifactStore()

	a := sampleArtifact("default", domain.GeneratedFile{Path: "main.go", Content: "package main", Size: 12})
	stored, err := s.StoreArtifact(ctx, a, "key-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
	assert.NotEmpty(t, stored.ContentHash)

	fetched, err := s.GetArtifact(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, fetched.ID)
	assert.Equal(t, stored.ContentHash, fetched.ContentHash)
}

func TestMemoryArtifactStore_IdempotentRetryReturnsSameRecord(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArtifactStore()

	a := sampleArtifact("default", domain.GeneratedFile{Path: "a.txt", Content: "x", Size: 1})
	first, err := s.StoreArtifact(ctx, a, "key-retry")
	require.NoError(t, err)

	second, err := s.StoreArtifact(ctx, a, "key-retry")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, first.ContentHash, second.ContentHash)
}

func TestMemoryArtifactStore_ContentHashOrderIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArtifactStore()

	a1 := sampleArtifact("default",
		domain.GeneratedFile{Path: "b.txt", Content: "B", Size: 1},
		domain.GeneratedFile{Path: "a.txt", Content: "A", Size: 1},
	)
	stored1, err := s.StoreArtifact(ctx, a1, "key-order-1")
	require.NoError(t, err)

	a2 := sampleArtifact("default",
		domain.GeneratedFile{Path: "a.txt", Content: "A", Size: 1},
		domain.GeneratedFile{Path: "b.txt", Content: "B", Size: 1},
	)
	stored2, err := s.StoreArtifact(ctx, a2, "key-order-2")
	require.NoError(t, err)

	assert.Equal(t, stored1.ContentHash, stored2.ContentHash)
}

func TestMemoryArtifactStore_DifferentKeysAreIndependentVersions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArtifactStore()

	a := sampleArtifact("default", domain.GeneratedFile{Path: "a.txt", Content: "x", Size: 1})
	first, err := s.StoreArtifact(ctx, a, "key-a")
	require.NoError(t, err)

	a2 := a
	a2.ID = first.ID
	second, err := s.StoreArtifact(ctx, a2, "key-b")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Version)
}

func TestMemoryArtifactStore_ConcurrentSameKeyProducesOneArtifact(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArtifactStore()
	a := sampleArtifact("default", domain.GeneratedFile{Path: "a.txt", Content: "x", Size: 1})

	const n = 20
	var wg sync.WaitGroup
	results := make([]*domain.Artifact, n)
	errsOut := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errsOut[i] = s.StoreArtifact(ctx, a, "shared-key")
		}(i)
	}
	wg.Wait()

	successes := 0
	for i := 0; i < n; i++ {
		if errsOut[i] == nil {
			successes++
			require.NotNil(t, results[i])
		} else {
			assert.Equal(t, errs.KindInProgress, errs.KindOf(errsOut[i]))
		}
	}
	assert.GreaterOrEqual(t, successes, 1)

	versions, err := s.ListArtifactVersions(ctx, results[indexOfFirstSuccess(errsOut)].ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1, "exactly one artifact version must be stored for a shared idempotency key")
}

func indexOfFirstSuccess(errsOut []error) int {
	for i, e := range errsOut {
		if e == nil {
			return i
		}
	}
	return -1
}

func TestMemoryArtifactStore_GetArtifactVersionExactMatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArtifactStore()
	a := sampleArtifact("default", domain.GeneratedFile{Path: "a.txt", Content: "x", Size: 1})
	stored, err := s.StoreArtifact(ctx, a, "key-1")
	require.NoError(t, err)

	v, err := s.GetArtifactVersion(ctx, stored.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 1, v.Version)

	missing, err := s.GetArtifactVersion(ctx, stored.ID, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryArtifactStore_GetArtifactByIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArtifactStore()
	a := sampleArtifact("default", domain.GeneratedFile{Path: "a.txt", Content: "x", Size: 1})
	stored, err := s.StoreArtifact(ctx, a, "key-lookup")
	require.NoError(t, err)

	fetched, err := s.GetArtifactByIdempotencyKey(ctx, "key-lookup")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, stored.ID, fetched.ID)
}

func TestMemoryArtifactStore_CheckIdempotencyKeyUnknownReturnsNil(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArtifactStore()
	rec, err := s.CheckIdempotencyKey(ctx, "never-seen")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMemoryArtifactStore_DeleteArtifactRemovesAllVersions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArtifactStore()
	a := sampleArtifact("default", domain.GeneratedFile{Path: "a.txt", Content: "x", Size: 1})
	stored, err := s.StoreArtifact(ctx, a, "key-del")
	require.NoError(t, err)

	require.NoError(t, s.DeleteArtifact(ctx, stored.ID))
	_, err = s.GetArtifact(ctx, stored.ID)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}
