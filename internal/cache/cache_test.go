package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/domain"
	"github.com/specforge/specforge/internal/store"
)

type fakeBacking struct {
	calls int
	rec   *domain.IdempotencyKeyRecord
}

func (f *fakeBacking) CheckIdempotencyKey(_ context.Context, _ string) (*domain.IdempotencyKeyRecord, error) {
	f.calls++
	return f.rec, nil
}

func TestIdempotencyCache_DisabledDelegatesToBacking(t *testing.T) {
	backing := &fakeBacking{rec: &domain.IdempotencyKeyRecord{Key: "k", Status: domain.IdempotencyCompleted}}
	c := New(backing)

	rec, err := c.CheckIdempotencyKey(context.Background(), "k")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, backing.calls)
}

func TestIdempotencyCache_InvalidateNoopWhenDisabled(t *testing.T) {
	c := New(&fakeBacking{})
	require.NoError(t, c.Invalidate(context.Background(), "k"))
}

func TestCachedStore_DelegatesToBackingWhenDisabled(t *testing.T) {
	backing := store.NewMemoryArtifactStore()
	cached := NewCachedStore(backing, New(backing))

	artifact := domain.Artifact{
		Metadata: domain.ArtifactMetadata{GeneratorID: "hello", TenantID: "default"},
		Files:    []domain.GeneratedFile{{Path: "main.go", Content: "package main"}},
	}
	stored, err := cached.StoreArtifact(context.Background(), artifact, "key-1")
	require.NoError(t, err)
	require.NotNil(t, stored)

	rec, err := cached.CheckIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.IdempotencyCompleted, rec.Status)
}
