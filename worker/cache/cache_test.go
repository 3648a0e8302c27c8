package cache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recollector/api/models"
)

func newTestStore(t *testing.T) (*StatusStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStatusStore(client), mr
}

func TestStatusStore_GetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "never-submitted")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := store.Exists(context.Background(), "never-submitted")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatusStore_SetGetUsesPrefixedKey(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "t1", models.NewRecord()))

	raw, err := mr.Get("task:status:t1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"processing","progress":0}`, raw)
	assert.Zero(t, mr.TTL("task:status:t1"))

	rec, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, rec.Status)
}

func TestStatusStore_SetOverwritesWholesale(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first := models.NewRecord()
	require.NoError(t, first.AttachRecipient("a@example.com"))
	require.NoError(t, store.Set(ctx, "t1", first))
	require.NoError(t, store.Set(ctx, "t1", models.NewRecord()))

	rec, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, rec.RecipientEmail)
}

func TestStatusStore_Delete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "t1", models.NewRecord()))

	existed, err := store.Delete(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.Delete(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = store.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatusStore_UpdatePreservesOtherFields(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := models.NewRecord()
	require.NoError(t, rec.AttachRecipient("user@example.com"))
	require.NoError(t, store.Set(ctx, "t1", rec))

	err := store.Update(ctx, "t1", func(r *models.Record) error {
		return r.Advance(55, "generating")
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 55, got.Progress)
	assert.Equal(t, "user@example.com", got.RecipientEmail)
}

func TestStatusStore_UpdateMissing(t *testing.T) {
	store, _ := newTestStore(t)

	called := false
	err := store.Update(context.Background(), "gone", func(r *models.Record) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, called)
}

func TestStatusStore_UpdatePropagatesFnError(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "t1", models.NewRecord()))

	sentinel := errors.New("nope")
	err := store.Update(ctx, "t1", func(r *models.Record) error {
		r.Progress = 99
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Progress)
}

func TestStatusStore_ConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "t1", models.NewRecord()))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 20; i++ {
			updateUntilApplied(t, store, func(r *models.Record) error {
				return r.Advance(i, "generating")
			})
		}
	}()
	go func() {
		defer wg.Done()
		updateUntilApplied(t, store, func(r *models.Record) error {
			return r.AttachRecipient("late@example.com")
		})
	}()
	wg.Wait()

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 20, got.Progress)
	assert.Equal(t, "late@example.com", got.RecipientEmail)
}

func updateUntilApplied(t *testing.T, store *StatusStore, fn func(*models.Record) error) {
	t.Helper()
	for {
		err := store.Update(context.Background(), "t1", fn)
		if errors.Is(err, ErrConflict) {
			continue
		}
		assert.NoError(t, err)
		return
	}
}
