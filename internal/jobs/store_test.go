package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/archive-forge/internal/pdf"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, time.Hour), mr
}

func storesUnderTest(t *testing.T) map[string]Store {
	redisStore, _ := newRedisStore(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  redisStore,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			missing, err := store.Get(ctx, "missing")
			require.NoError(t, err)
			assert.Nil(t, missing)

			record := &Record{
				TaskID: "t1",
				Status: StatusCreated,
				Source: Source{Kind: SourceUpload, OriginalName: "comic.zip"},
			}
			require.NoError(t, store.Put(ctx, record))
			assert.False(t, record.CreatedAt.IsZero())

			got, err := store.Get(ctx, "t1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, StatusCreated, got.Status)
			assert.Equal(t, "comic.zip", got.Source.OriginalName)

			updated, err := store.Update(ctx, "t1", func(r *Record) error {
				r.Status = StatusCompleted
				r.Progress = 100
				r.Documents = []pdf.Document{{Label: "folderA", Filename: "converted_folderA.pdf", Pages: 2}}
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, updated.Status)

			got, err = store.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, 1, got.DocumentCount())
			assert.Equal(t, "folderA", got.Documents[0].Label)

			require.NoError(t, store.Delete(ctx, "t1"))
			got, err = store.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStoreUpdateErrors(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Update(ctx, "missing", func(*Record) error { return nil })
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Put(ctx, &Record{TaskID: "t1", Status: StatusExtracting, Progress: 10}))
			boom := errors.New("boom")
			_, err = store.Update(ctx, "t1", func(r *Record) error {
				r.Progress = 90
				return boom
			})
			assert.ErrorIs(t, err, boom)

			got, err := store.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, 10, got.Progress, "rejected mutation must not be saved")
		})
	}
}

func TestStoreListOrdersByCreation(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			for i, id := range []string{"c", "a", "b"} {
				require.NoError(t, store.Put(ctx, &Record{
					TaskID:    id,
					Status:    StatusCreated,
					CreatedAt: base.Add(time.Duration(i) * time.Minute),
				}))
			}

			records, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, records, 3)
			assert.Equal(t, "c", records[0].TaskID)
			assert.Equal(t, "a", records[1].TaskID)
			assert.Equal(t, "b", records[2].TaskID)
		})
	}
}

func TestStoreConcurrentUpdates(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Put(ctx, &Record{TaskID: "t1", Status: StatusProcessingImages}))

			var wg sync.WaitGroup
			for i := 1; i <= 5; i++ {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()
					_, _ = store.Update(ctx, "t1", func(r *Record) error {
						r.Progress = max(r.Progress, p*10)
						return nil
					})
				}(i)
			}
			wg.Wait()

			got, err := store.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, 50, got.Progress)
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, &Record{
		TaskID:    "t1",
		Status:    StatusCompleted,
		Documents: []pdf.Document{{Label: "a"}},
	}))

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	got.Documents[0].Label = "changed"
	got.Status = StatusFailed

	again, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Documents[0].Label)
	assert.Equal(t, StatusCompleted, again.Status)
}

func TestRedisStoreAppliesTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, &Record{TaskID: "t1", Status: StatusCreated}))

	assert.Equal(t, time.Hour, mr.TTL(taskKey("t1")))

	mr.FastForward(2 * time.Hour)
	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
