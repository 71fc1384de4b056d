package hostfuncs

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-dev/gantry/domain/entities"
)

func TestEnvStore_SeedIsCopied(t *testing.T) {
	seed := map[string]string{"HOME": "/workspace"}
	store := NewEnvStore(seed)

	seed["HOME"] = "/elsewhere"

	value, found := store.Get("HOME")
	assert.True(t, found)
	assert.Equal(t, "/workspace", value)
}

func TestEnvStore_Snapshot(t *testing.T) {
	store := NewEnvStore(map[string]string{"A": "1"})
	store.Set("B", "2")

	snap := store.Snapshot()
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, snap)

	// Mutating the snapshot must not leak back into the store
	snap["A"] = "changed"
	value, _ := store.Get("A")
	assert.Equal(t, "1", value)
}

func TestEnvStore_ConcurrentAccess(t *testing.T) {
	store := NewEnvStore(nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			store.Set(fmt.Sprintf("KEY_%d", n), "value")
		}(i)
		go func(n int) {
			defer wg.Done()
			store.Get(fmt.Sprintf("KEY_%d", n))
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.Snapshot(), 10)
}

func TestPerformEnvGet(t *testing.T) {
	store := NewEnvStore(map[string]string{"EDITOR": "vim"})

	t.Run("present variable", func(t *testing.T) {
		resp := PerformEnvGet(context.Background(), store, entities.EnvGetRequest{Name: "EDITOR"})

		require.Nil(t, resp.Error)
		assert.True(t, resp.Found)
		assert.Equal(t, "vim", resp.Value)
	})

	t.Run("absent variable", func(t *testing.T) {
		resp := PerformEnvGet(context.Background(), store, entities.EnvGetRequest{Name: "MISSING"})

		require.Nil(t, resp.Error)
		assert.False(t, resp.Found)
		assert.Empty(t, resp.Value)
	})

	t.Run("empty name", func(t *testing.T) {
		resp := PerformEnvGet(context.Background(), store, entities.EnvGetRequest{})

		require.NotNil(t, resp.Error)
		assert.Equal(t, "validation", resp.Error.Type)
		assert.Equal(t, "EMPTY_NAME", resp.Error.Code)
	})
}

func TestPerformEnvSet(t *testing.T) {
	t.Run("writes to overlay", func(t *testing.T) {
		store := NewEnvStore(nil)

		resp := PerformEnvSet(context.Background(), store, entities.EnvSetRequest{
			Name:  "CACHE_DIR",
			Value: "/tmp/cache",
		})

		require.Nil(t, resp.Error)
		value, found := store.Get("CACHE_DIR")
		assert.True(t, found)
		assert.Equal(t, "/tmp/cache", value)
	})

	t.Run("overwrites seeded value", func(t *testing.T) {
		store := NewEnvStore(map[string]string{"MODE": "dev"})

		PerformEnvSet(context.Background(), store, entities.EnvSetRequest{Name: "MODE", Value: "prod"})

		value, _ := store.Get("MODE")
		assert.Equal(t, "prod", value)
	})

	t.Run("empty name", func(t *testing.T) {
		resp := PerformEnvSet(context.Background(), NewEnvStore(nil), entities.EnvSetRequest{Value: "x"})

		require.NotNil(t, resp.Error)
		assert.Equal(t, "EMPTY_NAME", resp.Error.Code)
	})
}

func TestPerformEnvSet_NeverTouchesProcessEnv(t *testing.T) {
	store := NewEnvStore(nil)

	PerformEnvSet(context.Background(), store, entities.EnvSetRequest{
		Name:  "GANTRY_OVERLAY_PROBE",
		Value: "leaked",
	})

	_, present := os.LookupEnv("GANTRY_OVERLAY_PROBE")
	assert.False(t, present, "overlay writes must not reach the process environment")
}
