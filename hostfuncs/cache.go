package hostfuncs

import (
	"context"

	"github.com/gantry-dev/gantry/domain/entities"
)

// Cache is the storage surface behind cache_ir and get_cached_ir. The
// infrastructure store compresses large payloads transparently; handlers
// only see plain bytes.
type Cache interface {
	// Get returns the payload for key and whether it was present.
	Get(key string) ([]byte, bool, error)

	// Put stores payload under key and returns the stored size in bytes.
	Put(key string, payload []byte) (int64, error)
}

// MaxCacheKeyLength bounds cache keys. Keys are content hashes in practice;
// anything longer is rejected rather than truncated.
const MaxCacheKeyLength = 256

// PerformCachePut answers a cache_ir call against the given cache.
func PerformCachePut(ctx context.Context, cache Cache, req entities.CachePutRequest) entities.CachePutResponse {
	if detail := validateCacheKey(req.Key); detail != nil {
		return entities.CachePutResponse{Error: detail}
	}
	if len(req.Payload) == 0 {
		return entities.CachePutResponse{
			Error: &entities.ErrorDetail{
				Type:    "validation",
				Code:    "EMPTY_PAYLOAD",
				Message: "payload is required",
			},
		}
	}

	stored, err := cache.Put(req.Key, req.Payload)
	if err != nil {
		return entities.CachePutResponse{
			Error: &entities.ErrorDetail{
				Type:    "io",
				Code:    "CACHE_WRITE_FAILED",
				Message: err.Error(),
			},
		}
	}

	return entities.CachePutResponse{Stored: true, StoredSize: stored}
}

// PerformCacheGet answers a get_cached_ir call against the given cache.
// A missing key is not an error: Found is false and Payload empty.
func PerformCacheGet(ctx context.Context, cache Cache, req entities.CacheGetRequest) entities.CacheGetResponse {
	if detail := validateCacheKey(req.Key); detail != nil {
		return entities.CacheGetResponse{Error: detail}
	}

	payload, found, err := cache.Get(req.Key)
	if err != nil {
		return entities.CacheGetResponse{
			Error: &entities.ErrorDetail{
				Type:    "io",
				Code:    "CACHE_READ_FAILED",
				Message: err.Error(),
			},
		}
	}
	if !found {
		return entities.CacheGetResponse{Found: false}
	}

	return entities.CacheGetResponse{Payload: payload, Found: true}
}

func validateCacheKey(key string) *entities.ErrorDetail {
	if key == "" {
		return &entities.ErrorDetail{
			Type:    "validation",
			Code:    "EMPTY_KEY",
			Message: "cache key is required",
		}
	}
	if len(key) > MaxCacheKeyLength {
		return &entities.ErrorDetail{
			Type:    "validation",
			Code:    "KEY_TOO_LONG",
			Message: "cache key exceeds maximum length",
		}
	}
	return nil
}
