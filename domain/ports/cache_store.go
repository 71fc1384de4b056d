package ports

// CacheStore provides persistence for compiled artifacts keyed by content
// hash. Extensions use it through the cache_ir and get_cached_ir host
// functions.
type CacheStore interface {
	// Get retrieves a cached artifact. Returns found=false (not an error)
	// when the key is absent.
	Get(key string) (payload []byte, found bool, err error)

	// Put persists an artifact under the key, replacing any previous
	// value. Returns the stored size in bytes.
	Put(key string, payload []byte) (int64, error)

	// Path returns the location of the backing store (for user messaging).
	Path() string
}
