package cache

// ScopedKeyer wraps a Keyer with a prefix for namespace isolation.
// This is useful when several projects share one Redis instance:
//
//	keyer := NewScopedKeyer(NewDefaultKeyer(), "genretree:lastfm:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// SimilarityKey generates a prefixed key for similarity matrix caching.
func (k *ScopedKeyer) SimilarityKey(tableHash string, opts SimilarityKeyOpts) string {
	return k.prefix + k.inner.SimilarityKey(tableHash, opts)
}

// RecordKey generates a prefixed key for output record caching.
func (k *ScopedKeyer) RecordKey(tableHash string, opts RecordKeyOpts) string {
	return k.prefix + k.inner.RecordKey(tableHash, opts)
}
