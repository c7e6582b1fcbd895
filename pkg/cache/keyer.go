package cache

// Keyer builds cache keys for pipeline artifacts.
// Keys hash every option that changes the artifact, so a change in options
// never returns a stale entry.
type Keyer interface {
	// SimilarityKey addresses a similarity matrix computed from a table.
	SimilarityKey(tableHash string, opts SimilarityKeyOpts) string

	// RecordKey addresses an output record built from a table.
	RecordKey(tableHash string, opts RecordKeyOpts) string
}

// SimilarityKeyOpts are the options that influence a similarity matrix.
type SimilarityKeyOpts struct {
	Metric string `json:"metric"`
}

// RecordKeyOpts are the options that influence an output record.
type RecordKeyOpts struct {
	Roots []string `json:"roots"`
	TopK  int      `json:"top_k"`
}

// DefaultKeyer produces "<kind>:<sha256>" keys.
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// SimilarityKey implements Keyer.
func (DefaultKeyer) SimilarityKey(tableHash string, opts SimilarityKeyOpts) string {
	return hashKey("similarity", tableHash, opts)
}

// RecordKey implements Keyer.
func (DefaultKeyer) RecordKey(tableHash string, opts RecordKeyOpts) string {
	return hashKey("record", tableHash, opts)
}
