// Package pipeline provides the genre tree build pipeline.
//
// This package implements the complete load → similarity → build → export
// → persist pipeline behind the CLI. By centralizing this logic, every
// command shares the same caching and validation behavior.
//
// # Architecture
//
// The pipeline consists of five stages:
//
//  1. Load: Parse the relation table and rank genres by row order
//  2. Similarity: Compute (or fetch from cache) the cosine similarity matrix
//  3. Build: Grow the tree from the roots and linearize it
//  4. Export: Assemble the output record
//  5. Persist: Hand the record to every configured sink
//
// The output record is cached per table, roots and cutoff; a hit skips
// stages 2 through 4.
//
// # Usage
//
//	runner := pipeline.NewRunner(cache, nil, logger)
//	defer runner.Close(ctx)
//	runner.Sinks = []sink.Sink{sink.NewFile("tree.json", "")}
//
//	result, err := runner.Execute(ctx, pipeline.Options{
//	    TablePath: "genres.csv",
//	    Roots:     []string{"pop"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Record.NodesBFSOrder)
package pipeline

import (
	"io"
	"runtime"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/genretree/pkg/cache"
	gterrors "github.com/matzehuels/genretree/pkg/errors"
	"github.com/matzehuels/genretree/pkg/export"
	"github.com/matzehuels/genretree/pkg/rank"
	"github.com/matzehuels/genretree/pkg/similarity"
	"github.com/matzehuels/genretree/pkg/table"
	"github.com/matzehuels/genretree/pkg/tree"
)

// =============================================================================
// Default Values - Single Source of Truth for CLI and Config
// =============================================================================

// DefaultRoots is the root set used when none is given.
var DefaultRoots = []string{"pop"}

// DefaultTopK is the default allowed-set size.
const DefaultTopK = rank.DefaultTopK

// =============================================================================
// Options - Pipeline Configuration
// =============================================================================

// Options contains all configuration for one pipeline run.
type Options struct {
	// Load options
	TablePath string `json:"table_path"`

	// Build options
	Roots []string `json:"roots,omitempty"`
	TopK  int      `json:"top_k,omitempty"`

	// Similarity options
	Workers int `json:"workers,omitempty"`

	// Refresh skips cache reads; results are still written back.
	Refresh bool `json:"refresh,omitempty"`

	// Runtime options (not serialized)
	Logger *log.Logger `json:"-"`

	// validated tracks whether ValidateAndSetDefaults has been called.
	validated bool
}

// Result contains the outputs of a pipeline run.
type Result struct {
	// RunID identifies this execution in logs and sinks.
	RunID string

	// Table is the loaded relation table.
	Table *table.Table

	// Ranks is the rank index derived from the table.
	Ranks *rank.Index

	// Build is the tree builder result. It is nil when the record came
	// from the cache.
	Build *tree.Result

	// Record is the assembled output record.
	Record *export.Record

	// Stats contains timing and size information.
	Stats Stats

	// CacheInfo tracks which stages hit the cache.
	CacheInfo CacheInfo
}

// Stats contains pipeline execution statistics.
type Stats struct {
	Genres         int // rows in the relation table
	TreeGenres     int // genres in the output record
	Edges          int
	Levels         int
	LoadTime       time.Duration
	SimilarityTime time.Duration
	BuildTime      time.Duration
	PersistTime    time.Duration
}

// CacheInfo tracks cache hits for each pipeline stage.
type CacheInfo struct {
	SimilarityHit bool // Whether the similarity matrix came from cache
	RecordHit     bool // Whether the whole record came from cache
}

// =============================================================================
// Options Methods
// =============================================================================

// ValidateAndSetDefaults checks required fields and applies defaults.
// This method is idempotent - calling it multiple times has the same effect as calling it once.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if o.TablePath == "" {
		return gterrors.New(gterrors.ErrCodeInvalidInput, "relation table path is required")
	}
	if err := o.ValidateForBuild(); err != nil {
		return err
	}
	o.SetSimilarityDefaults()
	o.validated = true
	return nil
}

// ValidateForBuild checks the root set and cutoff and applies their defaults.
func (o *Options) ValidateForBuild() error {
	if err := gterrors.ValidateTopK(o.TopK); err != nil {
		return err
	}
	if o.TopK == 0 {
		o.TopK = DefaultTopK
	}
	if len(o.Roots) == 0 {
		o.Roots = slices.Clone(DefaultRoots)
	}
	for _, r := range o.Roots {
		if err := gterrors.ValidateGenreName(r); err != nil {
			return gterrors.Wrap(gterrors.ErrCodeInvalidConfig, err, "root %q", r)
		}
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return nil
}

// SetSimilarityDefaults sets default values for similarity computation.
func (o *Options) SetSimilarityDefaults() {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
}

// SimilarityKeyOpts returns cache key options for the similarity matrix.
func (o *Options) SimilarityKeyOpts() cache.SimilarityKeyOpts {
	return cache.SimilarityKeyOpts{Metric: similarity.MetricCosine}
}

// RecordKeyOpts returns cache key options for the output record.
func (o *Options) RecordKeyOpts() cache.RecordKeyOpts {
	return cache.RecordKeyOpts{Roots: slices.Clone(o.Roots), TopK: o.TopK}
}
