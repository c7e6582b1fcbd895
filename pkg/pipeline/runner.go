package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/matzehuels/genretree/pkg/cache"
	"github.com/matzehuels/genretree/pkg/export"
	"github.com/matzehuels/genretree/pkg/observability"
	"github.com/matzehuels/genretree/pkg/rank"
	"github.com/matzehuels/genretree/pkg/similarity"
	"github.com/matzehuels/genretree/pkg/sink"
	"github.com/matzehuels/genretree/pkg/table"
	"github.com/matzehuels/genretree/pkg/tree"
)

// Cache key types reported to observability hooks.
const (
	keyTypeSimilarity = "similarity"
	keyTypeRecord     = "record"
)

// Runner encapsulates pipeline execution with caching and persistence.
//
// The Runner is stateless except for the cache, logger and sinks - it
// doesn't store pipeline results.
type Runner struct {
	Cache  cache.Cache
	Keyer  cache.Keyer
	Logger *log.Logger
	Sinks  []sink.Sink

	// TTL overrides the per-artifact cache expiration when positive.
	TTL time.Duration

	// now is stubbed by tests.
	now func() time.Time
}

// NewRunner creates a runner with the given cache and keyer.
// If keyer is nil, a DefaultKeyer is used.
// If cache is nil, a NullCache is used (caching disabled).
func NewRunner(c cache.Cache, keyer cache.Keyer, logger *log.Logger) *Runner {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Cache:  c,
		Keyer:  keyer,
		Logger: logger,
		now:    time.Now,
	}
}

// Execute runs the complete load → similarity → build → export → persist
// pipeline with caching.
func (r *Runner) Execute(ctx context.Context, opts Options) (result *Result, err error) {
	r.applyLogger(&opts)
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	result = &Result{RunID: uuid.NewString()}
	logger := opts.Logger.With("run", result.RunID)

	ctx, span := observability.Tracer().Start(ctx, "pipeline.Execute")
	span.SetAttributes(
		attribute.String("genretree.run_id", result.RunID),
		attribute.String("genretree.table", opts.TablePath),
		attribute.StringSlice("genretree.roots", opts.Roots),
		attribute.Int("genretree.top_k", opts.TopK),
	)
	defer func() {
		if err == nil {
			span.SetAttributes(
				attribute.Int("genretree.tree.genres", result.Stats.TreeGenres),
				attribute.Bool("genretree.cache.record_hit", result.CacheInfo.RecordHit),
			)
		}
		endSpan(span, err)
	}()

	// Stage 1: Load
	loadStart := time.Now()
	t, ranks, err := r.Load(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	result.Table, result.Ranks = t, ranks
	result.Stats.LoadTime = time.Since(loadStart)
	result.Stats.Genres = t.Len()

	logger.Info("loaded relation table",
		"genres", t.Len(),
		"features", t.Width(),
		"allowed", len(ranks.AllowedGenres()),
		"duration", result.Stats.LoadTime)

	recordKey := r.Keyer.RecordKey(t.Hash(), opts.RecordKeyOpts())
	if rec, levels, ok := r.cachedRecord(ctx, recordKey, opts); ok {
		result.Record = rec
		result.CacheInfo.RecordHit = true
		result.Stats.Levels = levels
		observability.Pipeline().OnTreeBuilt(ctx, rec.Genres(), rec.Edges(), levels)
		logger.Info("using cached record", "genres", rec.Genres(), "levels", levels)
	} else {
		// Stage 2: Similarity
		simStart := time.Now()
		m, simHit, err := r.SimilarityWithCacheInfo(ctx, t, opts)
		if err != nil {
			return nil, fmt.Errorf("similarity: %w", err)
		}
		result.Stats.SimilarityTime = time.Since(simStart)
		result.CacheInfo.SimilarityHit = simHit

		logger.Info("computed similarity matrix",
			"genres", m.Len(),
			"cached", simHit,
			"duration", result.Stats.SimilarityTime)

		// Stage 3: Build
		buildStart := time.Now()
		res, order := r.Build(ctx, ranks, m, opts)
		result.Build = res
		result.Stats.BuildTime = time.Since(buildStart)
		result.Stats.Levels = res.Levels

		if len(res.Roots) == 0 {
			logger.Warn("no valid roots: every root is unknown or outside the top genres",
				"roots", opts.Roots,
				"top_k", opts.TopK)
		}

		// Stage 4: Export
		result.Record = r.Export(ctx, res.Tree, order, ranks)
		r.storeRecord(ctx, recordKey, result.Record, res.Levels)
	}

	result.Stats.TreeGenres = result.Record.Genres()
	result.Stats.Edges = result.Record.Edges()
	logger.Info("built tree",
		"genres", result.Stats.TreeGenres,
		"edges", result.Stats.Edges,
		"levels", result.Stats.Levels,
		"duration", result.Stats.BuildTime)

	// Stage 5: Persist
	persistStart := time.Now()
	if err := r.Persist(ctx, sink.Run{
		ID:        result.RunID,
		CreatedAt: r.clock(),
		Roots:     opts.Roots,
		TopK:      opts.TopK,
		Record:    result.Record,
	}); err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}
	result.Stats.PersistTime = time.Since(persistStart)

	return result, nil
}

// Load reads the relation table and derives the rank index.
func (r *Runner) Load(ctx context.Context, opts Options) (*table.Table, *rank.Index, error) {
	_, done := startStage(ctx, observability.StageLoad, attribute.String("genretree.table", opts.TablePath))
	t, ranks, err := load(opts)
	done(err)
	return t, ranks, err
}

func load(opts Options) (*table.Table, *rank.Index, error) {
	t, err := table.Load(opts.TablePath)
	if err != nil {
		return nil, nil, err
	}
	ranks, err := rank.New(t.Genres(), opts.TopK)
	if err != nil {
		return nil, nil, err
	}
	return t, ranks, nil
}

// SimilarityWithCacheInfo computes the similarity matrix with caching and
// returns cache hit info.
func (r *Runner) SimilarityWithCacheInfo(ctx context.Context, t *table.Table, opts Options) (*similarity.Matrix, bool, error) {
	r.applyLogger(&opts)
	opts.SetSimilarityDefaults()

	ctx, done := startStage(ctx, observability.StageSimilarity, attribute.Int("genretree.genres", t.Len()))

	cacheKey := r.Keyer.SimilarityKey(t.Hash(), opts.SimilarityKeyOpts())

	// Try cache first (unless refresh requested)
	if !opts.Refresh {
		if data, hit := r.cacheGet(ctx, cacheKey, keyTypeSimilarity, opts.Logger); hit {
			var m similarity.Matrix
			if err := json.Unmarshal(data, &m); err == nil {
				done(nil)
				return &m, true, nil
			}
			opts.Logger.Debug("discarding unreadable cached matrix", "key", cacheKey)
		}
	}

	m, err := similarity.Cosine(ctx, t, opts.Workers)
	done(err)
	if err != nil {
		return nil, false, err
	}

	if data, err := json.Marshal(m); err == nil {
		r.cacheSet(ctx, cacheKey, keyTypeSimilarity, data, r.ttl(cache.TTLSimilarity), opts.Logger)
	}
	return m, false, nil
}

// Similarity is a convenience wrapper that calls SimilarityWithCacheInfo and discards the cache hit info.
func (r *Runner) Similarity(ctx context.Context, t *table.Table, opts Options) (*similarity.Matrix, error) {
	m, _, err := r.SimilarityWithCacheInfo(ctx, t, opts)
	return m, err
}

// Build grows the tree and returns it with its canonical node order.
func (r *Runner) Build(ctx context.Context, ranks *rank.Index, m *similarity.Matrix, opts Options) (*tree.Result, []string) {
	r.applyLogger(&opts)

	ctx, done := startStage(ctx, observability.StageBuild,
		attribute.StringSlice("genretree.roots", opts.Roots),
		attribute.Int("genretree.top_k", ranks.TopK()))

	res := tree.Build(opts.Roots, ranks, m, tree.WithLogger(opts.Logger))
	order := tree.Linearize(res.Tree, res.Roots, ranks.Allowed)

	done(nil)
	observability.Pipeline().OnTreeBuilt(ctx, len(res.Tree.Nodes()), res.Tree.Edges(), res.Levels)
	return res, order
}

// Export assembles the output record.
func (r *Runner) Export(ctx context.Context, t *tree.Tree, order []string, ranks *rank.Index) *export.Record {
	_, done := startStage(ctx, observability.StageExport)
	rec := export.Assemble(t, order, ranks)
	done(nil)
	return rec
}

// Persist writes run to every sink in order. The first failure aborts.
func (r *Runner) Persist(ctx context.Context, run sink.Run) error {
	ctx, done := startStage(ctx, observability.StagePersist, attribute.Int("genretree.sinks", len(r.Sinks)))
	err := r.persist(ctx, run)
	done(err)
	return err
}

func (r *Runner) persist(ctx context.Context, run sink.Run) error {
	for _, s := range r.Sinks {
		start := time.Now()
		err := s.Write(ctx, run)
		observability.Sink().OnWrite(ctx, s.Name(), time.Since(start), err)
		if err != nil {
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
		r.Logger.Debug("wrote record", "sink", s.Name(), "run", run.ID)
	}
	return nil
}

// Close releases resources held by the runner: every sink, then the cache.
func (r *Runner) Close(ctx context.Context) error {
	var errs []error
	for _, s := range r.Sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	if r.Cache != nil {
		if err := r.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

// recordEntry is the cached form of a finished build.
type recordEntry struct {
	Levels int             `json:"levels"`
	Record json.RawMessage `json:"record"`
}

// cachedRecord returns the cached record for key and the number of levels
// its build expanded, unless refresh is requested.
func (r *Runner) cachedRecord(ctx context.Context, key string, opts Options) (*export.Record, int, bool) {
	if opts.Refresh {
		return nil, 0, false
	}
	data, hit := r.cacheGet(ctx, key, keyTypeRecord, opts.Logger)
	if !hit {
		return nil, 0, false
	}
	var entry recordEntry
	if err := json.Unmarshal(data, &entry); err != nil || len(entry.Record) == 0 {
		opts.Logger.Debug("discarding unreadable cached record", "key", key, "err", err)
		return nil, 0, false
	}
	rec, err := export.Unmarshal(entry.Record, export.FormatJSON)
	if err != nil {
		opts.Logger.Debug("discarding unreadable cached record", "key", key, "err", err)
		return nil, 0, false
	}
	return rec, entry.Levels, true
}

func (r *Runner) storeRecord(ctx context.Context, key string, rec *export.Record, levels int) {
	raw, err := export.Marshal(rec, export.FormatJSON)
	if err != nil {
		return
	}
	data, err := json.Marshal(recordEntry{Levels: levels, Record: raw})
	if err != nil {
		return
	}
	r.cacheSet(ctx, key, keyTypeRecord, data, r.ttl(cache.TTLRecord), r.Logger)
}

// cacheGet reads key, treating backend errors as misses.
func (r *Runner) cacheGet(ctx context.Context, key, keyType string, logger *log.Logger) ([]byte, bool) {
	data, hit, err := r.Cache.Get(ctx, key)
	if err != nil {
		logger.Warn("cache read failed", "type", keyType, "err", err)
		hit = false
	}
	if hit {
		observability.Cache().OnCacheHit(ctx, keyType)
	} else {
		observability.Cache().OnCacheMiss(ctx, keyType)
	}
	return data, hit
}

// cacheSet writes key, logging and ignoring backend errors.
func (r *Runner) cacheSet(ctx context.Context, key, keyType string, data []byte, ttl time.Duration, logger *log.Logger) {
	if err := r.Cache.Set(ctx, key, data, ttl); err != nil {
		logger.Warn("cache write failed", "type", keyType, "err", err)
		return
	}
	observability.Cache().OnCacheSet(ctx, keyType, len(data))
}

func (r *Runner) ttl(def time.Duration) time.Duration {
	if r.TTL > 0 {
		return r.TTL
	}
	return def
}

func (r *Runner) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

// applyLogger sets the runner's logger on options if not already set.
func (r *Runner) applyLogger(opts *Options) {
	if opts.Logger == nil {
		opts.Logger = r.Logger
	}
}
