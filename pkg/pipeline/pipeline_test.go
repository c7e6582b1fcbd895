package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/matzehuels/genretree/pkg/cache"
	gterrors "github.com/matzehuels/genretree/pkg/errors"
	"github.com/matzehuels/genretree/pkg/observability"
	"github.com/matzehuels/genretree/pkg/sink"
)

const sampleTable = `genre,f1,f2,f3
pop,1,1,0
rock,1,0,0
dance,1,1,0.1
jazz,0,0,1
`

func writeTable(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genres.csv")
	if err := os.WriteFile(path, []byte(sampleTable), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	c, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewRunner(c, nil, log.New(&bytes.Buffer{}))
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{TablePath: "genres.csv"}

	if err := opts.ValidateAndSetDefaults(); err != nil {
		t.Fatalf("Valid options should pass: %v", err)
	}

	if opts.TopK != DefaultTopK {
		t.Errorf("TopK should be %d, got %d", DefaultTopK, opts.TopK)
	}
	if !slices.Equal(opts.Roots, DefaultRoots) {
		t.Errorf("Roots should be %v, got %v", DefaultRoots, opts.Roots)
	}
	if opts.Workers <= 0 {
		t.Errorf("Workers should default to GOMAXPROCS, got %d", opts.Workers)
	}
	if opts.Logger == nil {
		t.Error("Logger should default to a discard logger")
	}
}

func TestOptionsValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr gterrors.Code
	}{
		{"valid", Options{TablePath: "t.csv", Roots: []string{"rock"}, TopK: 10}, ""},
		{"missing table", Options{}, gterrors.ErrCodeInvalidInput},
		{"negative top-k", Options{TablePath: "t.csv", TopK: -1}, gterrors.ErrCodeInvalidConfig},
		{"blank root", Options{TablePath: "t.csv", Roots: []string{"pop", " "}}, gterrors.ErrCodeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.ValidateAndSetDefaults()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !gterrors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want code %s", err, tt.wantErr)
			}
		})
	}
}

func TestRecordKeyOptsCopiesRoots(t *testing.T) {
	opts := Options{Roots: []string{"pop"}, TopK: 5}
	k := opts.RecordKeyOpts()
	opts.Roots[0] = "rock"
	if k.Roots[0] != "pop" {
		t.Error("RecordKeyOpts should not alias Roots")
	}
}

func TestExecute(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()

	result, err := r.Execute(ctx, Options{TablePath: writeTable(t), TopK: 3})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.RunID == "" {
		t.Error("RunID should be set")
	}
	// pop's neighbors by cosine: dance, rock, jazz. jazz is outside the top 3.
	want := []string{"pop", "dance", "rock"}
	if !slices.Equal(result.Record.NodesBFSOrder, want) {
		t.Errorf("order = %v, want %v", result.Record.NodesBFSOrder, want)
	}
	if got := result.Record.AdjacencyList["pop"]; !slices.Equal(got, []string{"dance", "rock"}) {
		t.Errorf("pop children = %v", got)
	}
	if result.Record.GenreRanks["dance"] != 3 {
		t.Errorf("dance rank = %d, want 3", result.Record.GenreRanks["dance"])
	}
	if result.Stats.Genres != 4 || result.Stats.Edges == 0 || result.Stats.Levels == 0 {
		t.Errorf("unexpected stats: %+v", result.Stats)
	}
	if result.CacheInfo.SimilarityHit || result.CacheInfo.RecordHit {
		t.Errorf("first run should miss the cache: %+v", result.CacheInfo)
	}
}

func TestExecuteCaching(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()
	path := writeTable(t)

	first, err := r.Execute(ctx, Options{TablePath: path})
	if err != nil {
		t.Fatal(err)
	}

	// Same options: the whole record is reused.
	second, err := r.Execute(ctx, Options{TablePath: path})
	if err != nil {
		t.Fatal(err)
	}
	if !second.CacheInfo.RecordHit {
		t.Error("second identical run should hit the record cache")
	}
	if second.Build != nil {
		t.Error("a cached record skips the build")
	}
	if !slices.Equal(first.Record.NodesBFSOrder, second.Record.NodesBFSOrder) {
		t.Errorf("cached order %v differs from %v", second.Record.NodesBFSOrder, first.Record.NodesBFSOrder)
	}
	if first.RunID == second.RunID {
		t.Error("every execution gets a fresh run ID")
	}

	// Different roots: new record, same matrix.
	third, err := r.Execute(ctx, Options{TablePath: path, Roots: []string{"rock"}})
	if err != nil {
		t.Fatal(err)
	}
	if third.CacheInfo.RecordHit || !third.CacheInfo.SimilarityHit {
		t.Errorf("different roots should reuse only the matrix: %+v", third.CacheInfo)
	}

	// Refresh bypasses both.
	fourth, err := r.Execute(ctx, Options{TablePath: path, Refresh: true})
	if err != nil {
		t.Fatal(err)
	}
	if fourth.CacheInfo.RecordHit || fourth.CacheInfo.SimilarityHit {
		t.Errorf("refresh should bypass the cache: %+v", fourth.CacheInfo)
	}
}

// treeShapes records every OnTreeBuilt call.
type treeShapes struct {
	observability.NoopPipelineHooks
	levels []int
}

func (h *treeShapes) OnTreeBuilt(_ context.Context, _, _, levels int) {
	h.levels = append(h.levels, levels)
}

func TestExecuteCachedRecordKeepsLevels(t *testing.T) {
	hooks := &treeShapes{}
	observability.SetPipelineHooks(hooks)
	t.Cleanup(observability.Reset)

	r := newTestRunner(t)
	ctx := context.Background()
	path := writeTable(t)

	first, err := r.Execute(ctx, Options{TablePath: path})
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Execute(ctx, Options{TablePath: path})
	if err != nil {
		t.Fatal(err)
	}
	if !second.CacheInfo.RecordHit {
		t.Fatal("second identical run should hit the record cache")
	}
	if first.Stats.Levels == 0 || second.Stats.Levels != first.Stats.Levels {
		t.Errorf("cached run levels = %d, want %d", second.Stats.Levels, first.Stats.Levels)
	}
	if second.Stats.TreeGenres != first.Stats.TreeGenres || second.Stats.Edges != first.Stats.Edges {
		t.Errorf("cached run stats %+v differ from %+v", second.Stats, first.Stats)
	}
	if !slices.Equal(hooks.levels, []int{first.Stats.Levels, first.Stats.Levels}) {
		t.Errorf("OnTreeBuilt levels = %v, want one report per run", hooks.levels)
	}
}

func TestExecuteDiscardsLegacyRecordEntry(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()
	path := writeTable(t)

	first, err := r.Execute(ctx, Options{TablePath: path})
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{TablePath: path}
	if err := opts.ValidateAndSetDefaults(); err != nil {
		t.Fatal(err)
	}
	key := r.Keyer.RecordKey(first.Table.Hash(), opts.RecordKeyOpts())
	if err := r.Cache.Set(ctx, key, []byte(`{"nodes_bfs_order":["pop"]}`), time.Hour); err != nil {
		t.Fatal(err)
	}

	second, err := r.Execute(ctx, Options{TablePath: path})
	if err != nil {
		t.Fatal(err)
	}
	if second.CacheInfo.RecordHit {
		t.Error("a bare record without levels should be rebuilt")
	}
	if !slices.Equal(second.Record.NodesBFSOrder, first.Record.NodesBFSOrder) {
		t.Errorf("rebuilt order %v, want %v", second.Record.NodesBFSOrder, first.Record.NodesBFSOrder)
	}
}

func TestExecuteUnknownRoot(t *testing.T) {
	r := newTestRunner(t)

	result, err := r.Execute(context.Background(), Options{
		TablePath: writeTable(t),
		Roots:     []string{"unknown_genre"},
	})
	if err != nil {
		t.Fatalf("an empty root set is not an error: %v", err)
	}
	if len(result.Record.NodesBFSOrder) != 0 || len(result.Record.AdjacencyList) != 0 || len(result.Record.GenreRanks) != 0 {
		t.Errorf("expected an empty record, got %+v", result.Record)
	}
}

func TestExecuteMissingTable(t *testing.T) {
	r := newTestRunner(t)

	_, err := r.Execute(context.Background(), Options{TablePath: filepath.Join(t.TempDir(), "nope.csv")})
	if !gterrors.Is(err, gterrors.ErrCodeFileNotFound) {
		t.Errorf("error = %v, want FILE_NOT_FOUND", err)
	}
}

type recordingSink struct {
	name   string
	runs   []sink.Run
	err    error
	closed bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, run sink.Run) error {
	s.runs = append(s.runs, run)
	return s.err
}

func (s *recordingSink) Close(context.Context) error {
	s.closed = true
	return nil
}

func TestExecuteSinks(t *testing.T) {
	r := newTestRunner(t)
	first := &recordingSink{name: "first"}
	second := &recordingSink{name: "second"}
	r.Sinks = []sink.Sink{first, second}

	result, err := r.Execute(context.Background(), Options{TablePath: writeTable(t), TopK: 2})
	if err != nil {
		t.Fatal(err)
	}

	for _, s := range []*recordingSink{first, second} {
		if len(s.runs) != 1 {
			t.Fatalf("%s: got %d writes, want 1", s.name, len(s.runs))
		}
		run := s.runs[0]
		if run.ID != result.RunID || run.TopK != 2 || run.Record != result.Record {
			t.Errorf("%s: unexpected run %+v", s.name, run)
		}
	}

	if err := r.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !first.closed || !second.closed {
		t.Error("Close should close every sink")
	}
}

func TestExecuteSinkFailure(t *testing.T) {
	r := newTestRunner(t)
	failing := &recordingSink{name: "broken", err: errors.New("disk full")}
	after := &recordingSink{name: "after"}
	r.Sinks = []sink.Sink{failing, after}

	_, err := r.Execute(context.Background(), Options{TablePath: writeTable(t)})
	if err == nil {
		t.Fatal("a failing sink should fail the run")
	}
	if len(after.runs) != 0 {
		t.Error("sinks after a failure should not run")
	}
}

type brokenCache struct{ cache.Cache }

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func TestExecuteCacheFailureIsNotFatal(t *testing.T) {
	r := NewRunner(brokenCache{cache.NewNullCache()}, nil, log.New(&bytes.Buffer{}))

	if _, err := r.Execute(context.Background(), Options{TablePath: writeTable(t)}); err != nil {
		t.Fatalf("cache errors should not fail the run: %v", err)
	}
}

func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(noop.NewTracerProvider())
	})
	return exp
}

func TestExecuteTracesStages(t *testing.T) {
	exp := recordSpans(t)
	r := newTestRunner(t)

	if _, err := r.Execute(context.Background(), Options{TablePath: writeTable(t), TopK: 3}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	spans := exp.GetSpans()
	var names []string
	for _, s := range spans {
		names = append(names, s.Name)
	}
	want := []string{"pipeline.load", "pipeline.similarity", "pipeline.build", "pipeline.export", "pipeline.persist", "pipeline.Execute"}
	if !slices.Equal(names, want) {
		t.Fatalf("spans = %v, want %v", names, want)
	}

	root := spans[len(spans)-1]
	for _, s := range spans[:len(spans)-1] {
		if s.Parent.SpanID() != root.SpanContext.SpanID() {
			t.Errorf("%s should be a child of pipeline.Execute", s.Name)
		}
	}
}

func TestExecuteTracesFailure(t *testing.T) {
	exp := recordSpans(t)
	r := newTestRunner(t)

	if _, err := r.Execute(context.Background(), Options{TablePath: filepath.Join(t.TempDir(), "missing.csv")}); err == nil {
		t.Fatal("expected error")
	}

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want load and Execute", len(spans))
	}
	for _, s := range spans {
		if s.Status.Code != codes.Error {
			t.Errorf("%s status = %v, want error", s.Name, s.Status.Code)
		}
	}
}
