package observability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	// Pipeline hooks
	p := NoopPipelineHooks{}
	p.OnStageStart(ctx, StageLoad)
	p.OnStageComplete(ctx, StageLoad, time.Second, nil)
	p.OnTreeBuilt(ctx, 10, 9, 3)

	// Cache hooks
	c := NoopCacheHooks{}
	c.OnCacheHit(ctx, "similarity")
	c.OnCacheMiss(ctx, "record")
	c.OnCacheSet(ctx, "record", 1024)

	// Sink hooks
	s := NoopSinkHooks{}
	s.OnWrite(ctx, "mongodb", time.Second, nil)
}

func TestGlobalHooksRegistry(t *testing.T) {
	// Reset to known state
	Reset()

	// Verify defaults are noop
	if _, ok := Pipeline().(NoopPipelineHooks); !ok {
		t.Error("Pipeline() should return NoopPipelineHooks by default")
	}
	if _, ok := Cache().(NoopCacheHooks); !ok {
		t.Error("Cache() should return NoopCacheHooks by default")
	}
	if _, ok := Sink().(NoopSinkHooks); !ok {
		t.Error("Sink() should return NoopSinkHooks by default")
	}

	customPipeline := &testPipelineHooks{}
	SetPipelineHooks(customPipeline)
	if Pipeline() != customPipeline {
		t.Error("SetPipelineHooks should set custom hooks")
	}

	customCache := &testCacheHooks{}
	SetCacheHooks(customCache)
	if Cache() != customCache {
		t.Error("SetCacheHooks should set custom hooks")
	}

	customSink := &testSinkHooks{}
	SetSinkHooks(customSink)
	if Sink() != customSink {
		t.Error("SetSinkHooks should set custom hooks")
	}

	// Reset and verify
	Reset()
	if _, ok := Pipeline().(NoopPipelineHooks); !ok {
		t.Error("Reset() should restore NoopPipelineHooks")
	}
}

func TestSetNilHooksIsIgnored(t *testing.T) {
	Reset()

	custom := &testPipelineHooks{}
	SetPipelineHooks(custom)

	// Setting nil should be ignored
	SetPipelineHooks(nil)

	if Pipeline() != custom {
		t.Error("SetPipelineHooks(nil) should be ignored")
	}

	Reset()
}

func TestMetricsRegister(t *testing.T) {
	defer Reset()

	m := NewMetrics()
	m.Register()

	if Pipeline() != m || Cache() != m || Sink() != m {
		t.Fatal("Register should install metrics for every hook type")
	}
}

func TestMetricsRecord(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics()

	m.OnStageComplete(ctx, StageBuild, 20*time.Millisecond, nil)
	m.OnStageComplete(ctx, StagePersist, time.Second, errors.New("boom"))
	m.OnTreeBuilt(ctx, 12, 11, 4)
	m.OnCacheHit(ctx, "similarity")
	m.OnCacheMiss(ctx, "record")
	m.OnCacheSet(ctx, "record", 512)
	m.OnWrite(ctx, "neo4j", time.Second, nil)

	if got := testutil.ToFloat64(m.stageErrors.WithLabelValues(StagePersist)); got != 1 {
		t.Errorf("persist errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.treeGenres); got != 12 {
		t.Errorf("tree genres = %v, want 12", got)
	}
	if got := testutil.ToFloat64(m.cacheEvents.WithLabelValues("similarity", "hit")); got != 1 {
		t.Errorf("similarity hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheBytes.WithLabelValues("record")); got != 512 {
		t.Errorf("record bytes = %v, want 512", got)
	}
	if got := testutil.ToFloat64(m.sinkWrites.WithLabelValues("neo4j", "ok")); got != 1 {
		t.Errorf("neo4j writes = %v, want 1", got)
	}
}

func TestMetricsWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.OnTreeBuilt(context.Background(), 5, 4, 2)

	path := filepath.Join(t.TempDir(), "genretree.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "genretree_tree_edges 4") {
		t.Errorf("textfile missing tree edges gauge:\n%s", data)
	}
}

// Test implementations
type testPipelineHooks struct{ NoopPipelineHooks }
type testCacheHooks struct{ NoopCacheHooks }
type testSinkHooks struct{ NoopSinkHooks }

func TestInitTracing(t *testing.T) {
	var buf strings.Builder
	shutdown, err := InitTracing(&buf, "v1.2.3")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	_, span := Tracer().Start(context.Background(), "pipeline.build")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"Name":"pipeline.build"`, `"service.name"`, `"v1.2.3"`} {
		if !strings.Contains(out, want) {
			t.Errorf("trace output missing %s:\n%s", want, out)
		}
	}
}
