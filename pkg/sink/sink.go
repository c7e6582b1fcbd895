// Package sink persists output records.
//
// A [Sink] receives one [Run] per pipeline execution. Three backends exist:
//
//   - [File]: the record encoded as JSON or YAML, to a file or a writer
//   - [Mongo]: one document per run, upserted by run ID
//   - [Neo4j]: genre nodes and PARENT_OF relationships merged into a graph
//
// Network backends retry transient failures with [cache.RetryWithDelay].
// A sink error after retries fails the run.
//
// [cache.RetryWithDelay]: github.com/matzehuels/genretree/pkg/cache.RetryWithDelay
package sink

import (
	"context"
	"time"

	"github.com/matzehuels/genretree/pkg/export"
)

// Run is one persisted build.
type Run struct {
	ID        string
	CreatedAt time.Time
	Roots     []string
	TopK      int
	Record    *export.Record
}

// Sink stores runs.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// Write persists run.
	Write(ctx context.Context, run Run) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}
