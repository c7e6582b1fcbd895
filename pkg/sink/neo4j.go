package sink

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/matzehuels/genretree/pkg/cache"
	gterrors "github.com/matzehuels/genretree/pkg/errors"
)

// DefaultNeo4jDatabase is the database written to when none is configured.
const DefaultNeo4jDatabase = "neo4j"

// Neo4jConfig holds connection settings. Password usually comes from the
// NEO4J_PASSWORD environment variable.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// queryRunner executes one Cypher statement.
type queryRunner interface {
	Run(ctx context.Context, query string, params map[string]any) error
}

// driverRunner runs statements with neo4j.ExecuteQuery, which manages the
// session and transaction. Driver errors are returned unwrapped so that
// neo4j.IsRetryable can classify them.
type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (r *driverRunner) Run(ctx context.Context, query string, params map[string]any) error {
	_, err := neo4j.ExecuteQuery(ctx, r.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(r.database),
	)
	return err
}

const mergeGenresQuery = `
UNWIND $genres AS g
MERGE (n:Genre {name: g.name})
SET n.rank = g.rank`

const mergeEdgesQuery = `
UNWIND $edges AS e
MATCH (p:Genre {name: e.parent}), (c:Genre {name: e.child})
MERGE (p)-[r:PARENT_OF {run_id: $run_id, position: e.position}]->(c)`

// Neo4j merges the tree into a property graph: one Genre node per genre
// and one PARENT_OF relationship per edge, tagged with the run ID.
type Neo4j struct {
	driver     neo4j.DriverWithContext
	runner     queryRunner
	logger     *log.Logger
	retryDelay time.Duration // zero uses the cache default
}

// NewNeo4j connects to Neo4j and verifies connectivity.
func NewNeo4j(ctx context.Context, cfg Neo4jConfig, logger *log.Logger) (*Neo4j, error) {
	if err := gterrors.ValidateURI(cfg.URI, "neo4j", "neo4j+s", "neo4j+ssc", "bolt", "bolt+s", "bolt+ssc"); err != nil {
		return nil, err
	}
	if cfg.Database == "" {
		cfg.Database = DefaultNeo4jDatabase
	}
	if logger == nil {
		logger = log.Default()
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, gterrors.Wrap(gterrors.ErrCodeInvalidConfig, err, "create neo4j driver")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, gterrors.Wrap(gterrors.ErrCodeNetwork, err, "verify neo4j connectivity")
	}

	return &Neo4j{
		driver: driver,
		runner: &driverRunner{driver: driver, database: cfg.Database},
		logger: logger,
	}, nil
}

// Name implements Sink.
func (n *Neo4j) Name() string { return "neo4j" }

// Write implements Sink. Nodes are merged before edges so every edge finds
// both endpoints.
func (n *Neo4j) Write(ctx context.Context, run Run) error {
	statements := []struct {
		query  string
		params map[string]any
	}{
		{mergeGenresQuery, map[string]any{"genres": genreParams(run)}},
		{mergeEdgesQuery, map[string]any{"edges": edgeParams(run), "run_id": run.ID}},
	}

	for _, st := range statements {
		err := cache.RetryWithDelay(ctx, n.retryDelay, func() error {
			err := n.runner.Run(ctx, st.query, st.params)
			if err != nil && neo4j.IsRetryable(err) {
				n.logger.Warn("neo4j write failed, retrying", "run", run.ID, "err", err)
				return cache.Retryable(err)
			}
			return err
		})
		if err != nil {
			return gterrors.Wrap(gterrors.ErrCodeStorage, err, "merge run %s", run.ID)
		}
	}

	n.logger.Debug("stored run in neo4j", "run", run.ID, "genres", len(run.Record.GenreRanks))
	return nil
}

// Close implements Sink.
func (n *Neo4j) Close(ctx context.Context) error {
	if n.driver == nil {
		return nil
	}
	return n.driver.Close(ctx)
}

// genreParams lists every genre of the record with its rank, sorted by name.
func genreParams(run Run) []map[string]any {
	ranks := run.Record.GenreRanks
	out := make([]map[string]any, 0, len(ranks))
	for _, g := range sortedKeys(ranks) {
		out = append(out, map[string]any{"name": g, "rank": ranks[g]})
	}
	return out
}

// edgeParams lists every parent-child link with the child's position in
// its parent's list.
func edgeParams(run Run) []map[string]any {
	adj := run.Record.AdjacencyList
	var out []map[string]any
	for _, parent := range sortedKeys(adj) {
		for i, child := range adj[parent] {
			out = append(out, map[string]any{"parent": parent, "child": child, "position": i})
		}
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out
}

var _ Sink = (*Neo4j)(nil)
