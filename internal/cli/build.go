package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/matzehuels/genretree/pkg/buildinfo"
	"github.com/matzehuels/genretree/pkg/config"
	gterrors "github.com/matzehuels/genretree/pkg/errors"
	"github.com/matzehuels/genretree/pkg/export"
	"github.com/matzehuels/genretree/pkg/observability"
	"github.com/matzehuels/genretree/pkg/pipeline"
	"github.com/matzehuels/genretree/pkg/sink"
)

// buildOpts holds the command-line flags for the build command.
type buildOpts struct {
	configPath string
	roots      []string
	topK       int
	workers    int
	output     string
	format     string
	refresh    bool
	watch      bool

	cache    cacheOpts
	cacheTTL time.Duration

	mongoURI        string
	mongoDatabase   string
	mongoCollection string

	neo4jURI      string
	neo4jUser     string
	neo4jDatabase string

	metricsFile string
	traceFile   string
}

// applyConfig fills every option whose flag was not set explicitly from cfg.
func (o *buildOpts) applyConfig(cfg *config.Config, changed func(string) bool) {
	setString := func(flag string, dst *string, v string) {
		if !changed(flag) && v != "" {
			*dst = v
		}
	}
	setInt := func(flag string, dst *int, v int) {
		if !changed(flag) && v != 0 {
			*dst = v
		}
	}

	if !changed("root") && len(cfg.Roots) > 0 {
		o.roots = cfg.Roots
	}
	setInt("top-k", &o.topK, cfg.TopK)
	setInt("workers", &o.workers, cfg.Workers)
	setString("format", &o.format, cfg.Format)
	setString("output", &o.output, cfg.Output)

	o.cache.applyConfig(cfg.Cache, changed)
	if !changed("cache-ttl") && cfg.Cache.TTL.Duration > 0 {
		o.cacheTTL = cfg.Cache.TTL.Duration
	}

	setString("mongo-uri", &o.mongoURI, cfg.Mongo.URI)
	setString("mongo-db", &o.mongoDatabase, cfg.Mongo.Database)
	setString("mongo-collection", &o.mongoCollection, cfg.Mongo.Collection)

	setString("neo4j-uri", &o.neo4jURI, cfg.Neo4j.URI)
	setString("neo4j-user", &o.neo4jUser, cfg.Neo4j.Username)
	setString("neo4j-db", &o.neo4jDatabase, cfg.Neo4j.Database)

	setString("metrics-file", &o.metricsFile, cfg.Metrics.File)
	setString("trace-file", &o.traceFile, cfg.Trace.File)
}

// resolveFormat picks the output format: the flag, then the output file
// extension, then JSON.
func (o *buildOpts) resolveFormat() (string, error) {
	format := o.format
	if format == "" {
		format = export.FormatFromPath(o.output)
	}
	format = strings.ToLower(format)
	if err := export.ValidateFormat(format); err != nil {
		return "", err
	}
	return format, nil
}

func (o *buildOpts) pipelineOptions(tablePath string) pipeline.Options {
	return pipeline.Options{
		TablePath: tablePath,
		Roots:     o.roots,
		TopK:      o.topK,
		Workers:   o.workers,
		Refresh:   o.refresh,
	}
}

// buildCommand creates the build command.
func (c *CLI) buildCommand() *cobra.Command {
	opts := buildOpts{
		roots: append([]string(nil), pipeline.DefaultRoots...),
		topK:  pipeline.DefaultTopK,
	}

	cmd := &cobra.Command{
		Use:   "build <table.csv>",
		Short: "Build a genre relationship tree from a relation table",
		Long: `Build a genre relationship tree from a relation table.

The table is CSV with a header row; the first column names the genre and the
remaining columns hold numeric features. Row order defines popularity: the
first row is the most popular genre.

Starting from the root genres, every genre takes as children its (at most
three) most similar genres that are among the top-k most popular and have
not been expanded yet. The tree, its breadth-first node order and the genre
ranks are written as JSON or YAML.

Settings can also come from a genretree.toml config file; flags win.
With --watch the tree is rebuilt every time the table changes.

Examples:
  genretree build genres.csv                          # Tree from "pop", JSON to stdout
  genretree build genres.csv --root rock --root jazz  # Multiple roots
  genretree build genres.csv --top-k 100 -o tree.yaml # Smaller cutoff, YAML file
  genretree build genres.csv --mongo-uri mongodb://localhost:27017
  genretree build genres.csv -o tree.json --watch     # Rebuild on change`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Find(opts.configPath)
			if err != nil {
				return err
			}
			if cfg.Path != "" {
				loggerFromContext(cmd.Context()).Debug("loaded config", "path", cfg.Path)
			}
			opts.applyConfig(cfg, cmd.Flags().Changed)
			return c.runBuild(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "config file (default: ./genretree.toml if present)")

	// Build flags
	cmd.Flags().StringSliceVarP(&opts.roots, "root", "r", opts.roots, "root genre (repeatable)")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", opts.topK, "number of most popular genres allowed in the tree")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "parallel similarity workers (default: number of CPUs)")

	// Output flags
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (stdout if empty)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "output format: json (default), yaml")

	// Cache flags
	opts.cache.registerFlags(cmd.Flags())
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "ignore cached results")
	cmd.Flags().DurationVar(&opts.cacheTTL, "cache-ttl", 0, "expiration of new cache entries (default: 168h for matrices, 24h for trees)")

	// Sink flags
	cmd.Flags().StringVar(&opts.mongoURI, "mongo-uri", "", "store the run in MongoDB")
	cmd.Flags().StringVar(&opts.mongoDatabase, "mongo-db", sink.DefaultMongoDatabase, "MongoDB database")
	cmd.Flags().StringVar(&opts.mongoCollection, "mongo-collection", sink.DefaultMongoCollection, "MongoDB collection")
	cmd.Flags().StringVar(&opts.neo4jURI, "neo4j-uri", "", "merge the tree into Neo4j (password from "+config.EnvNeo4jPassword+")")
	cmd.Flags().StringVar(&opts.neo4jUser, "neo4j-user", "neo4j", "Neo4j username")
	cmd.Flags().StringVar(&opts.neo4jDatabase, "neo4j-db", sink.DefaultNeo4jDatabase, "Neo4j database")

	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "rebuild whenever the table changes")

	// Observability flags
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	cmd.Flags().StringVar(&opts.traceFile, "trace-file", "", "write OpenTelemetry spans as JSON to this file")

	return cmd
}

// runBuild sets up the runner, its sinks and observability, then builds
// once or, with --watch, on every change of the table.
func (c *CLI) runBuild(ctx context.Context, tablePath string, opts buildOpts) error {
	logger := loggerFromContext(ctx)

	format, err := opts.resolveFormat()
	if err != nil {
		return err
	}

	runner, err := c.newRunner(ctx, opts.cache)
	if err != nil {
		return fmt.Errorf("initialize runner: %w", err)
	}
	defer func() {
		if err := runner.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("close", "err", err)
		}
	}()
	runner.Logger = logger
	runner.TTL = opts.cacheTTL

	if err := c.openSinks(ctx, runner, opts, format); err != nil {
		return err
	}

	var metrics *observability.Metrics
	if opts.metricsFile != "" {
		metrics = observability.NewMetrics()
		metrics.Register()
		defer observability.Reset()
	}

	if opts.traceFile != "" {
		stop, err := startTracing(opts.traceFile)
		if err != nil {
			return err
		}
		defer func() {
			if err := stop(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("write trace", "path", opts.traceFile, "err", err)
			}
		}()
	}

	build := func(ctx context.Context) error {
		return c.buildOnce(ctx, runner, metrics, tablePath, opts)
	}
	if err := build(ctx); err != nil {
		return err
	}
	if opts.watch {
		return watchTable(ctx, tablePath, watchDebounce, logger, build)
	}
	return nil
}

// buildOnce runs the pipeline and reports the result.
func (c *CLI) buildOnce(ctx context.Context, runner *pipeline.Runner, metrics *observability.Metrics, tablePath string, opts buildOpts) error {
	logger := loggerFromContext(ctx)

	// With the record on stdout, status lines go to stderr.
	status := c.Out
	if opts.output == "" {
		status = c.Err
	}

	prog := newProgress(logger)
	spinner := newSpinnerWithContext(ctx, status, fmt.Sprintf("Building tree from %s...", tablePath))
	if opts.output != "" && isTerminal(status) {
		spinner.Start()
	}

	pipelineOpts := opts.pipelineOptions(tablePath)
	pipelineOpts.Logger = logger
	result, err := runner.Execute(ctx, pipelineOpts)
	if metrics != nil {
		if werr := metrics.WriteTextfile(opts.metricsFile); werr != nil {
			logger.Warn("write metrics", "path", opts.metricsFile, "err", werr)
		}
	}
	spinner.Stop()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		printError(status, "Build failed: %s", gterrors.UserMessage(err))
		return err
	}
	prog.done("Built genre tree", "run", result.RunID)

	reportBuild(status, result, opts)
	return nil
}

// startTracing sends spans to a new file at path. The returned func flushes
// the spans and closes the file.
func startTracing(path string) (func(context.Context) error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	shutdown, err := observability.InitTracing(f, buildinfo.Version)
	if err != nil {
		f.Close()
		return nil, err
	}
	return func(ctx context.Context) error {
		serr := shutdown(ctx)
		if cerr := f.Close(); serr == nil {
			serr = cerr
		}
		return serr
	}, nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// openSinks attaches the output sink and every configured database sink to
// the runner. Sinks are attached as they open so runner.Close releases them
// even when a later one fails.
func (c *CLI) openSinks(ctx context.Context, runner *pipeline.Runner, opts buildOpts, format string) error {
	logger := loggerFromContext(ctx)

	if opts.output != "" {
		runner.Sinks = append(runner.Sinks, sink.NewFile(opts.output, format))
	} else {
		runner.Sinks = append(runner.Sinks, sink.NewWriter(c.Out, format))
	}

	if opts.mongoURI != "" {
		m, err := sink.NewMongo(ctx, sink.MongoConfig{
			URI:        opts.mongoURI,
			Database:   opts.mongoDatabase,
			Collection: opts.mongoCollection,
		}, logger)
		if err != nil {
			return fmt.Errorf("open mongodb sink: %w", err)
		}
		runner.Sinks = append(runner.Sinks, m)
	}

	if opts.neo4jURI != "" {
		n, err := sink.NewNeo4j(ctx, sink.Neo4jConfig{
			URI:      opts.neo4jURI,
			Username: opts.neo4jUser,
			Password: config.Neo4jPassword(),
			Database: opts.neo4jDatabase,
		}, logger)
		if err != nil {
			return fmt.Errorf("open neo4j sink: %w", err)
		}
		runner.Sinks = append(runner.Sinks, n)
	}
	return nil
}

// reportBuild prints the build summary.
func reportBuild(w io.Writer, result *pipeline.Result, opts buildOpts) {
	if result.Build != nil && len(result.Build.Roots) == 0 {
		printWarning(w, "No valid roots among %s: the tree is empty", strings.Join(opts.roots, ", "))
	}

	printSuccess(w, "Built genre tree from %s", strings.Join(opts.roots, ", "))
	printStats(w, result.Stats.TreeGenres, result.Stats.Edges, result.Stats.Levels, result.CacheInfo.RecordHit)
	if opts.output != "" {
		printFile(w, opts.output)
	}

	var stored []string
	for _, name := range []struct{ uri, label string }{
		{opts.mongoURI, "MongoDB"},
		{opts.neo4jURI, "Neo4j"},
	} {
		if name.uri != "" {
			stored = append(stored, name.label)
		}
	}
	if len(stored) > 0 {
		printDetail(w, "Stored run %s in %s", result.RunID, strings.Join(stored, " and "))
	}
	if opts.metricsFile != "" {
		printDetail(w, "Metrics written to %s", opts.metricsFile)
	}
	if opts.traceFile != "" {
		printDetail(w, "Trace spans written to %s", opts.traceFile)
	}
}
