package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matzehuels/genretree/pkg/config"
	gterrors "github.com/matzehuels/genretree/pkg/errors"
	"github.com/matzehuels/genretree/pkg/pipeline"
	"github.com/matzehuels/genretree/pkg/rank"
	"github.com/matzehuels/genretree/pkg/similarity"
)

// inspectOpts holds the command-line flags for the inspect command.
type inspectOpts struct {
	configPath  string
	topK        int
	genre       string
	limit       int
	allowedOnly bool
	workers     int
	cache       cacheOpts
}

// applyConfig fills top-k, workers and the cache settings from cfg unless
// set by flag.
func (o *inspectOpts) applyConfig(cfg *config.Config, changed func(string) bool) {
	if !changed("top-k") && cfg.TopK != 0 {
		o.topK = cfg.TopK
	}
	o.workers = cfg.Workers
	o.cache.applyConfig(cfg.Cache, changed)
}

// inspectCommand creates the inspect command.
func (c *CLI) inspectCommand() *cobra.Command {
	opts := inspectOpts{topK: pipeline.DefaultTopK, limit: 10}

	cmd := &cobra.Command{
		Use:   "inspect <table.csv>",
		Short: "Summarize a relation table",
		Long: `Summarize a relation table: size, missing cells and the most popular genres.

With --genre, also list the genre's nearest neighbors by cosine similarity,
the candidates the build command picks children from.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.limit <= 0 {
				return gterrors.New(gterrors.ErrCodeInvalidInput, "limit must be positive (got %d)", opts.limit)
			}
			if opts.genre != "" {
				if err := gterrors.ValidateGenreName(opts.genre); err != nil {
					return err
				}
			}
			cfg, err := config.Find(opts.configPath)
			if err != nil {
				return err
			}
			opts.applyConfig(cfg, cmd.Flags().Changed)
			return c.runInspect(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "config file (default: ./genretree.toml if present)")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", opts.topK, "size of the allowed set")
	cmd.Flags().StringVarP(&opts.genre, "genre", "g", "", "list nearest neighbors of this genre")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", opts.limit, "number of genres and neighbors to list")
	cmd.Flags().BoolVar(&opts.allowedOnly, "allowed-only", false, "only list neighbors inside the allowed set")
	opts.cache.registerFlags(cmd.Flags())

	return cmd
}

// runInspect loads the table and prints its summary.
func (c *CLI) runInspect(ctx context.Context, tablePath string, opts inspectOpts) error {
	logger := loggerFromContext(ctx)

	runner, err := c.newRunner(ctx, opts.cache)
	if err != nil {
		return fmt.Errorf("initialize runner: %w", err)
	}
	defer runner.Close(context.WithoutCancel(ctx))
	runner.Logger = logger

	pipelineOpts := pipeline.Options{TablePath: tablePath, TopK: opts.topK, Workers: opts.workers, Logger: logger}
	if err := pipelineOpts.ValidateAndSetDefaults(); err != nil {
		return err
	}

	t, ranks, err := runner.Load(ctx, pipelineOpts)
	if err != nil {
		return err
	}

	w := c.Out
	printTitle(w, "Relation table")
	printKeyValue(w, "path", tablePath)
	printKeyValue(w, "genres", strconv.Itoa(t.Len()))
	printKeyValue(w, "features", strconv.Itoa(t.Width()))
	printKeyValue(w, "missing", strconv.Itoa(t.Missing()))
	printKeyValue(w, "top-k", strconv.Itoa(ranks.TopK()))
	printKeyValue(w, "allowed", strconv.Itoa(len(ranks.AllowedGenres())))
	fmt.Fprintln(w)

	printTitle(w, "Most popular")
	for i, g := range ranks.Genres() {
		if i == opts.limit {
			break
		}
		printRanked(w, i+1, g, "")
	}

	if opts.genre == "" {
		return nil
	}

	if _, ok := ranks.Rank(opts.genre); !ok {
		return gterrors.New(gterrors.ErrCodeUnknownGenre, "genre %q is not in %s", opts.genre, tablePath)
	}

	prog := newProgress(logger)
	m, hit, err := runner.SimilarityWithCacheInfo(ctx, t, pipelineOpts)
	if err != nil {
		return fmt.Errorf("similarity: %w", err)
	}
	prog.done("Computed similarity matrix", "cached", hit)

	var exclude func(string) bool
	if opts.allowedOnly {
		exclude = func(g string) bool { return !ranks.Allowed(g) }
	}
	neighbors, err := m.Neighbors(opts.genre, exclude)
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	printTitle(w, fmt.Sprintf("Nearest to %s", opts.genre))
	printNeighbors(w, neighbors, opts.limit, ranks.RankOr)
	fmt.Fprintln(w)
	printNextStep(w, "Build a tree", fmt.Sprintf("%s build %s --root %s", appName, tablePath, opts.genre))
	return nil
}

// printNeighbors prints up to limit neighbors with score and rank.
func printNeighbors(w io.Writer, neighbors []similarity.Neighbor, limit int, rankOr func(string, int) int) {
	if len(neighbors) == 0 {
		printDetail(w, "no neighbors")
		return
	}
	for i, n := range neighbors {
		if i == limit {
			break
		}
		printRanked(w, i+1, n.Genre, fmt.Sprintf("%.4f  rank %d", n.Score, rankOr(n.Genre, rank.Unranked)))
	}
}
