// Package cli implements the genretree command-line interface.
//
// # Commands
//
//   - build: Grow a genre relationship tree from a relation table
//   - inspect: Summarize a relation table and list nearest neighbors
//   - cache: Manage the local result cache
//   - completion: Generate shell completion scripts
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging. Loggers are
// passed through context.Context so pipeline stages log with the same
// settings as the command.
package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/matzehuels/genretree/pkg/buildinfo"
	"github.com/matzehuels/genretree/pkg/cache"
	"github.com/matzehuels/genretree/pkg/config"
	gterrors "github.com/matzehuels/genretree/pkg/errors"
	"github.com/matzehuels/genretree/pkg/pipeline"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "genretree"

	// cacheScope prefixes every key written by this CLI, so a shared Redis
	// instance can hold other data.
	cacheScope = appName + ":"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// Out receives command output (records, summaries). Defaults to stdout.
	Out io.Writer

	// Err receives status lines when Out carries a record. Defaults to stderr.
	Err io.Writer
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
		Out:    os.Stdout,
		Err:    os.Stderr,
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "genretree builds genre relationship trees from affinity tables",
		Long: `genretree grows a directed genre relationship tree from a table of genre
affinities. Starting from one or more root genres, every genre takes its most
similar, not yet used neighbors among the most popular genres as children.
The result is written as a breadth-first node order, an adjacency list and
a rank lookup.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(buildinfo.Template())

	// Register all subcommands
	root.AddCommand(c.buildCommand())
	root.AddCommand(c.inspectCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Runner Factory
// =============================================================================

// cacheOpts selects the cache backend for a command.
type cacheOpts struct {
	disabled bool
	backend  string // backendFile or backendBadger; ignored when url is set
	url      string // redis:// or rediss://; empty for a local cache
	dir      string // local cache directory; empty for the XDG default
}

// Local cache backends.
const (
	backendFile   = "file"
	backendBadger = "badger"
)

// registerFlags adds the cache selection flags shared by build and inspect.
func (o *cacheOpts) registerFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.disabled, "no-cache", false, "disable caching")
	fs.StringVar(&o.backend, "cache-backend", backendFile, "local cache backend: file, badger")
	fs.StringVar(&o.url, "cache-url", "", "Redis cache URL (redis://host:port/db)")
	fs.StringVar(&o.dir, "cache-dir", "", "local cache directory")
}

// applyConfig fills every cache setting whose flag was not set explicitly.
func (o *cacheOpts) applyConfig(cfg config.Cache, changed func(string) bool) {
	if !changed("no-cache") && cfg.Disabled {
		o.disabled = true
	}
	if !changed("cache-backend") && cfg.Backend != "" {
		o.backend = cfg.Backend
	}
	if !changed("cache-url") && cfg.URL != "" {
		o.url = cfg.URL
	}
	if !changed("cache-dir") && cfg.Dir != "" {
		o.dir = cfg.Dir
	}
}

// newRunner creates a pipeline runner for CLI use.
func (c *CLI) newRunner(ctx context.Context, opts cacheOpts) (*pipeline.Runner, error) {
	backend, err := c.newCache(ctx, opts)
	if err != nil {
		return nil, err
	}
	keyer := cache.NewScopedKeyer(cache.NewDefaultKeyer(), cacheScope)
	return pipeline.NewRunner(backend, keyer, c.Logger), nil
}

// newCache opens the selected backend. An unreachable Redis or an unusable
// cache directory degrades to no caching. The Badger database lives in a
// badger/ subdirectory of the cache directory.
func (c *CLI) newCache(ctx context.Context, opts cacheOpts) (cache.Cache, error) {
	if opts.disabled {
		return cache.NewNullCache(), nil
	}
	switch opts.backend {
	case "", backendFile, backendBadger:
	default:
		return nil, gterrors.New(gterrors.ErrCodeInvalidInput, "unknown cache backend %q (want %s or %s)", opts.backend, backendFile, backendBadger)
	}
	if opts.url != "" {
		rc, err := cache.NewRedisCache(ctx, opts.url)
		if err != nil {
			c.Logger.Warn("Redis cache unavailable, caching disabled", "err", err)
			return cache.NewNullCache(), nil
		}
		return rc, nil
	}

	dir := opts.dir
	if dir == "" {
		d, err := cacheDir()
		if err != nil {
			return cache.NewNullCache(), nil
		}
		dir = d
	}

	if opts.backend == backendBadger {
		dir = filepath.Join(dir, backendBadger)
		bc, err := cache.NewBadgerCache(dir, c.Logger)
		if err != nil {
			c.Logger.Warn("Badger cache unavailable, caching disabled", "dir", dir, "err", err)
			return cache.NewNullCache(), nil
		}
		return bc, nil
	}

	fc, err := cache.NewFileCache(dir)
	if err != nil {
		c.Logger.Warn("File cache unavailable, caching disabled", "dir", dir, "err", err)
		return cache.NewNullCache(), nil
	}
	return fc, nil
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/genretree/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
