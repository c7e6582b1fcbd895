package tree

import (
	"io"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/genretree/pkg/similarity"
)

// Ranker provides popularity order and the allowed-set filter.
// *rank.Index implements it.
type Ranker interface {
	Allowed(g string) bool
	Sort(genres []string)
}

// Oracle answers similarity queries. *similarity.Matrix implements it.
type Oracle interface {
	Has(g string) bool
	Neighbors(g string, exclude func(string) bool) ([]similarity.Neighbor, error)
}

// Result is the frozen output of Build.
type Result struct {
	Tree *Tree

	// Roots are the requested roots that passed validation, in request order.
	Roots []string

	// Levels is the number of frontier generations expanded.
	Levels int

	// Expanded lists genres in the order they were expanded.
	Expanded []string
}

// Option configures Build.
type Option func(*options)

type options struct {
	logger *log.Logger
}

// WithLogger sets the logger used for per-level debug output.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// state is the mutable part of one build. It never outlives Build.
type state struct {
	ranks  Ranker
	oracle Oracle
	logger *log.Logger

	used     map[string]bool
	tree     *Tree
	expanded []string
}

// Build grows a tree from roots. It never fails: unknown genres become
// leaves and invalid roots are dropped.
func Build(roots []string, ranks Ranker, oracle Oracle, opts ...Option) *Result {
	o := options{logger: log.New(io.Discard)}
	for _, opt := range opts {
		opt(&o)
	}

	s := &state{
		ranks:  ranks,
		oracle: oracle,
		logger: o.logger,
		used:   make(map[string]bool),
		tree:   New(),
	}

	res := &Result{Tree: s.tree, Roots: s.validRoots(roots)}

	frontier := res.Roots
	for len(frontier) > 0 {
		res.Levels++
		s.logger.Debug("expanding level", "level", res.Levels, "genres", len(frontier))
		frontier = s.expandLevel(frontier)
	}
	res.Expanded = s.expanded
	return res
}

// validRoots keeps roots known to the oracle and inside the allowed set,
// dropping duplicates.
func (s *state) validRoots(roots []string) []string {
	seen := make(map[string]bool, len(roots))
	var out []string
	for _, r := range roots {
		if seen[r] {
			continue
		}
		seen[r] = true
		if !s.oracle.Has(r) || !s.ranks.Allowed(r) {
			s.logger.Debug("dropping root", "genre", r, "known", s.oracle.Has(r), "allowed", s.ranks.Allowed(r))
			continue
		}
		out = append(out, r)
	}
	return out
}

// expandLevel expands every genre of one frontier generation and returns
// the next one. Genres are expanded in rank order, one after the other:
// each expansion sees the used set left by the previous one.
func (s *state) expandLevel(frontier []string) []string {
	level := slices.Clone(frontier)
	s.ranks.Sort(level)

	current := make(map[string]bool, len(level))
	for _, g := range level {
		current[g] = true
	}

	var next []string
	scheduled := make(map[string]bool)

	for _, g := range level {
		s.used[g] = true
		s.expanded = append(s.expanded, g)

		picks := s.pick(g)
		s.tree.Set(g, picks)

		for _, p := range picks {
			s.tree.ensure(p)
			if s.used[p] || current[p] || scheduled[p] {
				continue
			}
			scheduled[p] = true
			next = append(next, p)
		}
	}
	return next
}

// pick selects the children of g: its most similar allowed neighbors that
// are not used yet, at most MaxChildren of them. A genre the oracle does
// not know gets no children.
func (s *state) pick(g string) []string {
	if !s.oracle.Has(g) {
		return nil
	}

	neighbors, err := s.oracle.Neighbors(g, func(c string) bool {
		return c != g && s.used[c]
	})
	if err != nil {
		s.logger.Debug("no neighbors", "genre", g, "err", err)
		return nil
	}

	picks := make([]string, 0, MaxChildren)
	for _, n := range neighbors {
		if len(picks) == MaxChildren {
			break
		}
		if s.ranks.Allowed(n.Genre) {
			picks = append(picks, n.Genre)
		}
	}
	return picks
}
