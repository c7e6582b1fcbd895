// Package rank assigns popularity ranks to genres and answers cutoff queries.
//
// Ranks come from row order in the relation table: the first row is rank 1,
// the most popular genre. The top K genres by rank form the allowed set,
// the admission filter applied throughout tree construction.
//
// A genre absent from the index has no rank. Callers sorting by rank treat
// it as +infinity; [Index.Compare] implements that policy.
package rank

import (
	"cmp"
	"slices"

	gterrors "github.com/matzehuels/genretree/pkg/errors"
)

// DefaultTopK is the default size of the allowed set.
const DefaultTopK = 300

// Unranked is the sentinel written to output for genres without a rank.
const Unranked = -1

// Index maps genres to 1-based popularity ranks. It is immutable after New.
type Index struct {
	ranks  map[string]int
	genres []string
	topK   int
}

// New builds an index from genres in popularity order.
// A non-positive k selects DefaultTopK. Duplicate genres are rejected.
func New(genres []string, k int) (*Index, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	x := &Index{
		ranks:  make(map[string]int, len(genres)),
		genres: slices.Clone(genres),
		topK:   k,
	}
	for i, g := range genres {
		if _, dup := x.ranks[g]; dup {
			return nil, gterrors.New(gterrors.ErrCodeDuplicateGenre, "genre %q ranked twice", g)
		}
		x.ranks[g] = i + 1
	}
	return x, nil
}

// Rank returns the rank of g and whether g is known.
func (x *Index) Rank(g string) (int, bool) {
	r, ok := x.ranks[g]
	return r, ok
}

// RankOr returns the rank of g, or def when g is unknown.
func (x *Index) RankOr(g string, def int) int {
	if r, ok := x.ranks[g]; ok {
		return r
	}
	return def
}

// Allowed reports whether g is ranked within the top K.
func (x *Index) Allowed(g string) bool {
	r, ok := x.ranks[g]
	return ok && r <= x.topK
}

// AllowedGenres returns the allowed set in rank order.
func (x *Index) AllowedGenres() []string {
	return slices.Clone(x.genres[:min(x.topK, len(x.genres))])
}

// Genres returns every ranked genre in rank order.
func (x *Index) Genres() []string { return slices.Clone(x.genres) }

// Len returns the number of ranked genres.
func (x *Index) Len() int { return len(x.genres) }

// TopK returns the cutoff.
func (x *Index) TopK() int { return x.topK }

// Compare orders a before b by ascending rank. Unknown genres sort after
// every known genre and compare equal to each other, so a stable sort keeps
// their original order.
func (x *Index) Compare(a, b string) int {
	ra, oka := x.ranks[a]
	rb, okb := x.ranks[b]
	switch {
	case oka && okb:
		return cmp.Compare(ra, rb)
	case oka:
		return -1
	case okb:
		return 1
	default:
		return 0
	}
}

// Sort stably sorts genres in place by Compare.
func (x *Index) Sort(genres []string) {
	slices.SortStableFunc(genres, x.Compare)
}
