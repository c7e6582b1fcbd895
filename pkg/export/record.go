package export

import (
	"github.com/matzehuels/genretree/pkg/rank"
	"github.com/matzehuels/genretree/pkg/tree"
)

// Ranker resolves genre ranks. *rank.Index implements it.
type Ranker interface {
	RankOr(g string, def int) int
}

// Record is the serialized result of one build.
type Record struct {
	NodesBFSOrder []string            `json:"nodes_bfs_order" yaml:"nodes_bfs_order"`
	AdjacencyList map[string][]string `json:"adjacency_list" yaml:"adjacency_list"`
	GenreRanks    map[string]int      `json:"genre_ranks" yaml:"genre_ranks"`
}

// Assemble builds the record for t. order is the canonical node order
// produced by tree.Linearize; it is copied as is.
func Assemble(t *tree.Tree, order []string, ranks Ranker) *Record {
	rec := &Record{
		NodesBFSOrder: append([]string{}, order...),
		AdjacencyList: t.Adjacency(),
		GenreRanks:    make(map[string]int),
	}
	for _, g := range t.Nodes() {
		rec.GenreRanks[g] = ranks.RankOr(g, rank.Unranked)
	}
	return rec
}

// Genres returns the number of distinct genres in the rank map.
func (r *Record) Genres() int { return len(r.GenreRanks) }

// Edges returns the number of parent-child links.
func (r *Record) Edges() int {
	n := 0
	for _, c := range r.AdjacencyList {
		n += len(c)
	}
	return n
}

// normalize replaces nil collections so a decoded record encodes exactly
// like an assembled one.
func (r *Record) normalize() {
	if r.NodesBFSOrder == nil {
		r.NodesBFSOrder = []string{}
	}
	if r.AdjacencyList == nil {
		r.AdjacencyList = make(map[string][]string)
	}
	for g, c := range r.AdjacencyList {
		if c == nil {
			r.AdjacencyList[g] = []string{}
		}
	}
	if r.GenreRanks == nil {
		r.GenreRanks = make(map[string]int)
	}
}
