package similarity

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	gterrors "github.com/matzehuels/genretree/pkg/errors"
)

// MetricCosine names the similarity measure produced by Cosine.
const MetricCosine = "cosine"

// symmetryTolerance bounds |sim(a,b) - sim(b,a)| for externally supplied matrices.
const symmetryTolerance = 1e-9

// ErrUnknownGenre is returned by Neighbors for a genre outside the matrix.
var ErrUnknownGenre = errors.New("unknown genre")

// Neighbor is a candidate genre and its similarity to the queried genre.
type Neighbor struct {
	Genre string
	Score float64
}

// Matrix is a square, symmetric similarity relation over a fixed genre list.
type Matrix struct {
	genres []string
	index  map[string]int
	scores *mat.SymDense // nil for an empty domain
}

func newMatrix(genres []string) (*Matrix, error) {
	m := &Matrix{
		genres: slices.Clone(genres),
		index:  make(map[string]int, len(genres)),
	}
	for i, g := range genres {
		if _, dup := m.index[g]; dup {
			return nil, gterrors.New(gterrors.ErrCodeDuplicateGenre, "genre %q appears twice in similarity matrix", g)
		}
		m.index[g] = i
	}
	if len(genres) > 0 {
		m.scores = mat.NewSymDense(len(genres), nil)
	}
	return m, nil
}

// at returns sim(genres[i], genres[j]).
func (m *Matrix) at(i, j int) float64 { return m.scores.At(i, j) }

// row copies the scores of genres[i] against every genre.
func (m *Matrix) row(i int) []float64 {
	out := make([]float64, len(m.genres))
	for j := range out {
		out[j] = m.at(i, j)
	}
	return out
}

// FromValues builds a matrix from explicit scores. values must be square,
// match genres in both dimensions, and be symmetric. NaN marks an undefined
// score and is skipped by Neighbors.
func FromValues(genres []string, values [][]float64) (*Matrix, error) {
	m, err := newMatrix(genres)
	if err != nil {
		return nil, err
	}
	n := len(genres)
	if len(values) != n {
		return nil, gterrors.New(gterrors.ErrCodeInvalidInput, "similarity matrix has %d rows for %d genres", len(values), n)
	}
	for i, row := range values {
		if len(row) != n {
			return nil, gterrors.New(gterrors.ErrCodeInvalidInput, "similarity row %q has %d values, want %d", genres[i], len(row), n)
		}
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a, b := values[i][j], values[j][i]
			if math.IsNaN(a) != math.IsNaN(b) || math.Abs(a-b) > symmetryTolerance {
				return nil, gterrors.New(gterrors.ErrCodeInvalidInput, "similarity matrix not symmetric at (%q, %q)", genres[i], genres[j])
			}
			m.scores.SetSym(i, j, a)
		}
	}
	return m, nil
}

// Genres returns the matrix domain in table order.
func (m *Matrix) Genres() []string { return slices.Clone(m.genres) }

// Len returns the number of genres.
func (m *Matrix) Len() int { return len(m.genres) }

// Has reports whether g is in the matrix domain.
func (m *Matrix) Has(g string) bool {
	_, ok := m.index[g]
	return ok
}

// Score returns sim(a, b) and whether both genres are known.
func (m *Matrix) Score(a, b string) (float64, bool) {
	i, ok := m.index[a]
	if !ok {
		return 0, false
	}
	j, ok := m.index[b]
	if !ok {
		return 0, false
	}
	return m.at(i, j), true
}

// Neighbors returns every genre other than g ranked by descending similarity
// to g. Genres for which exclude returns true and NaN scores are dropped
// before ranking. exclude may be nil.
func (m *Matrix) Neighbors(g string, exclude func(string) bool) ([]Neighbor, error) {
	i, ok := m.index[g]
	if !ok {
		return nil, gterrors.Wrap(gterrors.ErrCodeUnknownGenre, ErrUnknownGenre, "genre %q", g)
	}

	out := make([]Neighbor, 0, len(m.genres)-1)
	for j, other := range m.genres {
		if j == i {
			continue
		}
		score := m.at(i, j)
		if math.IsNaN(score) || (exclude != nil && exclude(other)) {
			continue
		}
		out = append(out, Neighbor{Genre: other, Score: score})
	}

	slices.SortStableFunc(out, func(a, b Neighbor) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return out, nil
}

type matrixJSON struct {
	Metric string      `json:"metric"`
	Genres []string    `json:"genres"`
	Values [][]float64 `json:"values"`
}

// MarshalJSON encodes the matrix as {"metric", "genres", "values"}.
// Undefined scores cannot be represented and fail the encode.
func (m *Matrix) MarshalJSON() ([]byte, error) {
	out := matrixJSON{
		Metric: MetricCosine,
		Genres: m.genres,
		Values: make([][]float64, len(m.genres)),
	}
	for i := range out.Values {
		out.Values[i] = m.row(i)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a matrix written by MarshalJSON and validates its shape.
func (m *Matrix) UnmarshalJSON(data []byte) error {
	var in matrixJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode similarity matrix: %w", err)
	}
	if in.Metric != "" && in.Metric != MetricCosine {
		return gterrors.New(gterrors.ErrCodeInvalidFormat, "unsupported similarity metric %q", in.Metric)
	}
	decoded, err := FromValues(in.Genres, in.Values)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}
