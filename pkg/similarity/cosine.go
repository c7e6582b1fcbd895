package similarity

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/matzehuels/genretree/pkg/table"
)

// Cosine computes pairwise cosine similarity between the rows of t.
// Missing cells are treated as zero. workers bounds the number of rows
// computed concurrently; a non-positive value uses GOMAXPROCS.
//
// Rows are L2-normalised once, so each score is a single dot product.
// Worker i fills the upper triangle of row i.
func Cosine(ctx context.Context, t *table.Table, workers int) (*Matrix, error) {
	m, err := newMatrix(t.Genres())
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, d := t.Len(), t.Width()
	if n == 0 || d == 0 {
		return m, nil
	}
	unit := normalizedRows(t)

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			a := unit.RawRowView(i)
			for j := i; j < n; j++ {
				m.scores.SetSym(i, j, floats.Dot(a, unit.RawRowView(j)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return m, nil
}

// normalizedRows returns the feature rows of t scaled to unit length.
// Missing cells become zero and all-zero rows stay zero.
func normalizedRows(t *table.Table) *mat.Dense {
	unit := mat.NewDense(t.Len(), t.Width(), nil)
	for i := 0; i < t.Len(); i++ {
		row := unit.RawRowView(i)
		for j, v := range t.Row(i) {
			if !math.IsNaN(v) {
				row[j] = v
			}
		}
		if norm := floats.Norm(row, 2); norm > 0 {
			floats.Scale(1/norm, row)
		}
	}
	return unit
}
