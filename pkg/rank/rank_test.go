package rank

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gterrors "github.com/matzehuels/genretree/pkg/errors"
)

var genres = []string{"pop", "rock", "dance", "rap", "jazz"}

func TestRankTotality(t *testing.T) {
	x, err := New(genres, 0)
	require.NoError(t, err)

	seen := map[int]bool{}
	for i, g := range genres {
		r, ok := x.Rank(g)
		require.True(t, ok, g)
		assert.Equal(t, i+1, r, "row order must match ascending rank")
		assert.False(t, seen[r], "rank %d assigned twice", r)
		seen[r] = true
		assert.GreaterOrEqual(t, r, 1)
		assert.LessOrEqual(t, r, len(genres))
	}

	_, ok := x.Rank("unknown_genre")
	assert.False(t, ok)
	assert.Equal(t, Unranked, x.RankOr("unknown_genre", Unranked))
	assert.Equal(t, 3, x.RankOr("dance", Unranked))
}

func TestAllowedSetSize(t *testing.T) {
	tests := []struct {
		k    int
		want []string
	}{
		{1, []string{"pop"}},
		{2, []string{"pop", "rock"}},
		{5, genres},
		{300, genres},
		{0, genres}, // default 300
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("k=%d", tt.k), func(t *testing.T) {
			x, err := New(genres, tt.k)
			require.NoError(t, err)

			assert.Equal(t, tt.want, x.AllowedGenres())
			for _, g := range genres {
				assert.Equal(t, slices.Contains(tt.want, g), x.Allowed(g), g)
			}
			assert.False(t, x.Allowed("unknown_genre"))
		})
	}
}

func TestDefaultTopK(t *testing.T) {
	x, err := New(genres, -5)
	require.NoError(t, err)
	assert.Equal(t, DefaultTopK, x.TopK())
}

func TestDuplicateGenre(t *testing.T) {
	_, err := New([]string{"pop", "rock", "pop"}, 0)
	require.Error(t, err)
	assert.True(t, gterrors.Is(err, gterrors.ErrCodeDuplicateGenre))
}

func TestSortUnknownLast(t *testing.T) {
	x, err := New(genres, 0)
	require.NoError(t, err)

	in := []string{"zzz", "jazz", "aaa", "pop", "rap"}
	x.Sort(in)
	assert.Equal(t, []string{"pop", "rap", "jazz", "zzz", "aaa"}, in,
		"unknown genres sort last and keep their relative order")
}

func TestIndexIsImmutable(t *testing.T) {
	src := []string{"pop", "rock"}
	x, err := New(src, 1)
	require.NoError(t, err)

	src[0] = "changed"
	x.AllowedGenres()[0] = "changed"
	x.Genres()[1] = "changed"

	assert.Equal(t, []string{"pop", "rock"}, x.Genres())
	assert.Equal(t, []string{"pop"}, x.AllowedGenres())
}
