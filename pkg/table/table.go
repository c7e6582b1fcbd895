// Package table loads the genre relation table that feeds genretree.
//
// The table is CSV with a header row. The first column holds the genre
// identifier and the remaining columns hold numeric affinity or
// co-occurrence features:
//
//	genre,pop,rock,dance
//	pop,1.0,0.4,0.8
//	rock,0.4,1.0,
//	dance,0.8,,1.0
//
// Row order is significant: it defines popularity rank, most popular first.
// Empty cells and the literal NaN are missing values. They load as NaN
// and consumers fill them with zero before scoring.
//
// Loading is strict. Duplicate genre rows, non-numeric cells and ragged
// rows are rejected so the tree builder can assume a well-formed,
// genre-unique table.
package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/matzehuels/genretree/pkg/cache"
	gterrors "github.com/matzehuels/genretree/pkg/errors"
)

// Table is an immutable relation table.
type Table struct {
	columns []string
	genres  []string
	rows    [][]float64
	index   map[string]int
	hash    string
}

// Load reads a relation table from a CSV file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, gterrors.Wrap(gterrors.ErrCodeFileNotFound, err, "relation table %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Read reads a relation table from r. Read does not close r.
func Read(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return Parse(data)
}

// Parse decodes CSV bytes into a Table.
func Parse(data []byte) (*Table, error) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, gterrors.New(gterrors.ErrCodeMalformedTable, "empty relation table")
	}
	if err != nil {
		return nil, gterrors.Wrap(gterrors.ErrCodeMalformedTable, err, "header")
	}
	if len(header) < 1 {
		return nil, gterrors.New(gterrors.ErrCodeMalformedTable, "header has no genre column")
	}

	t := &Table{
		columns: header[1:],
		index:   make(map[string]int),
		hash:    cache.Hash(data),
	}

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, gterrors.Wrap(gterrors.ErrCodeMalformedTable, err, "row %d", len(t.genres)+1)
		}
		if err := t.addRow(record); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func (t *Table) addRow(record []string) error {
	line := len(t.genres) + 2 // 1-based, after the header

	genre := strings.TrimSpace(record[0])
	if err := gterrors.ValidateGenreName(genre); err != nil {
		return gterrors.Wrap(gterrors.ErrCodeMalformedTable, err, "line %d", line)
	}
	if first, dup := t.index[genre]; dup {
		return gterrors.New(gterrors.ErrCodeDuplicateGenre, "line %d: genre %q already defined on line %d", line, genre, first+2)
	}

	values := make([]float64, len(record)-1)
	for i, cell := range record[1:] {
		v, err := parseCell(cell)
		if err != nil {
			return gterrors.New(gterrors.ErrCodeMalformedTable, "line %d, column %q: non-numeric cell %q", line, t.columns[i], cell)
		}
		values[i] = v
	}

	t.index[genre] = len(t.genres)
	t.genres = append(t.genres, genre)
	t.rows = append(t.rows, values)
	return nil
}

func parseCell(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) {
		return 0, fmt.Errorf("infinite value")
	}
	return v, nil
}

// Genres returns the genre identifiers in row order.
// The returned slice must not be modified.
func (t *Table) Genres() []string { return t.genres }

// Columns returns the feature column headers.
func (t *Table) Columns() []string { return t.columns }

// Len returns the number of genre rows.
func (t *Table) Len() int { return len(t.genres) }

// Width returns the number of feature columns.
func (t *Table) Width() int { return len(t.columns) }

// Row returns the feature values of row i. Missing cells are NaN.
// The returned slice must not be modified.
func (t *Table) Row(i int) []float64 { return t.rows[i] }

// Lookup returns the row index of genre.
func (t *Table) Lookup(genre string) (int, bool) {
	i, ok := t.index[genre]
	return i, ok
}

// Missing returns the number of missing cells.
func (t *Table) Missing() int {
	n := 0
	for _, row := range t.rows {
		for _, v := range row {
			if math.IsNaN(v) {
				n++
			}
		}
	}
	return n
}

// Hash returns the SHA-256 of the raw table bytes.
func (t *Table) Hash() string { return t.hash }
