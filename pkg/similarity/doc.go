// Package similarity provides the genre similarity oracle.
//
// A [Matrix] holds a square, symmetric genre × genre similarity relation.
// [Cosine] derives one from a relation table by treating each genre row as
// a feature vector (missing cells count as zero) and computing pairwise
// cosine similarity. A genre whose row is all zeros scores 0 against every
// other genre.
//
// # Neighbor Queries
//
// [Matrix.Neighbors] answers "which genres are most like g?": every other
// genre with its score, in descending score order, with g itself, any
// excluded genre, and any undefined (NaN) score removed. Genres with equal
// scores keep table order. Querying a genre outside the matrix returns an
// error matching [ErrUnknownGenre].
//
// # Concurrency
//
// Cosine computes rows in parallel; each worker owns one row of the
// output. A finished Matrix is read-only and safe for concurrent use.
package similarity
