// Package tree grows a genre relationship tree and linearizes it.
//
// # Building
//
// [Build] starts from one or more root genres and expands level by level.
// Each level is processed in popularity order; every genre in it takes as
// children its (at most [MaxChildren]) most similar neighbors that are in
// the allowed set and have not been expanded yet. Children that are not
// already queued form the next level.
//
// The used set is global: once a genre is expanded it is never picked again. This
// makes expansion order significant within a level. A genre processed
// early consumes neighbors that a later genre in the same level would
// otherwise have picked. The builder keeps this ordering dependency, so
// levels are expanded sequentially.
//
// Roots outside the similarity domain or outside the allowed set are
// dropped. With no valid root the tree is empty.
//
// # Linearizing
//
// [Linearize] produces the canonical node order: breadth-first from the
// roots, restricted to the allowed set, followed by any allowed tree node
// the traversal did not reach. The result has no duplicates and is the same
// for the same tree.
//
// # Example
//
//	res := tree.Build([]string{"pop"}, ranks, matrix)
//	order := tree.Linearize(res.Tree, res.Roots, ranks.Allowed)
package tree
