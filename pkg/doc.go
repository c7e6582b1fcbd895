// Package pkg provides the core libraries for genretree.
//
// # Overview
//
// genretree grows a directed genre relationship tree from a table of genre
// affinities. Each genre is connected to its most similar neighbors among
// the most popular genres, and every genre appears at most once. The pkg
// directory is organized into these areas:
//
//  1. [table] - Relation table loading (CSV, row order is popularity)
//  2. [similarity] - Pairwise cosine similarity between genres
//  3. [rank] - Popularity ranks and the top-k cutoff
//  4. [tree] - Level-by-level tree construction and linearization
//  5. [export] - The output record (JSON and YAML)
//  6. [pipeline] - Orchestration (load → similarity → build → export → persist)
//  7. [cache], [sink], [config], [observability] - Infrastructure
//
// # Architecture
//
// The typical data flow through genretree:
//
//	Relation table (CSV)
//	         ↓
//	    [table] package (genres + feature rows)
//	         ↓
//	    [similarity] package (genre × genre cosine matrix)
//	         ↓
//	    [tree] package (build + linearize, ranked by [rank])
//	         ↓
//	    [export] package (nodes_bfs_order, adjacency_list, genre_ranks)
//	         ↓
//	    [sink] package (file, MongoDB, Neo4j)
//
// # Quick Start
//
// Build a tree directly from the library packages:
//
//	import (
//	    "context"
//	    "github.com/matzehuels/genretree/pkg/export"
//	    "github.com/matzehuels/genretree/pkg/rank"
//	    "github.com/matzehuels/genretree/pkg/similarity"
//	    "github.com/matzehuels/genretree/pkg/table"
//	    "github.com/matzehuels/genretree/pkg/tree"
//	)
//
//	t, _ := table.Load("genres.csv")
//	ranks, _ := rank.New(t.Genres(), rank.DefaultTopK)
//	sim, _ := similarity.Cosine(context.Background(), t, 0)
//
//	res := tree.Build([]string{"pop"}, ranks, sim)
//	order := tree.Linearize(res.Tree, res.Roots, ranks.Allowed)
//	rec := export.Assemble(res.Tree, order, ranks)
//	_ = export.WriteFile(rec, "tree.json", export.FormatJSON)
//
// Or run the whole pipeline with caching and sinks:
//
//	runner := pipeline.NewRunner(cache.NewNullCache(), nil, logger)
//	result, err := runner.Execute(ctx, pipeline.Options{TablePath: "genres.csv"})
package pkg
