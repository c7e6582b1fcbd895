// Package export assembles and serializes the output record of a tree build.
//
// # Record Format
//
// A record has exactly three top-level fields:
//
//		{
//		  "nodes_bfs_order": ["pop", "dance", "rock"],
//		  "adjacency_list": {
//		    "pop": ["dance", "rock"],
//		    "dance": [],
//		    "rock": []
//		  },
//		  "genre_ranks": {"pop": 1, "rock": 2, "dance": 3}
//		}
//
//	  - nodes_bfs_order: the canonical node order, see [tree.Linearize]
//	  - adjacency_list: every tree entry, leaves map to an empty list
//	  - genre_ranks: the rank of every key and child, -1 when unknown
//
// The rank map covers the whole tree, not just the allowed set.
//
// # Formats
//
// [Encode] writes indented JSON or YAML; [Decode] reads either back. Use
// [WriteFile] and [ReadFile] for file output, which pick the format from the
// file extension when none is given.
//
//	rec := export.Assemble(res.Tree, order, ranks)
//	if err := export.WriteFile(rec, "tree.json", ""); err != nil {
//	    log.Fatal(err)
//	}
//
// [tree.Linearize]: github.com/matzehuels/genretree/pkg/tree.Linearize
package export
