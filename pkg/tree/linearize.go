package tree

// Linearize returns the canonical node order of t.
//
// It runs a breadth-first traversal from roots over t, enqueueing a child
// the first time it is seen whether or not it has an entry of its own. The
// visit order is filtered to nodes of t that pass allowed, and every allowed
// node of t the traversal missed is appended in [Tree.Nodes] order.
//
// Every allowed node of t appears exactly once. An empty tree yields nil.
func Linearize(t *Tree, roots []string, allowed func(string) bool) []string {
	if t.Len() == 0 {
		return nil
	}

	visited := bfs(t, roots)

	universe := t.Nodes()
	inUniverse := make(map[string]bool, len(universe))
	for _, g := range universe {
		inUniverse[g] = true
	}

	out := make([]string, 0, len(universe))
	placed := make(map[string]bool, len(universe))
	for _, g := range visited {
		if inUniverse[g] && allowed(g) {
			out = append(out, g)
			placed[g] = true
		}
	}
	for _, g := range universe {
		if !placed[g] && allowed(g) {
			out = append(out, g)
			placed[g] = true
		}
	}
	return out
}

// bfs returns nodes in breadth-first visit order from roots.
func bfs(t *Tree, roots []string) []string {
	seen := make(map[string]bool)
	queue := make([]string, 0, len(roots))
	for _, r := range roots {
		if !seen[r] {
			seen[r] = true
			queue = append(queue, r)
		}
	}

	var order []string
	for head := 0; head < len(queue); head++ {
		g := queue[head]
		order = append(order, g)
		children, _ := t.Children(g)
		for _, c := range children {
			if !seen[c] {
				seen[c] = true
				queue = append(queue, c)
			}
		}
	}
	return order
}
