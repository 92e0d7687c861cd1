package discovery

import "sort"

// maxTraversalDepth bounds transitive traversals so cycles always terminate.
const maxTraversalDepth = 10

// Upstream returns the canonical names of services the given service
// transitively depends on, sorted. Traversal uses an explicit visited set and
// a depth bound; the graph may contain cycles.
func (g *Graph) Upstream(canonical string, maxDepth int) []string {
	return g.traverse(canonical, maxDepth, func(e ResolvedDependency) (string, string) {
		return e.Source.CanonicalName, e.Target.CanonicalName
	})
}

// Downstream returns the canonical names of services that transitively depend
// on the given service (its blast radius), sorted.
func (g *Graph) Downstream(canonical string, maxDepth int) []string {
	return g.traverse(canonical, maxDepth, func(e ResolvedDependency) (string, string) {
		return e.Target.CanonicalName, e.Source.CanonicalName
	})
}

func (g *Graph) traverse(start string, maxDepth int, direction func(ResolvedDependency) (string, string)) []string {
	if maxDepth <= 0 || maxDepth > maxTraversalDepth {
		maxDepth = maxTraversalDepth
	}

	adjacency := make(map[string][]string)
	for _, edge := range g.Edges {
		from, to := direction(edge)
		adjacency[from] = append(adjacency[from], to)
	}

	visited := map[string]struct{}{start: {}}
	frontier := []string{start}
	var out []string

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, node := range frontier {
			for _, neighbor := range adjacency[node] {
				if _, seen := visited[neighbor]; seen {
					continue
				}
				visited[neighbor] = struct{}{}
				out = append(out, neighbor)
				next = append(next, neighbor)
			}
		}
		frontier = next
	}

	sort.Strings(out)
	return out
}

// CanonicalNames returns the graph's identity keys, sorted.
func (g *Graph) CanonicalNames() []string {
	out := make([]string, 0, len(g.Identities))
	for name := range g.Identities {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
