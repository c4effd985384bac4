package report

import (
	"github.com/crfeliz/issue-join/lib/models"
)

// node is one record in the reference graph. Exactly one of issue and
// change is set.
type node struct {
	key    string
	issue  *models.IssueRecord
	change *models.ChangeRecord
}

func (n node) references() []string {
	if n.issue != nil {
		return n.issue.Refs
	}
	return n.change.Refs
}

// graph is a disjoint-set forest over record nodes; its components are
// the joined entries.
type graph struct {
	nodes  []node
	parent []int
	size   []int
}

func (g *graph) add(n node) int {
	g.nodes = append(g.nodes, n)
	g.parent = append(g.parent, len(g.parent))
	g.size = append(g.size, 1)
	return len(g.nodes) - 1
}

func (g *graph) find(i int) int {
	for g.parent[i] != i {
		g.parent[i] = g.parent[g.parent[i]]
		i = g.parent[i]
	}
	return i
}

func (g *graph) union(a, b int) {
	ra, rb := g.find(a), g.find(b)
	if ra == rb {
		return
	}
	if g.size[ra] < g.size[rb] {
		ra, rb = rb, ra
	}
	g.parent[rb] = ra
	g.size[ra] += g.size[rb]
}

// components groups node indexes by root, in order of first appearance.
func (g *graph) components() [][]int {
	var groups [][]int
	index := map[int]int{}
	for i := range g.nodes {
		root := g.find(i)
		pos, ok := index[root]
		if !ok {
			pos = len(groups)
			index[root] = pos
			groups = append(groups, nil)
		}
		groups[pos] = append(groups[pos], i)
	}
	return groups
}
