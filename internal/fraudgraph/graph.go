// Package fraudgraph links commenters that share a normalized identifier (payment
// handle, contact, URL) into clusters.
package fraudgraph

import (
	"fmt"
	"sort"
)

// Node is one commenter on one moderated account.
type Node struct {
	AccountID   uint   `json:"account_id"`
	CommenterID string `json:"commenter_id"`
}

func (n Node) key() string { return fmt.Sprintf("%d/%s", n.AccountID, n.CommenterID) }

// Link says a node mentioned an identifier.
type Link struct {
	Node       Node
	Identifier string
}

// Cluster is a connected group of commenters and the identifiers joining them.
type Cluster struct {
	Members     []Node   `json:"members"`
	Identifiers []string `json:"identifiers"`
}

// Graph is an undirected graph whose edges connect nodes sharing an identifier.
type Graph struct {
	index  map[string]int
	nodes  []Node
	parent []int
	rank   []int
	// byIdentifier maps an identifier to the first node that mentioned it.
	byIdentifier map[string]int
	idents       map[int]map[string]struct{}
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		index:        make(map[string]int),
		byIdentifier: make(map[string]int),
		idents:       make(map[int]map[string]struct{}),
	}
}

func (g *Graph) node(n Node) int {
	if i, ok := g.index[n.key()]; ok {
		return i
	}
	i := len(g.nodes)
	g.index[n.key()] = i
	g.nodes = append(g.nodes, n)
	g.parent = append(g.parent, i)
	g.rank = append(g.rank, 0)
	return i
}

func (g *Graph) find(i int) int {
	for g.parent[i] != i {
		g.parent[i] = g.parent[g.parent[i]]
		i = g.parent[i]
	}
	return i
}

func (g *Graph) union(a, b int) {
	ra, rb := g.find(a), g.find(b)
	if ra == rb {
		return
	}
	switch {
	case g.rank[ra] < g.rank[rb]:
		g.parent[ra] = rb
	case g.rank[ra] > g.rank[rb]:
		g.parent[rb] = ra
	default:
		g.parent[rb] = ra
		g.rank[ra]++
	}
}

// Add records that l.Node mentioned l.Identifier. Empty identifiers are ignored.
func (g *Graph) Add(l Link) {
	if l.Identifier == "" {
		return
	}
	i := g.node(l.Node)
	if g.idents[i] == nil {
		g.idents[i] = make(map[string]struct{})
	}
	g.idents[i][l.Identifier] = struct{}{}

	if first, ok := g.byIdentifier[l.Identifier]; ok {
		g.union(first, i)
		return
	}
	g.byIdentifier[l.Identifier] = i
}

// Clusters returns every component with at least two members, largest first.
// Each node appears in exactly one cluster.
func (g *Graph) Clusters() []Cluster {
	groups := make(map[int][]int)
	for i := range g.nodes {
		root := g.find(i)
		groups[root] = append(groups[root], i)
	}

	var out []Cluster
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		c := Cluster{}
		seen := make(map[string]struct{})
		for _, i := range members {
			c.Members = append(c.Members, g.nodes[i])
			for id := range g.idents[i] {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				c.Identifiers = append(c.Identifiers, id)
			}
		}
		sort.Slice(c.Members, func(a, b int) bool { return c.Members[a].key() < c.Members[b].key() })
		sort.Strings(c.Identifiers)
		out = append(out, c)
	}

	sort.Slice(out, func(a, b int) bool {
		if len(out[a].Members) != len(out[b].Members) {
			return len(out[a].Members) > len(out[b].Members)
		}
		return out[a].Members[0].key() < out[b].Members[0].key()
	})
	return out
}

// Build is a convenience for New followed by Add for every link.
func Build(links []Link) []Cluster {
	g := New()
	for _, l := range links {
		g.Add(l)
	}
	return g.Clusters()
}
