package fraudgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildClusters(t *testing.T) {
	a := Node{AccountID: 1, CommenterID: "a"}
	b := Node{AccountID: 1, CommenterID: "b"}
	c := Node{AccountID: 2, CommenterID: "c"}
	d := Node{AccountID: 2, CommenterID: "d"}
	e := Node{AccountID: 3, CommenterID: "e"}
	loner := Node{AccountID: 3, CommenterID: "loner"}

	clusters := Build([]Link{
		{Node: a, Identifier: "payment:cashapp:$scam"},
		{Node: b, Identifier: "payment:cashapp:$scam"},
		{Node: b, Identifier: "url:evil.example"},
		{Node: c, Identifier: "url:evil.example"},
		{Node: d, Identifier: "contact:telegram:@x"},
		{Node: e, Identifier: "contact:telegram:@x"},
		{Node: loner, Identifier: "url:own.example"},
		{Node: loner, Identifier: ""},
	})

	require.Len(t, clusters, 2)
	assert.Equal(t, []Node{a, b, c}, clusters[0].Members, "transitive links join one cluster")
	assert.Equal(t, []string{"payment:cashapp:$scam", "url:evil.example"}, clusters[0].Identifiers)
	assert.Equal(t, []Node{d, e}, clusters[1].Members)
}

func TestClustersEachNodeOnce(t *testing.T) {
	g := New()
	n := Node{AccountID: 1, CommenterID: "x"}
	m := Node{AccountID: 1, CommenterID: "y"}
	for i := 0; i < 3; i++ {
		g.Add(Link{Node: n, Identifier: "id"})
		g.Add(Link{Node: m, Identifier: "id"})
	}
	clusters := g.Clusters()
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Members, 2)
}

func TestNoClustersWithoutSharedIdentifiers(t *testing.T) {
	assert.Empty(t, Build(nil))
	assert.Empty(t, Build([]Link{
		{Node: Node{AccountID: 1, CommenterID: "a"}, Identifier: "x"},
		{Node: Node{AccountID: 1, CommenterID: "b"}, Identifier: "y"},
	}))
}
