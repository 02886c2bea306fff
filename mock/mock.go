// Package mock provides an in-memory mesh for tests: a Network of nodes
// joined by severable edges, plus canned configs for a small topology.
package mock

import (
	"github.com/weftnet/weft/state"
)

// MockCfg builds a five-node mesh config together with each node's local
// config. The topology:
//
//	bob - jeb - kat - ada
//	  \         /
//	   -- eve --
func MockCfg() (state.MeshCfg, []state.LocalCfg) {
	names := []string{
		"bob",
		"jeb",
		"kat",
		"eve",
		"ada",
	}
	mcfg := state.MeshCfg{}
	locals := make([]state.LocalCfg, 0)
	for _, name := range names {
		key := state.GenerateKey()
		mcfg.Nodes = append(mcfg.Nodes, state.NodeCfg{
			Id:     state.NodeId(name),
			PubKey: key.Pubkey(),
		})
		locals = append(locals, state.LocalCfg{
			Key: key,
			Id:  state.NodeId(name),
		})
	}
	return mcfg, locals
}

// MockEdges is the default adjacency for MockCfg topologies.
func MockEdges() []state.Pair[state.NodeId, state.NodeId] {
	return []state.Pair[state.NodeId, state.NodeId]{
		{"bob", "jeb"},
		{"jeb", "kat"},
		{"kat", "ada"},
		{"bob", "eve"},
		{"eve", "kat"},
	}
}
