package vectorindex

import "encoding/json"

// snapshot is the wire format for Serialize/Deserialize. Only embeddings are
// expected to be durable in production (internal/indexsvc rebuilds the
// graph from its KV table on start); this pair exists so a caller can opt
// into warm starts without re-running every Insert, per spec §9.
type snapshot struct {
	Dim        int                 `json:"dim"`
	EntryPoint string              `json:"entry_point"`
	MaxLevel   int                 `json:"max_level"`
	Nodes      map[string]nodeWire `json:"nodes"`
}

type nodeWire struct {
	Vector    []float32           `json:"vector"`
	Neighbors []map[string]bool   `json:"neighbors"`
}

// Serialize captures the full graph (vectors + adjacency) as JSON.
func (ix *Index) Serialize() ([]byte, error) {
	snap := snapshot{
		Dim:        ix.dim,
		EntryPoint: ix.entryPoint,
		MaxLevel:   ix.maxLevel,
		Nodes:      make(map[string]nodeWire, len(ix.nodes)),
	}
	for id, n := range ix.nodes {
		levels := make([]map[string]bool, len(n.neighbors))
		for i, set := range n.neighbors {
			m := make(map[string]bool, len(set))
			for nb := range set {
				m[nb] = true
			}
			levels[i] = m
		}
		snap.Nodes[id] = nodeWire{Vector: n.vector, Neighbors: levels}
	}
	return json.Marshal(snap)
}

// Deserialize builds a new Index from a previously Serialize'd snapshot.
// The new index takes its dimension from the snapshot.
func Deserialize(data []byte) (*Index, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	ix := New(snap.Dim)
	ix.entryPoint = snap.EntryPoint
	ix.maxLevel = snap.MaxLevel
	for id, w := range snap.Nodes {
		n := &node{
			id:        id,
			vector:    w.Vector,
			neighbors: make([]map[string]struct{}, len(w.Neighbors)),
		}
		for i, set := range w.Neighbors {
			m := make(map[string]struct{}, len(set))
			for nb := range set {
				m[nb] = struct{}{}
			}
			n.neighbors[i] = m
		}
		ix.nodes[id] = n
	}
	return ix, nil
}
