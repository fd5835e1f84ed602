// Package vector provides an in-process approximate nearest-neighbor index
// over memory item embeddings, backed by an HNSW graph (spec §4.5's
// semantic-tier search needs more than the linear scan the sqlite store
// does for small agents).
package vector

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"sync"

	"github.com/fogfish/hnsw"
	hvector "github.com/fogfish/hnsw/vector"
	kvector "github.com/kshard/vector"
)

// Index maps string item IDs to vectors via an HNSW graph keyed by a dense
// uint32, since the underlying library indexes on uint32, not string.
type Index struct {
	mu    sync.RWMutex
	graph *hnsw.HNSW[hvector.VF32]
	path  string

	nextKey uint32
	toKey   map[string]uint32
	toID    map[uint32]string
}

// persisted is the gob-serializable snapshot saved to disk.
type persisted struct {
	Nodes   hnsw.Nodes[hvector.VF32]
	NextKey uint32
	ToID    map[uint32]string
}

// Open loads the index at path if present, or initializes an empty one
// using cosine distance (matching the similarity metric used throughout
// the memory subsystem).
func Open(path string) (*Index, error) {
	idx := &Index{
		path:  path,
		toKey: map[string]uint32{},
		toID:  map[uint32]string{},
	}

	if data, err := os.ReadFile(path); err == nil {
		var p persisted
		if derr := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); derr != nil {
			return nil, fmt.Errorf("decode vector index: %w", derr)
		}
		idx.graph = hnsw.FromNodes[hvector.VF32](hvector.SurfaceVF32(kvector.Cosine()), p.Nodes)
		idx.nextKey = p.NextKey
		idx.toID = p.ToID
		for k, id := range p.ToID {
			idx.toKey[id] = k
		}
		return idx, nil
	}

	idx.graph = hnsw.New[hvector.VF32](hvector.SurfaceVF32(kvector.Cosine()))
	return idx, nil
}

// Add inserts or replaces the vector for id. The HNSW graph has no
// in-place update, so a re-add of an existing id is appended as a new node
// and the old key is abandoned; Search still returns the freshest node
// first because it is the nearest exact match to itself.
func (idx *Index) Add(id string, vec []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.graph.Size() > 0 {
		dim := len(idx.graph.Head().Vec)
		if len(vec) != dim {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", dim, len(vec))
		}
	}

	key := idx.nextKey
	idx.nextKey++
	idx.toKey[id] = key
	idx.toID[key] = id

	idx.graph.Insert(hvector.VF32{Key: key, Vec: vec})
	return nil
}

// Search returns the k nearest item IDs to vec.
func (idx *Index) Search(vec []float32, k int) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph.Size() == 0 {
		return nil, nil
	}
	dim := len(idx.graph.Head().Vec)
	if len(vec) != dim {
		return nil, fmt.Errorf("vector dimension mismatch: expected %d, got %d", dim, len(vec))
	}

	ef := k * 2
	if ef < 100 {
		ef = 100
	}
	results := idx.graph.Search(hvector.VF32{Vec: vec}, k, ef)

	ids := make([]string, 0, len(results))
	for _, r := range results {
		if id, ok := idx.toID[r.Key]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Save persists the index to its configured path.
func (idx *Index) Save() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	p := persisted{Nodes: idx.graph.Nodes(), NextKey: idx.nextKey, ToID: idx.toID}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return fmt.Errorf("encode vector index: %w", err)
	}
	return os.WriteFile(idx.path, buf.Bytes(), 0o644)
}

// Len reports the number of vectors currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.graph.Size()
}
