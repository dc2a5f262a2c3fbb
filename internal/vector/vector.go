// Package vector defines the nearest-neighbor index the clustering
// engine queries. The production implementation is the Zilliz/Milvus
// collection in the zilliz subpackage; MemoryIndex is the exact
// fallback used when no vector database is configured.
package vector

import (
	"context"
	"sync"

	"github.com/papertrend/backend/internal/similarity"
)

type Neighbor struct {
	ID    string
	Score float64
}

type Index interface {
	Add(ctx context.Context, id string, embedding []float32) error
	Neighbors(ctx context.Context, embedding []float32, limit int) ([]Neighbor, error)
}

// MemoryIndex is an exact cosine-similarity index over all registered
// embeddings. Lookup is O(n) per query, which is fine for the corpus
// sizes a single course produces.
type MemoryIndex struct {
	mu      sync.RWMutex
	ids     []string
	vectors map[string][]float32
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{vectors: make(map[string][]float32)}
}

func (m *MemoryIndex) Add(ctx context.Context, id string, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.vectors[id]; !exists {
		m.ids = append(m.ids, id)
	}
	m.vectors[id] = embedding
	return nil
}

func (m *MemoryIndex) Neighbors(ctx context.Context, embedding []float32, limit int) ([]Neighbor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	neighbors := make([]Neighbor, 0, len(m.ids))
	for _, id := range m.ids {
		score := similarity.Cosine(embedding, m.vectors[id])
		neighbors = append(neighbors, Neighbor{ID: id, Score: score})
	}

	// Selection sort of the top results keeps this dependency-free and
	// stable for equal scores.
	for i := 0; i < len(neighbors) && i < limit; i++ {
		best := i
		for j := i + 1; j < len(neighbors); j++ {
			if neighbors[j].Score > neighbors[best].Score {
				best = j
			}
		}
		neighbors[i], neighbors[best] = neighbors[best], neighbors[i]
	}

	if len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	return neighbors, nil
}
