package syllabus

import (
	"github.com/papertrend/backend/internal/storage/models"
)

// Node is one topic in the arena, with its parent resolved to a stable
// index instead of a string-keyed lookup.
type Node struct {
	Topic  models.Topic
	Parent int // index into the arena, -1 for roots
}

// Arena is an id-indexed view of the syllabus tree, built once per
// ingestion or analysis batch.
type Arena struct {
	nodes []Node
	byID  map[string]int
}

// BuildArena assembles the arena from the relational topic rows plus the
// module hierarchy read from the graph. Topics whose parent is unknown
// become roots.
func BuildArena(topics []models.Topic, hierarchy map[string]string) *Arena {
	a := &Arena{
		nodes: make([]Node, 0, len(topics)),
		byID:  make(map[string]int, len(topics)),
	}

	for _, t := range topics {
		if module, ok := hierarchy[t.ID]; ok && t.Module == "" {
			t.Module = module
		}
		a.byID[t.ID] = len(a.nodes)
		a.nodes = append(a.nodes, Node{Topic: t, Parent: -1})
	}

	for i := range a.nodes {
		parentID := a.nodes[i].Topic.ParentID
		if parentID == "" {
			continue
		}
		if idx, ok := a.byID[parentID]; ok {
			a.nodes[i].Parent = idx
		}
	}

	return a
}

func (a *Arena) Get(id string) (models.Topic, bool) {
	idx, ok := a.byID[id]
	if !ok {
		return models.Topic{}, false
	}
	return a.nodes[idx].Topic, true
}

// Root walks parent links to the topic's top-level ancestor.
func (a *Arena) Root(id string) (models.Topic, bool) {
	idx, ok := a.byID[id]
	if !ok {
		return models.Topic{}, false
	}
	for a.nodes[idx].Parent != -1 {
		idx = a.nodes[idx].Parent
	}
	return a.nodes[idx].Topic, true
}

func (a *Arena) Len() int {
	return len(a.nodes)
}

// Topics returns the arena's topics in insertion order.
func (a *Arena) Topics() []models.Topic {
	out := make([]models.Topic, len(a.nodes))
	for i, n := range a.nodes {
		out[i] = n.Topic
	}
	return out
}
