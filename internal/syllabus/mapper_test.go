package syllabus

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/papertrend/backend/internal/storage/models"
	"github.com/papertrend/backend/internal/storage/sqlite"
)

// stubEmbedder returns canned vectors per text, falling back to fallback.
type stubEmbedder struct {
	byText   map[string][]float32
	fallback []float32
	err      error
}

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.byText[text]; ok {
		return v, nil
	}
	return s.fallback, nil
}

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()

	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })

	return store
}

func seedTopic(t *testing.T, store *sqlite.Client, id, name, module string, embedding []float32) {
	t.Helper()

	require.NoError(t, store.UpsertTopic(&models.Topic{
		ID:        id,
		Name:      name,
		Module:    module,
		Weight:    1.0,
		Embedding: embedding,
		CreatedAt: time.Now(),
	}))
}

func seedGroup(t *testing.T, store *sqlite.Client, id, stem string, embedding []float32) {
	t.Helper()

	require.NoError(t, store.InsertVariantGroup(&models.VariantGroup{
		ID:            id,
		CanonicalStem: stem,
		Embedding:     embedding,
		CreatedAt:     time.Now(),
	}))
}

func TestEnrichTopicsEmbedsNameWithModuleContext(t *testing.T) {
	store := newTestStore(t)
	seedTopic(t, store, "t1", "CPU Scheduling", "Processes", nil)
	seedTopic(t, store, "t2", "Paging", "Memory", []float32{0, 1})

	embedder := stubEmbedder{byText: map[string][]float32{
		"CPU Scheduling. Module: Processes": {1, 0},
	}}

	mapper := NewMapper(store, embedder)
	require.NoError(t, mapper.EnrichTopics(context.Background()))

	topics, err := store.ListTopics()
	require.NoError(t, err)
	byID := map[string][]float32{}
	for _, topic := range topics {
		byID[topic.ID] = topic.Embedding
	}

	require.Equal(t, []float32{1, 0}, byID["t1"])
	// Already-embedded topics are untouched.
	require.Equal(t, []float32{0, 1}, byID["t2"])
}

func TestEnrichTopicsSkipsOnProviderFailure(t *testing.T) {
	store := newTestStore(t)
	seedTopic(t, store, "t1", "CPU Scheduling", "Processes", nil)

	mapper := NewMapper(store, stubEmbedder{err: errors.New("provider down")})
	require.NoError(t, mapper.EnrichTopics(context.Background()))

	topics, err := store.ListTopics()
	require.NoError(t, err)
	require.Empty(t, topics[0].Embedding)
}

func TestMapGroupsAssignsBestTopic(t *testing.T) {
	store := newTestStore(t)
	seedTopic(t, store, "t-sched", "CPU Scheduling", "Processes", []float32{1, 0})
	seedTopic(t, store, "t-mem", "Paging", "Memory", []float32{0, 1})
	seedGroup(t, store, "g1", "Explain round robin scheduling", []float32{0.9, 0.1})

	mapper := NewMapper(store, stubEmbedder{})
	mapped, err := mapper.MapGroups(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, mapped)

	group, err := store.GetVariantGroup("g1")
	require.NoError(t, err)
	require.Equal(t, "t-sched", group.TopicID)
}

func TestMapGroupsLeavesWeakMatchUnmapped(t *testing.T) {
	store := newTestStore(t)
	seedTopic(t, store, "t-sched", "CPU Scheduling", "Processes", []float32{1, 0})
	// Orthogonal stem embedding: best score 0, under every tier.
	seedGroup(t, store, "g1", "Completely unrelated", []float32{0, 1})

	mapper := NewMapper(store, stubEmbedder{})
	mapped, err := mapper.MapGroups(context.Background())
	require.NoError(t, err)
	require.Zero(t, mapped)

	group, err := store.GetVariantGroup("g1")
	require.NoError(t, err)
	require.Empty(t, group.TopicID)
}

func TestMapGroupsEmbedsStemLazily(t *testing.T) {
	store := newTestStore(t)
	seedTopic(t, store, "t-sched", "CPU Scheduling", "Processes", []float32{1, 0})
	seedGroup(t, store, "g1", "Explain round robin scheduling", nil)

	embedder := stubEmbedder{byText: map[string][]float32{
		"Explain round robin scheduling": {0.95, 0.05},
	}}

	mapper := NewMapper(store, embedder)
	mapped, err := mapper.MapGroups(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, mapped)

	group, err := store.GetVariantGroup("g1")
	require.NoError(t, err)
	require.Equal(t, "t-sched", group.TopicID)
	require.NotEmpty(t, group.Embedding)
}

func TestMapGroupsIdempotent(t *testing.T) {
	store := newTestStore(t)
	seedTopic(t, store, "t-sched", "CPU Scheduling", "Processes", []float32{1, 0})
	seedGroup(t, store, "g1", "Explain round robin scheduling", []float32{0.9, 0.1})

	mapper := NewMapper(store, stubEmbedder{})
	_, err := mapper.MapGroups(context.Background())
	require.NoError(t, err)

	mapped, err := mapper.MapGroups(context.Background())
	require.NoError(t, err)
	require.Zero(t, mapped)
}

func TestMapGroupsNoEmbeddedTopics(t *testing.T) {
	store := newTestStore(t)
	seedTopic(t, store, "t1", "CPU Scheduling", "Processes", nil)
	seedGroup(t, store, "g1", "Explain scheduling", []float32{1, 0})

	mapper := NewMapper(store, stubEmbedder{})
	mapped, err := mapper.MapGroups(context.Background())
	require.NoError(t, err)
	require.Zero(t, mapped)
}
