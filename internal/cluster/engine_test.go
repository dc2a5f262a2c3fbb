package cluster

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/papertrend/backend/internal/storage/models"
	"github.com/papertrend/backend/internal/storage/sqlite"
	"github.com/papertrend/backend/internal/vector"
)

type stubStems struct {
	stem string
	err  error
}

func (s stubStems) GenerateCanonicalStem(ctx context.Context, questions []string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.stem, nil
}

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()

	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })

	return store
}

func addQuestion(t *testing.T, store *sqlite.Client, index vector.Index, id string, year int, embedding []float32) {
	t.Helper()

	rawID := "raw-" + id
	require.NoError(t, store.InsertRawQuestion(&models.RawQuestion{
		ID:        rawID,
		Year:      year,
		RawText:   "text for " + id,
		CreatedAt: time.Now(),
	}))

	require.NoError(t, store.InsertNormalizedQuestion(&models.NormalizedQuestion{
		ID:            id,
		BaseForm:      "base form of " + id,
		Difficulty:    3,
		CanonicalHash: "hash-" + id,
		OriginalIDs:   []string{rawID},
		Embedding:     embedding,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}))

	require.NoError(t, index.Add(context.Background(), id, embedding))
}

func TestRunGroupsEveryQuestion(t *testing.T) {
	store := newTestStore(t)
	index := vector.NewMemoryIndex()

	// qa and qb are near-duplicates, qc is unrelated.
	addQuestion(t, store, index, "qa", 2022, []float32{1, 0})
	addQuestion(t, store, index, "qb", 2023, []float32{0.99, 0.141})
	addQuestion(t, store, index, "qc", 2023, []float32{0, 1})

	engine := NewEngine(store, index, stubStems{stem: "shared concept"}, 0.85, 5)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.GroupsCreated)
	require.Zero(t, result.GroupsJoined)

	// No orphans after one pass.
	ungrouped, err := store.ListUngroupedQuestions()
	require.NoError(t, err)
	require.Empty(t, ungrouped)

	qa, err := store.GetQuestion("qa")
	require.NoError(t, err)
	qb, err := store.GetQuestion("qb")
	require.NoError(t, err)
	qc, err := store.GetQuestion("qc")
	require.NoError(t, err)

	require.Equal(t, qa.VariantGroupID, qb.VariantGroupID)
	require.NotEqual(t, qa.VariantGroupID, qc.VariantGroupID)

	// Recurrence count equals current member count.
	pair, err := store.GetVariantGroup(qa.VariantGroupID)
	require.NoError(t, err)
	require.Equal(t, 2, pair.RecurrenceCount)
	members, err := store.ListQuestionsByGroup(pair.ID)
	require.NoError(t, err)
	require.Len(t, members, pair.RecurrenceCount)

	single, err := store.GetVariantGroup(qc.VariantGroupID)
	require.NoError(t, err)
	require.Equal(t, 1, single.RecurrenceCount)
}

func TestRunBelowThresholdNeverShareGroup(t *testing.T) {
	store := newTestStore(t)
	index := vector.NewMemoryIndex()

	// Cosine similarity ~0.71, below the 0.85 threshold.
	addQuestion(t, store, index, "qa", 2022, []float32{1, 0})
	addQuestion(t, store, index, "qb", 2023, []float32{1, 1})

	engine := NewEngine(store, index, stubStems{stem: "concept"}, 0.85, 5)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.GroupsCreated)

	qa, err := store.GetQuestion("qa")
	require.NoError(t, err)
	qb, err := store.GetQuestion("qb")
	require.NoError(t, err)
	require.NotEqual(t, qa.VariantGroupID, qb.VariantGroupID)
}

func TestRunSeedJoinsExistingGroup(t *testing.T) {
	store := newTestStore(t)
	index := vector.NewMemoryIndex()

	addQuestion(t, store, index, "qa", 2020, []float32{1, 0})
	require.NoError(t, store.InsertVariantGroup(&models.VariantGroup{
		ID:              "g-existing",
		CanonicalStem:   "existing concept",
		RecurrenceCount: 1,
		FirstYear:       2020,
		LastYear:        2020,
		CreatedAt:       time.Now(),
	}))
	require.NoError(t, store.AssignQuestionGroup("qa", "g-existing"))

	addQuestion(t, store, index, "qb", 2024, []float32{0.99, 0.141})

	engine := NewEngine(store, index, stubStems{stem: "concept"}, 0.85, 5)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.GroupsJoined)
	require.Zero(t, result.GroupsCreated)

	qb, err := store.GetQuestion("qb")
	require.NoError(t, err)
	require.Equal(t, "g-existing", qb.VariantGroupID)

	group, err := store.GetVariantGroup("g-existing")
	require.NoError(t, err)
	require.Equal(t, 2, group.RecurrenceCount)
	require.Equal(t, 2020, group.FirstYear)
	require.Equal(t, 2024, group.LastYear)
}

func TestRunStemProviderFailureFallsBackToFirstText(t *testing.T) {
	store := newTestStore(t)
	index := vector.NewMemoryIndex()

	addQuestion(t, store, index, "qa", 2022, []float32{1, 0})
	addQuestion(t, store, index, "qb", 2023, []float32{0.99, 0.141})

	engine := NewEngine(store, index, stubStems{err: errors.New("provider down")}, 0.85, 5)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.GroupsCreated)

	qa, err := store.GetQuestion("qa")
	require.NoError(t, err)
	group, err := store.GetVariantGroup(qa.VariantGroupID)
	require.NoError(t, err)
	require.Equal(t, "base form of qa", group.CanonicalStem)
}

func TestRunIsIdempotentAcrossPasses(t *testing.T) {
	store := newTestStore(t)
	index := vector.NewMemoryIndex()

	for i := 0; i < 7; i++ {
		addQuestion(t, store, index, fmt.Sprintf("q%d", i), 2020+i, []float32{float32(i + 1), float32(i * i)})
	}

	engine := NewEngine(store, index, stubStems{stem: "concept"}, 0.85, 3)
	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	// Second pass has nothing left to do.
	second, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, second.Processed)
	require.Zero(t, second.GroupsCreated)
	require.Zero(t, second.GroupsJoined)
}
