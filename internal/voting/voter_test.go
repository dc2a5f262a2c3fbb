package voting

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/papertrend/backend/internal/generator"
	"github.com/papertrend/backend/internal/storage/models"
	"github.com/papertrend/backend/internal/storage/sqlite"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()

	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })

	return store
}

func seedSnapshot(t *testing.T, store *sqlite.Client) *models.TrendSnapshot {
	t.Helper()

	snapshot := &models.TrendSnapshot{
		ID:        "snap-1",
		StartYear: 2015,
		EndYear:   2024,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.InsertSnapshot(snapshot))
	return snapshot
}

// seedTopic wires a topic with a unit embedding and one mapped group.
func seedTopic(t *testing.T, store *sqlite.Client, id string, embedding []float32) {
	t.Helper()

	require.NoError(t, store.UpsertTopic(&models.Topic{
		ID:        id,
		Name:      "Topic " + id,
		Module:    "Module X",
		Weight:    1.0,
		Embedding: embedding,
		CreatedAt: time.Now(),
	}))
	require.NoError(t, store.InsertVariantGroup(&models.VariantGroup{
		ID:            "g-" + id,
		CanonicalStem: "stem " + id,
		TopicID:       id,
		CreatedAt:     time.Now(),
	}))
}

// seedCandidate creates a question in the topic's group whose embedding
// yields the given relevance against a unit topic embedding of {1,0},
// plus a pending candidate for it.
func seedCandidate(t *testing.T, store *sqlite.Client, snapshotID, id, topicID string, embedding []float32, difficulty int, gapScore float64) {
	t.Helper()

	require.NoError(t, store.InsertNormalizedQuestion(&models.NormalizedQuestion{
		ID:             "q-" + id,
		BaseForm:       "question " + id,
		Difficulty:     difficulty,
		CanonicalHash:  "hash-" + id,
		Embedding:      embedding,
		VariantGroupID: "g-" + topicID,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}))
	require.NoError(t, store.InsertCandidate(&models.PredictionCandidate{
		ID:         id,
		QuestionID: "q-" + id,
		SnapshotID: snapshotID,
		Scores: models.CandidateScores{
			SectionTarget: "A",
			GapScore:      gapScore,
		},
		Status:    models.CandidatePending,
		CreatedAt: time.Now(),
	}))
}

// relVec builds a unit vector whose cosine against {1,0} equals r.
func relVec(r float64) []float32 {
	return []float32{float32(r), float32(math.Sqrt(1 - r*r))}
}

func testSection(quota, maxPerTopic int) generator.SectionConfig {
	return generator.SectionConfig{
		Name:            "A",
		Marks:           2,
		TargetCount:     quota * 3,
		FinalCount:      quota,
		MaxPerTopic:     maxPerTopic,
		DifficultyRange: []int{1, 2},
		Taxonomy:        []string{"Remember"},
	}
}

func exclusion(t *testing.T, store *sqlite.Client, snapshotID, candidateID string) (models.CandidateStatus, string) {
	t.Helper()

	all, err := store.ListCandidatesBySnapshot(snapshotID)
	require.NoError(t, err)
	for _, c := range all {
		if c.ID == candidateID {
			return c.Status, c.Scores.ExclusionCategory
		}
	}
	t.Fatalf("candidate %s not found", candidateID)
	return "", ""
}

func TestVoterTopicCapPrefersHigherScore(t *testing.T) {
	store := newTestStore(t)
	snapshot := seedSnapshot(t, store)
	seedTopic(t, store, "t1", []float32{1, 0})
	seedTopic(t, store, "t2", []float32{0, 1})

	// Two candidates on t1 (relevance 0.9 and 0.8) and one on t2
	// (relevance 0.95). With quota 2 and one slot per topic, the t2
	// candidate and the stronger t1 candidate win.
	seedCandidate(t, store, snapshot.ID, "c-t1-high", "t1", relVec(0.9), 1, 0)
	seedCandidate(t, store, snapshot.ID, "c-t1-low", "t1", relVec(0.8), 1, 0)
	t2vec := relVec(0.95)
	seedCandidate(t, store, snapshot.ID, "c-t2", "t2", []float32{t2vec[1], t2vec[0]}, 1, 0)

	voter := NewVoter(store, stubEmbedder{}, []generator.SectionConfig{testSection(2, 1)}, 0.5)
	results, err := voter.Run(context.Background(), snapshot.ID)
	require.NoError(t, err)
	require.Len(t, results["A"], 2)

	selectedIDs := []string{results["A"][0].ID, results["A"][1].ID}
	require.ElementsMatch(t, []string{"c-t2", "c-t1-high"}, selectedIDs)

	status, category := exclusion(t, store, snapshot.ID, "c-t1-low")
	require.Equal(t, models.CandidateExcluded, status)
	require.Equal(t, "Topic Cap", category)
}

func TestVoterRejectsBelowRelevanceFloor(t *testing.T) {
	store := newTestStore(t)
	snapshot := seedSnapshot(t, store)
	seedTopic(t, store, "t1", []float32{1, 0})

	seedCandidate(t, store, snapshot.ID, "c-weak", "t1", relVec(0.3), 1, 0)

	voter := NewVoter(store, stubEmbedder{}, []generator.SectionConfig{testSection(2, 3)}, 0.5)
	results, err := voter.Run(context.Background(), snapshot.ID)
	require.NoError(t, err)
	require.Empty(t, results["A"])

	status, category := exclusion(t, store, snapshot.ID, "c-weak")
	require.Equal(t, models.CandidateExcluded, status)
	require.Equal(t, "Low Relevance", category)
}

func TestVoterRejectsDifficultyOutsideBand(t *testing.T) {
	store := newTestStore(t)
	snapshot := seedSnapshot(t, store)
	seedTopic(t, store, "t1", []float32{1, 0})

	// Relevant but difficulty 4 does not fit a {1,2} section.
	seedCandidate(t, store, snapshot.ID, "c-hard", "t1", relVec(0.9), 4, 0)

	voter := NewVoter(store, stubEmbedder{}, []generator.SectionConfig{testSection(2, 3)}, 0.5)
	results, err := voter.Run(context.Background(), snapshot.ID)
	require.NoError(t, err)
	require.Empty(t, results["A"])

	_, category := exclusion(t, store, snapshot.ID, "c-hard")
	require.Equal(t, "Section Mismatch", category)
}

func TestVoterRankCutoffAfterQuota(t *testing.T) {
	store := newTestStore(t)
	snapshot := seedSnapshot(t, store)
	seedTopic(t, store, "t1", []float32{1, 0})
	seedTopic(t, store, "t2", []float32{1, 0})

	seedCandidate(t, store, snapshot.ID, "c-first", "t1", relVec(0.9), 1, 0)
	seedCandidate(t, store, snapshot.ID, "c-second", "t2", relVec(0.7), 1, 0)

	voter := NewVoter(store, stubEmbedder{}, []generator.SectionConfig{testSection(1, 3)}, 0.5)
	results, err := voter.Run(context.Background(), snapshot.ID)
	require.NoError(t, err)
	require.Len(t, results["A"], 1)
	require.Equal(t, "c-first", results["A"][0].ID)

	_, category := exclusion(t, store, snapshot.ID, "c-second")
	require.Equal(t, "Rank Cutoff", category)
}

func TestVoterGapScoreBreaksEqualRelevance(t *testing.T) {
	store := newTestStore(t)
	snapshot := seedSnapshot(t, store)
	seedTopic(t, store, "t1", []float32{1, 0})
	seedTopic(t, store, "t2", []float32{1, 0})

	// Equal relevance; the overdue topic's candidate must rank first.
	seedCandidate(t, store, snapshot.ID, "c-fresh", "t1", relVec(0.8), 1, 0)
	seedCandidate(t, store, snapshot.ID, "c-overdue", "t2", relVec(0.8), 1, 6)

	voter := NewVoter(store, stubEmbedder{}, []generator.SectionConfig{testSection(1, 3)}, 0.5)
	results, err := voter.Run(context.Background(), snapshot.ID)
	require.NoError(t, err)
	require.Len(t, results["A"], 1)
	require.Equal(t, "c-overdue", results["A"][0].ID)
}

func TestVoterUnderfilledSectionIsNotAnError(t *testing.T) {
	store := newTestStore(t)
	snapshot := seedSnapshot(t, store)
	seedTopic(t, store, "t1", []float32{1, 0})

	seedCandidate(t, store, snapshot.ID, "c-only", "t1", relVec(0.9), 1, 0)

	voter := NewVoter(store, stubEmbedder{}, []generator.SectionConfig{testSection(5, 3)}, 0.5)
	results, err := voter.Run(context.Background(), snapshot.ID)
	require.NoError(t, err)
	require.Len(t, results["A"], 1)
}

func TestVoterPersistsRoundedScores(t *testing.T) {
	store := newTestStore(t)
	snapshot := seedSnapshot(t, store)
	seedTopic(t, store, "t1", []float32{1, 0})

	seedCandidate(t, store, snapshot.ID, "c-scored", "t1", relVec(0.9), 1, 6)

	voter := NewVoter(store, stubEmbedder{}, []generator.SectionConfig{testSection(1, 3)}, 0.5)
	_, err := voter.Run(context.Background(), snapshot.ID)
	require.NoError(t, err)

	all, err := store.ListCandidatesBySnapshot(snapshot.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.InDelta(t, 0.9, all[0].Scores.Relevance, 0.001)
	require.InDelta(t, 1.2, all[0].Scores.FinalScore, 0.001) // 6/20 + 0.9
}

func TestVoterEmbeddingFailureDropsRelevanceToZero(t *testing.T) {
	store := newTestStore(t)
	snapshot := seedSnapshot(t, store)
	seedTopic(t, store, "t1", []float32{1, 0})

	// Question has no embedding and the provider is down, so relevance
	// is zero and the candidate falls below the floor.
	seedCandidate(t, store, snapshot.ID, "c-blind", "t1", nil, 1, 0)

	voter := NewVoter(store, stubEmbedder{err: errors.New("provider down")}, []generator.SectionConfig{testSection(1, 3)}, 0.5)
	results, err := voter.Run(context.Background(), snapshot.ID)
	require.NoError(t, err)
	require.Empty(t, results["A"])

	_, category := exclusion(t, store, snapshot.ID, "c-blind")
	require.Equal(t, "Low Relevance", category)
}
