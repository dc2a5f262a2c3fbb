package generator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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

func addPlainQuestion(t *testing.T, store *sqlite.Client, id, text string, embedding []float32) {
	t.Helper()

	require.NoError(t, store.InsertNormalizedQuestion(&models.NormalizedQuestion{
		ID:            id,
		BaseForm:      text,
		Difficulty:    2,
		CanonicalHash: "hash-" + id,
		Embedding:     embedding,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}))
}

func addCandidate(t *testing.T, store *sqlite.Client, id, snapshotID, questionID string, status models.CandidateStatus) models.PredictionCandidate {
	t.Helper()

	cand := models.PredictionCandidate{
		ID:         id,
		QuestionID: questionID,
		SnapshotID: snapshotID,
		Scores:     models.CandidateScores{SectionTarget: "A"},
		Status:     status,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.InsertCandidate(&cand))
	return cand
}

func TestDeduplicatorRemovesExactTextDuplicate(t *testing.T) {
	store := newTestStore(t)
	snapshot := seedSnapshot(t, store, nil)

	addPlainQuestion(t, store, "q-sel", "What is a deadlock?", []float32{1, 0})
	addCandidate(t, store, "c-sel", snapshot.ID, "q-sel", models.CandidateSelected)

	// Same text up to whitespace normalization.
	addPlainQuestion(t, store, "q-new", "What  is a\tdeadlock?", nil)
	cand := addCandidate(t, store, "c-new", snapshot.ID, "q-new", models.CandidatePending)

	dedup := NewDeduplicator(store, stubEmbedder{vec: []float32{0, 1}}, 0.92)
	kept, err := dedup.Filter(context.Background(), snapshot.ID, []models.PredictionCandidate{cand})
	require.NoError(t, err)
	require.Empty(t, kept)

	stored, err := store.ListCandidatesBySnapshot(snapshot.ID)
	require.NoError(t, err)
	for _, c := range stored {
		if c.ID != "c-new" {
			continue
		}
		require.Equal(t, models.CandidateExcluded, c.Status)
		require.Equal(t, "Duplicate", c.Scores.ExclusionCategory)
	}
}

func TestDeduplicatorRemovesNearDuplicateByEmbedding(t *testing.T) {
	store := newTestStore(t)
	snapshot := seedSnapshot(t, store, nil)

	addPlainQuestion(t, store, "q-sel", "What is a deadlock?", []float32{1, 0})
	addCandidate(t, store, "c-sel", snapshot.ID, "q-sel", models.CandidateSelected)

	// Different wording, near-identical embedding (cosine ~0.99).
	addPlainQuestion(t, store, "q-new", "Define the deadlock condition.", []float32{0.99, 0.141})
	cand := addCandidate(t, store, "c-new", snapshot.ID, "q-new", models.CandidatePending)

	dedup := NewDeduplicator(store, stubEmbedder{}, 0.92)
	kept, err := dedup.Filter(context.Background(), snapshot.ID, []models.PredictionCandidate{cand})
	require.NoError(t, err)
	require.Empty(t, kept)
}

func TestDeduplicatorKeepsDistinctCandidate(t *testing.T) {
	store := newTestStore(t)
	snapshot := seedSnapshot(t, store, nil)

	addPlainQuestion(t, store, "q-sel", "What is a deadlock?", []float32{1, 0})
	addCandidate(t, store, "c-sel", snapshot.ID, "q-sel", models.CandidateSelected)

	// Cosine ~0.71, under the 0.92 threshold.
	addPlainQuestion(t, store, "q-new", "Explain paging.", []float32{1, 1})
	cand := addCandidate(t, store, "c-new", snapshot.ID, "q-new", models.CandidatePending)

	dedup := NewDeduplicator(store, stubEmbedder{}, 0.92)
	kept, err := dedup.Filter(context.Background(), snapshot.ID, []models.PredictionCandidate{cand})
	require.NoError(t, err)
	require.Len(t, kept, 1)
	require.Equal(t, models.CandidatePending, kept[0].Status)
}

func TestDeduplicatorLazilyEmbedsAndPersists(t *testing.T) {
	store := newTestStore(t)
	snapshot := seedSnapshot(t, store, nil)

	addPlainQuestion(t, store, "q-sel", "What is a deadlock?", []float32{1, 0})
	addCandidate(t, store, "c-sel", snapshot.ID, "q-sel", models.CandidateSelected)

	addPlainQuestion(t, store, "q-new", "Explain paging.", nil)
	cand := addCandidate(t, store, "c-new", snapshot.ID, "q-new", models.CandidatePending)

	dedup := NewDeduplicator(store, stubEmbedder{vec: []float32{0, 1}}, 0.92)
	kept, err := dedup.Filter(context.Background(), snapshot.ID, []models.PredictionCandidate{cand})
	require.NoError(t, err)
	require.Len(t, kept, 1)

	q, err := store.GetQuestion("q-new")
	require.NoError(t, err)
	require.Equal(t, []float32{0, 1}, q.Embedding)
}

func TestDeduplicatorKeepsCandidateWhenEmbeddingFails(t *testing.T) {
	store := newTestStore(t)
	snapshot := seedSnapshot(t, store, nil)

	addPlainQuestion(t, store, "q-sel", "What is a deadlock?", []float32{1, 0})
	addCandidate(t, store, "c-sel", snapshot.ID, "q-sel", models.CandidateSelected)

	addPlainQuestion(t, store, "q-new", "Explain paging.", nil)
	cand := addCandidate(t, store, "c-new", snapshot.ID, "q-new", models.CandidatePending)

	dedup := NewDeduplicator(store, stubEmbedder{err: errors.New("provider down")}, 0.92)
	kept, err := dedup.Filter(context.Background(), snapshot.ID, []models.PredictionCandidate{cand})
	require.NoError(t, err)
	require.Len(t, kept, 1)
}

func TestDeduplicatorIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	snapshot := seedSnapshot(t, store, nil)

	addPlainQuestion(t, store, "q-sel", "What is a deadlock?", []float32{1, 0})
	addCandidate(t, store, "c-sel", snapshot.ID, "q-sel", models.CandidateSelected)

	addPlainQuestion(t, store, "q-dup", "What is a deadlock?", []float32{1, 0})
	dup := addCandidate(t, store, "c-dup", snapshot.ID, "q-dup", models.CandidatePending)
	addPlainQuestion(t, store, "q-keep", "Explain paging.", []float32{0, 1})
	keep := addCandidate(t, store, "c-keep", snapshot.ID, "q-keep", models.CandidatePending)

	dedup := NewDeduplicator(store, stubEmbedder{}, 0.92)
	batch := []models.PredictionCandidate{dup, keep}

	first, err := dedup.Filter(context.Background(), snapshot.ID, batch)
	require.NoError(t, err)
	second, err := dedup.Filter(context.Background(), snapshot.ID, batch)
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	require.Equal(t, first[0].ID, second[0].ID)
	require.Equal(t, "c-keep", first[0].ID)
}

func TestDeduplicatorSkipsWhenNothingSelected(t *testing.T) {
	store := newTestStore(t)
	snapshot := seedSnapshot(t, store, nil)

	addPlainQuestion(t, store, "q-new", "What is a deadlock?", nil)
	cand := addCandidate(t, store, "c-new", snapshot.ID, "q-new", models.CandidatePending)

	dedup := NewDeduplicator(store, stubEmbedder{err: errors.New("should not be called")}, 0.92)
	kept, err := dedup.Filter(context.Background(), snapshot.ID, []models.PredictionCandidate{cand})
	require.NoError(t, err)
	require.Len(t, kept, 1)
}
