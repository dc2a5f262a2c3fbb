package generator

import (
	"context"

	"go.uber.org/zap"

	"github.com/papertrend/backend/internal/similarity"
	"github.com/papertrend/backend/internal/storage/models"
	"github.com/papertrend/backend/internal/storage/sqlite"
	"github.com/papertrend/backend/pkg/logger"
	"github.com/papertrend/backend/pkg/textutil"
)

// Embedder is the slice of the LLM client deduplication needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Deduplicator drops freshly generated candidates that repeat a
// question already selected for the snapshot, first by exact normalized
// text, then by embedding similarity.
type Deduplicator struct {
	db        *sqlite.Client
	embedder  Embedder
	threshold float64
}

func NewDeduplicator(db *sqlite.Client, embedder Embedder, threshold float64) *Deduplicator {
	return &Deduplicator{db: db, embedder: embedder, threshold: threshold}
}

type comparison struct {
	text      string
	embedding []float32
}

// Filter returns the candidates that survive both checks. Dropped
// candidates are marked excluded in the store with the duplicate reason.
// A candidate with no comparison data after a failed embedding attempt
// is always kept. Re-running over the same batch is a no-op: survivors
// stay pending and duplicates stay excluded.
func (d *Deduplicator) Filter(ctx context.Context, snapshotID string, batch []models.PredictionCandidate) ([]models.PredictionCandidate, error) {
	selected, err := d.selectedComparisons(snapshotID)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		logger.Info("No selected questions to compare against, skipping deduplication",
			zap.String("snapshot_id", snapshotID),
		)
		return batch, nil
	}

	logger.Info("Deduplicating candidates",
		zap.Int("batch", len(batch)),
		zap.Int("selected", len(selected)),
		zap.Float64("threshold", d.threshold),
	)

	var kept []models.PredictionCandidate
	removed := 0

	for _, cand := range batch {
		q, err := d.db.GetQuestion(cand.QuestionID)
		if err != nil {
			// Nothing to compare, keep the candidate.
			logger.Warn("Candidate question missing, keeping candidate",
				zap.String("candidate_id", cand.ID),
			)
			kept = append(kept, cand)
			continue
		}

		text := textutil.Normalize(q.BaseForm)

		if d.exactMatch(text, selected) {
			if err := d.exclude(&cand, "Duplicate of a selected question (exact text)"); err != nil {
				return nil, err
			}
			removed++
			continue
		}

		embedding := q.Embedding
		if len(embedding) == 0 {
			embedding, err = d.embedder.Embed(ctx, text)
			if err != nil {
				logger.Warn("Embedding failed during deduplication, keeping candidate",
					zap.String("candidate_id", cand.ID),
					zap.Error(err),
				)
				kept = append(kept, cand)
				continue
			}
			if err := d.db.UpdateQuestionEmbedding(q.ID, embedding); err != nil {
				return nil, err
			}
		}

		if dup, score := d.vectorMatch(embedding, selected); dup {
			logger.Debug("Vector duplicate detected",
				zap.String("candidate_id", cand.ID),
				zap.Float64("similarity", score),
			)
			if err := d.exclude(&cand, "Duplicate of a selected question (embedding similarity)"); err != nil {
				return nil, err
			}
			removed++
			continue
		}

		kept = append(kept, cand)
	}

	logger.Info("Deduplication complete",
		zap.Int("removed", removed),
		zap.Int("remaining", len(kept)),
	)

	return kept, nil
}

func (d *Deduplicator) selectedComparisons(snapshotID string) ([]comparison, error) {
	selected, err := d.db.ListSelectedCandidates(snapshotID)
	if err != nil {
		return nil, err
	}

	comparisons := make([]comparison, 0, len(selected))
	for _, cand := range selected {
		q, err := d.db.GetQuestion(cand.QuestionID)
		if err != nil {
			continue
		}
		comparisons = append(comparisons, comparison{
			text:      textutil.Normalize(q.BaseForm),
			embedding: q.Embedding,
		})
	}
	return comparisons, nil
}

func (d *Deduplicator) exactMatch(text string, selected []comparison) bool {
	for _, s := range selected {
		if s.text == text {
			return true
		}
	}
	return false
}

func (d *Deduplicator) vectorMatch(embedding []float32, selected []comparison) (bool, float64) {
	for _, s := range selected {
		if len(s.embedding) == 0 {
			continue
		}
		if score := similarity.Cosine(embedding, s.embedding); score >= d.threshold {
			return true, score
		}
	}
	return false, 0
}

func (d *Deduplicator) exclude(cand *models.PredictionCandidate, reason string) error {
	cand.Status = models.CandidateExcluded
	cand.Scores.ExclusionReason = reason
	cand.Scores.ExclusionCategory = "Duplicate"
	return d.db.UpdateCandidate(cand)
}
