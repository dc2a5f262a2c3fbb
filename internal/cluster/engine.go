// Package cluster groups normalized questions whose embeddings are
// near-duplicates into variant groups, each carrying a canonical stem
// describing the shared concept.
package cluster

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papertrend/backend/internal/storage/models"
	"github.com/papertrend/backend/internal/storage/sqlite"
	"github.com/papertrend/backend/internal/vector"
	"github.com/papertrend/backend/pkg/logger"
	"github.com/papertrend/backend/pkg/textutil"
)

// StemGenerator produces the canonical description of a new group's
// shared concept. The LLM client satisfies it.
type StemGenerator interface {
	GenerateCanonicalStem(ctx context.Context, questions []string) (string, error)
}

type Engine struct {
	db            *sqlite.Client
	index         vector.Index
	stems         StemGenerator
	threshold     float64
	neighborLimit int
	batchSize     int
}

type Result struct {
	GroupsCreated int
	GroupsJoined  int
	Processed     int
}

func NewEngine(db *sqlite.Client, index vector.Index, stems StemGenerator, threshold float64, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Engine{
		db:            db,
		index:         index,
		stems:         stems,
		threshold:     threshold,
		neighborLimit: 100,
		batchSize:     batchSize,
	}
}

// Run partitions all ungrouped questions. Each ungrouped question acts
// as a seed exactly once: if any of its neighbors already belongs to a
// group the seed joins that group alone; otherwise the seed and its
// still-ungrouped neighbors form a new group. Work is committed in
// batches so an aborted run leaves completed batches valid.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	ungrouped, err := e.db.ListUngroupedQuestions()
	if err != nil {
		return nil, err
	}

	rawYears, err := e.db.RawYears()
	if err != nil {
		return nil, err
	}

	logger.Info("Starting variant grouping",
		zap.Int("ungrouped", len(ungrouped)),
		zap.Float64("threshold", e.threshold),
	)

	result := &Result{}
	processed := make(map[string]bool, len(ungrouped))

	session, err := e.db.Begin()
	if err != nil {
		return nil, err
	}
	opsInBatch := 0

	fail := func(err error) (*Result, error) {
		session.Rollback()
		return nil, err
	}

	for _, seed := range ungrouped {
		if processed[seed.ID] {
			continue
		}
		processed[seed.ID] = true
		result.Processed++

		if len(seed.Embedding) == 0 {
			logger.Warn("Seed has no embedding, skipping", zap.String("question_id", seed.ID))
			continue
		}

		neighbors, err := e.index.Neighbors(ctx, seed.Embedding, e.neighborLimit)
		if err != nil {
			// Index trouble degrades a seed to a singleton rather than
			// aborting the whole pass.
			logger.Warn("Neighbor lookup failed", zap.String("question_id", seed.ID), zap.Error(err))
			neighbors = nil
		}

		var neighborQuestions []models.NormalizedQuestion
		existingGroupID := ""
		for _, n := range neighbors {
			if n.ID == seed.ID || n.Score < e.threshold {
				continue
			}
			// Reading through the open session makes assignments from the
			// current uncommitted batch visible to later seeds.
			q, err := session.GetQuestion(n.ID)
			if err != nil {
				logger.Warn("Neighbor not found in store", zap.String("question_id", n.ID))
				continue
			}
			if existingGroupID == "" && q.VariantGroupID != "" {
				existingGroupID = q.VariantGroupID
			}
			neighborQuestions = append(neighborQuestions, *q)
		}

		if existingGroupID != "" {
			// Join: only the seed moves; its companions keep their own
			// grouping fate to avoid unbounded join chains in one pass.
			if err := session.AssignQuestionGroup(seed.ID, existingGroupID); err != nil {
				return fail(err)
			}
			if err := session.IncrementGroupRecurrence(existingGroupID); err != nil {
				return fail(err)
			}
			first, last := yearRange(seed, rawYears)
			if err := session.WidenGroupYears(existingGroupID, first, last); err != nil {
				return fail(err)
			}
			result.GroupsJoined++

			logger.Debug("Question joined existing group",
				zap.String("question_id", seed.ID),
				zap.String("group_id", existingGroupID),
			)
		} else {
			members := []models.NormalizedQuestion{seed}
			for _, q := range neighborQuestions {
				if q.VariantGroupID == "" && !processed[q.ID] {
					processed[q.ID] = true
					members = append(members, q)
				}
			}

			group, err := e.createGroup(ctx, session, members, rawYears)
			if err != nil {
				return fail(err)
			}
			result.GroupsCreated++

			logger.Debug("Variant group created",
				zap.String("group_id", group.ID),
				zap.Int("members", len(members)),
			)
		}

		opsInBatch++
		if opsInBatch >= e.batchSize {
			if err := session.Commit(); err != nil {
				return nil, err
			}
			session, err = e.db.Begin()
			if err != nil {
				return nil, err
			}
			opsInBatch = 0
		}
	}

	if err := session.Commit(); err != nil {
		return nil, err
	}

	logger.Info("Variant grouping complete",
		zap.Int("groups_created", result.GroupsCreated),
		zap.Int("groups_joined", result.GroupsJoined),
		zap.Int("processed", result.Processed),
	)

	return result, nil
}

func (e *Engine) createGroup(ctx context.Context, session *sqlite.Session, members []models.NormalizedQuestion, rawYears map[string]int) (*models.VariantGroup, error) {
	texts := make([]string, len(members))
	for i, m := range members {
		texts[i] = m.BaseForm
	}

	stem, err := e.stems.GenerateCanonicalStem(ctx, texts)
	if err != nil {
		// Provider failures never block grouping.
		logger.Warn("Canonical stem generation failed, using first text", zap.Error(err))
		stem = texts[0]
	}

	firstYear, lastYear := 0, 0
	for _, m := range members {
		f, l := yearRange(m, rawYears)
		if f > 0 && (firstYear == 0 || f < firstYear) {
			firstYear = f
		}
		if l > lastYear {
			lastYear = l
		}
	}

	group := &models.VariantGroup{
		ID:              uuid.New().String(),
		CanonicalStem:   stem,
		RecurrenceCount: len(members),
		FirstYear:       firstYear,
		LastYear:        lastYear,
		Signature:       textutil.Hash(stem),
		Embedding:       meanEmbedding(members),
		CreatedAt:       time.Now(),
	}

	if err := session.InsertVariantGroup(group); err != nil {
		return nil, err
	}

	for _, m := range members {
		if err := session.AssignQuestionGroup(m.ID, group.ID); err != nil {
			return nil, err
		}
	}

	return group, nil
}

func yearRange(q models.NormalizedQuestion, rawYears map[string]int) (int, int) {
	first, last := 0, 0
	for _, rawID := range q.OriginalIDs {
		year, ok := rawYears[rawID]
		if !ok || year == 0 {
			continue
		}
		if first == 0 || year < first {
			first = year
		}
		if year > last {
			last = year
		}
	}
	return first, last
}

func meanEmbedding(members []models.NormalizedQuestion) []float32 {
	var dim int
	for _, m := range members {
		if len(m.Embedding) > 0 {
			dim = len(m.Embedding)
			break
		}
	}
	if dim == 0 {
		return nil
	}

	sum := make([]float64, dim)
	count := 0
	for _, m := range members {
		if len(m.Embedding) != dim {
			continue
		}
		for i, v := range m.Embedding {
			sum[i] += float64(v)
		}
		count++
	}
	if count == 0 {
		return nil
	}

	mean := make([]float32, dim)
	for i, v := range sum {
		mean[i] = float32(v / float64(count))
	}
	return mean
}
