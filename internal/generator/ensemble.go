// Package generator draws prediction candidates for each paper section
// by weighted sampling over snapshot topics and three strategies:
// reusing a historical question, rewriting one as a variant, or
// authoring a novel question.
package generator

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papertrend/backend/internal/storage/models"
	"github.com/papertrend/backend/internal/storage/sqlite"
	"github.com/papertrend/backend/pkg/logger"
	"github.com/papertrend/backend/pkg/textutil"
)

// TextGenerator is the slice of the LLM client the ensemble needs.
type TextGenerator interface {
	RewriteVariant(ctx context.Context, section, original string, temperature float32) (string, error)
	GenerateNovel(ctx context.Context, section, topicName, moduleName string, temperature float32) (string, error)
}

type Generator struct {
	db       *sqlite.Client
	texts    TextGenerator
	sections []SectionConfig
	rng      *rand.Rand
}

// NewGenerator builds an ensemble generator. seed fixes the sampling
// order for reproducible runs; pass 0 for a time-based seed.
func NewGenerator(db *sqlite.Client, texts TextGenerator, sections []SectionConfig, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		db:       db,
		texts:    texts,
		sections: sections,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Run produces candidates for every configured section against one
// snapshot. Single-draw failures are skipped; each section stops at its
// target count or after three times that many attempts.
func (g *Generator) Run(ctx context.Context, snapshot *models.TrendSnapshot) (map[string][]models.PredictionCandidate, error) {
	topicIDs := make([]string, 0, len(snapshot.TopicStats))
	for id := range snapshot.TopicStats {
		topicIDs = append(topicIDs, id)
	}
	if len(topicIDs) == 0 {
		logger.Warn("Snapshot has no topics, nothing to generate", zap.String("snapshot_id", snapshot.ID))
		return map[string][]models.PredictionCandidate{}, nil
	}

	pool, err := g.loadQuestionPool(topicIDs)
	if err != nil {
		return nil, err
	}
	groupByTopic, err := g.firstGroupByTopic()
	if err != nil {
		return nil, err
	}

	results := make(map[string][]models.PredictionCandidate, len(g.sections))
	for _, section := range g.sections {
		candidates, err := g.generateSection(ctx, snapshot, section, topicIDs, pool, groupByTopic)
		if err != nil {
			return nil, err
		}
		results[section.Name] = candidates
	}

	total := 0
	for _, c := range results {
		total += len(c)
	}
	logger.Info("Ensemble generation complete",
		zap.String("snapshot_id", snapshot.ID),
		zap.Int("candidates", total),
	)

	return results, nil
}

func (g *Generator) generateSection(
	ctx context.Context,
	snapshot *models.TrendSnapshot,
	section SectionConfig,
	topicIDs []string,
	pool map[string][]models.NormalizedQuestion,
	groupByTopic map[string]string,
) ([]models.PredictionCandidate, error) {
	logger.Info("Generating section candidates",
		zap.String("section", section.Name),
		zap.Int("target", section.TargetCount),
	)

	var candidates []models.PredictionCandidate
	maxAttempts := section.TargetCount * 3

	for attempts := 0; len(candidates) < section.TargetCount && attempts < maxAttempts; attempts++ {
		topicID := topicIDs[g.rng.Intn(len(topicIDs))]
		stats := snapshot.TopicStats[topicID]
		strategy := g.pickStrategy(section.Weights)
		temperature := section.Temperatures[g.rng.Intn(len(section.Temperatures))]
		available := pool[topicID]

		var (
			questionID string
			origin     string
		)

		switch strategy {
		case StrategyHistorical:
			q := g.pickHistorical(section, available)
			if q == nil {
				continue
			}
			questionID, origin = q.ID, StrategyHistorical

		case StrategyVariant:
			if len(available) == 0 {
				continue
			}
			base := available[g.rng.Intn(len(available))]
			text, err := g.texts.RewriteVariant(ctx, section.Name, base.BaseForm, temperature)
			if err != nil {
				logger.Warn("Variant generation failed, skipping draw",
					zap.String("section", section.Name),
					zap.Error(err),
				)
				continue
			}
			q, err := g.storeGenerated(text, section, base.VariantGroupID)
			if err != nil {
				return nil, err
			}
			questionID, origin = q.ID, "generated_variant"

		case StrategyNovel:
			text, err := g.texts.GenerateNovel(ctx, section.Name, stats.Name, stats.Module, temperature)
			if err != nil {
				logger.Warn("Novel generation failed, skipping draw",
					zap.String("section", section.Name),
					zap.Error(err),
				)
				continue
			}
			q, err := g.storeGenerated(text, section, groupByTopic[topicID])
			if err != nil {
				return nil, err
			}
			questionID, origin = q.ID, "generated_novel"
		}

		candidate := models.PredictionCandidate{
			ID:         uuid.New().String(),
			QuestionID: questionID,
			SnapshotID: snapshot.ID,
			Status:     models.CandidatePending,
			Scores: models.CandidateScores{
				SectionTarget: section.Name,
				SectionMarks:  section.Marks,
				Strategy:      strategy,
				Origin:        origin,
				Temperature:   temperature,
				GapScore:      stats.GapScore,
				TrendStatus:   string(stats.Status),
				TopicName:     stats.Name,
			},
			CreatedAt: time.Now(),
		}
		if err := g.db.InsertCandidate(&candidate); err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate)
	}

	logger.Info("Section generation finished",
		zap.String("section", section.Name),
		zap.Int("generated", len(candidates)),
		zap.Int("target", section.TargetCount),
	)

	return candidates, nil
}

// pickHistorical prefers questions inside the section's difficulty band
// and falls back to any question the topic has.
func (g *Generator) pickHistorical(section SectionConfig, available []models.NormalizedQuestion) *models.NormalizedQuestion {
	if len(available) == 0 {
		return nil
	}
	var banded []models.NormalizedQuestion
	for _, q := range available {
		if section.InBand(q.Difficulty) {
			banded = append(banded, q)
		}
	}
	if len(banded) == 0 {
		banded = available
	}
	q := banded[g.rng.Intn(len(banded))]
	return &q
}

// storeGenerated persists an LLM-produced question. Identical text is
// deduplicated through the canonical hash, so regenerating the same
// wording reuses the existing row.
func (g *Generator) storeGenerated(text string, section SectionConfig, groupID string) (*models.NormalizedQuestion, error) {
	normalized := textutil.Normalize(text)
	hash := textutil.Hash(normalized)

	existing, err := g.db.GetQuestionByHash(hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	q := &models.NormalizedQuestion{
		ID:             uuid.New().String(),
		BaseForm:       normalized,
		Marks:          section.Marks,
		Difficulty:     section.DifficultyRange[0],
		Taxonomy:       section.Taxonomy,
		CanonicalHash:  hash,
		VariantGroupID: groupID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := g.db.InsertNormalizedQuestion(q); err != nil {
		return nil, err
	}
	return q, nil
}

func (g *Generator) pickStrategy(w StrategyWeights) string {
	total := w.Historical + w.Variant + w.Novel
	if total <= 0 {
		return StrategyHistorical
	}
	r := g.rng.Float64() * total
	switch {
	case r < w.Historical:
		return StrategyHistorical
	case r < w.Historical+w.Variant:
		return StrategyVariant
	default:
		return StrategyNovel
	}
}

func (g *Generator) loadQuestionPool(topicIDs []string) (map[string][]models.NormalizedQuestion, error) {
	pool := make(map[string][]models.NormalizedQuestion, len(topicIDs))
	for _, id := range topicIDs {
		questions, err := g.db.ListQuestionsForTopic(id)
		if err != nil {
			return nil, err
		}
		pool[id] = questions
	}
	return pool, nil
}

// firstGroupByTopic gives novel questions a variant group to hang off,
// so they participate in topic attribution like everything else.
func (g *Generator) firstGroupByTopic() (map[string]string, error) {
	groups, err := g.db.ListGroupsWithTopic()
	if err != nil {
		return nil, err
	}
	byTopic := make(map[string]string, len(groups))
	for _, grp := range groups {
		if _, ok := byTopic[grp.TopicID]; !ok {
			byTopic[grp.TopicID] = grp.ID
		}
	}
	return byTopic, nil
}
