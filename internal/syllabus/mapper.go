package syllabus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/papertrend/backend/internal/similarity"
	"github.com/papertrend/backend/internal/storage/models"
	"github.com/papertrend/backend/internal/storage/sqlite"
	"github.com/papertrend/backend/pkg/logger"
)

// mappingTiers are the accepted similarity thresholds for linking a
// variant group to a topic, tried strongest first. A best match below
// the lowest tier leaves the group unmapped.
var mappingTiers = []float64{0.75, 0.65, 0.60, 0.50, 0.40, 0.30}

// Embedder is the slice of the LLM client the mapper needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Mapper links variant groups to syllabus topics by embedding
// similarity between the group's canonical stem and the topic text.
type Mapper struct {
	db       *sqlite.Client
	embedder Embedder
}

func NewMapper(db *sqlite.Client, embedder Embedder) *Mapper {
	return &Mapper{db: db, embedder: embedder}
}

// EnrichTopics embeds every topic that has no embedding yet, from its
// name plus module context.
func (m *Mapper) EnrichTopics(ctx context.Context) error {
	topics, err := m.db.ListTopics()
	if err != nil {
		return err
	}

	enriched := 0
	for _, t := range topics {
		if len(t.Embedding) > 0 {
			continue
		}
		text := fmt.Sprintf("%s. Module: %s", t.Name, t.Module)
		embedding, err := m.embedder.Embed(ctx, text)
		if err != nil {
			logger.Warn("Topic embedding failed, skipping",
				zap.String("topic_id", t.ID),
				zap.Error(err),
			)
			continue
		}
		if err := m.db.UpdateTopicEmbedding(t.ID, embedding); err != nil {
			return err
		}
		enriched++
	}

	logger.Info("Syllabus topics enriched", zap.Int("enriched", enriched))
	return nil
}

// MapGroups assigns each unmapped variant group to its most similar
// topic, provided the score clears one of the accepted tiers. Groups
// without an embedding are embedded from their canonical stem first.
// Already-mapped groups are never touched, so re-running is safe.
func (m *Mapper) MapGroups(ctx context.Context) (int, error) {
	groups, err := m.db.ListUnmappedGroups()
	if err != nil {
		return 0, err
	}
	if len(groups) == 0 {
		return 0, nil
	}

	topics, err := m.db.ListTopics()
	if err != nil {
		return 0, err
	}
	var embedded []models.Topic
	for _, t := range topics {
		if len(t.Embedding) > 0 {
			embedded = append(embedded, t)
		}
	}
	if len(embedded) == 0 {
		logger.Warn("No topics with embeddings, skipping group mapping")
		return 0, nil
	}

	logger.Info("Mapping variant groups to topics",
		zap.Int("unmapped", len(groups)),
		zap.Int("topics", len(embedded)),
	)

	mapped := 0
	for _, g := range groups {
		embedding := g.Embedding
		if len(embedding) == 0 {
			embedding, err = m.embedder.Embed(ctx, g.CanonicalStem)
			if err != nil {
				logger.Warn("Group embedding failed, skipping",
					zap.String("group_id", g.ID),
					zap.Error(err),
				)
				continue
			}
			if err := m.db.UpdateGroupEmbedding(g.ID, embedding); err != nil {
				return mapped, err
			}
		}

		bestScore := -1.0
		bestTopic := ""
		for _, t := range embedded {
			if score := similarity.Cosine(embedding, t.Embedding); score > bestScore {
				bestScore = score
				bestTopic = t.ID
			}
		}

		accepted := false
		for _, tier := range mappingTiers {
			if bestScore >= tier {
				accepted = true
				break
			}
		}
		if !accepted {
			logger.Debug("Group left unmapped, best match below threshold",
				zap.String("group_id", g.ID),
				zap.Float64("best_score", bestScore),
			)
			continue
		}

		if err := m.db.SetGroupTopic(g.ID, bestTopic); err != nil {
			return mapped, err
		}
		mapped++
	}

	logger.Info("Group mapping complete",
		zap.Int("mapped", mapped),
		zap.Int("unmapped", len(groups)-mapped),
	)

	return mapped, nil
}
