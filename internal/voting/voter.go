// Package voting runs the final greedy selection pass: per section,
// candidates are scored by overdueness plus topic relevance and accepted
// in score order under a relevance floor, a difficulty band check, a
// per-topic cap, and the section quota.
package voting

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/papertrend/backend/internal/generator"
	"github.com/papertrend/backend/internal/metrics"
	"github.com/papertrend/backend/internal/similarity"
	"github.com/papertrend/backend/internal/storage/models"
	"github.com/papertrend/backend/internal/storage/sqlite"
	"github.com/papertrend/backend/pkg/logger"
)

// Embedder is the slice of the LLM client voting needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Voter struct {
	db             *sqlite.Client
	embedder       Embedder
	sections       []generator.SectionConfig
	relevanceFloor float64
}

func NewVoter(db *sqlite.Client, embedder Embedder, sections []generator.SectionConfig, relevanceFloor float64) *Voter {
	return &Voter{
		db:             db,
		embedder:       embedder,
		sections:       sections,
		relevanceFloor: relevanceFloor,
	}
}

// scored pairs a candidate with its resolved topic and relevance.
type scored struct {
	candidate models.PredictionCandidate
	question  *models.NormalizedQuestion
	topicID   string
	relevance float64
	final     float64
}

// Run votes every section of one snapshot independently and returns the
// selected candidates per section. Under-filling a section is a valid
// outcome, not an error.
func (v *Voter) Run(ctx context.Context, snapshotID string) (map[string][]models.PredictionCandidate, error) {
	candidates, err := v.db.ListCandidatesBySnapshot(snapshotID)
	if err != nil {
		return nil, err
	}

	bySection := make(map[string][]models.PredictionCandidate)
	for _, c := range candidates {
		if c.Status != models.CandidatePending || c.Scores.SectionTarget == "" {
			continue
		}
		bySection[c.Scores.SectionTarget] = append(bySection[c.Scores.SectionTarget], c)
	}

	topicByGroup, topicEmbeddings, err := v.topicLookups()
	if err != nil {
		return nil, err
	}

	results := make(map[string][]models.PredictionCandidate, len(v.sections))
	for _, section := range v.sections {
		pending := bySection[section.Name]
		if len(pending) == 0 {
			logger.Warn("No pending candidates for section", zap.String("section", section.Name))
			continue
		}
		selected, err := v.voteSection(ctx, section, pending, topicByGroup, topicEmbeddings)
		if err != nil {
			return nil, err
		}
		results[section.Name] = selected
	}

	total := 0
	for _, s := range results {
		total += len(s)
	}
	logger.Info("Voting complete",
		zap.String("snapshot_id", snapshotID),
		zap.Int("selected", total),
	)

	return results, nil
}

func (v *Voter) voteSection(
	ctx context.Context,
	section generator.SectionConfig,
	candidates []models.PredictionCandidate,
	topicByGroup map[string]string,
	topicEmbeddings map[string][]float32,
) ([]models.PredictionCandidate, error) {
	logger.Info("Voting section",
		zap.String("section", section.Name),
		zap.Int("candidates", len(candidates)),
		zap.Int("quota", section.FinalCount),
	)

	items := make([]scored, 0, len(candidates))
	for _, cand := range candidates {
		item, err := v.score(ctx, cand, topicByGroup, topicEmbeddings)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}

	// Highest score first; candidate id breaks ties so reruns order
	// identically.
	sort.Slice(items, func(i, j int) bool {
		if items[i].final != items[j].final {
			return items[i].final > items[j].final
		}
		return items[i].candidate.ID < items[j].candidate.ID
	})

	var selected []models.PredictionCandidate
	topicCounts := map[string]int{}

	for _, item := range items {
		cand := item.candidate

		switch {
		case item.relevance < v.relevanceFloor:
			err := v.reject(&cand, "Low Relevance",
				fmt.Sprintf("Low Relevance (%.2f)", item.relevance))
			if err != nil {
				return nil, err
			}

		case !section.InBand(item.question.Difficulty):
			err := v.reject(&cand, "Section Mismatch",
				fmt.Sprintf("Difficulty Mismatch (got %d, expected %v for Section %s)",
					item.question.Difficulty, section.DifficultyRange, section.Name))
			if err != nil {
				return nil, err
			}

		case topicCounts[item.topicID] >= section.MaxPerTopic:
			err := v.reject(&cand, "Topic Cap",
				fmt.Sprintf("Topic Cap (%d max per topic)", section.MaxPerTopic))
			if err != nil {
				return nil, err
			}

		case len(selected) >= section.FinalCount:
			err := v.reject(&cand, "Rank Cutoff",
				fmt.Sprintf("Rank Cutoff (Rel: %.2f)", item.relevance))
			if err != nil {
				return nil, err
			}

		default:
			cand.Status = models.CandidateSelected
			if err := v.db.UpdateCandidate(&cand); err != nil {
				return nil, err
			}
			topicCounts[item.topicID]++
			selected = append(selected, cand)
		}
	}

	logger.Info("Section voted",
		zap.String("section", section.Name),
		zap.Int("selected", len(selected)),
		zap.Int("quota", section.FinalCount),
	)

	return selected, nil
}

// score resolves the candidate's topic through its question's variant
// group, lazily embedding the question when needed, and writes the
// relevance and final score into the candidate's scores.
func (v *Voter) score(
	ctx context.Context,
	cand models.PredictionCandidate,
	topicByGroup map[string]string,
	topicEmbeddings map[string][]float32,
) (*scored, error) {
	q, err := v.db.GetQuestion(cand.QuestionID)
	if err != nil {
		return nil, err
	}

	if len(q.Embedding) == 0 {
		embedding, err := v.embedder.Embed(ctx, q.BaseForm)
		if err != nil {
			logger.Warn("Embedding failed during voting, relevance falls to zero",
				zap.String("candidate_id", cand.ID),
				zap.Error(err),
			)
		} else {
			if err := v.db.UpdateQuestionEmbedding(q.ID, embedding); err != nil {
				return nil, err
			}
			q.Embedding = embedding
		}
	}

	topicID := topicByGroup[q.VariantGroupID]
	relevance := 0.0
	if topicID != "" {
		relevance = similarity.Cosine(q.Embedding, topicEmbeddings[topicID])
	}

	final := cand.Scores.GapScore/20.0 + relevance
	cand.Scores.Relevance = round3(relevance)
	cand.Scores.FinalScore = round3(final)
	metrics.RelevanceScore.Observe(relevance)

	return &scored{
		candidate: cand,
		question:  q,
		topicID:   topicID,
		relevance: relevance,
		final:     final,
	}, nil
}

func (v *Voter) reject(cand *models.PredictionCandidate, category, reason string) error {
	cand.Status = models.CandidateExcluded
	cand.Scores.ExclusionReason = reason
	cand.Scores.ExclusionCategory = category
	return v.db.UpdateCandidate(cand)
}

func (v *Voter) topicLookups() (map[string]string, map[string][]float32, error) {
	groups, err := v.db.ListGroupsWithTopic()
	if err != nil {
		return nil, nil, err
	}
	topicByGroup := make(map[string]string, len(groups))
	for _, g := range groups {
		topicByGroup[g.ID] = g.TopicID
	}

	topics, err := v.db.ListTopics()
	if err != nil {
		return nil, nil, err
	}
	topicEmbeddings := make(map[string][]float32, len(topics))
	for _, t := range topics {
		topicEmbeddings[t.ID] = t.Embedding
	}

	return topicByGroup, topicEmbeddings, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
