// Package trend turns per-year question occurrences into per-topic
// statistics: frequency trend, recurrence gap, section profile, and
// cyclicity. Each run produces one append-only snapshot.
package trend

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papertrend/backend/internal/storage/models"
	"github.com/papertrend/backend/internal/storage/sqlite"
	"github.com/papertrend/backend/internal/syllabus"
	"github.com/papertrend/backend/pkg/config"
	"github.com/papertrend/backend/pkg/logger"
)

// Insighter writes the qualitative narrative attached to a snapshot.
// The LLM client satisfies it.
type Insighter interface {
	TrendInsight(ctx context.Context, emerging, declining, gaps []string) (string, error)
}

// HierarchySource supplies the module→topic edges the arena is built
// from. The graph client satisfies it.
type HierarchySource interface {
	FetchHierarchy(ctx context.Context) (map[string]string, error)
}

type Analyzer struct {
	db       *sqlite.Client
	insights Insighter
	graph    HierarchySource
	cfg      config.AnalysisConfig
}

// NewAnalyzer builds an analyzer. graph may be nil when no syllabus
// hierarchy is available; topic modules then come from the topic rows.
func NewAnalyzer(db *sqlite.Client, insights Insighter, graph HierarchySource, cfg config.AnalysisConfig) *Analyzer {
	return &Analyzer{db: db, insights: insights, graph: graph, cfg: cfg}
}

// occurrence is one (question, topic, year) event inside the window.
// section is the paper-section label the extraction provider recorded,
// empty when the source paper had none.
type occurrence struct {
	year       int
	difficulty int
	section    string
	taxonomy   []string
}

// Run aggregates every occurrence in [startYear, endYear], computes
// per-topic statistics, persists an immutable snapshot, and writes the
// derived status and gap score back onto the topics.
func (a *Analyzer) Run(ctx context.Context, startYear, endYear int) (*models.TrendSnapshot, error) {
	if startYear > endYear {
		return nil, fmt.Errorf("invalid year window %d-%d", startYear, endYear)
	}

	logger.Info("Starting trend analysis",
		zap.Int("start_year", startYear),
		zap.Int("end_year", endYear),
	)

	byTopic, err := a.collectOccurrences(startYear, endYear)
	if err != nil {
		return nil, err
	}

	topics, err := a.db.ListTopics()
	if err != nil {
		return nil, err
	}
	topicByID := make(map[string]models.Topic, len(topics))
	for _, t := range topics {
		topicByID[t.ID] = t
	}

	// One hierarchy read per run; module resolution afterwards is a map
	// lookup through the arena.
	hierarchy := map[string]string{}
	if a.graph != nil {
		hierarchy, err = a.graph.FetchHierarchy(ctx)
		if err != nil {
			logger.Warn("Hierarchy fetch failed, using topic rows only", zap.Error(err))
			hierarchy = map[string]string{}
		}
	}
	arena := syllabus.BuildArena(topics, hierarchy)

	snapshot := &models.TrendSnapshot{
		ID:         uuid.New().String(),
		StartYear:  startYear,
		EndYear:    endYear,
		TopicStats: make(map[string]models.TopicStats, len(byTopic)),
		CreatedAt:  time.Now(),
	}

	for topicID, occs := range byTopic {
		topic, ok := topicByID[topicID]
		if !ok {
			logger.Warn("Occurrences reference unknown topic, skipping", zap.String("topic_id", topicID))
			continue
		}
		stats := a.computeStats(topic, occs, endYear, arena)
		snapshot.TopicStats[topicID] = stats

		switch stats.Status {
		case models.TopicEmerging:
			snapshot.EmergingTopics = append(snapshot.EmergingTopics, topicID)
		case models.TopicDeclining:
			snapshot.DecliningTopics = append(snapshot.DecliningTopics, topicID)
		}
	}
	sort.Strings(snapshot.EmergingTopics)
	sort.Strings(snapshot.DecliningTopics)

	// The narrative is metadata. If the provider is down the snapshot
	// ships without it.
	if a.insights != nil {
		insight, err := a.insights.TrendInsight(ctx,
			a.topicNames(snapshot, snapshot.EmergingTopics),
			a.topicNames(snapshot, snapshot.DecliningTopics),
			topGapNames(snapshot, 5),
		)
		if err != nil {
			logger.Warn("Trend insight generation failed, omitting narrative", zap.Error(err))
		} else {
			snapshot.Insight = insight
		}
	}

	if err := a.db.InsertSnapshot(snapshot); err != nil {
		return nil, err
	}

	for topicID, stats := range snapshot.TopicStats {
		if err := a.db.UpdateTopicTrend(topicID, stats.TotalCount, stats.LastAskedYear, stats.GapScore, stats.Status); err != nil {
			return nil, err
		}
	}

	logger.Info("Trend analysis complete",
		zap.String("snapshot_id", snapshot.ID),
		zap.Int("topics", len(snapshot.TopicStats)),
		zap.Int("emerging", len(snapshot.EmergingTopics)),
		zap.Int("declining", len(snapshot.DecliningTopics)),
	)

	return snapshot, nil
}

// collectOccurrences joins grouped questions to their topics and places
// each original appearance on the year timeline.
func (a *Analyzer) collectOccurrences(startYear, endYear int) (map[string][]occurrence, error) {
	questions, err := a.db.ListGroupedQuestions()
	if err != nil {
		return nil, err
	}

	groups, err := a.db.ListGroupsWithTopic()
	if err != nil {
		return nil, err
	}
	topicByGroup := make(map[string]string, len(groups))
	for _, g := range groups {
		topicByGroup[g.ID] = g.TopicID
	}

	rawYears, err := a.db.RawYears()
	if err != nil {
		return nil, err
	}
	rawSections, err := a.db.RawSections()
	if err != nil {
		return nil, err
	}

	byTopic := make(map[string][]occurrence)
	for _, q := range questions {
		topicID := topicByGroup[q.VariantGroupID]
		if topicID == "" {
			continue
		}
		for _, rawID := range q.OriginalIDs {
			year, ok := rawYears[rawID]
			if !ok || year < startYear || year > endYear {
				continue
			}
			byTopic[topicID] = append(byTopic[topicID], occurrence{
				year:       year,
				difficulty: q.Difficulty,
				section:    rawSections[rawID],
				taxonomy:   q.Taxonomy,
			})
		}
	}

	return byTopic, nil
}

func (a *Analyzer) computeStats(topic models.Topic, occs []occurrence, endYear int, arena *syllabus.Arena) models.TopicStats {
	freqByYear := map[int]int{}
	diffSums := map[int]int{}
	diffCounts := map[int]int{}
	taxCounts := map[int]map[string]int{}
	difficulties := make([]int, 0, len(occs))
	labels := make([]string, 0, len(occs))
	lastAsked := 0

	for _, o := range occs {
		labels = append(labels, o.section)
		freqByYear[o.year]++
		if o.year > lastAsked {
			lastAsked = o.year
		}
		if o.difficulty > 0 {
			diffSums[o.year] += o.difficulty
			diffCounts[o.year]++
		}
		difficulties = append(difficulties, o.difficulty)
		for _, level := range o.taxonomy {
			if taxCounts[o.year] == nil {
				taxCounts[o.year] = map[string]int{}
			}
			taxCounts[o.year][level]++
		}
	}

	diffByYear := make(map[int]float64, len(diffSums))
	for y, sum := range diffSums {
		diffByYear[y] = round2(float64(sum) / float64(diffCounts[y]))
	}

	taxDist := make(map[int]map[string]float64, len(taxCounts))
	for y, counts := range taxCounts {
		total := 0
		for _, c := range counts {
			total += c
		}
		dist := make(map[string]float64, len(counts))
		for level, c := range counts {
			dist[level] = round2(float64(c) / float64(total))
		}
		taxDist[y] = dist
	}

	slope := round2(Slope(freqByYear, endYear, a.cfg.SlopeWindowYears))
	status := models.TopicStable
	switch {
	case slope > a.cfg.EmergingSlope:
		status = models.TopicEmerging
	case slope < a.cfg.DecliningSlope:
		status = models.TopicDeclining
	}

	years := make([]int, 0, len(freqByYear))
	total := 0
	for y, c := range freqByYear {
		years = append(years, y)
		total += c
	}

	// Observed section labels beat difficulty banding when the source
	// papers recorded them.
	sectionDist, sectionPref, avgDifficulty := SectionProfile(difficulties)
	if dist, pref := SectionProfileFromLabels(labels); pref != "" {
		sectionDist, sectionPref = dist, pref
	}

	module := topic.Module
	if root, ok := arena.Root(topic.ID); ok && root.Module != "" {
		module = root.Module
	}

	return models.TopicStats{
		Name:                 topic.Name,
		Module:               module,
		TotalCount:           total,
		FrequencyByYear:      freqByYear,
		DifficultyByYear:     diffByYear,
		TaxonomyDistribution: taxDist,
		SectionDistribution:  sectionDist,
		SectionPreference:    sectionPref,
		AvgDifficulty:        avgDifficulty,
		LastAskedYear:        lastAsked,
		GapScore:             GapScore(endYear, lastAsked, topic.Weight),
		TrendSlope:           slope,
		Status:               status,
		Cyclicity:            ClassifyCyclicity(years, a.cfg.MostlyRegularFraction),
	}
}

func (a *Analyzer) topicNames(s *models.TrendSnapshot, ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, s.TopicStats[id].Name)
	}
	return names
}

// topGapNames lists the most overdue topics for the narrative prompt.
func topGapNames(s *models.TrendSnapshot, limit int) []string {
	type entry struct {
		name string
		gap  float64
	}
	entries := make([]entry, 0, len(s.TopicStats))
	for _, st := range s.TopicStats {
		if st.GapScore > 0 {
			entries = append(entries, entry{name: st.Name, gap: st.GapScore})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].gap != entries[j].gap {
			return entries[i].gap > entries[j].gap
		}
		return entries[i].name < entries[j].name
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = fmt.Sprintf("%s (Gap: %.1f)", e.name, e.gap)
	}
	return names
}
