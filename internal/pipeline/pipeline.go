// Package pipeline runs the prediction stages in order: normalization,
// variant grouping, syllabus mapping, trend analysis, ensemble
// generation, deduplication, voting, and paper export. Stages are
// sequential; a failed stage halts the run with prior committed work
// intact.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papertrend/backend/internal/cluster"
	"github.com/papertrend/backend/internal/generator"
	"github.com/papertrend/backend/internal/ingestion"
	"github.com/papertrend/backend/internal/metrics"
	"github.com/papertrend/backend/internal/storage/models"
	"github.com/papertrend/backend/internal/storage/sqlite"
	"github.com/papertrend/backend/internal/syllabus"
	"github.com/papertrend/backend/internal/trend"
	"github.com/papertrend/backend/internal/voting"
	"github.com/papertrend/backend/pkg/logger"
)

// Progress is one stage event pushed to subscribers (websocket clients).
type Progress struct {
	Stage  string `json:"stage"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type ProgressFunc func(Progress)

type Params struct {
	StartYear int `json:"start_year"`
	EndYear   int `json:"end_year"`
}

// Result is the outcome of one run. Errors holds the failed stage's
// message when the run halted early.
type Result struct {
	SnapshotID string                                  `json:"snapshot_id,omitempty"`
	PaperID    string                                  `json:"paper_id,omitempty"`
	Selected   map[string][]models.PredictionCandidate `json:"selected,omitempty"`
	Errors     []string                                `json:"errors,omitempty"`
	StartedAt  time.Time                               `json:"started_at"`
	FinishedAt time.Time                               `json:"finished_at"`
}

type Pipeline struct {
	db        *sqlite.Client
	processor *ingestion.Processor
	cluster   *cluster.Engine
	mapper    *syllabus.Mapper
	analyzer  *trend.Analyzer
	generator *generator.Generator
	dedup     *generator.Deduplicator
	voter     *voting.Voter
	sections  []generator.SectionConfig
	progress  ProgressFunc
}

func New(
	db *sqlite.Client,
	processor *ingestion.Processor,
	clusterEngine *cluster.Engine,
	mapper *syllabus.Mapper,
	analyzer *trend.Analyzer,
	gen *generator.Generator,
	dedup *generator.Deduplicator,
	voter *voting.Voter,
	sections []generator.SectionConfig,
	progress ProgressFunc,
) *Pipeline {
	if progress == nil {
		progress = func(Progress) {}
	}
	return &Pipeline{
		db:        db,
		processor: processor,
		cluster:   clusterEngine,
		mapper:    mapper,
		analyzer:  analyzer,
		generator: gen,
		dedup:     dedup,
		voter:     voter,
		sections:  sections,
		progress:  progress,
	}
}

// Run executes the full pipeline for one year window.
func (p *Pipeline) Run(ctx context.Context, params Params) *Result {
	result := &Result{StartedAt: time.Now()}

	logger.Info("Pipeline run started",
		zap.Int("start_year", params.StartYear),
		zap.Int("end_year", params.EndYear),
	)

	var snapshot *models.TrendSnapshot
	candidates := map[string][]models.PredictionCandidate{}

	stages := []struct {
		name string
		run  func(context.Context) error
	}{
		{"normalization", func(ctx context.Context) error {
			_, err := p.processor.ProcessPending(ctx)
			return err
		}},
		{"variant_grouping", func(ctx context.Context) error {
			res, err := p.cluster.Run(ctx)
			if err != nil {
				return err
			}
			metrics.GroupsCreated.Add(float64(res.GroupsCreated))
			return nil
		}},
		{"syllabus_mapping", func(ctx context.Context) error {
			if err := p.mapper.EnrichTopics(ctx); err != nil {
				return err
			}
			_, err := p.mapper.MapGroups(ctx)
			return err
		}},
		{"trend_analysis", func(ctx context.Context) error {
			var err error
			snapshot, err = p.analyzer.Run(ctx, params.StartYear, params.EndYear)
			if err != nil {
				return err
			}
			result.SnapshotID = snapshot.ID
			return nil
		}},
		{"generation", func(ctx context.Context) error {
			var err error
			candidates, err = p.generator.Run(ctx, snapshot)
			if err != nil {
				return err
			}
			for section, batch := range candidates {
				for _, c := range batch {
					metrics.CandidatesGenerated.WithLabelValues(section, c.Scores.Strategy).Inc()
				}
			}
			return nil
		}},
		{"deduplication", func(ctx context.Context) error {
			for section, batch := range candidates {
				kept, err := p.dedup.Filter(ctx, snapshot.ID, batch)
				if err != nil {
					return err
				}
				metrics.CandidatesDeduplicated.Add(float64(len(batch) - len(kept)))
				candidates[section] = kept
			}
			return nil
		}},
		{"voting", func(ctx context.Context) error {
			selected, err := p.voter.Run(ctx, snapshot.ID)
			if err != nil {
				return err
			}
			for section, batch := range selected {
				metrics.CandidatesSelected.WithLabelValues(section).Add(float64(len(batch)))
			}
			result.Selected = selected
			return nil
		}},
		{"paper_export", func(ctx context.Context) error {
			paperID, err := p.exportPaper(result.Selected)
			if err != nil {
				return err
			}
			result.PaperID = paperID
			return nil
		}},
	}

	for _, stage := range stages {
		if err := p.runStage(ctx, stage.name, stage.run); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", stage.name, err))
			result.FinishedAt = time.Now()
			metrics.PipelineRuns.WithLabelValues("failed").Inc()
			logger.Error("Pipeline run halted",
				zap.String("stage", stage.name),
				zap.Error(err),
			)
			return result
		}
	}

	result.FinishedAt = time.Now()
	metrics.PipelineRuns.WithLabelValues("completed").Inc()

	logger.Info("Pipeline run completed",
		zap.String("snapshot_id", result.SnapshotID),
		zap.String("paper_id", result.PaperID),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
	)

	return result
}

func (p *Pipeline) runStage(ctx context.Context, name string, run func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	log := logger.Stage(name)

	p.progress(Progress{Stage: name, Status: "started"})
	log.Info("Stage started")

	start := time.Now()
	err := run(ctx)
	metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		p.progress(Progress{Stage: name, Status: "failed", Detail: err.Error()})
		return err
	}

	log.Info("Stage completed", zap.Duration("elapsed", time.Since(start)))
	p.progress(Progress{Stage: name, Status: "completed"})
	return nil
}

// exportPaper freezes the selection into a versioned sample paper for
// external rendering.
func (p *Pipeline) exportPaper(selected map[string][]models.PredictionCandidate) (string, error) {
	version, err := p.db.NextPaperVersion()
	if err != nil {
		return "", err
	}

	rawYears, err := p.db.RawYears()
	if err != nil {
		return "", err
	}

	paper := &models.SamplePaper{
		ID:        uuid.New().String(),
		Version:   version,
		Locked:    true,
		CreatedAt: time.Now(),
	}

	var items []models.SamplePaperItem
	for _, section := range p.sections {
		for i, cand := range selected[section.Name] {
			paper.TotalMarks += section.Marks
			items = append(items, models.SamplePaperItem{
				ID:          uuid.New().String(),
				PaperID:     paper.ID,
				CandidateID: cand.ID,
				Section:     section.Name,
				Ordering:    i + 1,
				Marks:       section.Marks,
				SourceYear:  p.sourceYear(cand.QuestionID, rawYears),
			})
		}
	}

	if err := p.db.InsertSamplePaper(paper); err != nil {
		return "", err
	}
	for i := range items {
		if err := p.db.InsertSamplePaperItem(&items[i]); err != nil {
			return "", err
		}
	}

	logger.Info("Sample paper exported",
		zap.String("paper_id", paper.ID),
		zap.Int("version", paper.Version),
		zap.Int("items", len(items)),
		zap.Int("total_marks", paper.TotalMarks),
	)

	return paper.ID, nil
}

// sourceYear is the most recent appearance year of a reused question, 0
// for generated ones.
func (p *Pipeline) sourceYear(questionID string, rawYears map[string]int) int {
	q, err := p.db.GetQuestion(questionID)
	if err != nil {
		return 0
	}
	year := 0
	for _, rawID := range q.OriginalIDs {
		if y := rawYears[rawID]; y > year {
			year = y
		}
	}
	return year
}
