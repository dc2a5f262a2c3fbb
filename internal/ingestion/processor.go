package ingestion

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/papertrend/backend/internal/storage/models"
	"github.com/papertrend/backend/internal/storage/sqlite"
	"github.com/papertrend/backend/internal/vector"
	"github.com/papertrend/backend/pkg/logger"
	"github.com/papertrend/backend/pkg/textutil"
)

// Embedder is the slice of the LLM client ingestion needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Processor folds raw extraction records into normalized questions.
// Creation is idempotent by canonical hash, so a batch interrupted
// between commits can be re-processed safely.
type Processor struct {
	db       *sqlite.Client
	index    vector.Index
	embedder Embedder
}

func NewProcessor(db *sqlite.Client, index vector.Index, embedder Embedder) *Processor {
	return &Processor{
		db:       db,
		index:    index,
		embedder: embedder,
	}
}

// IngestRaw stores a batch of extraction-provider records. Duplicate ids
// are ignored.
func (p *Processor) IngestRaw(records []models.RawQuestion) error {
	for i := range records {
		r := &records[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		if err := p.db.InsertRawQuestion(r); err != nil {
			return err
		}
	}

	logger.Info("Raw questions ingested", zap.Int("count", len(records)))
	return nil
}

// ProcessPending normalizes every unprocessed raw record. Embedding
// failures leave the record unprocessed for the next run; everything
// else is merged or created and marked done.
func (p *Processor) ProcessPending(ctx context.Context) (int, error) {
	pending, err := p.db.ListUnprocessedRaw()
	if err != nil {
		return 0, err
	}

	logger.Info("Normalizing raw questions", zap.Int("pending", len(pending)))

	processed := 0
	for _, raw := range pending {
		text := cleanText(raw.RawText)
		if text == "" {
			logger.Warn("Skipping empty raw question", zap.String("raw_id", raw.ID))
			if err := p.db.MarkRawProcessed([]string{raw.ID}); err != nil {
				return processed, err
			}
			continue
		}

		hash := textutil.Hash(text)

		existing, err := p.db.GetQuestionByHash(hash)
		if err != nil {
			return processed, err
		}

		if existing != nil {
			// Same base form seen in another year: merge the occurrence.
			if err := p.db.AppendOriginalID(existing.ID, raw.ID); err != nil {
				return processed, err
			}
			if err := p.db.MarkRawProcessed([]string{raw.ID}); err != nil {
				return processed, err
			}
			processed++
			continue
		}

		embedding, err := p.embedder.Embed(ctx, text)
		if err != nil {
			logger.Warn("Embedding failed, leaving raw question for retry",
				zap.String("raw_id", raw.ID),
				zap.Error(err),
			)
			continue
		}

		now := time.Now()
		q := &models.NormalizedQuestion{
			ID:            uuid.New().String(),
			BaseForm:      text,
			Marks:         raw.Marks,
			Difficulty:    difficultyFromMarks(raw.Marks),
			Taxonomy:      inferTaxonomy(text),
			CanonicalHash: hash,
			OriginalIDs:   []string{raw.ID},
			Embedding:     embedding,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if err := p.db.InsertNormalizedQuestion(q); err != nil {
			return processed, err
		}

		if err := p.index.Add(ctx, q.ID, embedding); err != nil {
			logger.Warn("Failed to register embedding in vector index",
				zap.String("question_id", q.ID),
				zap.Error(err),
			)
		}

		if err := p.db.MarkRawProcessed([]string{raw.ID}); err != nil {
			return processed, err
		}
		processed++
	}

	logger.Info("Normalization complete", zap.Int("processed", processed))
	return processed, nil
}

// cleanText strips any markup the extraction provider leaves behind and
// collapses whitespace.
func cleanText(raw string) string {
	text := raw
	if strings.Contains(raw, "<") && strings.Contains(raw, ">") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
			text = doc.Text()
		}
	}
	return textutil.Normalize(text)
}

func difficultyFromMarks(marks int) int {
	switch {
	case marks <= 0:
		return 0
	case marks <= 2:
		return 2
	case marks <= 5:
		return 3
	default:
		return 4
	}
}

// bloomVerbs maps question-opening verbs to Bloom's taxonomy levels.
var bloomVerbs = map[string]string{
	"define": "Remember", "list": "Remember", "state": "Remember",
	"name": "Remember", "what": "Remember", "identify": "Remember",
	"explain": "Understand", "describe": "Understand", "summarize": "Understand",
	"discuss": "Understand", "illustrate": "Understand", "why": "Understand",
	"solve": "Apply", "apply": "Apply", "calculate": "Apply",
	"compute": "Apply", "demonstrate": "Apply", "implement": "Apply",
	"compare": "Analyze", "analyze": "Analyze", "differentiate": "Analyze",
	"examine": "Analyze", "derive": "Analyze", "distinguish": "Analyze",
	"evaluate": "Evaluate", "justify": "Evaluate", "critique": "Evaluate",
	"assess": "Evaluate",
	"design": "Create", "develop": "Create", "construct": "Create",
	"propose": "Create", "create": "Create",
}

// inferTaxonomy guesses Bloom levels from the question's opening tokens.
// It scans the first few words because questions often lead with a part
// label ("a)") before the interrogative verb.
func inferTaxonomy(text string) []string {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var levels []string

	for i, tok := range doc.Tokens() {
		if i >= 8 && len(levels) > 0 {
			break
		}
		word := strings.ToLower(tok.Text)
		if level, ok := bloomVerbs[word]; ok && !seen[level] {
			seen[level] = true
			levels = append(levels, level)
		}
	}

	return levels
}
