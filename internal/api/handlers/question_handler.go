package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papertrend/backend/internal/ingestion"
	"github.com/papertrend/backend/internal/metrics"
	"github.com/papertrend/backend/internal/storage/models"
	"github.com/papertrend/backend/internal/storage/sqlite"
	"github.com/papertrend/backend/internal/syllabus"
	"github.com/papertrend/backend/pkg/logger"
)

type QuestionHandler struct {
	processor *ingestion.Processor
	db        *sqlite.Client
	graph     *syllabus.Client
}

func NewQuestionHandler(processor *ingestion.Processor, db *sqlite.Client, graph *syllabus.Client) *QuestionHandler {
	return &QuestionHandler{
		processor: processor,
		db:        db,
		graph:     graph,
	}
}

type rawQuestionInput struct {
	Year          int     `json:"year"`
	Section       string  `json:"section"`
	Numbering     string  `json:"numbering"`
	RawText       string  `json:"raw_text"`
	Marks         int     `json:"marks"`
	SourceFile    string  `json:"source_file"`
	OCRConfidence float64 `json:"ocr_confidence"`
}

// IngestQuestions accepts a batch of extraction-provider records and
// stores them for normalization.
func (h *QuestionHandler) IngestQuestions(c *fiber.Ctx) error {
	var req struct {
		Questions []rawQuestionInput `json:"questions"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Questions) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one question is required",
		})
	}

	records := make([]models.RawQuestion, 0, len(req.Questions))
	for _, q := range req.Questions {
		if q.Year == 0 || q.RawText == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Each question requires year and raw_text",
			})
		}
		records = append(records, models.RawQuestion{
			Year:          q.Year,
			Section:       q.Section,
			Numbering:     q.Numbering,
			RawText:       q.RawText,
			Marks:         q.Marks,
			SourceFile:    q.SourceFile,
			OCRConfidence: q.OCRConfidence,
		})
	}

	if err := h.processor.IngestRaw(records); err != nil {
		logger.Error("Failed to ingest questions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest questions",
		})
	}
	metrics.QuestionsIngested.Add(float64(len(records)))

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"ingested": len(records),
	})
}

type topicInput struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Module   string  `json:"module"`
	ParentID string  `json:"parent_id"`
	Weight   float64 `json:"weight"`
}

// IngestTopics upserts syllabus topics into the relational store and
// mirrors the module hierarchy into the graph. Graph failures do not
// block the relational write.
func (h *QuestionHandler) IngestTopics(c *fiber.Ctx) error {
	var req struct {
		Topics []topicInput `json:"topics"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Topics) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one topic is required",
		})
	}

	for _, t := range req.Topics {
		if t.ID == "" || t.Name == "" || t.Module == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Each topic requires id, name and module",
			})
		}

		weight := t.Weight
		if weight == 0 {
			weight = 1.0
		}

		topic := &models.Topic{
			ID:        t.ID,
			Name:      t.Name,
			Module:    t.Module,
			ParentID:  t.ParentID,
			Weight:    weight,
			CreatedAt: time.Now(),
		}
		if err := h.db.UpsertTopic(topic); err != nil {
			logger.Error("Failed to upsert topic", zap.String("topic_id", t.ID), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to upsert topic",
			})
		}

		if h.graph != nil {
			if err := h.graph.UpsertTopic(c.Context(), t.ID, t.Name, t.Module, weight); err != nil {
				logger.Warn("Failed to mirror topic to graph",
					zap.String("topic_id", t.ID),
					zap.Error(err),
				)
			}
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"upserted": len(req.Topics),
	})
}
