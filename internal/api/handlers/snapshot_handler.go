package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papertrend/backend/internal/storage/sqlite"
	"github.com/papertrend/backend/pkg/logger"
)

type SnapshotHandler struct {
	db *sqlite.Client
}

func NewSnapshotHandler(db *sqlite.Client) *SnapshotHandler {
	return &SnapshotHandler{db: db}
}

func (h *SnapshotHandler) GetSnapshot(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Snapshot id is required",
		})
	}

	snapshot, err := h.db.GetSnapshot(id)
	if err != nil {
		logger.Warn("Snapshot not found", zap.String("snapshot_id", id), zap.Error(err))
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Snapshot not found",
		})
	}

	return c.JSON(fiber.Map{
		"id":               snapshot.ID,
		"start_year":       snapshot.StartYear,
		"end_year":         snapshot.EndYear,
		"topic_stats":      snapshot.TopicStats,
		"emerging_topics":  snapshot.EmergingTopics,
		"declining_topics": snapshot.DecliningTopics,
		"insight":          snapshot.Insight,
		"created_at":       snapshot.CreatedAt,
	})
}

// GetSelected returns the snapshot's selected candidates grouped by
// section, the shape paper assembly consumes.
func (h *SnapshotHandler) GetSelected(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Snapshot id is required",
		})
	}

	selected, err := h.db.ListSelectedCandidates(id)
	if err != nil {
		logger.Error("Failed to list selected candidates", zap.String("snapshot_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list selected candidates",
		})
	}

	bySection := map[string][]fiber.Map{}
	for _, cand := range selected {
		entry := fiber.Map{
			"id":          cand.ID,
			"question_id": cand.QuestionID,
			"scores":      cand.Scores,
		}
		if q, err := h.db.GetQuestion(cand.QuestionID); err == nil {
			entry["text"] = q.BaseForm
			entry["difficulty"] = q.Difficulty
		}
		bySection[cand.Scores.SectionTarget] = append(bySection[cand.Scores.SectionTarget], entry)
	}

	return c.JSON(fiber.Map{
		"snapshot_id": id,
		"selected":    bySection,
		"total":       len(selected),
	})
}
