package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/papertrend/backend/internal/storage/models"
	"github.com/papertrend/backend/pkg/logger"
)

type dbtx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// queries holds every statement of the store. It runs against either the
// root connection (autocommit) or an open transaction.
type queries struct {
	q dbtx
}

type Client struct {
	queries
	db *sql.DB
}

// Session is a scoped transaction. Stages that checkpoint their work in
// batches open a session, mutate through it, and commit; rollback on any
// exit path leaves previously committed batches intact.
type Session struct {
	queries
	tx *sql.Tx
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{queries: queries{q: db}, db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Begin() (*Session, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Session{queries: queries{q: tx}, tx: tx}, nil
}

func (s *Session) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *Session) Rollback() error {
	return s.tx.Rollback()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS questions_raw (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		section TEXT,
		numbering TEXT,
		raw_text TEXT NOT NULL,
		marks INTEGER,
		source_file TEXT,
		ocr_confidence REAL,
		processed INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_raw_year ON questions_raw(year);
	CREATE INDEX IF NOT EXISTS idx_raw_processed ON questions_raw(processed);

	CREATE TABLE IF NOT EXISTS questions_normalized (
		id TEXT PRIMARY KEY,
		base_form TEXT NOT NULL,
		marks INTEGER,
		difficulty INTEGER,
		taxonomy TEXT,
		canonical_hash TEXT NOT NULL UNIQUE,
		original_ids TEXT,
		variant_group_id TEXT,
		embedding TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_normalized_group ON questions_normalized(variant_group_id);
	CREATE INDEX IF NOT EXISTS idx_normalized_hash ON questions_normalized(canonical_hash);

	CREATE TABLE IF NOT EXISTS variant_groups (
		id TEXT PRIMARY KEY,
		canonical_stem TEXT NOT NULL,
		recurrence_count INTEGER DEFAULT 0,
		first_year INTEGER,
		last_year INTEGER,
		signature TEXT,
		topic_id TEXT,
		embedding TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_groups_topic ON variant_groups(topic_id);

	CREATE TABLE IF NOT EXISTS topics (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		module TEXT NOT NULL,
		parent_id TEXT,
		weight REAL DEFAULT 1.0,
		times_asked INTEGER DEFAULT 0,
		last_asked_year INTEGER,
		gap_score REAL DEFAULT 0,
		status TEXT DEFAULT 'stable',
		embedding TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_topics_module ON topics(module);

	CREATE TABLE IF NOT EXISTS trend_snapshots (
		id TEXT PRIMARY KEY,
		start_year INTEGER NOT NULL,
		end_year INTEGER NOT NULL,
		topic_stats TEXT NOT NULL,
		emerging_topics TEXT,
		declining_topics TEXT,
		insight TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prediction_candidates (
		id TEXT PRIMARY KEY,
		question_id TEXT NOT NULL,
		snapshot_id TEXT NOT NULL,
		scores TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL,
		FOREIGN KEY (question_id) REFERENCES questions_normalized(id),
		FOREIGN KEY (snapshot_id) REFERENCES trend_snapshots(id)
	);
	CREATE INDEX IF NOT EXISTS idx_candidates_snapshot ON prediction_candidates(snapshot_id);
	CREATE INDEX IF NOT EXISTS idx_candidates_status ON prediction_candidates(status);

	CREATE TABLE IF NOT EXISTS sample_papers (
		id TEXT PRIMARY KEY,
		version INTEGER UNIQUE,
		total_marks INTEGER,
		locked INTEGER DEFAULT 1,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sample_paper_items (
		id TEXT PRIMARY KEY,
		paper_id TEXT NOT NULL,
		candidate_id TEXT,
		section TEXT,
		ordering INTEGER,
		marks INTEGER,
		source_year INTEGER,
		FOREIGN KEY (paper_id) REFERENCES sample_papers(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_paper_items_paper ON sample_paper_items(paper_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func marshalVector(v []float32) string {
	if v == nil {
		return "null"
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func unmarshalVector(s sql.NullString) []float32 {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	var v []float32
	json.Unmarshal([]byte(s.String), &v)
	return v
}

func marshalStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func unmarshalStrings(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var v []string
	json.Unmarshal([]byte(s.String), &v)
	return v
}

func (c *queries) InsertRawQuestion(q *models.RawQuestion) error {
	query := `
		INSERT INTO questions_raw (id, year, section, numbering, raw_text, marks, source_file, ocr_confidence, processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	processed := 0
	if q.Processed {
		processed = 1
	}

	_, err := c.q.Exec(query, q.ID, q.Year, q.Section, q.Numbering, q.RawText, q.Marks, q.SourceFile, q.OCRConfidence, processed, q.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert raw question: %w", err)
	}

	return nil
}

func (c *queries) ListUnprocessedRaw() ([]models.RawQuestion, error) {
	query := `SELECT id, year, section, numbering, raw_text, marks, source_file, ocr_confidence, created_at
		FROM questions_raw WHERE processed = 0 ORDER BY year, numbering`

	rows, err := c.q.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw questions: %w", err)
	}
	defer rows.Close()

	var out []models.RawQuestion
	for rows.Next() {
		var r models.RawQuestion
		var section, numbering, sourceFile sql.NullString
		var marks sql.NullInt64
		var conf sql.NullFloat64
		var createdAt int64

		if err := rows.Scan(&r.ID, &r.Year, &section, &numbering, &r.RawText, &marks, &sourceFile, &conf, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Section = section.String
		r.Numbering = numbering.String
		r.SourceFile = sourceFile.String
		r.Marks = int(marks.Int64)
		r.OCRConfidence = conf.Float64
		r.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, r)
	}

	return out, rows.Err()
}

func (c *queries) MarkRawProcessed(ids []string) error {
	for _, id := range ids {
		if _, err := c.q.Exec(`UPDATE questions_raw SET processed = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to mark raw question processed: %w", err)
		}
	}
	return nil
}

// RawYears maps raw-record ids to their exam year. The trend analyzer
// uses it to place each merged occurrence on the timeline.
func (c *queries) RawYears() (map[string]int, error) {
	rows, err := c.q.Query(`SELECT id, year FROM questions_raw`)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw years: %w", err)
	}
	defer rows.Close()

	years := make(map[string]int)
	for rows.Next() {
		var id string
		var year int
		if err := rows.Scan(&id, &year); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		years[id] = year
	}

	return years, rows.Err()
}

// RawSections maps raw-record ids to the paper section they appeared in.
func (c *queries) RawSections() (map[string]string, error) {
	rows, err := c.q.Query(`SELECT id, section FROM questions_raw`)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw sections: %w", err)
	}
	defer rows.Close()

	sections := make(map[string]string)
	for rows.Next() {
		var id string
		var section sql.NullString
		if err := rows.Scan(&id, &section); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sections[id] = section.String
	}

	return sections, rows.Err()
}

func (c *queries) InsertNormalizedQuestion(q *models.NormalizedQuestion) error {
	query := `
		INSERT INTO questions_normalized (id, base_form, marks, difficulty, taxonomy, canonical_hash, original_ids, variant_group_id, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var groupID interface{}
	if q.VariantGroupID != "" {
		groupID = q.VariantGroupID
	}

	_, err := c.q.Exec(query, q.ID, q.BaseForm, q.Marks, q.Difficulty, marshalStrings(q.Taxonomy), q.CanonicalHash,
		marshalStrings(q.OriginalIDs), groupID, marshalVector(q.Embedding), q.CreatedAt.Unix(), q.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert normalized question: %w", err)
	}

	return nil
}

func scanQuestion(scan func(dest ...interface{}) error) (*models.NormalizedQuestion, error) {
	var q models.NormalizedQuestion
	var marks, difficulty sql.NullInt64
	var taxonomy, originalIDs, groupID, embedding sql.NullString
	var createdAt, updatedAt int64

	err := scan(&q.ID, &q.BaseForm, &marks, &difficulty, &taxonomy, &q.CanonicalHash, &originalIDs, &groupID, &embedding, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	q.Marks = int(marks.Int64)
	q.Difficulty = int(difficulty.Int64)
	q.Taxonomy = unmarshalStrings(taxonomy)
	q.OriginalIDs = unmarshalStrings(originalIDs)
	q.VariantGroupID = groupID.String
	q.Embedding = unmarshalVector(embedding)
	q.CreatedAt = time.Unix(createdAt, 0)
	q.UpdatedAt = time.Unix(updatedAt, 0)
	return &q, nil
}

const questionColumns = `id, base_form, marks, difficulty, taxonomy, canonical_hash, original_ids, variant_group_id, embedding, created_at, updated_at`

func (c *queries) GetQuestion(id string) (*models.NormalizedQuestion, error) {
	row := c.q.QueryRow(`SELECT `+questionColumns+` FROM questions_normalized WHERE id = ?`, id)
	q, err := scanQuestion(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return q, nil
}

// GetQuestionByHash returns the question with the given canonical hash,
// or nil when none exists. Ingestion uses it as its idempotent-creation
// check.
func (c *queries) GetQuestionByHash(hash string) (*models.NormalizedQuestion, error) {
	row := c.q.QueryRow(`SELECT `+questionColumns+` FROM questions_normalized WHERE canonical_hash = ?`, hash)
	q, err := scanQuestion(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get question by hash: %w", err)
	}
	return q, nil
}

func (c *queries) listQuestions(query string, args ...interface{}) ([]models.NormalizedQuestion, error) {
	rows, err := c.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var out []models.NormalizedQuestion
	for rows.Next() {
		q, err := scanQuestion(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, *q)
	}

	return out, rows.Err()
}

func (c *queries) ListUngroupedQuestions() ([]models.NormalizedQuestion, error) {
	return c.listQuestions(`SELECT ` + questionColumns + ` FROM questions_normalized WHERE variant_group_id IS NULL ORDER BY created_at`)
}

func (c *queries) ListQuestionsByGroup(groupID string) ([]models.NormalizedQuestion, error) {
	return c.listQuestions(`SELECT `+questionColumns+` FROM questions_normalized WHERE variant_group_id = ?`, groupID)
}

// ListQuestionsForTopic returns every normalized question whose variant
// group is mapped to the topic.
func (c *queries) ListQuestionsForTopic(topicID string) ([]models.NormalizedQuestion, error) {
	return c.listQuestions(`
		SELECT q.id, q.base_form, q.marks, q.difficulty, q.taxonomy, q.canonical_hash, q.original_ids, q.variant_group_id, q.embedding, q.created_at, q.updated_at
		FROM questions_normalized q
		JOIN variant_groups g ON q.variant_group_id = g.id
		WHERE g.topic_id = ?`, topicID)
}

func (c *queries) ListGroupedQuestions() ([]models.NormalizedQuestion, error) {
	return c.listQuestions(`SELECT ` + questionColumns + ` FROM questions_normalized WHERE variant_group_id IS NOT NULL`)
}

func (c *queries) AssignQuestionGroup(questionID, groupID string) error {
	_, err := c.q.Exec(`UPDATE questions_normalized SET variant_group_id = ?, updated_at = ? WHERE id = ?`,
		groupID, time.Now().Unix(), questionID)
	if err != nil {
		return fmt.Errorf("failed to assign question group: %w", err)
	}
	return nil
}

func (c *queries) UpdateQuestionEmbedding(questionID string, embedding []float32) error {
	_, err := c.q.Exec(`UPDATE questions_normalized SET embedding = ?, updated_at = ? WHERE id = ?`,
		marshalVector(embedding), time.Now().Unix(), questionID)
	if err != nil {
		return fmt.Errorf("failed to update question embedding: %w", err)
	}
	return nil
}

func (c *queries) AppendOriginalID(questionID, rawID string) error {
	q, err := c.GetQuestion(questionID)
	if err != nil {
		return err
	}
	for _, id := range q.OriginalIDs {
		if id == rawID {
			return nil
		}
	}
	ids := append(q.OriginalIDs, rawID)
	_, err = c.q.Exec(`UPDATE questions_normalized SET original_ids = ?, updated_at = ? WHERE id = ?`,
		marshalStrings(ids), time.Now().Unix(), questionID)
	if err != nil {
		return fmt.Errorf("failed to append original id: %w", err)
	}
	return nil
}

func (c *queries) InsertVariantGroup(g *models.VariantGroup) error {
	query := `
		INSERT INTO variant_groups (id, canonical_stem, recurrence_count, first_year, last_year, signature, topic_id, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var topicID interface{}
	if g.TopicID != "" {
		topicID = g.TopicID
	}

	_, err := c.q.Exec(query, g.ID, g.CanonicalStem, g.RecurrenceCount, g.FirstYear, g.LastYear, g.Signature, topicID,
		marshalVector(g.Embedding), g.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert variant group: %w", err)
	}

	return nil
}

func (c *queries) GetVariantGroup(id string) (*models.VariantGroup, error) {
	row := c.q.QueryRow(`SELECT id, canonical_stem, recurrence_count, first_year, last_year, signature, topic_id, embedding, created_at
		FROM variant_groups WHERE id = ?`, id)

	var g models.VariantGroup
	var firstYear, lastYear sql.NullInt64
	var signature, topicID, embedding sql.NullString
	var createdAt int64

	err := row.Scan(&g.ID, &g.CanonicalStem, &g.RecurrenceCount, &firstYear, &lastYear, &signature, &topicID, &embedding, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get variant group: %w", err)
	}

	g.FirstYear = int(firstYear.Int64)
	g.LastYear = int(lastYear.Int64)
	g.Signature = signature.String
	g.TopicID = topicID.String
	g.Embedding = unmarshalVector(embedding)
	g.CreatedAt = time.Unix(createdAt, 0)
	return &g, nil
}

func (c *queries) IncrementGroupRecurrence(groupID string) error {
	_, err := c.q.Exec(`UPDATE variant_groups SET recurrence_count = recurrence_count + 1 WHERE id = ?`, groupID)
	if err != nil {
		return fmt.Errorf("failed to increment group recurrence: %w", err)
	}
	return nil
}

// WidenGroupYears extends a group's first/last seen window to cover the
// given year range. Zero years are ignored.
func (c *queries) WidenGroupYears(groupID string, firstYear, lastYear int) error {
	if firstYear > 0 {
		_, err := c.q.Exec(`
			UPDATE variant_groups SET
				first_year = CASE WHEN first_year IS NULL OR first_year = 0 OR ? < first_year THEN ? ELSE first_year END
			WHERE id = ?`, firstYear, firstYear, groupID)
		if err != nil {
			return fmt.Errorf("failed to widen group first year: %w", err)
		}
	}
	if lastYear > 0 {
		_, err := c.q.Exec(`
			UPDATE variant_groups SET
				last_year = CASE WHEN last_year IS NULL OR ? > last_year THEN ? ELSE last_year END
			WHERE id = ?`, lastYear, lastYear, groupID)
		if err != nil {
			return fmt.Errorf("failed to widen group last year: %w", err)
		}
	}
	return nil
}

func (c *queries) ListGroupsWithTopic() ([]models.VariantGroup, error) {
	rows, err := c.q.Query(`SELECT id, canonical_stem, recurrence_count, first_year, last_year, signature, topic_id, embedding, created_at
		FROM variant_groups WHERE topic_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list variant groups: %w", err)
	}
	defer rows.Close()

	var out []models.VariantGroup
	for rows.Next() {
		var g models.VariantGroup
		var firstYear, lastYear sql.NullInt64
		var signature, topicID, embedding sql.NullString
		var createdAt int64

		if err := rows.Scan(&g.ID, &g.CanonicalStem, &g.RecurrenceCount, &firstYear, &lastYear, &signature, &topicID, &embedding, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		g.FirstYear = int(firstYear.Int64)
		g.LastYear = int(lastYear.Int64)
		g.Signature = signature.String
		g.TopicID = topicID.String
		g.Embedding = unmarshalVector(embedding)
		g.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, g)
	}

	return out, rows.Err()
}

func (c *queries) ListUnmappedGroups() ([]models.VariantGroup, error) {
	rows, err := c.q.Query(`SELECT id, canonical_stem, recurrence_count, first_year, last_year, signature, topic_id, embedding, created_at
		FROM variant_groups WHERE topic_id IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmapped groups: %w", err)
	}
	defer rows.Close()

	var out []models.VariantGroup
	for rows.Next() {
		var g models.VariantGroup
		var firstYear, lastYear sql.NullInt64
		var signature, topicID, embedding sql.NullString
		var createdAt int64

		if err := rows.Scan(&g.ID, &g.CanonicalStem, &g.RecurrenceCount, &firstYear, &lastYear, &signature, &topicID, &embedding, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		g.FirstYear = int(firstYear.Int64)
		g.LastYear = int(lastYear.Int64)
		g.Signature = signature.String
		g.TopicID = topicID.String
		g.Embedding = unmarshalVector(embedding)
		g.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, g)
	}

	return out, rows.Err()
}

func (c *queries) UpdateGroupEmbedding(groupID string, embedding []float32) error {
	_, err := c.q.Exec(`UPDATE variant_groups SET embedding = ? WHERE id = ?`, marshalVector(embedding), groupID)
	if err != nil {
		return fmt.Errorf("failed to update group embedding: %w", err)
	}
	return nil
}

func (c *queries) SetGroupTopic(groupID, topicID string) error {
	_, err := c.q.Exec(`UPDATE variant_groups SET topic_id = ? WHERE id = ? AND topic_id IS NULL`, topicID, groupID)
	if err != nil {
		return fmt.Errorf("failed to set group topic: %w", err)
	}
	return nil
}

func (c *queries) UpsertTopic(t *models.Topic) error {
	query := `
		INSERT INTO topics (id, name, module, parent_id, weight, times_asked, last_asked_year, gap_score, status, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			module = excluded.module,
			parent_id = excluded.parent_id,
			weight = excluded.weight
	`

	var parentID interface{}
	if t.ParentID != "" {
		parentID = t.ParentID
	}

	status := t.Status
	if status == "" {
		status = models.TopicStable
	}

	_, err := c.q.Exec(query, t.ID, t.Name, t.Module, parentID, t.Weight, t.TimesAsked, t.LastAskedYear, t.GapScore, string(status),
		marshalVector(t.Embedding), t.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert topic: %w", err)
	}

	return nil
}

func scanTopic(scan func(dest ...interface{}) error) (*models.Topic, error) {
	var t models.Topic
	var parentID, embedding sql.NullString
	var lastAsked sql.NullInt64
	var status string
	var createdAt int64

	err := scan(&t.ID, &t.Name, &t.Module, &parentID, &t.Weight, &t.TimesAsked, &lastAsked, &t.GapScore, &status, &embedding, &createdAt)
	if err != nil {
		return nil, err
	}

	t.ParentID = parentID.String
	t.LastAskedYear = int(lastAsked.Int64)
	t.Status = models.TopicStatus(status)
	t.Embedding = unmarshalVector(embedding)
	t.CreatedAt = time.Unix(createdAt, 0)
	return &t, nil
}

const topicColumns = `id, name, module, parent_id, weight, times_asked, last_asked_year, gap_score, status, embedding, created_at`

func (c *queries) GetTopic(id string) (*models.Topic, error) {
	row := c.q.QueryRow(`SELECT `+topicColumns+` FROM topics WHERE id = ?`, id)
	t, err := scanTopic(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}
	return t, nil
}

func (c *queries) ListTopics() ([]models.Topic, error) {
	rows, err := c.q.Query(`SELECT ` + topicColumns + ` FROM topics ORDER BY module, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	var out []models.Topic
	for rows.Next() {
		t, err := scanTopic(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, *t)
	}

	return out, rows.Err()
}

func (c *queries) UpdateTopicEmbedding(id string, embedding []float32) error {
	_, err := c.q.Exec(`UPDATE topics SET embedding = ? WHERE id = ?`, marshalVector(embedding), id)
	if err != nil {
		return fmt.Errorf("failed to update topic embedding: %w", err)
	}
	return nil
}

// UpdateTopicTrend writes the analyzer-owned fields of a topic.
func (c *queries) UpdateTopicTrend(id string, timesAsked, lastAskedYear int, gapScore float64, status models.TopicStatus) error {
	_, err := c.q.Exec(`UPDATE topics SET times_asked = ?, last_asked_year = ?, gap_score = ?, status = ? WHERE id = ?`,
		timesAsked, lastAskedYear, gapScore, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update topic trend: %w", err)
	}
	return nil
}

func (c *queries) InsertSnapshot(s *models.TrendSnapshot) error {
	statsJSON, err := json.Marshal(s.TopicStats)
	if err != nil {
		return fmt.Errorf("failed to marshal topic stats: %w", err)
	}

	query := `
		INSERT INTO trend_snapshots (id, start_year, end_year, topic_stats, emerging_topics, declining_topics, insight, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = c.q.Exec(query, s.ID, s.StartYear, s.EndYear, string(statsJSON),
		marshalStrings(s.EmergingTopics), marshalStrings(s.DecliningTopics), s.Insight, s.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	logger.Info("Trend snapshot stored",
		zap.String("snapshot_id", s.ID),
		zap.Int("start_year", s.StartYear),
		zap.Int("end_year", s.EndYear),
		zap.Int("topics", len(s.TopicStats)),
	)

	return nil
}

func (c *queries) GetSnapshot(id string) (*models.TrendSnapshot, error) {
	row := c.q.QueryRow(`SELECT id, start_year, end_year, topic_stats, emerging_topics, declining_topics, insight, created_at
		FROM trend_snapshots WHERE id = ?`, id)

	var s models.TrendSnapshot
	var statsJSON string
	var emerging, declining, insight sql.NullString
	var createdAt int64

	err := row.Scan(&s.ID, &s.StartYear, &s.EndYear, &statsJSON, &emerging, &declining, &insight, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(statsJSON), &s.TopicStats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal topic stats: %w", err)
	}

	s.EmergingTopics = unmarshalStrings(emerging)
	s.DecliningTopics = unmarshalStrings(declining)
	s.Insight = insight.String
	s.CreatedAt = time.Unix(createdAt, 0)
	return &s, nil
}

func (c *queries) InsertCandidate(cand *models.PredictionCandidate) error {
	scoresJSON, err := json.Marshal(cand.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}

	query := `
		INSERT INTO prediction_candidates (id, question_id, snapshot_id, scores, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = c.q.Exec(query, cand.ID, cand.QuestionID, cand.SnapshotID, string(scoresJSON), string(cand.Status), cand.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert candidate: %w", err)
	}

	return nil
}

func (c *queries) UpdateCandidate(cand *models.PredictionCandidate) error {
	scoresJSON, err := json.Marshal(cand.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}

	_, err = c.q.Exec(`UPDATE prediction_candidates SET scores = ?, status = ? WHERE id = ?`,
		string(scoresJSON), string(cand.Status), cand.ID)
	if err != nil {
		return fmt.Errorf("failed to update candidate: %w", err)
	}

	return nil
}

func (c *queries) listCandidates(query string, args ...interface{}) ([]models.PredictionCandidate, error) {
	rows, err := c.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	var out []models.PredictionCandidate
	for rows.Next() {
		var cand models.PredictionCandidate
		var scoresJSON, status string
		var createdAt int64

		if err := rows.Scan(&cand.ID, &cand.QuestionID, &cand.SnapshotID, &scoresJSON, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(scoresJSON), &cand.Scores); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scores: %w", err)
		}

		cand.Status = models.CandidateStatus(status)
		cand.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, cand)
	}

	return out, rows.Err()
}

const candidateColumns = `id, question_id, snapshot_id, scores, status, created_at`

func (c *queries) ListCandidatesBySnapshot(snapshotID string) ([]models.PredictionCandidate, error) {
	return c.listCandidates(`SELECT `+candidateColumns+` FROM prediction_candidates WHERE snapshot_id = ?`, snapshotID)
}

func (c *queries) ListSelectedCandidates(snapshotID string) ([]models.PredictionCandidate, error) {
	return c.listCandidates(`SELECT `+candidateColumns+` FROM prediction_candidates WHERE snapshot_id = ? AND status = ?`,
		snapshotID, string(models.CandidateSelected))
}

func (c *queries) InsertSamplePaper(p *models.SamplePaper) error {
	locked := 0
	if p.Locked {
		locked = 1
	}

	_, err := c.q.Exec(`INSERT INTO sample_papers (id, version, total_marks, locked, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Version, p.TotalMarks, locked, p.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert sample paper: %w", err)
	}
	return nil
}

func (c *queries) InsertSamplePaperItem(item *models.SamplePaperItem) error {
	_, err := c.q.Exec(`INSERT INTO sample_paper_items (id, paper_id, candidate_id, section, ordering, marks, source_year)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.PaperID, item.CandidateID, item.Section, item.Ordering, item.Marks, item.SourceYear)
	if err != nil {
		return fmt.Errorf("failed to insert sample paper item: %w", err)
	}
	return nil
}

func (c *queries) NextPaperVersion() (int, error) {
	row := c.q.QueryRow(`SELECT COALESCE(MAX(version), 0) + 1 FROM sample_papers`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get next paper version: %w", err)
	}
	return version, nil
}
