package models

import "time"

type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidateSelected CandidateStatus = "selected"
	CandidateExcluded CandidateStatus = "excluded"
)

type TopicStatus string

const (
	TopicEmerging  TopicStatus = "emerging"
	TopicDeclining TopicStatus = "declining"
	TopicStable    TopicStatus = "stable"
)

// RawQuestion is one question record as produced by the document
// extraction provider, before normalization.
type RawQuestion struct {
	ID            string
	Year          int
	Section       string
	Numbering     string
	RawText       string
	Marks         int
	SourceFile    string
	OCRConfidence float64
	Processed     bool
	CreatedAt     time.Time
}

// NormalizedQuestion is a deduplicated question. OriginalIDs holds the
// raw records it was merged from; VariantGroupID is set by the
// clustering engine.
type NormalizedQuestion struct {
	ID             string
	BaseForm       string
	Marks          int
	Difficulty     int // 1-5, 0 when unknown
	Taxonomy       []string
	CanonicalHash  string
	OriginalIDs    []string
	VariantGroupID string
	Embedding      []float32
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// VariantGroup is a cluster of near-duplicate questions testing one
// concept. RecurrenceCount always equals the number of questions
// currently linked to the group.
type VariantGroup struct {
	ID              string
	CanonicalStem   string
	RecurrenceCount int
	FirstYear       int
	LastYear        int
	Signature       string
	TopicID         string
	Embedding       []float32
	CreatedAt       time.Time
}

// Topic is a syllabus concept. Status and GapScore are written only by
// the trend analyzer.
type Topic struct {
	ID            string
	Name          string
	Module        string
	ParentID      string
	Weight        float64
	TimesAsked    int
	LastAskedYear int
	GapScore      float64
	Status        TopicStatus
	Embedding     []float32
	CreatedAt     time.Time
}

// Cyclicity describes the detected periodicity of a topic's
// year-of-appearance history.
type Cyclicity struct {
	Pattern          string  `json:"pattern_type"`
	CycleLength      int     `json:"cycle_length,omitempty"`
	NextExpectedYear int     `json:"next_expected_year,omitempty"`
	AverageGap       float64 `json:"average_gap,omitempty"`
	Confidence       float64 `json:"confidence"`
}

const (
	CyclicityRegular          = "regular"
	CyclicityOddYears         = "odd_years"
	CyclicityEvenYears        = "even_years"
	CyclicityMostlyRegular    = "mostly_regular"
	CyclicityIrregular        = "irregular"
	CyclicityInsufficientData = "insufficient_data"
)

// TopicStats is the per-topic block of a trend snapshot.
type TopicStats struct {
	Name                 string                     `json:"name"`
	Module               string                     `json:"module"`
	TotalCount           int                        `json:"total_count"`
	FrequencyByYear      map[int]int                `json:"frequency_by_year"`
	DifficultyByYear     map[int]float64            `json:"difficulty_by_year"`
	TaxonomyDistribution map[int]map[string]float64 `json:"taxonomy_distribution"`
	SectionDistribution  map[string]float64         `json:"section_distribution"`
	SectionPreference    string                     `json:"section_preference"`
	AvgDifficulty        float64                    `json:"avg_difficulty"`
	LastAskedYear        int                        `json:"last_asked_year"`
	GapScore             float64                    `json:"gap_score"`
	TrendSlope           float64                    `json:"trend_slope"`
	Status               TopicStatus                `json:"status"`
	Cyclicity            Cyclicity                  `json:"cyclicity"`
}

// TrendSnapshot is the immutable analysis artifact for one year window.
type TrendSnapshot struct {
	ID              string
	StartYear       int
	EndYear         int
	TopicStats      map[string]TopicStats
	EmergingTopics  []string
	DecliningTopics []string
	Insight         string
	CreatedAt       time.Time
}

// CandidateScores is the typed scores bag attached to a prediction
// candidate. Extra carries forward-compatible metadata that has no
// dedicated field yet.
type CandidateScores struct {
	SectionTarget     string             `json:"section_target"`
	SectionMarks      int                `json:"section_marks"`
	Strategy          string             `json:"generation_strategy"`
	Origin            string             `json:"origin"`
	Temperature       float32            `json:"llm_temperature"`
	GapScore          float64            `json:"gap_score"`
	TrendStatus       string             `json:"trend_status"`
	TopicName         string             `json:"topic_name"`
	Relevance         float64            `json:"relevance_score"`
	FinalScore        float64            `json:"final_score"`
	ExclusionReason   string             `json:"exclusion_reason,omitempty"`
	ExclusionCategory string             `json:"exclusion_category,omitempty"`
	Extra             map[string]float64 `json:"extra,omitempty"`
}

// PredictionCandidate is one proposed exam question awaiting an
// accept/reject decision for a section.
type PredictionCandidate struct {
	ID         string
	QuestionID string
	SnapshotID string
	Scores     CandidateScores
	Status     CandidateStatus
	CreatedAt  time.Time
}

// SamplePaper is the exported final selection consumed by paper
// rendering, which lives outside this service.
type SamplePaper struct {
	ID         string
	Version    int
	TotalMarks int
	Locked     bool
	CreatedAt  time.Time
}

type SamplePaperItem struct {
	ID          string
	PaperID     string
	CandidateID string
	Section     string
	Ordering    int
	Marks       int
	SourceYear  int
}
