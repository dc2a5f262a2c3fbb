package generator

// Generation strategies. "historical" reuses a past question verbatim,
// "variant" rewrites one, "novel" authors a new one from the topic.
const (
	StrategyHistorical = "historical"
	StrategyVariant    = "variant"
	StrategyNovel      = "novel"
)

// StrategyWeights is the draw probability per strategy for one section.
type StrategyWeights struct {
	Historical float64
	Variant    float64
	Novel      float64
}

// SectionConfig describes one output section of the target paper: how
// many candidates to produce, what difficulty band they belong to, and
// how the three strategies are mixed.
type SectionConfig struct {
	Name            string
	Label           string
	Marks           int
	TargetCount     int
	FinalCount      int
	MaxPerTopic     int
	DifficultyRange []int
	Taxonomy        []string
	Weights         StrategyWeights
	Temperatures    []float32
}

// InBand reports whether a difficulty belongs to the section's band.
func (s SectionConfig) InBand(difficulty int) bool {
	for _, d := range s.DifficultyRange {
		if d == difficulty {
			return true
		}
	}
	return false
}

// DefaultSections returns the three-section exam layout: short answers
// lean on historical reuse, long answers lean on novel generation.
func DefaultSections() []SectionConfig {
	return []SectionConfig{
		{
			Name:            "A",
			Label:           "Short Answer",
			Marks:           2,
			TargetCount:     30,
			FinalCount:      10,
			MaxPerTopic:     3,
			DifficultyRange: []int{1, 2},
			Taxonomy:        []string{"Remember", "Understand"},
			Weights:         StrategyWeights{Historical: 0.60, Variant: 0.25, Novel: 0.15},
			Temperatures:    []float32{0.2, 0.5},
		},
		{
			Name:            "B",
			Label:           "Medium Answer",
			Marks:           5,
			TargetCount:     36,
			FinalCount:      12,
			MaxPerTopic:     3,
			DifficultyRange: []int{3},
			Taxonomy:        []string{"Apply", "Analyze"},
			Weights:         StrategyWeights{Historical: 0.40, Variant: 0.35, Novel: 0.25},
			Temperatures:    []float32{0.2, 0.5, 0.9},
		},
		{
			Name:            "C",
			Label:           "Long Answer",
			Marks:           10,
			TargetCount:     15,
			FinalCount:      5,
			MaxPerTopic:     2,
			DifficultyRange: []int{4, 5},
			Taxonomy:        []string{"Evaluate", "Create"},
			Weights:         StrategyWeights{Historical: 0.30, Variant: 0.30, Novel: 0.40},
			Temperatures:    []float32{0.5, 0.9},
		},
	}
}

// SectionByName finds a section config, defaulting to the first when the
// name is unknown.
func SectionByName(sections []SectionConfig, name string) SectionConfig {
	for _, s := range sections {
		if s.Name == name {
			return s
		}
	}
	return sections[0]
}
