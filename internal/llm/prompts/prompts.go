// Package prompts holds the generation templates. Each output section
// has its own register: length, Bloom's taxonomy band and structure
// differ between short, medium and long answer questions.
package prompts

import "fmt"

const ConceptStemSystem = `You are an expert exam curator. Identify the single core concept that unifies a group of similar exam questions and write a canonical stem.

Rules:
1. The stem describes the concept being tested, it is NOT a final exam question.
2. Do not create a multi-part question.
3. Keep it concise, neutral and academic.
4. If the questions name specific algorithms or instances, generalize to the shared topic unless every question asks for the same one.

Return only the canonical stem.`

func ConceptStemUser(questions string) string {
	return fmt.Sprintf("Input questions:\n%s\n\nCanonical concept stem:", questions)
}

const TrendInsightSystem = `You are an educational data analyst reviewing historical exam trends for a university course.

Write a concise executive summary (max 200 words) of the most significant shifts in the exam pattern. Note whether the exam is becoming more practical/analytical or staying theoretical, name the modules or topics that are becoming critical, and give one strategic recommendation for students preparing for the next exam.`

func TrendInsightUser(emerging, declining, gaps string) string {
	return fmt.Sprintf(`Emerging topics (rising frequency): %s

Declining topics (falling frequency): %s

High gap topics (due for recurrence): %s

Trend insight:`, emerging, declining, gaps)
}

type SectionRegister struct {
	Section     string
	Marks       int
	Length      string
	Difficulty  string
	Taxonomy    string
	Focus       string
	Structure   string
}

var registers = map[string]SectionRegister{
	"A": {
		Section:    "A",
		Marks:      2,
		Length:     "1-3 sentences maximum",
		Difficulty: "EASY (level 1-2)",
		Taxonomy:   "Remember or Understand",
		Focus:      "definitions, terminology, basic principles",
		Structure:  "a single direct question; no problem-solving or analysis",
	},
	"B": {
		Section:    "B",
		Marks:      5,
		Length:     "typical of a 5-mark semester exam question",
		Difficulty: "MEDIUM (level 3)",
		Taxonomy:   "Apply or Analyze",
		Focus:      "procedures, comparisons, applications, algorithms",
		Structure:  "a single detailed question or sub-parts a) and b); may include simple numerical values",
	},
	"C": {
		Section:    "C",
		Marks:      10,
		Length:     "typical of a 10-mark long-answer question",
		Difficulty: "HARD (level 4-5)",
		Taxonomy:   "Evaluate or Create",
		Focus:      "design, justification, end-to-end problem solving",
		Structure:  "may use multiple sub-parts building on one scenario",
	},
}

// Register returns the prompt register for a section, defaulting to the
// medium band when the section is unknown.
func Register(section string) SectionRegister {
	if r, ok := registers[section]; ok {
		return r
	}
	return registers["B"]
}

func VariantSystem(r SectionRegister) string {
	return fmt.Sprintf(`You are rewriting an exam question for Section %s (%d marks).

Requirements:
- Length: %s
- Difficulty: %s
- Bloom's taxonomy: %s
- Focus: %s
- Structure: %s
- Maintain the core concept but vary the wording, scenario or parameters.

Return only the rewritten question text, no explanations.`,
		r.Section, r.Marks, r.Length, r.Difficulty, r.Taxonomy, r.Focus, r.Structure)
}

func VariantUser(original string) string {
	return fmt.Sprintf("Original question:\n%s\n\nRewritten question:", original)
}

func NovelSystem(r SectionRegister) string {
	return fmt.Sprintf(`You are authoring a new exam question for Section %s (%d marks).

Requirements:
- Length: %s
- Difficulty: %s
- Bloom's taxonomy: %s
- Focus: %s
- Structure: %s

Return only the question text, no explanations.`,
		r.Section, r.Marks, r.Length, r.Difficulty, r.Taxonomy, r.Focus, r.Structure)
}

func NovelUser(topicName, moduleName string) string {
	return fmt.Sprintf("Topic: %s\nModule: %s\n\nQuestion:", topicName, moduleName)
}
