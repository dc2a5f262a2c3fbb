package trend

import (
	"math"
	"sort"

	"github.com/papertrend/backend/internal/storage/models"
)

// Slope fits an ordinary least-squares line to yearly frequency inside
// the calendar window ending at endYear, i.e. the window most recent
// calendar years. A topic last asked before the window opens gets slope
// 0, as does anything with fewer than two in-window data years.
func Slope(freqByYear map[int]int, endYear, window int) float64 {
	cutoff := endYear - (window - 1)

	years := make([]int, 0, len(freqByYear))
	for y := range freqByYear {
		if window > 0 && y < cutoff {
			continue
		}
		years = append(years, y)
	}
	if len(years) < 2 {
		return 0
	}

	n := float64(len(years))
	var sumX, sumY, sumXY, sumXX float64
	for _, y := range years {
		x := float64(y)
		v := float64(freqByYear[y])
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// GapScore measures how overdue a topic is: years since it was last
// asked, weighted. Topics asked in the end year (or never) score 0.
func GapScore(endYear, lastAskedYear int, weight float64) float64 {
	gap := endYear - lastAskedYear
	if lastAskedYear == 0 || gap <= 0 {
		return 0
	}
	if weight == 0 {
		weight = 1.0
	}
	return float64(gap) * weight
}

// sectionForDifficulty bands a question's difficulty into the exam
// section it usually appears in. Unknown difficulty is treated as
// mid-range.
func sectionForDifficulty(difficulty int) string {
	if difficulty == 0 {
		difficulty = 3
	}
	switch {
	case difficulty <= 2:
		return "A"
	case difficulty == 3:
		return "B"
	default:
		return "C"
	}
}

// SectionProfile buckets occurrences by difficulty band and reports the
// distribution, the modal band, and the mean difficulty.
func SectionProfile(difficulties []int) (map[string]float64, string, float64) {
	if len(difficulties) == 0 {
		return map[string]float64{}, "", 0
	}

	counts := map[string]int{}
	sum := 0
	for _, d := range difficulties {
		if d == 0 {
			d = 3
		}
		counts[sectionForDifficulty(d)]++
		sum += d
	}

	total := float64(len(difficulties))
	dist := make(map[string]float64, len(counts))
	for s, c := range counts {
		dist[s] = round2(float64(c) / total)
	}

	preference := ""
	best := 0
	for _, s := range []string{"A", "B", "C"} {
		if counts[s] > best {
			best = counts[s]
			preference = s
		}
	}

	return dist, preference, round2(float64(sum) / total)
}

// SectionProfileFromLabels computes the distribution over the section
// labels the extraction provider recorded. When no occurrence carries a
// label the result is empty and difficulty banding applies instead.
func SectionProfileFromLabels(labels []string) (map[string]float64, string) {
	counts := map[string]int{}
	total := 0
	for _, l := range labels {
		if l == "" {
			continue
		}
		counts[l]++
		total++
	}
	if total == 0 {
		return nil, ""
	}

	dist := make(map[string]float64, len(counts))
	names := make([]string, 0, len(counts))
	for s, c := range counts {
		dist[s] = round2(float64(c) / float64(total))
		names = append(names, s)
	}

	sort.Strings(names)
	preference := ""
	best := 0
	for _, s := range names {
		if counts[s] > best {
			best = counts[s]
			preference = s
		}
	}

	return dist, preference
}

// ClassifyCyclicity inspects a topic's appearance years for periodicity.
// mostlyRegularFraction is the share of gaps the modal gap must cover to
// call the pattern mostly regular.
func ClassifyCyclicity(years []int, mostlyRegularFraction float64) models.Cyclicity {
	sorted := append([]int(nil), years...)
	sort.Ints(sorted)

	if len(sorted) < 2 {
		return models.Cyclicity{Pattern: models.CyclicityInsufficientData, Confidence: 0}
	}

	gaps := make([]int, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i]-sorted[i-1])
	}
	last := sorted[len(sorted)-1]

	uniform := true
	for _, g := range gaps {
		if g != gaps[0] {
			uniform = false
			break
		}
	}
	if uniform {
		confidence := 0.7
		if len(gaps) >= 3 {
			confidence = 0.9
		}
		return models.Cyclicity{
			Pattern:          models.CyclicityRegular,
			CycleLength:      gaps[0],
			NextExpectedYear: last + gaps[0],
			Confidence:       confidence,
		}
	}

	allOdd, allEven := true, true
	for _, y := range sorted {
		if y%2 == 0 {
			allOdd = false
		} else {
			allEven = false
		}
	}
	if allOdd || allEven {
		pattern := models.CyclicityOddYears
		if allEven {
			pattern = models.CyclicityEvenYears
		}
		return models.Cyclicity{
			Pattern:          pattern,
			CycleLength:      2,
			NextExpectedYear: last + 2,
			Confidence:       0.8,
		}
	}

	gapCounts := map[int]int{}
	for _, g := range gaps {
		gapCounts[g]++
	}
	modalGap, modalCount := 0, 0
	for g, c := range gapCounts {
		if c > modalCount || (c == modalCount && g < modalGap) {
			modalGap, modalCount = g, c
		}
	}
	fraction := float64(modalCount) / float64(len(gaps))
	if fraction >= mostlyRegularFraction {
		return models.Cyclicity{
			Pattern:     models.CyclicityMostlyRegular,
			CycleLength: modalGap,
			Confidence:  round2(fraction),
		}
	}

	sum := 0
	for _, g := range gaps {
		sum += g
	}
	return models.Cyclicity{
		Pattern:    models.CyclicityIrregular,
		AverageGap: round2(float64(sum) / float64(len(gaps))),
		Confidence: 0.3,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
