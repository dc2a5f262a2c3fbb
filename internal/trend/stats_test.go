package trend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/papertrend/backend/internal/storage/models"
)

func TestSlopeRisingFrequency(t *testing.T) {
	freq := map[int]int{2021: 1, 2022: 2, 2023: 3, 2024: 4}
	slope := Slope(freq, 2024, 5)
	require.InDelta(t, 1.0, slope, 1e-9)
}

func TestSlopeFallingFrequency(t *testing.T) {
	freq := map[int]int{2021: 4, 2022: 3, 2023: 2, 2024: 1}
	require.Less(t, Slope(freq, 2024, 5), -0.5)
}

func TestSlopeSingleYearIsZero(t *testing.T) {
	require.Zero(t, Slope(map[int]int{2024: 7}, 2024, 5))
	require.Zero(t, Slope(map[int]int{}, 2024, 5))
}

func TestSlopeWindowAnchorsToEndYear(t *testing.T) {
	// Old years rise, the last five calendar years are flat; the window
	// must only see the flat tail.
	freq := map[int]int{2015: 1, 2016: 5, 2020: 2, 2021: 2, 2022: 2, 2023: 2, 2024: 2}
	require.InDelta(t, 0.0, Slope(freq, 2024, 5), 1e-9)
}

func TestSlopeZeroWhenAllDataPredatesWindow(t *testing.T) {
	// Rising history that ends before the window opens carries no trend
	// signal for the analyzed year.
	freq := map[int]int{2013: 1, 2014: 2, 2015: 3, 2016: 4, 2017: 5}
	require.Zero(t, Slope(freq, 2025, 5))

	// The same history is a full-strength trend when the window reaches it.
	require.InDelta(t, 1.0, Slope(freq, 2017, 5), 1e-9)
}

func TestGapScore(t *testing.T) {
	require.InDelta(t, 10.0, GapScore(2025, 2020, 2.0), 1e-9)
	require.Zero(t, GapScore(2025, 2025, 2.0))
	require.Zero(t, GapScore(2025, 0, 2.0))

	// Unset weight defaults to 1.0.
	require.InDelta(t, 5.0, GapScore(2025, 2020, 0), 1e-9)
}

func TestSectionProfileBanding(t *testing.T) {
	// Difficulties 1,2 -> A; 3 -> B; 4,5 -> C; 0 treated as 3.
	dist, pref, avg := SectionProfile([]int{1, 2, 3, 3, 0, 5})

	require.InDelta(t, 0.33, dist["A"], 0.005)
	require.InDelta(t, 0.5, dist["B"], 0.005)
	require.InDelta(t, 0.17, dist["C"], 0.005)
	require.Equal(t, "B", pref)
	require.InDelta(t, 2.83, avg, 0.01)
}

func TestSectionProfileEmpty(t *testing.T) {
	dist, pref, avg := SectionProfile(nil)
	require.Empty(t, dist)
	require.Equal(t, "", pref)
	require.Zero(t, avg)
}

func TestSectionProfileFromLabels(t *testing.T) {
	dist, pref := SectionProfileFromLabels([]string{"C", "C", "B", ""})

	require.Equal(t, "C", pref)
	require.InDelta(t, 0.67, dist["C"], 0.005)
	require.InDelta(t, 0.33, dist["B"], 0.005)

	dist, pref = SectionProfileFromLabels([]string{"", ""})
	require.Empty(t, dist)
	require.Equal(t, "", pref)
}

func TestCyclicityRegular(t *testing.T) {
	c := ClassifyCyclicity([]int{2015, 2017, 2019, 2021}, 0.5)

	require.Equal(t, models.CyclicityRegular, c.Pattern)
	require.Equal(t, 2, c.CycleLength)
	require.Equal(t, 2023, c.NextExpectedYear)
	require.InDelta(t, 0.9, c.Confidence, 1e-9)
}

func TestCyclicityRegularFewGaps(t *testing.T) {
	c := ClassifyCyclicity([]int{2020, 2022}, 0.5)

	require.Equal(t, models.CyclicityRegular, c.Pattern)
	require.InDelta(t, 0.7, c.Confidence, 1e-9)
}

func TestCyclicityOddYears(t *testing.T) {
	c := ClassifyCyclicity([]int{2015, 2017, 2021}, 0.5)

	require.Equal(t, models.CyclicityOddYears, c.Pattern)
	require.Equal(t, 2023, c.NextExpectedYear)
	require.InDelta(t, 0.8, c.Confidence, 1e-9)
}

func TestCyclicityMixedParityFallsToMajorityRule(t *testing.T) {
	c := ClassifyCyclicity([]int{2015, 2016, 2019}, 0.5)

	require.Contains(t,
		[]string{models.CyclicityMostlyRegular, models.CyclicityIrregular},
		c.Pattern)
	require.NotEqual(t, models.CyclicityRegular, c.Pattern)
}

func TestCyclicityMostlyRegular(t *testing.T) {
	// Gaps 2,2,2,5: modal gap 2 covers 3/4 of gaps.
	c := ClassifyCyclicity([]int{2012, 2014, 2016, 2018, 2023}, 0.5)

	require.Equal(t, models.CyclicityMostlyRegular, c.Pattern)
	require.Equal(t, 2, c.CycleLength)
	require.InDelta(t, 0.75, c.Confidence, 1e-9)
}

func TestCyclicityIrregular(t *testing.T) {
	// Gaps 1,3,4,7 share no majority and mix parity.
	c := ClassifyCyclicity([]int{2008, 2009, 2012, 2016, 2023}, 0.5)

	require.Equal(t, models.CyclicityIrregular, c.Pattern)
	require.InDelta(t, 0.3, c.Confidence, 1e-9)
	require.InDelta(t, 3.75, c.AverageGap, 1e-9)
}

func TestCyclicityInsufficientData(t *testing.T) {
	c := ClassifyCyclicity([]int{2024}, 0.5)

	require.Equal(t, models.CyclicityInsufficientData, c.Pattern)
	require.Zero(t, c.Confidence)
}
