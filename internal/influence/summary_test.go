package influence

import (
	"math"
	"testing"
)

func testMatrix(scores [][]float64) Matrix {
	rows := len(scores)
	cols := 0
	if rows > 0 {
		cols = len(scores[0])
	}
	m := Matrix{Scores: scores}
	for i := 0; i < rows; i++ {
		m.TrainingLabels = append(m.TrainingLabels, "train")
	}
	for j := 0; j < cols; j++ {
		m.EvalLabels = append(m.EvalLabels, "eval")
	}
	return m
}

func TestSummarizeRowMagnitudesAndArgMinMax(t *testing.T) {
	m := testMatrix([][]float64{
		{1.0, -2.0},  // magnitude 3.0
		{-4.0, 0.5},  // magnitude 4.5
		{0.25, 0.25}, // magnitude 0.5
	})
	s, err := Summarize(m)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	want := []float64{3.0, 4.5, 0.5}
	for i, mag := range want {
		if math.Abs(s.RowMagnitudes[i]-mag) > 1e-12 {
			t.Fatalf("row %d magnitude: got %v want %v", i, s.RowMagnitudes[i], mag)
		}
	}
	if s.MostInfluentialRow != 1 {
		t.Fatalf("most influential: got %d want 1", s.MostInfluentialRow)
	}
	if s.LeastInfluentialRow != 2 {
		t.Fatalf("least influential: got %d want 2", s.LeastInfluentialRow)
	}
	if s.MaxAbsScore != 4.0 {
		t.Fatalf("max abs: got %v want 4.0", s.MaxAbsScore)
	}
}

func TestSummarizeColumnMeansAreSigned(t *testing.T) {
	m := testMatrix([][]float64{
		{2.0, -1.0},
		{-2.0, -3.0},
	})
	s, err := Summarize(m)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.ColumnMeans[0] != 0 {
		t.Fatalf("column 0 mean: got %v want 0", s.ColumnMeans[0])
	}
	if s.ColumnMeans[1] != -2.0 {
		t.Fatalf("column 1 mean: got %v want -2.0", s.ColumnMeans[1])
	}
}

func TestSummarizeTiesBreakToFirstRow(t *testing.T) {
	m := testMatrix([][]float64{
		{1.0},
		{-1.0},
		{1.0},
	})
	s, err := Summarize(m)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.MostInfluentialRow != 0 || s.LeastInfluentialRow != 0 {
		t.Fatalf("tie break: got most=%d least=%d, want 0/0", s.MostInfluentialRow, s.LeastInfluentialRow)
	}
}

func TestSummarizeRejectsRaggedMatrix(t *testing.T) {
	m := Matrix{
		TrainingLabels: []string{"a", "b"},
		EvalLabels:     []string{"q"},
		Scores:         [][]float64{{1.0}, {1.0, 2.0}},
	}
	if _, err := Summarize(m); err == nil {
		t.Fatalf("expected error for ragged matrix")
	}
}

func TestHistogramCountsSumToMatrixSize(t *testing.T) {
	m := testMatrix([][]float64{
		{-3.0, -0.5, 0.0, 0.1},
		{1.2, 2.9, 3.0, -2.99},
	})
	bins, err := BuildHistogram(m, 20)
	if err != nil {
		t.Fatalf("BuildHistogram: %v", err)
	}
	if len(bins) != 20 {
		t.Fatalf("bin count: got %d want 20", len(bins))
	}
	total := 0
	for _, b := range bins {
		total += b.Count
	}
	if total != 8 {
		t.Fatalf("total count: got %d want 8 (rows x cols)", total)
	}
}

func TestHistogramIsSymmetricAndCountsMaxOnce(t *testing.T) {
	m := testMatrix([][]float64{{-2.0, 2.0}})
	bins, err := BuildHistogram(m, 4)
	if err != nil {
		t.Fatalf("BuildHistogram: %v", err)
	}
	if bins[0].Low != -2.0 || bins[len(bins)-1].High != 2.0 {
		t.Fatalf("range: got [%v, %v] want [-2, 2]", bins[0].Low, bins[len(bins)-1].High)
	}
	// The global max equals the last bin's upper edge; the closed last bin
	// must count it exactly once.
	if bins[len(bins)-1].Count != 1 {
		t.Fatalf("last bin count: got %d want 1", bins[len(bins)-1].Count)
	}
	if bins[0].Count != 1 {
		t.Fatalf("first bin count: got %d want 1", bins[0].Count)
	}
	if bins[0].Sign != -1 || bins[len(bins)-1].Sign != 1 {
		t.Fatalf("sign flags: got first=%d last=%d", bins[0].Sign, bins[len(bins)-1].Sign)
	}
}

func TestAllZeroMatrixCollapsesToSingleCenterBin(t *testing.T) {
	m := testMatrix([][]float64{
		{0, 0},
		{0, 0},
	})
	s, err := Summarize(m)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.MostInfluentialRow != 0 || s.LeastInfluentialRow != 0 {
		t.Fatalf("all-zero argmax/argmin: got %d/%d want 0/0", s.MostInfluentialRow, s.LeastInfluentialRow)
	}
	bins, err := BuildHistogram(m, 20)
	if err != nil {
		t.Fatalf("BuildHistogram: %v", err)
	}
	if len(bins) != 1 {
		t.Fatalf("all-zero bins: got %d want 1", len(bins))
	}
	if bins[0].Count != 4 || bins[0].Low != 0 || bins[0].High != 0 || bins[0].Sign != 0 {
		t.Fatalf("zero-centered bin: %+v", bins[0])
	}
}

func TestShadeForMapsSignAndClampsIntensity(t *testing.T) {
	if sh := ShadeFor(0, 5); sh.Intensity != 0 {
		t.Fatalf("zero score should be neutral, got %+v", sh)
	}
	if sh := ShadeFor(-2.5, 5); sh.Positive || sh.Intensity != 0.5 {
		t.Fatalf("negative shade: %+v", sh)
	}
	if sh := ShadeFor(99, 5); !sh.Positive || sh.Intensity != 1 {
		t.Fatalf("clamped shade: %+v", sh)
	}
}
