package influence

import (
	"fmt"
	"math"
)

// DefaultHistogramBins is what the dashboard's distribution view requests.
const DefaultHistogramBins = 20

// Matrix is a dense influence-score matrix: one row per training example,
// one column per evaluation question.
type Matrix struct {
	TrainingLabels []string    `json:"training_labels"`
	EvalLabels     []string    `json:"eval_labels"`
	Scores         [][]float64 `json:"scores"`
}

func (m Matrix) Validate() error {
	if len(m.Scores) != len(m.TrainingLabels) {
		return fmt.Errorf("influence: %d score rows for %d training labels", len(m.Scores), len(m.TrainingLabels))
	}
	for i, row := range m.Scores {
		if len(row) != len(m.EvalLabels) {
			return fmt.Errorf("influence: row %d has %d columns, want %d", i, len(row), len(m.EvalLabels))
		}
	}
	return nil
}

// Summary holds the ranked statistics the visualization derives from a
// matrix. It is recomputed per view; nothing here is persisted.
type Summary struct {
	RowMagnitudes       []float64 `json:"row_magnitudes"`
	MostInfluentialRow  int       `json:"most_influential_row"`
	LeastInfluentialRow int       `json:"least_influential_row"`
	ColumnMeans         []float64 `json:"column_means"`
	MaxAbsScore         float64   `json:"max_abs_score"`
}

// Summarize computes per-row magnitudes (sum of absolute values), the
// most/least influential rows (ties broken by first occurrence), and
// per-column signed means.
func Summarize(m Matrix) (Summary, error) {
	if err := m.Validate(); err != nil {
		return Summary{}, err
	}
	rows, cols := len(m.Scores), len(m.EvalLabels)
	if rows == 0 || cols == 0 {
		return Summary{}, fmt.Errorf("influence: empty matrix")
	}

	s := Summary{
		RowMagnitudes: make([]float64, rows),
		ColumnMeans:   make([]float64, cols),
	}
	colSums := make([]float64, cols)
	for i, row := range m.Scores {
		var mag float64
		for j, score := range row {
			mag += math.Abs(score)
			colSums[j] += score
			if abs := math.Abs(score); abs > s.MaxAbsScore {
				s.MaxAbsScore = abs
			}
		}
		s.RowMagnitudes[i] = mag
	}
	for j := range colSums {
		s.ColumnMeans[j] = colSums[j] / float64(rows)
	}
	for i, mag := range s.RowMagnitudes {
		if mag > s.RowMagnitudes[s.MostInfluentialRow] {
			s.MostInfluentialRow = i
		}
		if mag < s.RowMagnitudes[s.LeastInfluentialRow] {
			s.LeastInfluentialRow = i
		}
	}
	return s, nil
}

// HistogramBin is half-open [Low, High); the final bin is closed on both
// ends so the global maximum is counted. Sign is the sign of the midpoint.
type HistogramBin struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int     `json:"count"`
	Sign  int     `json:"sign"`
}

// BuildHistogram bins every score exactly once into binCount bins symmetric
// around zero, sized from the matrix's global maximum absolute value. Counts
// always sum to rows x columns. An all-zero matrix collapses to one
// zero-centered bin.
func BuildHistogram(m Matrix, binCount int) ([]HistogramBin, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if binCount <= 0 {
		binCount = DefaultHistogramBins
	}

	var maxAbs float64
	total := 0
	for _, row := range m.Scores {
		for _, score := range row {
			total++
			if abs := math.Abs(score); abs > maxAbs {
				maxAbs = abs
			}
		}
	}

	if maxAbs == 0 {
		return []HistogramBin{{Low: 0, High: 0, Count: total, Sign: 0}}, nil
	}

	width := 2 * maxAbs / float64(binCount)
	bins := make([]HistogramBin, binCount)
	for i := range bins {
		low := -maxAbs + float64(i)*width
		bins[i] = HistogramBin{
			Low:  low,
			High: low + width,
			Sign: signOf(low + width/2),
		}
	}
	for _, row := range m.Scores {
		for _, score := range row {
			idx := int((score + maxAbs) / width)
			if idx < 0 {
				idx = 0
			}
			if idx >= binCount {
				idx = binCount - 1
			}
			bins[idx].Count++
		}
	}
	return bins, nil
}

func signOf(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// CellShade is the visualization color mapping for one score: Positive picks
// the hue branch, Intensity scales linearly with |score|/maxAbs clamped to
// 1. A zero score is the neutral midpoint (intensity 0).
type CellShade struct {
	Positive  bool    `json:"positive"`
	Intensity float64 `json:"intensity"`
}

func ShadeFor(score, maxAbs float64) CellShade {
	if maxAbs <= 0 || score == 0 {
		return CellShade{}
	}
	intensity := math.Abs(score) / maxAbs
	if intensity > 1 {
		intensity = 1
	}
	return CellShade{Positive: score > 0, Intensity: intensity}
}
