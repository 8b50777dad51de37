package anomaly

import (
	"fmt"
	"math"
	"sort"
)

// RobustScaler centers and scales features using per-column median and
// interquartile range, so a handful of extreme training samples cannot
// dominate the scale the way they would with mean/stddev.
type RobustScaler struct {
	Median []float64 `json:"median"`
	IQR    []float64 `json:"iqr"`
}

// Fit computes per-column statistics. Non-finite inputs must be
// sanitized before calling.
func (s *RobustScaler) Fit(rows [][]float64) error {
	if len(rows) == 0 {
		return fmt.Errorf("no rows to fit scaler")
	}
	dims := len(rows[0])
	s.Median = make([]float64, dims)
	s.IQR = make([]float64, dims)

	col := make([]float64, len(rows))
	for d := 0; d < dims; d++ {
		for i, row := range rows {
			if len(row) != dims {
				return fmt.Errorf("row %d has %d columns, want %d", i, len(row), dims)
			}
			col[i] = row[d]
		}
		sort.Float64s(col)
		s.Median[d] = percentile(col, 0.5)
		iqr := percentile(col, 0.75) - percentile(col, 0.25)
		if iqr == 0 {
			iqr = 1
		}
		s.IQR[d] = iqr
	}
	return nil
}

// Transform scales rows in place-safe copies using the fitted stats.
func (s *RobustScaler) Transform(rows [][]float64) ([][]float64, error) {
	if len(s.Median) == 0 {
		return nil, fmt.Errorf("scaler not fitted")
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(s.Median) {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), len(s.Median))
		}
		scaled := make([]float64, len(row))
		for d, v := range row {
			scaled[d] = (v - s.Median[d]) / s.IQR[d]
		}
		out[i] = scaled
	}
	return out, nil
}

// percentile reads the p-quantile from an ascending-sorted slice using
// linear interpolation.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// sanitize replaces NaN and infinities with zero so one bad observation
// cannot poison a fit or a score.
func sanitize(rows [][]float64) {
	for _, row := range rows {
		for d, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				row[d] = 0
			}
		}
	}
}
