package anomaly

import (
	"math"
	"testing"
)

func TestRobustScalerFitAndTransform(t *testing.T) {
	rows := [][]float64{
		{1, 10},
		{2, 10},
		{3, 10},
		{4, 10},
		{5, 10},
	}

	s := &RobustScaler{}
	if err := s.Fit(rows); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if s.Median[0] != 3 {
		t.Fatalf("expected median 3 for column 0, got %v", s.Median[0])
	}
	// Constant column: IQR 0 is replaced by 1 so transform stays finite.
	if s.IQR[1] != 1 {
		t.Fatalf("expected IQR 1 for constant column, got %v", s.IQR[1])
	}

	out, err := s.Transform([][]float64{{3, 10}})
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if out[0][0] != 0 || out[0][1] != 0 {
		t.Fatalf("median row should transform to zero, got %v", out[0])
	}
}

func TestRobustScalerRejectsUnfittedTransform(t *testing.T) {
	s := &RobustScaler{}
	if _, err := s.Transform([][]float64{{1}}); err == nil {
		t.Fatalf("expected error transforming with unfitted scaler")
	}
}

func TestRobustScalerRejectsRaggedRows(t *testing.T) {
	s := &RobustScaler{}
	if err := s.Fit([][]float64{{1, 2}, {3}}); err == nil {
		t.Fatalf("expected error fitting ragged rows")
	}
}

func TestPercentileInterpolation(t *testing.T) {
	sorted := []float64{0, 10, 20, 30, 40}
	if got := percentile(sorted, 0.5); got != 20 {
		t.Fatalf("median = %v, want 20", got)
	}
	if got := percentile(sorted, 0); got != 0 {
		t.Fatalf("p0 = %v, want 0", got)
	}
	if got := percentile(sorted, 1); got != 40 {
		t.Fatalf("p100 = %v, want 40", got)
	}
	if got := percentile(sorted, 0.125); got != 5 {
		t.Fatalf("p12.5 = %v, want 5", got)
	}
}

func TestSanitizeReplacesNonFinite(t *testing.T) {
	rows := [][]float64{{math.NaN(), math.Inf(1), math.Inf(-1), 7}}
	sanitize(rows)
	for i := 0; i < 3; i++ {
		if rows[0][i] != 0 {
			t.Fatalf("column %d should be sanitized to 0, got %v", i, rows[0][i])
		}
	}
	if rows[0][3] != 7 {
		t.Fatalf("finite value should be untouched, got %v", rows[0][3])
	}
}
