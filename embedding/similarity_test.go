package embedding

import (
	"math"
	"testing"

	apperrors "persona-recall/errors"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		a       []float32
		b       []float32
		want    float64
		wantErr bool
	}{
		{
			name: "identical_vectors",
			a:    []float32{0.5, 0.25, 0.8},
			b:    []float32{0.5, 0.25, 0.8},
			want: 1.0,
		},
		{
			name: "orthogonal_vectors",
			a:    []float32{1, 0},
			b:    []float32{0, 1},
			want: 0.0,
		},
		{
			name: "opposite_vectors",
			a:    []float32{1, 2, 3},
			b:    []float32{-1, -2, -3},
			want: -1.0,
		},
		{
			name: "zero_magnitude_returns_zero",
			a:    []float32{0, 0, 0},
			b:    []float32{1, 2, 3},
			want: 0.0,
		},
		{
			name:    "dimension_mismatch",
			a:       []float32{1, 2},
			b:       []float32{1, 2, 3},
			wantErr: true,
		},
		{
			name: "empty_vectors",
			a:    nil,
			b:    nil,
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("CosineSimilarity() error = nil, want dimension mismatch")
				}
				if !apperrors.IsDimensionMismatch(err) {
					t.Errorf("CosineSimilarity() error = %v, want ErrDimensionMismatch", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CosineSimilarity() unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilaritySymmetry(t *testing.T) {
	a := []float32{0.3, 0.7, 0.1, 0.9}
	b := []float32{0.6, 0.2, 0.8, 0.4}

	ab, err := CosineSimilarity(a, b)
	if err != nil {
		t.Fatalf("CosineSimilarity(a, b) error: %v", err)
	}
	ba, err := CosineSimilarity(b, a)
	if err != nil {
		t.Fatalf("CosineSimilarity(b, a) error: %v", err)
	}
	if math.Abs(ab-ba) > 1e-12 {
		t.Errorf("similarity not symmetric: %v vs %v", ab, ba)
	}
}

func TestCosineSimilarityNeverExceedsOne(t *testing.T) {
	// Large identical vectors accumulate float error; the result must clamp.
	a := make([]float32, 768)
	for i := range a {
		a[i] = float32(i%7) * 0.137
	}
	got, err := CosineSimilarity(a, a)
	if err != nil {
		t.Fatalf("CosineSimilarity() error: %v", err)
	}
	if got > 1.0 {
		t.Errorf("CosineSimilarity(a, a) = %v, want <= 1.0", got)
	}
	if got < 0.999999 {
		t.Errorf("CosineSimilarity(a, a) = %v, want ~1.0", got)
	}
}

func TestIsZeroVector(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
		want bool
	}{
		{"all_zero", []float32{0, 0, 0}, true},
		{"empty", nil, true},
		{"nonzero", []float32{0, 0.001, 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsZeroVector(tt.vec); got != tt.want {
				t.Errorf("IsZeroVector() = %v, want %v", got, tt.want)
			}
		})
	}
}
