package database

import (
	"math"
	"testing"

	apperrors "persona-recall/errors"
)

func TestVectorRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
	}{
		{"single_value", []float32{0.5}},
		{"typical", []float32{0.1, -0.2, 0.3, 0.0, 12.75}},
		{"extremes", []float32{math.MaxFloat32, -math.MaxFloat32, math.SmallestNonzeroFloat32}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := EncodeVector(tt.vector)
			if err != nil {
				t.Fatalf("EncodeVector() error: %v", err)
			}
			if len(blob) != 4+4*len(tt.vector) {
				t.Errorf("blob length = %d, want %d", len(blob), 4+4*len(tt.vector))
			}

			decoded, err := DecodeVector(blob)
			if err != nil {
				t.Fatalf("DecodeVector() error: %v", err)
			}
			if len(decoded) != len(tt.vector) {
				t.Fatalf("decoded length = %d, want %d", len(decoded), len(tt.vector))
			}
			for i := range decoded {
				if decoded[i] != tt.vector[i] {
					t.Errorf("decoded[%d] = %v, want %v", i, decoded[i], tt.vector[i])
				}
			}
		})
	}
}

func TestEncodeVectorRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
	}{
		{"empty", nil},
		{"nan", []float32{1, float32(math.NaN())}},
		{"inf", []float32{float32(math.Inf(1))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeVector(tt.vector); err == nil {
				t.Error("EncodeVector() error = nil, want error")
			}
		})
	}
}

func TestDecodeVectorCorruptBlobs(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{"truncated_header", []byte{1, 0}},
		{"dimension_mismatch", []byte{3, 0, 0, 0, 1, 2, 3, 4}},
		{"zero_dimension", []byte{0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeVector(tt.blob)
			if err == nil {
				t.Fatal("DecodeVector() error = nil, want parse error")
			}
			if !apperrors.IsParse(err) {
				t.Errorf("DecodeVector() error = %v, want ErrParse", err)
			}
		})
	}
}

func TestDecodeVectorEmptyBlob(t *testing.T) {
	vec, err := DecodeVector(nil)
	if err != nil {
		t.Fatalf("DecodeVector(nil) error: %v", err)
	}
	if vec != nil {
		t.Errorf("DecodeVector(nil) = %v, want nil", vec)
	}
}
