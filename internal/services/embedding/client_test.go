package embedding

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1.0},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0.0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1.0},
		{"scaled", []float64{1, 1}, []float64{3, 3}, 1.0},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("CosineSimilarity failed: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("similarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	if _, err := CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3}); err == nil {
		t.Fatal("expected an error for mismatched dimensions")
	}
}

func TestVectorJSONRoundTrip(t *testing.T) {
	vector := []float64{0.125, -2.5, 0}

	data, err := VectorToJSON(vector)
	if err != nil {
		t.Fatalf("VectorToJSON failed: %v", err)
	}
	decoded, err := JSONToVector(data)
	if err != nil {
		t.Fatalf("JSONToVector failed: %v", err)
	}

	if len(decoded) != len(vector) {
		t.Fatalf("decoded %d values, want %d", len(decoded), len(vector))
	}
	for i := range vector {
		if decoded[i] != vector[i] {
			t.Errorf("value %d = %f, want %f", i, decoded[i], vector[i])
		}
	}
}

func TestJSONToVectorRejectsGarbage(t *testing.T) {
	if _, err := JSONToVector("not json"); err == nil {
		t.Fatal("expected an error for malformed input")
	}
}
