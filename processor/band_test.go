package processor

import (
	"encoding/json"
	"math"
	"testing"

	"p2pflow/models"
)

func TestNewBand(t *testing.T) {
	tests := []struct {
		name      string
		reference float64
		tolerance float64
		wantMin   float64
		wantMax   float64
	}{
		{"ten percent", 36.50, 0.10, 32.85, 40.15},
		{"twelve percent", 100.0, 0.12, 88.0, 112.0},
		{"small reference", 0.5, 0.10, 0.45, 0.55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			band := NewBand(tt.reference, tt.tolerance)
			if math.Abs(band.Min-tt.wantMin) > 1e-9 {
				t.Errorf("min: got %f, want %f", band.Min, tt.wantMin)
			}
			if math.Abs(band.Max-tt.wantMax) > 1e-9 {
				t.Errorf("max: got %f, want %f", band.Max, tt.wantMax)
			}
			if !(band.Min < tt.reference && tt.reference < band.Max) {
				t.Errorf("reference %f not strictly inside band (%f, %f)", tt.reference, band.Min, band.Max)
			}
		})
	}
}

func TestBandBoundaryInclusive(t *testing.T) {
	band := NewBand(36.50, 0.10)
	eps := 0.001

	if !band.Contains(band.Min) {
		t.Errorf("price at lower bound should be accepted")
	}
	if !band.Contains(band.Max) {
		t.Errorf("price at upper bound should be accepted")
	}
	if band.Contains(band.Min - eps) {
		t.Errorf("price just below lower bound should be rejected")
	}
	if band.Contains(band.Max + eps) {
		t.Errorf("price just above upper bound should be rejected")
	}
}

func rawAdv(t *testing.T, body string) models.RawListing {
	t.Helper()
	if !json.Valid([]byte(body)) {
		t.Fatalf("fixture is not valid json: %s", body)
	}
	return models.RawListing{Source: "test", Data: json.RawMessage(body)}
}

func TestReferencePrice(t *testing.T) {
	dec := advDecoder{}

	first := rawAdv(t, `{"adv":{"price":"36.50"}}`)
	price, ok := ReferencePrice([]models.RawListing{first}, dec)
	if !ok || price != 36.50 {
		t.Fatalf("expected 36.50, got %f (ok=%v)", price, ok)
	}
}

func TestReferencePriceEmptyPage(t *testing.T) {
	dec := advDecoder{}
	if _, ok := ReferencePrice(nil, dec); ok {
		t.Fatalf("empty page should yield no reference")
	}
}

func TestReferencePriceZero(t *testing.T) {
	dec := advDecoder{}
	zero := rawAdv(t, `{"adv":{"price":"0"}}`)
	if _, ok := ReferencePrice([]models.RawListing{zero}, dec); ok {
		t.Fatalf("zero price should yield no reference")
	}
}

func TestReferencePriceUnparsable(t *testing.T) {
	dec := advDecoder{}
	bad := rawAdv(t, `{"adv":{"price":"n/a"}}`)
	if _, ok := ReferencePrice([]models.RawListing{bad}, dec); ok {
		t.Fatalf("unparsable price should yield no reference")
	}
}
