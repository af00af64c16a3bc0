package symphony

import (
	"testing"
	"time"
)

func hzRate(v float64) Measurement { return NewMeasurement(v, "Hz", 0) }

func makeBlock(n int, rate float64) IOData {
	samples := make([]Measurement, n)
	for i := range samples {
		samples[i] = NewMeasurement(float64(i), "V", 0)
	}
	return NewIOData(samples, hzRate(rate))
}

func TestSplitTotalOnLargeDuration(t *testing.T) {
	b := makeBlock(100, 100) // 1 second total
	head, rest := b.Split(10 * time.Second)
	if head.Len() != 100 || rest.Len() != 0 {
		t.Errorf("Split past end: head=%d rest=%d, want 100,0", head.Len(), rest.Len())
	}
}

func TestSplitThenConcatRoundTrips(t *testing.T) {
	b := makeBlock(100, 100)
	head, rest := b.Split(500 * time.Millisecond)
	combined, err := Concat(head, rest)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if combined.Len() != b.Len() {
		t.Fatalf("Concat(Split(b)) len=%d, want %d", combined.Len(), b.Len())
	}
	for i := range b.Samples() {
		if !combined.Samples()[i].Equal(b.Samples()[i]) {
			t.Errorf("sample %d mismatch after split/concat", i)
		}
	}
}

func TestConcatEmptyIsIdentity(t *testing.T) {
	b := makeBlock(10, 100)
	empty := EmptyIOData(hzRate(100))
	out, err := Concat(empty, b)
	if err != nil || out.Len() != b.Len() {
		t.Fatalf("Concat(empty, b) = (%v, %v), want b unchanged", out, err)
	}
	out2, err := Concat(b, empty)
	if err != nil || out2.Len() != b.Len() {
		t.Fatalf("Concat(b, empty) = (%v, %v), want b unchanged", out2, err)
	}
}

func TestConcatRequiresMatchingRate(t *testing.T) {
	a := makeBlock(10, 100)
	b := makeBlock(10, 200)
	if _, err := Concat(a, b); err == nil {
		t.Errorf("Concat with mismatched rates succeeded, want error")
	}
}

func TestWithUnitsIdempotent(t *testing.T) {
	b := makeBlock(5, 100)
	out, err := b.WithUnits(DefaultRegistry, "V")
	if err != nil {
		t.Fatalf("WithUnits same target: %v", err)
	}
	if out.BaseUnit() != "V" {
		t.Errorf("WithUnits idempotent changed unit to %s", out.BaseUnit())
	}
}

func TestWithNodeConfigAppendOnly(t *testing.T) {
	b := makeBlock(1, 100)
	b2 := b.WithNodeConfig("streamA", map[string]interface{}{"target": "V"})
	b3 := b2.WithNodeConfig("deviceA", map[string]interface{}{"gain": 2.0})
	if len(b.ConfigTrail()) != 0 {
		t.Errorf("original block trail mutated")
	}
	if len(b2.ConfigTrail()) != 1 || len(b3.ConfigTrail()) != 2 {
		t.Errorf("trail lengths = %d,%d, want 1,2", len(b2.ConfigTrail()), len(b3.ConfigTrail()))
	}
	if b3.ConfigTrail()[0].NodeName != "streamA" || b3.ConfigTrail()[1].NodeName != "deviceA" {
		t.Errorf("trail order wrong: %v", b3.ConfigTrail())
	}
}
