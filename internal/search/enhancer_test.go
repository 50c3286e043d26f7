package search

import "testing"

func TestEnhanceDeterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		phrase, threshold := Enhance("stop sign")
		if phrase != "a red octagonal stop sign at a road intersection" {
			t.Fatalf("iteration %d: phrase changed: %q", i, phrase)
		}
		if threshold != ThresholdSpecific {
			t.Fatalf("iteration %d: threshold changed: %v", i, threshold)
		}
	}
}

func TestEnhanceExactBeforeSubstring(t *testing.T) {
	// "traffic" is its own rule, but the exact pass must not let the
	// earlier substring rules ("traffic light", "traffic cone") shadow it.
	phrase, threshold := Enhance("traffic")
	if phrase != "dense road traffic with many vehicles" {
		t.Fatalf("exact match lost to substring rule: %q", phrase)
	}
	if threshold != ThresholdGeneric {
		t.Fatalf("threshold: want=%v got=%v", ThresholdGeneric, threshold)
	}
}

func TestEnhanceSubstringMatch(t *testing.T) {
	phrase, threshold := Enhance("red stop sign ahead")
	if phrase != "a red octagonal stop sign at a road intersection" {
		t.Fatalf("substring match failed: %q", phrase)
	}
	if threshold != ThresholdSpecific {
		t.Fatalf("threshold: want=%v got=%v", ThresholdSpecific, threshold)
	}
}

func TestEnhanceTiers(t *testing.T) {
	cases := []struct {
		query string
		want  float64
	}{
		{"license plate", ThresholdSpecific},
		{"crosswalk", ThresholdSpecific},
		{"pedestrian", DefaultThreshold},
		{"highway", ThresholdGeneric},
		{"rain", ThresholdGeneric},
	}
	for _, c := range cases {
		if _, got := Enhance(c.query); got != c.want {
			t.Fatalf("%q threshold: want=%v got=%v", c.query, c.want, got)
		}
	}
}

func TestEnhanceUnmatchedFallsBack(t *testing.T) {
	phrase, threshold := Enhance("zebra")
	if phrase != "a driving scene showing zebra" {
		t.Fatalf("fallback phrase: %q", phrase)
	}
	if threshold != DefaultThreshold {
		t.Fatalf("fallback threshold: want=%v got=%v", DefaultThreshold, threshold)
	}
}

func TestEnhanceNormalizesCaseAndSpace(t *testing.T) {
	a, ta := Enhance("  Stop Sign ")
	b, tb := Enhance("stop sign")
	if a != b || ta != tb {
		t.Fatalf("case/space normalization: (%q,%v) vs (%q,%v)", a, ta, b, tb)
	}
}
