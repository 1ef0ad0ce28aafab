package feedback

import (
	"math"
	"testing"
)

func TestUtilityScoreDefaultsNeutral(t *testing.T) {
	tr := New()
	if got := tr.UtilityScore("unknown"); got != 0.5 {
		t.Errorf("UtilityScore = %v, want 0.5", got)
	}
}

func TestRecordFeedbackComputesUtility(t *testing.T) {
	tr := New()
	tr.RecordFeedback("mem1", SignalHelpful, "s1")
	tr.RecordFeedback("mem1", SignalHelpful, "s2")
	got := tr.RecordFeedback("mem1", SignalHarmful, "s3")
	if got != float64(2)/3 {
		t.Errorf("UtilityScore = %v, want 2/3", got)
	}
}

func TestRecordFeedbackIsIdempotent(t *testing.T) {
	tr := New()
	tr.RecordFeedback("mem1", SignalHelpful, "s1")
	tr.RecordFeedback("mem1", SignalHelpful, "s1") // same (session,memory,signal) — must not double-count
	h, _ := tr.Counts("mem1")
	if h != 1 {
		t.Errorf("helpful count = %d, want 1 after duplicate call", h)
	}
}

func TestShouldPruneBelowThreshold(t *testing.T) {
	tr := New()
	tr.RecordFeedback("mem1", SignalHarmful, "s1")
	tr.RecordFeedback("mem1", SignalHarmful, "s2")
	if !tr.ShouldPrune("mem1") {
		t.Error("expected ShouldPrune true for all-harmful feedback")
	}
}

func TestShouldPruneFalseWithNoFeedback(t *testing.T) {
	tr := New()
	if tr.ShouldPrune("never-touched") {
		t.Error("expected ShouldPrune false when no feedback recorded")
	}
}

func TestRetrievalWeightRange(t *testing.T) {
	if w := RetrievalWeight(0); w != 0.7 {
		t.Errorf("RetrievalWeight(0) = %v, want 0.7", w)
	}
	if w := RetrievalWeight(1); math.Abs(w-1.3) > 1e-9 {
		t.Errorf("RetrievalWeight(1) = %v, want 1.3", w)
	}
}
