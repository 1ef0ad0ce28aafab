package intent

import "testing"

func TestDetectIntentFactualLookup(t *testing.T) {
	c := DetectIntent("what is the API key for staging?")
	if c.Intent != IntentFactualLookup {
		t.Errorf("Intent = %q, want factual_lookup", c.Intent)
	}
	if c.SearchStrategy != StrategyExact {
		t.Errorf("SearchStrategy = %q, want exact", c.SearchStrategy)
	}
}

func TestDetectIntentErrorLookup(t *testing.T) {
	c := DetectIntent("why is the build failing with this stack trace")
	if c.Intent != IntentErrorLookup {
		t.Errorf("Intent = %q, want error_lookup", c.Intent)
	}
}

func TestDetectIntentTimelineQuery(t *testing.T) {
	c := DetectIntent("when did we deploy the last release")
	if c.Intent != IntentTimelineQuery {
		t.Errorf("Intent = %q, want timeline_query", c.Intent)
	}
	if c.SearchStrategy != StrategyTemporal {
		t.Errorf("SearchStrategy = %q, want temporal", c.SearchStrategy)
	}
}

func TestDetectIntentDefaultsToExploration(t *testing.T) {
	c := DetectIntent("tell me something interesting")
	if c.Intent != IntentExploration {
		t.Errorf("Intent = %q, want exploration", c.Intent)
	}
	if c.Confidence != 0.6 {
		t.Errorf("Confidence = %v, want 0.6", c.Confidence)
	}
	if len(c.SuggestedLayers) != 4 {
		t.Errorf("SuggestedLayers = %v, want all 4 layers", c.SuggestedLayers)
	}
}

func TestDetectIntentTimelineQueryConfidenceMeetsThreshold(t *testing.T) {
	c := DetectIntent("When did we deploy v2.0?")
	if c.Intent != IntentTimelineQuery {
		t.Fatalf("Intent = %q, want timeline_query", c.Intent)
	}
	if c.Confidence < 0.7 {
		t.Errorf("Confidence = %v, want >= 0.7", c.Confidence)
	}
}

func TestDetectIntentConfidenceInRange(t *testing.T) {
	c := DetectIntent("what is the config value for timeout")
	if c.Confidence <= 0 || c.Confidence > 1 {
		t.Errorf("Confidence = %v, want in (0,1]", c.Confidence)
	}
}
