// Package intent implements the Intent & Router (C8): query classification
// into a closed set of intent categories plus per-layer query-plan
// translation, so the recall fuser (C9) knows which layers to hit and how.
package intent

import (
	"regexp"

	"cogmem/internal/model"
)

// Intent is one of the closed set of query categories.
type Intent string

const (
	IntentFactualLookup  Intent = "factual_lookup"
	IntentPatternMatch   Intent = "pattern_match"
	IntentTimelineQuery  Intent = "timeline_query"
	IntentExploration    Intent = "exploration"
	IntentPreferenceCheck Intent = "preference_check"
	IntentErrorLookup    Intent = "error_lookup"
	IntentDecisionReview Intent = "decision_review"
)

// SearchStrategy is one of the closed set of recall strategies a plan
// assigns to its query.
type SearchStrategy string

const (
	StrategyExact    SearchStrategy = "exact"
	StrategySemantic SearchStrategy = "semantic"
	StrategyTemporal SearchStrategy = "temporal"
	StrategyHybrid   SearchStrategy = "hybrid"
)

// candidate is one entry in the fixed intent-classification family: a
// regex, a base confidence, and the plan it produces when it wins.
type candidate struct {
	intent  Intent
	base    float64
	pattern *regexp.Regexp
}

var candidates = []candidate{
	{IntentFactualLookup, 0.85, regexp.MustCompile(`(?i)\b(what is|what's|define|definition of|value of|api key|config(uration)?|constant|is the)\b`)},
	{IntentErrorLookup, 0.85, regexp.MustCompile(`(?i)\b(error|exception|bug|crash|stack trace|traceback|failed|failing)\b`)},
	{IntentDecisionReview, 0.8, regexp.MustCompile(`(?i)\b(why did we|decision|decided|chose|chosen|rationale|reasoning)\b`)},
	{IntentPreferenceCheck, 0.75, regexp.MustCompile(`(?i)\b(prefer|preference|do i like|should i use|convention|style guide)\b`)},
	{IntentTimelineQuery, 0.8, regexp.MustCompile(`(?i)\b(when did|timeline|history of|yesterday|last week|earlier today|what happened)\b`)},
	{IntentPatternMatch, 0.75, regexp.MustCompile(`(?i)\b(pattern|similar to|recurring|have we seen|common approach|best practice)\b`)},
}

// matchFraction reports the fraction of query's bytes covered by re's
// matches (capped at 1), approximating "how much of the query looked like
// this category" beyond a single keyword hit.
func matchFraction(re *regexp.Regexp, query string) float64 {
	matches := re.FindAllStringIndex(query, -1)
	if len(matches) == 0 {
		return 0
	}
	covered := 0
	for _, m := range matches {
		covered += m[1] - m[0]
	}
	if len(query) == 0 {
		return 0
	}
	frac := float64(covered) / float64(len(query))
	if frac > 1 {
		frac = 1
	}
	return frac
}

// Classification is detectIntent's output.
type Classification struct {
	Intent          Intent
	Confidence      float64
	SuggestedLayers []model.Layer
	PriorityLayer   model.Layer
	SearchStrategy  SearchStrategy
	Explanation     string
}

// DetectIntent classifies query into the highest-confidence matching
// category, defaulting to exploration at 0.6 confidence when nothing
// matches.
func DetectIntent(query string) Classification {
	var best candidate
	var bestConfidence float64
	matched := false

	for _, c := range candidates {
		if !c.pattern.MatchString(query) {
			continue
		}
		conf := c.base * (0.85 + 0.15*matchFraction(c.pattern, query))
		if !matched || conf > bestConfidence {
			best, bestConfidence, matched = c, conf, true
		}
	}

	if !matched {
		return planFor(IntentExploration, 0.6)
	}
	return planFor(best.intent, bestConfidence)
}

// planFor attaches the per-intent layer plan and explanation to a detected
// intent/confidence pair — the Router half of C8.
func planFor(in Intent, confidence float64) Classification {
	switch in {
	case IntentFactualLookup:
		return Classification{
			Intent: in, Confidence: confidence,
			SuggestedLayers: []model.Layer{model.LayerFactual, model.LayerLongTerm},
			PriorityLayer:   model.LayerFactual,
			SearchStrategy:  StrategyExact,
			Explanation:     "query names a specific fact or definition; check the factual index first",
		}
	case IntentErrorLookup:
		return Classification{
			Intent: in, Confidence: confidence,
			SuggestedLayers: []model.Layer{model.LayerEpisodic, model.LayerLongTerm},
			PriorityLayer:   model.LayerEpisodic,
			SearchStrategy:  StrategyHybrid,
			Explanation:     "query references an error or failure; episodic logs carry the most recent incident detail",
		}
	case IntentDecisionReview:
		return Classification{
			Intent: in, Confidence: confidence,
			SuggestedLayers: []model.Layer{model.LayerSemantic, model.LayerEpisodic},
			PriorityLayer:   model.LayerSemantic,
			SearchStrategy:  StrategyHybrid,
			Explanation:     "query asks for rationale; semantic patterns carry consolidated reasoning chains",
		}
	case IntentPreferenceCheck:
		return Classification{
			Intent: in, Confidence: confidence,
			SuggestedLayers: []model.Layer{model.LayerSemantic},
			PriorityLayer:   model.LayerSemantic,
			SearchStrategy:  StrategySemantic,
			Explanation:     "query checks a standing preference; semantic patterns consolidate those over time",
		}
	case IntentTimelineQuery:
		return Classification{
			Intent: in, Confidence: confidence,
			SuggestedLayers: []model.Layer{model.LayerEpisodic},
			PriorityLayer:   model.LayerEpisodic,
			SearchStrategy:  StrategyTemporal,
			Explanation:     "query asks about when something happened; episodic logs are ordered by day",
		}
	case IntentPatternMatch:
		return Classification{
			Intent: in, Confidence: confidence,
			SuggestedLayers: []model.Layer{model.LayerSemantic, model.LayerLongTerm},
			PriorityLayer:   model.LayerSemantic,
			SearchStrategy:  StrategySemantic,
			Explanation:     "query asks about a recurring pattern; semantic consolidation is the layer built for that",
		}
	default:
		return Classification{
			Intent: IntentExploration, Confidence: confidence,
			SuggestedLayers: []model.Layer{model.LayerFactual, model.LayerLongTerm, model.LayerSemantic, model.LayerEpisodic},
			PriorityLayer:   model.LayerLongTerm,
			SearchStrategy:  StrategyHybrid,
			Explanation:     "no specific intent matched; searching every layer broadly",
		}
	}
}
