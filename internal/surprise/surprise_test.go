package surprise

import (
	"testing"
	"time"
)

func TestCalculateSurprise_EmptyRecentIsFullyNovel(t *testing.T) {
	s := CalculateSurprise("just a plain observation", nil, 0.3)
	if s.NoveltyScore != 1 {
		t.Errorf("NoveltyScore = %v, want 1", s.NoveltyScore)
	}
	if !s.ShouldStore {
		t.Error("expected ShouldStore = true with no priors")
	}
}

func TestCalculateSurprise_DuplicateContentIsNotNovel(t *testing.T) {
	content := "we decided to use postgres for durability because it scales well"
	recent := []Recent{{ID: "m1", Content: content}}
	s := CalculateSurprise(content, recent, 0.3)
	if s.NoveltyScore > 0.2 {
		t.Errorf("NoveltyScore = %v, want near 0 for identical content", s.NoveltyScore)
	}
	if len(s.SimilarMemories) == 0 {
		t.Error("expected the duplicate to appear in SimilarMemories")
	}
}

func TestCalculateSurprise_PatternBoostCapped(t *testing.T) {
	content := "we decided this was an error, the solution we learned changes the architecture; I prefer this"
	s := CalculateSurprise(content, nil, 0.3)
	if s.PatternBoost > patternBoostCap {
		t.Errorf("PatternBoost = %v, want <= %v", s.PatternBoost, patternBoostCap)
	}
}

func TestCalculateMomentum(t *testing.T) {
	if m := CalculateMomentum(nil, 5); m != 0 {
		t.Errorf("empty history momentum = %v, want 0", m)
	}
	m := CalculateMomentum([]float64{1, 1, 1, 1, 1}, 5)
	if m < 0.99 || m > 1.01 {
		t.Errorf("uniform scores momentum = %v, want ~1", m)
	}
	// Newest-first weighting: a high score followed by low ones should pull
	// the average up more than equal weighting would.
	weighted := CalculateMomentum([]float64{1, 0, 0, 0, 0}, 5)
	if weighted <= 0.2 {
		t.Errorf("momentum = %v, want the newest score to dominate", weighted)
	}
}

func TestCalculateDecay(t *testing.T) {
	now := time.Now()
	fresh := CalculateDecay(now, now, 180)
	if fresh < 0.99 {
		t.Errorf("fresh entry decay = %v, want ~1", fresh)
	}
	old := CalculateDecay(now.Add(-180*24*time.Hour), now.Add(-180*24*time.Hour), 180)
	if old < 0.49 || old > 0.51 {
		t.Errorf("one-half-life-old decay = %v, want ~0.5", old)
	}
	// Recent access should slow decay relative to creation time alone.
	createdLongAgo := now.Add(-365 * 24 * time.Hour)
	accessedRecently := CalculateDecay(createdLongAgo, now, 180)
	accessedLongAgo := CalculateDecay(createdLongAgo, createdLongAgo, 180)
	if accessedRecently <= accessedLongAgo {
		t.Error("recent access should slow decay relative to never-accessed")
	}
}

func TestScoreImportanceBounded(t *testing.T) {
	s := ScoreImportance("")
	if s < 0 || s > 1 {
		t.Errorf("ScoreImportance(empty) = %v, out of [0,1]", s)
	}
	rich := ScoreImportance("We decided to fix this error with a workaround.\n```go\nfunc f() {}\n```\n- step one\n- step two\nWhat do you think?")
	if rich <= s {
		t.Errorf("rich content score %v should exceed empty content score %v", rich, s)
	}
	if rich > 1 {
		t.Errorf("ScoreImportance = %v, want <= 1", rich)
	}
}
