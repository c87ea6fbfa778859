package model

import "testing"

func TestPermissionTierOrder(t *testing.T) {
	if !TierExecute.Exceeds(TierSuggest) {
		t.Error("expected execute to exceed suggest")
	}
	if TierSuggest.Exceeds(TierSuggest) {
		t.Error("expected a tier not to exceed itself")
	}
	if !TierSuggest.AtOrAbove(TierSuggest) {
		t.Error("expected suggest at or above suggest")
	}
	if TierDraft.AtOrAbove(TierSuggest) {
		t.Error("expected draft below suggest")
	}
}

func TestPermissionTierNextIsOneStep(t *testing.T) {
	for _, tier := range []PermissionTier{TierDraft, TierSuggest, TierExecute} {
		next := tier.Next()
		if next.Rank()-tier.Rank() > 1 {
			t.Errorf("%s.Next() = %s jumps more than one rank", tier, next)
		}
	}
	if TierExecute.Next() != TierExecute {
		t.Errorf("expected execute to stay execute, got %s", TierExecute.Next())
	}
	if TierDraft.Prev() != TierDraft {
		t.Errorf("expected draft to stay draft, got %s", TierDraft.Prev())
	}
	if TierExecute.Prev() != TierSuggest {
		t.Errorf("expected execute.Prev() = suggest, got %s", TierExecute.Prev())
	}
}

func TestUnknownEnumsRankNegative(t *testing.T) {
	if PermissionTier("root").Valid() {
		t.Error("expected unknown tier to be invalid")
	}
	if TaskClass("weird").Valid() {
		t.Error("expected unknown task class to be invalid")
	}
	if ActionImpact("catastrophic").Valid() {
		t.Error("expected unknown impact to be invalid")
	}
}

func TestImpactAndClassOrder(t *testing.T) {
	if !ImpactIrreversible.Exceeds(ImpactDifficult) {
		t.Error("expected irreversible to exceed difficult")
	}
	if !ClassHighRisk.AtOrAbove(ClassNovel) {
		t.Error("expected high_risk at or above novel")
	}
	if ClassRoutine.Exceeds(ClassRoutine) {
		t.Error("expected routine not to exceed routine")
	}
}

func TestParseDecisionFailsClosed(t *testing.T) {
	tests := []struct {
		in   string
		want Decision
	}{
		{"allow", Allow},
		{"escalate", Escalate},
		{"deny", Deny},
		{"", Deny},
		{"ALLOW", Deny},
		{"maybe", Deny},
	}
	for _, tt := range tests {
		if got := ParseDecision(tt.in); got != tt.want {
			t.Errorf("ParseDecision(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseTier(t *testing.T) {
	if _, err := ParseTier("execute"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseTier("admin"); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}
