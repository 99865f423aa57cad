package commission

import (
	"testing"

	"github.com/google/uuid"
)

func TestCalculateSingleRule(t *testing.T) {
	match := &Match{
		Rule:      Rule{ID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), PercentBps: 1500},
		Score:     ScorePractitionerProcedure,
		MatchType: MatchPractitionerProcedure,
	}
	got := Calculate(360_000, match, State{})
	if got.Amount != 54_000 {
		t.Fatalf("expected commission 54000, got %d", got.Amount)
	}
	if got.PercentBps == nil || *got.PercentBps != 1500 {
		t.Fatalf("expected resolved percent 1500 bps, got %v", got.PercentBps)
	}
	if got.MultiRule || got.Manual {
		t.Fatal("expected plain single-rule resolution")
	}
	if got.RuleID == nil || *got.RuleID != match.Rule.ID {
		t.Fatal("expected the matched rule reference on the resolution")
	}
}

func TestCalculateBaseExcludesFeeAndMedication(t *testing.T) {
	// The caller passes only netProcedureAmount; equal bases must yield
	// equal commissions no matter what the rest of the order looks like.
	match := &Match{Rule: Rule{PercentBps: 1000}}
	a := Calculate(250_000, match, State{})
	b := Calculate(250_000, match, State{})
	if a.Amount != b.Amount || a.Amount != 25_000 {
		t.Fatalf("expected stable 25000 commission, got %d and %d", a.Amount, b.Amount)
	}
}

func TestCalculateNoMatch(t *testing.T) {
	got := Calculate(360_000, nil, State{})
	if got.Amount != 0 {
		t.Fatalf("expected zero commission, got %d", got.Amount)
	}
	if got.PercentBps != nil {
		t.Fatalf("expected empty percentage, got %v", *got.PercentBps)
	}
}

func TestCalculateManualOverride(t *testing.T) {
	manual := int64(2000)
	match := &Match{Rule: Rule{PercentBps: 1000}}
	got := Calculate(100_000, match, State{ManualPercentBps: &manual})
	if got.Amount != 20_000 {
		t.Fatalf("expected manual commission 20000, got %d", got.Amount)
	}
	if !got.Manual {
		t.Fatal("expected manual flag")
	}
	if got.RuleID != nil {
		t.Fatal("manual override must not reference a matched rule")
	}
}

func TestCalculateMultiRuleVerbatim(t *testing.T) {
	external := int64(77_500)
	match := &Match{Rule: Rule{PercentBps: 1000}}
	got := Calculate(100_000, match, State{ExternalAmount: &external})
	if got.Amount != 77_500 {
		t.Fatalf("expected external amount verbatim, got %d", got.Amount)
	}
	if !got.MultiRule {
		t.Fatal("expected multi-rule flag")
	}
	if got.PercentBps != nil {
		t.Fatal("multi-rule mode carries no single percentage")
	}
}

func TestAmountClamps(t *testing.T) {
	if Amount(-100, 1000) != 0 {
		t.Fatal("negative base must yield zero")
	}
	if Amount(100, 0) != 0 {
		t.Fatal("zero percent must yield zero")
	}
}
