package commission

import (
	"testing"

	"github.com/google/uuid"
)

var (
	drRahma    = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	drBudi     = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	scalingSel = Selection{
		PractitionerID:   drRahma,
		PractitionerName: "drg. Rahma",
		Procedures:       []SelectedProcedure{{Name: "Scaling", Category: "dental"}},
	}
)

func ruleID(b byte) uuid.UUID {
	var id uuid.UUID
	for i := range id {
		id[i] = b
	}
	return id
}

func TestResolveScoreordering(t *testing.T) {
	rules := []Rule{
		{ID: ruleID(1), DefaultFallback: true, PercentBps: 500},
		{ID: ruleID(2), PractitionerIDs: []uuid.UUID{drRahma}, ProcedureNames: []string{"Scaling"}, PercentBps: 1500},
		{ID: ruleID(3), PractitionerIDs: []uuid.UUID{drRahma}, Category: "dental", PercentBps: 1200},
	}
	got := Resolve(rules, scalingSel)
	if got == nil {
		t.Fatal("expected a match")
	}
	if got.Score != ScorePractitionerProcedure {
		t.Fatalf("expected score %d, got %d", ScorePractitionerProcedure, got.Score)
	}
	if got.Rule.ID != ruleID(2) {
		t.Fatalf("expected practitioner+procedure rule to win, got %s", got.Rule.ID)
	}
	if got.MatchType != MatchPractitionerProcedure {
		t.Fatalf("unexpected match type %q", got.MatchType)
	}
}

func TestResolvePractitionerCategory(t *testing.T) {
	rules := []Rule{
		{ID: ruleID(1), PractitionerIDs: []uuid.UUID{drRahma}, Category: "dental", PercentBps: 1200},
	}
	got := Resolve(rules, scalingSel)
	if got == nil || got.Score != ScorePractitionerCategory {
		t.Fatalf("expected practitioner+category score, got %+v", got)
	}
}

func TestResolvePractitionerOnly(t *testing.T) {
	rules := []Rule{
		{ID: ruleID(1), PractitionerIDs: []uuid.UUID{drRahma}, Category: "orthodontic", PercentBps: 1000},
	}
	got := Resolve(rules, scalingSel)
	if got == nil || got.Score != ScorePractitionerOnly {
		t.Fatalf("expected practitioner-only score, got %+v", got)
	}
	if got.MatchType != MatchPractitionerOnly {
		t.Fatalf("unexpected match type %q", got.MatchType)
	}
}

func TestResolveCategoryAllPractitioners(t *testing.T) {
	rules := []Rule{
		{ID: ruleID(1), Category: "dental", PercentBps: 800},
	}
	got := Resolve(rules, scalingSel)
	if got == nil || got.Score != ScoreCategoryAll {
		t.Fatalf("expected category-wide score, got %+v", got)
	}
}

func TestResolveDefaultFallback(t *testing.T) {
	rules := []Rule{
		{ID: ruleID(1), PractitionerIDs: []uuid.UUID{drBudi}, PercentBps: 2000},
		{ID: ruleID(2), DefaultFallback: true, PercentBps: 500},
	}
	got := Resolve(rules, scalingSel)
	if got == nil || got.Score != ScoreDefaultFallback {
		t.Fatalf("expected default fallback, got %+v", got)
	}
	if got.MatchType != MatchDefaultRule {
		t.Fatalf("unexpected match type %q", got.MatchType)
	}
}

func TestResolveNoCandidate(t *testing.T) {
	rules := []Rule{
		{ID: ruleID(1), PractitionerIDs: []uuid.UUID{drBudi}, PercentBps: 2000},
		{ID: ruleID(2), Category: "orthodontic", PercentBps: 900},
	}
	if got := Resolve(rules, scalingSel); got != nil {
		t.Fatalf("expected nil match, got %+v", got)
	}
}

func TestResolveLegacyNameMirror(t *testing.T) {
	rules := []Rule{
		{ID: ruleID(1), PractitionerNames: []string{"drg. rahma"}, PercentBps: 1000},
	}
	got := Resolve(rules, scalingSel)
	if got == nil || got.Score != ScorePractitionerOnly {
		t.Fatalf("expected legacy name match, got %+v", got)
	}
}

func TestResolveTieBreakIsOrderIndependent(t *testing.T) {
	// Two rules at score 100; the more specific one (practitioner + category
	// + procedure) must win regardless of list order.
	broad := Rule{ID: ruleID(9), PractitionerIDs: []uuid.UUID{drRahma}, ProcedureNames: []string{"Scaling"}, PercentBps: 1000}
	narrow := Rule{ID: ruleID(5), PractitionerIDs: []uuid.UUID{drRahma}, Category: "dental", ProcedureNames: []string{"Scaling"}, PercentBps: 1500}

	forward := Resolve([]Rule{broad, narrow}, scalingSel)
	reverse := Resolve([]Rule{narrow, broad}, scalingSel)
	if forward == nil || reverse == nil {
		t.Fatal("expected matches in both orders")
	}
	if forward.Rule.ID != narrow.ID || reverse.Rule.ID != narrow.ID {
		t.Fatalf("expected the more specific rule in both orders, got %s and %s", forward.Rule.ID, reverse.Rule.ID)
	}
}

func TestResolveTieBreakByRuleID(t *testing.T) {
	a := Rule{ID: ruleID(3), PractitionerIDs: []uuid.UUID{drRahma}, ProcedureNames: []string{"Scaling"}, PercentBps: 1000}
	b := Rule{ID: ruleID(7), PractitionerIDs: []uuid.UUID{drRahma}, ProcedureNames: []string{"Scaling"}, PercentBps: 2000}

	forward := Resolve([]Rule{a, b}, scalingSel)
	reverse := Resolve([]Rule{b, a}, scalingSel)
	if forward.Rule.ID != a.ID || reverse.Rule.ID != a.ID {
		t.Fatalf("expected the smallest rule ID to win deterministically, got %s and %s", forward.Rule.ID, reverse.Rule.ID)
	}
}

func TestRuleValidate(t *testing.T) {
	cases := []struct {
		name string
		rule Rule
		want error
	}{
		{"zero percent", Rule{PercentBps: 0, DefaultFallback: true}, ErrPercentOutOfRange},
		{"above 100 percent", Rule{PercentBps: 10001, DefaultFallback: true}, ErrPercentOutOfRange},
		{"no constraint", Rule{PercentBps: 1000}, ErrNoConstraint},
		{"fallback only", Rule{PercentBps: 1000, DefaultFallback: true}, nil},
		{"category only", Rule{PercentBps: 1000, Category: "dental"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rule.Validate(); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
