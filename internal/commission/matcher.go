package commission

import (
	"strings"

	"github.com/google/uuid"
)

// Match scores, human-readable match descriptions.
const (
	ScorePractitionerProcedure = 100
	ScorePractitionerCategory  = 80
	ScorePractitionerOnly      = 75
	ScoreCategoryAll           = 60
	ScoreDefaultFallback       = 40

	MatchPractitionerProcedure = "practitioner + specific procedure"
	MatchPractitionerCategory  = "practitioner + category"
	MatchPractitionerOnly      = "practitioner — any procedure"
	MatchCategoryAll           = "category — all practitioners"
	MatchDefaultRule           = "default rule"
)

// SelectedProcedure is one procedure currently on the order, as seen by the
// matcher.
type SelectedProcedure struct {
	Name     string
	Category string
}

// Selection is the practitioner/procedure context a rule set is scored
// against.
type Selection struct {
	PractitionerID   uuid.UUID
	PractitionerName string
	Procedures       []SelectedProcedure
}

// Match is the outcome of scoring a single rule against a selection.
type Match struct {
	Rule      Rule   `json:"rule"`
	Score     int    `json:"score"`
	MatchType string `json:"matchType"`
}

// Resolve scores every rule against the selection and returns the best
// match, or nil when every rule scores zero. Ties at the maximum score break
// deterministically: higher constraint specificity wins, then the
// lexicographically smallest rule ID, so the result does not depend on the
// ordering of the rule list as received from the configuration store.
func Resolve(rules []Rule, sel Selection) *Match {
	var best *Match
	for _, rule := range rules {
		score, matchType := score(rule, sel)
		if score == 0 {
			continue
		}
		candidate := &Match{Rule: rule, Score: score, MatchType: matchType}
		if best == nil || beats(candidate, best) {
			best = candidate
		}
	}
	return best
}

func beats(candidate, incumbent *Match) bool {
	if candidate.Score != incumbent.Score {
		return candidate.Score > incumbent.Score
	}
	cs, is := candidate.Rule.specificity(), incumbent.Rule.specificity()
	if cs != is {
		return cs > is
	}
	return strings.Compare(candidate.Rule.ID.String(), incumbent.Rule.ID.String()) < 0
}

func score(rule Rule, sel Selection) (int, string) {
	practitionerMatch := rule.hasPractitionerConstraint() &&
		rule.coversPractitioner(sel.PractitionerID, sel.PractitionerName)

	procedureOverlap := false
	categoryOverlap := false
	for _, p := range sel.Procedures {
		if rule.coversProcedureName(p.Name) {
			procedureOverlap = true
		}
		if rule.coversCategory(p.Category) {
			categoryOverlap = true
		}
	}

	switch {
	case practitionerMatch && procedureOverlap:
		return ScorePractitionerProcedure, MatchPractitionerProcedure
	case practitionerMatch && categoryOverlap:
		return ScorePractitionerCategory, MatchPractitionerCategory
	case practitionerMatch:
		return ScorePractitionerOnly, MatchPractitionerOnly
	case !rule.hasPractitionerConstraint() && categoryOverlap:
		return ScoreCategoryAll, MatchCategoryAll
	case rule.DefaultFallback:
		return ScoreDefaultFallback, MatchDefaultRule
	default:
		return 0, ""
	}
}
