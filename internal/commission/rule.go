package commission

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrPercentOutOfRange is returned when the rule percentage falls outside (0, 100].
	ErrPercentOutOfRange = errors.New("commission: rule percentage must be greater than 0 and at most 100")
	// ErrNoConstraint is returned when a rule matches nothing: no practitioner,
	// category or procedure constraint and no default-fallback flag.
	ErrNoConstraint = errors.New("commission: rule requires at least one qualifying constraint")
)

// Rule is the canonical compensation rule shape the matcher operates on.
// Legacy singular practitioner/procedure columns are normalized into the set
// fields at the configuration-store boundary; the matcher never sees them.
type Rule struct {
	ID                uuid.UUID   `json:"id"`
	PractitionerIDs   []uuid.UUID `json:"practitionerIds,omitempty"`
	PractitionerNames []string    `json:"practitionerNames,omitempty"`
	Category          string      `json:"category,omitempty"`
	ProcedureNames    []string    `json:"procedureNames,omitempty"`
	PercentBps        int64       `json:"percentBps"`
	DefaultFallback   bool        `json:"defaultFallback"`
	Description       string      `json:"description,omitempty"`
}

// Validate ensures the rule can participate in matching.
func (r Rule) Validate() error {
	if r.PercentBps <= 0 || r.PercentBps > 10000 {
		return ErrPercentOutOfRange
	}
	if len(r.PractitionerIDs) == 0 && len(r.PractitionerNames) == 0 &&
		strings.TrimSpace(r.Category) == "" && len(r.ProcedureNames) == 0 && !r.DefaultFallback {
		return ErrNoConstraint
	}
	return nil
}

// specificity counts the populated constraint dimensions. Used as the first
// tie-break between rules at an equal score.
func (r Rule) specificity() int {
	n := 0
	if len(r.PractitionerIDs) > 0 || len(r.PractitionerNames) > 0 {
		n++
	}
	if strings.TrimSpace(r.Category) != "" {
		n++
	}
	if len(r.ProcedureNames) > 0 {
		n++
	}
	return n
}

// coversPractitioner reports whether the rule's practitioner set contains the
// given practitioner, matching by ID first and the legacy name mirror second.
func (r Rule) coversPractitioner(id uuid.UUID, name string) bool {
	for _, rid := range r.PractitionerIDs {
		if rid == id {
			return true
		}
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return false
	}
	for _, rn := range r.PractitionerNames {
		if strings.EqualFold(strings.TrimSpace(rn), trimmed) {
			return true
		}
	}
	return false
}

// hasPractitionerConstraint reports whether the rule is scoped to specific
// practitioners at all.
func (r Rule) hasPractitionerConstraint() bool {
	return len(r.PractitionerIDs) > 0 || len(r.PractitionerNames) > 0
}

func (r Rule) coversProcedureName(name string) bool {
	for _, rn := range r.ProcedureNames {
		if strings.EqualFold(strings.TrimSpace(rn), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

func (r Rule) coversCategory(category string) bool {
	return strings.TrimSpace(r.Category) != "" &&
		strings.EqualFold(strings.TrimSpace(r.Category), strings.TrimSpace(category))
}
