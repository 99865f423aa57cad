package commission

import "github.com/google/uuid"

// State carries the per-order commission overrides. Single-rule resolution
// via Resolve is the default path; a manual percent edit or an externally
// apportioned multi-rule total each replace it, and the two override paths
// are mutually exclusive per order.
type State struct {
	// ManualPercentBps is an operator-entered percentage. While set, the
	// matcher is not re-invoked; the session clears it whenever the
	// practitioner or procedure selection changes.
	ManualPercentBps *int64
	// ExternalAmount is the pre-computed total supplied in multi-rule mode.
	// It is used verbatim and bypasses the matcher entirely.
	ExternalAmount *int64
}

// MultiRule reports whether the externally-driven multi-rule mode is active.
func (s State) MultiRule() bool { return s.ExternalAmount != nil }

// Resolved is the ephemeral commission outcome for the current inputs. It
// has no lifecycle of its own and is recomputed from scratch on every
// relevant change.
type Resolved struct {
	RuleID     *uuid.UUID `json:"ruleId,omitempty"`
	Score      int        `json:"score,omitempty"`
	MatchType  string     `json:"matchType,omitempty"`
	PercentBps *int64     `json:"percentBps,omitempty"`
	Amount     int64      `json:"amount"`
	MultiRule  bool       `json:"multiRule"`
	Manual     bool       `json:"manual"`
}

// Amount computes a commission from the taxable base. The base is always the
// net procedure amount; medication cost and the administrative fee are
// categorically excluded.
func Amount(netProcedureAmount, percentBps int64) int64 {
	if netProcedureAmount <= 0 || percentBps <= 0 {
		return 0
	}
	return netProcedureAmount * percentBps / 10000
}

// Calculate produces the resolved commission for the given base, best match
// and override state. A nil match with no override yields an empty
// percentage and zero amount; totals computation proceeds normally around
// it.
func Calculate(netProcedureAmount int64, match *Match, st State) Resolved {
	if st.ExternalAmount != nil {
		amount := *st.ExternalAmount
		if amount < 0 {
			amount = 0
		}
		return Resolved{Amount: amount, MultiRule: true}
	}
	if st.ManualPercentBps != nil {
		pct := *st.ManualPercentBps
		return Resolved{
			PercentBps: &pct,
			Amount:     Amount(netProcedureAmount, pct),
			Manual:     true,
		}
	}
	if match == nil {
		return Resolved{}
	}
	pct := match.Rule.PercentBps
	id := match.Rule.ID
	return Resolved{
		RuleID:     &id,
		Score:      match.Score,
		MatchType:  match.MatchType,
		PercentBps: &pct,
		Amount:     Amount(netProcedureAmount, pct),
	}
}
