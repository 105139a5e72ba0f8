package domain

// LeadStatus is the lifecycle state of a lead.
type LeadStatus string

const (
	StatusCold     LeadStatus = "cold"
	StatusWarm     LeadStatus = "warm"
	StatusHot      LeadStatus = "hot"
	StatusCustomer LeadStatus = "customer"
	StatusChurned  LeadStatus = "churned"
)

// KnownStatuses lists every valid lead status.
var KnownStatuses = map[LeadStatus]bool{
	StatusCold:     true,
	StatusWarm:     true,
	StatusHot:      true,
	StatusCustomer: true,
	StatusChurned:  true,
}

// TransitionReason records why a status transition happened.
type TransitionReason string

const (
	ReasonScore      TransitionReason = "score_threshold"
	ReasonConverted  TransitionReason = "converted"
	ReasonInactivity TransitionReason = "inactivity"
	ReasonManual     TransitionReason = "manual"
	ReasonReentry    TransitionReason = "re_entry"
)

// Transition is a single status change.
type Transition struct {
	From   LeadStatus
	To     LeadStatus
	Reason TransitionReason
}

// Thresholds holds the score boundaries for status evaluation.
type Thresholds struct {
	Warm float64
	Hot  float64
}

// DefaultThresholds matches the product defaults (warm >= 30, hot >= 70).
var DefaultThresholds = Thresholds{Warm: 30, Hot: 70}

// EvaluateScore derives the score-driven transitions from the current
// status. It iterates to a fixpoint so that re-evaluating with the same
// score and resulting state yields no further transitions (idempotence).
// Customer and churned are never entered or left by score alone; hot holds
// between the warm and hot thresholds (hysteresis).
func EvaluateScore(current LeadStatus, score float64, t Thresholds) []Transition {
	var transitions []Transition

	for {
		next, ok := scoreStep(current, score, t)
		if !ok {
			return transitions
		}
		transitions = append(transitions, Transition{From: current, To: next, Reason: ReasonScore})
		current = next
	}
}

func scoreStep(current LeadStatus, score float64, t Thresholds) (LeadStatus, bool) {
	switch current {
	case StatusCold:
		if score >= t.Warm {
			return StatusWarm, true
		}
	case StatusWarm:
		if score >= t.Hot {
			return StatusHot, true
		}
		if score < t.Warm {
			return StatusCold, true
		}
	case StatusHot:
		if score < t.Warm {
			return StatusWarm, true
		}
	}
	return current, false
}

// Convert moves a lead to customer. This is the only path into the customer
// status; a score crossing the hot threshold never promotes on its own.
// Converting an already-converted lead is a no-op.
func Convert(current LeadStatus) (Transition, bool) {
	if current == StatusCustomer {
		return Transition{}, false
	}
	return Transition{From: current, To: StatusCustomer, Reason: ReasonConverted}, true
}

// Churn archives a lead after prolonged inactivity or an explicit manual
// action. Customers do not churn via the inactivity sweep.
func Churn(current LeadStatus, reason TransitionReason) (Transition, bool) {
	if current == StatusChurned || current == StatusCustomer {
		return Transition{}, false
	}
	if reason != ReasonInactivity && reason != ReasonManual {
		reason = ReasonManual
	}
	return Transition{From: current, To: StatusChurned, Reason: reason}, true
}

// Reenter moves a churned lead back to cold on new engagement. The score is
// not reset to zero; it resumes from its decayed value and the next score
// evaluation decides warm/hot from there.
func Reenter(current LeadStatus) (Transition, bool) {
	if current != StatusChurned {
		return Transition{}, false
	}
	return Transition{From: StatusChurned, To: StatusCold, Reason: ReasonReentry}, true
}
