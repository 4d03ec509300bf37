package escalation

import (
	"fmt"

	"crisisengine/internal/crisiserr"
	"crisisengine/internal/models"
)

// allowedTransitions is the full transition set of the case lifecycle:
//
//	detected -> under_review -> escalated -> contacted_user -> emergency_services_called -> resolved
//
// detected may jump straight to escalated when no reviewer picks the
// case up within the assignment wait. resolved is reachable from any
// non-terminal state (reviewer closes the case with an outcome), and
// false_positive is reachable from any non-terminal state on reviewer
// override.
var allowedTransitions = map[models.CaseStatus][]models.CaseStatus{
	models.StatusDetected: {
		models.StatusUnderReview,
		models.StatusEscalated,
		models.StatusResolved,
		models.StatusFalsePositive,
	},
	models.StatusUnderReview: {
		models.StatusEscalated,
		models.StatusResolved,
		models.StatusFalsePositive,
	},
	models.StatusEscalated: {
		models.StatusContactedUser,
		models.StatusEmergencyServicesCalled,
		models.StatusResolved,
		models.StatusFalsePositive,
	},
	models.StatusContactedUser: {
		models.StatusEmergencyServicesCalled,
		models.StatusResolved,
		models.StatusFalsePositive,
	},
	models.StatusEmergencyServicesCalled: {
		models.StatusResolved,
		models.StatusFalsePositive,
	},
	models.StatusResolved:      {},
	models.StatusFalsePositive: {},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to models.CaseStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition for illegal moves.
func ValidateTransition(from, to models.CaseStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", crisiserr.ErrInvalidTransition, from, to)
	}
	return nil
}

// ReplayTransitions walks a case's transition log from the initial
// detected state and verifies every recorded step is legal and
// contiguous. Returns the final state.
func ReplayTransitions(log []*models.CaseTransition) (models.CaseStatus, error) {
	state := models.StatusDetected
	for i, t := range log {
		if t.FromStatus != state {
			return state, fmt.Errorf("%w: log entry %d starts at %s, case is at %s",
				crisiserr.ErrInvalidTransition, i, t.FromStatus, state)
		}
		if err := ValidateTransition(t.FromStatus, t.ToStatus); err != nil {
			return state, err
		}
		state = t.ToStatus
	}
	return state, nil
}
