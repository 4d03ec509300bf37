package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crisisengine/internal/crisiserr"
	"crisisengine/internal/models"
)

func TestCanTransitionHappyPath(t *testing.T) {
	path := []models.CaseStatus{
		models.StatusDetected,
		models.StatusUnderReview,
		models.StatusEscalated,
		models.StatusContactedUser,
		models.StatusEmergencyServicesCalled,
		models.StatusResolved,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestCanTransitionAssignmentFallback(t *testing.T) {
	// No reviewer picked the case up in time.
	assert.True(t, CanTransition(models.StatusDetected, models.StatusEscalated))
}

func TestCanTransitionRejectsBackward(t *testing.T) {
	assert.False(t, CanTransition(models.StatusEscalated, models.StatusUnderReview))
	assert.False(t, CanTransition(models.StatusContactedUser, models.StatusDetected))
	assert.False(t, CanTransition(models.StatusUnderReview, models.StatusContactedUser))
}

func TestTerminalStatesHaveNoExit(t *testing.T) {
	for _, terminal := range []models.CaseStatus{models.StatusResolved, models.StatusFalsePositive} {
		for _, to := range []models.CaseStatus{
			models.StatusDetected,
			models.StatusUnderReview,
			models.StatusEscalated,
			models.StatusContactedUser,
			models.StatusEmergencyServicesCalled,
			models.StatusResolved,
			models.StatusFalsePositive,
		} {
			assert.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}
}

func TestFalsePositiveReachableFromAllNonTerminal(t *testing.T) {
	for _, from := range []models.CaseStatus{
		models.StatusDetected,
		models.StatusUnderReview,
		models.StatusEscalated,
		models.StatusContactedUser,
		models.StatusEmergencyServicesCalled,
	} {
		assert.True(t, CanTransition(from, models.StatusFalsePositive), "from %s", from)
	}
}

func TestValidateTransitionError(t *testing.T) {
	err := ValidateTransition(models.StatusResolved, models.StatusEscalated)
	require.Error(t, err)
	assert.ErrorIs(t, err, crisiserr.ErrInvalidTransition)

	assert.NoError(t, ValidateTransition(models.StatusDetected, models.StatusUnderReview))
}

func TestReplayTransitionsValidLog(t *testing.T) {
	log := []*models.CaseTransition{
		{FromStatus: models.StatusDetected, ToStatus: models.StatusUnderReview},
		{FromStatus: models.StatusUnderReview, ToStatus: models.StatusEscalated},
		{FromStatus: models.StatusEscalated, ToStatus: models.StatusContactedUser},
		{FromStatus: models.StatusContactedUser, ToStatus: models.StatusResolved},
	}

	final, err := ReplayTransitions(log)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, final)
}

func TestReplayTransitionsDetectsGap(t *testing.T) {
	log := []*models.CaseTransition{
		{FromStatus: models.StatusDetected, ToStatus: models.StatusUnderReview},
		// Missing under_review -> escalated.
		{FromStatus: models.StatusEscalated, ToStatus: models.StatusContactedUser},
	}

	_, err := ReplayTransitions(log)
	assert.ErrorIs(t, err, crisiserr.ErrInvalidTransition)
}

func TestReplayTransitionsDetectsIllegalStep(t *testing.T) {
	log := []*models.CaseTransition{
		{FromStatus: models.StatusDetected, ToStatus: models.StatusContactedUser},
	}

	_, err := ReplayTransitions(log)
	assert.ErrorIs(t, err, crisiserr.ErrInvalidTransition)
}

func TestReplayTransitionsEmptyLog(t *testing.T) {
	final, err := ReplayTransitions(nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDetected, final)
}
