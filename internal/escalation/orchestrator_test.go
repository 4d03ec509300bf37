package escalation

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crisisengine/internal/audit"
	"crisisengine/internal/config"
	"crisisengine/internal/crisiserr"
	"crisisengine/internal/metrics"
	"crisisengine/internal/models"
	"crisisengine/internal/repository"
)

type memCases struct {
	mu          sync.Mutex
	cases       map[string]*models.EscalationCase
	transitions map[string][]*models.CaseTransition
}

func newMemCases() *memCases {
	return &memCases{
		cases:       make(map[string]*models.EscalationCase),
		transitions: make(map[string][]*models.CaseTransition),
	}
}

func (m *memCases) CreateCase(c *models.EscalationCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.cases {
		if existing.DetectionEventID == c.DetectionEventID && !existing.Status.Terminal() {
			return crisiserr.ErrDuplicateActiveCase
		}
	}
	c.CreatedAt = time.Now()
	clone := *c
	m.cases[c.ID] = &clone
	return nil
}

func (m *memCases) GetCaseByID(id string) (*models.EscalationCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, crisiserr.ErrCaseNotFound
	}
	clone := *c
	return &clone, nil
}

func (m *memCases) GetActiveCaseForEvent(eventID string) (*models.EscalationCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cases {
		if c.DetectionEventID == eventID && !c.Status.Terminal() {
			clone := *c
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memCases) ListCases(filter repository.CaseFilter) ([]*models.EscalationCase, error) {
	return nil, nil
}

func (m *memCases) ListActiveCases() ([]*models.EscalationCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.EscalationCase
	for _, c := range m.cases {
		if !c.Status.Terminal() {
			clone := *c
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memCases) AssignReviewer(caseID string, reviewerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[caseID]
	if !ok {
		return crisiserr.ErrCaseNotFound
	}
	c.AssignedReviewerID = &reviewerID
	return nil
}

func (m *memCases) TransitionCase(c *models.EscalationCase, to models.CaseStatus, actor string, justification *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.cases[c.ID]
	if !ok {
		return crisiserr.ErrCaseNotFound
	}
	if stored.Status != c.Status {
		return crisiserr.ErrInvalidTransition
	}
	m.transitions[c.ID] = append(m.transitions[c.ID], &models.CaseTransition{
		CaseID:     c.ID,
		FromStatus: stored.Status,
		ToStatus:   to,
		Actor:      actor,
	})
	now := time.Now()
	stored.Status = to
	if to == models.StatusEscalated && stored.FirstResponseAt == nil {
		stored.FirstResponseAt = &now
	}
	if to.Terminal() {
		stored.ResolvedAt = &now
		stored.UserSafe = c.UserSafe
		stored.Outcome = c.Outcome
	}
	c.Status = to
	return nil
}

func (m *memCases) RaiseLevel(caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cases[caseID]; ok {
		c.EscalationLevel++
	}
	return nil
}

func (m *memCases) IncrementContactAttempts(caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cases[caseID]; ok {
		c.ContactAttemptCount++
	}
	return nil
}

func (m *memCases) GetTransitions(caseID string) ([]*models.CaseTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitions[caseID], nil
}

func (m *memCases) GetCasesInWindow(from, to time.Time) ([]*models.EscalationCase, error) {
	return nil, nil
}

func (m *memCases) CountActive() (int, error) { return 0, nil }

type stubDetections struct {
	mu       sync.Mutex
	reviewed map[string]bool
}

func (s *stubDetections) SaveEvent(event *models.DetectionEvent) error { return nil }
func (s *stubDetections) GetEventByID(id string) (*models.DetectionEvent, error) {
	return &models.DetectionEvent{ID: id}, nil
}
func (s *stubDetections) MarkReviewed(id string, reviewerID int64, falsePositive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reviewed == nil {
		s.reviewed = make(map[string]bool)
	}
	s.reviewed[id] = falsePositive
	return nil
}
func (s *stubDetections) GetFlaggedForReview(limit int) ([]*models.DetectionEvent, error) {
	return nil, nil
}
func (s *stubDetections) GetEventsInWindow(from, to time.Time) ([]*models.DetectionEvent, error) {
	return nil, nil
}

type stubReviewers struct {
	available []*models.Reviewer
}

func (s *stubReviewers) GetReviewerByID(id int64) (*models.Reviewer, error) {
	for _, r := range s.available {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}
func (s *stubReviewers) GetReviewerByUsername(username string) (*models.Reviewer, error) {
	return nil, nil
}
func (s *stubReviewers) GetAvailableReviewers() ([]*models.Reviewer, error) {
	return s.available, nil
}
func (s *stubReviewers) AdjustOpenCaseCount(id int64, delta int) error   { return nil }
func (s *stubReviewers) RecordResponseTime(id int64, secs float64) error { return nil }

type stubPlans struct{}

func (s *stubPlans) GetPlanByUserID(userID int64) (*models.SafetyPlan, error) { return nil, nil }

type stubDispatcher struct {
	mu         sync.Mutex
	rounds     int
	succeed    bool
	alerts     []string
	roundsDone chan struct{}
}

func (s *stubDispatcher) DispatchRound(ctx context.Context, esc *models.EscalationCase, attemptSeq int) (bool, error) {
	s.mu.Lock()
	s.rounds++
	s.mu.Unlock()
	if s.roundsDone != nil {
		select {
		case s.roundsDone <- struct{}{}:
		default:
		}
	}
	return s.succeed, nil
}

func (s *stubDispatcher) AlertSupervisor(ctx context.Context, esc *models.EscalationCase, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, reason)
	return nil
}

type orchFixture struct {
	orch       *Orchestrator
	cases      *memCases
	detections *stubDetections
	reviewers  *stubReviewers
	dispatcher *stubDispatcher
}

func newFixture(t *testing.T, reviewers []*models.Reviewer) *orchFixture {
	t.Helper()
	metrics.Init(zap.NewNop())

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("escalation:\n  assignment_wait: 10ms\n  contact_retry_base: 5ms\n"), 0o600))
	store, err := config.NewStore(path, zap.NewNop())
	require.NoError(t, err)

	sink, err := audit.NewSink(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)

	f := &orchFixture{
		cases:      newMemCases(),
		detections: &stubDetections{},
		reviewers:  &stubReviewers{available: reviewers},
		dispatcher: &stubDispatcher{},
	}
	f.orch = NewOrchestrator(store, f.cases, f.detections, f.reviewers, &stubPlans{}, f.dispatcher, sink, zap.NewNop())
	return f
}

func seedCase(t *testing.T, f *orchFixture, status models.CaseStatus, severity models.Severity) *models.EscalationCase {
	t.Helper()
	esc := &models.EscalationCase{
		ID:               "case-1",
		DetectionEventID: "event-1",
		UserID:           7,
		Severity:         severity,
		Status:           models.StatusDetected,
		EscalationLevel:  1,
	}
	require.NoError(t, f.cases.CreateCase(esc))
	if status != models.StatusDetected {
		f.cases.mu.Lock()
		f.cases.cases[esc.ID].Status = status
		f.cases.mu.Unlock()
		esc.Status = status
	}
	return esc
}

func TestOpenCaseAssignsAvailableReviewer(t *testing.T) {
	f := newFixture(t, []*models.Reviewer{{ID: 1, Username: "oncall", Role: "reviewer", Available: true}})

	event := &models.DetectionEvent{ID: "event-1", UserID: 7, Severity: models.SeverityHigh}
	esc, err := f.orch.OpenCase(context.Background(), event)
	require.NoError(t, err)

	stored, err := f.cases.GetCaseByID(esc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderReview, stored.Status)
	require.NotNil(t, stored.AssignedReviewerID)
	assert.Equal(t, int64(1), *stored.AssignedReviewerID)
}

func TestOpenCaseDuplicateActiveEvent(t *testing.T) {
	f := newFixture(t, []*models.Reviewer{{ID: 1, Username: "oncall"}})

	event := &models.DetectionEvent{ID: "event-1", UserID: 7, Severity: models.SeverityHigh}
	_, err := f.orch.OpenCase(context.Background(), event)
	require.NoError(t, err)

	_, err = f.orch.OpenCase(context.Background(), event)
	assert.ErrorIs(t, err, crisiserr.ErrDuplicateActiveCase)
}

func TestOpenCaseNoReviewerFallsBackToEscalated(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.succeed = true

	event := &models.DetectionEvent{ID: "event-1", UserID: 7, Severity: models.SeverityHigh}
	esc, err := f.orch.OpenCase(context.Background(), event)
	require.NoError(t, err)

	// Assignment window is 10ms in the fixture; the fallback jumps
	// detected -> escalated without an intermediate review.
	require.Eventually(t, func() bool {
		stored, err := f.cases.GetCaseByID(esc.ID)
		return err == nil && stored.Status == models.StatusContactedUser
	}, time.Second, 5*time.Millisecond)

	log, err := f.cases.GetTransitions(esc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, log)
	assert.Equal(t, models.StatusDetected, log[0].FromStatus)
	assert.Equal(t, models.StatusEscalated, log[0].ToStatus)

	final, err := ReplayTransitions(log)
	require.NoError(t, err)
	assert.Equal(t, models.StatusContactedUser, final)
}

func TestReviewerTransitionResolveRequiresUserSafe(t *testing.T) {
	f := newFixture(t, nil)
	seedCase(t, f, models.StatusUnderReview, models.SeverityHigh)
	reviewer := &models.Reviewer{ID: 1, Username: "oncall"}

	_, err := f.orch.ReviewerTransition("case-1", reviewer, TransitionRequest{To: models.StatusResolved})
	assert.ErrorIs(t, err, crisiserr.ErrOutcomeRequired)

	safe := true
	outcome := "user confirmed safe by phone"
	esc, err := f.orch.ReviewerTransition("case-1", reviewer, TransitionRequest{
		To:       models.StatusResolved,
		UserSafe: &safe,
		Outcome:  &outcome,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, esc.Status)

	stored, err := f.cases.GetCaseByID("case-1")
	require.NoError(t, err)
	require.NotNil(t, stored.UserSafe)
	assert.True(t, *stored.UserSafe)
	assert.NotNil(t, stored.ResolvedAt)
}

func TestResolvedCaseRecordsConfirmedVerdict(t *testing.T) {
	f := newFixture(t, nil)
	seedCase(t, f, models.StatusUnderReview, models.SeverityCritical)
	reviewer := &models.Reviewer{ID: 4, Username: "oncall"}

	_, err := f.orch.ReviewerTransition("case-1", reviewer, TransitionRequest{To: models.StatusEscalated})
	require.NoError(t, err)
	_, err = f.orch.ReviewerTransition("case-1", reviewer, TransitionRequest{To: models.StatusContactedUser})
	require.NoError(t, err)

	safe := true
	_, err = f.orch.ReviewerTransition("case-1", reviewer, TransitionRequest{
		To:       models.StatusResolved,
		UserSafe: &safe,
	})
	require.NoError(t, err)

	// A resolved case is a confirmed crisis; the detection that opened
	// it must carry the reviewer's verdict or the analytics window
	// never sees a true positive.
	f.detections.mu.Lock()
	verdict, ok := f.detections.reviewed["event-1"]
	f.detections.mu.Unlock()
	require.True(t, ok)
	assert.False(t, verdict)
}

func TestReviewerTransitionEmergencyNeedsJustification(t *testing.T) {
	f := newFixture(t, nil)
	seedCase(t, f, models.StatusEscalated, models.SeverityHigh)
	reviewer := &models.Reviewer{ID: 1, Username: "oncall"}

	_, err := f.orch.ReviewerTransition("case-1", reviewer, TransitionRequest{To: models.StatusEmergencyServicesCalled})
	assert.ErrorIs(t, err, crisiserr.ErrInvalidInput)

	just := "user disclosed a concrete plan during call"
	esc, err := f.orch.ReviewerTransition("case-1", reviewer, TransitionRequest{
		To:            models.StatusEmergencyServicesCalled,
		Justification: &just,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusEmergencyServicesCalled, esc.Status)
}

func TestReviewerTransitionFalsePositiveMarksDetection(t *testing.T) {
	f := newFixture(t, nil)
	seedCase(t, f, models.StatusUnderReview, models.SeverityHigh)
	reviewer := &models.Reviewer{ID: 3, Username: "oncall"}

	esc, err := f.orch.ReviewerTransition("case-1", reviewer, TransitionRequest{To: models.StatusFalsePositive})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFalsePositive, esc.Status)

	f.detections.mu.Lock()
	defer f.detections.mu.Unlock()
	assert.True(t, f.detections.reviewed["event-1"])
}

func TestReviewerTransitionRejectsIllegalMove(t *testing.T) {
	f := newFixture(t, nil)
	seedCase(t, f, models.StatusUnderReview, models.SeverityHigh)
	reviewer := &models.Reviewer{ID: 1, Username: "oncall"}

	_, err := f.orch.ReviewerTransition("case-1", reviewer, TransitionRequest{To: models.StatusContactedUser})
	assert.ErrorIs(t, err, crisiserr.ErrInvalidTransition)
}

func TestCallEmergencyServicesRequiresImminent(t *testing.T) {
	f := newFixture(t, nil)
	esc := seedCase(t, f, models.StatusEscalated, models.SeverityHigh)

	err := f.orch.CallEmergencyServices(esc, "system retry budget exhausted")
	assert.ErrorIs(t, err, crisiserr.ErrInvalidTransition)
}

func TestCallEmergencyServicesImminent(t *testing.T) {
	f := newFixture(t, nil)
	esc := seedCase(t, f, models.StatusEscalated, models.SeverityImminent)

	require.NoError(t, f.orch.CallEmergencyServices(esc, "unreachable user"))
	stored, err := f.cases.GetCaseByID(esc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEmergencyServicesCalled, stored.Status)
}

func TestAssignRejectsTerminalCase(t *testing.T) {
	f := newFixture(t, []*models.Reviewer{{ID: 1, Username: "oncall"}})
	seedCase(t, f, models.StatusResolved, models.SeverityHigh)

	_, err := f.orch.Assign("case-1", 1)
	assert.ErrorIs(t, err, crisiserr.ErrInvalidTransition)
}

func TestAssignUnknownReviewer(t *testing.T) {
	f := newFixture(t, nil)
	seedCase(t, f, models.StatusDetected, models.SeverityHigh)

	_, err := f.orch.Assign("case-1", 99)
	assert.ErrorIs(t, err, crisiserr.ErrAssignmentFailure)
}

func TestAssignDetectedCaseEntersReview(t *testing.T) {
	f := newFixture(t, []*models.Reviewer{{ID: 5, Username: "lead", Role: "supervisor"}})
	seedCase(t, f, models.StatusDetected, models.SeverityHigh)

	esc, err := f.orch.Assign("case-1", 5)
	require.NoError(t, err)
	require.NotNil(t, esc.AssignedReviewerID)
	assert.Equal(t, int64(5), *esc.AssignedReviewerID)

	stored, err := f.cases.GetCaseByID("case-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderReview, stored.Status)
}

func TestContactRetriesExhaustAndAlert(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.succeed = false
	esc := seedCase(t, f, models.StatusEscalated, models.SeverityHigh)

	f.orch.scheduleContactRound(esc, 1, 0)

	// Three attempts at 5ms base retry, then the budget is exhausted and
	// the supervisor alert fires.
	require.Eventually(t, func() bool {
		f.dispatcher.mu.Lock()
		defer f.dispatcher.mu.Unlock()
		return len(f.dispatcher.alerts) > 0
	}, time.Second, 5*time.Millisecond)

	f.dispatcher.mu.Lock()
	defer f.dispatcher.mu.Unlock()
	assert.Equal(t, 3, f.dispatcher.rounds)
	assert.Contains(t, f.dispatcher.alerts, "contact attempts exhausted")

	stored, err := f.cases.GetCaseByID(esc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.EscalationLevel)
}

func TestContactSuccessPromotesCase(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.succeed = true
	esc := seedCase(t, f, models.StatusEscalated, models.SeverityHigh)

	f.orch.scheduleContactRound(esc, 1, 0)

	require.Eventually(t, func() bool {
		stored, err := f.cases.GetCaseByID(esc.ID)
		return err == nil && stored.Status == models.StatusContactedUser
	}, time.Second, 5*time.Millisecond)
}

func TestRecordContactSuccessOnlyFromEscalated(t *testing.T) {
	f := newFixture(t, nil)
	seedCase(t, f, models.StatusUnderReview, models.SeverityHigh)

	err := f.orch.RecordContactSuccess("case-1", "oncall")
	assert.ErrorIs(t, err, crisiserr.ErrInvalidTransition)
}
