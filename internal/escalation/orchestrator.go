// Package escalation owns the response lifecycle of a detection: the
// case state machine, reviewer assignment, SLA timeouts, contact retry
// policy and the terminal bookkeeping. All slow work (notification
// delivery) happens on background goroutines; the ingestion path only
// ever pays for creating the case row.
package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crisisengine/internal/audit"
	"crisisengine/internal/config"
	"crisisengine/internal/crisiserr"
	"crisisengine/internal/metrics"
	"crisisengine/internal/models"
	"crisisengine/internal/repository"
)

const systemActor = "system"

// Dispatcher sends one round of notifications for a case. Implemented
// by the dispatcher package; declared here so the orchestrator owns the
// retry policy without importing delivery code.
type Dispatcher interface {
	// DispatchRound attempts every configured channel once for the
	// given attempt sequence. Returns true when at least one channel
	// succeeded.
	DispatchRound(ctx context.Context, esc *models.EscalationCase, attemptSeq int) (bool, error)
	// AlertSupervisor raises an out-of-band staff alert.
	AlertSupervisor(ctx context.Context, esc *models.EscalationCase, reason string) error
}

// Orchestrator drives cases through the state machine.
type Orchestrator struct {
	cfg        *config.Store
	cases      repository.EscalationRepository
	detections repository.DetectionRepository
	reviewers  repository.ReviewerRepository
	plans      repository.SafetyPlanRepository
	dispatcher Dispatcher
	auditSink  *audit.Sink
	logger     *zap.Logger
	timers     *timerSet

	// baseCtx bounds all background work. Start replaces it while
	// timer callbacks read it, so access goes through runCtx.
	ctxMu   sync.Mutex
	baseCtx context.Context
}

func NewOrchestrator(
	cfg *config.Store,
	cases repository.EscalationRepository,
	detections repository.DetectionRepository,
	reviewers repository.ReviewerRepository,
	plans repository.SafetyPlanRepository,
	dispatcher Dispatcher,
	auditSink *audit.Sink,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		cases:      cases,
		detections: detections,
		reviewers:  reviewers,
		plans:      plans,
		dispatcher: dispatcher,
		auditSink:  auditSink,
		logger:     logger,
		timers:     newTimerSet(),
		baseCtx:    context.Background(),
	}
}

// Start recovers in-flight cases after a restart: under_review cases
// get their SLA timer rearmed, escalated cases resume contact rounds.
// Blocks until ctx is done, then cancels all pending timers.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctxMu.Lock()
	o.baseCtx = ctx
	o.ctxMu.Unlock()

	active, err := o.cases.ListActiveCases()
	if err != nil {
		o.logger.Error("Failed to recover active cases", zap.Error(err))
	} else {
		for _, c := range active {
			switch c.Status {
			case models.StatusDetected:
				o.beginReview(c)
			case models.StatusUnderReview:
				o.armReviewSLA(c)
			case models.StatusEscalated:
				o.scheduleContactRound(c, c.ContactAttemptCount+1, 0)
			}
		}
		o.logger.Info("Recovered active escalation cases", zap.Int("count", len(active)))
	}

	<-ctx.Done()
	o.timers.CancelAll()
	o.logger.Info("Escalation orchestrator stopped.")
}

// runCtx is the context bounding background dispatch work.
func (o *Orchestrator) runCtx() context.Context {
	o.ctxMu.Lock()
	defer o.ctxMu.Unlock()
	return o.baseCtx
}

// OpenCase creates the case for a qualifying detection event and kicks
// off review assignment. Called synchronously by the recorder so the
// case row exists before the ingestion call returns.
func (o *Orchestrator) OpenCase(ctx context.Context, event *models.DetectionEvent) (*models.EscalationCase, error) {
	esc := &models.EscalationCase{
		ID:               uuid.NewString(),
		DetectionEventID: event.ID,
		UserID:           event.UserID,
		Severity:         event.Severity,
		Status:           models.StatusDetected,
		EscalationLevel:  1,
	}

	if plan, err := o.plans.GetPlanByUserID(event.UserID); err != nil {
		o.logger.Warn("Safety plan lookup failed", zap.Int64("user_id", event.UserID), zap.Error(err))
	} else if plan != nil {
		esc.SafetyPlanID = &plan.ID
	}

	if err := o.cases.CreateCase(esc); err != nil {
		if err == crisiserr.ErrDuplicateActiveCase {
			o.logger.Warn("Active case already exists for event",
				zap.String("event_id", event.ID))
			return nil, err
		}
		return nil, err
	}

	metrics.CasesActive.Inc()
	o.logger.Info("Escalation case opened",
		zap.String("case_id", esc.ID),
		zap.String("event_id", event.ID),
		zap.String("severity", string(esc.Severity)))

	o.beginReview(esc)
	return esc, nil
}

// beginReview moves a detected case forward: assign the least-loaded
// available reviewer and enter under_review, or wait the configured
// assignment window and, if still nobody, jump straight to escalated
// so the case is never left sitting unclaimed.
func (o *Orchestrator) beginReview(esc *models.EscalationCase) {
	if o.tryAssign(esc) {
		return
	}

	wait := o.cfg.Current().Escalation.AssignmentWait.Std()
	o.logger.Warn("No reviewer available, scheduling assignment fallback",
		zap.String("case_id", esc.ID),
		zap.Duration("wait", wait))
	o.timers.After(esc.ID, wait, func() {
		current, err := o.cases.GetCaseByID(esc.ID)
		if err != nil || current.Status != models.StatusDetected {
			return
		}
		if o.tryAssign(current) {
			return
		}
		o.logger.Warn("Assignment window expired, escalating directly",
			zap.String("case_id", current.ID))
		o.transition(current, models.StatusEscalated, systemActor, strptr("no reviewer available within assignment window"))
	})
}

func (o *Orchestrator) tryAssign(esc *models.EscalationCase) bool {
	available, err := o.reviewers.GetAvailableReviewers()
	if err != nil {
		o.logger.Error("Reviewer lookup failed", zap.Error(err))
		return false
	}
	if len(available) == 0 {
		return false
	}

	reviewer := available[0]
	if err := o.cases.AssignReviewer(esc.ID, reviewer.ID); err != nil {
		o.logger.Error("Reviewer assignment failed",
			zap.String("case_id", esc.ID), zap.Error(err))
		return false
	}
	if err := o.reviewers.AdjustOpenCaseCount(reviewer.ID, 1); err != nil {
		o.logger.Warn("Failed to bump reviewer caseload", zap.Int64("reviewer_id", reviewer.ID), zap.Error(err))
	}
	esc.AssignedReviewerID = &reviewer.ID

	o.transition(esc, models.StatusUnderReview, systemActor, nil)
	return true
}

// armReviewSLA schedules the automatic under_review -> escalated
// transition for when the reviewer does not respond in time.
func (o *Orchestrator) armReviewSLA(esc *models.EscalationCase) {
	cfg := o.cfg.Current()
	sla := cfg.Escalation.ReviewSLADefault.Std()
	if esc.Severity == models.SeverityCritical || esc.Severity == models.SeverityImminent {
		sla = cfg.Escalation.ReviewSLACritical.Std()
	}
	o.timers.After(esc.ID, sla, func() {
		current, err := o.cases.GetCaseByID(esc.ID)
		if err != nil || current.Status != models.StatusUnderReview {
			return
		}
		metrics.SLABreaches.WithLabelValues(string(current.Severity)).Inc()
		o.logger.Warn("Review SLA expired, auto-escalating",
			zap.String("case_id", current.ID),
			zap.Duration("sla", sla))
		o.transition(current, models.StatusEscalated, systemActor, strptr("review SLA expired"))
	})
}

// ConfirmRisk is the reviewer's explicit under_review -> escalated move.
func (o *Orchestrator) ConfirmRisk(caseID string, reviewer *models.Reviewer, justification *string) (*models.EscalationCase, error) {
	esc, err := o.cases.GetCaseByID(caseID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(esc.Status, models.StatusEscalated); err != nil {
		return nil, err
	}
	if err := o.transitionErr(esc, models.StatusEscalated, reviewer.Username, justification); err != nil {
		return nil, err
	}
	return esc, nil
}

// Assign reassigns a case to a specific reviewer (manual override from
// the reviewer API).
func (o *Orchestrator) Assign(caseID string, reviewerID int64) (*models.EscalationCase, error) {
	esc, err := o.cases.GetCaseByID(caseID)
	if err != nil {
		return nil, err
	}
	if esc.Status.Terminal() {
		return nil, crisiserr.ErrInvalidTransition
	}
	reviewer, err := o.reviewers.GetReviewerByID(reviewerID)
	if err != nil {
		return nil, err
	}
	if reviewer == nil {
		return nil, crisiserr.ErrAssignmentFailure
	}
	if prev := esc.AssignedReviewerID; prev != nil && *prev != reviewerID {
		if err := o.reviewers.AdjustOpenCaseCount(*prev, -1); err != nil {
			o.logger.Warn("Failed to drop previous reviewer caseload", zap.Error(err))
		}
	}
	if err := o.cases.AssignReviewer(caseID, reviewerID); err != nil {
		return nil, err
	}
	if err := o.reviewers.AdjustOpenCaseCount(reviewerID, 1); err != nil {
		o.logger.Warn("Failed to bump reviewer caseload", zap.Error(err))
	}
	esc.AssignedReviewerID = &reviewerID

	if esc.Status == models.StatusDetected {
		o.timers.Cancel(esc.ID)
		o.transition(esc, models.StatusUnderReview, reviewer.Username, nil)
	}
	return esc, nil
}

// TransitionRequest carries a reviewer-driven state change.
type TransitionRequest struct {
	To            models.CaseStatus
	UserSafe      *bool
	Outcome       *string
	Justification *string
}

// ReviewerTransition applies a reviewer's requested move, enforcing
// the policy constraints the state machine alone cannot express.
func (o *Orchestrator) ReviewerTransition(caseID string, reviewer *models.Reviewer, req TransitionRequest) (*models.EscalationCase, error) {
	esc, err := o.cases.GetCaseByID(caseID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(esc.Status, req.To); err != nil {
		return nil, err
	}

	switch req.To {
	case models.StatusResolved:
		if req.UserSafe == nil {
			return nil, crisiserr.ErrOutcomeRequired
		}
		esc.UserSafe = req.UserSafe
		esc.Outcome = req.Outcome
	case models.StatusEmergencyServicesCalled:
		// Reviewer override is allowed at any severity, but it must
		// carry a justification; the system itself only goes here for
		// imminent cases.
		if req.Justification == nil || *req.Justification == "" {
			return nil, crisiserr.ErrInvalidInput
		}
	}

	if err := o.transitionErr(esc, req.To, reviewer.Username, req.Justification); err != nil {
		return nil, err
	}

	// Terminal reviewer verdicts close the feedback loop: the detection
	// that opened the case gets the reviewer's outcome, which is what
	// the analytics window counts as a confirmed or dismissed crisis.
	switch req.To {
	case models.StatusFalsePositive:
		if err := o.detections.MarkReviewed(esc.DetectionEventID, reviewer.ID, true); err != nil {
			o.logger.Error("Failed to mark detection as false positive",
				zap.String("event_id", esc.DetectionEventID), zap.Error(err))
		}
	case models.StatusResolved:
		if err := o.detections.MarkReviewed(esc.DetectionEventID, reviewer.ID, false); err != nil {
			o.logger.Error("Failed to mark detection as confirmed",
				zap.String("event_id", esc.DetectionEventID), zap.Error(err))
		}
		if req.UserSafe != nil && !*req.UserSafe {
			o.auditSink.SupervisorAlert(esc.ID, "case resolved with user_safe=false")
		}
	}

	return esc, nil
}

// CallEmergencyServices is the system path into
// emergency_services_called, permitted only for imminent severity.
func (o *Orchestrator) CallEmergencyServices(esc *models.EscalationCase, justification string) error {
	if esc.Severity != models.SeverityImminent {
		return crisiserr.ErrInvalidTransition
	}
	return o.transitionErr(esc, models.StatusEmergencyServicesCalled, systemActor, &justification)
}

// transition applies a system-driven move, logging rather than
// returning failures: timer callbacks have nobody to report to.
func (o *Orchestrator) transition(esc *models.EscalationCase, to models.CaseStatus, actor string, justification *string) {
	if err := o.transitionErr(esc, to, actor, justification); err != nil {
		o.logger.Error("Case transition failed",
			zap.String("case_id", esc.ID),
			zap.String("to", string(to)),
			zap.Error(err))
	}
}

// transitionErr performs the persisted transition plus every side
// effect tied to entering the target state.
func (o *Orchestrator) transitionErr(esc *models.EscalationCase, to models.CaseStatus, actor string, justification *string) error {
	from := esc.Status
	if err := ValidateTransition(from, to); err != nil {
		return err
	}
	if err := o.cases.TransitionCase(esc, to, actor, justification); err != nil {
		return err
	}

	metrics.CaseTransitions.WithLabelValues(string(to)).Inc()
	just := ""
	if justification != nil {
		just = *justification
	}
	o.auditSink.CaseTransition(esc.ID, string(from), string(to), actor, just)
	o.logger.Info("Case transitioned",
		zap.String("case_id", esc.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor))

	switch to {
	case models.StatusUnderReview:
		o.armReviewSLA(esc)

	case models.StatusEscalated:
		if rt := esc.ResponseTime(); rt != nil {
			metrics.ResponseTime.Observe(rt.Seconds())
			if esc.AssignedReviewerID != nil {
				if err := o.reviewers.RecordResponseTime(*esc.AssignedReviewerID, rt.Seconds()); err != nil {
					o.logger.Warn("Failed to record reviewer response time", zap.Error(err))
				}
			}
		}
		o.scheduleContactRound(esc, esc.ContactAttemptCount+1, 0)

	case models.StatusResolved, models.StatusFalsePositive:
		o.timers.Cancel(esc.ID)
		metrics.CasesActive.Dec()
		if rt := esc.ResolutionTime(); rt != nil {
			metrics.ResolutionTime.Observe(rt.Seconds())
		}
		if esc.AssignedReviewerID != nil {
			if err := o.reviewers.AdjustOpenCaseCount(*esc.AssignedReviewerID, -1); err != nil {
				o.logger.Warn("Failed to drop reviewer caseload", zap.Error(err))
			}
		}
	}

	return nil
}

// scheduleContactRound runs one dispatch round after delay, then either
// records the success transition or schedules the next round with an
// increased delay. Exhausting the attempt budget raises the escalation
// level and alerts a supervisor instead of failing silently.
func (o *Orchestrator) scheduleContactRound(esc *models.EscalationCase, attemptSeq int, delay time.Duration) {
	cfg := o.cfg.Current()
	maxAttempts := cfg.Escalation.MaxContactAttempts

	if attemptSeq > maxAttempts {
		o.exhaustAttempts(esc)
		return
	}

	run := func() {
		current, err := o.cases.GetCaseByID(esc.ID)
		if err != nil {
			o.logger.Error("Contact round aborted, case load failed",
				zap.String("case_id", esc.ID), zap.Error(err))
			return
		}
		if current.Status != models.StatusEscalated {
			// Reviewer resolved or contacted the user through another
			// path while we waited; pending rounds are moot.
			return
		}

		success, err := o.dispatcher.DispatchRound(o.runCtx(), current, attemptSeq)
		if err != nil {
			o.logger.Error("Dispatch round errored",
				zap.String("case_id", current.ID),
				zap.Int("attempt", attemptSeq),
				zap.Error(err))
		}
		if err := o.cases.IncrementContactAttempts(current.ID); err != nil {
			o.logger.Warn("Failed to record contact attempt count", zap.Error(err))
		}
		current.ContactAttemptCount++

		if success {
			o.transition(current, models.StatusContactedUser, systemActor, nil)
			return
		}

		metrics.DispatchFailures.WithLabelValues(string(current.Severity)).Inc()
		next := cfg.Escalation.ContactRetryBase.Std() * time.Duration(attemptSeq)
		o.scheduleContactRound(current, attemptSeq+1, next)
	}

	if delay <= 0 {
		go run()
		return
	}
	o.timers.After(esc.ID, delay, run)
}

// exhaustAttempts handles a case nothing could reach: level bump,
// supervisor alert, and for imminent severity the emergency services
// path.
func (o *Orchestrator) exhaustAttempts(esc *models.EscalationCase) {
	o.logger.Error("Contact attempt budget exhausted",
		zap.String("case_id", esc.ID),
		zap.Int("attempts", esc.ContactAttemptCount))

	if err := o.cases.RaiseLevel(esc.ID); err != nil {
		o.logger.Error("Failed to raise escalation level", zap.Error(err))
	} else {
		esc.EscalationLevel++
	}

	o.auditSink.SupervisorAlert(esc.ID, "contact attempts exhausted")
	if err := o.dispatcher.AlertSupervisor(o.runCtx(), esc, "contact attempts exhausted"); err != nil {
		o.logger.Error("Supervisor alert failed", zap.String("case_id", esc.ID), zap.Error(err))
	}

	if esc.Severity == models.SeverityImminent {
		if err := o.CallEmergencyServices(esc, "unreachable user with imminent-severity detection"); err != nil {
			o.logger.Error("Emergency services transition failed",
				zap.String("case_id", esc.ID), zap.Error(err))
		}
	}
}

// RecordContactSuccess lets the dispatcher (or a manual reviewer entry)
// promote an escalated case after an out-of-band successful contact.
func (o *Orchestrator) RecordContactSuccess(caseID string, actor string) error {
	esc, err := o.cases.GetCaseByID(caseID)
	if err != nil {
		return err
	}
	if esc.Status != models.StatusEscalated {
		return crisiserr.ErrInvalidTransition
	}
	return o.transitionErr(esc, models.StatusContactedUser, actor, nil)
}

func strptr(s string) *string { return &s }
