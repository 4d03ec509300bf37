package dispatcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crisisengine/internal/audit"
	"crisisengine/internal/channels"
	"crisisengine/internal/config"
	"crisisengine/internal/crisiserr"
	"crisisengine/internal/metrics"
	"crisisengine/internal/models"
)

type fakeChannel struct {
	name  string
	err   error
	sends int
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, recipient string, msg channels.Message) (string, error) {
	f.sends++
	if f.err != nil {
		return "", f.err
	}
	return models.DeliverySent, nil
}

type attemptKey struct {
	caseID  string
	seq     int
	channel string
}

type memContacts struct {
	attempts map[attemptKey]*models.ContactAttempt
}

func newMemContacts() *memContacts {
	return &memContacts{attempts: make(map[attemptKey]*models.ContactAttempt)}
}

func (m *memContacts) ClaimAttempt(attempt *models.ContactAttempt) (bool, error) {
	key := attemptKey{attempt.CaseID, attempt.AttemptSeq, attempt.Channel}
	if _, exists := m.attempts[key]; exists {
		return false, nil
	}
	attempt.Status = models.DeliveryPending
	attempt.AttemptedAt = time.Now()
	m.attempts[key] = attempt
	return true, nil
}

func (m *memContacts) UpdateStatus(id string, status string, success bool, responseBody *string) error {
	for _, a := range m.attempts {
		if a.ID == id {
			a.Status = status
			a.Success = success
			a.ResponseBody = responseBody
			return nil
		}
	}
	return errors.New("attempt not found")
}

func (m *memContacts) GetAttemptsByCase(caseID string) ([]*models.ContactAttempt, error) {
	var out []*models.ContactAttempt
	for _, a := range m.attempts {
		if a.CaseID == caseID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memContacts) GetAttempt(caseID string, attemptSeq int, channel string) (*models.ContactAttempt, error) {
	return m.attempts[attemptKey{caseID, attemptSeq, channel}], nil
}

type stubDetections struct {
	event *models.DetectionEvent
}

func (s *stubDetections) SaveEvent(event *models.DetectionEvent) error { return nil }
func (s *stubDetections) GetEventByID(id string) (*models.DetectionEvent, error) {
	return s.event, nil
}
func (s *stubDetections) MarkReviewed(id string, reviewerID int64, falsePositive bool) error {
	return nil
}
func (s *stubDetections) GetFlaggedForReview(limit int) ([]*models.DetectionEvent, error) {
	return nil, nil
}
func (s *stubDetections) GetEventsInWindow(from, to time.Time) ([]*models.DetectionEvent, error) {
	return nil, nil
}

type stubResources struct {
	resources []*models.CrisisResource
}

func (s *stubResources) GetResources(crisisType, locale string) ([]*models.CrisisResource, error) {
	return s.resources, nil
}

func testStore(t *testing.T) *config.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o600))
	store, err := config.NewStore(path, zap.NewNop())
	require.NoError(t, err)
	return store
}

func testSink(t *testing.T) *audit.Sink {
	t.Helper()
	sink, err := audit.NewSink(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)
	return sink
}

func testCase() *models.EscalationCase {
	return &models.EscalationCase{
		ID:               "case-1",
		DetectionEventID: "event-1",
		UserID:           7,
		Severity:         models.SeverityCritical,
		Status:           models.StatusEscalated,
	}
}

func newTestDispatcher(t *testing.T, contacts *memContacts, userChans []channels.Channel, staff channels.Channel) *Dispatcher {
	t.Helper()
	metrics.Init(zap.NewNop())
	detections := &stubDetections{event: &models.DetectionEvent{
		ID:       "event-1",
		UserID:   7,
		Category: models.CategorySuicidalIdeation,
	}}
	resources := &stubResources{resources: []*models.CrisisResource{
		{Name: "Crisis Hotline", Phone: "988"},
	}}
	return New(testStore(t), userChans, staff, contacts, detections, resources, testSink(t), zap.NewNop())
}

func TestDispatchRoundRecordsAttemptPerChannel(t *testing.T) {
	contacts := newMemContacts()
	push := &fakeChannel{name: "push"}
	sms := &fakeChannel{name: "sms"}
	d := newTestDispatcher(t, contacts, []channels.Channel{push, sms}, nil)

	ok, err := d.DispatchRound(context.Background(), testCase(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, push.sends)
	assert.Equal(t, 1, sms.sends)

	attempts, err := contacts.GetAttemptsByCase("case-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	for _, a := range attempts {
		assert.True(t, a.Success)
		assert.Equal(t, models.DeliverySent, a.Status)
		assert.Equal(t, "user:7", a.Recipient)
	}
}

func TestDispatchRoundIdempotentOnRetry(t *testing.T) {
	contacts := newMemContacts()
	push := &fakeChannel{name: "push"}
	d := newTestDispatcher(t, contacts, []channels.Channel{push}, nil)

	esc := testCase()
	ok, err := d.DispatchRound(context.Background(), esc, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	// Same attempt sequence again: the slot exists and succeeded, so no
	// second send goes out but the round still reports success.
	ok, err = d.DispatchRound(context.Background(), esc, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, push.sends)
}

func TestDispatchRoundNewSequenceSendsAgain(t *testing.T) {
	contacts := newMemContacts()
	push := &fakeChannel{name: "push"}
	d := newTestDispatcher(t, contacts, []channels.Channel{push}, nil)

	esc := testCase()
	_, err := d.DispatchRound(context.Background(), esc, 1)
	require.NoError(t, err)
	_, err = d.DispatchRound(context.Background(), esc, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, push.sends)
}

func TestDispatchRoundPartialFailure(t *testing.T) {
	contacts := newMemContacts()
	push := &fakeChannel{name: "push", err: errors.New("gateway down")}
	sms := &fakeChannel{name: "sms"}
	d := newTestDispatcher(t, contacts, []channels.Channel{push, sms}, nil)

	ok, err := d.DispatchRound(context.Background(), testCase(), 1)
	require.NoError(t, err)
	assert.True(t, ok)

	failed, err := contacts.GetAttempt("case-1", 1, "push")
	require.NoError(t, err)
	require.NotNil(t, failed)
	assert.False(t, failed.Success)
	assert.Equal(t, models.DeliveryFailed, failed.Status)
}

func TestDispatchRoundAllChannelsFail(t *testing.T) {
	contacts := newMemContacts()
	push := &fakeChannel{name: "push", err: errors.New("gateway down")}
	d := newTestDispatcher(t, contacts, []channels.Channel{push}, nil)

	ok, err := d.DispatchRound(context.Background(), testCase(), 1)
	assert.ErrorIs(t, err, crisiserr.ErrDeliveryFailure)
	assert.False(t, ok)
}

func TestDispatchRoundRetryAfterFailureResends(t *testing.T) {
	contacts := newMemContacts()
	push := &fakeChannel{name: "push", err: errors.New("gateway down")}
	d := newTestDispatcher(t, contacts, []channels.Channel{push}, nil)

	esc := testCase()
	ok, err := d.DispatchRound(context.Background(), esc, 1)
	assert.ErrorIs(t, err, crisiserr.ErrDeliveryFailure)
	assert.False(t, ok)

	// The claim from the failed run still holds its slot; a rerun of the
	// same sequence honors the recorded failure rather than resending.
	push.err = nil
	ok, err = d.DispatchRound(context.Background(), esc, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, push.sends)

	// The next sequence gets a fresh slot and goes through.
	ok, err = d.DispatchRound(context.Background(), esc, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAlertSupervisorUsesStaffChannel(t *testing.T) {
	contacts := newMemContacts()
	staff := &fakeChannel{name: "telegram"}
	d := newTestDispatcher(t, contacts, nil, staff)

	err := d.AlertSupervisor(context.Background(), testCase(), "contact attempts exhausted")
	require.NoError(t, err)
	assert.Equal(t, 1, staff.sends)
}

func TestAlertSupervisorNoStaffChannel(t *testing.T) {
	contacts := newMemContacts()
	d := newTestDispatcher(t, contacts, nil, nil)

	assert.ErrorIs(t, d.AlertSupervisor(context.Background(), testCase(), "anything"), crisiserr.ErrChannelNotFound)
}
