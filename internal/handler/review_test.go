package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crisisengine/internal/crypto"
	"crisisengine/internal/models"
)

type stubDetections struct {
	events   map[string]*models.DetectionEvent
	reviewed map[string]bool
	byWhom   map[string]int64
}

func newStubDetections() *stubDetections {
	return &stubDetections{
		events:   make(map[string]*models.DetectionEvent),
		reviewed: make(map[string]bool),
		byWhom:   make(map[string]int64),
	}
}

func (s *stubDetections) SaveEvent(event *models.DetectionEvent) error {
	s.events[event.ID] = event
	return nil
}

func (s *stubDetections) GetEventByID(id string) (*models.DetectionEvent, error) {
	return s.events[id], nil
}

func (s *stubDetections) MarkReviewed(id string, reviewerID int64, falsePositive bool) error {
	s.reviewed[id] = falsePositive
	s.byWhom[id] = reviewerID
	now := time.Now()
	if e, ok := s.events[id]; ok {
		e.ReviewedAt = &now
	}
	return nil
}

func (s *stubDetections) GetFlaggedForReview(limit int) ([]*models.DetectionEvent, error) {
	var flagged []*models.DetectionEvent
	for _, e := range s.events {
		if e.FlaggedForReview && e.ReviewedAt == nil {
			flagged = append(flagged, e)
		}
		if len(flagged) == limit {
			break
		}
	}
	return flagged, nil
}

func (s *stubDetections) GetEventsInWindow(from, to time.Time) ([]*models.DetectionEvent, error) {
	return nil, nil
}

func newReviewRouter(t *testing.T, detections *stubDetections) (*gin.Engine, *crypto.ExcerptCipher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cipher, err := crypto.NewExcerptCipherWithKey(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	h := &caseHandler{
		detections: detections,
		cipher:     cipher,
		logger:     zap.NewNop(),
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("reviewer_id", int64(5))
		c.Set("username", "oncall")
	})
	r.GET("/detections/flagged", h.ReviewQueue)
	r.POST("/detections/:id/review", h.ReviewDetection)
	return r, cipher
}

func TestReviewQueueListsFlaggedWithExcerpt(t *testing.T) {
	detections := newStubDetections()
	r, cipher := newReviewRouter(t, detections)

	encrypted, err := cipher.Encrypt("i feel hopeless lately")
	require.NoError(t, err)
	require.NoError(t, detections.SaveEvent(&models.DetectionEvent{
		ID:               "event-1",
		UserID:           7,
		Severity:         models.SeverityModerate,
		ExcerptEncrypted: encrypted,
		FlaggedForReview: true,
	}))
	require.NoError(t, detections.SaveEvent(&models.DetectionEvent{
		ID:       "event-2",
		UserID:   8,
		Severity: models.SeverityLow,
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/detections/flagged", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Detections []*FlaggedDetection `json:"detections"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Detections, 1)
	assert.Equal(t, "event-1", body.Detections[0].Event.ID)
	assert.Equal(t, "i feel hopeless lately", body.Detections[0].Excerpt)
}

func TestReviewDetectionRecordsVerdict(t *testing.T) {
	detections := newStubDetections()
	r, _ := newReviewRouter(t, detections)
	require.NoError(t, detections.SaveEvent(&models.DetectionEvent{
		ID:               "event-1",
		FlaggedForReview: true,
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/detections/event-1/review",
		bytes.NewBufferString(`{"false_positive": false}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	verdict, ok := detections.reviewed["event-1"]
	require.True(t, ok)
	assert.False(t, verdict)
	assert.Equal(t, int64(5), detections.byWhom["event-1"])
}

func TestReviewDetectionRejectsSecondVerdict(t *testing.T) {
	detections := newStubDetections()
	r, _ := newReviewRouter(t, detections)
	now := time.Now()
	require.NoError(t, detections.SaveEvent(&models.DetectionEvent{
		ID:         "event-1",
		ReviewedAt: &now,
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/detections/event-1/review",
		bytes.NewBufferString(`{"false_positive": true}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReviewDetectionUnknownEvent(t *testing.T) {
	detections := newStubDetections()
	r, _ := newReviewRouter(t, detections)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/detections/missing/review",
		bytes.NewBufferString(`{"false_positive": true}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReviewDetectionRequiresVerdict(t *testing.T) {
	detections := newStubDetections()
	r, _ := newReviewRouter(t, detections)
	require.NoError(t, detections.SaveEvent(&models.DetectionEvent{ID: "event-1"}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/detections/event-1/review",
		bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
