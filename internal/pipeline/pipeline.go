// Package pipeline is the synchronous scoring path: validate, extract,
// score, record, all within the configured time budget. Submissions
// for the same user are serialized onto one worker so their detections
// are processed in submission order; different users run in parallel
// across the pool.
package pipeline

import (
	"context"
	"hash/fnv"
	"time"

	"go.uber.org/zap"

	"crisisengine/internal/config"
	"crisisengine/internal/crisiserr"
	"crisisengine/internal/detector"
	"crisisengine/internal/metrics"
	"crisisengine/internal/models"
	"crisisengine/internal/recorder"
	"crisisengine/internal/rules"
	"crisisengine/internal/scorer"
)

// Result is what the ingestion caller gets back.
type Result struct {
	EventID  string          `json:"event_id"`
	Score    float64         `json:"score"`
	Severity models.Severity `json:"severity"`
	Category string          `json:"category,omitempty"`
	CaseID   *string         `json:"escalation_case_id,omitempty"`
}

type job struct {
	ctx    context.Context
	sample detector.Sample
	reply  chan reply
}

type reply struct {
	result Result
	err    error
}

// Pipeline owns the worker pool.
type Pipeline struct {
	cfg       *config.Store
	library   *rules.Library
	extractor *detector.Extractor
	recorder  *recorder.Recorder
	logger    *zap.Logger
	queues    []chan job
}

func New(cfg *config.Store, library *rules.Library, extractor *detector.Extractor, rec *recorder.Recorder, logger *zap.Logger) *Pipeline {
	c := cfg.Current()
	queues := make([]chan job, c.Pipeline.Workers)
	for i := range queues {
		queues[i] = make(chan job, c.Pipeline.QueueSize)
	}
	return &Pipeline{
		cfg:       cfg,
		library:   library,
		extractor: extractor,
		recorder:  rec,
		logger:    logger,
		queues:    queues,
	}
}

// Run starts the workers and blocks until ctx is done.
func (p *Pipeline) Run(ctx context.Context) {
	for i, queue := range p.queues {
		go p.worker(ctx, i, queue)
	}
	p.logger.Info("Ingestion pipeline started", zap.Int("workers", len(p.queues)))
	<-ctx.Done()
	p.logger.Info("Ingestion pipeline stopped.")
}

// Submit validates and scores one content sample, synchronously. The
// call returns once the detection event (and any case) is persisted.
func (p *Pipeline) Submit(ctx context.Context, sample detector.Sample) (Result, error) {
	if err := p.validate(sample); err != nil {
		return Result{}, err
	}

	j := job{ctx: ctx, sample: sample, reply: make(chan reply, 1)}
	queue := p.queues[p.shard(sample.UserID)]

	select {
	case queue <- j:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case r := <-j.reply:
		return r.result, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (p *Pipeline) validate(sample detector.Sample) error {
	if sample.Content == "" {
		return crisiserr.ErrEmptyContent
	}
	if max := p.cfg.Current().Scoring.MaxContentLength; len(sample.Content) > max {
		return crisiserr.ErrContentTooLarge
	}
	switch sample.SourceType {
	case models.SourceChatMessage, models.SourceJournal, models.SourceMoodEntry:
	default:
		return crisiserr.ErrInvalidInput
	}
	if sample.Sentiment != nil && (*sample.Sentiment < -1 || *sample.Sentiment > 1) {
		return crisiserr.ErrInvalidInput
	}
	return nil
}

// shard maps a user onto one worker queue. Same user, same queue,
// which is what gives per-user submission ordering.
func (p *Pipeline) shard(userID int64) int {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(userID >> (8 * i))
	}
	h.Write(buf[:])
	return int(h.Sum32() % uint32(len(p.queues)))
}

func (p *Pipeline) worker(ctx context.Context, id int, queue chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-queue:
			j.reply <- p.process(j.ctx, j.sample)
		}
	}
}

// process runs one scoring pass under the configured time budget. A
// budget overrun takes the fail-safe path: record the content as
// maximum-uncertainty and put it in front of a human.
func (p *Pipeline) process(ctx context.Context, sample detector.Sample) reply {
	cfg := p.cfg.Current()
	start := time.Now()

	scoringCtx, cancel := context.WithTimeout(ctx, cfg.Scoring.Timeout.Std())
	defer cancel()

	type scored struct {
		bundle *detector.SignalBundle
		result scorer.Result
	}
	done := make(chan scored, 1)
	go func() {
		snap := p.library.Current()
		bundle := p.extractor.Extract(snap, sample)
		done <- scored{bundle: bundle, result: scorer.New(cfg).Score(bundle)}
	}()

	select {
	case <-scoringCtx.Done():
		event, esc, err := p.recorder.RecordTimeout(context.WithoutCancel(ctx), sample)
		if err != nil {
			return reply{err: crisiserr.ErrScoringTimeout}
		}
		return reply{result: resultFor(event, esc)}

	case s := <-done:
		event, esc, err := p.recorder.Record(scoringCtx, sample, s.bundle, s.result)
		if err != nil {
			return reply{err: err}
		}
		metrics.ScoringDuration.WithLabelValues(sample.SourceType).Observe(time.Since(start).Seconds())
		return reply{result: resultFor(event, esc)}
	}
}

func resultFor(event *models.DetectionEvent, esc *models.EscalationCase) Result {
	r := Result{
		EventID:  event.ID,
		Score:    event.Score,
		Severity: event.Severity,
		Category: event.Category,
	}
	if esc != nil {
		r.CaseID = &esc.ID
	}
	return r
}
