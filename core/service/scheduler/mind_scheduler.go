package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"mailmind/core/domain"
	"mailmind/pkg/apperr"
)

// =============================================================================
// Long-Running Scheduler
// =============================================================================

// Config tunes the long-running scheduler loops.
type Config struct {
	PullInterval    time.Duration
	PullBatchSize   int
	AnalyzerWorkers int
	QueueSizeFactor int
	ShutdownGrace   time.Duration
	ApplyRetryDelay time.Duration
	PullBackoffInit time.Duration
	PullBackoffMax  time.Duration

	// BriefCutoffLocal is "HH:MM" local time; the daily brief runs at
	// that time once the day's messages are decided.
	BriefCutoffLocal string
}

// Scheduler runs the pull, analyze, apply, and brief loops until its
// context is cancelled, then drains within the shutdown grace.
type Scheduler struct {
	cfg      Config
	pipeline *Pipeline
	log      zerolog.Logger

	wg   sync.WaitGroup
	cron *cron.Cron

	inflightMu sync.Mutex
	inflight   map[string]bool
}

func New(cfg Config, pipeline *Pipeline, log zerolog.Logger) *Scheduler {
	if cfg.AnalyzerWorkers <= 0 {
		cfg.AnalyzerWorkers = 1
	}
	if cfg.QueueSizeFactor <= 0 {
		cfg.QueueSizeFactor = 4
	}
	return &Scheduler{
		cfg:      cfg,
		pipeline: pipeline,
		log:      log.With().Str("component", "scheduler").Logger(),
		inflight: make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled. Every loop owns one concern; the
// analyze queue is bounded so a pull burst parks instead of ballooning.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.pipeline.ReloadRules(ctx); err != nil {
		return err
	}

	queue := make(chan *domain.Message, s.cfg.AnalyzerWorkers*s.cfg.QueueSizeFactor)

	for i := 0; i < s.cfg.AnalyzerWorkers; i++ {
		s.wg.Add(1)
		go s.analyzeWorker(ctx, queue)
	}

	s.wg.Add(1)
	go s.pullLoop(ctx)

	s.wg.Add(1)
	go s.dispatchLoop(ctx, queue)

	s.wg.Add(1)
	go s.applyLoop(ctx)

	if err := s.startBriefCron(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return s.shutdown(queue)
}

func (s *Scheduler) shutdown(queue chan *domain.Message) error {
	s.log.Info().Dur("grace", s.cfg.ShutdownGrace).Msg("shutting down")
	if s.cron != nil {
		s.cron.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("drained cleanly")
		return nil
	case <-time.After(s.cfg.ShutdownGrace):
		s.log.Warn().Msg("shutdown grace elapsed, abandoning in-flight work")
		return apperr.New(apperr.KindStorage, "shutdown grace elapsed")
	}
}

// =============================================================================
// Pull Loop
// =============================================================================

// pullLoop pulls on the configured interval. Rate limiting doubles the
// wait from the initial backoff up to the cap; a successful pull resets
// it. The watermark never moves on a failed pull.
func (s *Scheduler) pullLoop(ctx context.Context) {
	defer s.wg.Done()

	backoff := time.Duration(0)
	for {
		wait := s.cfg.PullInterval
		if backoff > 0 {
			wait = backoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		_, err := s.pipeline.RunPullOnce(ctx, s.cfg.PullBatchSize)
		switch {
		case err == nil:
			backoff = 0
		case apperr.IsKind(err, apperr.KindConnectorRateLimit),
			apperr.IsKind(err, apperr.KindConnectorTransient):
			if backoff == 0 {
				backoff = s.cfg.PullBackoffInit
			} else {
				backoff *= 2
			}
			if backoff > s.cfg.PullBackoffMax {
				backoff = s.cfg.PullBackoffMax
			}
			s.log.Warn().Err(err).Dur("backoff", backoff).Msg("pull backing off")
		case apperr.IsKind(err, apperr.KindConnectorAuth):
			s.log.Error().Err(err).Msg("pull halted: connector needs re-authentication")
			return
		default:
			s.log.Error().Err(err).Msg("pull failed")
		}
	}
}

// =============================================================================
// Analyze Loop
// =============================================================================

// dispatchLoop feeds undecided messages into the bounded queue. The
// send blocks when the queue is full, which parks the dispatcher until
// workers catch up.
func (s *Scheduler) dispatchLoop(ctx context.Context, queue chan<- *domain.Message) {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pending, err := s.pipeline.store.Messages().ListMissingStamp(
			ctx, domain.StageDecided, cap(queue))
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to list pending messages")
			continue
		}

		for _, m := range pending {
			if !s.claim(m.ID) {
				continue
			}
			select {
			case queue <- m:
			case <-ctx.Done():
				s.release(m.ID)
				return
			}
		}
	}
}

func (s *Scheduler) analyzeWorker(ctx context.Context, queue <-chan *domain.Message) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-queue:
			if _, err := s.pipeline.TriageMessage(ctx, m, false); err != nil {
				s.pipeline.logPipelineError(ctx, m.ID, "analyze", err, 1)
			}
			s.release(m.ID)
		}
	}
}

func (s *Scheduler) claim(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	delete(s.inflight, id)
	s.inflightMu.Unlock()
}

// =============================================================================
// Apply Loop
// =============================================================================

// applyLoop is deliberately serial: provider mutations happen one batch
// at a time, and transient failures wait for the retry delay.
func (s *Scheduler) applyLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ApplyRetryDelay):
		}

		if _, err := s.pipeline.RunApplyOnce(ctx, s.cfg.PullBatchSize); err != nil {
			if apperr.IsKind(err, apperr.KindConnectorAuth) {
				s.log.Error().Err(err).Msg("apply halted: connector needs re-authentication")
				return
			}
			s.log.Warn().Err(err).Msg("apply pass failed")
		}
	}
}

// =============================================================================
// Brief Cron
// =============================================================================

func (s *Scheduler) startBriefCron(ctx context.Context) error {
	spec, err := cronSpec(s.cfg.BriefCutoffLocal)
	if err != nil {
		return err
	}

	s.cron = cron.New()
	_, err = s.cron.AddFunc(spec, func() { s.runDailyBrief(ctx) })
	if err != nil {
		return apperr.Validation(fmt.Sprintf("bad brief schedule %q: %v", spec, err))
	}
	s.cron.Start()
	return nil
}

// runDailyBrief generates today's brief, waiting briefly for any
// still-undecided messages of the day to drain first.
func (s *Scheduler) runDailyBrief(ctx context.Context) {
	dateUTC := time.Now().UTC().Format("2006-01-02")

	deadline := time.Now().Add(10 * time.Minute)
	for time.Now().Before(deadline) {
		pending, err := s.pipeline.PendingAnalysis(ctx, dateUTC)
		if err != nil || pending == 0 {
			break
		}
		s.log.Info().Int("pending", pending).Msg("brief waiting for analysis to drain")
		select {
		case <-ctx.Done():
			return
		case <-time.After(30 * time.Second):
		}
	}

	if _, err := s.pipeline.GenerateBrief(ctx, dateUTC); err != nil {
		s.log.Error().Err(err).Str("date", dateUTC).Msg("daily brief failed")
	}
}

// cronSpec converts "HH:MM" into a daily cron expression.
func cronSpec(cutoff string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(cutoff), ":", 2)
	if len(parts) != 2 {
		return "", apperr.InvalidInput("brief cutoff", "want HH:MM")
	}
	var hh, mm int
	if _, err := fmt.Sscanf(cutoff, "%d:%d", &hh, &mm); err != nil || hh > 23 || hh < 0 || mm > 59 || mm < 0 {
		return "", apperr.InvalidInput("brief cutoff", "want HH:MM")
	}
	return fmt.Sprintf("%d %d * * *", mm, hh), nil
}
