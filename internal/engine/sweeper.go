package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mind-engage/mindengage-assess/internal/exam"
)

// Sweeper is the periodic half of the session clock. Each pass expires
// in-progress attempts whose deadline has passed and grades closed attempts
// whose grading did not complete.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	workers  int
	log      *slog.Logger
}

type SweepStats struct {
	Expired int
	Graded  int
	Failed  int
}

func NewSweeper(e *Engine, interval time.Duration, workers int) *Sweeper {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if workers <= 0 {
		workers = 4
	}
	return &Sweeper{engine: e, interval: interval, workers: workers, log: e.log.With("component", "sweeper")}
}

// Failures counts deadline checks that could not be completed, by the
// sweeper or by lazy checks inside engine calls.
func (s *Sweeper) Failures() int64 { return s.engine.DeadlineFailures() }

// Run sweeps until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	s.log.Info("sweeper started", "interval", s.interval, "workers", s.workers)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return nil
		case <-t.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("sweep failed", "err", err)
			}
		}
	}
}

// SweepOnce runs a single pass. A failure on one attempt never stops the
// pass; only a failure to list attempts is returned.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	e := s.engine

	open, err := e.ledger.ListAttempts(ctx, exam.AttemptFilter{Status: exam.StatusInProgress})
	if err != nil {
		e.deadlineCheckFailed("*", err)
		return stats, err
	}
	now := e.now()
	exams := map[string]*exam.Exam{}
	var due []string
	for _, a := range open {
		ex, ok := exams[a.ExamID]
		if !ok {
			got, err := e.catalog.GetExam(ctx, a.ExamID)
			if err != nil {
				e.deadlineCheckFailed(a.ID, err)
			} else {
				ex = &got
			}
			exams[a.ExamID] = ex
		}
		if ex == nil {
			stats.Failed++
			continue
		}
		if !now.Before(a.Deadline(*ex)) {
			due = append(due, a.ID)
		}
	}

	var stuck []string
	for _, st := range []exam.AttemptStatus{exam.StatusSubmitted, exam.StatusExpired} {
		list, err := e.ledger.ListAttempts(ctx, exam.AttemptFilter{Status: st})
		if err != nil {
			return stats, err
		}
		for _, a := range list {
			stuck = append(stuck, a.ID)
		}
	}

	expired := make([]bool, len(due))
	failed := make([]bool, len(due)+len(stuck))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, id := range due {
		g.Go(func() error {
			a, err := e.expireDue(gctx, id)
			if err != nil {
				failed[i] = true
				return nil
			}
			expired[i] = a.Status != exam.StatusInProgress && a.EndReason == exam.EndExpired
			return nil
		})
	}
	for i, id := range stuck {
		g.Go(func() error {
			if _, err := e.Grade(gctx, id); err != nil {
				s.log.Error("regrade failed", "attempt_id", id, "err", err)
				failed[len(due)+i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, ok := range expired {
		if ok {
			stats.Expired++
		}
	}
	for _, f := range failed {
		if f {
			stats.Failed++
		}
	}
	stats.Graded = len(stuck) - countTrue(failed[len(due):])
	if stats.Expired > 0 || stats.Failed > 0 {
		s.log.Info("sweep done", "expired", stats.Expired, "regraded", stats.Graded, "failed", stats.Failed)
	}
	return stats, nil
}

func countTrue(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}
