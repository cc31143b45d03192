package processor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/home-monitor/video-svr/internal/correlate"
)

// Committer runs one commit pass.
type Committer interface {
	Commit(ctx context.Context) (*CommitResult, error)
}

// Scheduler runs a commit pass every interval until its context ends.
type Scheduler struct {
	logger   *zap.Logger
	target   Committer
	interval time.Duration
}

func NewScheduler(logger *zap.Logger, target Committer, interval time.Duration) *Scheduler {
	return &Scheduler{logger: logger, target: target, interval: interval}
}

// Run blocks until ctx is done. A non-positive interval returns immediately.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.logger.Info("Scheduled commit passes enabled", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.target.Commit(ctx)
	var insufficient *correlate.InsufficientFilesError
	switch {
	case err == nil:
		s.logger.Debug("Scheduled commit pass done",
			zap.String("pass_id", res.PassID),
			zap.Int("moved", len(res.Moved)),
			zap.Int("deleted", len(res.Deleted)))
	case errors.Is(err, ErrPassInProgress):
		s.logger.Debug("Scheduled commit skipped, pass in progress")
	case errors.As(err, &insufficient):
		s.logger.Debug("Scheduled commit skipped", zap.Error(err))
	case ctx.Err() != nil:
	default:
		s.logger.Warn("Scheduled commit pass failed", zap.Error(err))
	}
}
