package lifecycle

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/BaSui01/edgeflow/types"
)

// DefaultSweepSpec is the default idle sweep schedule.
const DefaultSweepSpec = "@every 1m"

// IdleSweeper periodically evicts models that have not been used recently.
type IdleSweeper struct {
	cron    *cron.Cron
	tracker *Tracker
	maxIdle time.Duration
	logger  *zap.Logger
}

// NewIdleSweeper schedules EvictIdle on spec. An empty spec uses
// DefaultSweepSpec.
func NewIdleSweeper(tracker *Tracker, spec string, maxIdle time.Duration, logger *zap.Logger) (*IdleSweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spec == "" {
		spec = DefaultSweepSpec
	}
	s := &IdleSweeper{
		cron:    cron.New(),
		tracker: tracker,
		maxIdle: maxIdle,
		logger:  logger.With(zap.String("component", "idle_sweeper")),
	}
	if _, err := s.cron.AddFunc(spec, s.Sweep); err != nil {
		return nil, types.Errorf(types.ErrInvalidRequest, "invalid sweep schedule %q", spec).WithCause(err)
	}
	return s, nil
}

// Start starts the schedule.
func (s *IdleSweeper) Start() {
	s.cron.Start()
	s.logger.Info("idle sweeper started", zap.Duration("max_idle", s.maxIdle))
}

// Stop stops the schedule and waits for a running sweep.
func (s *IdleSweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one eviction pass.
func (s *IdleSweeper) Sweep() {
	evicted := s.tracker.EvictIdle(context.Background(), s.maxIdle)
	if len(evicted) > 0 {
		s.logger.Debug("sweep finished", zap.Int("evicted", len(evicted)))
	}
}
