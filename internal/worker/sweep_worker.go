package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/rentscope/api/internal/queue"
)

type TimeoutSweeper interface {
	SweepTimeouts(ctx context.Context, threshold time.Duration) (int, error)
}

// SweepPayload optionally overrides the configured timeout.
type SweepPayload struct {
	ThresholdMinutes int `json:"thresholdMinutes,omitempty"`
}

// SweepWorker reclaims jobs stuck in progress. It runs as a periodic task.
type SweepWorker struct {
	sweeper   TimeoutSweeper
	threshold time.Duration
	log       *zap.SugaredLogger
}

func NewSweepWorker(sweeper TimeoutSweeper, threshold time.Duration, log *zap.SugaredLogger) *SweepWorker {
	return &SweepWorker{sweeper: sweeper, threshold: threshold, log: log}
}

// NewSweepTask builds the task the scheduler enqueues.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(queue.TaskTypeSweep, nil)
}

func (w *SweepWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	threshold := w.threshold
	if len(t.Payload()) > 0 {
		var p SweepPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("malformed sweep payload: %v: %w", err, asynq.SkipRetry)
		}
		if p.ThresholdMinutes > 0 {
			threshold = time.Duration(p.ThresholdMinutes) * time.Minute
		}
	}

	n, err := w.sweeper.SweepTimeouts(ctx, threshold)
	if err != nil {
		return fmt.Errorf("timeout sweep failed after %d jobs: %w", n, err)
	}
	w.log.Debugw("timeout sweep finished", "swept", n, "threshold", threshold)
	return nil
}
