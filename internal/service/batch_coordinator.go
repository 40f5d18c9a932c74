package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rentscope/api/internal/model"
)

var errCoordinatorClosed = errors.New("batch coordinator closed")

// Analyzer runs the full per-location fan-out.
type Analyzer interface {
	RunFullAnalysis(ctx context.Context, locationID string) (*model.AnalysisSummary, error)
}

type startCmd struct {
	run         model.BatchRun
	locationIDs []string
	reply       chan error
}

type batchEventKind int

const (
	eventCurrent batchEventKind = iota
	eventLocationDone
	eventFinished
)

type batchEvent struct {
	runID      string
	kind       batchEventKind
	locationID string
	ok         bool
	status     model.BatchStatus
	reason     string
}

// BatchCoordinator runs at most one fleet campaign at a time. All run state
// is owned by a single goroutine; callers talk to it over channels.
type BatchCoordinator struct {
	analyzer  Analyzer
	locations LocationStore
	log       *zap.SugaredLogger
	now       func() time.Time

	start    chan startCmd
	snapshot chan chan model.BatchRun
	cancel   chan chan error
	events   chan batchEvent
	quit     chan struct{}
	stopped  chan struct{}

	closeOnce sync.Once
	workers   sync.WaitGroup
}

func NewBatchCoordinator(analyzer Analyzer, locations LocationStore, log *zap.SugaredLogger) *BatchCoordinator {
	c := &BatchCoordinator{
		analyzer:  analyzer,
		locations: locations,
		log:       log,
		now:       time.Now,
		start:     make(chan startCmd),
		snapshot:  make(chan chan model.BatchRun),
		cancel:    make(chan chan error),
		events:    make(chan batchEvent),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go c.loop()
	return c
}

// Start resolves the campaign's locations and launches it in the
// background. It returns the new run id without waiting for the run.
func (c *BatchCoordinator) Start(ctx context.Context, strategy model.BatchStrategy, delay time.Duration, staleDays int) (string, error) {
	if !strategy.Valid() {
		return "", model.NewValidationError(fmt.Sprintf("unknown batch strategy %q", strategy))
	}
	if delay < 0 {
		return "", model.NewValidationError("delay must not be negative")
	}

	current, err := c.Progress()
	if err != nil {
		return "", err
	}
	if current.Status == model.BatchStatusRunning {
		return "", model.NewStateConflictError("a batch run is already in progress")
	}

	ids, err := c.resolveLocations(ctx, strategy, staleDays)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", model.NewValidationError("no locations match the batch strategy")
	}

	now := c.now()
	run := model.BatchRun{
		ID:             uuid.NewString(),
		Status:         model.BatchStatusRunning,
		Strategy:       strategy,
		TotalLocations: len(ids),
		StartedAt:      &now,
		Delay:          delay,
		DelayMinutes:   delay.Minutes(),
	}

	reply := make(chan error, 1)
	select {
	case c.start <- startCmd{run: run, locationIDs: ids, reply: reply}:
	case <-c.quit:
		return "", errCoordinatorClosed
	}
	if err := <-reply; err != nil {
		return "", err
	}

	c.log.Infow("batch run started", "runId", run.ID, "strategy", strategy, "locations", len(ids), "delay", delay)
	return run.ID, nil
}

// Progress returns a snapshot of the current or last run with a projected
// completion time while it is running.
func (c *BatchCoordinator) Progress() (model.BatchProgress, error) {
	reply := make(chan model.BatchRun, 1)
	select {
	case c.snapshot <- reply:
	case <-c.quit:
		return model.BatchProgress{}, errCoordinatorClosed
	}
	run := <-reply

	p := model.BatchProgress{BatchRun: run}
	if run.Status == model.BatchStatusRunning && run.CompletedLocations > 0 && run.StartedAt != nil {
		now := c.now()
		perLocation := now.Sub(*run.StartedAt) / time.Duration(run.CompletedLocations)
		eta := now.Add(perLocation * time.Duration(run.Remaining()))
		p.EstimatedCompletion = &eta
	}
	return p, nil
}

// Cancel stops the running campaign. The run ends FAILED.
func (c *BatchCoordinator) Cancel() error {
	reply := make(chan error, 1)
	select {
	case c.cancel <- reply:
	case <-c.quit:
		return errCoordinatorClosed
	}
	return <-reply
}

// Close stops the coordinator and waits for a running campaign to exit.
func (c *BatchCoordinator) Close() {
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.stopped
	c.workers.Wait()
}

func (c *BatchCoordinator) resolveLocations(ctx context.Context, strategy model.BatchStrategy, staleDays int) ([]string, error) {
	var (
		locs []*model.Location
		err  error
	)
	switch strategy {
	case model.BatchStrategyAllLocations:
		locs, err = c.locations.ListAll(ctx)
	case model.BatchStrategyStaleOnly:
		if staleDays <= 0 {
			return nil, model.NewValidationError("staleDays must be positive")
		}
		locs, err = c.locations.ListStale(ctx, c.now().AddDate(0, 0, -staleDays))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve batch locations: %w", err)
	}

	ids := make([]string, 0, len(locs))
	for _, l := range locs {
		ids = append(ids, l.ID)
	}
	return ids, nil
}

func (c *BatchCoordinator) loop() {
	defer close(c.stopped)

	var (
		current   *model.BatchRun
		cancelRun context.CancelFunc
	)
	running := func() bool {
		return current != nil && current.Status == model.BatchStatusRunning
	}

	for {
		select {
		case cmd := <-c.start:
			if running() {
				cmd.reply <- model.NewStateConflictError("a batch run is already in progress")
				continue
			}
			run := cmd.run
			current = &run
			var ctx context.Context
			ctx, cancelRun = context.WithCancel(context.Background())
			c.workers.Add(1)
			go c.work(ctx, run.ID, cmd.locationIDs, run.Delay)
			cmd.reply <- nil

		case reply := <-c.snapshot:
			if current == nil {
				reply <- model.BatchRun{Status: model.BatchStatusNotStarted}
				continue
			}
			reply <- *current

		case reply := <-c.cancel:
			if !running() {
				reply <- model.NewStateConflictError("no batch run in progress")
				continue
			}
			cancelRun()
			reply <- nil

		case ev := <-c.events:
			if current == nil || ev.runID != current.ID {
				continue
			}
			switch ev.kind {
			case eventCurrent:
				current.CurrentLocationID = ev.locationID
			case eventLocationDone:
				if ev.ok {
					current.CompletedLocations++
				} else {
					current.FailedLocations++
				}
			case eventFinished:
				finished := c.now()
				current.Status = ev.status
				current.FailureReason = ev.reason
				current.FinishedAt = &finished
				current.CurrentLocationID = ""
				cancelRun()
				cancelRun = nil
			}

		case <-c.quit:
			if cancelRun != nil {
				cancelRun()
			}
			return
		}
	}
}

// work is the campaign loop. It reports to the owner goroutine and never
// touches run state directly.
func (c *BatchCoordinator) work(ctx context.Context, runID string, locationIDs []string, delay time.Duration) {
	defer c.workers.Done()

	emit := func(ev batchEvent) {
		ev.runID = runID
		select {
		case c.events <- ev:
		case <-c.quit:
		}
	}
	finish := func(status model.BatchStatus, reason string) {
		emit(batchEvent{kind: eventFinished, status: status, reason: reason})
		c.log.Infow("batch run finished", "runId", runID, "status", status, "reason", reason)
	}

	for i, id := range locationIDs {
		emit(batchEvent{kind: eventCurrent, locationID: id})

		// The current location always runs to the end of its fan-out.
		summary, err := c.analyzer.RunFullAnalysis(context.WithoutCancel(ctx), id)
		ok := err == nil && summary.Created > 0
		if !ok {
			if err == nil {
				err = summary.Err
			}
			c.log.Warnw("batch location failed", "runId", runID, "locationId", id, "error", err)
		}
		emit(batchEvent{kind: eventLocationDone, ok: ok})

		if ctx.Err() != nil {
			finish(model.BatchStatusFailed, "cancelled")
			return
		}
		if i == len(locationIDs)-1 || delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			finish(model.BatchStatusFailed, "cancelled")
			return
		case <-timer.C:
		}
	}
	finish(model.BatchStatusCompleted, "")
}
