package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/rentscope/api/internal/model"
)

// Enqueuer is the part of *asynq.Client the publisher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Publisher announces jobs to the worker fleet.
type Publisher struct {
	client   Enqueuer
	ttl      time.Duration
	maxRetry int
	now      func() time.Time
	log      *zap.SugaredLogger
}

func NewPublisher(client Enqueuer, ttl time.Duration, maxRetry int, log *zap.SugaredLogger) *Publisher {
	return &Publisher{
		client:   client,
		ttl:      ttl,
		maxRetry: maxRetry,
		now:      time.Now,
		log:      log,
	}
}

// Announce publishes a job-created event. Failures come back as a
// transport error and are not retried here.
func (p *Publisher) Announce(ctx context.Context, event model.JobCreatedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job created event: %w", err)
	}

	task := asynq.NewTask(TaskTypeJobCreated, payload)
	info, err := p.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueJobs),
		asynq.TaskID(TaskID(event.JobID, event.Attempt)),
		asynq.MaxRetry(p.maxRetry),
		asynq.Deadline(p.now().Add(p.ttl)),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return model.NewTransportError("failed to publish job "+event.JobID, err)
	}

	p.log.Debugw("job announced", "jobId", event.JobID, "taskId", info.ID, "queue", info.Queue)
	return nil
}

// TaskID keeps one task per job attempt so a retried job is not rejected
// as a duplicate of its earlier announcement.
func TaskID(jobID string, attempt int) string {
	return fmt.Sprintf("%s-%d", jobID, attempt)
}
