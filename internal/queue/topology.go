// Package queue holds the task topology shared with the worker fleet and
// the publisher that announces jobs on it.
package queue

// Task types act as routing keys.
const (
	TaskTypeJobCreated   = "scrape:job.created"
	TaskTypeJobCompleted = "scrape:job.completed"
	TaskTypeJobFailed    = "scrape:job.failed"
	TaskTypeSweep        = "maintenance:sweep_timeouts"
)

// Queues. Jobs go out on QueueJobs, results come back on QueueResults.
// Tasks that exhaust their retries or return asynq.SkipRetry are archived,
// which is where dead letters are inspected.
const (
	QueueJobs        = "scrape-jobs"
	QueueResults     = "scrape-results"
	QueueMaintenance = "maintenance"
)

// ServerQueues are the queues this process consumes, with priorities.
func ServerQueues() map[string]int {
	return map[string]int{
		QueueResults:     6,
		QueueMaintenance: 1,
	}
}
