// Package notify tells cache holders when a location's property data
// changes, and keeps the redis read cache those notifications invalidate.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rentscope/api/internal/model"
)

// ChannelDataUpdated carries model.DataUpdatedEvent messages.
const ChannelDataUpdated = "rentscope:data-updated"

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Notifier publishes "data updated" events. Delivery is best-effort.
type Notifier struct {
	redis   publisher
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewNotifier(redisClient publisher, timeout time.Duration, log *zap.SugaredLogger) *Notifier {
	return &Notifier{redis: redisClient, timeout: timeout, log: log}
}

// DataUpdated publishes in the background and returns a channel that is
// closed once the attempt is over. Callers are free to ignore it.
func (n *Notifier) DataUpdated(event model.DataUpdatedEvent) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := n.publish(event); err != nil {
			n.log.Warnw("data updated notification failed", "locationId", event.LocationID, "jobId", event.JobID, "error", err)
		}
	}()
	return done
}

func (n *Notifier) publish(event model.DataUpdatedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	return n.redis.Publish(ctx, ChannelDataUpdated, data).Err()
}
