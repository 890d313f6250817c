package scheduler

import (
	"context"
	"time"

	"botwatch/internal/logger"
)

// FeedTicker runs a task on a fixed interval until its context ends.
type FeedTicker struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	ctx context.Context
}

func NewFeedTicker(ctx context.Context, name string, interval time.Duration) *FeedTicker {
	if ctx == nil {
		ctx = context.Background()
	}
	return &FeedTicker{
		Name:           name,
		Interval:       interval,
		RunImmediately: true,
		ctx:            ctx,
	}
}

// Start blocks. The task must not block for long: the next tick is not
// delayed by a slow task only if the task hands its work off.
func (t *FeedTicker) Start(task func()) {
	if t == nil {
		return
	}
	if task == nil {
		logger.Warnf("FeedTicker[%s]: task is nil, exit", t.Name)
		return
	}
	if t.Interval <= 0 {
		logger.Warnf("FeedTicker[%s]: invalid interval=%s, exit", t.Name, t.Interval)
		return
	}
	logger.Debugf("FeedTicker[%s]: started interval=%s run_immediately=%v", t.Name, t.Interval, t.RunImmediately)

	if t.RunImmediately {
		task()
	}
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			logger.Debugf("FeedTicker[%s]: ctx done, exit", t.Name)
			return
		case <-ticker.C:
			task()
		}
	}
}
