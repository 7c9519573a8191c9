package engine

import (
	"context"
	"sync"

	"scanpilot/pkg/logger"
)

// Queue bounds how many scans execute at once with a simple semaphore.
// A zero limit means unbounded.
type Queue struct {
	semaphore chan struct{}
	running   int
	queued    int
	mu        sync.Mutex
	logger    *logger.Logger
}

func NewQueue(maxConcurrent int, log *logger.Logger) *Queue {
	q := &Queue{logger: log}
	if maxConcurrent > 0 {
		q.semaphore = make(chan struct{}, maxConcurrent)
	}
	log.WithFields(logger.Fields{
		"max_concurrent": maxConcurrent,
	}).Info("Scan queue initialized")
	return q
}

// Run blocks until a slot is available, then executes fn. It returns the
// context error, without running fn, if ctx ends while waiting.
func (q *Queue) Run(ctx context.Context, fn func()) error {
	q.mu.Lock()
	q.queued++
	currentQueued := q.queued
	currentRunning := q.running
	q.mu.Unlock()

	q.logger.WithFields(logger.Fields{
		"queued":  currentQueued,
		"running": currentRunning,
		"slots":   cap(q.semaphore),
	}).Debug("Scan added to queue")

	if q.semaphore != nil {
		select {
		case q.semaphore <- struct{}{}:
		case <-ctx.Done():
			q.mu.Lock()
			q.queued--
			q.mu.Unlock()
			return ctx.Err()
		}
	}

	q.mu.Lock()
	q.queued--
	q.running++
	q.mu.Unlock()

	defer func() {
		if q.semaphore != nil {
			<-q.semaphore
		}
		q.mu.Lock()
		q.running--
		remainingRunning := q.running
		remainingQueued := q.queued
		q.mu.Unlock()

		q.logger.WithFields(logger.Fields{
			"running": remainingRunning,
			"queued":  remainingQueued,
		}).Debug("Scan slot released")
	}()

	fn()
	return nil
}

// Status returns the current queue occupancy. maxConcurrent is 0 when
// unbounded.
func (q *Queue) Status() (running, queued, maxConcurrent int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running, q.queued, cap(q.semaphore)
}
