package validator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// Check is a unit of deferred verification work, normally a ScriptCheck.
type Check interface {
	Execute() error
}

type queuedCheck struct {
	control *Control
	ordinal int
	check   Check
}

// CheckQueue is a fixed pool of workers verifying checks handed to it through Controls. With
// zero workers every check runs on the caller's goroutine when it is added.
type CheckQueue struct {
	logger  ulogger.Logger
	workers int
	jobs    chan queuedCheck
	g       errgroup.Group
	stopped atomic.Bool
}

// NewCheckQueue starts workers goroutines reading from a channel of queueSize checks.
func NewCheckQueue(logger ulogger.Logger, workers int, queueSize int) *CheckQueue {
	if workers < 0 {
		workers = 0
	}

	if queueSize < 1 {
		queueSize = 1
	}

	q := &CheckQueue{
		logger:  logger,
		workers: workers,
		jobs:    make(chan queuedCheck, queueSize),
	}

	for i := 0; i < workers; i++ {
		q.g.Go(func() error {
			for job := range q.jobs {
				job.control.run(job.ordinal, job.check)
			}

			return nil
		})
	}

	logger.Infof("[CheckQueue] started %d script verification workers", workers)

	return q
}

// Workers returns the number of worker goroutines.
func (q *CheckQueue) Workers() int {
	return q.workers
}

// Stop closes the queue and waits for the workers to drain it. Controls must not be used afterwards.
func (q *CheckQueue) Stop() error {
	if q.stopped.Swap(true) {
		return nil
	}

	close(q.jobs)

	return q.g.Wait()
}

// Control collects the results of the checks of one block or transaction.
//
// lowestFailed holds the lowest ordinal that has failed so far. Checks above it are skipped,
// checks below it always run, so Wait reports the same failure whatever the scheduling.
type Control struct {
	ctx          context.Context
	queue        *CheckQueue
	pending      sync.WaitGroup
	lowestFailed atomic.Int64
	next         int
	checks       atomic.Int64

	mu       sync.Mutex
	firstErr error
}

// NewControl returns a control that dispatches to q. A nil queue runs checks inline.
func (q *CheckQueue) NewControl(ctx context.Context) *Control {
	c := &Control{
		ctx:   ctx,
		queue: q,
	}

	c.lowestFailed.Store(math.MaxInt64)

	return c
}

// skip reports whether a check with a lower ordinal than ordinal has already failed.
func (c *Control) skip(ordinal int) bool {
	return int64(ordinal) > c.lowestFailed.Load()
}

// Add dispatches checks in order. Once a check of this control has failed, checks with a higher
// ordinal are no longer dispatched.
func (c *Control) Add(checks ...Check) {
	for _, check := range checks {
		ordinal := c.next
		c.next++

		if c.skip(ordinal) {
			continue
		}

		if c.queue == nil || c.queue.workers == 0 || c.queue.stopped.Load() {
			c.pending.Add(1)
			c.run(ordinal, check)

			continue
		}

		c.pending.Add(1)

		select {
		case c.queue.jobs <- queuedCheck{control: c, ordinal: ordinal, check: check}:
		case <-c.ctx.Done():
			c.pending.Done()
			c.fail(ordinal, errors.NewContextCanceledError("script verification canceled", c.ctx.Err()))

			return
		}
	}
}

func (c *Control) run(ordinal int, check Check) {
	defer c.pending.Done()

	if c.skip(ordinal) {
		return
	}

	c.checks.Inc()

	if err := check.Execute(); err != nil {
		c.fail(ordinal, err)
	}
}

func (c *Control) fail(ordinal int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		lowest := c.lowestFailed.Load()
		if int64(ordinal) >= lowest {
			return
		}

		if c.lowestFailed.CompareAndSwap(lowest, int64(ordinal)) {
			c.firstErr = err
			return
		}
	}
}

// Wait blocks until every dispatched check has completed and returns the failure with the lowest
// ordinal, or nil.
func (c *Control) Wait() error {
	initPrometheusMetrics()

	start := time.Now()
	c.pending.Wait()
	prometheusCheckQueueWait.Observe(time.Since(start).Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.firstErr
}

// Executed returns how many checks were run rather than skipped.
func (c *Control) Executed() int64 {
	return c.checks.Load()
}
