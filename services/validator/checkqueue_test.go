package validator

import (
	"context"
	"testing"
	"time"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type fakeCheck struct {
	err    error
	delay  time.Duration
	ran    *atomic.Int64
	before func()
}

func (f *fakeCheck) Execute() error {
	if f.before != nil {
		f.before()
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if f.ran != nil {
		f.ran.Inc()
	}

	return f.err
}

func TestCheckQueue(t *testing.T) {
	t.Run("all pass", func(t *testing.T) {
		q := NewCheckQueue(ulogger.TestLogger{}, 4, 8)
		defer func() { require.NoError(t, q.Stop()) }()

		ran := atomic.NewInt64(0)
		control := q.NewControl(context.Background())

		for i := 0; i < 100; i++ {
			control.Add(&fakeCheck{ran: ran})
		}

		require.NoError(t, control.Wait())
		assert.Equal(t, int64(100), ran.Load())
		assert.Equal(t, int64(100), control.Executed())
	})

	t.Run("lowest failing ordinal wins", func(t *testing.T) {
		q := NewCheckQueue(ulogger.TestLogger{}, 4, 8)
		defer func() { require.NoError(t, q.Stop()) }()

		first := errors.NewProcessingError("first")
		second := errors.NewProcessingError("second")

		started := make(chan struct{})

		control := q.NewControl(context.Background())
		control.Add(
			&fakeCheck{},
			&fakeCheck{err: first, delay: 20 * time.Millisecond, before: func() { close(started) }},
			&fakeCheck{err: second, before: func() { <-started }},
		)

		err := control.Wait()
		require.Error(t, err)
		assert.Same(t, first, err)
	})

	t.Run("lowest failing ordinal is deterministic", func(t *testing.T) {
		q := NewCheckQueue(ulogger.TestLogger{}, 8, 16)
		defer func() { require.NoError(t, q.Stop()) }()

		for run := 0; run < 500; run++ {
			failures := make([]error, 16)
			checks := make([]Check, 16)

			for i := range checks {
				failures[i] = errors.NewProcessingError("fail %d", i)
				checks[i] = &fakeCheck{err: failures[i]}
			}

			control := q.NewControl(context.Background())
			control.Add(checks...)

			require.Same(t, failures[0], control.Wait(), "run %d", run)
		}
	})

	t.Run("no dispatch after failure", func(t *testing.T) {
		q := NewCheckQueue(ulogger.TestLogger{}, 0, 1)
		defer func() { require.NoError(t, q.Stop()) }()

		ran := atomic.NewInt64(0)
		failure := errors.NewProcessingError("boom")

		control := q.NewControl(context.Background())
		control.Add(&fakeCheck{ran: ran}, &fakeCheck{err: failure, ran: ran}, &fakeCheck{ran: ran})
		control.Add(&fakeCheck{ran: ran})

		require.ErrorIs(t, control.Wait(), failure)
		assert.Equal(t, int64(2), ran.Load())
	})

	t.Run("nil queue runs inline", func(t *testing.T) {
		var q *CheckQueue

		control := q.NewControl(context.Background())
		control.Add(&fakeCheck{})

		require.NoError(t, control.Wait())
		assert.Equal(t, int64(1), control.Executed())
	})

	t.Run("stopped queue runs inline", func(t *testing.T) {
		q := NewCheckQueue(ulogger.TestLogger{}, 2, 1)
		require.NoError(t, q.Stop())
		require.NoError(t, q.Stop())

		control := q.NewControl(context.Background())
		control.Add(&fakeCheck{}, &fakeCheck{})

		require.NoError(t, control.Wait())
		assert.Equal(t, int64(2), control.Executed())
	})

	t.Run("canceled context", func(t *testing.T) {
		q := NewCheckQueue(ulogger.TestLogger{}, 1, 1)
		defer func() { require.NoError(t, q.Stop()) }()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		control := q.NewControl(ctx)

		// the single worker and the single buffer slot fill up, the rest must observe the cancel
		for i := 0; i < 10; i++ {
			control.Add(&fakeCheck{delay: 10 * time.Millisecond})
		}

		err := control.Wait()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrContextCanceled))
	})
}
