package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errCollectorDown = errors.New("collector unavailable")

func TestDoRecoversFromTransientOutage(t *testing.T) {
	// The collector drops the first two emission attempts, then accepts.
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errCollectorDown
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errCollectorDown
	})

	assert.ErrorIs(t, err, errCollectorDown)
	assert.Equal(t, 3, calls)
}

func TestDoPermanentErrorSkipsRemainingAttempts(t *testing.T) {
	// A rejected payload will never succeed, so retrying only delays the
	// queue behind it.
	rejected := errors.New("payload exceeds collector size limit")
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(rejected)
	})

	assert.Equal(t, rejected, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	calls := 0
	err := Do(ctx, 5, 200*time.Millisecond, func() error {
		calls++
		return errCollectorDown
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestDoFloorsAttemptsToOne(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return errCollectorDown
	})

	assert.ErrorIs(t, err, errCollectorDown)
	assert.Equal(t, 1, calls)
}

func TestDoBacksOffBetweenAttempts(t *testing.T) {
	// Two sleeps at base 20ms: 20ms then 40ms, each jittered by at most
	// 25%, so the floor is 45ms total.
	start := time.Now()
	_ = Do(context.Background(), 3, 20*time.Millisecond, func() error {
		return errCollectorDown
	})
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 45*time.Millisecond)
}

func TestPermanentErrorExposesCause(t *testing.T) {
	wrapped := Permanent(errCollectorDown)
	assert.ErrorIs(t, wrapped, errCollectorDown)
	assert.EqualError(t, wrapped, errCollectorDown.Error())
}
