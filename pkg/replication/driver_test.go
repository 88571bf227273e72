package replication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDriverOnSuccessAdvancesWatermarks(t *testing.T) {
	d := NewDriver(2, 1, time.Second)
	d.MarkInFlight()
	require.Equal(t, InFlight, d.State())

	d.OnSuccess(5)
	require.Equal(t, Idle, d.State())
	require.Equal(t, uint64(5), d.MatchIndex())
	require.Equal(t, uint64(6), d.NextIndex())
}

func TestDriverOnLogMismatchBacktracks(t *testing.T) {
	d := NewDriver(2, 10, time.Second)
	d.MarkInFlight()
	d.OnLogMismatch(0)
	require.Equal(t, Idle, d.State())
	require.Equal(t, uint64(9), d.NextIndex())

	d.OnLogMismatch(3)
	require.Equal(t, uint64(3), d.NextIndex())

	d.OnLogMismatch(3)
	require.Equal(t, uint64(2), d.NextIndex())
}

func TestDriverOnLogMismatchNeverGoesBelowOne(t *testing.T) {
	d := NewDriver(2, 1, time.Second)
	d.OnLogMismatch(0)
	require.Equal(t, uint64(1), d.NextIndex())
}

func TestDriverOnErrorBacksOffExponentiallyUpToMax(t *testing.T) {
	d := NewDriver(2, 1, 200*time.Millisecond)
	now := time.Now()

	d.OnError(now)
	require.Equal(t, Backoff, d.State())
	require.False(t, d.Ready(now))
	require.True(t, d.Ready(now.Add(60*time.Millisecond)))

	d.OnError(now)
	firstAttempt := d.nextAttempt
	d.OnError(now)
	require.True(t, d.nextAttempt.Sub(now) <= 200*time.Millisecond)
	require.True(t, d.nextAttempt.After(firstAttempt) || d.nextAttempt.Equal(firstAttempt))
}

func TestDriverReadyRefusesWhileInFlight(t *testing.T) {
	d := NewDriver(2, 1, time.Second)
	d.MarkInFlight()
	require.False(t, d.Ready(time.Now().Add(time.Hour)))
}
