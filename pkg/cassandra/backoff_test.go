package cassandra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffSchedule(t *testing.T) {
	b := resetBackoff()

	expected := float64(minBackoff)
	for i := 0; i < 20; i++ {
		d := b.next()
		// Each delay is the expected duration with at most +-10% jitter,
		// rounded to a millisecond.
		lo := time.Duration(expected*0.9) - time.Millisecond
		hi := time.Duration(expected*1.1) + time.Millisecond
		require.GreaterOrEqual(t, d, lo, "attempt %d", i)
		require.LessOrEqual(t, d, hi, "attempt %d", i)

		expected *= backoffFactor
		if expected > float64(maxBackoff) {
			expected = float64(maxBackoff)
		}
	}

	// Capped: far into the schedule the delay stays near the maximum.
	maxBackoffF := float64(maxBackoff)
	assert.LessOrEqual(t, b.next(), time.Duration(maxBackoffF*1.1)+time.Millisecond)
}

func TestBackoffReset(t *testing.T) {
	b := resetBackoff()
	for i := 0; i < 5; i++ {
		b.next()
	}
	b = resetBackoff()
	d := b.next()
	assert.GreaterOrEqual(t, d, 440*time.Millisecond)
	assert.LessOrEqual(t, d, 560*time.Millisecond)
}
