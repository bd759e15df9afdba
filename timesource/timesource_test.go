package timesource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestZeroOffsetWithNoSamples(t *testing.T) {
	s := New()
	assert.Equal(t, time.Duration(0), s.Offset())
}

func TestMedianOfSamples(t *testing.T) {
	s := New()

	now := time.Now()
	s.AddSample("peer1", now.Add(5*time.Minute))
	s.AddSample("peer2", now.Add(10*time.Minute))
	s.AddSample("peer3", now.Add(15*time.Minute))

	offset := s.Offset()
	assert.InDelta(t, 10*time.Minute, offset, float64(time.Second))
}

func TestSampleReplacesPriorFromSameSource(t *testing.T) {
	s := New()

	now := time.Now()
	s.AddSample("peer1", now.Add(5*time.Minute))
	s.AddSample("peer1", now.Add(50*time.Minute))

	assert.InDelta(t, 50*time.Minute, s.Offset(), float64(time.Second))
}

func TestOffsetClampedToMaxAllowed(t *testing.T) {
	s := New()

	now := time.Now()
	for i := 0; i < 5; i++ {
		s.AddSample(string(rune('a'+i)), now.Add(5*time.Hour))
	}

	assert.LessOrEqual(t, s.Offset(), maxAllowedOffset)
}
