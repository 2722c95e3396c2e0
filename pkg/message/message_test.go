package message

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReading(t *testing.T) {
	r := Millivolts(1800)
	mv, ok := r.Value()
	assert.True(t, ok)
	assert.Equal(t, int32(1800), mv)
	assert.Equal(t, int32(1800), r.Wire())
	assert.Equal(t, "1800mV", r.String())

	f := Failed()
	assert.False(t, f.Valid())
	assert.Equal(t, int32(-1), f.Wire())
	assert.Equal(t, "failed", f.String())
}

func TestReading_ZeroValueIsFailed(t *testing.T) {
	var r Reading
	assert.False(t, r.Valid())
	assert.Equal(t, int32(-1), r.Wire())
}

func TestRegulatorSetRequest_InRange(t *testing.T) {
	tests := []struct {
		mv   int32
		want bool
	}{
		{799, false},
		{800, true},
		{1800, true},
		{3000, true},
		{3001, false},
		{-1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RegulatorSetRequest{Millivolts: tt.mv}.InRange(), "mv=%d", tt.mv)
	}
	assert.Equal(t, int32(1800000), RegulatorSetRequest{Millivolts: 1800}.Microvolts())
}

func TestNewQueues_DefaultCapacity(t *testing.T) {
	q := NewQueues(0)
	assert.Equal(t, DefaultQueueCapacity, cap(q.Samples))
	assert.Equal(t, DefaultQueueCapacity, cap(q.Reports))
	assert.Equal(t, DefaultQueueCapacity, cap(q.Setpoints))
}

func TestOffer_DropsWhenFull(t *testing.T) {
	q := make(chan int, 2)
	assert.True(t, Offer(q, 1))
	assert.True(t, Offer(q, 2))
	assert.False(t, Offer(q, 3))
	assert.Equal(t, 1, <-q)
	assert.Equal(t, 2, <-q)
}

func TestPutTake_FIFO(t *testing.T) {
	ctx := context.Background()
	q := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		require.NoError(t, Put(ctx, q, i))
	}
	for i := 1; i <= 3; i++ {
		v, err := Take(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestPut_BlocksUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	q := make(chan int, 1)
	q <- 1
	err := Put(ctx, q, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTake_BlocksUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Take(ctx, make(chan int))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
