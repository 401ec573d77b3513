package hlc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHybridTimeRoundTrip(t *testing.T) {
	ht := FromMicrosLogical(1700000000000000, 42)
	assert.Equal(t, int64(1700000000000000), ht.PhysicalMicros())
	assert.Equal(t, uint16(42), ht.Logical())
	assert.Equal(t, ht, FromUint64(ht.ToUint64()))
}

func TestHybridTimeOrdering(t *testing.T) {
	a := FromMicrosLogical(100, 5)
	b := FromMicrosLogical(100, 6)
	c := FromMicros(101)
	assert.True(t, a < b)
	assert.True(t, b < c)
	assert.False(t, Invalid.Valid())
	assert.True(t, a.Valid())
}

func TestClockMonotonic(t *testing.T) {
	clock := NewClock()
	prev := clock.Now()
	for i := 0; i < 10000; i++ {
		cur := clock.Now()
		require.True(t, cur > prev, "clock went backwards: %v -> %v", prev, cur)
		prev = cur
	}
}

func TestClockUpdateAdvancesPastRemote(t *testing.T) {
	clock := NewClock()
	remote := FromMicrosLogical(clock.Now().PhysicalMicros()+1_000_000_000, 7)
	local := clock.Update(remote)
	assert.True(t, local > remote)
	assert.True(t, clock.Now() > remote)
}
