package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwoConsumersSeeSameOrder(t *testing.T) {
	bus := New[int]("test", nil)
	c1 := bus.Iter()
	c2 := bus.Iter()

	one, two := 1, 2
	bus.Push(&one)
	bus.Push(&two)

	v, ok := c1.Next()
	require.True(t, ok)
	require.NotNil(t, v)
	assert.Equal(t, 1, *v)

	v, ok = c2.Next()
	require.True(t, ok)
	require.NotNil(t, v)
	assert.Equal(t, 1, *v)

	v, ok = c1.Next()
	require.True(t, ok)
	assert.Equal(t, 2, *v)

	v, ok = c2.Next()
	require.True(t, ok)
	assert.Equal(t, 2, *v)
}

func TestLateSubscriberMissesEarlierPushes(t *testing.T) {
	bus := New[int]("test", nil)
	c1 := bus.Iter()

	one := 1
	bus.Push(&one)

	c2 := bus.Iter()
	two := 2
	bus.Push(&two)

	v, ok := c1.Next()
	require.True(t, ok)
	assert.Equal(t, 1, *v)
	v, ok = c1.Next()
	require.True(t, ok)
	assert.Equal(t, 2, *v)

	v, ok = c2.Next()
	require.True(t, ok)
	assert.Equal(t, 2, *v)
}

func TestCloseEndsStream(t *testing.T) {
	bus := New[int]("test", nil)
	c := bus.Iter()
	bus.Close()

	_, ok := c.Next()
	assert.False(t, ok)
}

func TestConsumerCloseIsIndependent(t *testing.T) {
	bus := New[int]("test", nil)
	c1 := bus.Iter()
	c2 := bus.Iter()
	c1.Close()

	one := 1
	bus.Push(&one) // reaps c1's slot, still delivers to c2

	v, ok := c2.Next()
	require.True(t, ok)
	assert.Equal(t, 1, *v)

	_, ok = c1.Next()
	assert.False(t, ok)
}

func TestHeartbeatOnEmptyPoll(t *testing.T) {
	bus := New[int]("test", nil)
	c := bus.Iter()

	item, ok := c.Next()
	require.True(t, ok)
	assert.Nil(t, item)
}
