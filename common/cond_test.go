package common

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type closeCounter struct {
	count int
	err   error
}

func (c *closeCounter) Close() error {
	c.count++
	return c.err
}

func TestMapFilter(t *testing.T) {
	t.Parallel()
	doubled := Map([]int{1, 2, 3}, func(it int) int { return it * 2 })
	assert.Equal(t, []int{2, 4, 6}, doubled)
	odd := Filter([]int{1, 2, 3}, func(it int) bool { return it%2 == 1 })
	assert.Equal(t, []int{1, 3}, odd)
	assert.Empty(t, FilterNotNil([]error{nil, nil}))
}

func TestDone(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	assert.False(t, Done(ctx))
	cancel()
	assert.True(t, Done(ctx))
}

func TestClose(t *testing.T) {
	t.Parallel()
	first := new(closeCounter)
	second := &closeCounter{err: context.Canceled}
	err := Close(first, nil, "not a closer", second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, first.count)
	assert.Equal(t, 1, second.count)
}
