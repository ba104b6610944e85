package buf

// Inspired by https://github.com/xtaci/smux/blob/master/alloc.go

import (
	"errors"
	"math/bits"
	"sync"
)

const (
	minShift = 6
	maxShift = 16
)

var DefaultAllocator = newDefaultAllocator()

type Allocator interface {
	Get(size int) []byte
	Put(buf []byte) error
}

// defaultAllocator hands out power-of-two sized slices from 64B to 64K.
type defaultAllocator struct {
	buffers [maxShift - minShift + 1]sync.Pool
}

func newDefaultAllocator() Allocator {
	alloc := new(defaultAllocator)
	for index := range alloc.buffers {
		size := 1 << (index + minShift)
		alloc.buffers[index].New = func() any {
			buffer := make([]byte, size)
			return &buffer
		}
	}
	return alloc
}

// Get a []byte from pool with most appropriate cap. Sizes above 64K are
// allocated directly and never pooled.
func (alloc *defaultAllocator) Get(size int) []byte {
	if size <= 0 {
		return nil
	}
	if size > 1<<maxShift {
		return make([]byte, size)
	}
	var index uint16
	if size > 1<<minShift {
		index = msb(size)
		if size != 1<<index {
			index += 1
		}
		index -= minShift
	}
	buffer := alloc.buffers[index].Get().(*[]byte)
	return (*buffer)[:size]
}

// Put returns a []byte to pool for future use,
// which the cap must be exactly 2^n
func (alloc *defaultAllocator) Put(buf []byte) error {
	capacity := cap(buf)
	shift := msb(capacity)
	if capacity < 1<<minShift || capacity > 1<<maxShift || capacity != 1<<shift {
		return errors.New("allocator Put() incorrect buffer size")
	}
	buf = buf[:capacity]
	alloc.buffers[shift-minShift].Put(&buf)
	return nil
}

func Get(size int) []byte {
	return DefaultAllocator.Get(size)
}

func Put(buf []byte) error {
	return DefaultAllocator.Put(buf)
}

// msb return the pos of most significant bit
func msb(size int) uint16 {
	return uint16(bits.Len32(uint32(size)) - 1)
}
