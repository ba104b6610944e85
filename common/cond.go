package common

import (
	"context"
	"io"
)

func Map[T any, N any](arr []T, block func(it T) N) []N {
	retArr := make([]N, 0, len(arr))
	for index := range arr {
		retArr = append(retArr, block(arr[index]))
	}
	return retArr
}

func Filter[T any](arr []T, block func(it T) bool) []T {
	var retArr []T
	for _, it := range arr {
		if block(it) {
			retArr = append(retArr, it)
		}
	}
	return retArr
}

func FilterNotNil[T comparable](arr []T) []T {
	var zero T
	return Filter(arr, func(it T) bool {
		return it != zero
	})
}

func Done(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func Close(closers ...any) error {
	var lastErr error
	for _, closer := range closers {
		if c, ok := closer.(io.Closer); ok && c != nil {
			if err := c.Close(); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}
