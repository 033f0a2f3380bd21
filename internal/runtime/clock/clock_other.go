//go:build !linux

package clock

func monotonicNanos() int64 { return portableNanos() }
