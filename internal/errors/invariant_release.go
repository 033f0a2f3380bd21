//go:build !debug

package errors

// abortOnInvariant is a no-op outside debug builds; the caller returns a
// typed failure instead.
func abortOnInvariant(msg string) {}
