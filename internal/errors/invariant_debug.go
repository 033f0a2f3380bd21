//go:build debug

package errors

// In debug builds a detected invariant violation aborts the process.
func abortOnInvariant(msg string) {
	panic("invariant: " + msg)
}
