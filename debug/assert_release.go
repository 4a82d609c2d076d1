//go:build !debug

// Package debug provides assertions for register and mapping lifetimes. They
// are enabled with the debug build tag and compile to no-ops otherwise.
//
// Hardware misuse, e.g. touching a register block after it was unmapped, will
// usually crash the process with SIGBUS or silently corrupt peripheral state.
// Build with -tags debug while developing to catch it early.
package debug

// Enabled reports whether assertions are compiled in. Wrap assertions whose
// arguments are expensive to compute in `if debug.Enabled {...}`.
const Enabled = false

// Assert panics with message if b is false.
func Assert(b bool, message string) {}

// Assertf panics with a formatted message if b is false.
func Assertf(b bool, format string, args ...any) {}

// AssertErrNil panics if err is not nil.
func AssertErrNil(err error) {}
