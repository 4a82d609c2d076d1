//go:build debug

package debug

import "fmt"

// Enabled reports whether assertions are compiled in. Wrap assertions whose
// arguments are expensive to compute in `if debug.Enabled {...}`.
const Enabled = true

func Assert(b bool, message string) {
	if !b {
		panic(message)
	}
}

func Assertf(b bool, format string, args ...any) {
	if !b {
		panic(fmt.Sprintf(format, args...))
	}
}

func AssertErrNil(err error) {
	if err != nil {
		panic(err)
	}
}
