package utils

import "fmt"

// AssertInvariant panics when condition is false. Reserved for programmer errors.
func AssertInvariant(condition bool, format string, args ...any) {
	if !condition {
		panic("invariant violated - " + fmt.Sprintf(format, args...))
	}
}
