package crypto

import "runtime"

// Wipe zeroes b. This is best-effort; the compiler and GC may still leave
// copies elsewhere in memory.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
