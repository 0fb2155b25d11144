package crypto

import "runtime"

// Wipe zeroes each buffer in place. Best-effort: it keeps the buffers live
// past the loop so the writes are not elided.
//
//go:noinline
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		clear(b)
	}
	runtime.KeepAlive(bufs)
}
