// Package goroutineid exposes the current goroutine's id, parsed from the
// runtime.Stack header. It exists solely so the event loop wrapper can tell
// whether a caller is already running on the loop goroutine; do not use it
// for anything resembling goroutine-local state.
package goroutineid

import (
	"bytes"
	"runtime"
)

var headerPrefix = []byte("goroutine ")

// Get returns the id of the calling goroutine, or 0 if the stack header
// could not be parsed.
func Get() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseHeader(buf[:n])
}

// parseHeader extracts the id from a stack trace header of the form
// "goroutine 123 [running]:". It returns 0 when the header is malformed.
func parseHeader(stack []byte) int64 {
	if !bytes.HasPrefix(stack, headerPrefix) {
		return 0
	}
	var id int64
	for _, b := range stack[len(headerPrefix):] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + int64(b-'0')
	}
	return id
}
