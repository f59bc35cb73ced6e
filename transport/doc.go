// Package transport implements a blocking stream-socket transport whose
// reads and writes complete within an optional time budget or fail with a
// classified error from the errors package.
//
// A Socket drives its descriptor directly through golang.org/x/sys/unix:
// a non-blocking connect, then either single blocking calls (no timeout) or
// readiness-driven accumulation loops bounded by one monotonic deadline.
// Readiness waits go through a Poller, poll(2) by default or io_uring.
//
// The package targets Linux.
package transport
