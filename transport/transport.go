package transport

// Transport is the byte-stream contract consumed by framing layers.
// Implementations are not safe for concurrent use.
type Transport interface {
	// Open establishes the connection to the configured endpoint.
	Open() error

	// IsOpen reports whether the connection is present and not closed by
	// either side.
	IsOpen() bool

	// Write sends buf and returns the number of bytes written.
	Write(buf []byte) (int, error)

	// Read receives up to n bytes; see the implementation for the exact
	// completion contract.
	Read(n int) ([]byte, error)

	// Close releases the connection. It is idempotent.
	Close() error

	// Fd returns the raw descriptor for external readiness waits, or -1.
	Fd() int
}

var _ Transport = (*Socket)(nil)
