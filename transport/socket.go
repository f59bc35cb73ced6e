package transport

import (
	"fmt"
	"net"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	transporterrors "github.com/nczempin/sockettransport/errors"
)

// Socket is a stream transport over a raw descriptor. With a zero timeout
// every Read and Write is a single blocking call. With a positive timeout
// each operation loops on readiness until it completes or one deadline,
// taken when the operation starts, has passed.
//
// The descriptor is exclusively owned: it is -1 or a live, not yet closed
// socket. Any unclassified OS error during I/O closes it. A Socket must not
// be used from more than one goroutine at a time.
type Socket struct {
	endpoint Endpoint
	timeout  time.Duration
	fd       int

	poller  Poller
	log     *logrus.Entry
	metrics *Metrics
}

// NewSocket creates a TCP socket transport. An empty host selects
// DefaultHost and a zero port selects DefaultPort.
func NewSocket(host string, port int, opts ...Option) *Socket {
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}
	return newSocket(Endpoint{Host: host, Port: port}, opts)
}

// NewUnixSocket creates a transport over a Unix domain stream socket.
func NewUnixSocket(path string, opts ...Option) *Socket {
	return newSocket(Endpoint{Path: path}, opts)
}

func newSocket(ep Endpoint, opts []Option) *Socket {
	s := &Socket{
		endpoint: ep,
		fd:       -1,
		poller:   NewPollPoller(),
		log:      logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("endpoint", ep.String())
	return s
}

// Endpoint returns the remote endpoint.
func (s *Socket) Endpoint() Endpoint {
	return s.endpoint
}

// Timeout returns the current time budget; zero means blocking mode.
func (s *Socket) Timeout() time.Duration {
	return s.timeout
}

// SetTimeout changes the time budget of subsequent operations. On an open
// socket the descriptor is switched between blocking and non-blocking mode.
func (s *Socket) SetTimeout(d time.Duration) error {
	s.timeout = normalizeTimeout(d)
	if s.fd < 0 {
		return nil
	}
	if err := unix.SetNonblock(s.fd, s.timeout > 0); err != nil {
		return s.fail("set_timeout", pkgerrors.Wrap(err, "set non-blocking mode"))
	}
	return nil
}

// Open connects to the endpoint. It is a no-op when already open.
func (s *Socket) Open() (err error) {
	if s.fd >= 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		s.metrics.observeOpen(start, err)
	}()

	fd, err := s.connect(start)
	if err != nil {
		if _, ok := transporterrors.AsTransportError(err); ok {
			return err
		}
		return transporterrors.NewTransportError(
			transporterrors.TransportErrorNotOpen,
			fmt.Sprintf("could not connect to %s", s.endpoint),
			err,
		)
	}

	s.fd = fd
	s.log.WithFields(logrus.Fields{
		"fd":      fd,
		"timeout": s.timeout,
	}).Debug("socket opened")
	return nil
}

func (s *Socket) connect(start time.Time) (fd int, err error) {
	sa, family, err := s.endpoint.sockaddr()
	if err != nil {
		return -1, err
	}

	sock, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, pkgerrors.Wrap(err, "socket")
	}
	defer func() {
		if err != nil {
			unix.Close(sock)
		}
	}()

	// Disable Nagle so small frames leave immediately
	if !s.endpoint.IsUnix() {
		if err := unix.SetsockoptInt(sock, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return -1, pkgerrors.Wrap(err, "setsockopt TCP_NODELAY")
		}
	}

	switch cerr := unix.Connect(sock, sa); cerr {
	case nil:
	case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		if err := s.finishConnect(sock, sa, start); err != nil {
			return -1, err
		}
	default:
		return -1, pkgerrors.Wrap(cerr, "connect")
	}

	if s.timeout == 0 {
		if err := unix.SetNonblock(sock, false); err != nil {
			return -1, pkgerrors.Wrap(err, "set blocking mode")
		}
	}
	return sock, nil
}

// finishConnect waits for an in-progress connect to become writable and
// then completes it with a second connect call.
func (s *Socket) finishConnect(fd int, sa unix.Sockaddr, start time.Time) error {
	deadline := start.Add(s.timeout)
	for {
		remaining, ok := s.remaining(deadline)
		if !ok {
			return transporterrors.NotOpen("connection timeout to %s", s.endpoint)
		}
		ev, err := s.poller.Wait(fd, EventWrite, remaining)
		if err != nil {
			return err
		}
		if ev != 0 {
			break
		}
	}

	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return pkgerrors.Wrap(err, "getsockopt SO_ERROR")
	}
	if soerr != 0 {
		return pkgerrors.Wrap(unix.Errno(soerr), "connect")
	}

	if err := unix.Connect(fd, sa); err != nil && err != unix.EISCONN {
		return pkgerrors.Wrap(err, "connect")
	}
	return nil
}

// remaining returns the wait bound left before deadline. ok is false once
// the deadline has passed. Without a timeout the bound is Forever.
func (s *Socket) remaining(deadline time.Time) (time.Duration, bool) {
	if s.timeout == 0 {
		return Forever, true
	}
	left := time.Until(deadline)
	if left <= 0 {
		return 0, false
	}
	return left, true
}

// IsOpen reports whether the socket is open and the peer has not closed it.
// It does not consume any pending data.
func (s *Socket) IsOpen() bool {
	if s.fd < 0 {
		return false
	}

	ev, err := s.poller.Wait(s.fd, EventRead, 0)
	if err != nil || ev&EventError != 0 {
		return false
	}
	if ev&EventRead == 0 {
		return true
	}

	var peek [1]byte
	n, _, err := unix.Recvfrom(s.fd, peek[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
	switch err {
	case nil:
		return n > 0
	case unix.EAGAIN, unix.EINTR:
		return true
	default:
		return false
	}
}

// Fd returns the underlying descriptor, or -1 when closed. Ownership stays
// with the Socket.
func (s *Socket) Fd() int {
	return s.fd
}

// LocalAddr returns the local address, or nil when closed.
func (s *Socket) LocalAddr() net.Addr {
	if s.fd < 0 {
		return nil
	}
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return nil
	}
	return netAddr(sa)
}

// RemoteAddr returns the peer address, or nil when closed.
func (s *Socket) RemoteAddr() net.Addr {
	if s.fd < 0 {
		return nil
	}
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return nil
	}
	return netAddr(sa)
}

// Write sends buf. Without a timeout it issues one blocking send and returns
// whatever count the OS reports, which may be short. With a timeout it loops
// until everything is sent or fails with TimedOut, returning the number of
// bytes written so far.
func (s *Socket) Write(buf []byte) (int, error) {
	if s.fd < 0 {
		s.metrics.observeError("write", transporterrors.ErrStreamClosed)
		return 0, transporterrors.ErrStreamClosed
	}
	if len(buf) == 0 {
		return 0, nil
	}

	var (
		n   int
		err error
	)
	if s.timeout == 0 {
		n, err = s.send(buf)
		if err == unix.EAGAIN {
			n, err = 0, nil
		}
	} else {
		n, err = s.writeWithin(buf)
	}
	s.metrics.addWritten(n)

	if err != nil {
		return n, s.fail("write", err)
	}
	return n, nil
}

func (s *Socket) writeWithin(buf []byte) (int, error) {
	deadline := time.Now().Add(s.timeout)
	sent := 0

	for sent < len(buf) {
		remaining, ok := s.remaining(deadline)
		if !ok {
			break
		}

		ev, err := s.poller.Wait(s.fd, EventRead|EventWrite|EventError, remaining)
		if err != nil {
			return sent, err
		}

		switch {
		case ev&EventError != 0:
			return sent, transporterrors.Unknown("error reported by readiness wait")
		case ev&EventRead != 0:
			// Inbound data in the middle of a request means the stream is
			// out of sync with the peer.
			return sent, transporterrors.Unknown("bytes in read buffer at inappropriate time")
		case ev&EventWrite != 0:
			n, err := s.send(buf[sent:])
			if err != nil && err != unix.EAGAIN {
				return sent, err
			}
			sent += n
		}
	}

	if sent < len(buf) {
		return sent, transporterrors.TimedOut("timed out writing %d (wrote %d) bytes to %s", len(buf), sent, s.endpoint)
	}
	return sent, nil
}

// send issues one send call. EAGAIN is returned unwrapped with a zero count.
func (s *Socket) send(buf []byte) (int, error) {
	for {
		n, err := unix.SendmsgN(s.fd, buf, nil, nil, unix.MSG_NOSIGNAL)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, unix.EAGAIN
		default:
			return 0, pkgerrors.Wrap(err, "send")
		}
	}
}

// Read receives exactly n bytes or fails. Without a timeout this is a single
// blocking receive; with a timeout partial deliveries are accumulated until
// n bytes arrived or the deadline passed.
//
// The blocking receive uses MSG_WAITALL: it returns only once n bytes
// arrived, the peer closed, or a signal interrupted it. A peer that sends
// fewer than n bytes and keeps the connection open blocks the call
// indefinitely. Use a timeout when the peer may send short frames.
func (s *Socket) Read(n int) ([]byte, error) {
	if s.fd < 0 {
		s.metrics.observeError("read", transporterrors.ErrStreamClosed)
		return nil, transporterrors.ErrStreamClosed
	}
	if n <= 0 {
		return []byte{}, nil
	}

	var (
		data []byte
		err  error
	)
	if s.timeout == 0 {
		data, err = s.readBlocking(n)
	} else {
		data, err = s.readWithin(n)
	}
	s.metrics.addRead(len(data))

	if err == nil && len(data) < n {
		err = transporterrors.Unknown("could not read %d bytes from %s", n, s.endpoint)
	}
	if err != nil {
		return nil, s.fail("read", err)
	}
	return data, nil
}

func (s *Socket) readBlocking(n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := s.recv(buf, unix.MSG_WAITALL)
	if err != nil {
		return nil, err
	}
	if got == 0 {
		return nil, transporterrors.NotOpen("EOF reading %s", s.endpoint)
	}
	return buf[:got], nil
}

func (s *Socket) readWithin(n int) ([]byte, error) {
	deadline := time.Now().Add(s.timeout)
	buf := make([]byte, n)
	got := 0

	for got < n {
		remaining, ok := s.remaining(deadline)
		if !ok {
			break
		}

		ev, err := s.poller.Wait(s.fd, EventRead|EventError, remaining)
		if err != nil {
			return buf[:got], err
		}
		if ev&EventError != 0 {
			return buf[:got], transporterrors.Unknown("error reported by readiness wait")
		}
		if ev&EventRead == 0 {
			continue
		}

		m, err := s.recv(buf[got:], 0)
		if err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return buf[:got], err
		}
		if m == 0 {
			return buf[:got], transporterrors.NotOpen("EOF reading %s", s.endpoint)
		}
		got += m
	}

	if got < n {
		return buf[:got], transporterrors.TimedOut("timed out reading %d bytes (got %d) from %s", n, got, s.endpoint)
	}
	return buf, nil
}

// recv issues one receive call. EAGAIN is returned unwrapped.
func (s *Socket) recv(buf []byte, flags int) (int, error) {
	for {
		n, _, err := unix.Recvfrom(s.fd, buf, flags)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, unix.EAGAIN
		default:
			return 0, pkgerrors.Wrap(err, "recv")
		}
	}
}

// fail is the single failure exit of the I/O paths. Classified transport
// errors pass through untouched; anything else is an OS-level failure that
// closes the socket and is reported as NotOpen carrying the cause.
func (s *Socket) fail(op string, err error) error {
	if _, ok := transporterrors.AsTransportError(err); !ok {
		s.log.WithError(err).WithField("op", op).Debug("closing socket after I/O failure")
		s.Close()
		err = transporterrors.NewTransportError(transporterrors.TransportErrorNotOpen, "", err)
	}
	s.metrics.observeError(op, err)
	return err
}

// Close closes the socket if open. It is idempotent and never fails.
func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}

	fd := s.fd
	s.fd = -1
	if err := unix.Close(fd); err != nil {
		s.log.WithError(err).Debug("error closing socket")
	}
	s.log.WithField("fd", fd).Debug("socket closed")
	return nil
}
