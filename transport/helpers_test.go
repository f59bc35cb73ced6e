package transport

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

func init() {
	logrus.SetOutput(io.Discard)
}

// setupTCPTestServer starts a loopback listener that runs serverLogic on the
// first accepted connection. The listener is torn down when the test ends.
func setupTCPTestServer(t *testing.T, serverLogic func(net.Conn)) (string, int) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create test server: %v", err)
	}
	addr := listener.Addr().(*net.TCPAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serverLogic(conn)
	}()

	t.Cleanup(func() {
		listener.Close()
		<-done
	})

	return addr.IP.String(), addr.Port
}

// setupUnixTestServer is setupTCPTestServer for a Unix domain socket.
func setupUnixTestServer(t *testing.T, serverLogic func(net.Conn)) string {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "transport.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("Failed to create Unix test server: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serverLogic(conn)
	}()

	t.Cleanup(func() {
		listener.Close()
		<-done
		os.Remove(socketPath)
	})

	return socketPath
}

// setupRelayServer accepts two connections and copies everything received
// on the first to the second.
func setupRelayServer(t *testing.T) (string, int) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create relay server: %v", err)
	}
	addr := listener.Addr().(*net.TCPAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		src, err := listener.Accept()
		if err != nil {
			return
		}
		defer src.Close()
		dst, err := listener.Accept()
		if err != nil {
			return
		}
		defer dst.Close()
		io.Copy(dst, src)
	}()

	t.Cleanup(func() {
		listener.Close()
		<-done
	})

	return addr.IP.String(), addr.Port
}

// unusedPort returns a loopback port with nothing listening on it.
func unusedPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return port
}

// saturatedListener returns the port of a listener whose accept queue is
// full, so further handshakes are never answered.
func saturatedListener(t *testing.T) int {
	t.Helper()

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	t.Cleanup(func() { unix.Close(fd) })

	if err := unix.Bind(fd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := unix.Listen(fd, 0); err != nil {
		t.Fatalf("listen: %v", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	port := sa.(*unix.SockaddrInet4).Port

	for i := 0; i < 16; i++ {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 100*time.Millisecond)
		if err != nil {
			return port
		}
		t.Cleanup(func() { conn.Close() })
	}
	t.Skip("could not fill the accept queue of the test listener")
	return 0
}

// resetOnClose makes closing conn send RST instead of FIN.
func resetOnClose(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	tcpConn.SetLinger(0)
}

// newURingPollerOrSkip returns an io_uring poller or skips the test when
// the kernel refuses to create a ring.
func newURingPollerOrSkip(t *testing.T) *URingPoller {
	t.Helper()

	p, err := NewURingPoller(8)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}
