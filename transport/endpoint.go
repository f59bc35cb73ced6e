package transport

import (
	"fmt"
	"net"
	"strconv"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// DefaultHost is used when no host is given.
	DefaultHost = "localhost"
	// DefaultPort is the conventional RPC port used when no port is given.
	DefaultPort = 9090
)

// Endpoint identifies the remote side of a Socket. A non-empty Path selects
// a Unix domain stream socket and Host/Port are ignored.
type Endpoint struct {
	Host string
	Port int
	Path string
}

// IsUnix reports whether the endpoint is a Unix domain socket path.
func (e Endpoint) IsUnix() bool {
	return e.Path != ""
}

// String returns the connection descriptor used in every error message.
func (e Endpoint) String() string {
	if e.IsUnix() {
		return e.Path
	}
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// sockaddr resolves the endpoint to the first matching address.
func (e Endpoint) sockaddr() (unix.Sockaddr, int, error) {
	if e.IsUnix() {
		return &unix.SockaddrUnix{Name: e.Path}, unix.AF_UNIX, nil
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(e.Host, strconv.Itoa(e.Port)))
	if err != nil {
		return nil, 0, pkgerrors.Wrapf(err, "resolve %s", e)
	}

	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa4.Addr[:], ip4)
		return sa4, unix.AF_INET, nil
	}

	sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
	copy(sa6.Addr[:], tcpAddr.IP.To16())
	if tcpAddr.Zone != "" {
		if ifi, err := net.InterfaceByName(tcpAddr.Zone); err == nil {
			sa6.ZoneId = uint32(ifi.Index)
		}
	}
	return sa6, unix.AF_INET6, nil
}

// netAddr converts a socket address into a net.Addr.
func netAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
	case *unix.SockaddrInet6:
		addr := &net.TCPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
		if sa.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				addr.Zone = ifi.Name
			}
		}
		return addr
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: sa.Name, Net: "unix"}
	default:
		return nil
	}
}
