package listener

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"golang.org/x/sys/unix"
)

// dialConnectedUDP creates a new datagram socket bound to local and
// connected to peer, with SO_REUSEADDR/SO_REUSEPORT set so it can share
// local's port with the still-listening wildcard socket. Rather than
// transplanting a file descriptor, a fresh, more-specific socket is created
// so the kernel routes that peer's subsequent datagrams to it, leaving the
// original listening socket free to keep accepting new peers.
func dialConnectedUDP(local, peer netip.AddrPort) (net.Conn, error) {
	domain := unix.AF_INET
	if local.Addr().Is6() {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("listener: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)

	if err := unix.Bind(fd, addrPortToSockaddr(local)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listener: bind: %w", err)
	}
	if err := unix.Connect(fd, addrPortToSockaddr(peer)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listener: connect: %w", err)
	}

	f := os.NewFile(uintptr(fd), "udp-flow")
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func addrPortToSockaddr(ap netip.AddrPort) unix.Sockaddr {
	if ap.Addr().Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}
}
