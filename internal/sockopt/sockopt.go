// Package sockopt applies the handful of socket options the engine needs:
// SO_REUSEADDR/SO_REUSEPORT on the listener bind, which Go's net package has
// no portable accessor for, and a helper that toggles TCP_NODELAY (via
// net.TCPConn.SetNoDelay) around a single write.
package sockopt

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl sets SO_REUSEADDR (and, where meaningful, SO_REUSEPORT)
// before bind.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// ListenConfig returns a net.ListenConfig with SO_REUSEADDR/SO_REUSEPORT
// applied to every socket it creates, for use by the Listener Engine's
// bind/listen step.
func ListenConfig() net.ListenConfig {
	return net.ListenConfig{Control: reuseAddrControl}
}

// Listen binds a stream or datagram listening socket with SO_REUSEADDR set.
func Listen(ctx context.Context, network, address string) (net.Listener, error) {
	lc := ListenConfig()
	return lc.Listen(ctx, network, address)
}

// ListenPacket binds a datagram socket with SO_REUSEADDR set.
func ListenPacket(ctx context.Context, network, address string) (net.PacketConn, error) {
	lc := ListenConfig()
	return lc.ListenPacket(ctx, network, address)
}

// WithNoDelay runs fn with TCP_NODELAY enabled on conn, then turns
// TCP_NODELAY off: Nagle is disabled for this one write then enabled. The
// setting in effect before the call is not read, so a conn that had
// TCP_NODELAY on (Go's default) ends with it off.
func WithNoDelay(conn *net.TCPConn, fn func() error) error {
	prevErr := conn.SetNoDelay(true)
	if prevErr != nil {
		return prevErr
	}
	err := fn()
	// The ack write is a one-shot exchange; re-enabling Nagle lets
	// subsequent small writes coalesce.
	if restoreErr := conn.SetNoDelay(false); restoreErr != nil && err == nil {
		err = restoreErr
	}
	return err
}
