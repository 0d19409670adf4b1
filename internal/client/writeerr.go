package client

import (
	"errors"
	"net"
	"syscall"

	"netthrpt/internal/record"
)

// classifyWriteErr implements the write-error taxonomy: EWOULDBLOCK/EAGAIN/
// EINTR are non-fatal and not counted; ENOBUFS is non-fatal but counted;
// everything else is fatal and ends the loop. A nil error is StatusOK.
func classifyWriteErr(err error) record.ErrorStatus {
	if err == nil {
		return record.StatusOK
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// A deadline expiring mid-write stands in for EWOULDBLOCK/EAGAIN on
		// a non-blocking socket: the write simply didn't happen yet.
		return record.StatusNoAcctErr
	}

	switch {
	case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EWOULDBLOCK), errors.Is(err, syscall.EINTR):
		return record.StatusNoAcctErr
	case errors.Is(err, syscall.ENOBUFS):
		return record.StatusAcctErr
	default:
		return record.StatusFatal
	}
}

// classifyReadErr mirrors classifyWriteErr for the receive side. Neither
// awaitDatagramFin's reply reads nor internal/server call it.
func classifyReadErr(err error) record.ErrorStatus {
	return classifyWriteErr(err)
}
