package client

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"netthrpt/internal/record"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

var _ net.Error = fakeTimeoutErr{}

func TestClassifyWriteErrNil(t *testing.T) {
	if got := classifyWriteErr(nil); got != record.StatusOK {
		t.Fatalf("expected StatusOK for nil error, got %v", got)
	}
}

func TestClassifyWriteErrTimeoutIsNoAccount(t *testing.T) {
	if got := classifyWriteErr(fakeTimeoutErr{}); got != record.StatusNoAcctErr {
		t.Fatalf("expected StatusNoAcctErr for a timeout, got %v", got)
	}
}

func TestClassifyWriteErrEAGAINIsNoAccount(t *testing.T) {
	if got := classifyWriteErr(syscall.EAGAIN); got != record.StatusNoAcctErr {
		t.Fatalf("expected StatusNoAcctErr for EAGAIN, got %v", got)
	}
}

func TestClassifyWriteErrENOBUFSIsAccounted(t *testing.T) {
	if got := classifyWriteErr(syscall.ENOBUFS); got != record.StatusAcctErr {
		t.Fatalf("expected StatusAcctErr for ENOBUFS, got %v", got)
	}
}

func TestClassifyWriteErrOtherIsFatal(t *testing.T) {
	if got := classifyWriteErr(errors.New("connection reset")); got != record.StatusFatal {
		t.Fatalf("expected StatusFatal for an unrecognised error, got %v", got)
	}
}

func TestClassifyWriteErrWrappedSyscall(t *testing.T) {
	wrapped := fmt.Errorf("write: %w", syscall.EINTR)
	if got := classifyWriteErr(wrapped); got != record.StatusNoAcctErr {
		t.Fatalf("expected StatusNoAcctErr for a wrapped EINTR, got %v", got)
	}
}
