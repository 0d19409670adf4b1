package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"netthrpt/internal/flow"
	"netthrpt/internal/wire"
)

type fakeServer struct{ started chan struct{} }

func (f *fakeServer) Run(ctx context.Context) error {
	close(f.started)
	<-ctx.Done()
	return nil
}

func TestHandleStreamConnDispatchesServerOnAcceptedHandshake(t *testing.T) {
	client, conn := net.Pipe()
	defer client.Close()

	srv := &fakeServer{started: make(chan struct{})}
	var gotSettings flow.Settings
	e := &Engine{
		Table: flow.NewTable(),
		ServerFactory: func(s flow.Settings, c net.Conn) Server {
			gotSettings = s
			return srv
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go e.handleStreamConn(ctx, conn)

	encoded := wire.Encode(flow.Settings{BufLen: 4096}.ToHeader())
	client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Write(encoded); err != nil {
		t.Fatalf("writing settings header: %v", err)
	}

	select {
	case <-srv.started:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the Server factory to be invoked")
	}
	if gotSettings.Proto != flow.Stream {
		t.Fatalf("expected Stream proto, got %v", gotSettings.Proto)
	}
}

type readingServer struct {
	conn net.Conn
	read chan []byte
}

func (r *readingServer) Run(ctx context.Context) error {
	buf := make([]byte, 64)
	n, err := r.conn.Read(buf)
	if err != nil {
		r.read <- nil
		return nil
	}
	r.read <- append([]byte(nil), buf[:n]...)
	<-ctx.Done()
	return nil
}

func TestHandleStreamConnForwardsBytesBufferedDuringHandshake(t *testing.T) {
	client, conn := net.Pipe()
	defer client.Close()

	srv := &readingServer{read: make(chan []byte, 1)}
	e := &Engine{
		Table: flow.NewTable(),
		ServerFactory: func(s flow.Settings, c net.Conn) Server {
			srv.conn = c
			return srv
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go e.handleStreamConn(ctx, conn)

	encoded := wire.Encode(flow.Settings{BufLen: 4096}.ToHeader())
	extra := []byte("early-application-data")
	client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Write(append(encoded, extra...)); err != nil {
		t.Fatalf("writing settings header + early data: %v", err)
	}

	select {
	case got := <-srv.read:
		// Parse only peeks, so the Server re-reads the header itself
		// followed by the early data.
		want := string(encoded) + string(extra)
		if string(got) != want {
			t.Fatalf("expected the Server to read the bytes buffered during the handshake peek, got %q want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the Server to observe the bytes written alongside the settings header")
	}
}

func TestHandleStreamConnRejectsWrongPermitKey(t *testing.T) {
	client, conn := net.Pipe()
	defer client.Close()

	called := make(chan struct{}, 1)
	e := &Engine{
		Table:     flow.NewTable(),
		PermitKey: "expected",
		ServerFactory: func(s flow.Settings, c net.Conn) Server {
			called <- struct{}{}
			return &fakeServer{started: make(chan struct{})}
		},
	}

	done := make(chan struct{})
	go func() {
		e.handleStreamConn(context.Background(), conn)
		close(done)
	}()

	h := wire.Header{Base: wire.BaseHeader{Flags: wire.FlagKeyCheck}, PermitKey: []byte("wrong")}
	client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Write(wire.Encode(h)); err != nil {
		t.Fatalf("writing settings header: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected handleStreamConn to return after a rejected handshake")
	}
	select {
	case <-called:
		t.Fatal("expected the Server factory not to be invoked on rejection")
	default:
	}
}
