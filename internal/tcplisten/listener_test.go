package tcplisten

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/K4HVH/mav-lite/internal/dispatcher"
	"github.com/K4HVH/mav-lite/internal/routing"
)

func TestListener_AcceptsAndRegistersClient(t *testing.T) {
	disp := dispatcher.New(routing.DefaultPolicy())
	l := New(disp, 0, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- l.Serve(ctx, "127.0.0.1:0") }()

	select {
	case <-l.Ready():
	case <-time.After(time.Second):
		t.Fatalf("listener never became ready")
	}

	conn, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if disp.CountKind(routing.KindTCP) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if disp.CountKind(routing.KindTCP) != 1 {
		t.Fatalf("expected 1 registered TCP endpoint, got %d", disp.CountKind(routing.KindTCP))
	}

	cancel()
	select {
	case <-serveErr:
	case <-time.After(time.Second):
		t.Fatalf("Serve did not return after context cancellation")
	}
}

func TestListener_RejectsBeyondMaxClients(t *testing.T) {
	disp := dispatcher.New(routing.DefaultPolicy())
	l := New(disp, 1, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = l.Serve(ctx, "127.0.0.1:0") }()
	select {
	case <-l.Ready():
	case <-time.After(time.Second):
		t.Fatalf("listener never became ready")
	}

	first, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && disp.CountKind(routing.KindTCP) != 1 {
		time.Sleep(5 * time.Millisecond)
	}

	second, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()

	// The second connection should be closed by the server almost
	// immediately since max_clients=1 is already reached.
	second.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, readErr := second.Read(buf)
	if readErr == nil {
		t.Fatalf("expected rejected connection to be closed by the server")
	}
	if disp.CountKind(routing.KindTCP) != 1 {
		t.Fatalf("expected registered count to remain 1, got %d", disp.CountKind(routing.KindTCP))
	}
}
