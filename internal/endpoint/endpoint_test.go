package endpoint

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/K4HVH/mav-lite/internal/mavlink"
	"github.com/K4HVH/mav-lite/internal/routing"
)

// fakeRecordingDispatcher collects every frame Ingest sees, for assertions.
type fakeRecordingDispatcher struct {
	mu     sync.Mutex
	frames []mavlink.Frame
}

func (f *fakeRecordingDispatcher) Ingest(src *Endpoint, fr mavlink.Frame) {
	f.mu.Lock()
	cp := make([]byte, len(fr.Raw))
	copy(cp, fr.Raw)
	f.frames = append(f.frames, mavlink.Frame{Header: fr.Header, Raw: cp})
	f.mu.Unlock()
}

func (f *fakeRecordingDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// fakeNotifier records every state transition it's told about, for
// assertions that RunSerial/RunTCP announce connect/disconnect.
type fakeNotifier struct {
	mu     sync.Mutex
	states []string
}

func (f *fakeNotifier) PublishEndpointState(_ context.Context, name, state string) {
	f.mu.Lock()
	f.states = append(f.states, name+":"+state)
	f.mu.Unlock()
}

func (f *fakeNotifier) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.states))
	copy(out, f.states)
	return out
}

// fakeSerialPort is an in-memory serialport.Port: reads come from a fixed
// buffer, writes accumulate for assertions. Mirrors the teacher's
// fakeErrPort idiom in cmd/can-server/backend_backoff_test.go.
type fakeSerialPort struct {
	mu      sync.Mutex
	rx      *bytes.Reader
	written bytes.Buffer
	closed  bool
}

func (p *fakeSerialPort) Read(b []byte) (int, error) {
	n, err := p.rx.Read(b)
	if err == io.EOF {
		// Block briefly rather than busy-spin once exhausted; the test
		// cancels the context to end the reader goroutine.
		time.Sleep(5 * time.Millisecond)
		return 0, nil
	}
	return n, err
}

func (p *fakeSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakeSerialPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakeSerialPort) SetReadTimeout(_ time.Duration) error { return nil }

func buildV2Frame(sysid uint8, payload []byte) []byte {
	b := []byte{mavlink.MagicV2, byte(len(payload)), 0, 0, 0, sysid, 1, 0, 0, 0}
	b = append(b, payload...)
	b = append(b, 0, 0)
	return b
}

func TestRunSerial_DecodesIncomingFrames(t *testing.T) {
	stream := append(buildV2Frame(5, []byte{1, 2}), buildV2Frame(6, nil)...)
	port := &fakeSerialPort{rx: bytes.NewReader(stream)}
	ep := New(1, routing.KindUART, "uart0", 16)
	disp := &fakeRecordingDispatcher{}

	ctx, cancel := context.WithCancel(context.Background())
	done := RunSerial(ctx, ep, port, disp, nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && disp.count() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if disp.count() != 2 {
		t.Fatalf("expected 2 frames ingested, got %d", disp.count())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("writer loop did not exit after cancel")
	}
}

func TestRunSerial_WritesQueuedFrames(t *testing.T) {
	port := &fakeSerialPort{rx: bytes.NewReader(nil)}
	ep := New(2, routing.KindUART, "uart1", 16)
	disp := &fakeRecordingDispatcher{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	RunSerial(ctx, ep, port, disp, nil)

	fr := mavlink.Frame{Raw: buildV2Frame(9, []byte{7, 7})}
	if !ep.Enqueue(fr) {
		t.Fatalf("expected enqueue to succeed")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		port.mu.Lock()
		n := port.written.Len()
		port.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	port.mu.Lock()
	got := port.written.Len()
	port.mu.Unlock()
	if got != len(fr.Raw) {
		t.Fatalf("expected %d bytes written, got %d", len(fr.Raw), got)
	}
}

func TestRunSerial_NotifiesConnectedAndDisconnected(t *testing.T) {
	port := &fakeSerialPort{rx: bytes.NewReader(nil)}
	ep := New(3, routing.KindUART, "uart2", 4)
	disp := &fakeRecordingDispatcher{}
	notifier := &fakeNotifier{}

	ctx, cancel := context.WithCancel(context.Background())
	done := RunSerial(ctx, ep, port, disp, notifier)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(notifier.snapshot()) < 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := notifier.snapshot(); len(got) != 1 || got[0] != "uart2:connected" {
		t.Fatalf("expected connected notification, got %v", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("serial loops did not exit after cancel")
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(notifier.snapshot()) < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	got := notifier.snapshot()
	if len(got) != 2 || got[1] != "uart2:disconnected" {
		t.Fatalf("expected disconnected notification, got %v", got)
	}
}

func TestEndpoint_LearnSysidIsIdempotent(t *testing.T) {
	ep := New(1, routing.KindTCP, "gcs0", 4)
	if !ep.LearnSysid(10) {
		t.Fatalf("expected first learn to report new")
	}
	if ep.LearnSysid(10) {
		t.Fatalf("expected second learn of same sysid to report not-new")
	}
	if ep.LearnSysid(0) {
		t.Fatalf("sysid 0 must never be learned")
	}
	learned := ep.LearnedSysids()
	if len(learned) != 1 || learned[0] != 10 {
		t.Fatalf("unexpected learned set: %v", learned)
	}
}

func TestEndpoint_EnqueueDropsWhenFull(t *testing.T) {
	ep := New(1, routing.KindTCP, "gcs0", 1)
	if !ep.Enqueue(mavlink.Frame{}) {
		t.Fatalf("expected first enqueue to succeed")
	}
	if ep.Enqueue(mavlink.Frame{}) {
		t.Fatalf("expected second enqueue to report queue full")
	}
}
