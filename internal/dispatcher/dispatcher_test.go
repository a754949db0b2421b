package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/K4HVH/mav-lite/internal/mavlink"
	"github.com/K4HVH/mav-lite/internal/routing"
)

// fakeStatusPublisher records PublishEndpointState calls for assertions.
type fakeStatusPublisher struct {
	mu     sync.Mutex
	states []string
}

func (f *fakeStatusPublisher) PublishEndpointState(_ context.Context, name, state string) {
	f.mu.Lock()
	f.states = append(f.states, name+":"+state)
	f.mu.Unlock()
}

func (f *fakeStatusPublisher) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.states))
	copy(out, f.states)
	return out
}

func recvOrTimeout(t *testing.T, ch <-chan mavlink.Frame) (mavlink.Frame, bool) {
	t.Helper()
	select {
	case fr := <-ch:
		return fr, true
	case <-time.After(200 * time.Millisecond):
		return mavlink.Frame{}, false
	}
}

func TestIngest_TransparencyAndNoLoopback(t *testing.T) {
	d := New(routing.DefaultPolicy())
	gcs1 := d.Register(routing.KindTCP, "gcs1", 8)
	gcs2 := d.Register(routing.KindTCP, "gcs2", 8)

	fr := mavlink.Frame{Header: mavlink.Header{SysID: 1}, Raw: []byte{1, 2, 3}}
	d.Ingest(gcs1, fr)

	got, ok := recvOrTimeout(t, gcs2.Out)
	if !ok {
		t.Fatalf("expected gcs2 to receive the frame")
	}
	if string(got.Raw) != string(fr.Raw) {
		t.Fatalf("expected byte-identical raw frame, got %v want %v", got.Raw, fr.Raw)
	}

	select {
	case <-gcs1.Out:
		t.Fatalf("source endpoint must never receive its own frame")
	default:
	}
}

func TestIngest_PolicyBlocksUARTToUART(t *testing.T) {
	d := New(routing.DefaultPolicy())
	veh1 := d.Register(routing.KindUART, "veh1", 8)
	veh2 := d.Register(routing.KindUART, "veh2", 8)

	d.Ingest(veh1, mavlink.Frame{Header: mavlink.Header{SysID: 1}, Raw: []byte{9}})

	select {
	case <-veh2.Out:
		t.Fatalf("uart->uart must be blocked by the default policy")
	default:
	}
}

func TestIngest_FanOutToMultipleAllowedDestinations(t *testing.T) {
	d := New(routing.DefaultPolicy())
	veh := d.Register(routing.KindUART, "veh0", 8)
	gcs1 := d.Register(routing.KindTCP, "gcs1", 8)
	gcs2 := d.Register(routing.KindTCP, "gcs2", 8)

	d.Ingest(veh, mavlink.Frame{Header: mavlink.Header{SysID: 1}, Raw: []byte{1}})

	if _, ok := recvOrTimeout(t, gcs1.Out); !ok {
		t.Fatalf("expected gcs1 to receive frame")
	}
	if _, ok := recvOrTimeout(t, gcs2.Out); !ok {
		t.Fatalf("expected gcs2 to receive frame")
	}
}

func TestIngest_OrderPreservedPerSource(t *testing.T) {
	d := New(routing.DefaultPolicy())
	veh := d.Register(routing.KindUART, "veh0", 64)
	gcs := d.Register(routing.KindTCP, "gcs0", 64)

	for i := 0; i < 10; i++ {
		d.Ingest(veh, mavlink.Frame{Header: mavlink.Header{SysID: 1}, Raw: []byte{byte(i)}})
	}
	for i := 0; i < 10; i++ {
		got, ok := recvOrTimeout(t, gcs.Out)
		if !ok {
			t.Fatalf("expected frame %d", i)
		}
		if got.Raw[0] != byte(i) {
			t.Fatalf("expected frame %d in order, got %d", i, got.Raw[0])
		}
	}
}

func TestIngest_BackpressureOnOneDestinationDoesNotDropOthers(t *testing.T) {
	d := New(routing.DefaultPolicy())
	veh := d.Register(routing.KindUART, "veh0", 8)
	slow := d.Register(routing.KindTCP, "slow", 1)
	fast := d.Register(routing.KindTCP, "fast", 8)

	d.Ingest(veh, mavlink.Frame{Header: mavlink.Header{SysID: 1}, Raw: []byte{1}})
	// slow's queue (depth 1) is now full; the next frame must still reach fast.
	d.Ingest(veh, mavlink.Frame{Header: mavlink.Header{SysID: 1}, Raw: []byte{2}})

	if _, ok := recvOrTimeout(t, fast.Out); !ok {
		t.Fatalf("expected first frame at fast")
	}
	if _, ok := recvOrTimeout(t, fast.Out); !ok {
		t.Fatalf("expected second frame at fast despite slow's queue being full")
	}
}

func TestIngest_LearnsSysidOwnership(t *testing.T) {
	d := New(routing.DefaultPolicy())
	veh := d.Register(routing.KindUART, "veh0", 8)
	d.Ingest(veh, mavlink.Frame{Header: mavlink.Header{SysID: 5}, Raw: []byte{1}})

	owner, ok := d.SysidOwner(5)
	if !ok || owner != veh.ID {
		t.Fatalf("expected sysid 5 owned by veh (%v), got %v (ok=%v)", veh.ID, owner, ok)
	}
}

func TestIngest_NotifiesStatusPubOnceOnFirstSysidLearn(t *testing.T) {
	d := New(routing.DefaultPolicy())
	pub := &fakeStatusPublisher{}
	d.StatusPub = pub
	veh := d.Register(routing.KindUART, "veh0", 8)

	d.Ingest(veh, mavlink.Frame{Header: mavlink.Header{SysID: 5}, Raw: []byte{1}})
	d.Ingest(veh, mavlink.Frame{Header: mavlink.Header{SysID: 5}, Raw: []byte{2}})

	got := pub.snapshot()
	if len(got) != 1 || got[0] != "veh0:sysid_learned" {
		t.Fatalf("expected exactly one sysid_learned notification, got %v", got)
	}
}

func TestUnregister_PurgesSysidsAndClosesEndpoint(t *testing.T) {
	d := New(routing.DefaultPolicy())
	veh := d.Register(routing.KindUART, "veh0", 8)
	d.Ingest(veh, mavlink.Frame{Header: mavlink.Header{SysID: 5}, Raw: []byte{1}})

	d.Unregister(veh)

	if _, ok := d.SysidOwner(5); ok {
		t.Fatalf("expected sysid ownership purged on unregister")
	}
	if veh.Alive() {
		t.Fatalf("expected endpoint closed on unregister")
	}
	if d.Count() != 0 {
		t.Fatalf("expected registry empty after unregister")
	}
}
