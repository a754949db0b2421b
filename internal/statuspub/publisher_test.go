package statuspub

import (
	"context"
	"testing"
	"time"
)

func TestDial_FailsFastWhenRedisUnreachable(t *testing.T) {
	// 127.0.0.1:1 is in the reserved/unassigned range and nothing listens
	// there in test environments, so the ping should fail quickly rather
	// than hang for the pool's default timeouts.
	_, err := Dial("127.0.0.1:1", "", 0, "mavrouter:status")
	if err == nil {
		t.Fatalf("expected Dial to fail against an unreachable address")
	}
}

func TestNilPublisher_PublishCallsAreNoops(t *testing.T) {
	var p *Publisher
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.PublishEndpointState(ctx, "gcs0", "connected")
	p.PublishDiscoveryState(ctx, "/dev/ttyUSB0", "adopted")
	if err := p.Close(); err != nil {
		t.Fatalf("expected nil Publisher Close to be a no-op, got %v", err)
	}
}
