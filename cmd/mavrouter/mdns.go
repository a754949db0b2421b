package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/K4HVH/mav-lite/internal/config"
	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_mavlink-router._tcp"

// startMDNS registers the service via mDNS and returns a cleanup function.
// Safe to call even when disabled (no-op).
func startMDNS(ctx context.Context, cfg *config.Config, port int) (func(), error) {
	if !cfg.MDNS.Enabled {
		return func() {}, nil
	}
	instance := cfg.MDNS.InstanceName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("mavrouter-%s", host)
	}
	meta := []string{
		"version=" + version,
		"commit=" + commit,
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
