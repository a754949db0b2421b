package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/K4HVH/mav-lite/internal/config"
	"github.com/K4HVH/mav-lite/internal/dispatcher"
	"github.com/K4HVH/mav-lite/internal/discovery"
	"github.com/K4HVH/mav-lite/internal/endpoint"
	"github.com/K4HVH/mav-lite/internal/metrics"
	"github.com/K4HVH/mav-lite/internal/netinfo"
	"github.com/K4HVH/mav-lite/internal/routing"
	"github.com/K4HVH/mav-lite/internal/statuspub"
	"github.com/K4HVH/mav-lite/internal/supervisor"
	"github.com/K4HVH/mav-lite/internal/tcplisten"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
)

const (
	supervisorReadTimeout = 200 * time.Millisecond
	drainDeadline         = 2 * time.Second
)

func main() {
	cfgPath, showVersion := parseArgs()
	if showVersion {
		fmt.Printf("mavrouter %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	l := setupLogger(cfg)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	policy := routing.Policy{
		UARTToUART: cfg.Routing.UARTToUART,
		TCPToTCP:   cfg.Routing.TCPToTCP,
		UARTToTCP:  cfg.Routing.UARTToTCP,
		TCPToUART:  cfg.Routing.TCPToUART,
	}
	disp := dispatcher.New(policy)

	startMetricsLogger(ctx, cfg.MetricsLogInterval(), l, &wg)

	var statusPub *statuspub.Publisher
	if cfg.Redis.Enabled {
		p, err := statuspub.Dial(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		if err != nil {
			l.Warn("statuspub_dial_failed", "error", err)
		} else {
			statusPub = p
			defer func() { _ = statusPub.Close() }()
			disp.StatusPub = statusPub
		}
	}

	statics := make([]supervisor.StaticUART, 0, len(cfg.UART))
	staticPaths := make(map[string]struct{}, len(cfg.UART))
	for _, u := range cfg.UART {
		name := u.Name
		if name == "" {
			name = u.Path + "-" + xid.New().String()
		}
		statics = append(statics, supervisor.StaticUART{Path: u.Path, Baud: u.BaudRate, Name: name})
		staticPaths[u.Path] = struct{}{}
	}

	super := supervisor.New(disp, endpoint.DefaultOutBuf, supervisorReadTimeout, drainDeadline)
	if statusPub != nil {
		super.StatusPub = statusPub
	}
	super.StartStaticUARTs(ctx, statics)

	if cfg.UARTDiscovery.Enabled {
		discoveryAgent := discovery.New(
			disp,
			cfg.UARTDiscovery.DevicePattern,
			cfg.UARTDiscovery.BaudRate,
			cfg.DetectionTimeout(),
			cfg.RescanInterval(),
			endpoint.DefaultOutBuf,
			staticPaths,
		)
		if statusPub != nil {
			discoveryAgent.StatusPub = statusPub
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			discoveryAgent.Run(ctx)
		}()
	}

	if cfg.NetInfo.SampleIntervalSecs > 0 {
		collector := netinfo.New(func() []netinfo.Sample {
			eps := disp.Snapshot()
			out := make([]netinfo.Sample, 0, len(eps))
			for _, ep := range eps {
				if ep.Kind != routing.KindTCP || ep.Conn == nil {
					continue
				}
				tc, ok := ep.Conn.(*net.TCPConn)
				if !ok {
					continue
				}
				out = append(out, netinfo.Sample{Name: ep.Name, Conn: tc})
			}
			return out
		})
		prometheus.MustRegister(collector)
	}

	listener := tcplisten.New(disp, cfg.TCP.MaxClients, endpoint.DefaultOutBuf)
	if statusPub != nil {
		listener.StatusPub = statusPub
	}
	bindAddr := fmt.Sprintf("%s:%d", cfg.TCP.BindAddr, cfg.TCP.ListenPort)
	go func() {
		if err := listener.Serve(ctx, bindAddr); err != nil {
			l.Error("tcp_listener_error", "error", err)
			cancel()
		}
	}()

	go func() {
		select {
		case <-listener.Ready():
		case <-ctx.Done():
			return
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, cfg.TCP.ListenPort)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "port", cfg.TCP.ListenPort)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-listener.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})

	var metricsSrv interface{ Shutdown(context.Context) error }
	if cfg.Metrics.ListenAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv = metrics.StartHTTP(cfg.Metrics.ListenAddr)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), drainDeadline)
	defer shutdownCancel()
	_ = listener.Shutdown(shutdownCtx)
	super.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(context.Background())
	}
	wg.Wait()
}
