// Package netinfo exposes per-TCP-client socket health (RTT, retransmits,
// congestion window) as Prometheus metrics by sampling TCP_INFO off each
// connection's file descriptor. Generalizes the sampling approach used for
// Linux's tcp_info struct in the sockstats reference package to a
// router whose TCP endpoint set changes as GCS clients connect and
// disconnect, via a custom prometheus.Collector that re-lists endpoints on
// every scrape instead of registering one gauge per connection.
package netinfo

import (
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// info is the platform-independent subset of TCP_INFO this package exposes.
type info struct {
	RTT          time.Duration
	RTTVar       time.Duration
	TotalRetrans uint32
	SndCwnd      uint32
}

// Sample pairs a label (the endpoint name) with the connection to probe.
type Sample struct {
	Name string
	Conn *net.TCPConn
}

var (
	rttDesc = prometheus.NewDesc(
		"mavrouter_tcp_rtt_seconds",
		"Smoothed round-trip time for a TCP GCS connection.",
		[]string{"endpoint"}, nil,
	)
	rttVarDesc = prometheus.NewDesc(
		"mavrouter_tcp_rttvar_seconds",
		"Round-trip time variance for a TCP GCS connection.",
		[]string{"endpoint"}, nil,
	)
	retransDesc = prometheus.NewDesc(
		"mavrouter_tcp_retransmits_total",
		"Total segments retransmitted on a TCP GCS connection.",
		[]string{"endpoint"}, nil,
	)
	cwndDesc = prometheus.NewDesc(
		"mavrouter_tcp_cwnd_segments",
		"Current congestion window, in segments, for a TCP GCS connection.",
		[]string{"endpoint"}, nil,
	)
	unreadableDesc = prometheus.NewDesc(
		"mavrouter_tcp_info_unreadable_total",
		"Total TCP_INFO sampling attempts that failed (platform unsupported or getsockopt error).",
		nil, nil,
	)
)

// Collector implements prometheus.Collector, sampling TCP_INFO for the
// current connection set returned by Lister on every scrape.
type Collector struct {
	Lister func() []Sample
}

// New returns a Collector that calls lister fresh on every Collect.
func New(lister func() []Sample) *Collector {
	return &Collector{Lister: lister}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- rttDesc
	ch <- rttVarDesc
	ch <- retransDesc
	ch <- cwndDesc
	ch <- unreadableDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var unreadable float64
	for _, s := range c.Lister() {
		info, err := sampleTCPInfo(s.Conn)
		if err != nil {
			unreadable++
			continue
		}
		ch <- prometheus.MustNewConstMetric(rttDesc, prometheus.GaugeValue, info.RTT.Seconds(), s.Name)
		ch <- prometheus.MustNewConstMetric(rttVarDesc, prometheus.GaugeValue, info.RTTVar.Seconds(), s.Name)
		ch <- prometheus.MustNewConstMetric(retransDesc, prometheus.CounterValue, float64(info.TotalRetrans), s.Name)
		ch <- prometheus.MustNewConstMetric(cwndDesc, prometheus.GaugeValue, float64(info.SndCwnd), s.Name)
	}
	ch <- prometheus.MustNewConstMetric(unreadableDesc, prometheus.CounterValue, unreadable)
}
