//go:build linux

package netinfo

import (
	"net"
	"time"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// sampleTCPInfo retrieves TCP_INFO for conn via getsockopt, following the
// same syscall the sockstats reference package uses to populate its
// RawTCPInfo struct, but through x/sys/unix's already-unpacked TCPInfo
// rather than hand-rolling the kernel struct layout ourselves. netfd
// recovers the raw file descriptor from the net.Conn.
func sampleTCPInfo(conn *net.TCPConn) (info, error) {
	fd, err := netfd.GetFdFromConn(conn)
	if err != nil {
		return info{}, err
	}
	ti, err := unix.GetsockoptTCPInfo(fd, unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return info{}, err
	}
	return info{
		RTT:          time.Duration(ti.Rtt) * time.Microsecond,
		RTTVar:       time.Duration(ti.Rttvar) * time.Microsecond,
		TotalRetrans: ti.Total_retrans,
		SndCwnd:      ti.Snd_cwnd,
	}, nil
}
