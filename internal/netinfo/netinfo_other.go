//go:build !linux

package netinfo

import (
	"errors"
	"net"
)

var errUnsupported = errors.New("netinfo: TCP_INFO sampling is only supported on linux")

func sampleTCPInfo(conn *net.TCPConn) (info, error) {
	return info{}, errUnsupported
}
