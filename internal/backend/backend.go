// Package backend dials the machines the gateway proxies to: the SSH shell
// channel behind a terminal session, the SFTP subsystem behind a file
// session, and the local guacd daemon behind an RDP/VNC session. Dial and
// authentication failures of any flavor collapse into ErrBackendUnreachable;
// the session engines translate that into the client-visible
// "connection fail..." frame.
package backend

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rjsadow/drawbridge/internal/directory"
)

// ErrBackendUnreachable wraps every dial/auth failure against a backend.
var ErrBackendUnreachable = errors.New("backend unreachable")

// DialTimeout bounds TCP and SSH connection establishment.
const DialTimeout = 10 * time.Second

// IdleTimeout is how long a shell may stay silent before the terminal
// session disconnects it.
const IdleTimeout = 10 * time.Minute

func assetAddr(asset *directory.Asset) string {
	return net.JoinHostPort(asset.IP, strconv.Itoa(asset.Port))
}

// DialGuacd opens a TCP connection to the local guacd daemon.
func DialGuacd(addr string) (*net.TCPConn, error) {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: guacd at %s: %v", ErrBackendUnreachable, addr, err)
	}
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("%w: guacd at %s: not a TCP connection", ErrBackendUnreachable, addr)
	}
	return tcp, nil
}
