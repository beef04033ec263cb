// Package sock provides the merge node's raw byte-stream transport: a
// retrying client dialer and a dual-listener (TCP + Unix-domain) server
// accept loop, matching the "localhost → Unix domain, otherwise INET"
// selection and buffer tuning of original_source's SockClient/SockServer
// (spec §4.9). Message framing lives in package wire; this package only
// owns the connection lifecycle.
package sock

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// sockBufferSize is the send/recv socket buffer size requested on every
// opened connection (capped by /proc/sys/net/core/{r,w}mem_max on Linux,
// same caveat as the original).
const sockBufferSize = 32 * 1024 * 1024

const (
	dialRetryMax      = 10
	dialRetryInterval = 500 * time.Millisecond

	// resolveRetryMax bounds the DNS resolution retry loop run ahead of
	// every connect attempt, matching SockClient.cc's getHostByName: a
	// transient empty gethostbyname() result is retried immediately (no
	// sleep), independently of the outer connect retry's 500ms cadence.
	resolveRetryMax = 16
)

// Client dials a server, preferring a Unix-domain socket when the target
// host is "localhost" (an abstract-namespace path, prefixed with "@", is
// honored verbatim) and falling back to TCP otherwise.
type Client struct {
	HostName           string
	Port               int
	UnixDomainSockPath string
}

// NewClient creates a dialer for hostName:port. unixDomainSockPath is only
// consulted when hostName == "localhost"; an empty path falls back to
// "/tmp/sockclient.localhost".
func NewClient(hostName string, port int, unixDomainSockPath string) *Client {
	return &Client{HostName: hostName, Port: port, UnixDomainSockPath: unixDomainSockPath}
}

// Open dials the server, retrying up to dialRetryMax times at
// dialRetryInterval on failure (matching SockClient::open's retry loop),
// resolving the target host fresh on every attempt, and tunes the
// resulting connection's socket buffers / TCP_NODELAY.
func (c *Client) Open(ctx context.Context) (net.Conn, error) {
	network, _ := c.dialTarget()

	var lastErr error
	for attempt := 0; attempt < dialRetryMax; attempt++ {
		address, err := c.resolveDialAddress(ctx)
		if err != nil {
			lastErr = err
		} else {
			var d net.Dialer
			var conn net.Conn
			conn, err = d.DialContext(ctx, network, address)
			if err == nil {
				if tuneErr := tuneConn(conn); tuneErr != nil {
					conn.Close()
					return nil, tuneErr
				}
				return conn, nil
			}
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialRetryInterval):
		}
	}
	return nil, fmt.Errorf("sock: could not open server connection %s %s:%d: %w", network, c.HostName, c.Port, lastErr)
}

func (c *Client) dialTarget() (network, address string) {
	if c.HostName == "localhost" {
		path := c.UnixDomainSockPath
		if path == "" {
			path = "/tmp/sockclient.localhost"
		}
		return "unix", unixSocketAddress(path, c.Port)
	}
	return "tcp", net.JoinHostPort(c.HostName, strconv.Itoa(c.Port))
}

// resolveDialAddress returns the literal address to dial: the unix-domain
// path verbatim for the localhost case, or a DNS-resolved "ip:port" for
// everything else (spec.md:239's two-budget retry — see resolveHost for
// the DNS-specific leg).
func (c *Client) resolveDialAddress(ctx context.Context) (string, error) {
	_, address := c.dialTarget()
	if c.HostName == "localhost" {
		return address, nil
	}
	ip, err := c.resolveHost(ctx)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(ip, strconv.Itoa(c.Port)), nil
}

// resolveHost looks up c.HostName, retrying immediately (no sleep) up to
// resolveRetryMax times against a transient empty/error result, matching
// SockClient.cc's getHostByName: "sometimes host info is corrupt even
// some info is returned... we should try gethostbyname() again."
func (c *Client) resolveHost(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 0; attempt < resolveRetryMax; attempt++ {
		addrs, err := net.DefaultResolver.LookupHost(ctx, c.HostName)
		if err != nil {
			lastErr = err
			continue
		}
		if len(addrs) == 0 {
			lastErr = fmt.Errorf("sock: DNS lookup for %q returned no addresses", c.HostName)
			continue
		}
		return addrs[0], nil
	}
	return "", fmt.Errorf("sock: could not resolve host %q after %d attempts: %w", c.HostName, resolveRetryMax, lastErr)
}

// unixSocketAddress builds "path.port", honoring the abstract-namespace
// convention of a leading "@" (Go's net package already treats a leading
// "@" in a unix address as abstract, same as the original's sun_path[0]=0
// rewrite).
func unixSocketAddress(path string, port int) string {
	return path + "." + strconv.Itoa(port)
}

// tuneConn applies TCP_NODELAY (TCP connections only) and the socket send/
// receive buffer sizes, matching SockClient's setsockopt calls.
func tuneConn(conn net.Conn) error {
	sc, ok := conn.(syscallConner)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return fmt.Errorf("sock: SyscallConn: %w", err)
	}

	var controlErr error
	err = raw.Control(func(fd uintptr) {
		if strings.HasPrefix(conn.LocalAddr().Network(), "tcp") {
			if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); e != nil {
				controlErr = fmt.Errorf("sock: TCP_NODELAY: %w", e)
				return
			}
		}
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, sockBufferSize); e != nil {
			controlErr = fmt.Errorf("sock: SO_SNDBUF: %w", e)
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, sockBufferSize); e != nil {
			controlErr = fmt.Errorf("sock: SO_RCVBUF: %w", e)
			return
		}
	})
	if err != nil {
		return fmt.Errorf("sock: raw control: %w", err)
	}
	return controlErr
}

type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}
