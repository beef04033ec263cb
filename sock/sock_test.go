package sock

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestClientDialTargetLocalhostUsesUnixDomain(t *testing.T) {
	c := NewClient("localhost", 20001, "@mcrt")
	network, address := c.dialTarget()
	require.Equal(t, "unix", network)
	require.Equal(t, "@mcrt.20001", address)
}

func TestClientDialTargetRemoteHostUsesTCP(t *testing.T) {
	c := NewClient("render03", 20001, "")
	network, address := c.dialTarget()
	require.Equal(t, "tcp", network)
	require.Equal(t, "render03:20001", address)
}

func TestClientDialTargetLocalhostDefaultsUnixPath(t *testing.T) {
	c := NewClient("localhost", 7, "")
	_, address := c.dialTarget()
	require.Equal(t, "/tmp/sockclient.localhost.7", address)
}

func TestResolveDialAddressLocalhostSkipsDNS(t *testing.T) {
	c := NewClient("localhost", 20001, "@mcrt")
	address, err := c.resolveDialAddress(context.Background())
	require.NoError(t, err)
	require.Equal(t, "@mcrt.20001", address)
}

func TestResolveDialAddressResolvesIPLiteralWithoutNetwork(t *testing.T) {
	// An IP literal is resolved by net's resolver without touching the
	// network, so this exercises the real resolveHost retry loop offline.
	c := NewClient("127.0.0.1", 20001, "")
	address, err := c.resolveDialAddress(context.Background())
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:20001", address)
}

func TestResolveHostFailsAfterRetriesExhausted(t *testing.T) {
	// A hostname that can never resolve must exhaust resolveRetryMax
	// attempts and return an error, not hang or silently succeed.
	c := NewClient("this-host-does-not-resolve.invalid", 20001, "")
	_, err := c.resolveHost(context.Background())
	require.Error(t, err)
}

func TestServerMainLoopAcceptsTCPConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	unixPath := "/tmp/sock-test-" + strconv.Itoa(port)

	srv := NewServer()
	accepted := make(chan net.Conn, 1)
	go func() {
		_ = srv.MainLoop(port, unixPath, func(c net.Conn, id uuid.UUID) {
			require.NotZero(t, id)
			accepted <- c
		})
	}()
	defer srv.Shutdown()

	// Give the listeners a moment to bind before dialing.
	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 100*time.Millisecond)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	select {
	case c := <-accepted:
		require.NotNil(t, c)
		c.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("server did not accept the connection in time")
	}
}

func TestConnectionQueueFIFO(t *testing.T) {
	var q ConnectionQueue
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	id1, id2 := uuid.New(), uuid.New()
	q.Enq(c1, id1)
	q.Enq(c2, id2)

	got1, ok := q.Deq()
	require.True(t, ok)
	require.Equal(t, c1, got1.Conn)
	require.Equal(t, id1, got1.ID)

	got2, ok := q.Deq()
	require.True(t, ok)
	require.Equal(t, c2, got2.Conn)
	require.Equal(t, id2, got2.ID)

	_, ok = q.Deq()
	require.False(t, ok)
}

func TestClientOpenFailsWhenContextExpires(t *testing.T) {
	// Dialing a port nothing listens on must return an error rather than
	// hang; the short-lived context ends Open during its first retry wait,
	// well before dialRetryMax attempts have been made.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	c := NewClient("127.0.0.1", 1, "") // port 1 is reserved, nothing listens
	_, err := c.Open(ctx)
	require.Error(t, err)
}
