package sock

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// acceptPollInterval is how often the accept loop checks both listeners
// and the shutdown flag, matching SockServer::mainLoop's 100ms poll.
const acceptPollInterval = 100 * time.Millisecond

// Connection pairs an accepted net.Conn with the correlation id minted for
// it at accept time, so downstream logging (and the latency log a
// mergefbsender tags with its own per-message id) can name a connection
// without leaking its ephemeral local/remote address as the identifier.
type Connection struct {
	Conn net.Conn
	ID   uuid.UUID
}

// ConnectionQueue is an MT-safe FIFO of accepted connections, matching
// SockServerConnectionQueue: one goroutine's accept loop enqueues, a
// separate worker goroutine dequeues and processes.
type ConnectionQueue struct {
	mu    sync.Mutex
	conns []Connection
}

// Enq appends a newly accepted connection.
func (q *ConnectionQueue) Enq(conn net.Conn, id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.conns = append(q.conns, Connection{Conn: conn, ID: id})
}

// Deq removes and returns the oldest queued connection, or (Connection{}, false) if
// the queue is empty.
func (q *ConnectionQueue) Deq() (Connection, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.conns) == 0 {
		return Connection{}, false
	}
	conn := q.conns[0]
	q.conns = q.conns[1:]
	return conn, true
}

// ConnectFunc receives one newly accepted connection, already buffer-tuned,
// and the correlation id minted for it.
type ConnectFunc func(net.Conn, uuid.UUID)

// Server runs the dual TCP+Unix-domain accept loop of spec §4.9: an inbound
// connection on either listener is handed to connectFunc (or, via
// ServeQueue, appended to a ConnectionQueue for another goroutine to
// drain), until Shutdown is called.
type Server struct {
	shutdown chan struct{}
	once     sync.Once
}

// NewServer creates a server not yet listening.
func NewServer() *Server {
	return &Server{shutdown: make(chan struct{})}
}

// Shutdown signals the running MainLoop to stop accepting and return. Safe
// to call more than once.
func (s *Server) Shutdown() {
	s.once.Do(func() { close(s.shutdown) })
}

// ServeQueue runs MainLoop, enqueueing every accepted connection onto q for
// another goroutine to drain (the multi-thread shape of SockServer).
func (s *Server) ServeQueue(port int, unixPath string, q *ConnectionQueue) error {
	return s.MainLoop(port, unixPath, q.Enq)
}

// MainLoop opens a TCP listener on port and a Unix-domain listener at
// unixPath+"."+port (abstract namespace honored via a leading "@"), then
// polls both every acceptPollInterval, invoking connectFunc for every
// accepted connection until Shutdown is called.
func (s *Server) MainLoop(port int, unixPath string, connectFunc ConnectFunc) error {
	tcpLn, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("sock: tcp listen on port %d: %w", port, err)
	}
	defer tcpLn.Close()

	unixLn, err := net.Listen("unix", unixSocketAddress(unixPath, port))
	if err != nil {
		return fmt.Errorf("sock: unix listen at %s: %w", unixPath, err)
	}
	defer unixLn.Close()

	go func() {
		<-s.shutdown
		tcpLn.Close()
		unixLn.Close()
	}()

	tcpConns := acceptLoop(tcpLn, s.shutdown)
	unixConns := acceptLoop(unixLn, s.shutdown)

	for {
		select {
		case <-s.shutdown:
			return nil
		case conn, ok := <-tcpConns:
			if !ok {
				tcpConns = nil
				continue
			}
			s.dispatch(conn, connectFunc)
		case conn, ok := <-unixConns:
			if !ok {
				unixConns = nil
				continue
			}
			s.dispatch(conn, connectFunc)
		case <-time.After(acceptPollInterval):
		}
	}
}

func (s *Server) dispatch(conn net.Conn, connectFunc ConnectFunc) {
	if err := tuneConn(conn); err != nil {
		conn.Close()
		return
	}
	connectFunc(conn, uuid.New())
}

// acceptLoop runs net.Listener.Accept in its own goroutine (Accept has no
// cancellation primitive of its own) and forwards accepted connections
// until stop is closed, at which point the listener is closed to unblock
// Accept and the channel is closed.
func acceptLoop(ln net.Listener, stop <-chan struct{}) <-chan net.Conn {
	out := make(chan net.Conn)
	go func() {
		defer close(out)
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-stop:
					return
				default:
					continue
				}
			}
			select {
			case out <- conn:
			case <-stop:
				conn.Close()
				return
			}
		}
	}()
	return out
}
