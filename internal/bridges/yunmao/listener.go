package yunmao

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Listener defaults.
const (
	// defaultIdleTimeout closes a push connection that sent nothing for this
	// long. The gateway heartbeats well within it.
	defaultIdleTimeout = 120 * time.Second

	// minFrameLength discards heartbeat fragments and stray whitespace.
	minFrameLength = 8

	// maxFrameLength bounds a single push line.
	maxFrameLength = 1 << 20

	// initialReadBuffer is the starting size of the per-connection buffer.
	initialReadBuffer = 8 * 1024

	// acceptRetryDelay throttles the accept loop after a transient error.
	acceptRetryDelay = 100 * time.Millisecond
)

// ListenerConfig configures the push Listener.
type ListenerConfig struct {
	// Address is the bind address. Default: ":21688".
	Address string

	// GatewayAddress is the snapshot key push updates are merged into.
	// When empty, the peer's host is used.
	GatewayAddress string

	// IdleTimeout closes a connection after this long without data.
	// Default: 120 seconds.
	IdleTimeout time.Duration
}

// ListenerStats holds push listener counters.
type ListenerStats struct {
	ConnectionsAccepted uint64
	ActiveConnections   int64
	FramesReceived      uint64
	FramesApplied       uint64
	FramesDropped       uint64
	FramesIgnored       uint64
}

// Listener accepts the gateway's push connections and applies update
// frames to the state cache.
//
// Each connection is served by its own goroutine with its own read buffer,
// so concurrent or successive gateway connections never share framing state.
// Per connection: CONNECTED → READING → (PARSING → DISPATCHING)* → CLOSED.
//
// Thread Safety: safe for concurrent use.
type Listener struct {
	logSink

	cfg   ListenerConfig
	cache *StateCache

	mu    sync.Mutex
	ln    net.Listener
	conns map[string]net.Conn
	wg    sync.WaitGroup

	accepted atomic.Uint64
	active   atomic.Int64
	received atomic.Uint64
	applied  atomic.Uint64
	dropped  atomic.Uint64
	ignored  atomic.Uint64
}

// NewListener creates a Listener that writes into cache.
func NewListener(cfg ListenerConfig, cache *StateCache) *Listener {
	if cfg.Address == "" {
		cfg.Address = ":" + strconv.Itoa(PushPort)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &Listener{
		cfg:   cfg,
		cache: cache,
		conns: make(map[string]net.Conn),
	}
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled.
func (l *Listener) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", l.cfg.Address, err)
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or ln is closed.
// Open connections are closed and drained before Serve returns.
//
// Returns:
//   - error: nil on shutdown, otherwise the fatal accept error
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.logInfo("push listener started", "address", ln.Addr().String())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	defer l.shutdown()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			l.logError("accept failed", err)
			select {
			case <-time.After(acceptRetryDelay):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		connID := uuid.NewString()
		l.track(connID, conn)
		l.wg.Add(1)
		go l.serveConn(connID, conn)
	}
}

// Addr returns the bound address, or nil before Serve is called.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Stats returns listener counters.
func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		ConnectionsAccepted: l.accepted.Load(),
		ActiveConnections:   l.active.Load(),
		FramesReceived:      l.received.Load(),
		FramesApplied:       l.applied.Load(),
		FramesDropped:       l.dropped.Load(),
		FramesIgnored:       l.ignored.Load(),
	}
}

func (l *Listener) track(connID string, conn net.Conn) {
	l.mu.Lock()
	l.conns[connID] = conn
	l.mu.Unlock()
	l.accepted.Add(1)
	l.active.Add(1)
}

func (l *Listener) untrack(connID string) {
	l.mu.Lock()
	delete(l.conns, connID)
	l.mu.Unlock()
	l.active.Add(-1)
}

// shutdown closes every open connection and waits for their goroutines.
func (l *Listener) shutdown() {
	l.mu.Lock()
	for _, conn := range l.conns {
		conn.Close()
	}
	l.mu.Unlock()
	l.wg.Wait()
	l.logInfo("push listener stopped")
}

// serveConn reads newline-delimited frames until idle timeout, EOF or reset.
func (l *Listener) serveConn(connID string, conn net.Conn) {
	defer l.wg.Done()
	defer l.untrack(connID)
	defer conn.Close()

	peer := peerHost(conn.RemoteAddr())
	l.logInfo("gateway connected", "conn_id", connID, "peer", conn.RemoteAddr().String())

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, initialReadBuffer), maxFrameLength)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(l.cfg.IdleTimeout)); err != nil {
			l.logError("set read deadline failed", err, "conn_id", connID)
			return
		}
		if !scanner.Scan() {
			l.logClose(connID, scanner.Err())
			return
		}
		l.handleLine(connID, peer, scanner.Bytes())
	}
}

// handleLine parses and dispatches one line. Malformed lines are dropped
// without affecting the connection.
func (l *Listener) handleLine(connID, peer string, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) < minFrameLength {
		return
	}
	l.received.Add(1)

	var frame PushFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		l.dropped.Add(1)
		l.logWarn("dropping push frame",
			"conn_id", connID,
			"error", fmt.Errorf("%w: %w", ErrFrame, err))
		return
	}

	if !frame.Actionable() {
		l.ignored.Add(1)
		return
	}

	gateway := l.cfg.GatewayAddress
	if gateway == "" {
		gateway = peer
	}

	mac := frame.DeviceMAC()
	l.cache.MergeAttributes(gateway, mac, frame.AttributeStrings())
	l.cache.MarkPush(gateway)
	l.applied.Add(1)
	l.logDebug("push update applied", "conn_id", connID, "mac", mac, "attributes", len(frame.Attributes))
}

// logClose logs why a connection ended. None of these are fatal; the
// gateway reconnects on its own.
func (l *Listener) logClose(connID string, err error) {
	var netErr net.Error
	switch {
	case err == nil:
		l.logInfo("gateway disconnected", "conn_id", connID)
	case errors.As(err, &netErr) && netErr.Timeout():
		l.logWarn("push connection idle, closing", "conn_id", connID, "idle_timeout", l.cfg.IdleTimeout)
	case errors.Is(err, bufio.ErrTooLong):
		l.dropped.Add(1)
		l.logWarn("push frame too long, closing", "conn_id", connID, "limit", maxFrameLength)
	case errors.Is(err, net.ErrClosed):
		l.logDebug("push connection closed", "conn_id", connID)
	default:
		l.logWarn("push connection lost", "conn_id", connID, "error", err)
	}
}

// peerHost returns the host part of a remote address.
func peerHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
