package yunmao

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// defaultCommandTimeout bounds connect plus write for one command.
const defaultCommandTimeout = 2 * time.Second

// Dialer opens TCP connections to the gateway.
// *net.Dialer satisfies it; tests inject their own.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SenderConfig configures a Sender.
type SenderConfig struct {
	// Port is the gateway command port. Default: 8888.
	Port int

	// Timeout bounds connect and write. Default: 2 seconds.
	Timeout time.Duration

	// Dialer overrides the network dialer. Default: &net.Dialer{}.
	Dialer Dialer
}

// Sender delivers commands to the gateway over short-lived connections.
//
// Each command opens a fresh connection, writes one request and closes.
// Failures are returned as ErrCommand and never retried; the caller decides
// whether to re-issue. The sender never touches the state cache.
//
// Thread Safety: safe for concurrent use.
type Sender struct {
	logSink

	port    int
	timeout time.Duration
	dialer  Dialer

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewSender creates a Sender, applying defaults for zero fields.
func NewSender(cfg SenderConfig) *Sender {
	if cfg.Port == 0 {
		cfg.Port = CommandPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCommandTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}
	return &Sender{
		port:    cfg.Port,
		timeout: cfg.Timeout,
		dialer:  cfg.Dialer,
	}
}

// Send writes payload to the gateway's command port.
//
// Parameters:
//   - ctx: Parent context; the send is additionally bounded by the timeout
//   - gatewayAddr: Gateway host (IP literal)
//   - payload: Encoded request
//
// Returns:
//   - error: Wraps ErrCommand on timeout, refusal, reset or short write
func (s *Sender) Send(ctx context.Context, gatewayAddr string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	addr := net.JoinHostPort(gatewayAddr, strconv.Itoa(s.port))

	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return s.fail(addr, fmt.Errorf("%w: dial %s: %w", ErrCommand, addr, err))
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return s.fail(addr, fmt.Errorf("%w: set deadline: %w", ErrCommand, err))
		}
	}

	n, err := conn.Write(payload)
	if err != nil {
		return s.fail(addr, fmt.Errorf("%w: write %s: %w", ErrCommand, addr, err))
	}
	if n != len(payload) {
		return s.fail(addr, fmt.Errorf("%w: short write %d/%d bytes", ErrCommand, n, len(payload)))
	}

	s.sent.Add(1)
	s.logDebug("command sent", "gateway", addr, "bytes", n)
	return nil
}

// SendCommand encodes and sends a single-attribute command.
func (s *Sender) SendCommand(ctx context.Context, gatewayAddr, mac, attr, value string) error {
	payload, err := EncodeCommand(gatewayAddr, mac, attr, value)
	if err != nil {
		return err
	}
	return s.Send(ctx, gatewayAddr, payload)
}

// Sent returns the number of commands delivered.
func (s *Sender) Sent() uint64 { return s.sent.Load() }

// Failed returns the number of commands that failed.
func (s *Sender) Failed() uint64 { return s.failed.Load() }

func (s *Sender) fail(addr string, err error) error {
	s.failed.Add(1)
	s.logWarn("command failed", "gateway", addr, "error", err)
	return err
}
