package yunmao

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Poller defaults.
const (
	defaultPollInterval    = 5 * time.Second
	defaultQueryTimeout    = 5 * time.Second
	defaultPushFreshWindow = 120 * time.Second

	// queryChunkSize is the read size for query responses.
	queryChunkSize = 8 * 1024

	// maxQueryResponse bounds the accumulated query response.
	maxQueryResponse = 4 << 20
)

// PollPolicy decides how polling interacts with push data.
type PollPolicy string

const (
	// PolicyFallback polls only while push data is missing or stale.
	// Polling resumes by itself if the push link goes quiet.
	PolicyFallback PollPolicy = "fallback"

	// PolicyOneShot stops polling for good once push data has been seen.
	PolicyOneShot PollPolicy = "oneshot"

	// PolicyAlways polls on every tick regardless of push data.
	PolicyAlways PollPolicy = "always"
)

// Valid reports whether p is a known policy.
func (p PollPolicy) Valid() bool {
	switch p {
	case PolicyFallback, PolicyOneShot, PolicyAlways:
		return true
	}
	return false
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	// GatewayAddress is the gateway host to query. Required.
	GatewayAddress string

	// Port is the gateway command port. Default: 8888.
	Port int

	// Interval is the tick period. Default: 5 seconds.
	Interval time.Duration

	// ReadTimeout bounds the dial and each read chunk. Default: 5 seconds.
	ReadTimeout time.Duration

	// Policy selects push interaction. Default: PolicyFallback.
	Policy PollPolicy

	// FreshWindow is how long push data suppresses polling under
	// PolicyFallback. Default: 120 seconds.
	FreshWindow time.Duration

	// Dialer overrides the network dialer.
	Dialer Dialer
}

// PollerStats holds poller counters.
type PollerStats struct {
	PollsOK         uint64
	PollsFailed     uint64
	PollsSkipped    uint64 // tick fired while a poll was in flight
	PollsSuppressed uint64 // tick not needed because push data is fresh
	Disabled        bool
	LastSuccess     time.Time
}

// Poller queries the gateway for a full snapshot on a fixed interval.
//
// At most one poll is in flight; a tick that fires while the previous poll
// is still running is skipped, never queued. Query failures are logged and
// the tick is dropped.
//
// Thread Safety: safe for concurrent use.
type Poller struct {
	logSink

	cfg    PollerConfig
	cache  *StateCache
	dialer Dialer

	inFlight atomic.Bool
	disabled atomic.Bool
	wg       sync.WaitGroup

	ok          atomic.Uint64
	failed      atomic.Uint64
	skipped     atomic.Uint64
	suppressed  atomic.Uint64
	lastSuccess atomic.Int64

	now func() time.Time
}

// NewPoller creates a Poller that writes into cache.
func NewPoller(cfg PollerConfig, cache *StateCache) *Poller {
	if cfg.Port == 0 {
		cfg.Port = CommandPort
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultQueryTimeout
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyFallback
	}
	if cfg.FreshWindow <= 0 {
		cfg.FreshWindow = defaultPushFreshWindow
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &Poller{
		cfg:    cfg,
		cache:  cache,
		dialer: dialer,
		now:    time.Now,
	}
}

// Run polls immediately and then on every tick until ctx is cancelled.
// It waits for an in-flight poll to finish before returning.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	defer p.wg.Wait()

	p.logInfo("poller started",
		"gateway", p.cfg.GatewayAddress,
		"interval", p.cfg.Interval,
		"policy", string(p.cfg.Policy))

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logInfo("poller stopped")
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick starts one poll unless policy suppresses it or one is in flight.
func (p *Poller) tick(ctx context.Context) {
	if !p.shouldPoll() {
		p.suppressed.Add(1)
		return
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		p.logDebug("poll still in flight, skipping tick")
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)
		if err := p.PollOnce(ctx); err != nil {
			p.logWarn("poll failed", "gateway", p.cfg.GatewayAddress, "error", err)
		}
	}()
}

// shouldPoll applies the push policy, latching the one-shot disable the
// first time push data is seen.
func (p *Poller) shouldPoll() bool {
	if p.cfg.Policy == PolicyOneShot && !p.disabled.Load() &&
		!p.cache.LastPush(p.cfg.GatewayAddress).IsZero() {
		p.disabled.Store(true)
		p.logInfo("push data received, polling disabled", "gateway", p.cfg.GatewayAddress)
	}
	return p.Active()
}

// PollOnce queries the gateway and replaces the cached snapshot.
//
// Returns:
//   - error: Wraps ErrQuery on network or parse failure; the cache is untouched
func (p *Poller) PollOnce(ctx context.Context) error {
	snap, err := p.Query(ctx)
	if err != nil {
		p.failed.Add(1)
		return err
	}

	p.cache.ReplaceSnapshot(p.cfg.GatewayAddress, snap)
	p.ok.Add(1)
	p.lastSuccess.Store(p.now().Unix())
	p.logDebug("poll applied", "gateway", p.cfg.GatewayAddress, "modules", len(snap))
	return nil
}

// Query sends a query request and reads the full response.
//
// The write side is half-closed after the request; the gateway signals the
// end of its response by closing. Each read chunk gets its own deadline.
func (p *Poller) Query(ctx context.Context) (AttributeSnapshot, error) {
	addr := net.JoinHostPort(p.cfg.GatewayAddress, strconv.Itoa(p.cfg.Port))

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ReadTimeout)
	conn, err := p.dialer.DialContext(dialCtx, "tcp", addr)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrQuery, addr, err)
	}
	defer conn.Close()

	payload, err := EncodeQuery(p.cfg.GatewayAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", ErrQuery, err)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
		return nil, fmt.Errorf("%w: set deadline: %w", ErrQuery, err)
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("%w: write: %w", ErrQuery, err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return nil, fmt.Errorf("%w: close write: %w", ErrQuery, err)
		}
	}

	body, err := p.readAll(conn)
	if err != nil {
		return nil, err
	}

	var resp QueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrQuery, err)
	}
	if resp.Attributes == nil {
		return nil, fmt.Errorf("%w: response has no attributes", ErrQuery)
	}

	return resp.Snapshot(), nil
}

// readAll accumulates the response until EOF.
func (p *Poller) readAll(conn net.Conn) ([]byte, error) {
	var body []byte
	buf := make([]byte, queryChunkSize)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
			return nil, fmt.Errorf("%w: set deadline: %w", ErrQuery, err)
		}
		n, err := conn.Read(buf)
		body = append(body, buf[:n]...)
		if len(body) > maxQueryResponse {
			return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrQuery, maxQueryResponse)
		}
		if errors.Is(err, io.EOF) {
			return body, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read: %w", ErrQuery, err)
		}
	}
}

// Active reports whether ticks currently result in polls.
func (p *Poller) Active() bool {
	switch p.cfg.Policy {
	case PolicyAlways:
		return true
	case PolicyOneShot:
		return !p.disabled.Load() && p.cache.LastPush(p.cfg.GatewayAddress).IsZero()
	default:
		last := p.cache.LastPush(p.cfg.GatewayAddress)
		return last.IsZero() || p.now().Sub(last) > p.cfg.FreshWindow
	}
}

// Stats returns poller counters.
func (p *Poller) Stats() PollerStats {
	stats := PollerStats{
		PollsOK:         p.ok.Load(),
		PollsFailed:     p.failed.Load(),
		PollsSkipped:    p.skipped.Load(),
		PollsSuppressed: p.suppressed.Load(),
		Disabled:        p.disabled.Load(),
	}
	if ts := p.lastSuccess.Load(); ts > 0 {
		stats.LastSuccess = time.Unix(ts, 0)
	}
	return stats
}
