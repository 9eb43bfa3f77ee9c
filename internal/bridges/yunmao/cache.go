package yunmao

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DeviceKey identifies one switchable circuit behind a gateway module.
type DeviceKey struct {
	// MAC is the gateway's 16-hex-character module identifier.
	MAC string

	// Position is the 1-based circuit index within the module.
	Position int
}

// String returns "MAC/position".
func (k DeviceKey) String() string {
	return fmt.Sprintf("%s/%d", k.MAC, k.Position)
}

// WindowState is the decoded state of a curtain.
type WindowState struct {
	Closed   bool `json:"closed"`
	Position int  `json:"position"`
}

// AttributeSnapshot maps MAC to attribute name to raw value, as last
// reported by one gateway.
type AttributeSnapshot map[string]map[string]string

// Clone returns a deep copy of the snapshot.
func (s AttributeSnapshot) Clone() AttributeSnapshot {
	if s == nil {
		return nil
	}
	out := make(AttributeSnapshot, len(s))
	for mac, attrs := range s {
		copied := make(map[string]string, len(attrs))
		for k, v := range attrs {
			copied[k] = v
		}
		out[mac] = copied
	}
	return out
}

type subscriptionKind int

const (
	subscriptionSwitch subscriptionKind = iota
	subscriptionWindow
)

// Subscription is an opaque handle for a state-change callback.
//
// It holds only the key and the callback, never the subscribing entity.
// The evaluation bookkeeping is owned by the StateCache and only touched
// under its lock. Each evaluation is stamped with a sequence number so
// callbacks run in the order the cache recorded the values, even when two
// updates deliver concurrently.
type Subscription struct {
	id       string
	kind     subscriptionKind
	key      DeviceKey
	onSwitch func(bool)
	onWindow func(WindowState)

	delivered  bool
	lastSwitch bool
	lastWindow WindowState
	seq        uint64

	deliverMu    sync.Mutex
	deliveredSeq uint64
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// MAC returns the module the subscription watches.
func (s *Subscription) MAC() string { return s.key.MAC }

// Key returns the watched circuit. Position is zero for curtain subscriptions.
func (s *Subscription) Key() DeviceKey { return s.key }

// CacheStats holds StateCache counters.
type CacheStats struct {
	Gateways      int
	Subscriptions int
	Notifications uint64
	DecodeErrors  uint64
}

// StateCache holds the last known attributes per gateway and the
// subscriber registry.
//
// One instance is created at start-up and shared by the listener, the
// poller and every device entity.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - A single mutex guards all state. It is never held while a subscriber
//     callback runs; notifications are collected under the lock and
//     delivered after it is released.
type StateCache struct {
	logSink

	mu        sync.Mutex
	snapshots map[string]AttributeSnapshot
	lastPush  map[string]time.Time
	byMAC     map[string][]*Subscription
	subCount  int

	notifications atomic.Uint64
	decodeErrors  atomic.Uint64

	now func() time.Time
}

// NewStateCache creates an empty cache.
func NewStateCache() *StateCache {
	return &StateCache{
		snapshots: make(map[string]AttributeSnapshot),
		lastPush:  make(map[string]time.Time),
		byMAC:     make(map[string][]*Subscription),
		now:       time.Now,
	}
}

// Snapshot returns a copy of the snapshot for a gateway, or nil if the
// gateway has never reported.
func (c *StateCache) Snapshot(gatewayAddr string) AttributeSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshots[gatewayAddr].Clone()
}

// Attributes returns a copy of one module's attributes, or nil.
func (c *StateCache) Attributes(gatewayAddr, mac string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	attrs, ok := c.snapshots[gatewayAddr][mac]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// ReplaceSnapshot installs a full snapshot for a gateway, as read by a poll,
// and notifies every subscriber whose decoded value changed.
func (c *StateCache) ReplaceSnapshot(gatewayAddr string, snap AttributeSnapshot) {
	c.mu.Lock()
	installed := snap.Clone()
	if installed == nil {
		installed = make(AttributeSnapshot)
	}
	c.snapshots[gatewayAddr] = installed

	var pending []func()
	for mac, attrs := range installed {
		pending = c.collectLocked(mac, attrs, pending)
	}
	c.mu.Unlock()

	c.deliver(pending)
}

// MergeAttributes updates attributes of a single module, as carried by a
// push notification. Attributes not named are kept. The module entry is
// created if absent.
func (c *StateCache) MergeAttributes(gatewayAddr, mac string, attrs map[string]string) {
	if mac == "" || len(attrs) == 0 {
		return
	}

	c.mu.Lock()
	snap, ok := c.snapshots[gatewayAddr]
	if !ok {
		snap = make(AttributeSnapshot)
		c.snapshots[gatewayAddr] = snap
	}
	current, ok := snap[mac]
	if !ok {
		current = make(map[string]string, len(attrs))
		snap[mac] = current
	}
	for name, value := range attrs {
		current[name] = value
	}

	pending := c.collectLocked(mac, current, nil)
	c.mu.Unlock()

	c.deliver(pending)
}

// MarkPush records that push data for a gateway has just been applied.
func (c *StateCache) MarkPush(gatewayAddr string) {
	c.mu.Lock()
	c.lastPush[gatewayAddr] = c.now()
	c.mu.Unlock()
}

// LastPush returns when push data for a gateway was last applied.
// The zero time means push data has never been seen.
func (c *StateCache) LastPush(gatewayAddr string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPush[gatewayAddr]
}

// SubscribeSwitch registers fn to receive the decoded on/off state of a
// switch circuit. fn runs only when the decoded value changes. If the
// circuit's state is already known it is delivered immediately.
func (c *StateCache) SubscribeSwitch(key DeviceKey, fn func(on bool)) *Subscription {
	return c.subscribe(&Subscription{
		id:       uuid.NewString(),
		kind:     subscriptionSwitch,
		key:      key,
		onSwitch: fn,
	})
}

// SubscribeWindow registers fn to receive curtain state for a module.
// fn runs only when the translated state changes.
func (c *StateCache) SubscribeWindow(mac string, fn func(WindowState)) *Subscription {
	return c.subscribe(&Subscription{
		id:       uuid.NewString(),
		kind:     subscriptionWindow,
		key:      DeviceKey{MAC: mac},
		onWindow: fn,
	})
}

// Resync re-reads the current state of each subscription and delivers it
// even if it equals the last delivered value. Entities call it once their
// own view may have drifted from the cache, for example after an
// optimistic command. Subscriptions on modules the cache has never seen
// are left alone. It returns the number of subscriptions whose module is
// known, and must not be called from the callback of one of the
// subscriptions it resyncs.
func (c *StateCache) Resync(subs ...*Subscription) int {
	c.mu.Lock()
	known := 0
	var pending []func()
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		attrs := c.knownAttributesLocked(sub.key.MAC)
		if attrs == nil {
			continue
		}
		known++
		sub.delivered = false
		if fn := c.evaluateLocked(sub, attrs); fn != nil {
			pending = append(pending, fn)
		}
	}
	c.mu.Unlock()

	c.deliver(pending)
	return known
}

// Stats returns cache counters.
func (c *StateCache) Stats() CacheStats {
	c.mu.Lock()
	gateways, subs := len(c.snapshots), c.subCount
	c.mu.Unlock()

	return CacheStats{
		Gateways:      gateways,
		Subscriptions: subs,
		Notifications: c.notifications.Load(),
		DecodeErrors:  c.decodeErrors.Load(),
	}
}

func (c *StateCache) subscribe(sub *Subscription) *Subscription {
	c.mu.Lock()
	c.byMAC[sub.key.MAC] = append(c.byMAC[sub.key.MAC], sub)
	c.subCount++

	var pending []func()
	if attrs := c.knownAttributesLocked(sub.key.MAC); attrs != nil {
		if fn := c.evaluateLocked(sub, attrs); fn != nil {
			pending = append(pending, fn)
		}
	}
	c.mu.Unlock()

	c.deliver(pending)
	return sub
}

// knownAttributesLocked finds a module's attributes across gateways,
// preferring the first gateway in address order.
func (c *StateCache) knownAttributesLocked(mac string) map[string]string {
	addrs := make([]string, 0, len(c.snapshots))
	for addr := range c.snapshots {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		if attrs, ok := c.snapshots[addr][mac]; ok {
			return attrs
		}
	}
	return nil
}

// collectLocked appends pending notifications for every subscription on mac.
func (c *StateCache) collectLocked(mac string, attrs map[string]string, pending []func()) []func() {
	for _, sub := range c.byMAC[mac] {
		if fn := c.evaluateLocked(sub, attrs); fn != nil {
			pending = append(pending, fn)
		}
	}
	return pending
}

// evaluateLocked recomputes a subscription's value and returns a delivery
// closure when it differs from the last delivered value.
func (c *StateCache) evaluateLocked(sub *Subscription, attrs map[string]string) func() {
	switch sub.kind {
	case subscriptionSwitch:
		word, ok := attrs[AttrSwitch]
		if !ok {
			return nil
		}
		on, err := Decode(word, sub.key.Position)
		if err != nil {
			c.decodeErrors.Add(1)
			c.logWarn("switch state decode failed",
				"device", sub.key.String(),
				"subscription", sub.id,
				"error", err)
			return nil
		}
		if sub.delivered && sub.lastSwitch == on {
			return nil
		}
		sub.delivered = true
		sub.lastSwitch = on
		fn := sub.onSwitch
		return sub.ordered(func() { fn(on) })

	case subscriptionWindow:
		state, ok := translateWindow(attrs[AttrWindow])
		if !ok {
			return nil
		}
		if sub.delivered && sub.lastWindow == state {
			return nil
		}
		sub.delivered = true
		sub.lastWindow = state
		fn := sub.onWindow
		return sub.ordered(func() { fn(state) })
	}
	return nil
}

// ordered stamps a delivery with the next sequence number. Must be called
// with the cache lock held. A delivery that loses the race to a later one
// is dropped, since the later value is the one the cache holds.
func (s *Subscription) ordered(fn func()) func() {
	s.seq++
	seq := s.seq
	return func() {
		s.deliverMu.Lock()
		defer s.deliverMu.Unlock()
		if seq <= s.deliveredSeq {
			return
		}
		s.deliveredSeq = seq
		fn()
	}
}

// deliver runs notifications outside the lock, isolating subscriber panics.
func (c *StateCache) deliver(pending []func()) {
	for _, fn := range pending {
		c.notifications.Add(1)
		c.invoke(fn)
	}
}

func (c *StateCache) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logError("subscriber panic recovered", fmt.Errorf("%v", r))
		}
	}()
	fn()
}
