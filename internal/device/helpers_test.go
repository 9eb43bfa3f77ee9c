package device

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/yunmao-bridge/internal/bridges/yunmao"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/config"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/database"
	"github.com/nerrad567/yunmao-bridge/migrations"
)

const testGateway = "192.168.88.118"

// fakeController records commands and routes subscriptions to a real cache.
type fakeController struct {
	cache *yunmao.StateCache

	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func newFakeController() *fakeController {
	return &fakeController{
		cache: yunmao.NewStateCache(),
		fail:  make(map[string]bool),
	}
}

func (f *fakeController) failMAC(mac string) {
	f.mu.Lock()
	f.fail[mac] = true
	f.mu.Unlock()
}

func (f *fakeController) record(mac, call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.fail[mac] {
		return fmt.Errorf("%w: dial tcp %s:8888: connection refused", yunmao.ErrCommand, testGateway)
	}
	return nil
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) SetSwitch(_ context.Context, key yunmao.DeviceKey, on bool) error {
	return f.record(key.MAC, fmt.Sprintf("%s %s=%s", key.MAC, yunmao.SwitchAttr(key.Position), yunmao.SwitchValue(on)))
}

func (f *fakeController) SetWindow(_ context.Context, mac, action string) error {
	return f.record(mac, fmt.Sprintf("%s WIN=%s", mac, action))
}

func (f *fakeController) SetLevel(_ context.Context, mac string, level int) error {
	return f.record(mac, fmt.Sprintf("%s LEV=%d", mac, level))
}

func (f *fakeController) SubscribeSwitch(key yunmao.DeviceKey, fn func(bool)) *yunmao.Subscription {
	return f.cache.SubscribeSwitch(key, fn)
}

func (f *fakeController) SubscribeWindow(mac string, fn func(yunmao.WindowState)) *yunmao.Subscription {
	return f.cache.SubscribeWindow(mac, fn)
}

func (f *fakeController) Resync(subs ...*yunmao.Subscription) int {
	return f.cache.Resync(subs...)
}

// push simulates a gateway update frame.
func (f *fakeController) push(mac string, attrs map[string]string) {
	f.cache.MergeAttributes(testGateway, mac, attrs)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) sources() []Source {
	var out []Source
	for _, ev := range r.all() {
		out = append(out, ev.Source)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var (
	hallLight = Record{
		Name:      "hall",
		Kind:      KindLight,
		MAC:       "FFFF301B977B24F4",
		Position:  1,
		MAC2:      "FFFF301B977B4D8E",
		Position2: 4,
	}
	kitchenLight = Record{Name: "kitchen", Kind: KindLight, MAC: "FFFF301B977B72F1", Position: 2}
	loungeBlind  = Record{Name: "lounge-curtain", Kind: KindCurtain, MAC: "FFFF88571DE7E9D9"}
)

// newTestLight builds a light on a fresh registry with a controllable clock.
func newTestLight(t *testing.T, rec Record) (*Light, *fakeController, *fakeClock, *eventRecorder) {
	t.Helper()
	ctl := newFakeController()
	reg := NewRegistry(ctl)
	events := &eventRecorder{}
	reg.OnChange(events.record)

	entity, err := reg.Add(rec)
	if err != nil {
		t.Fatalf("Add(%s) error = %v", rec.Name, err)
	}
	clock := newFakeClock()
	l := entity.(*Light)
	l.now = clock.now
	t.Cleanup(func() {
		l.mu.Lock()
		if l.timer != nil {
			l.timer.Stop()
		}
		l.mu.Unlock()
	})
	return l, ctl, clock, events
}

func newTestCurtain(t *testing.T, rec Record) (*Curtain, *fakeController, *fakeClock, *eventRecorder) {
	t.Helper()
	ctl := newFakeController()
	reg := NewRegistry(ctl)
	events := &eventRecorder{}
	reg.OnChange(events.record)

	entity, err := reg.Add(rec)
	if err != nil {
		t.Fatalf("Add(%s) error = %v", rec.Name, err)
	}
	clock := newFakeClock()
	c := entity.(*Curtain)
	c.now = clock.now
	t.Cleanup(func() {
		c.mu.Lock()
		if c.timer != nil {
			c.timer.Stop()
		}
		c.mu.Unlock()
	})
	return c, ctl, clock, events
}

// openTestRepo returns a repository on a migrated in-memory database.
func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}
