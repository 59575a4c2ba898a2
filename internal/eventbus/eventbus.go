// Package eventbus implements the append-only structured event log that
// every component publishes to through core.EventPublisher:
// the bus stamps an event envelope and fans it out to subscribers (the
// WebSocket hub in pkg/liveserver, primarily), while durably persisting the
// tail of the log to disk on every publish.
//
// Persistence is grounded on internal/store/sqlite.go's durability posture —
// a write must never leave a half-written file behind — but since the log is
// a flat JSONL file rather than a SQL database, the atomicity mechanism is a
// temp-file-then-rename: the bounded in-memory tail is serialized to
// "<path>.tmp" and renamed over "<path>" on every flush, so a reader only
// ever observes a complete file. A leftover "<path>.tmp" after a crash mid
// rename is removed on the next Open.
package eventbus

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opensqt/perpcore/internal/core"
)

// Event is one entry in the durable log and the payload handed to subscribers.
type Event struct {
	Type string      `json:"type"`
	Ts   time.Time   `json:"ts"`
	Data interface{} `json:"data"`
}

// defaultBacklog bounds both the in-memory tail kept for persistence and the
// per-subscriber buffer before the drop-oldest policy kicks in.
const defaultBacklog = 1024

// Bus is an append-only event log plus a fan-out point for live subscribers.
// It implements core.EventPublisher.
type Bus struct {
	path    string
	backlog int
	logger  core.ILogger

	mu   sync.Mutex
	tail []Event
	subs map[int]*subscription
	next int
}

// New constructs a Bus. path may be empty, in which case the bus only fans
// out to subscribers and never touches disk (used by tests and dry-run modes).
func New(path string, logger core.ILogger) *Bus {
	return &Bus{
		path:    path,
		backlog: defaultBacklog,
		logger:  logger.WithField("component", "eventbus"),
		subs:    make(map[int]*subscription),
	}
}

// Open removes any leftover "<path>.tmp" from a crash mid-rename and loads
// the existing log tail, if present, so a restart doesn't lose recent history.
func (b *Bus) Open() error {
	if b.path == "" {
		return nil
	}
	_ = os.Remove(b.path + ".tmp")

	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var loaded []Event
	for {
		var e Event
		if err := dec.Decode(&e); err != nil {
			break
		}
		loaded = append(loaded, e)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(loaded) > b.backlog {
		loaded = loaded[len(loaded)-b.backlog:]
	}
	b.tail = loaded
	return nil
}

// Publish implements core.EventPublisher. It stamps the event, appends it to
// the durable tail, flushes to disk, and fans it out to every live subscriber.
func (b *Bus) Publish(eventType string, data interface{}) {
	evt := Event{Type: eventType, Ts: time.Now(), Data: data}

	b.mu.Lock()
	b.tail = append(b.tail, evt)
	if len(b.tail) > b.backlog {
		b.tail = b.tail[len(b.tail)-b.backlog:]
	}
	tailCopy := make([]Event, len(b.tail))
	copy(tailCopy, b.tail)
	subsCopy := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subsCopy = append(subsCopy, s)
	}
	b.mu.Unlock()

	if b.path != "" {
		if err := b.flush(tailCopy); err != nil {
			b.logger.Error("event log flush failed", "error", err)
		}
	}

	for _, s := range subsCopy {
		s.deliver(evt)
	}
}

func (b *Bus) flush(tail []Event) error {
	tmp := b.path + ".tmp"
	if dir := filepath.Dir(b.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, e := range tail {
		if err := enc.Encode(e); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}

// subscription is one live observer's per-event channel with a bounded
// backlog. A lagging observer never gets disconnected:
// once its buffer is full, the oldest buffered event is dropped and the next
// Drain reports lossy so the observer can surface the gap.
type subscription struct {
	mu     sync.Mutex
	buf    []Event
	lossy  bool
	notify chan struct{}
	cap    int
}

// Subscription is the subscriber-facing handle returned by Subscribe.
type Subscription struct {
	bus *Bus
	id  int
	sub *subscription
}

func newSubscription(capacity int) *subscription {
	return &subscription{notify: make(chan struct{}, 1), cap: capacity}
}

func (s *subscription) deliver(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) >= s.cap {
		s.buf = s.buf[1:]
		s.lossy = true
	}
	s.buf = append(s.buf, evt)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Drain returns every event buffered since the last Drain call, along with
// whether any event was dropped for this subscriber in that span.
func (s *subscription) drain() ([]Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buf
	s.buf = nil
	lossy := s.lossy
	s.lossy = false
	return out, lossy
}

// Subscribe registers a new observer and returns a handle to pull events from.
func (b *Bus) Subscribe() *Subscription {
	sub := newSubscription(b.backlog)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	return &Subscription{bus: b, id: id, sub: sub}
}

// Unsubscribe removes the observer; safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
}

// Notify returns a channel that receives a value whenever new events are
// buffered for this subscriber. It is not closed on Unsubscribe.
func (s *Subscription) Notify() <-chan struct{} { return s.sub.notify }

// Drain returns every event buffered since the last call, and whether at
// least one event was dropped for this subscriber (lossy) in that span.
func (s *Subscription) Drain() ([]Event, bool) { return s.sub.drain() }

// Tail returns a snapshot of the most recent events in the durable log, most
// recent last, used to answer the initial "snapshot" message on WS connect.
func (b *Bus) Tail(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.tail) {
		n = len(b.tail)
	}
	out := make([]Event, n)
	copy(out, b.tail[len(b.tail)-n:])
	return out
}

var _ core.EventPublisher = (*Bus)(nil)
