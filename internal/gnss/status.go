package gnss

import (
	"sync"
	"time"
)

// Status is the read-only snapshot delivered to observers whenever the
// state machine completes a cycle that changed something worth reporting.
type Status struct {
	State       string `json:"state"`
	Connected   bool   `json:"connected"`
	HasLock     bool   `json:"has_lock"`
	PowerSaving bool   `json:"power_saving"`
	Model       string `json:"model"`
	Baud        int    `json:"baud,omitempty"`
	Satellites  int    `json:"satellites"`
	Fix         *Fix   `json:"fix,omitempty"`
	TimeUTC     string `json:"time_utc,omitempty"`
	LastTraffic string `json:"last_traffic_utc,omitempty"`
	UpdatedUTC  string `json:"updated_utc"`
}

// Broadcaster fans status snapshots out to subscribers (web stream, UDP
// beacon, MQTT bridge). It keeps the most recent value so a new subscriber
// gets an immediate sample. Sends never block: a slow consumer misses
// intermediate updates rather than stalling the driver.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan Status
	nextID   int
	last     Status
	haveLast bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Status)}
}

func (b *Broadcaster) Subscribe(buffer int) (int, <-chan Status) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan Status, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last := b.last
	have := b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(st Status) {
	if b == nil {
		return
	}
	if st.UpdatedUTC == "" {
		st.UpdatedUTC = timeNow().UTC().Format(time.RFC3339Nano)
	}
	b.mu.RLock()
	subs := make([]chan Status, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- st:
		default:
		}
	}
	b.mu.Lock()
	b.last = st
	b.haveLast = true
	b.mu.Unlock()
}

// Last returns the most recently published snapshot, if any.
func (b *Broadcaster) Last() (Status, bool) {
	if b == nil {
		return Status{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.haveLast
}
