package pipeline

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"liberator/internal/types"
)

// Event is one stage change (or, with From == To, a notable step inside a
// stage such as a completed dispatch). Seq is strictly increasing per run.
type Event struct {
	RunID   string      `json:"runId"`
	Seq     int         `json:"seq"`
	From    types.Stage `json:"from"`
	To      types.Stage `json:"to"`
	At      time.Time   `json:"at"`
	Message string      `json:"message,omitempty"`
}

// broker fans events out to subscribers. Delivery never blocks the
// controller; a subscriber that falls behind loses events.
type broker struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func (b *broker) subscribe(size int) (<-chan Event, func()) {
	if size <= 0 {
		size = 16
	}
	ch := make(chan Event, size)
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *broker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.WithFields(log.Fields{"run": ev.RunID, "seq": ev.Seq}).Warn("stage event dropped for slow subscriber")
		}
	}
}
