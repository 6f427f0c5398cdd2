package vrf

import (
	"sync"

	"github.com/dedis/noloss/sys"
	"go.dedis.ch/onet/v3/log"
)

// Event is a notification emitted by the randomness client. Notifications
// are an append-only log and never read back by the lottery.
type Event interface {
	EventName() string
}

// RandomnessRequested is emitted when a draw is requested from the oracle.
type RandomnessRequested struct {
	Client    sys.Key
	MaxResult uint64
	Timestamp int64
}

// RandomnessClientInvoked is emitted every time the oracle calls back with a
// non-empty output, including duplicates.
type RandomnessClientInvoked struct {
	Client    sys.Key
	Timestamp int64
}

// RandomnessResultUpdated is emitted when a new output was accepted.
type RandomnessResultUpdated struct {
	Client       sys.Key
	Result       uint64
	ResultBuffer [32]byte
	Timestamp    int64
}

func (RandomnessRequested) EventName() string     { return "RandomnessRequested" }
func (RandomnessClientInvoked) EventName() string { return "RandomnessClientInvoked" }
func (RandomnessResultUpdated) EventName() string { return "RandomnessResultUpdated" }

// Notifier receives the notifications.
type Notifier interface {
	Notify(e Event)
}

// LogNotifier writes the notifications to the onet log.
type LogNotifier struct{}

func (LogNotifier) Notify(e Event) {
	switch ev := e.(type) {
	case RandomnessRequested:
		log.Lvlf2("%s client=%s max_result=%d", ev.EventName(), ev.Client.Short(), ev.MaxResult)
	case RandomnessClientInvoked:
		log.Lvlf3("%s client=%s", ev.EventName(), ev.Client.Short())
	case RandomnessResultUpdated:
		log.Lvlf2("%s client=%s result=%d", ev.EventName(), ev.Client.Short(), ev.Result)
	default:
		log.Lvl2(e.EventName())
	}
}

// Recorder keeps the notifications in memory.
type Recorder struct {
	sync.Mutex
	events []Event
}

func (r *Recorder) Notify(e Event) {
	r.Lock()
	defer r.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of what was recorded so far.
func (r *Recorder) Events() []Event {
	r.Lock()
	defer r.Unlock()
	return append([]Event(nil), r.events...)
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.Lock()
	defer r.Unlock()
	r.events = nil
}

// Buffer holds the notifications of an operation until it commits.
type Buffer struct {
	events []Event
}

func (b *Buffer) Notify(e Event) {
	b.events = append(b.events, e)
}

// Flush forwards the buffered notifications to n.
func (b *Buffer) Flush(n Notifier) {
	for _, e := range b.events {
		n.Notify(e)
	}
	b.events = nil
}

// Fanout forwards every notification to all its notifiers.
type Fanout []Notifier

func (f Fanout) Notify(e Event) {
	for _, n := range f {
		n.Notify(e)
	}
}
