package transport

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// pendingEntry is one outstanding request awaiting its response. Client keeps
// one pendingRequests map per wrapped transport, whatever its kind, per
// spec.md §4.4's request-correlation requirement.
type pendingEntry struct {
	resolve  chan Message
	deadline time.Time
	timer    *time.Timer
}

// pendingRequests is a concurrency-safe id -> pendingEntry map.
type pendingRequests struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{entries: make(map[string]*pendingEntry)}
}

// register assigns (or accepts) a correlation id, arming a timeout that
// rejects the entry with RequestTimeout after d.
func (p *pendingRequests) register(id string, d time.Duration) (string, chan Message) {
	if id == "" {
		id = uuid.NewString()
	}
	ch := make(chan Message, 1)

	p.mu.Lock()
	entry := &pendingEntry{resolve: ch, deadline: time.Now().Add(d)}
	entry.timer = time.AfterFunc(d, func() {
		p.mu.Lock()
		if e, ok := p.entries[id]; ok && e == entry {
			delete(p.entries, id)
		}
		p.mu.Unlock()
		select {
		case ch <- Message{Error: &RPCError{Code: -32001, Message: "request timed out"}}:
		default:
		}
	})
	p.entries[id] = entry
	p.mu.Unlock()

	return id, ch
}

// deliver hands a response message to its waiting caller, if any.
func (p *pendingRequests) deliver(id string, msg Message) bool {
	p.mu.Lock()
	entry, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	entry.timer.Stop()
	select {
	case entry.resolve <- msg:
	default:
	}
	return true
}

// rejectAll fails every pending entry with TransportClosed, used on Close.
func (p *pendingRequests) rejectAll() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*pendingEntry)
	p.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
		select {
		case e.resolve <- Message{Error: &RPCError{Code: -32000, Message: string(TransportClosed)}}:
		default:
		}
	}
}
