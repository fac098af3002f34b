package igd

import "sync"

// Event is a state-change notification emitted by the Controller.
type Event int

const (
	// ScanStarted is emitted on every Scan call, including no-op ones.
	ScanStarted Event = iota
	// ScanFinished is emitted once discovery has installed a new device list.
	ScanFinished
	// DataRefreshed is emitted exactly once per refresh, whatever its outcome.
	DataRefreshed
)

func (e Event) String() string {
	switch e {
	case ScanStarted:
		return "scan started"
	case ScanFinished:
		return "scan finished"
	case DataRefreshed:
		return "data refreshed"
	default:
		return "unknown event"
	}
}

// EventHandler receives controller notifications. ScanStarted is delivered on
// the goroutine that called Scan; the others on the controller's sequence, so
// a handler may read State and Mappings but must not call Refresh,
// AddPortMapping, DeletePortMapping or Close.
type EventHandler func(Event)

type notifier struct {
	mu       sync.RWMutex
	handlers []EventHandler
}

func (n *notifier) subscribe(h EventHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, h)
}

// emit invokes handlers outside the lock.
func (n *notifier) emit(e Event) {
	n.mu.RLock()
	handlers := make([]EventHandler, len(n.handlers))
	copy(handlers, n.handlers)
	n.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
