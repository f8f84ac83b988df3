package internal

import "sync"

// EventKind distinguishes controller events
type EventKind string

const (
	// EventMessage carries a message for the log
	EventMessage EventKind = "message"
	// EventStatus reports a connection status or session state change
	EventStatus EventKind = "status"
	// EventReset tells the caller to clear its message log for a new chat
	EventReset EventKind = "reset"
)

// Event is delivered to controller subscribers
type Event struct {
	Kind      EventKind
	ProfileID string
	ChatID    string
	Message   Message
	Status    ConnectionStatus
	State     SessionState
}

// EventHandler receives controller events
type EventHandler func(Event)

type subscription struct {
	id int
	fn EventHandler
}

// dispatcher delivers events in publish order on its own goroutine,
// so publishers never block and handlers may call back into the publisher.
type dispatcher struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Event
	busy     bool
	closed   bool
	handlers []subscription
	nextID   int
	done     chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) subscribe(fn EventHandler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.handlers = append(d.handlers, subscription{id: id, fn: fn})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, s := range d.handlers {
			if s.id == id {
				d.handlers = append(d.handlers[:i:i], d.handlers[i+1:]...)
				return
			}
		}
	}
}

func (d *dispatcher) publish(e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, e)
	d.cond.Broadcast()
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		e := d.queue[0]
		d.queue = d.queue[1:]
		handlers := append([]subscription(nil), d.handlers...)
		d.busy = true
		d.mu.Unlock()

		for _, s := range handlers {
			s.fn(e)
		}

		d.mu.Lock()
		d.busy = false
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

// flush blocks until every queued event has been handled
func (d *dispatcher) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for (len(d.queue) > 0 || d.busy) && !d.closed {
		d.cond.Wait()
	}
}

// close delivers what is queued, then stops the goroutine
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	<-d.done
}
