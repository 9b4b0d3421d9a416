// Package lifecycle abstracts the runtime signals that drive presence:
// suspend (tab hidden, app backgrounded), resume, and terminate (connection
// closed, process gone). The concrete runtime adapter owns when these fire;
// consumers only register callbacks.
package lifecycle

import "sync"

// Listener holds the callbacks a consumer wants invoked on transitions.
// Nil callbacks are skipped.
type Listener struct {
	OnSuspend   func()
	OnResume    func()
	OnTerminate func()
}

// Source delivers lifecycle transitions to attached listeners.
type Source interface {
	Attach(l Listener)
}

// Relay is a Source driven by explicit calls from the hosting runtime.
// The websocket session handler feeds one Relay per session from client
// visibility frames and the connection teardown path.
type Relay struct {
	mu        sync.Mutex
	listeners []Listener
}

func NewRelay() *Relay {
	return &Relay{}
}

func (r *Relay) Attach(l Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

func (r *Relay) Suspend() {
	for _, l := range r.snapshot() {
		if l.OnSuspend != nil {
			l.OnSuspend()
		}
	}
}

func (r *Relay) Resume() {
	for _, l := range r.snapshot() {
		if l.OnResume != nil {
			l.OnResume()
		}
	}
}

func (r *Relay) Terminate() {
	for _, l := range r.snapshot() {
		if l.OnTerminate != nil {
			l.OnTerminate()
		}
	}
}

func (r *Relay) snapshot() []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Listener(nil), r.listeners...)
}
