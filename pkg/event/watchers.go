package event

import "sync"

// StreamAll is the stream every device event is delivered on.
// Finer-grained streams may be added per kind later; subscribing to
// StreamAll receives everything.
const StreamAll = "all"

// Watchers tracks which sessions subscribe to which event streams.
type Watchers struct {
	mu   sync.RWMutex
	subs map[string]map[string]struct{} // sessionID -> set of streams
}

// NewWatchers creates an empty watcher registry.
func NewWatchers() *Watchers {
	return &Watchers{
		subs: make(map[string]map[string]struct{}),
	}
}

// Subscribe registers a session on a stream. Duplicate subscriptions are
// no-ops.
func (w *Watchers) Subscribe(sessionID, stream string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	streams, ok := w.subs[sessionID]
	if !ok {
		streams = make(map[string]struct{})
		w.subs[sessionID] = streams
	}
	streams[stream] = struct{}{}
}

// Unsubscribe removes a session from a stream. Safe on absent entries.
func (w *Watchers) Unsubscribe(sessionID, stream string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	streams, ok := w.subs[sessionID]
	if !ok {
		return
	}
	delete(streams, stream)
	if len(streams) == 0 {
		delete(w.subs, sessionID)
	}
}

// RemoveSession drops all subscriptions held by a session.
// Called by the transport's session-close hook.
func (w *Watchers) RemoveSession(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subs, sessionID)
}

// Subscribers returns the sessions subscribed to the given stream.
func (w *Watchers) Subscribers(stream string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var out []string
	for sessionID, streams := range w.subs {
		if _, ok := streams[stream]; ok {
			out = append(out, sessionID)
		}
	}
	return out
}

// Streams returns the streams a session is subscribed to.
func (w *Watchers) Streams(sessionID string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	streams, ok := w.subs[sessionID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(streams))
	for s := range streams {
		out = append(out, s)
	}
	return out
}

// Count returns the number of sessions holding at least one subscription.
func (w *Watchers) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.subs)
}
