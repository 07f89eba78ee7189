package syssetting

import (
	"sort"

	"github.com/shaban/syssetting/bridge"
)

// subscription ties a bridge handle to the callback that was registered
// with it. Callbacks compare their subscription against the registry to
// decide whether they are still allowed to touch the snapshot.
type subscription struct {
	kind   bridge.Kind
	handle bridge.Handle
}

// ListenerRegistry holds the active subscriptions of a session, one per kind.
// It is not safe for concurrent use; the controller guards it.
type ListenerRegistry struct {
	subs map[bridge.Kind]*subscription
}

func newListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{subs: make(map[bridge.Kind]*subscription)}
}

func (r *ListenerRegistry) add(s *subscription) {
	r.subs[s.kind] = s
}

func (r *ListenerRegistry) active(s *subscription) bool {
	return r.subs[s.kind] == s
}

// drain empties the registry and returns what it held, ordered by kind.
func (r *ListenerRegistry) drain() []*subscription {
	out := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].kind < out[j].kind })
	r.subs = make(map[bridge.Kind]*subscription)
	return out
}

// Len returns the number of active subscriptions.
func (r *ListenerRegistry) Len() int { return len(r.subs) }

// Kinds returns the subscribed kinds in declaration order.
func (r *ListenerRegistry) Kinds() []bridge.Kind {
	kinds := make([]bridge.Kind, 0, len(r.subs))
	for k := range r.subs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
