package anchor

import (
	"sort"
	"sync"
	"time"
)

// Registry is the shared set of anchors keyed by MAC address. The
// per-anchor Kalman and EWMA updates are order-dependent, so every
// message mutates anchor state under the single write lock; readers
// (API snapshots) take the read lock and copy.
type Registry struct {
	mu      sync.RWMutex
	anchors map[string]*Anchor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{anchors: make(map[string]*Anchor)}
}

// Add inserts an anchor, replacing any previous entry for its MAC.
func (r *Registry) Add(a *Anchor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anchors[a.Mac] = a
}

// Has reports whether the registry knows the given MAC.
func (r *Registry) Has(mac string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.anchors[mac]
	return ok
}

// Len returns the number of registered anchors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.anchors)
}

// Macs returns the registered MAC addresses in sorted order.
func (r *Registry) Macs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	macs := make([]string, 0, len(r.anchors))
	for mac := range r.anchors {
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	return macs
}

// Update runs fn with exclusive access to the anchor map. This is the
// only way message processing touches anchor state, which serializes
// concurrent messages that share an anchor.
func (r *Registry) Update(fn func(map[string]*Anchor)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.anchors)
}

// View runs fn with shared read access to the anchor map. fn must not
// mutate anchors or retain references past the call.
func (r *Registry) View(fn func(map[string]*Anchor)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.anchors)
}

// Status is a copied, lock-free snapshot of one anchor's reportable
// state.
type Status struct {
	Mac          string      `json:"mac"`
	RSSI0        float64     `json:"rssi0"`
	N            float64     `json:"n"`
	EWMA         float64     `json:"ewma"`
	State        HealthState `json:"state"`
	MessageCount int64       `json:"message_count"`
	LastSeen     time.Time   `json:"last_seen,omitzero"`
}

// Snapshot returns the current state of every anchor, sorted by MAC.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.anchors))
	for _, a := range r.anchors {
		out = append(out, Status{
			Mac:          a.Mac,
			RSSI0:        a.RSSI0,
			N:            a.N,
			EWMA:         a.EWMA,
			State:        a.State(),
			MessageCount: a.MessageCount,
			LastSeen:     a.LastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mac < out[j].Mac })
	return out
}
