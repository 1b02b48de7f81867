package push

import (
	"log/slog"
	"sort"
	"sync"

	"workerhub/internal/logging"
)

// Destination is a live recipient of push messages.
type Destination interface {
	// ID identifies the destination; registrations are deduplicated by it.
	ID() string
	// Alive reports whether the destination can still receive messages.
	Alive() bool
	// Deliver hands one message to the destination.
	Deliver(channel string, payload any) error
}

// Subscription is one (channel, scope, destination) registration.
type Subscription struct {
	Channel     string `json:"channel"`
	Scope       string `json:"scope"`
	Destination string `json:"destination"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]map[string]Destination
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		channels: make(map[string]map[string]map[string]Destination),
		logger:   logging.NewComponentLogger(logger, "push"),
	}
}

// Register adds dst under (channel, scope). Registering twice is a no-op.
func (r *Registry) Register(channel, scope string, dst Destination) {
	if dst == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	scopes, ok := r.channels[channel]
	if !ok {
		scopes = make(map[string]map[string]Destination)
		r.channels[channel] = scopes
	}
	set, ok := scopes[scope]
	if !ok {
		set = make(map[string]Destination)
		scopes[scope] = set
	}
	set[dst.ID()] = dst
}

// Unregister removes dst from (channel, scope) and prunes empty branches.
// Removing an absent destination is a no-op.
func (r *Registry) Unregister(channel, scope string, dst Destination) {
	if dst == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(channel, scope, dst.ID())
}

// UnregisterAll removes every registration of dst and returns how many were removed.
func (r *Registry) UnregisterAll(dst Destination) int {
	if dst == nil {
		return 0
	}
	id := dst.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for channel, scopes := range r.channels {
		for scope := range scopes {
			if r.removeLocked(channel, scope, id) {
				removed++
			}
		}
	}
	return removed
}

func (r *Registry) removeLocked(channel, scope, id string) bool {
	scopes, ok := r.channels[channel]
	if !ok {
		return false
	}
	set, ok := scopes[scope]
	if !ok {
		return false
	}
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(scopes, scope)
	}
	if len(scopes) == 0 {
		delete(r.channels, channel)
	}
	return true
}

// Dispatch delivers payload to every destination registered on channel under
// any scope, once per destination. It returns the number of deliveries made.
func (r *Registry) Dispatch(channel string, payload any) int {
	r.mu.RLock()
	seen := make(map[string]struct{})
	var targets []Destination
	for _, set := range r.channels[channel] {
		for id, dst := range set {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			targets = append(targets, dst)
		}
	}
	r.mu.RUnlock()
	return r.deliver(channel, "", targets, payload)
}

// DispatchScoped delivers payload only to destinations registered under
// exactly (channel, scope).
func (r *Registry) DispatchScoped(channel, scope string, payload any) int {
	r.mu.RLock()
	set := r.channels[channel][scope]
	targets := make([]Destination, 0, len(set))
	for _, dst := range set {
		targets = append(targets, dst)
	}
	r.mu.RUnlock()
	return r.deliver(channel, scope, targets, payload)
}

func (r *Registry) deliver(channel, scope string, targets []Destination, payload any) int {
	delivered := 0
	for _, dst := range targets {
		if !dst.Alive() {
			continue
		}
		if err := dst.Deliver(channel, payload); err != nil {
			r.logger.Debug("push delivery skipped",
				logging.String(logging.FieldChannel, channel),
				logging.String(logging.FieldScope, scope),
				logging.String(logging.FieldSessionID, dst.ID()),
				logging.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}

// Subscriptions returns a sorted snapshot of every registration.
func (r *Registry) Subscriptions() []Subscription {
	r.mu.RLock()
	var out []Subscription
	for channel, scopes := range r.channels {
		for scope, set := range scopes {
			for id := range set {
				out = append(out, Subscription{Channel: channel, Scope: scope, Destination: id})
			}
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].Destination < out[j].Destination
	})
	return out
}

// Len returns the number of channels with at least one registration.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Scopes returns the number of scopes registered on channel.
func (r *Registry) Scopes(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channel])
}
