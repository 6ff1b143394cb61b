package relay

import (
	"sort"
	"sync"

	"github.com/rickgao/docrelay/internal/metrics"
)

// Registry tracks channel membership. A member belongs to at most one
// channel; joining another channel leaves the previous one. Channels exist
// while they have members.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]Member // channel -> member ID -> member
	joined   map[string]string            // member ID -> channel

	metrics *metrics.RelayMetrics
}

// NewRegistry creates an empty registry. m may be nil.
func NewRegistry(m *metrics.RelayMetrics) *Registry {
	return &Registry{
		channels: make(map[string]map[string]Member),
		joined:   make(map[string]string),
		metrics:  m,
	}
}

// Join adds m to channel and returns the channel it left, if any.
func (r *Registry) Join(m Member, channel string) (previous string, err error) {
	if channel == "" {
		return "", ErrEmptyChannel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := m.ID()
	previous = r.joined[id]
	if previous == channel {
		return previous, nil
	}
	if previous != "" {
		r.removeLocked(id, previous)
	}

	members, ok := r.channels[channel]
	if !ok {
		members = make(map[string]Member)
		r.channels[channel] = members
	}
	members[id] = m
	r.joined[id] = channel

	r.metrics.Joined()
	r.metrics.SetChannels(len(r.channels))
	return previous, nil
}

// Leave removes m from its channel and returns the channel name.
func (r *Registry) Leave(m Member) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := m.ID()
	channel, ok := r.joined[id]
	if !ok {
		return "", false
	}
	r.removeLocked(id, channel)
	r.metrics.SetChannels(len(r.channels))
	return channel, true
}

func (r *Registry) removeLocked(id, channel string) {
	delete(r.joined, id)
	members := r.channels[channel]
	delete(members, id)
	if len(members) == 0 {
		delete(r.channels, channel)
	}
}

// ChannelOf returns the channel m has joined.
func (r *Registry) ChannelOf(m Member) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channel, ok := r.joined[m.ID()]
	return channel, ok
}

// Route delivers data to every other member of sender's channel and returns
// how many accepted it. A channel with no other members accepts and drops.
func (r *Registry) Route(sender Member, data []byte) (int, error) {
	channel, ok := r.ChannelOf(sender)
	if !ok {
		return 0, ErrNotJoined
	}
	return r.Broadcast(channel, sender, data), nil
}

// Broadcast delivers data to every member of channel except exclude, which
// may be nil.
func (r *Registry) Broadcast(channel string, exclude Member, data []byte) int {
	var skip string
	if exclude != nil {
		skip = exclude.ID()
	}

	r.mu.RLock()
	targets := make([]Member, 0, len(r.channels[channel]))
	for id, m := range r.channels[channel] {
		if id != skip {
			targets = append(targets, m)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, m := range targets {
		if m.Enqueue(data) {
			delivered++
		} else {
			r.metrics.Dropped("peer_unavailable")
		}
	}
	return delivered
}

// Members returns the number of members in channel.
func (r *Registry) Members(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channel])
}

// Channels returns a snapshot of active channels sorted by name.
func (r *Registry) Channels() []ChannelInfo {
	r.mu.RLock()
	out := make([]ChannelInfo, 0, len(r.channels))
	for name, members := range r.channels {
		out = append(out, ChannelInfo{Name: name, Members: len(members)})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of active channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
