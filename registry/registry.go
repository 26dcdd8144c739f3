// Package registry keeps the authoritative in-memory set of watched channels
// and mirrors every mutation to a persistent store. The registry mutex
// serializes command-driven mutations with the poll engine's ledger updates.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gilibot/streamclips/ledger"
	"github.com/gilibot/streamclips/stream"
)

// Channel is one watched (platform, channel) pairing with its notification
// destinations and the ledger of clips already seen.
type Channel struct {
	Platform     stream.Platform
	Identity     stream.Identity
	Destinations []string
	KnownClips   []ledger.KnownClip
}

// Matches reports whether name addresses this channel. Names compare
// case-insensitively; YouTube channels also answer to their channel id, which
// is what users paste most of the time.
func (ch *Channel) Matches(name string) bool {
	if strings.EqualFold(ch.Identity.Name, name) {
		return true
	}
	if ch.Platform == stream.YouTube && ch.Identity.ID == name {
		return true
	}
	return false
}

func (ch *Channel) clone() Channel {
	out := *ch
	out.Destinations = append([]string(nil), ch.Destinations...)
	out.KnownClips = append([]ledger.KnownClip(nil), ch.KnownClips...)
	return out
}

// Store persists channel records. The registry is the single writer.
type Store interface {
	LoadChannels(ctx context.Context) ([]Channel, error)
	SaveChannel(ctx context.Context, ch Channel) error
	DeleteChannel(ctx context.Context, platform stream.Platform, name string) error
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	store    Store
	channels []*Channel
}

func New(store Store) *Registry {
	return &Registry{store: store}
}

// Load replaces the in-memory set with the store's contents.
func (r *Registry) Load(ctx context.Context) error {
	channels, err := r.store.LoadChannels(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = make([]*Channel, 0, len(channels))
	for i := range channels {
		ch := channels[i]
		r.channels = append(r.channels, &ch)
	}
	return nil
}

func (r *Registry) find(platform stream.Platform, name string) (int, *Channel) {
	for i, ch := range r.channels {
		if ch.Platform == platform && ch.Matches(name) {
			return i, ch
		}
	}
	return -1, nil
}

// Find returns a copy of the channel addressed by name.
func (r *Registry) Find(platform stream.Platform, name string) (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ch := r.find(platform, name); ch != nil {
		return ch.clone(), true
	}
	return Channel{}, false
}

// List returns copies of all channels in insertion order.
func (r *Registry) List() []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch.clone())
	}
	return out
}

// Add pairs destination with the channel, creating the channel record on
// first pairing. The returned bool reports whether a new channel was created.
// ident must already be resolved against the platform API.
func (r *Registry) Add(ctx context.Context, platform stream.Platform, ident stream.Identity, destination string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ch := r.find(platform, ident.Name); ch != nil {
		for _, d := range ch.Destinations {
			if d == destination {
				return false, nil
			}
		}
		ch.Destinations = append(ch.Destinations, destination)
		if err := r.store.SaveChannel(ctx, ch.clone()); err != nil {
			return false, fmt.Errorf("save channel: %w", err)
		}
		return false, nil
	}
	ch := &Channel{Platform: platform, Identity: ident, Destinations: []string{destination}}
	r.channels = append(r.channels, ch)
	if err := r.store.SaveChannel(ctx, ch.clone()); err != nil {
		return false, fmt.Errorf("save channel: %w", err)
	}
	return true, nil
}

// Remove unpairs destination from the channel. Removing the last destination
// deletes the channel record entirely; a channel with no destinations is
// never kept or persisted. The returned bool reports whether the channel was
// deleted.
func (r *Registry) Remove(ctx context.Context, platform stream.Platform, name, destination string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ch := r.find(platform, name)
	if ch == nil {
		return false, stream.ErrNotFound
	}
	kept := ch.Destinations[:0]
	found := false
	for _, d := range ch.Destinations {
		if d == destination {
			found = true
			continue
		}
		kept = append(kept, d)
	}
	if !found {
		return false, stream.ErrNotFound
	}
	ch.Destinations = kept
	if len(ch.Destinations) == 0 {
		r.channels = append(r.channels[:i], r.channels[i+1:]...)
		if err := r.store.DeleteChannel(ctx, platform, ch.Identity.Name); err != nil {
			return true, fmt.Errorf("delete channel: %w", err)
		}
		return true, nil
	}
	if err := r.store.SaveChannel(ctx, ch.clone()); err != nil {
		return false, fmt.Errorf("save channel: %w", err)
	}
	return false, nil
}

// UpdateLedger replaces the channel's known-clip ledger and persists the
// snapshot. Last writer wins; the poll engine calls this once per channel per
// cycle. A channel removed mid-cycle is skipped silently.
func (r *Registry) UpdateLedger(ctx context.Context, platform stream.Platform, name string, known []ledger.KnownClip) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ch := r.find(platform, name)
	if ch == nil {
		return nil
	}
	ch.KnownClips = append([]ledger.KnownClip(nil), known...)
	if err := r.store.SaveChannel(ctx, ch.clone()); err != nil {
		return fmt.Errorf("save channel: %w", err)
	}
	return nil
}
