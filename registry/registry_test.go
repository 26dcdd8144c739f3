package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gilibot/streamclips/ledger"
	"github.com/gilibot/streamclips/stream"
)

// memStore records every mirror write so tests can assert persistence order.
type memStore struct {
	saved   []Channel
	deleted []string
}

func (m *memStore) LoadChannels(_ context.Context) ([]Channel, error) { return nil, nil }

func (m *memStore) SaveChannel(_ context.Context, ch Channel) error {
	m.saved = append(m.saved, ch)
	return nil
}

func (m *memStore) DeleteChannel(_ context.Context, _ stream.Platform, name string) error {
	m.deleted = append(m.deleted, name)
	return nil
}

func TestAddCreatesThenPairs(t *testing.T) {
	store := &memStore{}
	r := New(store)
	ctx := context.Background()
	ident := stream.Identity{ID: "123", Name: "SomeStreamer"}

	created, err := r.Add(ctx, stream.Twitch, ident, "dest-a")
	if err != nil || !created {
		t.Fatalf("Add() = (%v, %v), want channel created", created, err)
	}
	created, err = r.Add(ctx, stream.Twitch, ident, "dest-b")
	if err != nil || created {
		t.Fatalf("Add() = (%v, %v), want pairing onto existing channel", created, err)
	}
	// Same destination again is a no-op.
	if _, err := r.Add(ctx, stream.Twitch, ident, "dest-a"); err != nil {
		t.Fatalf("Add() repeat error = %v", err)
	}

	ch, ok := r.Find(stream.Twitch, "somestreamer")
	if !ok {
		t.Fatal("Find() with different case failed")
	}
	if len(ch.Destinations) != 2 {
		t.Errorf("destinations = %v, want 2", ch.Destinations)
	}
	if len(store.saved) != 2 {
		t.Errorf("store saw %d saves, want 2 (no-op add must not mirror)", len(store.saved))
	}
}

func TestRemoveLastDestinationDeletes(t *testing.T) {
	store := &memStore{}
	r := New(store)
	ctx := context.Background()
	ident := stream.Identity{ID: "123", Name: "SomeStreamer"}
	_, _ = r.Add(ctx, stream.Twitch, ident, "dest-a")
	_, _ = r.Add(ctx, stream.Twitch, ident, "dest-b")

	deleted, err := r.Remove(ctx, stream.Twitch, "SomeStreamer", "dest-a")
	if err != nil || deleted {
		t.Fatalf("Remove() = (%v, %v), want channel kept", deleted, err)
	}
	deleted, err = r.Remove(ctx, stream.Twitch, "SomeStreamer", "dest-b")
	if err != nil || !deleted {
		t.Fatalf("Remove() = (%v, %v), want channel deleted on last destination", deleted, err)
	}
	if _, ok := r.Find(stream.Twitch, "SomeStreamer"); ok {
		t.Error("channel still present after last destination removed")
	}
	if len(store.deleted) != 1 || store.deleted[0] != "SomeStreamer" {
		t.Errorf("store deletions = %v, want [SomeStreamer]", store.deleted)
	}
}

func TestRemoveUnknown(t *testing.T) {
	r := New(&memStore{})
	ctx := context.Background()
	if _, err := r.Remove(ctx, stream.Twitch, "ghost", "dest"); !errors.Is(err, stream.ErrNotFound) {
		t.Errorf("Remove() unknown channel error = %v, want ErrNotFound", err)
	}
	_, _ = r.Add(ctx, stream.Twitch, stream.Identity{Name: "SomeStreamer"}, "dest-a")
	if _, err := r.Remove(ctx, stream.Twitch, "SomeStreamer", "other-dest"); !errors.Is(err, stream.ErrNotFound) {
		t.Errorf("Remove() unknown destination error = %v, want ErrNotFound", err)
	}
}

func TestYouTubeLookupByIDOrName(t *testing.T) {
	r := New(&memStore{})
	ctx := context.Background()
	ident := stream.Identity{ID: "UC_x5XG1OV2P6uZZ5FSM9Ttw", Name: "SomeChannel"}
	_, _ = r.Add(ctx, stream.YouTube, ident, "dest")

	if _, ok := r.Find(stream.YouTube, "UC_x5XG1OV2P6uZZ5FSM9Ttw"); !ok {
		t.Error("Find() by channel id failed")
	}
	if _, ok := r.Find(stream.YouTube, "somechannel"); !ok {
		t.Error("Find() by name failed")
	}
	// Other platforms only match by name.
	if _, ok := r.Find(stream.Twitch, "UC_x5XG1OV2P6uZZ5FSM9Ttw"); ok {
		t.Error("Find() matched the wrong platform")
	}
}

func TestUpdateLedgerMirrorsSnapshot(t *testing.T) {
	store := &memStore{}
	r := New(store)
	ctx := context.Background()
	_, _ = r.Add(ctx, stream.Twitch, stream.Identity{Name: "SomeStreamer"}, "dest")

	known := []ledger.KnownClip{{ID: "c1", DiscoveredAt: time.Now()}}
	if err := r.UpdateLedger(ctx, stream.Twitch, "SomeStreamer", known); err != nil {
		t.Fatalf("UpdateLedger() error = %v", err)
	}
	last := store.saved[len(store.saved)-1]
	if len(last.KnownClips) != 1 || last.KnownClips[0].ID != "c1" {
		t.Errorf("mirrored snapshot = %+v, want the updated ledger", last.KnownClips)
	}

	// A channel removed mid-cycle is skipped without error.
	if err := r.UpdateLedger(ctx, stream.Twitch, "ghost", known); err != nil {
		t.Errorf("UpdateLedger() for removed channel error = %v, want nil", err)
	}
}

func TestListReturnsCopies(t *testing.T) {
	r := New(&memStore{})
	ctx := context.Background()
	_, _ = r.Add(ctx, stream.Twitch, stream.Identity{Name: "SomeStreamer"}, "dest")

	list := r.List()
	list[0].Destinations[0] = "mutated"
	again := r.List()
	if again[0].Destinations[0] != "dest" {
		t.Error("List() exposed internal state")
	}
}
