// Package ledger implements the per-channel record of clips that have already
// been notified, with a sliding expiry window and the novelty test the poll
// engine runs every cycle.
package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gilibot/streamclips/stream"
)

// KnownClip is one ledger entry: a platform-native clip id and the time it
// was first seen locally. A zero DiscoveredAt marks a legacy entry persisted
// before timestamps existed; it is upgraded, never dropped.
type KnownClip struct {
	ID           string
	DiscoveredAt time.Time
}

// FilterNovel partitions candidates into clips never seen before and produces
// the replacement ledger. Entries older than retention are expired; with
// retention <= 0 no expiry is applied (platforms whose own listing window
// bounds the ledger). Candidate order is preserved in novel; updated keeps
// carry-forward order followed by append order.
func FilterNovel(candidates []stream.RawClip, known []KnownClip, retention time.Duration, now time.Time) (novel []stream.RawClip, updated []KnownClip) {
	updated = make([]KnownClip, 0, len(known)+len(candidates))
	seen := make(map[string]struct{}, len(known))
	for _, k := range known {
		if k.DiscoveredAt.IsZero() {
			// Legacy entry without a timestamp: keep it and start its
			// retention clock now.
			k.DiscoveredAt = now
		} else if retention > 0 && now.Sub(k.DiscoveredAt) > retention {
			continue
		}
		if _, dup := seen[k.ID]; dup {
			continue
		}
		seen[k.ID] = struct{}{}
		updated = append(updated, k)
	}
	for _, c := range candidates {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		novel = append(novel, c)
		updated = append(updated, KnownClip{ID: c.ID, DiscoveredAt: now})
	}
	return novel, updated
}

// MarshalJSON encodes the entry as a [id, epoch-seconds] pair. Legacy entries
// that still lack a timestamp gain one here, so a load/save round trip always
// upgrades them.
func (k KnownClip) MarshalJSON() ([]byte, error) {
	at := k.DiscoveredAt
	if at.IsZero() {
		at = time.Now()
	}
	return json.Marshal([2]any{k.ID, at.Unix()})
}

// UnmarshalJSON accepts both the current [id, epoch-seconds] pair form and
// the legacy bare-string form.
func (k *KnownClip) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		k.ID = id
		k.DiscoveredAt = time.Time{}
		return nil
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("known clip entry: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("known clip entry: want [id, epoch], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &id); err != nil {
		return fmt.Errorf("known clip entry id: %w", err)
	}
	var epoch int64
	if err := json.Unmarshal(pair[1], &epoch); err != nil {
		return fmt.Errorf("known clip entry epoch: %w", err)
	}
	k.ID = id
	k.DiscoveredAt = time.Unix(epoch, 0).UTC()
	return nil
}
