// Package stream defines the platform-neutral domain types for clip discovery:
// the closed set of supported platforms, channel identity, raw clip and live
// status snapshots, and the uniform client contract each platform implements.
package stream

import (
	"context"
	"fmt"
	"time"
)

// Platform identifies one of the supported streaming services. The set is
// closed; persistence uses the lowercase tag form.
type Platform int

const (
	PlatformUnknown Platform = iota
	Twitch
	YouTube
	Mixer
	Hitbox
	Picarto
)

var platformTags = map[Platform]string{
	Twitch:  "twitch",
	YouTube: "youtube",
	Mixer:   "mixer",
	Hitbox:  "hitbox",
	Picarto: "picarto",
}

// String returns the persistence tag for the platform.
func (p Platform) String() string {
	if s, ok := platformTags[p]; ok {
		return s
	}
	return "unknown"
}

// ParsePlatform maps a tag back to its Platform. Unknown tags are an error;
// callers must never fall back to matching on arbitrary strings.
func ParsePlatform(tag string) (Platform, error) {
	for p, s := range platformTags {
		if s == tag {
			return p, nil
		}
	}
	return PlatformUnknown, fmt.Errorf("unknown platform tag %q", tag)
}

// Platforms returns all supported platforms in a stable order.
func Platforms() []Platform {
	return []Platform{Twitch, YouTube, Mixer, Hitbox, Picarto}
}

// Identity names a channel on a platform. Depending on the platform either
// the user-entered name or the platform-assigned id may be missing until
// resolved.
type Identity struct {
	ID   string
	Name string
}

// RawClip is one clip as returned by a platform listing, before novelty
// filtering or enrichment.
type RawClip struct {
	ID           string
	Title        string
	URL          string
	ThumbnailURL string
	CreatorName  string
	GameID       string
	ViewCount    int64
	CreatedAt    time.Time
}

// Status is a point-in-time live snapshot for a channel. Live=false with a
// nil error is the normal offline result, not a failure.
type Status struct {
	Live         bool
	Title        string
	URL          string
	AuthorName   string
	ThumbnailURL string
	AvatarURL    string
	GameName     string
	Followers    *int64
	Views        *int64
	StartedAt    time.Time
}

// Client is the uniform per-platform contract the poll engine works against.
// Each implementation encodes its platform's pagination, auth, and listing
// idiosyncrasies behind these three calls.
type Client interface {
	// ResolveIdentity fills in the missing half of an identity (id from name
	// or name from id) according to the platform's lookup rules.
	ResolveIdentity(ctx context.Context, ident Identity) (Identity, error)

	// FetchClipsWindow lists all clips published within [start, end] in
	// platform order. Platforms without clip support return
	// ErrClipsUnsupported.
	FetchClipsWindow(ctx context.Context, ident Identity, start, end time.Time) ([]RawClip, error)

	// FetchStreamStatus probes whether the channel is currently live.
	FetchStreamStatus(ctx context.Context, ident Identity) (Status, error)
}

// Credentials holds the secret material for one platform. Twitch uses the
// client id/secret pair; YouTube uses an API key; the rest need none.
type Credentials struct {
	ClientID     string
	ClientSecret string
	APIKey       string
}

// CredentialProvider is the external token-provider boundary. Implementations
// persist credentials so they survive restarts.
type CredentialProvider interface {
	Credentials(ctx context.Context, p Platform) (Credentials, error)
	SetCredentials(ctx context.Context, p Platform, c Credentials) error
}
