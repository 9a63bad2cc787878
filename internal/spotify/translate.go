package spotify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zmb3/spotify/v2"
)

type catalog interface {
	GetTrack(ctx context.Context, id spotify.ID) (Track, error)
	FirstAlbumTrack(ctx context.Context, id spotify.ID) (Track, error)
	FirstPlaylistTrack(ctx context.Context, id spotify.ID) (Track, error)
	ArtistTopTrack(ctx context.Context, id spotify.ID) (Track, error)
}

// Translator rewrites Spotify links into a YouTube search for the track they
// point at. Collections resolve to their first track.
type Translator struct {
	cat catalog
}

func NewTranslator(c *Client) *Translator {
	return &Translator{cat: c}
}

// IsLink reports whether q looks like a Spotify URL or URI.
func IsLink(q string) bool {
	q = strings.TrimSpace(q)
	return strings.HasPrefix(q, "spotify:") ||
		strings.Contains(q, "open.spotify.com/")
}

func (t *Translator) Rewrite(ctx context.Context, query string) (string, bool, error) {
	if !IsLink(query) {
		return query, false, nil
	}
	typ, id, err := ParseID(query)
	if errors.Is(err, ErrNotSpotify) {
		return query, false, nil
	}
	if err != nil {
		return "", false, err
	}

	var tr Track
	switch typ {
	case "track":
		tr, err = t.cat.GetTrack(ctx, id)
	case "album":
		tr, err = t.cat.FirstAlbumTrack(ctx, id)
	case "playlist":
		tr, err = t.cat.FirstPlaylistTrack(ctx, id)
	case "artist":
		tr, err = t.cat.ArtistTopTrack(ctx, id)
	default:
		err = fmt.Errorf("unsupported spotify type %q", typ)
	}
	if err != nil {
		return "", false, fmt.Errorf("spotify %s %s: %w", typ, id, err)
	}
	return tr.SearchQuery(), true, nil
}
