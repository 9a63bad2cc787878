// Package spotify translates Spotify links into search text the extractor
// can play, and offers search suggestions.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

var ErrNotSpotify = errors.New("not a spotify link")

type Track struct {
	Name   string
	Artist string
}

// SearchQuery renders the track as a single-result yt-dlp search.
func (t Track) SearchQuery() string {
	if t.Artist == "" {
		return fmt.Sprintf("ytsearch1:%q", t.Name)
	}
	return fmt.Sprintf("ytsearch1:%q %q", t.Name, t.Artist)
}

type Client struct {
	raw    *spotify.Client
	market string
}

func NewClientCredentials(ctx context.Context, clientID, clientSecret string) *Client {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	cl := spotify.New(cfg.Client(ctx), spotify.WithRetry(true))
	return &Client{raw: cl, market: "US"}
}

// ParseID splits a spotify: URI or open.spotify.com URL into its type and ID.
func ParseID(raw string) (typ string, id spotify.ID, err error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "spotify:") {
		parts := strings.Split(raw, ":")
		if len(parts) == 3 && parts[2] != "" {
			return parts[1], spotify.ID(parts[2]), nil
		}
		return "", "", fmt.Errorf("invalid spotify URI %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Host != "open.spotify.com" && u.Host != "www.open.spotify.com") {
		return "", "", ErrNotSpotify
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// localized links look like /intl-de/track/<id>
	if len(parts) > 0 && strings.HasPrefix(parts[0], "intl-") {
		parts = parts[1:]
	}
	if len(parts) < 2 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid spotify URL path %q", u.Path)
	}
	switch parts[0] {
	case "album", "playlist", "track", "artist":
		return parts[0], spotify.ID(parts[1]), nil
	}
	return "", "", fmt.Errorf("unsupported spotify type %q", parts[0])
}

func firstArtist(as []spotify.SimpleArtist) string {
	if len(as) == 0 {
		return ""
	}
	return as[0].Name
}

func (c *Client) GetTrack(ctx context.Context, id spotify.ID) (Track, error) {
	t, err := c.raw.GetTrack(ctx, id)
	if err != nil {
		return Track{}, err
	}
	return Track{Name: t.Name, Artist: firstArtist(t.Artists)}, nil
}

// FirstAlbumTrack returns the album's opening track.
func (c *Client) FirstAlbumTrack(ctx context.Context, id spotify.ID) (Track, error) {
	page, err := c.raw.GetAlbumTracks(ctx, id, spotify.Limit(1))
	if err != nil {
		return Track{}, err
	}
	if len(page.Tracks) == 0 {
		return Track{}, errors.New("album has no tracks")
	}
	t := page.Tracks[0]
	return Track{Name: t.Name, Artist: firstArtist(t.Artists)}, nil
}

// FirstPlaylistTrack returns the first playable track; episodes and removed
// tracks are skipped.
func (c *Client) FirstPlaylistTrack(ctx context.Context, id spotify.ID) (Track, error) {
	page, err := c.raw.GetPlaylistItems(ctx, id, spotify.Limit(20))
	if err != nil {
		return Track{}, err
	}
	for _, it := range page.Items {
		if t := it.Track.Track; t != nil {
			return Track{Name: t.Name, Artist: firstArtist(t.Artists)}, nil
		}
	}
	return Track{}, errors.New("playlist has no playable tracks")
}

func (c *Client) ArtistTopTrack(ctx context.Context, id spotify.ID) (Track, error) {
	full, err := c.raw.GetArtistsTopTracks(ctx, id, c.market)
	if err != nil {
		return Track{}, err
	}
	if len(full) == 0 {
		return Track{}, errors.New("artist has no top tracks")
	}
	return Track{Name: full[0].Name, Artist: firstArtist(full[0].Artists)}, nil
}

func (c *Client) SearchAlbumsAndTracks(ctx context.Context, query string, limit int) ([]spotify.SimpleAlbum, []spotify.FullTrack, error) {
	if limit <= 0 {
		limit = 10
	}
	typ := spotify.SearchTypeAlbum | spotify.SearchTypeTrack
	res, err := c.raw.Search(ctx, query, typ, spotify.Limit(limit))
	if err != nil {
		return nil, nil, err
	}
	var albums []spotify.SimpleAlbum
	if res.Albums != nil {
		albums = res.Albums.Albums
	}
	var tracks []spotify.FullTrack
	if res.Tracks != nil {
		tracks = res.Tracks.Tracks
	}
	if len(albums) > limit {
		albums = albums[:limit]
	}
	if len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return albums, tracks, nil
}
