// Package autocomplete produces /play query suggestions.
package autocomplete

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zmb3/spotify/v2"

	"github.com/sonroyaalmerol/kumaplay/internal/cache"
	"github.com/sonroyaalmerol/kumaplay/internal/utils"
)

const (
	defaultEndpoint = "https://suggestqueries.google.com/complete/search"
	// discord rejects choice names and values longer than this
	maxChoiceLen = 100
)

type spotifySearcher interface {
	SearchAlbumsAndTracks(ctx context.Context, query string, limit int) ([]spotify.SimpleAlbum, []spotify.FullTrack, error)
}

type Suggester struct {
	endpoint string
	client   *http.Client
	spotify  spotifySearcher
	cache    *cache.TTL[[]string]
}

// New returns a suggester; sp may be nil when Spotify is not configured.
func New(sp spotifySearcher) *Suggester {
	return &Suggester{
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 2 * time.Second},
		spotify:  sp,
		cache:    cache.New[[]string](5 * time.Minute),
	}
}

func (s *Suggester) youtube(ctx context.Context, query string) ([]string, error) {
	key := strings.ToLower(query)
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("client", "firefox")
	q.Set("ds", "yt")
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("suggest: status %d", resp.StatusCode)
	}

	// ["query", ["suggestion", ...], ...]
	var parsed []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	var out []string
	if len(parsed) > 1 {
		if err := json.Unmarshal(parsed[1], &out); err != nil {
			return nil, err
		}
	}
	s.cache.Set(key, out)
	return out, nil
}

func choice(name, value string) *discordgo.ApplicationCommandOptionChoice {
	return &discordgo.ApplicationCommandOptionChoice{
		Name:  utils.Truncate(name, maxChoiceLen),
		Value: value,
	}
}

// Suggest mixes YouTube suggestions with Spotify albums and tracks, at most
// limit choices. Backend failures only shrink the list.
func (s *Suggester) Suggest(ctx context.Context, query string, limit int) []*discordgo.ApplicationCommandOptionChoice {
	if limit <= 0 {
		limit = 10
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	yt, err := s.youtube(ctx, query)
	if err != nil {
		slog.Debug("youtube suggestions failed", "query", query, "err", err)
	}

	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, limit)
	for _, v := range yt {
		if len(out) == limit {
			break
		}
		if len(v) > maxChoiceLen {
			continue
		}
		out = append(out, choice("YouTube: "+v, v))
	}

	if s.spotify == nil {
		return out
	}
	albums, tracks, err := s.spotify.SearchAlbumsAndTracks(ctx, query, limit/2)
	if err != nil {
		slog.Debug("spotify suggestions failed", "query", query, "err", err)
		return out
	}

	var sp []*discordgo.ApplicationCommandOptionChoice
	for _, a := range albums {
		name := "Spotify: 💿 " + a.Name
		if len(a.Artists) > 0 {
			name += " - " + a.Artists[0].Name
		}
		sp = append(sp, choice(name, "spotify:album:"+a.ID.String()))
	}
	for _, t := range tracks {
		name := "Spotify: 🎵 " + t.Name
		if len(t.Artists) > 0 {
			name += " - " + t.Artists[0].Name
		}
		sp = append(sp, choice(name, "spotify:track:"+t.ID.String()))
	}

	// make room for spotify results
	keep := max(0, limit-len(sp))
	if len(out) > keep {
		out = out[:keep]
	}
	out = append(out, sp...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
