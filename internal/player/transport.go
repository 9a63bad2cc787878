package player

import (
	"context"

	"github.com/sonroyaalmerol/kumaplay/internal/stream"
)

// Transport is a live voice connection. Play must return immediately and
// invoke onComplete exactly once when the source ends, fails or is stopped;
// onComplete may run on any goroutine.
type Transport interface {
	IsConnected() bool
	IsPlaying() bool
	IsPaused() bool
	Play(src stream.Source, onComplete func(error))
	Pause()
	Resume()
	Stop()
	Disconnect() error
}

type Connector interface {
	Connect(ctx context.Context, guildID, channelID string) (Transport, error)
}

// ConnectorFunc adapts a plain function to Connector.
type ConnectorFunc func(ctx context.Context, guildID, channelID string) (Transport, error)

func (f ConnectorFunc) Connect(ctx context.Context, guildID, channelID string) (Transport, error) {
	return f(ctx, guildID, channelID)
}

type Resolver interface {
	Resolve(ctx context.Context, query string) (stream.Track, error)
}

// SettingsStore persists per-guild defaults. Volume is in [0, 1].
type SettingsStore interface {
	DefaultVolume(ctx context.Context, guildID string) (float64, error)
	SetDefaultVolume(ctx context.Context, guildID string, volume float64) error
}
