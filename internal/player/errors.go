package player

import (
	"errors"

	"github.com/sonroyaalmerol/kumaplay/internal/stream"
)

var (
	ErrCallerNotInVoice = errors.New("caller is not in a voice channel")
	ErrConnect          = errors.New("voice connect failed")
	ErrNothingPlaying   = errors.New("nothing is playing")
	ErrNoActiveSession  = errors.New("no active session")
	ErrInvalidState     = errors.New("invalid playback state")
	ErrInvalidVolume    = errors.New("volume must be between 0 and 1")

	// Resolver failures surface unchanged from the stream package.
	ErrExtraction       = stream.ErrExtraction
	ErrNoPlayableStream = stream.ErrNoPlayableStream

	// errSessionClosed is returned when an operation reaches a session whose
	// loop has already retired. The manager retries against a fresh session.
	errSessionClosed = errors.New("session closed")
)
