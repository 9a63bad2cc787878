package ui

import (
	"errors"
	"fmt"

	"github.com/sonroyaalmerol/kumaplay/internal/player"
	"github.com/sonroyaalmerol/kumaplay/internal/utils"
)

const (
	MsgSkipped = "⏭ Skipped current song."
	MsgStopped = "⏹ Stopped playback and left the voice channel."
	MsgPaused  = "⏸ Paused playback."
	MsgResumed = "▶ Resumed playback."

	MsgNothingPaused = "❌ Nothing is paused."
	MsgGuildOnly     = "❌ This command only works in a server."
	MsgInternal      = "❌ Something went wrong, try again."
)

func Queued(s player.Song) string {
	return fmt.Sprintf("✅ Queued **%s** — requested by %s",
		utils.EscapeMd(utils.Truncate(s.Title, titleMax)), utils.EscapeMd(s.Requester))
}

func VolumeSet(v float64) string {
	return "Volume set. " + VolumeLine(v)
}

// ErrorMessage maps a control-surface error to the text shown to the user.
// Unknown errors get a generic message; their details stay in the logs.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, player.ErrCallerNotInVoice):
		return "❌ You need to be in a voice channel."
	case errors.Is(err, player.ErrConnect):
		return "❌ Could not connect to voice channel."
	case errors.Is(err, player.ErrNoPlayableStream):
		return "❌ Error preparing stream: no playable audio found."
	case errors.Is(err, player.ErrExtraction):
		return "❌ Error fetching video info."
	case errors.Is(err, player.ErrNothingPlaying):
		return "❌ Nothing is playing."
	case errors.Is(err, player.ErrNoActiveSession):
		return "❌ I'm not connected to voice."
	case errors.Is(err, player.ErrInvalidState):
		return "❌ Nothing is playing."
	case errors.Is(err, player.ErrInvalidVolume):
		return "❌ Volume must be between 0 and 100."
	default:
		return MsgInternal
	}
}
