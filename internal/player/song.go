package player

// Song is a resolved track ready to be handed to a transport. StreamURL may be
// short-lived (signed), so songs are resolved at enqueue time and not cached
// beyond the life of the process.
type Song struct {
	Title     string
	StreamURL string
	// Headers yt-dlp requires when fetching StreamURL; may be nil.
	Headers   map[string]string
	Requester string
}

type PlayerStatus int

const (
	StatusIdle PlayerStatus = iota
	StatusPlaying
	StatusPaused
)

func (st PlayerStatus) String() string {
	switch st {
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	default:
		return "idle"
	}
}
