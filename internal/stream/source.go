package stream

// Defaults applied by NewSource: reconnect on dropped HTTP streams and never
// touch a video stream.
const (
	DefaultBeforeOptions = "-reconnect 1 -reconnect_streamed 1 -reconnect_delay_max 5"
	DefaultOptions       = "-vn"
)

// Source is everything a transport needs to start playing a remote stream.
// BeforeOptions apply to opening the input, Options to the output side.
// Headers are sent with the HTTP request on top of browser-like defaults.
type Source struct {
	URL           string
	Headers       map[string]string
	BeforeOptions string
	Options       string
	Volume        float64
}

func NewSource(url string, volume float64) Source {
	return Source{
		URL:           url,
		BeforeOptions: DefaultBeforeOptions,
		Options:       DefaultOptions,
		Volume:        volume,
	}
}

// Track is a resolved query.
type Track struct {
	Title     string
	StreamURL string
	Headers   map[string]string
}
