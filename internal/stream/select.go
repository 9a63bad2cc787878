package stream

import "fmt"

// Info is the subset of a yt-dlp info record the resolver reads. Every field
// is optional in the extractor output, hence the pointers.
type Info struct {
	Title       *string           `json:"title"`
	URL         *string           `json:"url"`
	HTTPHeaders map[string]string `json:"http_headers"`
	Formats     []Format          `json:"formats"`
	Entries     []*Info           `json:"entries"`
}

type Format struct {
	URL         *string           `json:"url"`
	ACodec      *string           `json:"acodec"`
	VCodec      *string           `json:"vcodec"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

// firstItem unwraps a playlist or search result down to its first entry.
func firstItem(info *Info) (*Info, error) {
	if info == nil {
		return nil, fmt.Errorf("%w: extractor returned no data", ErrExtraction)
	}
	if info.Entries == nil {
		return info, nil
	}
	for _, e := range info.Entries {
		if e != nil {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: no results", ErrExtraction)
}

// SelectStream picks the URL to hand to the transport. Formats are scanned
// from the end and the first audio-only one with a URL wins, falling back to
// the record's own URL.
//
// yt-dlp lists formats roughly worst to best, so the reverse scan approximates
// "best audio-only". It does not compare bitrates.
func SelectStream(info *Info) (string, error) {
	url, _, err := selectStream(info)
	return url, err
}

// selectStream also returns the HTTP headers yt-dlp says the URL must be
// fetched with.
func selectStream(info *Info) (string, map[string]string, error) {
	for i := len(info.Formats) - 1; i >= 0; i-- {
		f := info.Formats[i]
		if !present(f.ACodec) || !absent(f.VCodec) {
			continue
		}
		if f.URL != nil && *f.URL != "" {
			return *f.URL, f.HTTPHeaders, nil
		}
	}
	if info.URL != nil && *info.URL != "" {
		return *info.URL, info.HTTPHeaders, nil
	}
	return "", nil, ErrNoPlayableStream
}

func present(codec *string) bool {
	return codec != nil && *codec != "" && *codec != "none"
}

func absent(codec *string) bool {
	return codec == nil || *codec == "" || *codec == "none"
}

// trackFromInfo applies the first-entry rule, requires a title and selects
// the stream.
func trackFromInfo(info *Info) (Track, error) {
	item, err := firstItem(info)
	if err != nil {
		return Track{}, err
	}
	if item.Title == nil || *item.Title == "" {
		return Track{}, fmt.Errorf("%w: result has no title", ErrExtraction)
	}
	url, headers, err := selectStream(item)
	if err != nil {
		return Track{}, err
	}
	return Track{Title: *item.Title, StreamURL: url, Headers: headers}, nil
}
