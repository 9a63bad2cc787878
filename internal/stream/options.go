package stream

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Option is one "-key [value]" pair from an ffmpeg-style option string.
type Option struct {
	Key   string
	Value string
}

// ParseOptions splits s into ordered options. Keys lose their leading dash; a
// flag followed by another flag (or nothing) gets an empty value.
func ParseOptions(s string) ([]Option, error) {
	words, err := shellquote.Split(s)
	if err != nil {
		return nil, fmt.Errorf("parse options %q: %w", s, err)
	}

	var out []Option
	for i := 0; i < len(words); i++ {
		w := words[i]
		if !isFlag(w) {
			return nil, fmt.Errorf("parse options %q: unexpected value %q", s, w)
		}
		opt := Option{Key: strings.TrimLeft(w, "-")}
		if i+1 < len(words) && !isFlag(words[i+1]) {
			opt.Value = words[i+1]
			i++
		}
		out = append(out, opt)
	}
	return out, nil
}

func isFlag(w string) bool {
	return len(w) > 1 && w[0] == '-' && (w[1] < '0' || w[1] > '9')
}
