package ui

import "strings"

// ProgressBar draws a width-cell bar with a knob at fraction p of its length.
func ProgressBar(width int, p float64) string {
	if width <= 0 {
		return ""
	}
	p = min(max(p, 0), 1)
	knob := min(int(float64(width)*p), width-1)

	var b strings.Builder
	b.WriteString(strings.Repeat("▬", knob))
	b.WriteRune('🔘')
	b.WriteString(strings.Repeat("▬", width-knob-1))
	return b.String()
}
