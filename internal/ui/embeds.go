package ui

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/kumaplay/internal/player"
	"github.com/sonroyaalmerol/kumaplay/internal/utils"
)

const (
	colorPlaying = 0x006400
	colorPaused  = 0x8B0000
	colorIdle    = 0x992222

	titleMax = 80
)

func songLine(s player.Song) string {
	title := utils.EscapeMd(utils.Truncate(s.Title, titleMax))
	if s.Requester == "" {
		return "**" + title + "**"
	}
	return fmt.Sprintf("**%s** · %s", title, utils.EscapeMd(s.Requester))
}

// VolumeLine renders a volume in [0, 1] as a bar plus percentage.
func VolumeLine(v float64) string {
	return fmt.Sprintf("🔊 %s `%d%%`", ProgressBar(10, v), int(v*100+0.5))
}

func BuildPlayingEmbed(cur player.Song, status player.PlayerStatus, volume float64) *discordgo.MessageEmbed {
	if status == player.StatusIdle {
		return &discordgo.MessageEmbed{
			Title:       "Nothing Playing",
			Description: "No playing song found",
			Color:       colorIdle,
		}
	}

	title, color, button := "Now Playing", colorPlaying, "▶️"
	if status == player.StatusPaused {
		title, color, button = "Paused", colorPaused, "⏸️"
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: fmt.Sprintf("%s %s\n\n%s", button, songLine(cur), VolumeLine(volume)),
		Color:       color,
	}
}

// BuildQueueEmbed lists upcoming songs, one page at a time. page is 1-based.
func BuildQueueEmbed(cur *player.Song, queue []player.Song, page, pageSize int) (*discordgo.MessageEmbed, error) {
	if cur == nil && len(queue) == 0 {
		return nil, fmt.Errorf("queue is empty")
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	maxPage := max(1, (len(queue)+pageSize-1)/pageSize)
	if page < 1 || page > maxPage {
		return nil, fmt.Errorf("the queue isn't that big")
	}

	var b strings.Builder
	if cur != nil {
		fmt.Fprintf(&b, "%s\n\n", songLine(*cur))
	}
	begin := (page - 1) * pageSize
	end := min(begin+pageSize, len(queue))
	if begin < end {
		b.WriteString("**Up next:**\n")
		for i, s := range queue[begin:end] {
			fmt.Fprintf(&b, "`%d.` %s\n", begin+i+1, songLine(s))
		}
	}

	return &discordgo.MessageEmbed{
		Title:       "Queue",
		Description: b.String(),
		Color:       colorPlaying,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "In queue", Value: queueInfo(len(queue)), Inline: true},
			{Name: "Page", Value: fmt.Sprintf("%d out of %d", page, maxPage), Inline: true},
		},
	}, nil
}

func queueInfo(n int) string {
	switch n {
	case 0:
		return "-"
	case 1:
		return "1 song"
	}
	return fmt.Sprintf("%d songs", n)
}
