package handlers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/kumaplay/internal/config"
	"github.com/sonroyaalmerol/kumaplay/internal/player"
)

// NewSession creates a gateway session with the intents the bot relies on.
// The session is not opened.
func NewSession(token string) (*discordgo.Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	return dg, nil
}

type Bot struct {
	cfg *config.Config
	dg  *discordgo.Session
	pm  *player.Manager
	cmd *CommandHandler
}

func NewBot(cfg *config.Config, dg *discordgo.Session, pm *player.Manager, cmd *CommandHandler) *Bot {
	return &Bot{cfg: cfg, dg: dg, pm: pm, cmd: cmd}
}

func (b *Bot) Run(ctx context.Context) error {
	dg := b.dg

	// On ready: register commands depending on configuration
	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("connected", "user", s.State.User.Username, "guilds", len(r.Guilds))
		if b.cfg.BotActivity != "" {
			if err := s.UpdateListeningStatus(b.cfg.BotActivity); err != nil {
				slog.Warn("update status failed", "err", err)
			}
		}
		appID := s.State.User.ID

		if b.cfg.RegisterCommandsOnBot {
			if err := RegisterCommands(s, appID, ""); err != nil {
				slog.Error("register global commands", "err", err)
			} else {
				slog.Info("registered global application commands")
			}
			return
		}

		var wg sync.WaitGroup
		for _, g := range r.Guilds {
			wg.Add(1)
			go func(guildID string) {
				defer wg.Done()
				if err := RegisterCommands(s, appID, guildID); err != nil {
					slog.Error("register guild commands", "guildID", guildID, "err", err)
				}
			}(g.ID)
		}
		wg.Wait()

		if _, err := s.ApplicationCommandBulkOverwrite(appID, "", []*discordgo.ApplicationCommand{}); err != nil {
			slog.Error("clear global commands", "err", err)
		}
		slog.Info("registered commands on all guilds", "count", len(r.Guilds))
	})

	// If registering per-guild, register on new guilds too
	dg.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		if b.cfg.RegisterCommandsOnBot || s.State.User == nil {
			return
		}
		if err := RegisterCommands(s, s.State.User.ID, g.ID); err != nil {
			slog.Error("register guild commands on join", "guildID", g.ID, "err", err)
		}
	})

	dg.AddHandler(b.cmd.HandleInteraction)
	dg.AddHandler(b.onVoiceStateUpdate)

	if err := dg.Open(); err != nil {
		return err
	}
	slog.Info("gateway open")

	<-ctx.Done()
	slog.Info("closing gateway")
	return dg.Close()
}

// onVoiceStateUpdate retires a guild's session when the bot was removed from
// voice, or when everyone else left its channel.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if s.State.User == nil || vs.GuildID == "" {
		return
	}
	gid := vs.GuildID
	botID := s.State.User.ID

	if vs.UserID == botID {
		if vs.ChannelID != "" {
			return
		}
		// a stale leave can arrive after the bot already rejoined
		if cur, err := s.State.VoiceState(gid, botID); err == nil && cur.ChannelID != "" {
			return
		}
		b.pm.HandleDisconnect(gid)
		return
	}

	if b.pm.Peek(gid) == nil {
		return
	}
	botState, err := s.State.VoiceState(gid, botID)
	if err != nil || botState.ChannelID == "" {
		return
	}
	if listeners(s.State, gid, botState.ChannelID, botID) > 0 {
		return
	}
	slog.Info("no listeners left, leaving voice", "guildID", gid, "channelID", botState.ChannelID)
	if err := b.pm.Stop(gid); err != nil {
		slog.Debug("stop after listeners left failed", "guildID", gid, "err", err)
	}
}

// listeners counts the non-bot users in channelID other than self. Members
// missing from the state cache count as listeners.
func listeners(st *discordgo.State, guildID, channelID, self string) int {
	g, _ := st.Guild(guildID)
	if g == nil {
		return 0
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID || vs.UserID == self {
			continue
		}
		if vs.Member != nil && vs.Member.User != nil {
			if !vs.Member.User.Bot {
				n++
			}
			continue
		}
		m, _ := st.Member(guildID, vs.UserID)
		if m == nil || m.User == nil || !m.User.Bot {
			n++
		}
	}
	return n
}
