package handlers

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/kumaplay/internal/autocomplete"
	"github.com/sonroyaalmerol/kumaplay/internal/player"
	"github.com/sonroyaalmerol/kumaplay/internal/ui"
)

const (
	queuePageSize       = 10
	autocompleteLimit   = 10
	autocompleteTimeout = 2 * time.Second
	// enqueue covers a voice join plus a resolve
	enqueueTimeout = 90 * time.Second
)

var minLevel = 0.0

// Commands returns the slash commands the bot serves.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a song (YouTube URL, Spotify link, or search)",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "query", Description: "query or URL", Type: discordgo.ApplicationCommandOptionString, Required: true, Autocomplete: true},
			},
		},
		{Name: "skip", Description: "skip the current song"},
		{Name: "stop", Description: "stop playback, clear the queue and leave"},
		{Name: "pause", Description: "pause the current song"},
		{Name: "resume", Description: "resume playback"},
		{
			Name:        "volume",
			Description: "set the playback volume",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "level", Description: "0-100", Type: discordgo.ApplicationCommandOptionInteger, Required: true, MinValue: &minLevel, MaxValue: 100},
			},
		},
		{Name: "nowplaying", Description: "show the current song"},
		{
			Name:        "queue",
			Description: "show the current queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "page", Description: "page of queue to show [default: 1]", Type: discordgo.ApplicationCommandOptionInteger},
			},
		},
	}
}

// RegisterCommands overwrites the command set for guildID, or the global set
// when guildID is empty.
func RegisterCommands(s *discordgo.Session, appID, guildID string) error {
	start := time.Now()
	cmds := Commands()
	if _, err := s.ApplicationCommandBulkOverwrite(appID, guildID, cmds); err != nil {
		return err
	}
	slog.Debug("registered commands", "guildID", guildID, "count", len(cmds), "took", time.Since(start))
	return nil
}

type CommandHandler struct {
	pm      *player.Manager
	suggest *autocomplete.Suggester
}

// NewCommandHandler wires the handler; suggest may be nil to disable
// autocomplete.
func NewCommandHandler(pm *player.Manager, suggest *autocomplete.Suggester) *CommandHandler {
	return &CommandHandler{pm: pm, suggest: suggest}
}

func (h *CommandHandler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("interaction handler panicked", "guildID", i.GuildID, "userID", userIDOf(i), "panic", r, "stack", string(debug.Stack()))
		}
	}()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		slog.Debug("interaction: application command", "guildID", i.GuildID, "userID", userIDOf(i), "command", i.ApplicationCommandData().Name)
		h.handleChatCommand(s, i)
	case discordgo.InteractionApplicationCommandAutocomplete:
		h.handleAutocomplete(s, i)
	default:
		slog.Debug("interaction: ignored type", "type", i.Type, "guildID", i.GuildID)
	}
}

func (h *CommandHandler) handleAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if data.Name != "play" {
		return
	}

	var query string
	for _, opt := range data.Options {
		if opt.Focused || opt.Name == "query" {
			query = opt.StringValue()
		}
	}

	choices := []*discordgo.ApplicationCommandOptionChoice{}
	if h.suggest != nil && strings.TrimSpace(query) != "" {
		ctx, cancel := context.WithTimeout(context.Background(), autocompleteTimeout)
		if c := h.suggest.Suggest(ctx, query, autocompleteLimit); c != nil {
			choices = c
		}
		cancel()
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	}); err != nil {
		slog.Debug("autocomplete respond failed", "guildID", i.GuildID, "err", err)
	}
}

func (h *CommandHandler) handleChatCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		h.reply(s, i, ui.MsgGuildOnly, true)
		return
	}
	data := i.ApplicationCommandData()
	switch data.Name {
	case "play":
		h.cmdPlay(s, i)
	case "skip":
		h.cmdSkip(s, i)
	case "stop":
		h.cmdStop(s, i)
	case "pause":
		h.cmdPause(s, i)
	case "resume":
		h.cmdResume(s, i)
	case "volume":
		h.cmdVolume(s, i)
	case "nowplaying":
		h.cmdNowPlaying(s, i)
	case "queue":
		h.cmdQueue(s, i)
	default:
		slog.Debug("unknown command", "name", data.Name, "guildID", i.GuildID, "userID", userIDOf(i))
	}
}

func (h *CommandHandler) reply(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   messageFlags(ephemeral),
		},
	}); err != nil {
		slog.Warn("reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func (h *CommandHandler) replyEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  messageFlags(ephemeral),
		},
	}); err != nil {
		slog.Warn("embed reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func (h *CommandHandler) deferReply(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}

func (h *CommandHandler) editReply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	}); err != nil {
		slog.Warn("edit reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func messageFlags(ephemeral bool) discordgo.MessageFlags {
	if ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}

// callerChannel returns the voice channel userID sits in, or "".
func callerChannel(st *discordgo.State, guildID, userID string) string {
	vs, err := st.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

func (h *CommandHandler) cmdPlay(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var query string
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "query" {
			query = strings.TrimSpace(o.StringValue())
		}
	}
	req := player.EnqueueRequest{
		GuildID:   i.GuildID,
		ChannelID: callerChannel(s.State, i.GuildID, userIDOf(i)),
		Requester: requesterOf(i),
		Query:     query,
	}
	slog.Info("cmd play", "guildID", i.GuildID, "userID", userIDOf(i), "query", query)

	if req.ChannelID == "" {
		h.reply(s, i, ui.ErrorMessage(player.ErrCallerNotInVoice), true)
		return
	}

	// resolving routinely takes longer than the 3s interaction window
	if err := h.deferReply(s, i); err != nil {
		slog.Warn("defer reply failed", "guildID", i.GuildID, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	song, err := h.pm.Enqueue(ctx, req)
	if err != nil {
		slog.Debug("enqueue failed", "guildID", i.GuildID, "query", query, "err", err)
		h.editReply(s, i, ui.ErrorMessage(err))
		return
	}
	h.editReply(s, i, ui.Queued(song))
}

func (h *CommandHandler) cmdSkip(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := h.pm.Skip(i.GuildID); err != nil {
		h.reply(s, i, ui.ErrorMessage(err), true)
		return
	}
	slog.Info("cmd skip", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, ui.MsgSkipped, false)
}

func (h *CommandHandler) cmdStop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := h.pm.Stop(i.GuildID); err != nil {
		h.reply(s, i, ui.ErrorMessage(err), true)
		return
	}
	slog.Info("cmd stop", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, ui.MsgStopped, false)
}

func (h *CommandHandler) cmdPause(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := h.pm.Pause(i.GuildID); err != nil {
		h.reply(s, i, ui.ErrorMessage(err), true)
		return
	}
	slog.Info("cmd pause", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, ui.MsgPaused, false)
}

func (h *CommandHandler) cmdResume(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := h.pm.Resume(i.GuildID); err != nil {
		msg := ui.ErrorMessage(err)
		if errors.Is(err, player.ErrInvalidState) {
			msg = ui.MsgNothingPaused
		}
		h.reply(s, i, msg, true)
		return
	}
	slog.Info("cmd resume", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, ui.MsgResumed, false)
}

// volumeFromOptions converts the 0-100 level option to a [0, 1] volume.
func volumeFromOptions(opts []*discordgo.ApplicationCommandInteractionDataOption) (float64, bool) {
	for _, o := range opts {
		if o.Name == "level" {
			return float64(o.IntValue()) / 100, true
		}
	}
	return 0, false
}

func (h *CommandHandler) cmdVolume(s *discordgo.Session, i *discordgo.InteractionCreate) {
	vol, ok := volumeFromOptions(i.ApplicationCommandData().Options)
	if !ok {
		h.reply(s, i, ui.ErrorMessage(player.ErrInvalidVolume), true)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.pm.SetVolume(ctx, i.GuildID, vol); err != nil {
		h.reply(s, i, ui.ErrorMessage(err), true)
		return
	}
	slog.Info("cmd volume", "guildID", i.GuildID, "userID", userIDOf(i), "volume", vol)
	h.reply(s, i, ui.VolumeSet(vol), false)
}

func (h *CommandHandler) cmdNowPlaying(s *discordgo.Session, i *discordgo.InteractionCreate) {
	cur, status, ok := h.pm.NowPlaying(i.GuildID)
	if !ok {
		h.reply(s, i, ui.ErrorMessage(player.ErrNothingPlaying), true)
		return
	}
	slog.Debug("cmd nowplaying", "guildID", i.GuildID, "userID", userIDOf(i), "title", cur.Title)
	h.replyEmbed(s, i, ui.BuildPlayingEmbed(cur, status, h.pm.Volume(i.GuildID)), false)
}

func (h *CommandHandler) cmdQueue(s *discordgo.Session, i *discordgo.InteractionCreate) {
	page := 1
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "page" {
			page = int(o.IntValue())
		}
	}

	var curPtr *player.Song
	if cur, _, ok := h.pm.NowPlaying(i.GuildID); ok {
		curPtr = &cur
	}
	embed, err := ui.BuildQueueEmbed(curPtr, h.pm.Queue(i.GuildID), page, queuePageSize)
	if err != nil {
		slog.Debug("build queue embed failed", "guildID", i.GuildID, "page", page, "err", err)
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Debug("cmd queue", "guildID", i.GuildID, "userID", userIDOf(i), "page", page)
	h.replyEmbed(s, i, embed, true)
}

func userIDOf(i *discordgo.InteractionCreate) string {
	switch {
	case i == nil:
		return ""
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	}
	return ""
}

// requesterOf is the name shown next to queued songs.
func requesterOf(i *discordgo.InteractionCreate) string {
	switch {
	case i == nil:
		return ""
	case i.Member != nil && i.Member.User != nil:
		return i.Member.DisplayName()
	case i.User != nil:
		return i.User.DisplayName()
	}
	return ""
}
