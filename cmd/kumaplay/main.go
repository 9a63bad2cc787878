package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/sonroyaalmerol/kumaplay/internal/autocomplete"
	"github.com/sonroyaalmerol/kumaplay/internal/config"
	"github.com/sonroyaalmerol/kumaplay/internal/handlers"
	"github.com/sonroyaalmerol/kumaplay/internal/health"
	"github.com/sonroyaalmerol/kumaplay/internal/logging"
	"github.com/sonroyaalmerol/kumaplay/internal/player"
	"github.com/sonroyaalmerol/kumaplay/internal/repository"
	"github.com/sonroyaalmerol/kumaplay/internal/spotify"
	"github.com/sonroyaalmerol/kumaplay/internal/stream"
)

func main() {
	app := &cli.Command{
		Name:  "kumaplay",
		Usage: "Discord music bot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Sources: cli.EnvVars("KUMAPLAY_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from this file",
				Value: ".env",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Action: run,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "kumaplay:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if err := config.LoadDotEnv(cmd.String("env-file")); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.LoadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	if cmd.Bool("debug") {
		cfg.LogLevel = "debug"
	}
	logging.Setup(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := repository.OpenDB(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	repo := repository.NewRepo(db)

	extractor := stream.NewYtdlpExtractor(cfg)
	if err := extractor.Install(ctx); err != nil {
		return err
	}

	var (
		rewriter  stream.QueryRewriter
		suggester *autocomplete.Suggester
	)
	if cfg.SpotifyEnabled() {
		sp := spotify.NewClientCredentials(ctx, cfg.SpotifyClientID, cfg.SpotifyClientSecret)
		rewriter = spotify.NewTranslator(sp)
		suggester = autocomplete.New(sp)
	} else {
		slog.Info("spotify credentials not set, spotify links disabled")
		suggester = autocomplete.New(nil)
	}
	resolver := stream.NewResolver(extractor, rewriter, stream.ResolverOptions{
		Timeout:  cfg.ResolveTimeout,
		CacheTTL: cfg.ResolveCacheTTL,
		Rate:     cfg.ResolveRate,
	})

	dg, err := handlers.NewSession(cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	voice := &stream.DiscordConnector{Session: dg}
	connector := player.ConnectorFunc(func(ctx context.Context, guildID, channelID string) (player.Transport, error) {
		tr, err := voice.Connect(ctx, guildID, channelID)
		if err != nil {
			return nil, err
		}
		return tr, nil
	})

	pm := player.NewManager(connector, resolver, repo, player.Options{IdleTimeout: cfg.IdleTimeout})
	bot := handlers.NewBot(cfg, dg, pm, handlers.NewCommandHandler(pm, suggester))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	if cfg.LivenessAddr != "" {
		g.Go(func() error { return health.NewServer(cfg.LivenessAddr, pm).Run(gctx) })
	}

	err = g.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if serr := pm.Shutdown(shutdownCtx); serr != nil {
		slog.Warn("sessions did not stop in time", "err", serr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("bye")
	return nil
}
