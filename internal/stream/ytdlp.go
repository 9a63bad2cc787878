package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	ytdlp "github.com/lrstanley/go-ytdlp"
	"github.com/sonroyaalmerol/kumaplay/internal/config"
)

// Extractor turns a URL or free-text query into an info record.
type Extractor interface {
	Extract(ctx context.Context, query string) (*Info, error)
}

// YtdlpExtractor shells out to yt-dlp for metadata only; nothing is
// downloaded.
type YtdlpExtractor struct {
	cookies       string
	sourceAddress string
	checkCerts    bool

	installOnce sync.Once
	installErr  error
}

func NewYtdlpExtractor(cfg *config.Config) *YtdlpExtractor {
	return &YtdlpExtractor{
		cookies:       cfg.CookieFile(),
		sourceAddress: cfg.SourceAddress,
		checkCerts:    cfg.CheckCertificates,
	}
}

// Install makes sure a yt-dlp binary is available, downloading one if needed.
// It runs once; later calls return the first result.
func (y *YtdlpExtractor) Install(ctx context.Context) error {
	y.installOnce.Do(func() {
		if _, err := ytdlp.Install(ctx, nil); err != nil {
			y.installErr = fmt.Errorf("install yt-dlp: %w", err)
		}
	})
	return y.installErr
}

func (y *YtdlpExtractor) command() *ytdlp.Command {
	cmd := ytdlp.New().
		DumpSingleJSON().
		Format("bestaudio/best").
		DefaultSearch("auto").
		Quiet().
		NoWarnings()

	if y.sourceAddress != "" {
		cmd = cmd.SourceAddress(y.sourceAddress)
	}
	if !y.checkCerts {
		cmd = cmd.NoCheckCertificates()
	}
	if y.cookies != "" {
		cmd = cmd.Cookies(y.cookies)
	}
	return cmd
}

func (y *YtdlpExtractor) Extract(ctx context.Context, query string) (*Info, error) {
	if err := y.Install(ctx); err != nil {
		return nil, err
	}

	res, err := y.command().Run(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("yt-dlp run: %w", ctxErr)
		}
		return nil, fmt.Errorf("yt-dlp run: %w", err)
	}

	out := strings.TrimSpace(res.Stdout)
	if out == "" || out == "null" {
		return nil, errors.New("yt-dlp returned no data")
	}

	var info Info
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		return nil, fmt.Errorf("parse yt-dlp json: %w", err)
	}
	slog.Debug("yt-dlp extracted", "query", query, "formats", len(info.Formats), "entries", len(info.Entries))
	return &info, nil
}
