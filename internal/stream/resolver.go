package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/sonroyaalmerol/kumaplay/internal/cache"
)

var (
	// ErrExtraction covers every failure to turn a query into a playable
	// record: backend errors, timeouts, empty results, malformed records.
	ErrExtraction       = errors.New("extraction failed")
	ErrNoPlayableStream = errors.New("no playable stream")
)

// QueryRewriter maps links the extractor cannot play directly (Spotify) to
// search text. ok is false when the query is left alone.
type QueryRewriter interface {
	Rewrite(ctx context.Context, query string) (rewritten string, ok bool, err error)
}

const defaultResolveTimeout = 30 * time.Second

type ResolverOptions struct {
	Timeout  time.Duration
	CacheTTL time.Duration
	// Rate limits extractor calls per second across all guilds; zero means
	// unlimited.
	Rate float64
}

// Resolver turns user queries into tracks. Results are cached briefly and
// identical in-flight queries share one extractor call.
type Resolver struct {
	extractor Extractor
	rewriter  QueryRewriter
	timeout   time.Duration
	limiter   *rate.Limiter
	cache     *cache.TTL[Track]
	group     singleflight.Group
}

func NewResolver(ex Extractor, rw QueryRewriter, opts ResolverOptions) *Resolver {
	lim := rate.NewLimiter(rate.Inf, 0)
	if opts.Rate > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.Rate), 2)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}
	return &Resolver{
		extractor: ex,
		rewriter:  rw,
		timeout:   timeout,
		limiter:   lim,
		cache:     cache.New[Track](opts.CacheTTL),
	}
}

func (r *Resolver) Resolve(ctx context.Context, query string) (Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Track{}, fmt.Errorf("%w: empty query", ErrExtraction)
	}

	if r.rewriter != nil {
		rewritten, ok, err := r.rewriter.Rewrite(ctx, query)
		if err != nil {
			return Track{}, fmt.Errorf("%w: %v", ErrExtraction, err)
		}
		if ok {
			slog.Debug("rewrote query", "from", query, "to", rewritten)
			query = rewritten
		}
	}

	key := cacheKey(query)
	if t, ok := r.cache.Get(key); ok {
		return t, nil
	}

	// the shared call outlives any single caller; it is bounded by r.timeout
	ch := r.group.DoChan(key, func() (any, error) {
		t, err := r.extract(context.WithoutCancel(ctx), query)
		if err == nil {
			r.cache.Set(key, t)
		}
		return t, err
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Track{}, res.Err
		}
		if res.Shared {
			slog.Debug("shared in-flight resolve", "query", query)
		}
		return res.Val.(Track), nil
	case <-ctx.Done():
		return Track{}, fmt.Errorf("%w: %v", ErrExtraction, ctx.Err())
	}
}

// cacheKey folds case for search text only. URLs carry case-sensitive IDs.
func cacheKey(query string) string {
	if u, err := url.Parse(query); err == nil && u.Scheme != "" && u.Host != "" {
		return query
	}
	return strings.ToLower(query)
}

func (r *Resolver) extract(ctx context.Context, query string) (Track, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.limiter.Wait(ctx); err != nil {
		return Track{}, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	info, err := r.extractor.Extract(ctx, query)
	if err != nil {
		return Track{}, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return trackFromInfo(info)
}
