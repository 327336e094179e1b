package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ytget/ytfetch/client"
	"github.com/ytget/ytfetch/downloader"
	"github.com/ytget/ytfetch/internal/botguard"
	"github.com/ytget/ytfetch/internal/logger"
	"github.com/ytget/ytfetch/types"
	"github.com/ytget/ytfetch/youtube/cipher"
	"github.com/ytget/ytfetch/youtube/formats"
	"github.com/ytget/ytfetch/youtube/innertube"
)

const (
	defaultBaseURL       = "https://www.youtube.com"
	defaultClientName    = "ANDROID"
	defaultClientVersion = "20.10.38"
	playerJSTTL          = 10 * time.Minute
)

// YouTubeConfig configures the InnerTube backend. Zero values use defaults.
type YouTubeConfig struct {
	// Client carries timeout, retries, UA and proxy; nil means client.New().
	Client *client.Client
	// BaseURL defaults to https://www.youtube.com.
	BaseURL string
	// ClientName and ClientVersion shape the /player request (default ANDROID).
	ClientName    string
	ClientVersion string
	// RateLimitBps caps download speed in bytes per second; 0 disables it.
	RateLimitBps int64
	// PlaylistLimit caps how many playlist entries Resolve loads; 0 loads all.
	PlaylistLimit int

	BotguardSolver botguard.Solver
	BotguardMode   botguard.Mode
	BotguardCache  botguard.Cache
	BotguardTTL    time.Duration

	Progress ProgressFunc
}

// YouTube is the Catalog backed by the InnerTube API, otto deciphering and
// the chunked downloader.
type YouTube struct {
	baseURL  string
	http     *client.Client
	player   *innertube.Client
	browse   *innertube.Client
	dl       *downloader.Downloader
	limit    int
	progress ProgressFunc

	mu       sync.Mutex
	players  map[string]*innertube.PlayerResponse
	playerJS struct {
		url     string
		fetched time.Time
	}
}

var _ Catalog = (*YouTube)(nil)

// NewYouTube builds the InnerTube catalog.
func NewYouTube(cfg YouTubeConfig) *YouTube {
	hc := cfg.Client
	if hc == nil {
		hc = client.New()
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	name, ver := cfg.ClientName, cfg.ClientVersion
	if strings.TrimSpace(name) == "" {
		name, ver = defaultClientName, defaultClientVersion
	}

	newInnertube := func() *innertube.Client {
		it := innertube.New(hc.HTTPClient)
		it.BaseURL = base
		return it.WithBotguard(cfg.BotguardSolver, cfg.BotguardMode, cfg.BotguardCache).WithBotguardTTL(cfg.BotguardTTL)
	}

	dl := downloader.New(hc.HTTPClient, nil, cfg.RateLimitBps)
	dl.UserAgent = hc.UserAgent

	return &YouTube{
		baseURL:  base,
		http:     hc,
		player:   newInnertube().WithClient(name, ver),
		browse:   newInnertube(),
		dl:       dl,
		limit:    cfg.PlaylistLimit,
		progress: cfg.Progress,
		players:  make(map[string]*innertube.PlayerResponse),
	}
}

// Resolve turns a video or playlist URL into a listing. A single video is
// listed as one item with index 1.
func (y *YouTube) Resolve(ctx context.Context, rawURL string) (*types.Listing, error) {
	if IsPlaylistURL(rawURL) {
		id, err := ParsePlaylistID(rawURL)
		if err != nil {
			return nil, err
		}
		pl, err := y.browse.GetPlaylist(ctx, id, y.limit)
		if err != nil {
			return nil, fmt.Errorf("load playlist %s: %w", id, err)
		}
		title := pl.Title
		if title == "" {
			title = id
		}
		log.Info("Resolved playlist", logger.Fields{"playlist": id, "title": title, "items": len(pl.Items)})
		return &types.Listing{ID: id, Title: title, IsPlaylist: true, Items: pl.Items}, nil
	}

	id, err := ExtractVideoID(rawURL)
	if err != nil {
		return nil, err
	}
	pr, err := y.playerResponse(ctx, id)
	if err != nil {
		return nil, err
	}
	y.mu.Lock()
	y.players[id] = pr
	y.mu.Unlock()

	info := pr.Info()
	log.Info("Resolved video", logger.Fields{"video_id": id, "title": info.Title})
	return &types.Listing{
		ID:    id,
		Title: info.Title,
		Items: []types.PlaylistItem{{VideoID: id, Title: info.Title, Index: 1}},
	}, nil
}

// ListStreams returns the streams of a video in player response order.
func (y *YouTube) ListStreams(ctx context.Context, videoID string) ([]types.StreamDescriptor, error) {
	y.mu.Lock()
	pr, ok := y.players[videoID]
	delete(y.players, videoID)
	y.mu.Unlock()
	if !ok {
		var err error
		if pr, err = y.playerResponse(ctx, videoID); err != nil {
			return nil, err
		}
	}
	return formats.ParseStreams(pr), nil
}

func (y *YouTube) playerResponse(ctx context.Context, videoID string) (*innertube.PlayerResponse, error) {
	pr, err := y.player.GetPlayerResponse(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("get player response for %s: %w", videoID, err)
	}
	if err := pr.PlayabilityError(); err != nil {
		return nil, err
	}
	return pr, nil
}

// Download resolves the stream URL and downloads it to dest, resuming a
// leftover dest.tmp when the server allows it.
func (y *YouTube) Download(ctx context.Context, stream types.StreamDescriptor, dest string) error {
	var playerJSURL string
	if formats.NeedsPlayer(stream) {
		u, err := y.playerJSURL(ctx, stream.VideoID)
		switch {
		case err != nil && stream.URL == "":
			return fmt.Errorf("fetch player.js url failed: %w", err)
		case err != nil:
			log.Warn("No player.js, n-parameter left as is", logger.Fields{"video_id": stream.VideoID, "error": err.Error()})
		default:
			playerJSURL = u
		}
	}

	mediaURL, err := formats.ResolveURL(ctx, y.http, stream, playerJSURL)
	if err != nil {
		return err
	}

	dl := y.dl
	if y.progress != nil {
		dl = dl.WithProgress(func(p downloader.Progress) {
			y.progress(Progress{Stream: stream, Downloaded: p.DownloadedSize, Total: p.TotalSize, Percent: p.Percent})
		})
	}
	log.Debug("Downloading stream", logger.Fields{"video_id": stream.VideoID, "itag": stream.Itag, "dest": dest})
	return dl.Download(ctx, mediaURL, dest)
}

// playerJSURL scrapes the player.js location from a watch page. The result is
// shared by every video for a while.
func (y *YouTube) playerJSURL(ctx context.Context, videoID string) (string, error) {
	y.mu.Lock()
	cached, fetched := y.playerJS.url, y.playerJS.fetched
	y.mu.Unlock()
	if cached != "" && time.Since(fetched) < playerJSTTL {
		return cached, nil
	}

	u, err := cipher.FetchPlayerJS(ctx, y.http, WatchURL(y.baseURL, videoID))
	if err != nil {
		return "", err
	}
	y.mu.Lock()
	y.playerJS.url, y.playerJS.fetched = u, time.Now()
	y.mu.Unlock()
	return u, nil
}
