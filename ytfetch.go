package ytfetch

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ytget/ytfetch/catalog"
	"github.com/ytget/ytfetch/errs"
	"github.com/ytget/ytfetch/internal/logger"
	"github.com/ytget/ytfetch/internal/sanitize"
	"github.com/ytget/ytfetch/muxer"
	"github.com/ytget/ytfetch/orchestrator"
	"github.com/ytget/ytfetch/playlist"
	"github.com/ytget/ytfetch/selector"
	"github.com/ytget/ytfetch/types"
)

const (
	pprofEnv  = "YTFETCH_PPROF"
	pprofAddr = ":6060"
)

var log = logger.WithComponent(logger.ComponentApp)

// Fetcher downloads videos and playlists into container directories under
// its output directory.
type Fetcher struct {
	catalog     catalog.Catalog
	catalogOnce sync.Once
	muxer       muxer.Muxer
	outputDir   string
	orchCfg     orchestrator.Config
	concurrency int
	limit       int
	selectOpts  []selector.Option
}

// startPprofServer starts a pprof server for debugging
func startPprofServer() {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

		log.Info("Starting pprof server", logger.Fields{"addr": pprofAddr})
		if err := http.ListenAndServe(pprofAddr, mux); err != nil {
			log.Error("pprof server stopped", logger.Fields{"error": err.Error()})
		}
	}()
}

// New creates a Fetcher using the InnerTube catalog and the ffmpeg muxer,
// writing into the current directory. The InnerTube catalog is built on first
// use unless WithCatalog replaced it.
func New() *Fetcher {
	if os.Getenv(pprofEnv) == "1" {
		startPprofServer()
	}
	return &Fetcher{
		muxer:     muxer.NewFFmpegMuxer(""),
		outputDir: ".",
	}
}

// WithCatalog replaces the stream catalog.
func (f *Fetcher) WithCatalog(c catalog.Catalog) *Fetcher {
	f.catalog = c
	return f
}

// WithMuxer replaces the muxer used for split video/audio downloads.
func (f *Fetcher) WithMuxer(m muxer.Muxer) *Fetcher {
	f.muxer = m
	return f
}

// WithOutputDir sets the directory container directories are created in.
func (f *Fetcher) WithOutputDir(dir string) *Fetcher {
	if dir == "" {
		dir = "."
	}
	f.outputDir = dir
	return f
}

// WithScratchDir sets where intermediates are kept while merging.
func (f *Fetcher) WithScratchDir(dir string) *Fetcher {
	f.orchCfg.ScratchDir = dir
	return f
}

// WithConcurrency sets how many playlist members are processed at once.
func (f *Fetcher) WithConcurrency(n int) *Fetcher {
	f.concurrency = n
	return f
}

// WithLimit caps the number of playlist members downloaded. Zero means all.
func (f *Fetcher) WithLimit(n int) *Fetcher {
	if n < 0 {
		n = 0
	}
	f.limit = n
	return f
}

// WithPreferProgressive takes a progressive stream at the requested
// resolution instead of merging, when one exists.
func (f *Fetcher) WithPreferProgressive() *Fetcher {
	f.selectOpts = append(f.selectOpts, selector.WithPreferProgressive())
	return f
}

// WithParallelFetch downloads the video and audio of a split plan concurrently.
func (f *Fetcher) WithParallelFetch(on bool) *Fetcher {
	f.orchCfg.ParallelFetch = on
	return f
}

// WithTimeouts bounds each stream download and each merge. Zero disables a bound.
func (f *Fetcher) WithTimeouts(download, merge time.Duration) *Fetcher {
	f.orchCfg.DownloadTimeout = download
	f.orchCfg.MergeTimeout = merge
	return f
}

// WithStateFunc registers a callback receiving every state transition.
func (f *Fetcher) WithStateFunc(fn func(types.Outcome)) *Fetcher {
	f.orchCfg.OnState = fn
	return f
}

// Resolve turns a user URL into a listing. Any failure is job-level and
// wraps errs.ErrCatalogUnavailable.
func (f *Fetcher) Resolve(ctx context.Context, rawURL string) (*types.Listing, error) {
	log.Debug("Resolving URL", logger.Fields{"url": rawURL})
	listing, err := f.streamCatalog().Resolve(ctx, rawURL)
	if err != nil {
		return nil, errs.New(errs.ErrCatalogUnavailable, "resolve", "", err)
	}
	return listing, nil
}

// Download resolves rawURL and downloads the video or every playlist member.
func (f *Fetcher) Download(ctx context.Context, rawURL string, res types.Resolution) (*types.Listing, iter.Seq[types.Outcome], error) {
	listing, err := f.Resolve(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	if listing.IsPlaylist {
		return listing, f.walk(ctx, rawURL, listing, res), nil
	}
	return listing, func(yield func(types.Outcome) bool) {
		yield(f.video(ctx, listing, res))
	}, nil
}

// DownloadVideo downloads a single video into a directory named after its
// title. Per-video failures are reported in the outcome; the error is set
// only when the URL cannot be resolved.
func (f *Fetcher) DownloadVideo(ctx context.Context, rawURL string, res types.Resolution) (types.Outcome, error) {
	listing, err := f.Resolve(ctx, rawURL)
	if err != nil {
		return types.Outcome{}, err
	}
	if listing.IsPlaylist {
		return types.Outcome{}, fmt.Errorf("%s is a playlist", rawURL)
	}
	return f.video(ctx, listing, res), nil
}

// DownloadPlaylist downloads every member of a playlist into a directory
// named after the playlist. Outcomes are produced as the sequence is consumed.
func (f *Fetcher) DownloadPlaylist(ctx context.Context, rawURL string, res types.Resolution) (iter.Seq[types.Outcome], error) {
	listing, err := f.Resolve(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if !listing.IsPlaylist {
		return nil, fmt.Errorf("%s is not a playlist", rawURL)
	}
	return f.walk(ctx, rawURL, listing, res), nil
}

// streamCatalog returns the configured catalog, falling back to InnerTube.
func (f *Fetcher) streamCatalog() catalog.Catalog {
	f.catalogOnce.Do(func() {
		if f.catalog == nil {
			f.catalog = catalog.NewYouTube(catalog.YouTubeConfig{})
		}
	})
	return f.catalog
}

func (f *Fetcher) newOrchestrator() *orchestrator.Orchestrator {
	return orchestrator.New(f.streamCatalog(), f.muxer, f.orchCfg)
}

func (f *Fetcher) walk(ctx context.Context, rawURL string, listing *types.Listing, res types.Resolution) iter.Seq[types.Outcome] {
	job := types.PlaylistJob{
		SourceURL:  rawURL,
		Resolution: res,
		Title:      listing.Title,
		Dir:        filepath.Join(f.outputDir, sanitize.DirName(listing.Title)),
		Items:      listing.Items,
	}
	log.Info("Downloading playlist", logger.Fields{"title": listing.Title, "videos": len(listing.Items), "resolution": res.String(), "dir": job.Dir})
	w := &playlist.Walker{
		Catalog:       f.streamCatalog(),
		Orchestrator:  f.newOrchestrator(),
		Concurrency:   f.concurrency,
		Limit:         f.limit,
		SelectOptions: f.selectOpts,
	}
	return w.Run(ctx, job)
}

// video downloads a resolved single video to "<dir>/<dir>.<filename>".
func (f *Fetcher) video(ctx context.Context, listing *types.Listing, res types.Resolution) types.Outcome {
	orch := f.newOrchestrator()
	item := types.PlaylistItem{VideoID: listing.ID, Title: listing.Title, Index: 1}
	fail := func(err error) types.Outcome {
		now := time.Now()
		out := types.Outcome{Index: item.Index, VideoID: item.VideoID, Title: item.Title, Started: now, Finished: now}
		out.Fail(err)
		log.Error("Video failed", logger.Fields{"video_id": item.VideoID, "error": err.Error()})
		orch.Report(out)
		return out
	}

	streams, err := f.streamCatalog().ListStreams(ctx, listing.ID)
	if err != nil {
		return fail(errs.New(errs.ErrCatalogUnavailable, "list streams", listing.ID, err))
	}
	plan, err := selector.SelectPlan(streams, res, f.selectOpts...)
	if err != nil {
		return fail(err)
	}
	dir := sanitize.DirName(listing.Title)
	target := types.NewTargetPath(filepath.Join(f.outputDir, dir), dir+"."+plan.Filename())
	return orch.ExecuteItem(ctx, item, plan, target)
}
