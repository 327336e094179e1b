package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ytget/ytfetch"
	"github.com/ytget/ytfetch/catalog"
	"github.com/ytget/ytfetch/client"
	"github.com/ytget/ytfetch/internal/botguard"
	"github.com/ytget/ytfetch/internal/logger"
	"github.com/ytget/ytfetch/muxer"
	"github.com/ytget/ytfetch/types"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var log = logger.WithComponent(logger.ComponentApp)

type options struct {
	res           string
	output        string
	scratch       string
	concurrency   int
	limit         int
	progressive   bool
	parallelFetch bool
	httpTimeout   time.Duration
	retries       int
	ua            string
	proxy         string
	rateLimit     string
	ffmpeg        string
	mergeTimeout  time.Duration
	backend       string
	botguard      string
	botguardJS    string
	botguardCache string
	noProgress    bool
	json          bool
	logConfig     string

	url string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var o options
	fs := flag.NewFlagSet("ytfetch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.res, "res", "", "Resolution to download (240p, 360p, 480p, 720p, 1080p, 1440p, 2160p)")
	fs.StringVar(&o.output, "output", ".", "Base directory for downloaded videos and playlists")
	fs.StringVar(&o.scratch, "scratch", ".", "Directory for intermediate video/audio files")
	fs.IntVar(&o.concurrency, "concurrency", 1, "Parallelism for playlist downloads")
	fs.IntVar(&o.limit, "limit", 0, "Max items to process for playlist (0 means all)")
	fs.BoolVar(&o.progressive, "progressive", false, "Prefer a progressive stream at the requested resolution over merging")
	fs.BoolVar(&o.parallelFetch, "parallel-fetch", false, "Download video and audio of a merged plan concurrently")
	fs.DurationVar(&o.httpTimeout, "http-timeout", 30*time.Second, "HTTP timeout (e.g., 30s, 1m)")
	fs.IntVar(&o.retries, "retries", 3, "HTTP retries for transient errors")
	fs.StringVar(&o.ua, "ua", "", "Override User-Agent header")
	fs.StringVar(&o.proxy, "proxy", "", "Proxy URL (http/https/socks)")
	fs.StringVar(&o.rateLimit, "rate-limit", "", "Download rate limit (e.g., 2MiB/s, 500KiB/s)")
	fs.StringVar(&o.ffmpeg, "ffmpeg", "", "Path to ffmpeg (default $"+muxer.EnvPath+" or ffmpeg on PATH)")
	fs.DurationVar(&o.mergeTimeout, "merge-timeout", 0, "Abort a merge after this long (0 means no limit)")
	fs.StringVar(&o.backend, "backend", "innertube", "Catalog backend: innertube or kkdai")
	fs.StringVar(&o.botguard, "botguard", "off", "Botguard mode: off, auto or force")
	fs.StringVar(&o.botguardJS, "botguard-script", "", "Path to the Botguard solver script")
	fs.StringVar(&o.botguardCache, "botguard-cache", "memory", "Botguard token cache: memory or a directory")
	fs.BoolVar(&o.noProgress, "no-progress", false, "Disable progress output")
	fs.BoolVar(&o.json, "json", false, "Print one JSON object per video outcome")
	fs.StringVar(&o.logConfig, "log-config", "", "JSON logger configuration file (default from YTFETCH_LOG_* variables)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [flags] [video_or_playlist_url]\n", fs.Name())
		fmt.Fprintln(stderr, "\nFlags:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	switch fs.NArg() {
	case 0:
	case 1:
		o.url = strings.TrimSpace(fs.Arg(0))
	default:
		fs.Usage()
		return nil, fmt.Errorf("expected at most one url, got %d", fs.NArg())
	}
	if o.res != "" {
		if _, err := parseResolution(o.res); err != nil {
			return nil, err
		}
	}
	if o.backend != "innertube" && o.backend != "kkdai" {
		return nil, fmt.Errorf("unknown backend %q (want innertube or kkdai)", o.backend)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	return &o, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	if err := setupLogging(opts.logConfig); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	in := bufio.NewReader(stdin)
	if opts.url == "" {
		if opts.url, err = promptURL(in, stdout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
	}
	var res types.Resolution
	if opts.res != "" {
		res, _ = parseResolution(opts.res)
	} else if res, err = promptResolution(in, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	con := newConsole(stdout, stderr, !opts.noProgress && !opts.json && opts.concurrency == 1, opts.json)
	f, err := newFetcher(opts, con)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	start := time.Now()
	listing, seq, err := f.Download(ctx, opts.url, res)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	log.Info("Starting download", logger.Fields{"title": listing.Title, "playlist": listing.IsPlaylist, "resolution": res.String()})

	var outs []types.Outcome
	enc := json.NewEncoder(stdout)
	for o := range seq {
		outs = append(outs, o)
		if opts.json {
			if err := enc.Encode(o); err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
			}
		}
	}

	s := summarize(outs)
	if !opts.json {
		con.summary(s, time.Since(start))
	}
	if ctx.Err() != nil {
		fmt.Fprintln(stderr, "Interrupted")
		return exitFailure
	}
	if s.failed > 0 {
		return exitFailure
	}
	return exitOK
}

// newFetcher wires the catalog backend, muxer and pipeline options.
func newFetcher(opts *options, con *console) (*ytfetch.Fetcher, error) {
	bps, err := parseRate(opts.rateLimit)
	if err != nil {
		return nil, err
	}
	hc := client.NewWith(client.Config{Timeout: opts.httpTimeout, Retries: opts.retries, UserAgent: opts.ua, ProxyURL: opts.proxy})

	var cat catalog.Catalog
	switch opts.backend {
	case "kkdai":
		cat = catalog.NewKkdai(catalog.KkdaiConfig{Client: hc, RateLimitBps: bps, Progress: con.progress})
	default:
		mode, err := botguard.ParseMode(opts.botguard)
		if err != nil {
			return nil, err
		}
		cfg := catalog.YouTubeConfig{Client: hc, RateLimitBps: bps, PlaylistLimit: opts.limit, Progress: con.progress}
		if mode != botguard.Off {
			if opts.botguardJS == "" {
				return nil, fmt.Errorf("-botguard %s requires -botguard-script", mode)
			}
			cache, err := newBotguardCache(opts.botguardCache)
			if err != nil {
				return nil, err
			}
			cfg.BotguardMode = mode
			cfg.BotguardSolver = botguard.NewGojaSolverWithScript(opts.botguardJS)
			cfg.BotguardCache = cache
		}
		cat = catalog.NewYouTube(cfg)
	}

	f := ytfetch.New().
		WithCatalog(cat).
		WithMuxer(muxer.NewFFmpegMuxer(opts.ffmpeg)).
		WithOutputDir(opts.output).
		WithScratchDir(opts.scratch).
		WithConcurrency(opts.concurrency).
		WithLimit(opts.limit).
		WithParallelFetch(opts.parallelFetch).
		WithTimeouts(0, opts.mergeTimeout)
	if opts.progressive {
		f = f.WithPreferProgressive()
	}
	if !opts.json {
		f = f.WithStateFunc(con.state)
	}
	return f, nil
}

func newBotguardCache(value string) (botguard.Cache, error) {
	if value == "" || value == "memory" {
		return botguard.NewMemoryCache(), nil
	}
	return botguard.NewFileCache(value)
}

func setupLogging(path string) error {
	var (
		cfg *logger.LogConfig
		err error
	)
	if path != "" {
		if cfg, err = logger.LoadConfigFromFile(path); err != nil {
			return err
		}
		cfg.ApplyEnv(os.Getenv)
	} else {
		cfg = logger.EnvironmentConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("logger config: %w", err)
	}
	logger.SetGlobalLogger(l)
	return nil
}

// parseRate parses strings like "2MiB/s", "500KiB/s" into bytes per second.
// An empty string means no limit.
func parseRate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(strings.TrimSpace(strings.TrimSuffix(strings.ToLower(s), "/s")))
	if err != nil {
		return 0, fmt.Errorf("invalid rate limit %q: %w", s, err)
	}
	return int64(n), nil
}

// parseResolution accepts exactly one of the selectable labels.
func parseResolution(label string) (types.Resolution, error) {
	r, ok := types.ParseResolution(label)
	if !ok || r.String() != strings.ToLower(strings.TrimSpace(label)) {
		return types.ResUnknown, fmt.Errorf("invalid resolution %q (want one of %s)", label, resolutionChoices())
	}
	return r, nil
}

func resolutionChoices() string {
	labels := make([]string, len(types.Resolutions))
	for i, r := range types.Resolutions {
		labels[i] = r.String()
	}
	return strings.Join(labels, " ")
}

func promptURL(in *bufio.Reader, out io.Writer) (string, error) {
	for {
		fmt.Fprint(out, "Enter the url: ")
		line, err := in.ReadString('\n')
		if u := strings.TrimSpace(line); u != "" {
			return u, nil
		}
		if err != nil {
			return "", fmt.Errorf("no url given: %w", err)
		}
	}
}

func promptResolution(in *bufio.Reader, out io.Writer) (types.Resolution, error) {
	for {
		fmt.Fprintf(out, "Please select a resolution [%s]: ", resolutionChoices())
		line, err := in.ReadString('\n')
		if label := strings.TrimSpace(line); label != "" {
			if r, perr := parseResolution(label); perr == nil {
				return r, nil
			}
			fmt.Fprintf(out, "%q is not a valid resolution.\n", label)
		}
		if err != nil {
			return types.ResUnknown, fmt.Errorf("no resolution given: %w", err)
		}
	}
}
