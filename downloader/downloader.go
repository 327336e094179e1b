package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/ytget/ytfetch/internal/logger"
)

const (
	defaultChunkSizeBytes  = 1 << 20 // 1MB
	defaultMaxRetries      = 3       // chunk retries
	temporaryFileSuffix    = ".tmp"  // suffix for temp download
	initialBackoffDuration = 200 * time.Millisecond
	maxBackoffDuration     = 3 * time.Second
	copyBufferSizeBytes    = 32 * 1024 // 32KB; also the limiter burst
	errorBodyPreviewBytes  = 512

	headerRange          = "Range"
	headerContentRange   = "Content-Range"
	headerContentLength  = "Content-Length"
	headerUserAgent      = "User-Agent"
	headerAccept         = "Accept"
	headerAcceptLanguage = "Accept-Language"
	headerAcceptEncoding = "Accept-Encoding"
	headerConnection     = "Connection"
	headerCacheControl   = "Cache-Control"

	successMinHTTPStatusCode      = 200
	successMaxHTTPStatusExclusive = 400

	userAgentValue = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36"
)

var (
	log = logger.WithComponent(logger.ComponentDownloader)

	errUnknownSize = errors.New("cannot determine total size")
)

// Progress holds information about download progress.
type Progress struct {
	TotalSize      int64
	DownloadedSize int64
	Percent        float64
}

// Downloader is responsible for downloading media files with chunked HTTP
// requests, simple retry/backoff, and optional rate limiting.
type Downloader struct {
	Client       *http.Client
	ProgressFunc func(Progress)
	UserAgent    string

	chunkSize  int64
	maxRetries int
	limiter    *rate.Limiter
}

// New creates a new downloader instance with sane defaults.
// If client is nil, a default http.Client is used. rateLimitBps=0 disables limiting.
func New(client *http.Client, progressFunc func(Progress), rateLimitBps int64) *Downloader {
	if client == nil {
		client = &http.Client{}
	}
	d := &Downloader{
		Client:       client,
		ProgressFunc: progressFunc,
		chunkSize:    defaultChunkSizeBytes,
		maxRetries:   defaultMaxRetries,
	}
	if rateLimitBps > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(rateLimitBps), copyBufferSizeBytes)
	}
	return d
}

// WithProgress returns a shallow copy reporting progress to fn. The copy
// shares the rate limiter, so concurrent downloads split one budget.
func (d *Downloader) WithProgress(fn func(Progress)) *Downloader {
	cp := *d
	cp.ProgressFunc = fn
	return &cp
}

// WithChunkSize overrides the Range request size. Non-positive values are ignored.
func (d *Downloader) WithChunkSize(n int64) *Downloader {
	if n > 0 {
		d.chunkSize = n
	}
	return d
}

func isGoogleVideoHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	h := strings.ToLower(u.Host)
	return strings.HasSuffix(h, ".googlevideo.com") || h == "googlevideo.com"
}

func (d *Downloader) newRequest(ctx context.Context, method, urlStr string, googleVideo bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		return nil, err
	}
	ua := d.UserAgent
	if ua == "" {
		ua = userAgentValue
	}
	req.Header.Set(headerUserAgent, ua)
	req.Header.Set(headerAccept, "*/*")
	req.Header.Set(headerAcceptEncoding, "identity")
	req.Header.Set(headerConnection, "keep-alive")
	req.Header.Set(headerCacheControl, "no-cache")
	if !googleVideo {
		req.Header.Set(headerAcceptLanguage, "en-US,en;q=0.9")
	}
	return req, nil
}

// totalFromHeaders reads the full size from Content-Range ("bytes a-b/total"),
// falling back to Content-Length.
func totalFromHeaders(h http.Header) (int64, bool) {
	if cr := h.Get(headerContentRange); cr != "" {
		if _, total, ok := strings.Cut(cr, "/"); ok {
			if v, err := strconv.ParseInt(total, 10, 64); err == nil {
				return v, true
			}
		}
	}
	if cl := h.Get(headerContentLength); cl != "" {
		if v, err := strconv.ParseInt(cl, 10, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func (d *Downloader) probeSize(ctx context.Context, method, urlStr string, googleVideo bool) (int64, error) {
	req, err := d.newRequest(ctx, method, urlStr, googleVideo)
	if err != nil {
		return 0, err
	}
	req.Header.Set(headerRange, "bytes=0-1")
	resp, err := d.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	log.Trace("Size probe", logger.Fields{"method": method, "status": resp.StatusCode})
	if total, ok := totalFromHeaders(resp.Header); ok {
		return total, nil
	}
	return 0, errUnknownSize
}

// detectTotalSize tries HEAD first, then GET range 0-1 to infer total size.
// googlevideo hosts reject HEAD, so they go straight to GET.
func (d *Downloader) detectTotalSize(ctx context.Context, urlStr string) (int64, error) {
	googleVideo := isGoogleVideoHost(urlStr)
	if !googleVideo {
		if total, err := d.probeSize(ctx, http.MethodHead, urlStr, false); err == nil {
			return total, nil
		}
	}
	return d.probeSize(ctx, http.MethodGet, urlStr, googleVideo)
}

// fetchChunk requests bytes [start, end] with retry/backoff. The caller owns
// the returned body.
func (d *Downloader) fetchChunk(ctx context.Context, urlStr string, start, end int64) (*http.Response, error) {
	googleVideo := isGoogleVideoHost(urlStr)
	var lastErr error
	backoff := initialBackoffDuration
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		req, err := d.newRequest(ctx, http.MethodGet, urlStr, googleVideo)
		if err != nil {
			return nil, err
		}
		req.Header.Set(headerRange, fmt.Sprintf("bytes=%d-%d", start, end))

		resp, err := d.Client.Do(req)
		if err == nil && resp.StatusCode >= successMinHTTPStatusCode && resp.StatusCode < successMaxHTTPStatusExclusive {
			return resp, nil
		}
		if err == nil {
			preview, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyPreviewBytes))
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
				return nil, errRangeNotSatisfiable
			}
			err = fmt.Errorf("HTTP status %d", resp.StatusCode)
			log.Debug("Chunk request rejected", logger.Fields{"status": resp.StatusCode, "body": string(preview)})
		}
		lastErr = err
		log.Debug("Chunk request failed", logger.Fields{"attempt": attempt + 1, "start": start, "error": err.Error()})
		if attempt == d.maxRetries-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoffDuration {
			backoff = maxBackoffDuration
		}
	}
	return nil, lastErr
}

var errRangeNotSatisfiable = errors.New("range not satisfiable")

// TempPath returns the partial file Download resumes for outputPath.
func TempPath(outputPath string) string {
	return outputPath + temporaryFileSuffix
}

// Download downloads a file by URL and saves it to outputPath. Bytes land in
// outputPath+".tmp" first; an existing temp file is resumed, and the rename to
// outputPath happens only once the transfer is complete.
func (d *Downloader) Download(ctx context.Context, urlStr string, outputPath string) error {
	tmpPath := TempPath(outputPath)
	err := d.download(ctx, urlStr, outputPath, tmpPath)
	if err != nil {
		if fi, serr := os.Stat(tmpPath); serr == nil && fi.Size() == 0 {
			_ = os.Remove(tmpPath)
		}
	}
	return err
}

func (d *Downloader) download(ctx context.Context, urlStr, outputPath, tmpPath string) error {
	outFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	defer func() { _ = outFile.Close() }()

	info, err := outFile.Stat()
	if err != nil {
		return fmt.Errorf("stat temp file: %w", err)
	}
	downloaded := info.Size()
	if downloaded > 0 {
		log.Info("Resuming partial download", logger.Fields{"path": tmpPath, "have": humanize.IBytes(uint64(downloaded))})
	}

	totalSize, err := d.detectTotalSize(ctx, urlStr)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug("Downloading without size information", logger.Fields{"error": err.Error()})
		totalSize = 0
	} else {
		log.Debug("Starting download", logger.Fields{"path": outputPath, "size": humanize.IBytes(uint64(totalSize))})
	}
	if totalSize > 0 && downloaded > totalSize {
		// stale temp file from a different stream
		if err := restart(outFile); err != nil {
			return err
		}
		downloaded = 0
	}

	for totalSize == 0 || downloaded < totalSize {
		start := downloaded
		end := start + d.chunkSize - 1
		if totalSize > 0 && end >= totalSize {
			end = totalSize - 1
		}

		resp, err := d.fetchChunk(ctx, urlStr, start, end)
		if errors.Is(err, errRangeNotSatisfiable) && totalSize == 0 && downloaded > 0 {
			break
		}
		if err != nil {
			return fmt.Errorf("download chunk at %d: %w", start, err)
		}

		fullBody := resp.StatusCode == http.StatusOK
		if fullBody && start > 0 {
			// server ignored Range; start over from the full body
			if err := restart(outFile); err != nil {
				_ = resp.Body.Close()
				return err
			}
			downloaded = 0
		}
		if totalSize == 0 {
			if total, ok := totalFromHeaders(resp.Header); ok && !fullBody {
				totalSize = total
			}
		}

		read, err := d.copyBody(ctx, outFile, resp.Body, &downloaded, totalSize)
		_ = resp.Body.Close()
		if err != nil {
			return err
		}
		if fullBody || read == 0 {
			break
		}
		if totalSize == 0 && read < end-start+1 {
			break
		}
	}

	if totalSize > 0 && downloaded < totalSize {
		return fmt.Errorf("incomplete download: %d of %d bytes", downloaded, totalSize)
	}
	if downloaded == 0 {
		return fmt.Errorf("empty download: 0 bytes written")
	}
	if err := outFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("finalize download: %w", err)
	}
	log.Debug("Download finished", logger.Fields{"path": outputPath, "size": humanize.IBytes(uint64(downloaded))})
	return nil
}

func (d *Downloader) copyBody(ctx context.Context, w io.Writer, body io.Reader, downloaded *int64, totalSize int64) (int64, error) {
	buf := make([]byte, copyBufferSizeBytes)
	var read int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if d.limiter != nil {
				if err := d.limiter.WaitN(ctx, n); err != nil {
					return read, err
				}
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return read, fmt.Errorf("write chunk: %w", werr)
			}
			*downloaded += int64(n)
			read += int64(n)
			if d.ProgressFunc != nil {
				p := Progress{TotalSize: totalSize, DownloadedSize: *downloaded}
				if totalSize > 0 {
					p.Percent = float64(*downloaded) / float64(totalSize) * 100
				}
				d.ProgressFunc(p)
			}
		}
		if rerr == io.EOF {
			return read, nil
		}
		if rerr != nil {
			return read, fmt.Errorf("read response body: %w", rerr)
		}
	}
}

func restart(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate temp file: %w", err)
	}
	return nil
}
