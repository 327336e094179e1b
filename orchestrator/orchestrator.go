// Package orchestrator executes fetch plans: it downloads the planned
// streams, merges split video and audio, and skips videos whose target file
// already exists.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ytget/ytfetch/catalog"
	"github.com/ytget/ytfetch/downloader"
	"github.com/ytget/ytfetch/errs"
	"github.com/ytget/ytfetch/internal/logger"
	"github.com/ytget/ytfetch/muxer"
	"github.com/ytget/ytfetch/types"
)

const (
	// DefaultVideoName is the scratch file of the video stream of a split plan.
	DefaultVideoName = "video.mp4"
	// DefaultAudioName is the scratch file of the audio stream.
	DefaultAudioName = "audio.mp4"
	// DefaultFinalName is the muxer output before it is moved to the target.
	DefaultFinalName = "final.mp4"

	dirPerm = 0o755
)

var (
	log = logger.WithComponent(logger.ComponentOrchestrator)

	errMuxerMissing = errors.New("muxer binary not available")
	errEmptyPlan    = errors.New("empty fetch plan")
)

// Config holds the scratch namespace and optional hardening knobs. Zero values
// use defaults.
type Config struct {
	// ScratchDir holds the split-AV intermediates; defaults to the working
	// directory. Concurrent executions need distinct scratch directories.
	ScratchDir string
	VideoName  string
	AudioName  string
	FinalName  string

	// ParallelFetch downloads the video and audio of a split plan concurrently.
	ParallelFetch bool
	// DownloadTimeout bounds each catalog download; MergeTimeout bounds the muxer.
	DownloadTimeout time.Duration
	MergeTimeout    time.Duration

	// OnState is called on every state transition.
	OnState func(types.Outcome)
}

func (c Config) withDefaults() Config {
	if c.ScratchDir == "" {
		c.ScratchDir = "."
	}
	if c.VideoName == "" {
		c.VideoName = DefaultVideoName
	}
	if c.AudioName == "" {
		c.AudioName = DefaultAudioName
	}
	if c.FinalName == "" {
		c.FinalName = DefaultFinalName
	}
	return c
}

// Orchestrator runs one plan at a time per scratch directory.
type Orchestrator struct {
	catalog catalog.Catalog
	muxer   muxer.Muxer
	cfg     Config
}

// New creates an Orchestrator.
func New(c catalog.Catalog, m muxer.Muxer, cfg Config) *Orchestrator {
	return &Orchestrator{catalog: c, muxer: m, cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// WithScratchDir returns a copy of o that keeps its intermediates in dir.
func (o *Orchestrator) WithScratchDir(dir string) *Orchestrator {
	cp := *o
	cp.cfg.ScratchDir = dir
	return &cp
}

// ScratchPaths returns the intermediate video, audio and merge output paths.
func (o *Orchestrator) ScratchPaths() (video, audio, final string) {
	return filepath.Join(o.cfg.ScratchDir, o.cfg.VideoName),
		filepath.Join(o.cfg.ScratchDir, o.cfg.AudioName),
		filepath.Join(o.cfg.ScratchDir, o.cfg.FinalName)
}

// Report passes an outcome produced outside Execute to OnState.
func (o *Orchestrator) Report(out types.Outcome) {
	if o.cfg.OnState != nil {
		o.cfg.OnState(out)
	}
}

// Execute runs plan into target.
func (o *Orchestrator) Execute(ctx context.Context, plan types.FetchPlan, target types.TargetPath) types.Outcome {
	return o.ExecuteItem(ctx, types.PlaylistItem{VideoID: plan.Video.VideoID}, plan, target)
}

// ExecuteItem is Execute with the playlist position and title recorded in the
// outcome.
func (o *Orchestrator) ExecuteItem(ctx context.Context, item types.PlaylistItem, plan types.FetchPlan, target types.TargetPath) types.Outcome {
	out := types.Outcome{
		Index:   item.Index,
		VideoID: item.VideoID,
		Title:   item.Title,
		State:   types.StatePending,
		Plan:    plan.Kind,
		Path:    target.FullPath,
		Started: time.Now(),
	}
	if out.VideoID == "" {
		out.VideoID = plan.Video.VideoID
	}
	o.Report(out)

	err := o.run(ctx, plan, target, &out)
	if err != nil {
		out.Fail(err)
		log.Error("Video failed", logger.Fields{"video_id": out.VideoID, "target": target.FullPath, "error": err.Error()})
	}
	out.Finished = time.Now()
	o.Report(out)
	return out
}

func (o *Orchestrator) transition(out *types.Outcome, state types.State) {
	out.State = state
	o.Report(*out)
}

func (o *Orchestrator) run(ctx context.Context, plan types.FetchPlan, target types.TargetPath, out *types.Outcome) error {
	id := out.VideoID
	switch _, err := os.Stat(target.FullPath); {
	case err == nil:
		log.Info(target.Filename+" already exists.", logger.Fields{"video_id": id, "path": target.FullPath})
		out.State = types.StateSkipped
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return errs.New(errs.ErrFilesystem, "stat target", id, err)
	}

	if plan.Kind == 0 {
		return errs.New(errs.ErrNoStreamsAvailable, "execute", id, errEmptyPlan)
	}
	if plan.NeedsMerge() && !o.muxer.Available() {
		return errs.New(errs.ErrMuxerExecution, "merge", id, errMuxerMissing)
	}
	if err := os.MkdirAll(target.Dir, dirPerm); err != nil {
		return errs.New(errs.ErrFilesystem, "create directory", id, err)
	}

	o.transition(out, types.StateDownloading)
	if !plan.NeedsMerge() {
		log.Info(fmt.Sprintf("Downloading %s in %s", target.Filename, plan.Video.Resolution), logger.Fields{"video_id": id, "plan": plan.Kind.String()})
		if err := o.download(ctx, plan.Video, target.FullPath); err != nil {
			return errs.New(errs.ErrDownloadTransport, "download", id, err)
		}
		out.Bytes = fileSize(target.FullPath)
		out.State = types.StateComplete
		log.Info("Download complete", logger.Fields{"video_id": id, "path": target.FullPath, "size": humanize.IBytes(uint64(out.Bytes))})
		return nil
	}

	videoPath, audioPath, finalPath := o.ScratchPaths()
	if err := os.MkdirAll(o.cfg.ScratchDir, dirPerm); err != nil {
		return errs.New(errs.ErrFilesystem, "create scratch directory", id, err)
	}
	// Scratch names are shared across videos; never resume another stream's
	// partial file.
	for _, p := range []string{videoPath, audioPath} {
		if err := os.Remove(downloader.TempPath(p)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errs.New(errs.ErrFilesystem, "clear scratch", id, err)
		}
	}
	if err := o.fetchPair(ctx, plan, target, videoPath, audioPath); err != nil {
		return errs.New(errs.ErrDownloadTransport, "download", id, err)
	}

	o.transition(out, types.StateMerging)
	mctx, cancel := withTimeout(ctx, o.cfg.MergeTimeout)
	err := o.muxer.Merge(mctx, videoPath, audioPath, finalPath)
	cancel()
	if err != nil {
		log.Warn("Merge failed, intermediates kept", logger.Fields{"video_id": id, "video": videoPath, "audio": audioPath})
		return errs.New(errs.ErrMuxerExecution, "merge", id, err)
	}

	if err := moveFile(finalPath, target.FullPath); err != nil {
		return errs.New(errs.ErrFilesystem, "rename merged file", id, err)
	}
	for _, p := range []string{videoPath, audioPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errs.New(errs.ErrFilesystem, "remove intermediate", id, err)
		}
	}
	out.Bytes = fileSize(target.FullPath)
	out.State = types.StateComplete
	log.Info("Merge complete", logger.Fields{"video_id": id, "path": target.FullPath, "size": humanize.IBytes(uint64(out.Bytes))})
	return nil
}

func (o *Orchestrator) download(ctx context.Context, s types.StreamDescriptor, dest string) error {
	dctx, cancel := withTimeout(ctx, o.cfg.DownloadTimeout)
	defer cancel()
	return o.catalog.Download(dctx, s, dest)
}

// fetchPair downloads both halves of a split plan. Both downloads have
// finished when it returns, also when one of them failed.
func (o *Orchestrator) fetchPair(ctx context.Context, plan types.FetchPlan, target types.TargetPath, videoPath, audioPath string) error {
	log.Info(fmt.Sprintf("Downloading video for %s in %s", target.Filename, plan.Video.Resolution), logger.Fields{"video_id": plan.Video.VideoID, "itag": plan.Video.Itag})
	if !o.cfg.ParallelFetch {
		if err := o.download(ctx, plan.Video, videoPath); err != nil {
			return fmt.Errorf("video stream: %w", err)
		}
		log.Info("Downloading audio for "+target.Filename, logger.Fields{"video_id": plan.Audio.VideoID, "itag": plan.Audio.Itag})
		if err := o.download(ctx, plan.Audio, audioPath); err != nil {
			return fmt.Errorf("audio stream: %w", err)
		}
		return nil
	}

	log.Info("Downloading audio for "+target.Filename, logger.Fields{"video_id": plan.Audio.VideoID, "itag": plan.Audio.Itag})
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		videoErr error
		audioErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if videoErr = o.download(ctx, plan.Video, videoPath); videoErr != nil {
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if audioErr = o.download(ctx, plan.Audio, audioPath); audioErr != nil {
			cancel()
		}
	}()
	wg.Wait()

	switch {
	case videoErr != nil:
		return fmt.Errorf("video stream: %w", videoErr)
	case audioErr != nil:
		return fmt.Errorf("audio stream: %w", audioErr)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// moveFile renames src to dst, copying when they sit on different devices.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return err
	}
	if cerr := copyFile(src, dst); cerr != nil {
		return fmt.Errorf("%w (copy fallback: %v)", err, cerr)
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
	}
	return err
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
