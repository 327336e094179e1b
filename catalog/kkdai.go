package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/kkdai/youtube/v2"

	"github.com/ytget/ytfetch/client"
	"github.com/ytget/ytfetch/downloader"
	"github.com/ytget/ytfetch/errs"
	"github.com/ytget/ytfetch/internal/logger"
	"github.com/ytget/ytfetch/internal/mimeext"
	"github.com/ytget/ytfetch/internal/sanitize"
	"github.com/ytget/ytfetch/types"
)

// KkdaiConfig configures the kkdai/youtube backend. Zero values use defaults.
type KkdaiConfig struct {
	Client       *client.Client
	RateLimitBps int64
	Progress     ProgressFunc
}

// Kkdai is a Catalog built on github.com/kkdai/youtube. Metadata and stream
// URL deciphering come from the library; bytes go through the same chunked
// downloader as the InnerTube backend.
type Kkdai struct {
	yt       *youtube.Client
	dl       *downloader.Downloader
	progress ProgressFunc

	mu     sync.Mutex
	videos map[string]*youtube.Video
}

var _ Catalog = (*Kkdai)(nil)

// NewKkdai builds the kkdai catalog.
func NewKkdai(cfg KkdaiConfig) *Kkdai {
	hc := cfg.Client
	if hc == nil {
		hc = client.New()
	}
	dl := downloader.New(hc.HTTPClient, nil, cfg.RateLimitBps)
	dl.UserAgent = hc.UserAgent
	return &Kkdai{
		yt:       &youtube.Client{HTTPClient: hc.HTTPClient},
		dl:       dl,
		progress: cfg.Progress,
		videos:   make(map[string]*youtube.Video),
	}
}

// Resolve turns a video or playlist URL into a listing.
func (k *Kkdai) Resolve(ctx context.Context, rawURL string) (*types.Listing, error) {
	if IsPlaylistURL(rawURL) {
		pl, err := k.yt.GetPlaylistContext(ctx, rawURL)
		if err != nil {
			return nil, mapKkdaiError(err)
		}
		listing := &types.Listing{ID: pl.ID, Title: pl.Title, IsPlaylist: true}
		if listing.Title == "" {
			listing.Title = pl.ID
		}
		for i, entry := range pl.Videos {
			listing.Items = append(listing.Items, types.PlaylistItem{VideoID: entry.ID, Title: entry.Title, Index: i + 1})
		}
		log.Info("Resolved playlist", logger.Fields{"playlist": pl.ID, "title": listing.Title, "items": len(listing.Items)})
		return listing, nil
	}

	v, err := k.video(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	log.Info("Resolved video", logger.Fields{"video_id": v.ID, "title": v.Title})
	return &types.Listing{
		ID:    v.ID,
		Title: v.Title,
		Items: []types.PlaylistItem{{VideoID: v.ID, Title: v.Title, Index: 1}},
	}, nil
}

// ListStreams returns the formats of a video in library order.
func (k *Kkdai) ListStreams(ctx context.Context, videoID string) ([]types.StreamDescriptor, error) {
	v, err := k.video(ctx, videoID)
	if err != nil {
		return nil, err
	}
	return streamsFromVideo(v), nil
}

// Download asks the library for the deciphered URL of the stream's itag and
// downloads it to dest.
func (k *Kkdai) Download(ctx context.Context, stream types.StreamDescriptor, dest string) error {
	v, err := k.video(ctx, stream.VideoID)
	if err != nil {
		return err
	}
	formats := v.Formats.Itag(stream.Itag)
	if len(formats) == 0 {
		return fmt.Errorf("itag %d no longer offered for %s", stream.Itag, stream.VideoID)
	}
	mediaURL, err := k.yt.GetStreamURLContext(ctx, v, &formats[0])
	if err != nil {
		return mapKkdaiError(err)
	}

	dl := k.dl
	if k.progress != nil {
		dl = dl.WithProgress(func(p downloader.Progress) {
			k.progress(Progress{Stream: stream, Downloaded: p.DownloadedSize, Total: p.TotalSize, Percent: p.Percent})
		})
	}
	return dl.Download(ctx, mediaURL, dest)
}

// video returns the cached metadata for id (a video id or URL).
func (k *Kkdai) video(ctx context.Context, id string) (*youtube.Video, error) {
	if vid, err := ExtractVideoID(id); err == nil {
		id = vid
	}
	k.mu.Lock()
	v, ok := k.videos[id]
	k.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := k.yt.GetVideoContext(ctx, id)
	if err != nil {
		return nil, mapKkdaiError(err)
	}
	k.mu.Lock()
	k.videos[v.ID] = v
	k.mu.Unlock()
	return v, nil
}

func streamsFromVideo(v *youtube.Video) []types.StreamDescriptor {
	streams := make([]types.StreamDescriptor, 0, len(v.Formats))
	for _, f := range v.Formats {
		var kind types.StreamKind
		switch mimeext.Type(f.MimeType) {
		case "audio":
			kind = types.AudioOnly
		case "video":
			kind = types.VideoOnly
			if f.AudioChannels > 0 {
				kind = types.Progressive
			}
		default:
			continue
		}
		s := types.StreamDescriptor{
			ID:       strconv.Itoa(f.ItagNo),
			VideoID:  v.ID,
			Itag:     f.ItagNo,
			Kind:     kind,
			MimeType: f.MimeType,
			Bitrate:  int(f.Bitrate),
			Size:     int64(f.ContentLength),
			Filename: sanitize.ToSafeFilename(v.Title, mimeext.ExtFromMime(f.MimeType)),
			URL:      f.URL,
		}
		if kind != types.AudioOnly {
			if r, ok := types.ParseResolution(f.QualityLabel); ok {
				s.Resolution = r
			} else if r, ok := types.ParseResolution(strconv.Itoa(int(f.Height)) + "p"); ok {
				s.Resolution = r
			}
		}
		streams = append(streams, s)
	}
	return streams
}

// mapKkdaiError attaches the matching errs sentinel to library errors.
func mapKkdaiError(err error) error {
	var status *youtube.ErrPlayabiltyStatus
	switch {
	case errors.Is(err, youtube.ErrVideoPrivate):
		return fmt.Errorf("%w: %w", errs.ErrPrivate, err)
	case errors.Is(err, youtube.ErrLoginRequired):
		return fmt.Errorf("%w: %w", errs.ErrAgeRestricted, err)
	case errors.Is(err, youtube.ErrNotPlayableInEmbed), errors.As(err, &status):
		return fmt.Errorf("%w: %w", errs.ErrVideoUnavailable, err)
	}
	return err
}
