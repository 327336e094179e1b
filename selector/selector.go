// Package selector decides which streams to fetch for a requested resolution.
//
// A stream matching the requested resolution is always fetched as a
// video+audio pair and merged: progressive streams at a matching resolution
// usually lack a usable audio track. When nothing matches, the highest
// resolution stream is downloaded as is and never merged.
package selector

import (
	"errors"

	"github.com/ytget/ytfetch/errs"
	"github.com/ytget/ytfetch/internal/logger"
	"github.com/ytget/ytfetch/internal/mimeext"
	"github.com/ytget/ytfetch/types"
)

const op = "select plan"

var (
	log = logger.WithComponent(logger.ComponentSelector)

	errEmptySet = errors.New("empty stream set")
	errNoAudio  = errors.New("no audio-only stream")
)

type options struct {
	preferProgressive bool
}

// Option tunes SelectPlan.
type Option func(*options)

// WithPreferProgressive downloads a matching stream directly when it already
// carries audio, instead of pairing it with a separate audio stream.
func WithPreferProgressive() Option {
	return func(o *options) { o.preferProgressive = true }
}

// SelectPlan maps the streams of one video and a requested resolution to a
// fetch plan. It is deterministic and does no I/O; ties are broken by the
// order of streams.
func SelectPlan(streams []types.StreamDescriptor, requested types.Resolution, opts ...Option) (types.FetchPlan, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if len(streams) == 0 {
		return types.FetchPlan{}, errs.New(errs.ErrNoStreamsAvailable, op, "", errEmptySet)
	}

	match, ok := firstMatch(streams, requested)
	if !ok {
		best := highest(streams)
		log.Debug("No stream at requested resolution", logger.Fields{
			"video_id":  best.VideoID,
			"requested": requested.String(),
			"fallback":  best.Resolution.String(),
			"itag":      best.Itag,
		})
		return types.HighestAvailablePlan(best), nil
	}

	if o.preferProgressive && match.Kind == types.Progressive {
		return types.ProgressivePlan(match), nil
	}

	audio, ok := bestAudio(streams, match)
	if !ok {
		return types.FetchPlan{}, errs.New(errs.ErrNoStreamsAvailable, op, match.VideoID, errNoAudio)
	}
	log.Debug("Selected split plan", logger.Fields{
		"video_id":   match.VideoID,
		"video_itag": match.Itag,
		"audio_itag": audio.Itag,
	})
	return types.SplitAVPlan(match, audio), nil
}

// firstMatch returns the first stream carrying video at exactly res.
// ResUnknown never matches.
func firstMatch(streams []types.StreamDescriptor, res types.Resolution) (types.StreamDescriptor, bool) {
	if res == types.ResUnknown {
		return types.StreamDescriptor{}, false
	}
	for _, s := range streams {
		if s.Kind != types.AudioOnly && s.Resolution == res {
			return s, true
		}
	}
	return types.StreamDescriptor{}, false
}

// highest returns the first stream with the maximum resolution.
func highest(streams []types.StreamDescriptor) types.StreamDescriptor {
	best := streams[0]
	for _, s := range streams[1:] {
		if s.Resolution > best.Resolution {
			best = s
		}
	}
	return best
}

// bestAudio picks the audio-only stream to pair with video: same container
// subtype first, then highest bitrate, then stream order.
func bestAudio(streams []types.StreamDescriptor, video types.StreamDescriptor) (types.StreamDescriptor, bool) {
	want := mimeext.Subtype(video.MimeType)
	var (
		best      types.StreamDescriptor
		bestMatch bool
		found     bool
	)
	for _, s := range streams {
		if s.Kind != types.AudioOnly {
			continue
		}
		sameContainer := want != "" && mimeext.Subtype(s.MimeType) == want
		if found && !preferAudio(sameContainer, s.Bitrate, bestMatch, best.Bitrate) {
			continue
		}
		best, bestMatch, found = s, sameContainer, true
	}
	return best, found
}

func preferAudio(sameContainer bool, bitrate int, bestSame bool, bestBitrate int) bool {
	if sameContainer != bestSame {
		return sameContainer
	}
	return bitrate > bestBitrate
}
