package types

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// StreamKind tells whether a stream carries video, audio or both.
type StreamKind int

const (
	// Progressive streams contain both video and audio.
	Progressive StreamKind = iota
	// VideoOnly streams contain no audio track.
	VideoOnly
	// AudioOnly streams contain no video track.
	AudioOnly
)

var kindNames = map[StreamKind]string{
	Progressive: "progressive",
	VideoOnly:   "video-only",
	AudioOnly:   "audio-only",
}

// String returns the lower-case kind name.
func (k StreamKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Resolution is an ordered video resolution. The zero value is ResUnknown,
// which orders below every known resolution.
type Resolution int

const (
	ResUnknown Resolution = iota
	Res240p
	Res360p
	Res480p
	Res720p
	Res1080p
	Res1440p
	Res2160p
)

// Resolutions lists the selectable resolutions in ascending order.
var Resolutions = []Resolution{Res240p, Res360p, Res480p, Res720p, Res1080p, Res1440p, Res2160p}

var resolutionHeights = map[Resolution]int{
	Res240p:  240,
	Res360p:  360,
	Res480p:  480,
	Res720p:  720,
	Res1080p: 1080,
	Res1440p: 1440,
	Res2160p: 2160,
}

var resolutionLabelRe = regexp.MustCompile(`^([0-9]{3,4})p`)

// Height returns the pixel height, or 0 for ResUnknown.
func (r Resolution) Height() int {
	return resolutionHeights[r]
}

// String returns labels like "720p", or "unknown".
func (r Resolution) String() string {
	if h := r.Height(); h > 0 {
		return strconv.Itoa(h) + "p"
	}
	return "unknown"
}

// MarshalText encodes the resolution label.
func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ParseResolution parses a label such as "720p" or "1080p60".
// Unrecognized labels yield ResUnknown and ok=false.
func ParseResolution(label string) (Resolution, bool) {
	m := resolutionLabelRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(label)))
	if len(m) != 2 {
		return ResUnknown, false
	}
	h, err := strconv.Atoi(m[1])
	if err != nil {
		return ResUnknown, false
	}
	for r, rh := range resolutionHeights {
		if rh == h {
			return r, true
		}
	}
	return ResUnknown, false
}

// StreamDescriptor describes one media stream offered by the catalog.
// Descriptors are values and are never modified after the catalog builds them.
type StreamDescriptor struct {
	ID         string
	VideoID    string
	Itag       int
	Kind       StreamKind
	Resolution Resolution
	MimeType   string
	Bitrate    int
	Size       int64
	// Filename is the catalog-suggested output filename (title + extension).
	Filename string

	// Backend handles; the core never reads these.
	URL             string
	SignatureCipher string
}

// TargetPath is the final location of a downloaded video.
type TargetPath struct {
	Dir      string
	Filename string
	FullPath string
}

// NewTargetPath joins dir and filename into a TargetPath.
func NewTargetPath(dir, filename string) TargetPath {
	return TargetPath{Dir: dir, Filename: filename, FullPath: filepath.Join(dir, filename)}
}

// VideoInfo is the basic metadata of a video.
type VideoInfo struct {
	ID       string
	Title    string
	Author   string
	Duration int
}

// Listing is what a catalog resolves a user URL into.
type Listing struct {
	ID         string
	Title      string
	IsPlaylist bool
	Items      []PlaylistItem
}

// PlaylistJob is one playlist download request.
type PlaylistJob struct {
	SourceURL  string
	Resolution Resolution
	Title      string
	Dir        string
	Items      []PlaylistItem
}
