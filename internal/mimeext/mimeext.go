package mimeext

import (
	"strings"
)

const (
	// DefaultExt is the extension used when MIME is unknown or empty.
	DefaultExt = "mp4"

	// ExtM4A is the file extension for MP4 audio.
	ExtM4A = "m4a"
	// ExtWebM is the file extension for WebM media.
	ExtWebM = "webm"

	// MimeVideoMP4 is the MIME type for MP4 video.
	MimeVideoMP4 = "video/mp4"
	// MimeAudioMP4 is the MIME type for MP4 audio.
	MimeAudioMP4 = "audio/mp4"
	// MimeVideoWebM is the MIME type for WebM video.
	MimeVideoWebM = "video/webm"
	// MimeAudioWebM is the MIME type for WebM audio.
	MimeAudioWebM = "audio/webm"
)

// ExtFromMime returns file extension (without dot) for given mime type.
// Falls back to subtype or mp4 if unknown.
func ExtFromMime(mime string) string {
	mime = strings.TrimSpace(mime)
	if mime == "" {
		return DefaultExt
	}
	base := Base(mime)
	switch base {
	case MimeVideoMP4:
		return DefaultExt
	case MimeAudioMP4:
		return ExtM4A
	case MimeVideoWebM, MimeAudioWebM:
		return ExtWebM
	}
	if sub := Subtype(base); sub != "" {
		return sub
	}
	return DefaultExt
}

// Base strips parameters: `video/mp4; codecs="avc1"` becomes "video/mp4".
func Base(mime string) string {
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

// Type returns the top-level type ("video", "audio"), or "" if malformed.
func Type(mime string) string {
	typ, _, ok := strings.Cut(Base(mime), "/")
	if !ok {
		return ""
	}
	return typ
}

// Subtype returns the container subtype ("mp4", "webm"), or "" if malformed.
// Video and audio streams sharing a subtype can be muxed without transcoding
// the container.
func Subtype(mime string) string {
	_, sub, ok := strings.Cut(Base(mime), "/")
	if !ok {
		return ""
	}
	return sub
}
