package sanitize

import (
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// MaxFilenameLength is the maximum allowed length for the filename base.
	MaxFilenameLength = 120
	// DefaultExt is the default extension used when none is provided.
	DefaultExt = "mp4"
	// DefaultName is the replacement name when the title is empty.
	DefaultName = "video"
)

var (
	unsafeChars  = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]+`)
	nonWordChars = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
)

// ToSafeFilename builds a cross-platform safe filename from title and extension (without dot in ext).
func ToSafeFilename(title, ext string) string {
	name := strings.TrimSpace(title)
	if name == "" {
		name = DefaultName
	}
	name = unsafeChars.ReplaceAllString(name, "_")
	name = truncate(strings.TrimSpace(name), MaxFilenameLength)
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = DefaultExt
	}
	return filepath.Clean(name + "." + ext)
}

// DirName turns a title into a container directory name: every run of
// characters that are not letters, digits or underscore becomes a single "-".
// "My Playlist: Vol 1" becomes "My-Playlist-Vol-1".
func DirName(title string) string {
	name := nonWordChars.ReplaceAllString(strings.TrimSpace(title), "-")
	name = truncate(name, MaxFilenameLength)
	if name == "" || name == "-" {
		return DefaultName
	}
	return name
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
