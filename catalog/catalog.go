// Package catalog defines the remote media catalog the download pipeline
// consumes, and ships two YouTube implementations of it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ytget/ytfetch/internal/logger"
	"github.com/ytget/ytfetch/types"
)

// Catalog resolves user URLs into listings, lists the streams of a video and
// downloads a stream to a local path.
type Catalog interface {
	Resolve(ctx context.Context, rawURL string) (*types.Listing, error)
	ListStreams(ctx context.Context, videoID string) ([]types.StreamDescriptor, error)
	Download(ctx context.Context, stream types.StreamDescriptor, dest string) error
}

// Progress reports bytes written for one stream download.
type Progress struct {
	Stream     types.StreamDescriptor
	Downloaded int64
	Total      int64
	Percent    float64
}

// ProgressFunc receives download progress. It may be called from several
// goroutines when downloads run in parallel.
type ProgressFunc func(Progress)

var (
	log = logger.WithComponent(logger.ComponentCatalog)

	videoIDRe         = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	playlistPrefixes  = []string{"PL", "UU", "LL", "FL", "RD", "OLAK5uy_"}
	errInvalidVideoID = errors.New("invalid youtube video url")
)

// ExtractVideoID returns the video id of a watch, youtu.be, shorts, embed or
// live URL. A bare 11-character id is accepted as is.
func ExtractVideoID(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if videoIDRe.MatchString(rawURL) {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimPrefix(host, "m.")
	var id string
	switch host {
	case "youtu.be":
		id = strings.Split(strings.TrimPrefix(u.Path, "/"), "/")[0]
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if strings.HasPrefix(u.Path, "/watch") {
			id = u.Query().Get("v")
			break
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/", "/v/"} {
			if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
				id = strings.Split(rest, "/")[0]
				break
			}
		}
	}
	if !videoIDRe.MatchString(id) {
		return "", fmt.Errorf("%w: %s", errInvalidVideoID, rawURL)
	}
	return id, nil
}

// ParsePlaylistID returns the playlist id of a URL carrying a list parameter.
// Raw playlist ids are accepted as is.
func ParsePlaylistID(input string) (string, error) {
	input = strings.TrimSpace(input)
	if isRawPlaylistID(input) {
		return input, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", err
	}
	if id := u.Query().Get("list"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("playlist id not found in %q", input)
}

func isRawPlaylistID(s string) bool {
	if strings.ContainsAny(s, "/?=&:") || len(s) <= 11 {
		return false
	}
	for _, p := range playlistPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// IsPlaylistURL reports whether input names a playlist rather than a video:
// a raw playlist id, a /playlist URL, or a list parameter on a URL that names
// no video. A watch URL inside a playlist is a single video.
func IsPlaylistURL(input string) bool {
	input = strings.TrimSpace(input)
	if isRawPlaylistID(input) {
		return true
	}
	u, err := url.Parse(input)
	if err != nil {
		return false
	}
	if u.Query().Get("list") == "" {
		return false
	}
	if strings.HasPrefix(u.Path, "/playlist") {
		return true
	}
	_, err = ExtractVideoID(input)
	return err != nil
}

// WatchURL returns the canonical watch page URL of a video.
func WatchURL(base, videoID string) string {
	return strings.TrimSuffix(base, "/") + "/watch?v=" + url.QueryEscape(videoID)
}
