package formats

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ytget/ytfetch/internal/logger"
	"github.com/ytget/ytfetch/internal/mimeext"
	"github.com/ytget/ytfetch/internal/sanitize"
	"github.com/ytget/ytfetch/types"
	"github.com/ytget/ytfetch/youtube/cipher"
	"github.com/ytget/ytfetch/youtube/innertube"
)

const (
	defaultSignatureParam = "signature"
	paramSignature        = "s"
	paramSignatureName    = "sp"
	paramURL              = "url"
	paramN                = "n"
)

var log = logger.WithComponent(logger.ComponentFormat)

// ParseStreams turns the player response into stream descriptors, keeping the
// response order: progressive formats first, then adaptive ones. Formats
// without a URL or signature cipher are dropped.
func ParseStreams(pr *innertube.PlayerResponse) []types.StreamDescriptor {
	videoID := pr.VideoDetails.VideoID
	title := pr.VideoDetails.Title
	if title == "" {
		title = videoID
	}

	streams := make([]types.StreamDescriptor, 0, len(pr.StreamingData.Formats)+len(pr.StreamingData.AdaptiveFormats))
	add := func(f innertube.Format, progressive bool) {
		if !hasDirectURL(f) && signatureCipher(f) == "" {
			log.Debug("Skipping format without URL", logger.Fields{"video_id": videoID, "itag": f.Itag})
			return
		}
		kind, ok := streamKind(f, progressive)
		if !ok {
			return
		}
		s := types.StreamDescriptor{
			ID:              strconv.Itoa(f.Itag),
			VideoID:         videoID,
			Itag:            f.Itag,
			Kind:            kind,
			MimeType:        f.MimeType,
			Bitrate:         f.Bitrate,
			Filename:        sanitize.ToSafeFilename(title, mimeext.ExtFromMime(f.MimeType)),
			URL:             strings.TrimSpace(f.URL),
			SignatureCipher: signatureCipher(f),
		}
		if kind != types.AudioOnly {
			s.Resolution = resolutionOf(f)
		}
		if n, err := strconv.ParseInt(f.ContentLength, 10, 64); err == nil {
			s.Size = n
		}
		streams = append(streams, s)
	}
	for _, f := range pr.StreamingData.Formats {
		add(f, true)
	}
	for _, f := range pr.StreamingData.AdaptiveFormats {
		add(f, false)
	}
	log.Debug("Parsed streams", logger.Fields{"video_id": videoID, "streams": len(streams)})
	return streams
}

// NeedsPlayer reports whether resolving s requires player.js: either its
// signature is ciphered or its URL carries a throttling n-parameter.
func NeedsPlayer(s types.StreamDescriptor) bool {
	if s.URL == "" {
		return s.SignatureCipher != ""
	}
	u, err := url.Parse(s.URL)
	return err == nil && u.Query().Get(paramN) != ""
}

// ResolveURL builds the final downloadable URL for a stream. Direct URLs only
// get their n-parameter decoded; ciphered streams have their signature
// deciphered first. playerJSURL may be empty when NeedsPlayer is false.
func ResolveURL(ctx context.Context, g cipher.Getter, s types.StreamDescriptor, playerJSURL string) (string, error) {
	if s.URL != "" {
		u, err := url.Parse(s.URL)
		if err != nil {
			return "", fmt.Errorf("parse direct url failed: %w", err)
		}
		return finalizeURL(ctx, g, u, playerJSURL), nil
	}
	if strings.TrimSpace(s.SignatureCipher) == "" {
		return "", fmt.Errorf("no url or signatureCipher for stream %s", s.ID)
	}
	parsed, err := url.ParseQuery(s.SignatureCipher)
	if err != nil {
		return "", fmt.Errorf("parse signatureCipher failed: %w", err)
	}
	sig := parsed.Get(paramSignature)
	sp := parsed.Get(paramSignatureName)
	if sp == "" {
		sp = defaultSignatureParam
	}
	cipherURL := parsed.Get(paramURL)
	if cipherURL == "" || sig == "" {
		return "", fmt.Errorf("signatureCipher missing signature or url")
	}
	decodedSig, err := cipher.Decipher(ctx, g, playerJSURL, sig)
	if err != nil {
		return "", fmt.Errorf("decipher signature failed: %w", err)
	}
	u, err := url.Parse(cipherURL)
	if err != nil {
		return "", fmt.Errorf("parse cipher url failed: %w", err)
	}
	q := u.Query()
	q.Set(sp, decodedSig)
	u.RawQuery = q.Encode()
	return finalizeURL(ctx, g, u, playerJSURL), nil
}

// finalizeURL decodes n when possible and sets ratebypass/alr for ranged
// requests against non-alt hosts. A failed n decode keeps the original value;
// the download is then throttled but still works.
func finalizeURL(ctx context.Context, g cipher.Getter, u *url.URL, playerJSURL string) string {
	q := u.Query()
	if nval := q.Get(paramN); nval != "" && playerJSURL != "" {
		nout, err := cipher.DecipherN(ctx, g, playerJSURL, nval)
		switch {
		case err != nil:
			log.Warn("n-parameter decode failed", logger.Fields{"error": err.Error()})
		case nout != "":
			q.Set(paramN, nout)
		}
	}
	if q.Get("ratebypass") == "" {
		q.Set("ratebypass", "yes")
	}
	if q.Get("alr") == "" {
		q.Set("alr", "yes")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
