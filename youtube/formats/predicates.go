// Package formats maps InnerTube player formats onto stream descriptors and
// resolves their download URLs.
package formats

import (
	"strconv"
	"strings"

	"github.com/ytget/ytfetch/internal/mimeext"
	"github.com/ytget/ytfetch/types"
	"github.com/ytget/ytfetch/youtube/innertube"
)

// hasDirectURL returns true when the format already contains a resolvable URL.
// Formats without direct URLs need signature deciphering.
func hasDirectURL(f innertube.Format) bool {
	return strings.TrimSpace(f.URL) != ""
}

// signatureCipher returns signatureCipher, or the older "cipher" field.
func signatureCipher(f innertube.Format) string {
	if sc := strings.TrimSpace(f.SignatureCipher); sc != "" {
		return sc
	}
	return strings.TrimSpace(f.Cipher)
}

// streamKind classifies a format. Entries of streamingData.formats are muxed;
// adaptive entries carry a single track named by their MIME type.
func streamKind(f innertube.Format, progressive bool) (types.StreamKind, bool) {
	if progressive {
		return types.Progressive, true
	}
	switch mimeext.Type(f.MimeType) {
	case "video":
		return types.VideoOnly, true
	case "audio":
		return types.AudioOnly, true
	}
	return 0, false
}

// resolutionOf reads the quality label ("1080p60"), falling back to the
// pixel height when the label is missing or unusual.
func resolutionOf(f innertube.Format) types.Resolution {
	if r, ok := types.ParseResolution(f.QualityLabel); ok {
		return r
	}
	if f.Height > 0 {
		if r, ok := types.ParseResolution(strconv.Itoa(f.Height) + "p"); ok {
			return r
		}
	}
	return types.ResUnknown
}
