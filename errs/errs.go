package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrVideoUnavailable indicates that the requested video cannot be accessed.
	ErrVideoUnavailable = errors.New("video unavailable")
	// ErrPrivate indicates that the video is private and cannot be downloaded.
	ErrPrivate = errors.New("video is private")
	// ErrAgeRestricted indicates that the video has an age restriction.
	ErrAgeRestricted = errors.New("age restricted")
	// ErrCipherFailed indicates failure during signature deciphering.
	ErrCipherFailed = errors.New("cipher failed")
	// ErrGeoBlocked indicates the video is not available in the current region.
	ErrGeoBlocked = errors.New("geo blocked")
	// ErrRateLimited indicates throttling or rate limiting by the remote service.
	ErrRateLimited = errors.New("rate limited")
)

// Pipeline failure kinds. Each is fatal for the video it occurred on; a
// catalog failure while resolving the root URL aborts the whole job.
var (
	// ErrCatalogUnavailable indicates the remote catalog lookup failed.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	// ErrNoStreamsAvailable indicates there is nothing usable to download.
	ErrNoStreamsAvailable = errors.New("no streams available")
	// ErrDownloadTransport indicates a network failure during a stream download.
	ErrDownloadTransport = errors.New("download transport failed")
	// ErrMuxerExecution indicates the external merge process failed.
	ErrMuxerExecution = errors.New("muxer execution failed")
	// ErrFilesystem indicates a directory, rename or delete failure.
	ErrFilesystem = errors.New("filesystem error")
)

// Error attaches the failing operation and video to a pipeline error kind.
type Error struct {
	Kind    error
	Op      string
	VideoID string
	Err     error
}

// New wraps err under kind. A nil err yields an Error carrying only the kind.
func New(kind error, op, videoID string, err error) *Error {
	return &Error{Kind: kind, Op: op, VideoID: videoID, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.VideoID != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.VideoID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the pipeline kind carried by err, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrCatalogUnavailable, ErrNoStreamsAvailable, ErrDownloadTransport, ErrMuxerExecution, ErrFilesystem} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
