// Package catalogtest provides an in-memory catalog.Catalog for tests.
package catalogtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ytget/ytfetch/types"
)

// ErrNotFound is returned for unknown URLs and video ids.
var ErrNotFound = errors.New("catalogtest: not found")

// Call records one Download.
type Call struct {
	VideoID  string
	StreamID string
	Dest     string
}

// Catalog serves listings and streams from maps and writes Content(stream)
// on Download. Set fields before use; methods are safe for concurrent use.
type Catalog struct {
	Listings map[string]*types.Listing
	Streams  map[string][]types.StreamDescriptor
	// ListErr fails ListStreams for a video id.
	ListErr map[string]error
	// DownloadErr fails Download for a stream ID.
	DownloadErr map[string]error
	// DownloadFunc, when set, replaces the default Download behavior.
	DownloadFunc func(ctx context.Context, s types.StreamDescriptor, dest string) error

	mu       sync.Mutex
	resolves int
	lists    int
	calls    []Call
}

// Content is what Download writes for s.
func Content(s types.StreamDescriptor) string {
	return fmt.Sprintf("%s/%s", s.VideoID, s.ID)
}

func (c *Catalog) Resolve(ctx context.Context, rawURL string) (*types.Listing, error) {
	c.mu.Lock()
	c.resolves++
	c.mu.Unlock()
	l, ok := c.Listings[rawURL]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}
	return l, nil
}

func (c *Catalog) ListStreams(ctx context.Context, videoID string) ([]types.StreamDescriptor, error) {
	c.mu.Lock()
	c.lists++
	c.mu.Unlock()
	if err := c.ListErr[videoID]; err != nil {
		return nil, err
	}
	s, ok := c.Streams[videoID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, videoID)
	}
	return s, nil
}

func (c *Catalog) Download(ctx context.Context, s types.StreamDescriptor, dest string) error {
	c.mu.Lock()
	c.calls = append(c.calls, Call{VideoID: s.VideoID, StreamID: s.ID, Dest: dest})
	c.mu.Unlock()
	if c.DownloadFunc != nil {
		return c.DownloadFunc(ctx, s, dest)
	}
	if err := c.DownloadErr[s.ID]; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(Content(s)), 0o644)
}

// Calls returns the downloads made so far.
func (c *Catalog) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Counts returns how many Resolve and ListStreams calls were made.
func (c *Catalog) Counts() (resolves, lists int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolves, c.lists
}
