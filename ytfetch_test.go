package ytfetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ytget/ytfetch/catalog"
	"github.com/ytget/ytfetch/catalog/catalogtest"
	"github.com/ytget/ytfetch/errs"
	"github.com/ytget/ytfetch/muxer/muxertest"
	"github.com/ytget/ytfetch/types"
)

const (
	videoURL    = "https://www.youtube.com/watch?v=aaaaaaaaaaa"
	playlistURL = "https://www.youtube.com/playlist?list=PLtest"
)

func streams(id, title string) []types.StreamDescriptor {
	return []types.StreamDescriptor{
		{ID: "22", VideoID: id, Kind: types.Progressive, Resolution: types.Res720p, MimeType: "video/mp4", Filename: title + ".mp4"},
		{ID: "137", VideoID: id, Kind: types.VideoOnly, Resolution: types.Res720p, MimeType: "video/mp4", Filename: title + ".mp4"},
		{ID: "140", VideoID: id, Kind: types.AudioOnly, MimeType: "audio/mp4", Filename: title + ".m4a"},
	}
}

func newTestFetcher(t *testing.T) (*Fetcher, *catalogtest.Catalog, *muxertest.Muxer, string) {
	t.Helper()
	root := t.TempDir()
	list := &types.Listing{ID: "PLtest", Title: "Best Of: 2024", IsPlaylist: true, Items: []types.PlaylistItem{
		{VideoID: "v1", Title: "First"},
		{VideoID: "v2", Title: "Second"},
	}}
	cat := &catalogtest.Catalog{
		Listings: map[string]*types.Listing{
			videoURL:    {ID: "aaaaaaaaaaa", Title: "My Clip"},
			playlistURL: list,
		},
		Streams: map[string][]types.StreamDescriptor{
			"aaaaaaaaaaa": streams("aaaaaaaaaaa", "My Clip"),
			"v1":          streams("v1", "First"),
			"v2":          streams("v2", "Second"),
		},
	}
	mux := &muxertest.Muxer{}
	out := filepath.Join(root, "out")
	f := New().
		WithCatalog(cat).
		WithMuxer(mux).
		WithOutputDir(out).
		WithScratchDir(filepath.Join(root, "scratch"))
	return f, cat, mux, out
}

func TestNew_Defaults(t *testing.T) {
	f := New()
	if f.muxer == nil {
		t.Fatal("default muxer must be set")
	}
	if f.catalog != nil {
		t.Error("default catalog must not be built before first use")
	}
	if _, ok := f.streamCatalog().(*catalog.YouTube); !ok {
		t.Errorf("fallback catalog = %T, want *catalog.YouTube", f.catalog)
	}
	if f.outputDir != "." {
		t.Errorf("outputDir = %q", f.outputDir)
	}
}

func TestWithCatalog_SkipsDefault(t *testing.T) {
	cat := &catalogtest.Catalog{}
	f := New().WithCatalog(cat)
	if got := f.streamCatalog(); got != cat {
		t.Errorf("catalog = %T, want the injected one", got)
	}
}

func TestDownloadVideo(t *testing.T) {
	f, _, mux, out := newTestFetcher(t)
	var states []types.State
	f.WithStateFunc(func(o types.Outcome) { states = append(states, o.State) })

	o, err := f.DownloadVideo(context.Background(), videoURL, types.Res720p)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(out, "My-Clip", "My-Clip.My Clip.mp4")
	if o.State != types.StateComplete || o.Path != want || o.Plan != types.PlanSplitAV {
		t.Fatalf("outcome = %+v, want Complete split-av at %s", o, want)
	}
	b, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "aaaaaaaaaaa/22+aaaaaaaaaaa/140" {
		t.Errorf("content = %q", b)
	}
	if len(mux.Merges()) != 1 {
		t.Errorf("merges = %d", len(mux.Merges()))
	}
	if len(states) == 0 || states[len(states)-1] != types.StateComplete {
		t.Errorf("states = %v", states)
	}

	again, err := f.DownloadVideo(context.Background(), videoURL, types.Res720p)
	if err != nil {
		t.Fatal(err)
	}
	if again.State != types.StateSkipped {
		t.Errorf("second run = %v, want Skipped", again.State)
	}
}

func TestDownloadVideo_PreferProgressive(t *testing.T) {
	f, cat, mux, _ := newTestFetcher(t)
	f.WithPreferProgressive()

	o, err := f.DownloadVideo(context.Background(), videoURL, types.Res720p)
	if err != nil {
		t.Fatal(err)
	}
	if o.Plan != types.PlanProgressive || o.State != types.StateComplete {
		t.Fatalf("outcome = %+v", o)
	}
	if len(mux.Merges()) != 0 {
		t.Error("progressive plan must not merge")
	}
	if calls := cat.Calls(); len(calls) != 1 || calls[0].StreamID != "22" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestDownloadVideo_Fallback(t *testing.T) {
	f, _, mux, _ := newTestFetcher(t)

	o, err := f.DownloadVideo(context.Background(), videoURL, types.Res1080p)
	if err != nil {
		t.Fatal(err)
	}
	if o.Plan != types.PlanHighestAvailable || o.State != types.StateComplete {
		t.Fatalf("outcome = %+v", o)
	}
	if len(mux.Merges()) != 0 {
		t.Error("fallback must not merge")
	}
}

func TestDownloadVideo_ListFailure(t *testing.T) {
	f, cat, _, _ := newTestFetcher(t)
	cat.ListErr = map[string]error{"aaaaaaaaaaa": errs.ErrAgeRestricted}

	o, err := f.DownloadVideo(context.Background(), videoURL, types.Res720p)
	if err != nil {
		t.Fatalf("per-video failure returned as error: %v", err)
	}
	if o.State != types.StateFailed || !errors.Is(o.Err, errs.ErrAgeRestricted) {
		t.Errorf("outcome = %+v", o)
	}
}

func TestResolveFailure(t *testing.T) {
	f, _, _, _ := newTestFetcher(t)
	_, err := f.DownloadVideo(context.Background(), "https://www.youtube.com/watch?v=missing0000", types.Res720p)
	if !errors.Is(err, errs.ErrCatalogUnavailable) || !errors.Is(err, catalogtest.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := f.DownloadPlaylist(context.Background(), "https://example.com", types.Res720p); !errors.Is(err, errs.ErrCatalogUnavailable) {
		t.Fatalf("playlist err = %v", err)
	}
}

func TestKindMismatch(t *testing.T) {
	f, _, _, _ := newTestFetcher(t)
	if _, err := f.DownloadVideo(context.Background(), playlistURL, types.Res720p); err == nil {
		t.Error("DownloadVideo accepted a playlist")
	}
	if _, err := f.DownloadPlaylist(context.Background(), videoURL, types.Res720p); err == nil {
		t.Error("DownloadPlaylist accepted a video")
	}
}

func TestDownloadPlaylist(t *testing.T) {
	f, _, _, out := newTestFetcher(t)

	seq, err := f.DownloadPlaylist(context.Background(), playlistURL, types.Res720p)
	if err != nil {
		t.Fatal(err)
	}
	var got []types.Outcome
	for o := range seq {
		got = append(got, o)
	}
	if len(got) != 2 {
		t.Fatalf("got %d outcomes", len(got))
	}
	for i, name := range []string{"1. First.mp4", "2. Second.mp4"} {
		want := filepath.Join(out, "Best-Of-2024", name)
		if got[i].Path != want || got[i].State != types.StateComplete {
			t.Errorf("outcome %d = %+v, want %s", i, got[i], want)
		}
	}
}

func TestDownloadPlaylist_Limit(t *testing.T) {
	f, _, _, _ := newTestFetcher(t)
	f.WithLimit(1).WithConcurrency(2)

	seq, err := f.DownloadPlaylist(context.Background(), playlistURL, types.Res720p)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for range seq {
		n++
	}
	if n != 1 {
		t.Errorf("got %d outcomes, want 1", n)
	}
}

func TestDownload_Dispatch(t *testing.T) {
	tests := []struct {
		url      string
		playlist bool
		outcomes int
	}{
		{videoURL, false, 1},
		{playlistURL, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			f, _, _, _ := newTestFetcher(t)
			listing, seq, err := f.Download(context.Background(), tt.url, types.Res720p)
			if err != nil {
				t.Fatal(err)
			}
			if listing.IsPlaylist != tt.playlist {
				t.Errorf("IsPlaylist = %v", listing.IsPlaylist)
			}
			n := 0
			for o := range seq {
				if o.State != types.StateComplete {
					t.Errorf("outcome = %+v", o)
				}
				n++
			}
			if n != tt.outcomes {
				t.Errorf("got %d outcomes, want %d", n, tt.outcomes)
			}
		})
	}
}
