package innertube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/ytget/ytfetch/errs"
	"github.com/ytget/ytfetch/internal/botguard"
	"github.com/ytget/ytfetch/types"
)

// mockYouTubeTransport intercepts YouTube requests and returns predefined responses
type mockYouTubeTransport struct {
	responseStatus int
	responseBody   string
}

func (t *mockYouTubeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp := &http.Response{
		StatusCode: t.responseStatus,
		Header:     make(http.Header),
		Body:       http.NoBody,
	}
	if t.responseBody != "" {
		resp.Body = io.NopCloser(strings.NewReader(t.responseBody))
	}
	return resp, nil
}

type stubSolver struct{ token string }

func (s stubSolver) Attest(ctx context.Context, in botguard.Input) (botguard.Output, error) {
	return botguard.Output{Token: s.token}, nil
}

type failingSolver struct{}

func (failingSolver) Attest(context.Context, botguard.Input) (botguard.Output, error) {
	return botguard.Output{}, errors.New("no token today")
}

const watchPage = `<html><script>ytcfg.set({"INNERTUBE_API_KEY":"test-key","INNERTUBE_CLIENT_VERSION":"2.20250101.00.00","INNERTUBE_CONTEXT":{"client":{"visitorData":"CgtWaXNpdG9y%3D%3D"}}});</script></html>`

func brotliBytes(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	if _, err := bw.Write(raw); err != nil {
		t.Fatal(err)
	}
	if err := bw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func renderer(id, title string, index int) map[string]any {
	return map[string]any{"playlistVideoRenderer": map[string]any{
		"videoId": id,
		"index":   map[string]any{"simpleText": strconv.Itoa(index)},
		"title":   map[string]any{"runs": []any{map[string]any{"text": title}}},
	}}
}


// newFakeYouTube serves the pages and endpoints the client talks to.
func newFakeYouTube(t *testing.T, player any, browse func(body map[string]any) any) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/watch", "/playlist":
			_, _ = w.Write([]byte(watchPage))
		case playerPath:
			if r.URL.Query().Get("key") != "test-key" {
				t.Errorf("player request without api key: %s", r.URL)
			}
			if r.Header.Get(headerVisitorID) != "CgtWaXNpdG9y==" {
				t.Errorf("visitor id header = %q", r.Header.Get(headerVisitorID))
			}
			w.Header().Set("Content-Encoding", "br")
			_, _ = w.Write(brotliBytes(t, player))
		case browsePath:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(browse(body))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	c := New(srv.Client())
	c.BaseURL = srv.URL
	return srv, c
}

func TestNew(t *testing.T) {
	for _, hc := range []*http.Client{nil, {Timeout: 10 * time.Second}} {
		client := New(hc)
		if client.HTTPClient == nil {
			t.Fatal("Expected non-nil HTTPClient")
		}
		if client.clientName != clientNameWEB {
			t.Errorf("Expected clientName %s, got %s", clientNameWEB, client.clientName)
		}
		if client.BaseURL != ytBase {
			t.Errorf("Expected BaseURL %s, got %s", ytBase, client.BaseURL)
		}
	}
}

func TestGetPlayerResponse(t *testing.T) {
	player := map[string]any{
		"playabilityStatus": map[string]any{"status": "OK"},
		"videoDetails":      map[string]any{"videoId": "abc123", "title": "Test Video", "author": "Someone", "lengthSeconds": "61"},
		"streamingData": map[string]any{
			"formats": []any{map[string]any{"itag": 18, "mimeType": `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, "qualityLabel": "360p", "url": "https://r1.googlevideo.com/18"}},
			"adaptiveFormats": []any{
				map[string]any{"itag": 137, "mimeType": `video/mp4; codecs="avc1.640028"`, "qualityLabel": "1080p", "contentLength": "1000"},
				map[string]any{"itag": 140, "mimeType": `audio/mp4; codecs="mp4a.40.2"`, "bitrate": 130000},
			},
		},
	}
	_, c := newFakeYouTube(t, player, nil)

	pr, err := c.GetPlayerResponse(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("GetPlayerResponse: %v", err)
	}
	if err := pr.PlayabilityError(); err != nil {
		t.Fatalf("PlayabilityError: %v", err)
	}
	if got := pr.Info(); got.Title != "Test Video" || got.Duration != 61 || got.Author != "Someone" {
		t.Errorf("unexpected info %+v", got)
	}
	if len(pr.StreamingData.Formats) != 1 || len(pr.StreamingData.AdaptiveFormats) != 2 {
		t.Fatalf("unexpected formats %+v", pr.StreamingData)
	}
	if f := pr.StreamingData.AdaptiveFormats[0]; f.Itag != 137 || f.QualityLabel != "1080p" || f.ContentLength != "1000" {
		t.Errorf("unexpected adaptive format %+v", f)
	}
}

func TestGetPlayerResponse_HTTPErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, errs.ErrRateLimited},
		{http.StatusInternalServerError, nil},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == playerPath {
				w.WriteHeader(tt.status)
				return
			}
			_, _ = w.Write([]byte(watchPage))
		}))
		c := New(srv.Client())
		c.BaseURL = srv.URL
		_, err := c.GetPlayerResponse(context.Background(), "vid")
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("status %d: err = %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestPlayabilityError(t *testing.T) {
	tests := []struct {
		status string
		reason string
		want   error
	}{
		{"OK", "", nil},
		{"LOGIN_REQUIRED", "This video is private", errs.ErrPrivate},
		{"LOGIN_REQUIRED", "Sign in to confirm your age", errs.ErrAgeRestricted},
		{"UNPLAYABLE", "The uploader has not made this video available in your country", errs.ErrGeoBlocked},
		{"ERROR", "Video unavailable", errs.ErrVideoUnavailable},
	}
	for _, tt := range tests {
		var pr PlayerResponse
		pr.PlayabilityStatus.Status = tt.status
		pr.PlayabilityStatus.Reason = tt.reason
		err := pr.PlayabilityError()
		if tt.want == nil {
			if err != nil {
				t.Errorf("%s/%q: unexpected %v", tt.status, tt.reason, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("%s/%q: err = %v, want %v", tt.status, tt.reason, err, tt.want)
		}
	}
}

func TestGetPlaylist(t *testing.T) {
	var calls atomic.Int32
	browse := func(body map[string]any) any {
		calls.Add(1)
		if tok, _ := body["continuation"].(string); tok == "page2" {
			return map[string]any{
				"onResponseReceivedActions": []any{map[string]any{
					"appendContinuationItemsAction": map[string]any{
						"continuationItems": []any{renderer("vid3", "Third", 3)},
					},
				}},
			}
		}
		if body["browseId"] != "VLPLtest" {
			t.Errorf("browseId = %v", body["browseId"])
		}
		return map[string]any{
			"metadata": map[string]any{"playlistMetadataRenderer": map[string]any{"title": "My Playlist"}},
			"contents": []any{
				renderer("vid1", "First", 1),
				renderer("vid2", "Second", 2),
				map[string]any{"continuationItemRenderer": map[string]any{
					"continuationEndpoint": map[string]any{"continuationCommand": map[string]any{"token": "page2"}},
				}},
			},
		}
	}
	_, c := newFakeYouTube(t, nil, browse)

	pl, err := c.GetPlaylist(context.Background(), "PLtest", 0)
	if err != nil {
		t.Fatalf("GetPlaylist: %v", err)
	}
	if pl.Title != "My Playlist" {
		t.Errorf("title = %q", pl.Title)
	}
	want := []types.PlaylistItem{{VideoID: "vid1", Title: "First", Index: 1}, {VideoID: "vid2", Title: "Second", Index: 2}, {VideoID: "vid3", Title: "Third", Index: 3}}
	if len(pl.Items) != len(want) {
		t.Fatalf("items = %+v", pl.Items)
	}
	for i := range want {
		if pl.Items[i] != want[i] {
			t.Errorf("item %d = %+v, want %+v", i, pl.Items[i], want[i])
		}
	}
	if calls.Load() != 2 {
		t.Errorf("browse calls = %d, want 2", calls.Load())
	}

	calls.Store(0)
	pl, err = c.GetPlaylist(context.Background(), "PLtest", 2)
	if err != nil {
		t.Fatalf("GetPlaylist(limit=2): %v", err)
	}
	if len(pl.Items) != 2 || calls.Load() != 1 {
		t.Errorf("limit=2: items=%d calls=%d", len(pl.Items), calls.Load())
	}
}

func TestGetPlaylist_EmptyID(t *testing.T) {
	if _, err := New(nil).GetPlaylist(context.Background(), "", 0); err == nil {
		t.Fatal("expected error for empty playlist id")
	}
}

func TestFindPlaylistTitle(t *testing.T) {
	tests := []struct {
		name string
		root any
		want string
	}{
		{"metadata", map[string]any{"metadata": map[string]any{"playlistMetadataRenderer": map[string]any{"title": "A"}}}, "A"},
		{"header simpleText", map[string]any{"header": map[string]any{"playlistHeaderRenderer": map[string]any{"title": map[string]any{"simpleText": "B"}}}}, "B"},
		{"header runs", map[string]any{"header": map[string]any{"playlistHeaderRenderer": map[string]any{"title": map[string]any{"runs": []any{map[string]any{"text": "C"}}}}}}, "C"},
		{"page header", map[string]any{"header": map[string]any{"pageHeaderRenderer": map[string]any{"pageTitle": "D"}}}, "D"},
		{"none", map[string]any{}, ""},
		{"not a map", []any{}, ""},
	}
	for _, tt := range tests {
		if got := findPlaylistTitle(tt.root); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestCollectPlaylistVideoRenderers(t *testing.T) {
	data := map[string]any{"contents": []any{
		renderer("a", "A", 1),
		map[string]any{"playlistVideoRenderer": map[string]any{"title": map[string]any{"simpleText": "no id"}}},
		map[string]any{"nested": []any{renderer("b", "B", 2), renderer("c", "C", 3)}},
	}}

	var items []types.PlaylistItem
	collectPlaylistVideoRenderers(data, &items, 10)
	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(items))
	}

	items = nil
	collectPlaylistVideoRenderers(data, &items, 2)
	if len(items) != 2 {
		t.Errorf("Expected limit to cap at 2, got %d", len(items))
	}
}

func TestRefreshVisitorID(t *testing.T) {
	tests := []struct {
		name           string
		responseBody   string
		responseStatus int
		hasError       bool
	}{
		{
			name:           "Valid response with visitor ID",
			responseBody:   watchPage,
			responseStatus: 200,
		},
		{
			name:           "Response without visitor ID",
			responseBody:   `ytcfg.set({"INNERTUBE_CONTEXT":{"client":{}}})`,
			responseStatus: 200,
			hasError:       true,
		},
		{
			name:           "Invalid JSON response",
			responseBody:   `ytcfg.set(invalid json)`,
			responseStatus: 200,
			hasError:       true,
		},
		{
			name:           "Response without ytcfg.set",
			responseBody:   `{"INNERTUBE_CONTEXT":{"client":{"visitorData":"test"}}}`,
			responseStatus: 200,
			hasError:       true,
		},
		{
			name:           "HTTP error response",
			responseStatus: 500,
			hasError:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(&http.Client{Transport: &mockYouTubeTransport{
				responseStatus: tt.responseStatus,
				responseBody:   tt.responseBody,
			}})

			err := client.refreshVisitorID(context.Background())
			if tt.hasError {
				if err == nil {
					t.Errorf("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got, _ := client.getVisitorID(context.Background()); got != "CgtWaXNpdG9y==" {
				t.Errorf("visitor id = %q", got)
			}
		})
	}
}

func TestWithBotguardTTL(t *testing.T) {
	client := &Client{}
	ttl := 5 * time.Minute

	result := client.WithBotguardTTL(ttl)
	if result.bg.ttl != ttl {
		t.Errorf("Expected TTL %v, got %v", ttl, result.bg.ttl)
	}
}

func TestBotguardTTLApplied(t *testing.T) {
	c := New(&http.Client{Timeout: 2 * time.Second})
	c.clientVer = "2.0"
	cache := botguard.NewMemoryCache()
	// Solver returns token with zero ExpiresAt -> TTL must be applied
	solver := stubSolver{token: "tok"}
	c.WithBotguard(solver, botguard.Force, cache).WithBotguardTTL(1 * time.Minute)

	// Build dummy request without network
	req, _ := http.NewRequest(http.MethodPost, "http://example/", nil)
	req.Header.Set("User-Agent", userAgentValue)
	// No visitor id header

	if err := c.maybeApplyBotguard(req); err != nil {
		t.Fatalf("maybeApplyBotguard error: %v", err)
	}

	// Construct cache key and verify expiry set
	key := botguard.KeyFromInput(botguard.Input{
		UserAgent:     userAgentValue,
		PageURL:       ytBase + "/",
		ClientName:    clientNameWEB,
		ClientVersion: c.clientVer,
		VisitorID:     "",
	})
	out, ok := cache.Get(key)
	if !ok {
		t.Fatalf("expected cache hit after attestation")
	}
	if out.Token == "" {
		t.Fatalf("expected non-empty token")
	}
	if out.ExpiresAt.IsZero() {
		t.Fatalf("expected ExpiresAt to be set from TTL")
	}
	if time.Until(out.ExpiresAt) <= 0 {
		t.Fatalf("expected ExpiresAt in the future")
	}
}

func TestWithClient(t *testing.T) {
	tests := []struct {
		name          string
		clientName    string
		clientVersion string
		expectedName  string
		expectedVer   string
	}{
		{
			name:          "Valid client name and version",
			clientName:    "WEB",
			clientVersion: "2.0.0",
			expectedName:  "WEB",
			expectedVer:   "2.0.0",
		},
		{
			name:          "Empty client name",
			clientName:    "",
			clientVersion: "1.0.0",
			expectedName:  "WEB", // Default value from New()
			expectedVer:   "1.0.0",
		},
		{
			name:          "Empty client version",
			clientName:    "ANDROID",
			clientVersion: "",
			expectedName:  "ANDROID",
			expectedVer:   "", // No default version set
		},
		{
			name:          "Whitespace client name",
			clientName:    "   ",
			clientVersion: "3.0.0",
			expectedName:  "WEB", // Default value from New()
			expectedVer:   "3.0.0",
		},
		{
			name:          "Whitespace client version",
			clientName:    "IOS",
			clientVersion: "   ",
			expectedName:  "IOS",
			expectedVer:   "", // No default version set
		},
		{
			name:          "Both empty",
			clientName:    "",
			clientVersion: "",
			expectedName:  "WEB", // Default value from New()
			expectedVer:   "",    // No default version set
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(nil)
			result := client.WithClient(tt.clientName, tt.clientVersion)

			if result.clientName != tt.expectedName {
				t.Errorf("Expected clientName '%s', got '%s'", tt.expectedName, result.clientName)
			}
			if result.clientVer != tt.expectedVer {
				t.Errorf("Expected clientVer '%s', got '%s'", tt.expectedVer, result.clientVer)
			}
		})
	}
}

func TestClientCodeFromName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "WEB client",
			input:    "WEB",
			expected: "1",
		},
		{
			name:     "MWEB client",
			input:    "MWEB",
			expected: "2",
		},
		{
			name:     "ANDROID client",
			input:    "ANDROID",
			expected: "3",
		},
		{
			name:     "IOS client",
			input:    "IOS",
			expected: "5",
		},
		{
			name:     "TVHTML5 client",
			input:    "TVHTML5",
			expected: "7",
		},
		{
			name:     "WEB_EMBEDDED_PLAYER client",
			input:    "WEB_EMBEDDED_PLAYER",
			expected: "56",
		},
		{
			name:     "WEB_CREATOR client",
			input:    "WEB_CREATOR",
			expected: "62",
		},
		{
			name:     "WEB_REMIX client",
			input:    "WEB_REMIX",
			expected: "67",
		},
		{
			name:     "TVHTML5_SIMPLY client",
			input:    "TVHTML5_SIMPLY",
			expected: "75",
		},
		{
			name:     "TVHTML5_SIMPLY_EMBEDDED_PLAYER client",
			input:    "TVHTML5_SIMPLY_EMBEDDED_PLAYER",
			expected: "85",
		},
		{
			name:     "Unknown client",
			input:    "UNKNOWN",
			expected: "",
		},
		{
			name:     "Empty client name",
			input:    "",
			expected: "",
		},
		{
			name:     "Lowercase client name",
			input:    "web",
			expected: "1",
		},
		{
			name:     "Mixed case client name",
			input:    "Web",
			expected: "1",
		},
		{
			name:     "Mixed case client name with underscores",
			input:    "Web_Embedded_Player",
			expected: "56",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := clientCodeFromName(tt.input)
			if result != tt.expected {
				t.Errorf("Expected client code '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestFindFirstContinuationToken(t *testing.T) {
	tests := []struct {
		name     string
		node     any
		expected string
	}{
		{
			name:     "Nil node",
			node:     nil,
			expected: "",
		},
		{
			name:     "Empty map",
			node:     map[string]any{},
			expected: "",
		},
		{
			name:     "Map with continuationCommand token",
			node:     map[string]any{"continuationCommand": map[string]any{"token": "test_token"}},
			expected: "test_token",
		},
		{
			name:     "Map with nextContinuationData continuation",
			node:     map[string]any{"nextContinuationData": map[string]any{"continuation": "test_continuation"}},
			expected: "test_continuation",
		},
		{
			name:     "Map with direct continuation",
			node:     map[string]any{"continuation": "direct_token"},
			expected: "direct_token",
		},
		{
			name:     "Map with empty continuationCommand token",
			node:     map[string]any{"continuationCommand": map[string]any{"token": ""}},
			expected: "",
		},
		{
			name:     "Map with empty nextContinuationData continuation",
			node:     map[string]any{"nextContinuationData": map[string]any{"continuation": ""}},
			expected: "",
		},
		{
			name:     "Map with empty direct continuation",
			node:     map[string]any{"continuation": ""},
			expected: "",
		},
		{
			name:     "Map with nested continuationCommand",
			node:     map[string]any{"data": map[string]any{"continuationCommand": map[string]any{"token": "nested_token"}}},
			expected: "nested_token",
		},
		{
			name:     "Map with nested nextContinuationData",
			node:     map[string]any{"data": map[string]any{"nextContinuationData": map[string]any{"continuation": "nested_continuation"}}},
			expected: "nested_continuation",
		},
		{
			name:     "Map with nested direct continuation",
			node:     map[string]any{"data": map[string]any{"continuation": "nested_direct"}},
			expected: "nested_direct",
		},
		{
			name:     "Array with continuationCommand",
			node:     []any{map[string]any{"continuationCommand": map[string]any{"token": "array_token"}}},
			expected: "array_token",
		},
		{
			name:     "Array with nextContinuationData",
			node:     []any{map[string]any{"nextContinuationData": map[string]any{"continuation": "array_continuation"}}},
			expected: "array_continuation",
		},
		{
			name:     "Array with direct continuation",
			node:     []any{map[string]any{"continuation": "array_direct"}},
			expected: "array_direct",
		},
		{
			name:     "Array with empty continuationCommand",
			node:     []any{map[string]any{"continuationCommand": map[string]any{"token": ""}}},
			expected: "",
		},
		{
			name:     "Array with empty nextContinuationData",
			node:     []any{map[string]any{"nextContinuationData": map[string]any{"continuation": ""}}},
			expected: "",
		},
		{
			name:     "Array with empty direct continuation",
			node:     []any{map[string]any{"continuation": ""}},
			expected: "",
		},
		{
			name:     "Array with multiple elements",
			node:     []any{map[string]any{"continuation": ""}, map[string]any{"continuation": "second_token"}},
			expected: "second_token",
		},
		{
			name:     "Map with multiple continuation sources",
			node:     map[string]any{"continuationCommand": map[string]any{"token": "first_token"}, "nextContinuationData": map[string]any{"continuation": "second_token"}},
			expected: "first_token", // Should return first found
		},
		{
			name:     "Map with non-string continuationCommand token",
			node:     map[string]any{"continuationCommand": map[string]any{"token": 123}},
			expected: "",
		},
		{
			name:     "Map with non-string nextContinuationData continuation",
			node:     map[string]any{"nextContinuationData": map[string]any{"continuation": 123}},
			expected: "",
		},
		{
			name:     "Map with non-string direct continuation",
			node:     map[string]any{"continuation": 123},
			expected: "",
		},
		{
			name:     "Map with non-map continuationCommand",
			node:     map[string]any{"continuationCommand": "not_a_map"},
			expected: "",
		},
		{
			name:     "Map with non-map nextContinuationData",
			node:     map[string]any{"nextContinuationData": "not_a_map"},
			expected: "",
		},
		{
			name:     "Array with non-map elements",
			node:     []any{"not_a_map", 123},
			expected: "",
		},
		{
			name:     "Map with non-array non-map values",
			node:     map[string]any{"key": "value", "number": 123},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := findFirstContinuationToken(tt.node)
			if result != tt.expected {
				t.Errorf("Expected continuation token '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestDoWithBotguardRetry(t *testing.T) {
	tests := []struct {
		name           string
		mode           botguard.Mode
		solver         botguard.Solver
		responseStatus int
		expectCalls    int
		expectErr      bool
	}{
		{name: "Botguard disabled", mode: botguard.Off, responseStatus: 200, expectCalls: 1},
		{name: "Botguard disabled with solver", mode: botguard.Off, solver: stubSolver{token: "test_token"}, responseStatus: 403, expectCalls: 1},
		{name: "Auto mode with 200 response", mode: botguard.Auto, solver: stubSolver{token: "test_token"}, responseStatus: 200, expectCalls: 1},
		{name: "Auto mode with 403 response", mode: botguard.Auto, solver: stubSolver{token: "test_token"}, responseStatus: 403, expectCalls: 2},
		{name: "Force mode with 200 response", mode: botguard.Force, solver: stubSolver{token: "test_token"}, responseStatus: 200, expectCalls: 1},
		{name: "Force mode with 403 response", mode: botguard.Force, solver: stubSolver{token: "test_token"}, responseStatus: 403, expectCalls: 2},
		{name: "Auto mode with nil solver", mode: botguard.Auto, responseStatus: 403, expectCalls: 1},
		{name: "Auto mode with failing solver", mode: botguard.Auto, solver: failingSolver{}, responseStatus: 403, expectCalls: 1, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var callCount atomic.Int32
			var lastToken atomic.Value
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				callCount.Add(1)
				body, _ := io.ReadAll(r.Body)
				if string(body) != `{"q":1}` {
					t.Errorf("request body lost on retry: %q", body)
				}
				lastToken.Store(r.Header.Get(headerBotguard))
				w.WriteHeader(tt.responseStatus)
			}))
			defer srv.Close()

			innertubeClient := New(srv.Client())
			innertubeClient.WithBotguard(tt.solver, tt.mode, botguard.NewMemoryCache())

			newRequest := func() (*http.Request, error) {
				req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"q":1}`))
				if err != nil {
					return nil, err
				}
				req.Header.Set("User-Agent", "test-agent")
				req.Header.Set(headerVisitorID, "test-visitor-id")
				return req, nil
			}

			resp, err := innertubeClient.doWithBotguardRetry(newRequest)
			if tt.expectErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
			} else {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				_ = resp.Body.Close()
			}
			if got := int(callCount.Load()); got != tt.expectCalls {
				t.Errorf("Expected %d calls, got %d", tt.expectCalls, got)
			}
			if tt.expectCalls == 2 && lastToken.Load() != "test_token" {
				t.Errorf("retry carried token %v", lastToken.Load())
			}
		})
	}
}
