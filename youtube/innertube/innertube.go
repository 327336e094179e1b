package innertube

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/ytget/ytfetch/errs"
	"github.com/ytget/ytfetch/internal/botguard"
	"github.com/ytget/ytfetch/internal/logger"
	"github.com/ytget/ytfetch/types"
)

const (
	ytBase                = "https://www.youtube.com"
	playerPath            = "/youtubei/v1/player"
	browsePath            = "/youtubei/v1/browse"
	userAgentValue        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36"
	headerContentTypeJSON = "application/json"
	headerBotguard        = "x-goog-ext-123-botguard"
	headerVisitorID       = "x-goog-visitor-id"
	clientNameWEB         = "WEB"
	defaultClientVersion  = "2.20250312.04.00"
	browseIDPrefix        = "VL"
	continuationLimitMax  = 1 << 20
	visitorIDMaxAge       = 10 * time.Hour
	maxErrorBodyBytes     = 512
)

var (
	apiKeyRe    = regexp.MustCompile(`"INNERTUBE_API_KEY":"([^"]+)"`)
	clientVerRe = regexp.MustCompile(`"INNERTUBE_CLIENT_VERSION":"([^"]+)"`)

	log = logger.WithComponent(logger.ComponentInnerTube)
)

// clientCodeFromName returns X-YouTube-Client-Name numeric code for known clients
func clientCodeFromName(name string) string {
	switch strings.ToUpper(name) {
	case "WEB":
		return "1"
	case "MWEB":
		return "2"
	case "ANDROID":
		return "3"
	case "IOS":
		return "5"
	case "TVHTML5":
		return "7"
	case "WEB_EMBEDDED_PLAYER":
		return "56"
	case "WEB_CREATOR":
		return "62"
	case "WEB_REMIX":
		return "67"
	case "TVHTML5_SIMPLY":
		return "75"
	case "TVHTML5_SIMPLY_EMBEDDED_PLAYER":
		return "85"
	default:
		return ""
	}
}

// Client for interacting with the YouTube InnerTube API. It is safe for
// concurrent use.
type Client struct {
	HTTPClient *http.Client
	// BaseURL defaults to https://www.youtube.com.
	BaseURL string

	mu         sync.Mutex
	apiKey     string
	clientVer  string
	clientName string
	visitorID  struct {
		value   string
		updated time.Time
	}

	bg struct {
		solver botguard.Solver
		mode   botguard.Mode
		cache  botguard.Cache
		ttl    time.Duration
	}
}

// New creates a new InnerTube client. A nil httpClient gets a 30s-timeout default.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{HTTPClient: httpClient, BaseURL: ytBase, clientName: clientNameWEB}
}

// WithClient overrides InnerTube client name/version to shape playback URLs.
func (c *Client) WithClient(name, version string) *Client {
	if strings.TrimSpace(name) != "" {
		c.clientName = name
	}
	if strings.TrimSpace(version) != "" {
		c.clientVer = version
	}
	return c
}

// WithBotguard configures an optional Botguard solver and mode.
func (c *Client) WithBotguard(solver botguard.Solver, mode botguard.Mode, cache botguard.Cache) *Client {
	c.bg.solver = solver
	c.bg.mode = mode
	c.bg.cache = cache
	return c
}

// WithBotguardTTL sets a default TTL to apply when solver does not specify ExpiresAt.
func (c *Client) WithBotguardTTL(ttl time.Duration) *Client {
	c.bg.ttl = ttl
	return c
}

// Format is one entry of streamingData.formats / adaptiveFormats.
type Format struct {
	Itag            int    `json:"itag"`
	URL             string `json:"url"`
	SignatureCipher string `json:"signatureCipher"`
	Cipher          string `json:"cipher"`
	MimeType        string `json:"mimeType"`
	Bitrate         int    `json:"bitrate"`
	ContentLength   string `json:"contentLength"`
	QualityLabel    string `json:"qualityLabel"`
	Height          int    `json:"height"`
	AudioQuality    string `json:"audioQuality"`
}

// PlayerResponse represents a response from the InnerTube /player endpoint.
type PlayerResponse struct {
	StreamingData struct {
		Formats         []Format `json:"formats"`
		AdaptiveFormats []Format `json:"adaptiveFormats"`
	} `json:"streamingData"`
	VideoDetails struct {
		VideoID       string `json:"videoId"`
		Title         string `json:"title"`
		Author        string `json:"author"`
		LengthSeconds string `json:"lengthSeconds"`
	} `json:"videoDetails"`
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
}

// PlayabilityError maps playabilityStatus onto the errs sentinels. It returns
// nil for playable videos.
func (p *PlayerResponse) PlayabilityError() error {
	status := strings.ToUpper(p.PlayabilityStatus.Status)
	reason := strings.ToLower(p.PlayabilityStatus.Reason)
	switch {
	case status == "OK" || status == "":
		return nil
	case strings.Contains(reason, "private"):
		return fmt.Errorf("%w: %s", errs.ErrPrivate, p.PlayabilityStatus.Reason)
	case strings.Contains(reason, "age") || status == "AGE_CHECK_REQUIRED":
		return fmt.Errorf("%w: %s", errs.ErrAgeRestricted, p.PlayabilityStatus.Reason)
	case strings.Contains(reason, "country") || strings.Contains(reason, "region"):
		return fmt.Errorf("%w: %s", errs.ErrGeoBlocked, p.PlayabilityStatus.Reason)
	default:
		return fmt.Errorf("%w: %s %s", errs.ErrVideoUnavailable, p.PlayabilityStatus.Status, p.PlayabilityStatus.Reason)
	}
}

// Info returns the video details as a types.VideoInfo.
func (p *PlayerResponse) Info() types.VideoInfo {
	d, _ := strconv.Atoi(p.VideoDetails.LengthSeconds)
	return types.VideoInfo{
		ID:       p.VideoDetails.VideoID,
		Title:    p.VideoDetails.Title,
		Author:   p.VideoDetails.Author,
		Duration: d,
	}
}

// Playlist is the result of GetPlaylist.
type Playlist struct {
	ID    string
	Title string
	Items []types.PlaylistItem
}

func (c *Client) setPageHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgentValue)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
}

func (c *Client) getPage(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	c.setPageHeaders(req)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: HTTP status %d", rawURL, resp.StatusCode)
	}
	return readBody(resp)
}

// ensureKey scrapes the API key and client version from a watch or playlist
// page. Requests are still attempted without a key when scraping fails.
func (c *Client) ensureKey(ctx context.Context, id string, isPlaylist bool) {
	c.mu.Lock()
	done := c.apiKey != "" && c.clientVer != ""
	c.mu.Unlock()
	if done {
		return
	}

	sources := []string{c.BaseURL + "/watch?v=" + id}
	if isPlaylist {
		sources[0] = c.BaseURL + "/playlist?list=" + id
	}
	sources = append(sources, c.BaseURL)

	var apiKey, clientVer string
	for _, source := range sources {
		if apiKey != "" && clientVer != "" {
			break
		}
		body, err := c.getPage(ctx, source)
		if err != nil {
			log.Debug("Key scrape failed", logger.Fields{"url": source, "error": err.Error()})
			continue
		}
		if m := apiKeyRe.FindSubmatch(body); apiKey == "" && len(m) == 2 {
			apiKey = string(m[1])
		}
		if m := clientVerRe.FindSubmatch(body); clientVer == "" && len(m) == 2 {
			clientVer = string(m[1])
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.apiKey == "" {
		c.apiKey = apiKey
	}
	if c.clientVer == "" {
		c.clientVer = clientVer
	}
	if c.clientVer == "" {
		c.clientVer = defaultClientVersion
	}
	if c.apiKey == "" {
		log.Warn("API key not found, continuing without it")
	}
}

// clientContext returns the "context.client" object and the UA to send with it.
func (c *Client) clientContext() (map[string]any, string) {
	c.mu.Lock()
	name, ver := c.clientName, c.clientVer
	c.mu.Unlock()
	if name != clientNameWEB && ver == defaultClientVersion {
		ver = "2.0"
	}
	client := map[string]any{
		"clientName":    name,
		"clientVersion": ver,
		"hl":            "en",
	}
	ua := userAgentValue
	if strings.EqualFold(name, "ANDROID") {
		ua = "com.google.android.youtube/" + ver + " (Linux; U; Android 11) gzip"
		client["androidSdkVersion"] = 30
		client["osName"] = "Android"
		client["osVersion"] = "11"
		client["userAgent"] = ua
	}
	return client, ua
}

// post sends a JSON body to an innertube endpoint and returns the decoded
// response body.
func (c *Client) post(ctx context.Context, path string, payload map[string]any) ([]byte, error) {
	clientCtx, ua := c.clientContext()
	payload["context"] = map[string]any{"client": clientCtx}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	endpoint := c.BaseURL + path
	if c.apiKey != "" {
		endpoint += "?key=" + c.apiKey
	}
	c.mu.Unlock()
	visitorID, verr := c.getVisitorID(ctx)
	if verr != nil {
		log.Debug("No visitor id", logger.Fields{"error": verr.Error()})
	}

	newRequest := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", headerContentTypeJSON)
		req.Header.Set("User-Agent", ua)
		req.Header.Set("Accept", "*/*")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
		req.Header.Set("Referer", ytBase+"/")
		req.Header.Set("Origin", ytBase)
		if code := clientCodeFromName(fmt.Sprint(clientCtx["clientName"])); code != "" {
			req.Header.Set("X-YouTube-Client-Name", code)
		}
		req.Header.Set("X-YouTube-Client-Version", fmt.Sprint(clientCtx["clientVersion"]))
		if visitorID != "" {
			req.Header.Set(headerVisitorID, visitorID)
		}
		return req, nil
	}

	resp, err := c.doWithBotguardRetry(newRequest)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	log.Trace("Response", logger.Fields{"path": path, "status": resp.StatusCode, "bytes": len(data)})
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%s: %w", path, errs.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		if len(data) > maxErrorBodyBytes {
			data = data[:maxErrorBodyBytes]
		}
		return nil, fmt.Errorf("%s: HTTP status %d: %s", path, resp.StatusCode, data)
	}
	return data, nil
}

// readBody reads resp.Body, undoing the Content-Encoding we asked for.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("deflate reader: %w", err)
		}
		defer zr.Close()
		reader = zr
	}
	return io.ReadAll(reader)
}

// GetPlayerResponse fetches video data for the provided video ID using the
// InnerTube /player endpoint.
func (c *Client) GetPlayerResponse(ctx context.Context, videoID string) (*PlayerResponse, error) {
	c.ensureKey(ctx, videoID, false)

	body, err := c.post(ctx, playerPath, map[string]any{"videoId": videoID})
	if err != nil {
		return nil, err
	}
	var playerResponse PlayerResponse
	if err := json.Unmarshal(body, &playerResponse); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if playerResponse.VideoDetails.VideoID == "" {
		playerResponse.VideoDetails.VideoID = videoID
	}
	log.Debug("Player response", logger.Fields{
		"video_id": videoID,
		"status":   playerResponse.PlayabilityStatus.Status,
		"formats":  len(playerResponse.StreamingData.Formats),
		"adaptive": len(playerResponse.StreamingData.AdaptiveFormats),
	})
	return &playerResponse, nil
}

// GetPlaylist loads the playlist title and up to limit items, following
// continuation tokens. limit <= 0 loads everything.
func (c *Client) GetPlaylist(ctx context.Context, playlistID string, limit int) (*Playlist, error) {
	if playlistID == "" {
		return nil, errors.New("innertube: empty playlist id")
	}
	if limit <= 0 {
		limit = continuationLimitMax
	}
	c.ensureKey(ctx, playlistID, true)

	body, err := c.post(ctx, browsePath, map[string]any{"browseId": browseIDPrefix + playlistID})
	if err != nil {
		return nil, err
	}
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("failed to parse browse response: %w", err)
	}

	pl := &Playlist{ID: playlistID, Title: findPlaylistTitle(root)}
	collectPlaylistVideoRenderers(root, &pl.Items, limit)
	token := findFirstContinuationToken(root)
	seen := map[string]bool{}
	for token != "" && len(pl.Items) < limit && !seen[token] {
		seen[token] = true
		more, next, err := c.getPlaylistContinuation(ctx, token, limit-len(pl.Items))
		if err != nil {
			log.Warn("Playlist continuation failed, keeping partial listing", logger.Fields{"playlist": playlistID, "items": len(pl.Items), "error": err.Error()})
			break
		}
		pl.Items = append(pl.Items, more...)
		token = next
	}
	if len(pl.Items) > limit {
		pl.Items = pl.Items[:limit]
	}
	for i := range pl.Items {
		if pl.Items[i].Index == 0 {
			pl.Items[i].Index = i + 1
		}
	}
	log.Debug("Playlist listed", logger.Fields{"playlist": playlistID, "title": pl.Title, "items": len(pl.Items)})
	return pl, nil
}

func (c *Client) getPlaylistContinuation(ctx context.Context, continuation string, limit int) ([]types.PlaylistItem, string, error) {
	if continuation == "" {
		return nil, "", errors.New("innertube: empty continuation token")
	}
	body, err := c.post(ctx, browsePath, map[string]any{"continuation": continuation})
	if err != nil {
		return nil, "", err
	}
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, "", err
	}
	items := make([]types.PlaylistItem, 0, 100)
	collectPlaylistVideoRenderers(root, &items, limit)
	return items, findFirstContinuationToken(root), nil
}

// findPlaylistTitle looks in the known metadata/header locations.
func findPlaylistTitle(root any) string {
	m, _ := root.(map[string]any)
	if md, ok := dig(m, "metadata", "playlistMetadataRenderer"); ok {
		if s, ok := md["title"].(string); ok && s != "" {
			return s
		}
	}
	if hdr, ok := dig(m, "header", "playlistHeaderRenderer", "title"); ok {
		return textOf(hdr)
	}
	if hdr, ok := dig(m, "header", "pageHeaderRenderer"); ok {
		if s, ok := hdr["pageTitle"].(string); ok {
			return s
		}
	}
	return ""
}

func dig(m map[string]any, keys ...string) (map[string]any, bool) {
	for _, k := range keys {
		next, ok := m[k].(map[string]any)
		if !ok {
			return nil, false
		}
		m = next
	}
	return m, true
}

// textOf reads {"simpleText": ...} or the first of {"runs": [{"text": ...}]}.
func textOf(m map[string]any) string {
	if s, ok := m["simpleText"].(string); ok {
		return s
	}
	if runs, ok := m["runs"].([]any); ok && len(runs) > 0 {
		if first, ok := runs[0].(map[string]any); ok {
			if txt, ok := first["text"].(string); ok {
				return txt
			}
		}
	}
	return ""
}

func collectPlaylistVideoRenderers(node any, out *[]types.PlaylistItem, limit int) {
	if len(*out) >= limit {
		return
	}
	switch v := node.(type) {
	case map[string]any:
		if r, ok := v["playlistVideoRenderer"].(map[string]any); ok {
			var it types.PlaylistItem
			if s, ok := r["videoId"].(string); ok {
				it.VideoID = s
			}
			if idx, ok := r["index"].(map[string]any); ok {
				if n, err := strconv.Atoi(textOf(idx)); err == nil {
					it.Index = n
				}
			}
			if title, ok := r["title"].(map[string]any); ok {
				it.Title = textOf(title)
			}
			if it.VideoID != "" {
				*out = append(*out, it)
			}
			return
		}
		for _, val := range v {
			collectPlaylistVideoRenderers(val, out, limit)
			if len(*out) >= limit {
				return
			}
		}
	case []any:
		for _, val := range v {
			collectPlaylistVideoRenderers(val, out, limit)
			if len(*out) >= limit {
				return
			}
		}
	}
}

func findFirstContinuationToken(node any) string {
	switch v := node.(type) {
	case map[string]any:
		// common places: continuationCommand.token, nextContinuationData.continuation
		if cc, ok := v["continuationCommand"].(map[string]any); ok {
			if tok, ok := cc["token"].(string); ok && tok != "" {
				return tok
			}
		}
		if nd, ok := v["nextContinuationData"].(map[string]any); ok {
			if tok, ok := nd["continuation"].(string); ok && tok != "" {
				return tok
			}
		}
		if tok, ok := v["continuation"].(string); ok && tok != "" {
			return tok
		}
		for _, val := range v {
			if t := findFirstContinuationToken(val); t != "" {
				return t
			}
		}
	case []any:
		for _, val := range v {
			if t := findFirstContinuationToken(val); t != "" {
				return t
			}
		}
	}
	return ""
}

// getVisitorID returns the current visitor ID, refreshing it if necessary
func (c *Client) getVisitorID(ctx context.Context) (string, error) {
	c.mu.Lock()
	value, updated := c.visitorID.value, c.visitorID.updated
	c.mu.Unlock()
	if value != "" && time.Since(updated) <= visitorIDMaxAge {
		return value, nil
	}
	if err := c.refreshVisitorID(ctx); err != nil {
		return value, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visitorID.value, nil
}

// refreshVisitorID reads INNERTUBE_CONTEXT.client.visitorData from the home page.
func (c *Client) refreshVisitorID(ctx context.Context) error {
	const sep = "ytcfg.set("

	data, err := c.getPage(ctx, c.BaseURL)
	if err != nil {
		return err
	}
	_, rest, found := strings.Cut(string(data), sep)
	if !found {
		return errors.New("visitor ID not found in YouTube response")
	}

	var value struct {
		InnertubeContext struct {
			Client struct {
				VisitorData string `json:"visitorData"`
			} `json:"client"`
		} `json:"INNERTUBE_CONTEXT"`
	}
	if err := json.NewDecoder(strings.NewReader(rest)).Decode(&value); err != nil {
		return err
	}
	visitor := strings.ReplaceAll(value.InnertubeContext.Client.VisitorData, "%3D", "=")
	if visitor == "" {
		return errors.New("visitor ID empty in YouTube response")
	}

	c.mu.Lock()
	c.visitorID.value = visitor
	c.visitorID.updated = time.Now()
	c.mu.Unlock()
	return nil
}

// doWithBotguardRetry executes the request and, in Auto/Force mode, attests
// once after a 403 and retries with the token applied. Force mode also
// attests before the first attempt.
func (c *Client) doWithBotguardRetry(newRequest func() (*http.Request, error)) (*http.Response, error) {
	req, err := newRequest()
	if err != nil {
		return nil, err
	}
	if c.bg.solver == nil || c.bg.mode == botguard.Off {
		return c.HTTPClient.Do(req)
	}

	if c.bg.mode == botguard.Force {
		log.Debug("Force mode preflight attestation")
		if err := c.maybeApplyBotguard(req); err != nil {
			log.Warn("Preflight attestation failed", logger.Fields{"error": err.Error()})
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusForbidden {
		return resp, err
	}
	_ = resp.Body.Close()

	log.Info("403 received, attempting Botguard attestation")
	retry, err := newRequest()
	if err != nil {
		return nil, err
	}
	if err := c.maybeApplyBotguard(retry); err != nil {
		return nil, fmt.Errorf("botguard attestation after 403: %w", err)
	}
	return c.HTTPClient.Do(retry)
}

// maybeApplyBotguard runs the solver (or reuses a cached token) and applies
// the token to request headers.
func (c *Client) maybeApplyBotguard(req *http.Request) error {
	if c.bg.solver == nil {
		return nil
	}
	name := c.clientName
	if strings.TrimSpace(name) == "" {
		name = clientNameWEB
	}
	c.mu.Lock()
	ver := c.clientVer
	c.mu.Unlock()
	in := botguard.Input{
		UserAgent:     req.Header.Get("User-Agent"),
		PageURL:       ytBase + "/",
		ClientName:    name,
		ClientVersion: ver,
		VisitorID:     req.Header.Get(headerVisitorID),
	}
	key := botguard.KeyFromInput(in)
	if c.bg.cache != nil {
		if out, ok := c.bg.cache.Get(key); ok && !out.Expired() {
			log.Debug("Botguard cache hit")
			if out.Token != "" {
				req.Header.Set(headerBotguard, out.Token)
			}
			return nil
		}
	}
	out, err := c.bg.solver.Attest(req.Context(), in)
	if err != nil {
		return err
	}
	if out.ExpiresAt.IsZero() && c.bg.ttl > 0 {
		out.ExpiresAt = time.Now().Add(c.bg.ttl)
	}
	if out.Token != "" {
		req.Header.Set(headerBotguard, out.Token)
	}
	if c.bg.cache != nil {
		c.bg.cache.Set(key, out)
	}
	return nil
}
