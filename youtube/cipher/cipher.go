package cipher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/robertkrimen/otto"

	"github.com/ytget/ytfetch/internal/logger"
)

const (
	ytBase           = "https://www.youtube.com"
	playerJSURLRe    = `"jsUrl":"([^"]+)"`
	decipherFuncName = "decipher"
	ncodeFuncName    = "ncode"
	jsURLGroupIndex  = 1 // capture group index for jsUrl
	playerJSTTL      = 10 * time.Minute
)

var (
	playerJSURLRegex = regexp.MustCompile(playerJSURLRe)

	log = logger.WithComponent(logger.ComponentCipher)
)

// Getter fetches a URL. *client.Client satisfies it.
type Getter interface {
	Get(ctx context.Context, rawURL string) (*http.Response, error)
}

// player.js is evaluated once per URL; calls run on copies of the loaded VM.
var (
	playerCache   = make(map[string]playerCacheEntry)
	playerCacheMu sync.Mutex
)

type playerCacheEntry struct {
	vm    *otto.Otto
	expAt time.Time
}

func fetchBody(ctx context.Context, g Getter, rawURL string) ([]byte, error) {
	resp, err := g.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// loadPlayer returns a private copy of a VM that has already run player.js.
func loadPlayer(ctx context.Context, g Getter, playerJSURL string) (*otto.Otto, error) {
	playerCacheMu.Lock()
	entry, ok := playerCache[playerJSURL]
	playerCacheMu.Unlock()
	if ok && time.Now().Before(entry.expAt) {
		return entry.vm.Copy(), nil
	}

	body, err := fetchBody(ctx, g, playerJSURL)
	if err != nil {
		return nil, NewError(ErrCodePlayerJSDownload, "failed to download player.js", err.Error())
	}
	vm := otto.New()
	if _, err := vm.Run(string(body)); err != nil {
		return nil, NewError(ErrCodeJSParsingFailed, "failed to run player.js", err.Error())
	}
	log.Debug("Loaded player.js", logger.Fields{"url": playerJSURL, "bytes": len(body)})

	playerCacheMu.Lock()
	playerCache[playerJSURL] = playerCacheEntry{vm: vm, expAt: time.Now().Add(playerJSTTL)}
	playerCacheMu.Unlock()
	return vm.Copy(), nil
}

// ResetCache drops every loaded player.js.
func ResetCache() {
	playerCacheMu.Lock()
	clear(playerCache)
	playerCacheMu.Unlock()
}

// FetchPlayerJS finds the player.js URL by requesting the provided video page URL
// and scraping the "jsUrl" field from the response. Relative locations are
// resolved against the page URL.
func FetchPlayerJS(ctx context.Context, g Getter, videoURL string) (string, error) {
	body, err := fetchBody(ctx, g, videoURL)
	if err != nil {
		return "", NewError(ErrCodePlayerJSNotFound, "failed to load video page", err.Error())
	}

	matches := playerJSURLRegex.FindSubmatch(body)
	if len(matches) <= jsURLGroupIndex || len(matches[jsURLGroupIndex]) == 0 {
		return "", NewError(ErrCodePlayerJSNotFound, "could not find player js url in video page")
	}

	ref, err := url.Parse(strings.ReplaceAll(string(matches[jsURLGroupIndex]), `\/`, `/`))
	if err != nil {
		return "", NewError(ErrCodePlayerJSNotFound, "malformed player js url", err.Error())
	}
	// jsUrl is relative to the page it was found on.
	page, err := url.Parse(videoURL)
	if err != nil || page.Host == "" {
		page, _ = url.Parse(ytBase)
	}
	return page.ResolveReference(ref).String(), nil
}

// Decipher decrypts a signature by calling the player's decipher function.
func Decipher(ctx context.Context, g Getter, playerJSURL string, signature string) (string, error) {
	if signature == "" {
		return "", NewError(ErrCodeSignatureInvalid, "empty signature")
	}
	vm, err := loadPlayer(ctx, g, playerJSURL)
	if err != nil {
		return "", err
	}
	fn, err := vm.Get(decipherFuncName)
	if err != nil || !fn.IsFunction() {
		return "", NewError(ErrCodeSignatureNotFound, "player.js has no decipher function")
	}
	return call(ctx, vm, decipherFuncName, signature, ErrCodeSignatureDecipher)
}

// DecipherN decodes the n-parameter (throttling) if player.js contains ncode().
// Without ncode the value is returned unchanged.
func DecipherN(ctx context.Context, g Getter, playerJSURL string, nval string) (string, error) {
	vm, err := loadPlayer(ctx, g, playerJSURL)
	if err != nil {
		return "", err
	}
	fn, err := vm.Get(ncodeFuncName)
	if err != nil || !fn.IsFunction() {
		return nval, nil
	}
	return call(ctx, vm, ncodeFuncName, nval, ErrCodeJSExecutionFailed)
}

// call runs fn(arg) and aborts the VM when ctx is done.
func call(ctx context.Context, vm *otto.Otto, fn, arg, failCode string) (out string, err error) {
	vm.Interrupt = make(chan func(), 1)
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt <- func() { panic(errInterrupted) }
	})
	defer stop()
	defer func() {
		if r := recover(); r != nil {
			if r != errInterrupted {
				panic(r)
			}
			err = NewError(ErrCodeSignatureTimeout, fn+" interrupted", ctx.Err().Error())
		}
	}()

	value, cerr := vm.Call(fn, nil, arg)
	if cerr != nil {
		return "", NewError(failCode, "failed to call "+fn, cerr.Error())
	}
	out, cerr = value.ToString()
	if cerr != nil {
		return "", NewError(failCode, fn+" did not return a string", cerr.Error())
	}
	return out, nil
}

var errInterrupted = fmt.Errorf("interrupted")
