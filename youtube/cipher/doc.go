/*
Package cipher implements YouTube signature decryption.

Some streams come with a signatureCipher instead of a URL: the real "s"
value must be passed through a decipher function that lives in the
player's base.js. Direct URLs may also carry an "n" parameter that gets
throttled unless it is transformed by the player's ncode function.

Both functions are run with github.com/robertkrimen/otto. player.js is
downloaded and evaluated once per URL (10 minute TTL); each call runs on a
copy of the evaluated VM, so calls are safe from multiple goroutines.

# Usage

	playerJSURL, err := cipher.FetchPlayerJS(ctx, httpClient, "https://www.youtube.com/watch?v="+id)
	if err != nil {
		return err
	}
	sig, err := cipher.Decipher(ctx, httpClient, playerJSURL, s)
	if err != nil {
		switch {
		case cipher.IsTimeout(err):
			// ctx expired while the script ran
		case cipher.IsNotFound(err):
			// page or player has no usable function
		case cipher.IsJSError(err):
			// player.js failed to evaluate
		}
		return err
	}

httpClient is anything with Get(ctx, url); *client.Client fits.

# Error Codes

  - PLAYER_JS_NOT_FOUND: player.js URL not found in video page
  - PLAYER_JS_DOWNLOAD_FAILED: failed to download player.js
  - SIGNATURE_DECIPHER_FAILED: decipher call failed
  - SIGNATURE_INVALID: empty signature
  - SIGNATURE_TIMEOUT: context expired during a call
  - SIGNATURE_NOT_FOUND: player.js has no decipher function
  - JS_EXECUTION_FAILED: ncode call failed
  - JS_PARSING_FAILED: player.js could not be evaluated
*/
package cipher
