// Package botguard obtains attestation tokens for innertube requests that
// YouTube answers with 403 until the client proves it ran the Botguard
// challenge. Solvers are pluggable; GojaSolver runs a user-supplied script.
package botguard

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Mode defines how Botguard solving is used.
type Mode int

const (
	// Off disables Botguard usage entirely.
	Off Mode = iota
	// Auto attests only after a request is rejected with 403, then retries once.
	Auto
	// Force always runs Botguard attestation before relevant Innertube calls.
	Force
)

var modeNames = map[Mode]string{Off: "off", Auto: "auto", Force: "force"}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts "off", "auto" or "force" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return Off, nil
	case "auto":
		return Auto, nil
	case "force":
		return Force, nil
	}
	return Off, fmt.Errorf("unknown botguard mode %q (want off, auto or force)", s)
}

// Input carries the parameters required to perform Botguard attestation.
type Input struct {
	UserAgent        string
	PageURL          string
	ClientName       string
	ClientVersion    string
	VisitorID        string
	AdditionalParams map[string]string
}

// Output contains attestation result to be applied to Innertube requests.
type Output struct {
	Token     string
	ExpiresAt time.Time
	// Optional metadata for diagnostics or advanced integrations
	Metadata map[string]string
}

// Expired reports whether the token has a deadline that has passed.
func (o Output) Expired() bool {
	return !o.ExpiresAt.IsZero() && time.Until(o.ExpiresAt) <= 0
}

// Solver is an interface for Botguard attestation providers.
type Solver interface {
	Attest(ctx context.Context, input Input) (Output, error)
}

// Cache is an optional interface for storing Botguard outputs keyed by input characteristics.
type Cache interface {
	Get(key string) (Output, bool)
	Set(key string, value Output)
}

// KeyFromInput derives a cache key from Input fields that influence the attestation result.
func KeyFromInput(in Input) string {
	return in.UserAgent + "|" + in.ClientName + "|" + in.ClientVersion + "|" + in.VisitorID
}
