// Package audit records one structured entry per grant acquisition,
// describing how the grant was resolved and with what outcome. Entries
// travel on the context so the flow layers can annotate a single record,
// emitted once when the acquisition completes.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the log level audit entries are written at. Audit records are
// operational fact, not diagnostics, so they sit above debug filtering.
const Level = zerolog.InfoLevel

// Entry is the audit record for one grant acquisition.
type Entry struct {
	// grant request
	GrantType string
	ClientID  string
	ActorID   string
	Scope     []string

	// resolution path taken
	CacheHit    bool
	Refreshed   bool
	Interactive bool

	// result
	Succeeded  bool
	ExpirySecs int64
	Error      string
}

type entryContextKey struct{}

// Context returns a context carrying a new audit entry, along with the
// entry itself. An entry already present is reused.
func Context(ctx context.Context) (context.Context, *Entry) {
	if entry, ok := ctx.Value(entryContextKey{}).(*Entry); ok {
		return ctx, entry
	}

	entry := &Entry{}
	return context.WithValue(ctx, entryContextKey{}, entry), entry
}

// Log returns the context's audit entry. When no entry is present a
// detached entry is returned so callers can annotate unconditionally; a
// detached entry is never emitted.
func Log(ctx context.Context) *Entry {
	if entry, ok := ctx.Value(entryContextKey{}).(*Entry); ok {
		return entry
	}
	return &Entry{}
}

// Begin records the request identity for the acquisition.
func (e *Entry) Begin(grantType, clientID string) {
	e.GrantType = grantType
	e.ClientID = clientID
}

// End returns the emit function for the entry, capturing the start time so
// the emitted record carries the acquisition duration. Deferring the
// returned function writes the entry exactly once, panics included.
func (e *Entry) End(ctx context.Context) func() {
	start := time.Now()

	return func() {
		if r := recover(); r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error = e.Error + "panic during acquisition"

			defer panic(r)
		}

		log.Ctx(ctx).WithLevel(Level).
			EmbedObject(e).
			Dur("duration", time.Since(start)).
			Msg("grant acquisition")
	}
}

// MarshalZerologObject renders the entry as nested dictionaries: "grant"
// for the request identity, "resolution" for the path taken, and a
// top-level error when one occurred. Empty optional dictionaries are
// elided.
func (e *Entry) MarshalZerologObject(event *zerolog.Event) {
	grant := NewOptionalEvent(zerolog.Dict()).
		Str("grantType", e.GrantType).
		Str("clientID", e.ClientID).
		Str("actorID", e.ActorID).
		Strs("scope", e.Scope)
	if e.ExpirySecs > 0 {
		expiry := time.Unix(e.ExpirySecs, 0)
		grant.Time("expiry", expiry)
		grant.Dur("expiryRemaining", time.Until(expiry))
	}
	grant.Set(event, "grant")

	resolution := NewOptionalEvent(zerolog.Dict())
	resolution.Bool("succeeded", e.Succeeded)
	if e.CacheHit {
		resolution.Bool("cacheHit", true)
	}
	if e.Refreshed {
		resolution.Bool("refreshed", true)
	}
	if e.Interactive {
		resolution.Bool("interactive", true)
	}
	resolution.Set(event, "resolution")

	if e.Error != "" {
		event.Str("error", e.Error)
	}
}
