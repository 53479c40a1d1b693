package audit

import (
	"time"

	"github.com/rs/zerolog"
)

// OptionalEvent wraps a zerolog dictionary that is only attached to its
// parent when at least one field was set, so empty sections disappear from
// the emitted record instead of rendering as "{}".
type OptionalEvent struct {
	ev       *zerolog.Event
	modified bool
}

func NewOptionalEvent(e *zerolog.Event) *OptionalEvent {
	return &OptionalEvent{ev: e}
}

func (oe *OptionalEvent) event() *zerolog.Event {
	if oe.ev == nil {
		oe.ev = zerolog.Dict()
		oe.modified = false
	}
	return oe.ev
}

// Set attaches the dictionary to the parent under key when modified,
// reporting whether it was attached.
func (oe *OptionalEvent) Set(parent *zerolog.Event, key string) bool {
	if oe.modified {
		parent.Dict(key, oe.event())
		return true
	}
	return false
}

func (oe *OptionalEvent) Str(key, val string) *OptionalEvent {
	if val == "" {
		return oe
	}
	oe.event().Str(key, val)
	oe.modified = true
	return oe
}

func (oe *OptionalEvent) Strs(key string, vals []string) *OptionalEvent {
	if len(vals) == 0 {
		return oe
	}
	oe.event().Strs(key, vals)
	oe.modified = true
	return oe
}

func (oe *OptionalEvent) Bool(key string, val bool) *OptionalEvent {
	oe.event().Bool(key, val)
	oe.modified = true
	return oe
}

func (oe *OptionalEvent) Time(key string, val time.Time) *OptionalEvent {
	if val.IsZero() {
		return oe
	}
	oe.event().Time(key, val)
	oe.modified = true
	return oe
}

func (oe *OptionalEvent) Dur(key string, val time.Duration) *OptionalEvent {
	oe.event().Dur(key, val)
	oe.modified = true
	return oe
}
