package testhelpers

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger routes the global zerolog logger to the test log for the
// duration of the test, restoring it afterwards.
func SetupLogger(t *testing.T) {
	t.Helper()

	previous := log.Logger
	t.Cleanup(func() { log.Logger = previous })

	log.Logger = zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
}
