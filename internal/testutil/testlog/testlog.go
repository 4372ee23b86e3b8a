// Package testlog puts the global logger into its quiet test profile
// and tags the stream with the running test's name.
package testlog

import (
	"testing"

	"github.com/rs/zerolog/log"

	"github.com/frclink/dsctl/internal/logging"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Debug().Str("test", t.Name()).Msg("test start")
}
