package testlog

import (
	"fmt"
	"testing"

	"github.com/danmuck/tclink/internal/logging"
	"github.com/rs/zerolog/log"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Msgf("test=%s", t.Name())
}

// Logf records a test progress line through the configured logger.
func Logf(format string, args ...any) {
	log.Info().Msg(fmt.Sprintf(format, args...))
}
