package testlog

import (
	"testing"

	"github.com/danmuck/edgemsg/internal/logging"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	logging.Logger().Info().Msgf("test=%s", t.Name())
}
