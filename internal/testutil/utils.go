package testutil

import (
	"testing"

	"github.com/rs/zerolog"
)

// TestLogger routes log output through t.Log so it only shows for failing
// or verbose runs.
func TestLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Logger()
}
