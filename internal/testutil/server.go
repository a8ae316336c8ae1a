// Shared setup for API and integration tests.

package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/vidscribe/internal/api"
	"github.com/vrsandeep/vidscribe/internal/config"
	"github.com/vrsandeep/vidscribe/internal/core"
)

// SetupTestApp builds a core.App on a fresh database with the default
// config. The config can be changed before the app is used.
func SetupTestApp(t *testing.T) *core.App {
	t.Helper()
	app, err := core.NewWithDB(config.Default(), SetupTestDB(t), DiscardLogger(), "test")
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

// SetupTestServer initializes a full core.App and api.Server for
// integration testing.
func SetupTestServer(t *testing.T) (*api.Server, *core.App) {
	t.Helper()
	app := SetupTestApp(t)
	return api.NewServer(app), app
}
