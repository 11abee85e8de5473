package app

import (
	"os"
	"testing"

	"github.com/vk/pagirun/internal/registry"
	"github.com/vk/pagirun/internal/testutil"
)

// SetupAppTest creates a new app instance for system testing. The full log
// is printed when PAGIRUN_TEST_LOGS is "true".
func SetupAppTest(t *testing.T, cfg *Config, modules ...registry.Module) (*App, *testutil.SafeBuffer) {
	t.Helper()

	logBuffer := &testutil.SafeBuffer{}
	cfg.LogLevel = "debug"
	testApp := NewApp(logBuffer, cfg, nil, modules...)

	t.Cleanup(func() {
		if os.Getenv("PAGIRUN_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
