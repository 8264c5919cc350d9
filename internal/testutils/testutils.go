package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/nfrund/roomcast/internal/config"
	"github.com/nfrund/roomcast/internal/logging"
)

// ProjectRoot walks up from the working directory to the directory holding go.mod.
func ProjectRoot(t *testing.T) string {
	t.Helper()

	path, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
			return path
		}
		if path == filepath.Dir(path) {
			t.Fatalf("could not find project root with go.mod")
		}
		path = filepath.Dir(path)
	}
}

// ConfigForTests loads .env.test from the project root into the test's
// environment and returns the resulting configuration. Tests that need a
// real backing service are skipped when the file or the service URL is absent.
func ConfigForTests(t *testing.T, requiredEnv ...string) *config.Config {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	env, err := godotenv.Read(filepath.Join(ProjectRoot(t), ".env.test"))
	if err == nil {
		for key, value := range env {
			if _, set := os.LookupEnv(key); !set {
				t.Setenv(key, value)
			}
		}
	}

	for _, key := range requiredEnv {
		if os.Getenv(key) == "" {
			t.Skipf("skipping integration test: %s is not set", key)
		}
	}

	logging.New(os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load test config: %v", err)
	}
	return cfg
}
