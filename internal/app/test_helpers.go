package app

import (
	"bytes"
	"os"
	"sync"
	"testing"
	"time"
)

const defaultTestTimeout = 5 * time.Second

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// TestConfig returns a valid configuration for tests.
func TestConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := NewConfig(Config{
		CacheCapacity:    16,
		CacheMemoryLimit: 1 << 20,
		Workers:          2,
		LogFormat:        "text",
		LogLevel:         "debug",
		ListenAddr:       "127.0.0.1:0",
		DataDir:          t.TempDir(),
		HTTPTimeout:      defaultTestTimeout,
	})
	if err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	return cfg
}

// SetupAppTest creates a new app instance for system testing.
func SetupAppTest(t *testing.T, cfg *Config) (*App, *SafeBuffer) {
	t.Helper()

	logBuffer := &SafeBuffer{}
	testApp, err := NewApp(logBuffer, cfg)
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	t.Cleanup(func() {
		testApp.Close()
		if os.Getenv("VEGAPRE_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
