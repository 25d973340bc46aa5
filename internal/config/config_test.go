package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.APIPort != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.APIPort)
	}
	if cfg.ConfidenceThreshold != 70 {
		t.Fatalf("expected default threshold 70, got %d", cfg.ConfidenceThreshold)
	}
	if cfg.RetrievalTimeout != 8*time.Second {
		t.Fatalf("expected default retrieval timeout 8s, got %s", cfg.RetrievalTimeout)
	}
	if cfg.ConsentWindow != 10*time.Minute {
		t.Fatalf("expected default consent window 10m, got %s", cfg.ConsentWindow)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("API_PORT", "9999")
	t.Setenv("CONFIDENCE_THRESHOLD", "85")
	t.Setenv("CONSENT_WINDOW", "2m")
	t.Setenv("DEFAULT_EXTERNAL_PROVIDER", "cloud_llm")

	cfg := Load()
	if cfg.APIPort != "9999" {
		t.Fatalf("expected port 9999, got %s", cfg.APIPort)
	}
	if cfg.ConfidenceThreshold != 85 {
		t.Fatalf("expected threshold 85, got %d", cfg.ConfidenceThreshold)
	}
	if cfg.ConsentWindow != 2*time.Minute {
		t.Fatalf("expected consent window 2m, got %s", cfg.ConsentWindow)
	}
	if cfg.DefaultProvider != "cloud_llm" {
		t.Fatalf("expected provider cloud_llm, got %s", cfg.DefaultProvider)
	}
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "not-a-number")
	t.Setenv("RETRIEVAL_TIMEOUT", "-3s")

	cfg := Load()
	if cfg.ConfidenceThreshold != 70 {
		t.Fatalf("invalid int must fall back to default, got %d", cfg.ConfidenceThreshold)
	}
	if cfg.RetrievalTimeout != 8*time.Second {
		t.Fatalf("non-positive duration must fall back to default, got %s", cfg.RetrievalTimeout)
	}
}

func TestConfigFileOverridesEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("api_port: \"7070\"\nconfidence_threshold: 90\nconsent_window: 5m\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("API_PORT", "9999")
	t.Setenv("CONFIG_FILE", path)

	cfg := Load()
	if cfg.APIPort != "7070" {
		t.Fatalf("expected file override 7070, got %s", cfg.APIPort)
	}
	if cfg.ConfidenceThreshold != 90 {
		t.Fatalf("expected file override 90, got %d", cfg.ConfidenceThreshold)
	}
	if cfg.ConsentWindow != 5*time.Minute {
		t.Fatalf("expected file override 5m, got %s", cfg.ConsentWindow)
	}
	// Fields absent from the file keep their environment or default values.
	if cfg.NATSSubject != "queries.completed" {
		t.Fatalf("unexpected nats subject %s", cfg.NATSSubject)
	}
}

func TestMissingConfigFileIsIgnored(t *testing.T) {
	t.Setenv("CONFIG_FILE", "/nonexistent/config.yaml")
	cfg := Load()
	if cfg.APIPort != "8080" {
		t.Fatalf("expected defaults when config file missing, got %s", cfg.APIPort)
	}
}
