package provider

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleSettings = `
default_rate: 5
providers:
  kling:
    api_key: ak-123
    secret_key: ${TEST_KLING_SK}
    rate_limit: 0.5
    poll_interval: 20s
  minimax:
    api_key: mm
    poll_timeout: 30m
`

func TestLoadSettings(t *testing.T) {
	t.Setenv("TEST_KLING_SK", "sk-secret")

	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	if err := os.WriteFile(path, []byte(sampleSettings), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}

	kling := s.Config("kling")
	if kling.APIKey != "ak-123" {
		t.Errorf("expected api key ak-123, got %q", kling.APIKey)
	}
	if kling.SecretKey != "sk-secret" {
		t.Errorf("expected env expansion, got %q", kling.SecretKey)
	}
	if got := s.RateFor("kling"); got != 0.5 {
		t.Errorf("RateFor(kling) = %v, want 0.5", got)
	}
	if got := s.RateFor("minimax"); got != 5 {
		t.Errorf("RateFor(minimax) = %v, want default_rate 5", got)
	}

	pc := kling.Apply(PollConfig{Interval: time.Second, Timeout: time.Minute})
	if pc.Interval != 20*time.Second || pc.Timeout != time.Minute {
		t.Errorf("unexpected poll config %+v", pc)
	}
	pc = s.Config("minimax").Apply(DefaultPollConfig)
	if pc.Timeout != 30*time.Minute || pc.Interval != DefaultPollConfig.Interval {
		t.Errorf("unexpected poll config %+v", pc)
	}
}

func TestSettingsDefaults(t *testing.T) {
	var s *Settings
	if s.RateFor("any") != DefaultRateLimit {
		t.Error("nil settings should fall back to the default rate")
	}
	if s.Config("any").APIKey != "" {
		t.Error("nil settings should yield an empty config")
	}

	parsed, err := ParseSettings([]byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.RateFor("x") != DefaultRateLimit {
		t.Errorf("expected %v, got %v", DefaultRateLimit, parsed.RateFor("x"))
	}
}

func TestParseSettingsInvalidDuration(t *testing.T) {
	_, err := ParseSettings([]byte("providers:\n  a:\n    poll_interval: soon\n"))
	if err == nil {
		t.Fatal("expected an error for an invalid duration")
	}
}
