package config

import (
	"os"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `fixflow:
  name: "TestApp"
  version: "1.0"
channels:
  inbound_buffer: 16
  stream_buffer: 16
session:
  host: "demo.example.com"
  quote_port: 5201
  trade_port: 5202
  heartbeat_sec: 30
accounts:
- name: "demo"
  account: "demo.icmarkets.3001234"
  password: "secret"
  currency: "USD"
engine:
  symbols: ["EURUSD"]
storage:
  s3:
    enabled: false
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)
	t.Setenv("FIXFLOW_ENV", "")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Fixflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Fixflow.Name)
	}
	if cfg.Session.TargetCompID != "CSERVER" {
		t.Errorf("expected default target comp id, got %s", cfg.Session.TargetCompID)
	}
	if time.Duration(cfg.Session.DialTimeout) != 10*time.Second {
		t.Errorf("unexpected dial timeout: %v", time.Duration(cfg.Session.DialTimeout))
	}
	if cfg.Accounts[0].Login() != "3001234" {
		t.Errorf("unexpected login: %s", cfg.Accounts[0].Login())
	}
}

func TestDurationUnmarshal(t *testing.T) {
	var sc SessionConfig
	if err := yaml.Unmarshal([]byte("dial_timeout: \"2s\"\nmax_backoff: \"500ms\"\n"), &sc); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if time.Duration(sc.DialTimeout) != 2*time.Second {
		t.Errorf("unexpected dial timeout: %v", time.Duration(sc.DialTimeout))
	}
	if time.Duration(sc.MaxBackoff) != 500*time.Millisecond {
		t.Errorf("unexpected max backoff: %v", time.Duration(sc.MaxBackoff))
	}

	if err := yaml.Unmarshal([]byte("dial_timeout: \"soon\"\n"), &sc); err == nil {
		t.Fatalf("expected error for malformed duration")
	}
}

func TestLoadConfigMissingAccount(t *testing.T) {
	content := `fixflow:
  name: "TestApp"
  version: "1.0"
channels:
  inbound_buffer: 16
  stream_buffer: 16
session:
  host: "demo.example.com"
  quote_port: 5201
  trade_port: 5202
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	defer os.Remove(f.Name())

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatalf("expected error for missing accounts")
	}
}

func TestPasswordFromEnvironment(t *testing.T) {
	content := `fixflow:
  name: "TestApp"
  version: "1.0"
channels:
  inbound_buffer: 16
  stream_buffer: 16
session:
  host: "demo.example.com"
  quote_port: 5201
  trade_port: 5202
accounts:
- name: "demo"
  account: "demo.icmarkets.3001234"
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	defer os.Remove(f.Name())

	t.Setenv("FIXFLOW_ENV", "")
	t.Setenv("FIX_PASSWORD", "from-env")
	cfg, err := LoadConfig(f.Name())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Accounts[0].Password != "from-env" {
		t.Errorf("password not taken from environment: %q", cfg.Accounts[0].Password)
	}
}

func TestEnvironmentAliases(t *testing.T) {
	cases := []struct{ raw, want string }{
		{"", EnvironmentDemo},
		{"dev", EnvironmentDemo},
		{"practice", EnvironmentDemo},
		{"stage", EnvironmentStaging},
		{"PROD", EnvironmentLive},
		{"live", EnvironmentLive},
	}
	for _, c := range cases {
		t.Setenv("FIXFLOW_ENV", c.raw)
		if got := Environment(); got != c.want {
			t.Errorf("Environment() with %q = %s, want %s", c.raw, got, c.want)
		}
	}
}

func TestLiveDeploymentRejectsDemoAccounts(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	t.Setenv("FIXFLOW_ENV", "live")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("a live deployment must reject a demo account")
	}

	t.Setenv("FIXFLOW_ENV", "demo")
	if _, err := LoadConfig(path); err != nil {
		t.Fatalf("a demo deployment must accept it: %v", err)
	}
}

func TestResolvePathFallsBackWithoutEnvFile(t *testing.T) {
	t.Setenv("FIXFLOW_ENV", "live")
	if got := ResolvePath(""); got != defaultConfigPath {
		t.Errorf("ResolvePath must fall back to %s, got %s", defaultConfigPath, got)
	}
	if got := ResolvePath("custom.yml"); got != "custom.yml" {
		t.Errorf("an explicit path must win, got %s", got)
	}
}

func TestIsValidAccount(t *testing.T) {
	cases := []struct {
		account string
		valid   bool
	}{
		{"demo.icmarkets.3001234", true},
		{"live.pepperstone.88", true},
		{"3001234", false},
		{"demo.icmarkets.", false},
		{"demo.icmarkets.abc", false},
	}
	for _, c := range cases {
		if got := isValidAccount(c.account); got != c.valid {
			t.Errorf("isValidAccount(%q) = %v, want %v", c.account, got, c.valid)
		}
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
