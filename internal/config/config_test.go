package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "digestgate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
upstreams:
  - name: api
    url: http://api.internal:9000
    default: true
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen.Host != "0.0.0.0" || cfg.Listen.Port != 8080 {
		t.Errorf("listen defaults = %s:%d", cfg.Listen.Host, cfg.Listen.Port)
	}
	if cfg.Listen.MaxConnections != 1000 {
		t.Errorf("max_connections = %d", cfg.Listen.MaxConnections)
	}
	if cfg.Body.MaxSize != 2*1024*1024 {
		t.Errorf("body.max_size = %d", cfg.Body.MaxSize)
	}
	if cfg.Security.Checksum.Mode != "verify" {
		t.Errorf("checksum.mode = %q", cfg.Security.Checksum.Mode)
	}
	if cfg.Security.Signature.Header != "X-Content-Signature" {
		t.Errorf("signature.header = %q", cfg.Security.Signature.Header)
	}
	if cfg.Security.Replay.Window.Duration != 300*time.Second {
		t.Errorf("replay.window = %v", cfg.Security.Replay.Window.Duration)
	}
	if cfg.Security.Replay.Policy != "warn" {
		t.Errorf("replay.policy = %q", cfg.Security.Replay.Policy)
	}
	if cfg.Health.ReadinessMode != "any_healthy" {
		t.Errorf("readiness_mode = %q", cfg.Health.ReadinessMode)
	}
	if cfg.Logging.Audit.SamplingRate != 1.0 {
		t.Errorf("audit.sampling_rate = %f", cfg.Logging.Audit.SamplingRate)
	}
	if cfg.Shutdown.Timeout.Duration != 30*time.Second {
		t.Errorf("shutdown.timeout = %v", cfg.Shutdown.Timeout.Duration)
	}

	u := cfg.Upstreams[0]
	if u.Prefix != "/" {
		t.Errorf("upstream prefix = %q", u.Prefix)
	}
	if u.Timeout.Duration != 30*time.Second {
		t.Errorf("upstream timeout = %v", u.Timeout.Duration)
	}
	if u.HealthCheck.Path != "/healthz" {
		t.Errorf("upstream health path = %q", u.HealthCheck.Path)
	}
}

func TestLoadExpandsUpstreamURLTemplates(t *testing.T) {
	t.Setenv("BACKEND_HOST", "backend.test:9100")

	cfg, err := Load(writeConfig(t, `
upstreams:
  - name: api
    url: "http://{BACKEND_HOST:localhost:9000}"
    default: true
  - name: fallback
    url: "http://{MISSING_HOST_VAR:fallback.test:9200}"
    prefix: /fallback
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Upstreams[0].URL; got != "http://backend.test:9100" {
		t.Errorf("env-expanded url = %q", got)
	}
	if got := cfg.Upstreams[1].URL; got != "http://fallback.test:9200" {
		t.Errorf("default-expanded url = %q", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "upstreams: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	_, err := Load(writeConfig(t, `
listen:
  port: 70000
  max_connections: -1
upstreams:
  - name: ""
    url: "not a url"
    prefix: no-slash
security:
  checksum:
    mode: maybe
  replay:
    policy: sometimes
`))
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{
		"listen.port",
		"max_connections",
		"name is required",
		"url must be a valid URL",
		"prefix must start with /",
		"checksum.mode",
		"replay.policy",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing %q:\n%s", want, msg)
		}
	}
}

func TestValidateRejectsMultipleDefaults(t *testing.T) {
	_, err := Load(writeConfig(t, `
upstreams:
  - name: a
    url: http://a.test
    default: true
  - name: b
    url: http://b.test
    prefix: /b
    default: true
`))
	if err == nil || !strings.Contains(err.Error(), "at most one upstream") {
		t.Fatalf("expected multiple-default error, got %v", err)
	}
}

func TestValidateSignatureNeedsKeySource(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
security:
  signature:
    enabled: true
`))
	if err == nil || !strings.Contains(err.Error(), "jwks_file or jwks_url") {
		t.Fatalf("expected key source error, got %v", err)
	}
}

func TestValidateGRPCPortConflict(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
listen:
  port: 8080
  grpc_port: 8080
`))
	if err == nil || !strings.Contains(err.Error(), "grpc_port must differ") {
		t.Fatalf("expected port conflict error, got %v", err)
	}
}

func TestDurationYAMLRoundTrip(t *testing.T) {
	var got struct {
		Window Duration `yaml:"window"`
	}
	if err := yaml.Unmarshal([]byte("window: 90s"), &got); err != nil {
		t.Fatal(err)
	}
	if got.Window.Duration != 90*time.Second {
		t.Errorf("parsed duration = %v", got.Window.Duration)
	}

	out, err := yaml.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "1m30s") {
		t.Errorf("marshaled duration = %q", out)
	}

	if err := yaml.Unmarshal([]byte("window: banana"), &got); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestProfilesAreValidConfigs(t *testing.T) {
	for name, profile := range map[string]string{
		"dev":  DevProfile(),
		"prod": ProdProfile(),
	} {
		var cfg Config
		if err := yaml.Unmarshal([]byte(profile), &cfg); err != nil {
			t.Errorf("%s profile does not parse: %v", name, err)
		}
	}
}

func TestReloaderKeepsOldConfigOnInvalidFile(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	initial, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	r := NewReloader(path, initial, testLogger())
	if err := os.WriteFile(path, []byte("upstreams: ["), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(); err == nil {
		t.Fatal("expected reload error for invalid file")
	}
	if r.Current() != initial {
		t.Error("invalid reload replaced the current config")
	}
}

type recordingSubscriber struct {
	calls int
	last  *Config
}

func (s *recordingSubscriber) OnConfigReload(cfg *Config) error {
	s.calls++
	s.last = cfg
	return nil
}

func TestReloaderNotifiesSubscribers(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	initial, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	r := NewReloader(path, initial, testLogger())
	sub := &recordingSubscriber{}
	r.Register(sub)

	if err := os.WriteFile(path, []byte(minimalConfig+`
body:
  max_size: 4096
`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if sub.calls != 1 {
		t.Errorf("subscriber calls = %d", sub.calls)
	}
	if sub.last == nil || sub.last.Body.MaxSize != 4096 {
		t.Errorf("subscriber did not receive new config: %+v", sub.last)
	}
	if r.Current().Body.MaxSize != 4096 {
		t.Errorf("current config not updated: %d", r.Current().Body.MaxSize)
	}
}
