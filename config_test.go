package b23bot

import (
	"testing"
	"time"
)

func TestResolveConfig_Defaults(t *testing.T) {
	resolved, err := resolveConfig(Config{URL: "ws://127.0.0.1:3001"})
	if err != nil {
		t.Fatalf("resolveConfig() error: %v", err)
	}
	if resolved.SettleDelay != time.Second {
		t.Errorf("SettleDelay = %v, want 1s", resolved.SettleDelay)
	}
	if resolved.ReconnectDelay != 5*time.Second {
		t.Errorf("ReconnectDelay = %v, want 5s", resolved.ReconnectDelay)
	}
	if resolved.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d, want 5", resolved.MaxReconnectAttempts)
	}
	if resolved.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", resolved.RequestTimeout)
	}
	if resolved.SendRate <= 0 || resolved.SendBurst <= 0 {
		t.Errorf("send limits = %v/%d, want positive defaults", resolved.SendRate, resolved.SendBurst)
	}
}

func TestResolveConfig_EnvFallback(t *testing.T) {
	t.Setenv("B23BOT_URL", "ws://env-host:3001")
	t.Setenv("B23BOT_ACCESS_TOKEN", "env-token")

	resolved, err := resolveConfig(Config{})
	if err != nil {
		t.Fatalf("resolveConfig() error: %v", err)
	}
	if resolved.URL != "ws://env-host:3001" {
		t.Errorf("URL = %q, want env value", resolved.URL)
	}
	if resolved.AccessToken != "env-token" {
		t.Errorf("AccessToken = %q, want env value", resolved.AccessToken)
	}
}

func TestResolveConfig_ExplicitOverridesEnv(t *testing.T) {
	t.Setenv("B23BOT_ACCESS_TOKEN", "env-token")

	resolved, err := resolveConfig(Config{URL: "ws://localhost:3001", AccessToken: "explicit"})
	if err != nil {
		t.Fatalf("resolveConfig() error: %v", err)
	}
	if resolved.AccessToken != "explicit" {
		t.Errorf("AccessToken = %q, want %q", resolved.AccessToken, "explicit")
	}
}

func TestResolveConfig_MissingURL(t *testing.T) {
	t.Setenv("B23BOT_URL", "")
	if _, err := resolveConfig(Config{}); err == nil {
		t.Fatal("resolveConfig() should fail without a URL")
	}
}

func TestResolveConfig_RejectsNonWebSocketScheme(t *testing.T) {
	if _, err := resolveConfig(Config{URL: "http://localhost:3001"}); err == nil {
		t.Fatal("resolveConfig() should reject http scheme")
	}
}

func TestResolveConfig_NegativeAttempts(t *testing.T) {
	if _, err := resolveConfig(Config{URL: "ws://localhost:3001", MaxReconnectAttempts: -1}); err == nil {
		t.Fatal("resolveConfig() should reject negative MaxReconnectAttempts")
	}
}

func TestConfigFromDocument(t *testing.T) {
	cfg := ConfigFromDocument(Document{Host: "127.0.0.1", Port: 3001, AccessToken: "tok"})
	if cfg.URL != "ws://127.0.0.1:3001" {
		t.Errorf("URL = %q, want ws://127.0.0.1:3001", cfg.URL)
	}
	if cfg.AccessToken != "tok" {
		t.Errorf("AccessToken = %q, want tok", cfg.AccessToken)
	}

	v6 := ConfigFromDocument(Document{Host: "::1", Port: 3001})
	if v6.URL != "ws://[::1]:3001" {
		t.Errorf("URL = %q, want ws://[::1]:3001", v6.URL)
	}

	if empty := ConfigFromDocument(Document{}); empty.URL != "" {
		t.Errorf("URL = %q, want empty without host", empty.URL)
	}
}
