package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
controller:
  host: "192.168.1.10"
  username: "admin"
  password: "hunter2"
  site: "hq"
polling:
  interval: 7
database:
  enabled: true
  path: "/tmp/test.db"
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Controller.Host != "192.168.1.10" || cfg.Controller.Site != "hq" {
		t.Errorf("Controller = %+v", cfg.Controller)
	}
	if cfg.PollInterval() != 7*time.Second {
		t.Errorf("PollInterval() = %v, want 7s", cfg.PollInterval())
	}
	// Unset values keep their defaults.
	if cfg.Polling.OfflineAfterMisses != 3 || cfg.PollTimeout() != 10*time.Second {
		t.Errorf("Polling = %+v", cfg.Polling)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if !cfg.AuthEnabled() {
		t.Error("AuthEnabled() = false with a secret set")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
controller:
  username: "admin"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	// Every problem is reported at once.
	for _, want := range []string{"controller.host", "controller.password"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad_EnvCredentials(t *testing.T) {
	t.Setenv("CONNECTD_CONTROLLER_HOST", "unifi.local")
	t.Setenv("CONNECTD_CONTROLLER_USERNAME", "svc")
	t.Setenv("CONNECTD_CONTROLLER_PASSWORD", "from-env")

	cfg, err := Load(writeConfig(t, "polling:\n  interval: 5\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Controller.Password != "from-env" {
		t.Errorf("Controller.Password = %q, want from-env", cfg.Controller.Password)
	}
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Controller.Host = "192.168.1.10"
	cfg.Controller.Username = "admin"
	cfg.Controller.Password = "secret"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"valid with scheme", func(c *Config) { c.Controller.Host = "https://unifi.local:443" }, false},
		{"missing host", func(c *Config) { c.Controller.Host = "" }, true},
		{"missing username", func(c *Config) { c.Controller.Username = "" }, true},
		{"missing password", func(c *Config) { c.Controller.Password = "" }, true},
		{"zero poll interval", func(c *Config) { c.Polling.Interval = 0 }, true},
		{"zero offline threshold", func(c *Config) { c.Polling.OfflineAfterMisses = 0 }, true},
		{"removal before offline", func(c *Config) { c.Polling.RemoveAfterMisses = 2 }, true},
		{"removal after offline", func(c *Config) { c.Polling.RemoveAfterMisses = 10 }, false},
		{"database enabled without path", func(c *Config) {
			c.Database.Enabled = true
			c.Database.Path = ""
		}, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, true},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, true},
		{"port ignored when api disabled", func(c *Config) {
			c.API.Enabled = false
			c.API.Port = 0
		}, false},
		{"tls without files", func(c *Config) { c.API.TLS.Enabled = true }, true},
		{"influx without url", func(c *Config) {
			c.InfluxDB.Enabled = true
			c.InfluxDB.Org = "o"
			c.InfluxDB.Bucket = "b"
		}, true},
		{"empty JWT secret disables auth", func(c *Config) { c.Security.JWT.Secret = "" }, false},
		{"JWT secret too short", func(c *Config) { c.Security.JWT.Secret = "short" }, true},
		{"sample ratio out of range", func(c *Config) { c.Tracing.SampleRatio = 2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Controller: ControllerConfig{
			RequestTimeout: 12,
			Events:         EventsConfig{Settle: 250},
		},
		Security: SecurityConfig{JWT: JWTConfig{AccessTokenTTL: 15}},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.ControllerTimeout(); got != 12*time.Second {
		t.Errorf("ControllerTimeout() = %v, want 12s", got)
	}
	if got := cfg.EventSettle(); got != 250*time.Millisecond {
		t.Errorf("EventSettle() = %v, want 250ms", got)
	}
	if got := cfg.AccessTokenTTL(); got != 15*time.Minute {
		t.Errorf("AccessTokenTTL() = %v, want 15m", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("CONNECTD_CONTROLLER_HOST", "10.0.0.2")
	t.Setenv("CONNECTD_CONTROLLER_USERNAME", "svc")
	t.Setenv("CONNECTD_CONTROLLER_PASSWORD", "pw")
	t.Setenv("CONNECTD_CONTROLLER_SITE", "branch")
	t.Setenv("CONNECTD_CONTROLLER_VERIFY_TLS", "true")
	t.Setenv("CONNECTD_DATABASE_PATH", "/custom/path.db")
	t.Setenv("CONNECTD_MQTT_HOST", "mqtt.example.com")
	t.Setenv("CONNECTD_MQTT_USERNAME", "testuser")
	t.Setenv("CONNECTD_MQTT_PASSWORD", "testpass")
	t.Setenv("CONNECTD_API_HOST", "192.168.1.1")
	t.Setenv("CONNECTD_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("CONNECTD_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	checks := []struct {
		field, got, want string
	}{
		{"Controller.Host", cfg.Controller.Host, "10.0.0.2"},
		{"Controller.Username", cfg.Controller.Username, "svc"},
		{"Controller.Password", cfg.Controller.Password, "pw"},
		{"Controller.Site", cfg.Controller.Site, "branch"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
	if !cfg.Controller.VerifyTLS {
		t.Error("Controller.VerifyTLS = false, want true")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Polling.Interval != 5 {
		t.Errorf("defaultConfig Polling.Interval = %d, want 5", cfg.Polling.Interval)
	}
	if cfg.Polling.RemoveAfterMisses != 0 {
		t.Errorf("defaultConfig Polling.RemoveAfterMisses = %d, want 0", cfg.Polling.RemoveAfterMisses)
	}
	if cfg.Controller.Site != "default" {
		t.Errorf("defaultConfig Controller.Site = %q, want default", cfg.Controller.Site)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Database.Enabled || cfg.MQTT.Enabled || cfg.InfluxDB.Enabled || cfg.Tracing.Enabled {
		t.Error("optional integrations should be disabled by default")
	}
}
