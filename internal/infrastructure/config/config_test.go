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
gateway:
  address: "10.0.0.5"
  poll_interval: 10s
  poll_policy: oneshot
devices:
  - name: hall
    kind: light
    mac: FFFF301B977B24F4
    position: 1
    mac2: FFFF301B977B24F5
    position2: 2
  - name: lounge-curtain
    kind: curtain
    mac: FFFF88571DE7E9D9
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "localhost"
    port: 1883
  qos: 1
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Gateway.Address != "10.0.0.5" {
		t.Errorf("Gateway.Address = %q, want %q", cfg.Gateway.Address, "10.0.0.5")
	}
	if cfg.Gateway.PollInterval != 10*time.Second {
		t.Errorf("Gateway.PollInterval = %v, want 10s", cfg.Gateway.PollInterval)
	}
	if cfg.Gateway.PollPolicy != "oneshot" {
		t.Errorf("Gateway.PollPolicy = %q, want oneshot", cfg.Gateway.PollPolicy)
	}
	// Untouched keys keep their defaults.
	if cfg.Gateway.CommandTimeout != 2*time.Second {
		t.Errorf("Gateway.CommandTimeout = %v, want 2s", cfg.Gateway.CommandTimeout)
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("len(Devices) = %d, want 2", len(cfg.Devices))
	}
	if cfg.Devices[0].Position2 != 2 || cfg.Devices[1].Kind != KindCurtain {
		t.Errorf("Devices = %+v", cfg.Devices)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
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

func TestLoad_HostnameRejected(t *testing.T) {
	_, err := Load(writeConfig(t, "gateway:\n  address: gateway.local\n"))
	if err == nil {
		t.Fatal("Load() expected error for hostname gateway address")
	}
	if !strings.Contains(err.Error(), "gateway.address") {
		t.Errorf("error = %v, want gateway.address mention", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Devices = []DeviceConfig{
			{Name: "hall", Kind: KindLight, MAC: "FFFF301B977B24F4", Position: 1},
			{Name: "blind", Kind: KindCurtain, MAC: "FFFF88571DE7E9D9"},
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "ipv6 gateway", mutate: func(c *Config) { c.Gateway.Address = "fe80::1" }},
		{
			name:    "missing gateway",
			mutate:  func(c *Config) { c.Gateway.Address = "" },
			wantErr: "gateway.address is required",
		},
		{
			name:    "gateway not an IP",
			mutate:  func(c *Config) { c.Gateway.Address = "192.168.88" },
			wantErr: "not a valid IP",
		},
		{
			name:    "command port out of range",
			mutate:  func(c *Config) { c.Gateway.CommandPort = 70000 },
			wantErr: "gateway.command_port",
		},
		{
			name:    "unknown poll policy",
			mutate:  func(c *Config) { c.Gateway.PollPolicy = "never" },
			wantErr: "gateway.poll_policy",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Gateway.PollInterval = 0 },
			wantErr: "poll_interval",
		},
		{
			name:    "duplicate device name",
			mutate:  func(c *Config) { c.Devices[1].Name = "hall" },
			wantErr: "duplicated",
		},
		{
			name:    "short mac",
			mutate:  func(c *Config) { c.Devices[0].MAC = "AABB" },
			wantErr: "16 hex characters",
		},
		{
			name:    "light without position",
			mutate:  func(c *Config) { c.Devices[0].Position = 0 },
			wantErr: "position must be at least 1",
		},
		{
			name: "paired key without position",
			mutate: func(c *Config) {
				c.Devices[0].MAC2 = "FFFF301B977B24F5"
			},
			wantErr: "position2",
		},
		{
			name:    "unknown kind",
			mutate:  func(c *Config) { c.Devices[0].Kind = "fan" },
			wantErr: "must be light or curtain",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name: "api port ignored when disabled",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
		},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Gateway.Address = ""
	cfg.Database.Path = ""
	cfg.MQTT.QoS = 5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"gateway.address", "database.path", "mqtt.qos"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestValidMAC(t *testing.T) {
	tests := []struct {
		mac  string
		want bool
	}{
		{"FFFF301B977B24F4", true},
		{"ffff301b977b24f4", true},
		{"FFFF301B977B24F", false},
		{"FFFF301B977B24G4", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidMAC(tt.mac); got != tt.want {
			t.Errorf("ValidMAC(%q) = %v, want %v", tt.mac, got, tt.want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{API: APIConfig{Timeouts: APITimeoutConfig{Read: 30, Write: 15, Idle: 60}}}

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 15*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 15s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("YUNMAO_GATEWAY_ADDRESS", "10.1.1.1")
	t.Setenv("YUNMAO_GATEWAY_POLL_POLICY", "always")
	t.Setenv("YUNMAO_DATABASE_PATH", "/custom/path.db")
	t.Setenv("YUNMAO_MQTT_HOST", "mqtt.example.com")
	t.Setenv("YUNMAO_MQTT_USERNAME", "testuser")
	t.Setenv("YUNMAO_MQTT_PASSWORD", "testpass")
	t.Setenv("YUNMAO_API_HOST", "192.168.1.1")
	t.Setenv("YUNMAO_API_PORT", "9090")
	t.Setenv("YUNMAO_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("YUNMAO_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Gateway.Address != "10.1.1.1" {
		t.Errorf("Gateway.Address = %q, want %q", cfg.Gateway.Address, "10.1.1.1")
	}
	if cfg.Gateway.PollPolicy != "always" {
		t.Errorf("Gateway.PollPolicy = %q, want always", cfg.Gateway.PollPolicy)
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.API.Host != "192.168.1.1" || cfg.API.Port != 9090 {
		t.Errorf("API = %s:%d, want 192.168.1.1:9090", cfg.API.Host, cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Gateway.Address != "192.168.88.118" {
		t.Errorf("default Gateway.Address = %q", cfg.Gateway.Address)
	}
	if cfg.Gateway.CommandPort != 8888 || cfg.Gateway.PushPort != 21688 {
		t.Errorf("default ports = %d/%d, want 8888/21688", cfg.Gateway.CommandPort, cfg.Gateway.PushPort)
	}
	if cfg.Gateway.PushAddress() != "0.0.0.0:21688" {
		t.Errorf("PushAddress() = %q", cfg.Gateway.PushAddress())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate: %v", err)
	}
}
