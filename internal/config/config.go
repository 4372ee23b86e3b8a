// Package config loads and validates the TOML configuration for both
// dsctl roles: the station server and the driver client.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/frclink/dsctl/internal/actuate"
	"github.com/frclink/dsctl/internal/protocol"
)

// Duration is a time.Duration that reads and writes as a TOML string
// like "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// StationConfig configures the control server.
type StationConfig struct {
	Host             string   `toml:"host"`
	Port             int      `toml:"port"`
	HeartbeatTimeout Duration `toml:"heartbeat_timeout"`
	StatusInterval   Duration `toml:"status_interval"`
	LogStatusEvery   Duration `toml:"log_status_every"`
	RequireHello     bool     `toml:"require_hello"`
	Secret           string   `toml:"secret"`
	Backend          string   `toml:"backend"`

	FMS     FMSSection     `toml:"fms"`
	Script  ScriptSection  `toml:"script"`
	Monitor MonitorSection `toml:"monitor"`
	Detect  DetectSection  `toml:"detect"`
	Log     LogSection     `toml:"log"`
}

type ScriptSection struct {
	Enable  []string `toml:"enable"`
	Disable []string `toml:"disable"`
	EStop   []string `toml:"estop"`
	SetMode []string `toml:"set_mode"`
	Timeout Duration `toml:"timeout"`
}

type FMSSection struct {
	TeamID          int    `toml:"team_id"`
	AllianceStation string `toml:"alliance_station"`
	DSAddress       string `toml:"ds_address"`
}

type MonitorSection struct {
	Addr        string   `toml:"addr"` // empty disables the monitor surface
	CorsOrigins []string `toml:"cors_origins"`
}

type DetectSection struct {
	StateFile string `toml:"state_file"` // empty disables the detection source
}

type LogSection struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// DriverConfig is the persisted operator-client settings document.
type DriverConfig struct {
	ServerHost         string   `toml:"server_host"`
	ServerPort         int      `toml:"server_port"`
	ClientID           string   `toml:"client_id"`
	Secret             string   `toml:"secret"`
	HeartbeatInterval  Duration `toml:"heartbeat_interval"`
	HelloRetryInterval Duration `toml:"hello_retry_interval"`
	HandshakeTimeout   Duration `toml:"handshake_timeout"`
}

func DefaultStationConfig() StationConfig {
	return StationConfig{
		Host:             "0.0.0.0",
		Port:             protocol.DefaultPort,
		HeartbeatTimeout: Duration{250 * time.Millisecond},
		StatusInterval:   Duration{100 * time.Millisecond},
		LogStatusEvery:   Duration{5 * time.Second},
		RequireHello:     true,
		Backend:          "log",
		FMS: FMSSection{
			TeamID:          5987,
			AllianceStation: "R1",
			DSAddress:       "127.0.0.1",
		},
		Log: LogSection{Level: "info", MaxSizeMB: 20, MaxBackups: 5, MaxAgeDays: 14},
	}
}

func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		ServerHost:         "127.0.0.1",
		ServerPort:         protocol.DefaultPort,
		ClientID:           "driver",
		HeartbeatInterval:  Duration{100 * time.Millisecond},
		HelloRetryInterval: Duration{time.Second},
		HandshakeTimeout:   Duration{time.Second},
	}
}

// LoadStationConfig reads path over the defaults, so absent keys keep
// their default values.
func LoadStationConfig(path string) (StationConfig, error) {
	cfg := DefaultStationConfig()
	if err := loadToml(path, &cfg); err != nil {
		return StationConfig{}, err
	}
	if err := ValidateStationConfig(cfg); err != nil {
		return StationConfig{}, err
	}
	return cfg, nil
}

// LoadDriverConfig reads the settings document. A missing file is not an
// error: defaults are written to path and returned, so the first run
// leaves an editable settings file behind.
func LoadDriverConfig(path string) (DriverConfig, error) {
	cfg := DefaultDriverConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := SaveDriverConfig(path, cfg); err != nil {
			return DriverConfig{}, err
		}
		return cfg, nil
	}
	if err := loadToml(path, &cfg); err != nil {
		return DriverConfig{}, err
	}
	if err := ValidateDriverConfig(cfg); err != nil {
		return DriverConfig{}, err
	}
	return cfg, nil
}

// SaveDriverConfig persists the settings document.
func SaveDriverConfig(path string, cfg DriverConfig) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("config save failed (%s): %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config encode failed (%s): %w", path, err)
	}
	return nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateStationConfig(cfg StationConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("station config port out of range: %d", cfg.Port)
	}
	if cfg.HeartbeatTimeout.Duration <= 0 {
		return fmt.Errorf("station config heartbeat_timeout must be positive")
	}
	if cfg.StatusInterval.Duration <= 0 {
		return fmt.Errorf("station config status_interval must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "log":
	case "fms":
		if cfg.FMS.TeamID <= 0 {
			return fmt.Errorf("station config fms backend requires team_id")
		}
		if _, err := actuate.ParseAlliancePosition(cfg.FMS.AllianceStation); err != nil {
			return fmt.Errorf("station config: %w", err)
		}
	case "script":
		if len(cfg.Script.Enable) == 0 && len(cfg.Script.Disable) == 0 &&
			len(cfg.Script.EStop) == 0 && len(cfg.Script.SetMode) == 0 {
			return fmt.Errorf("station config script backend has no commands configured")
		}
	default:
		return fmt.Errorf("station config unknown backend: %q", cfg.Backend)
	}
	return nil
}

func ValidateDriverConfig(cfg DriverConfig) error {
	if strings.TrimSpace(cfg.ServerHost) == "" {
		return fmt.Errorf("driver config missing server_host")
	}
	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		return fmt.Errorf("driver config server_port out of range: %d", cfg.ServerPort)
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return fmt.Errorf("driver config missing client_id")
	}
	if cfg.HeartbeatInterval.Duration <= 0 {
		return fmt.Errorf("driver config heartbeat_interval must be positive")
	}
	if cfg.HelloRetryInterval.Duration <= 0 {
		return fmt.Errorf("driver config hello_retry_interval must be positive")
	}
	if cfg.HandshakeTimeout.Duration <= 0 {
		return fmt.Errorf("driver config handshake_timeout must be positive")
	}
	return nil
}
