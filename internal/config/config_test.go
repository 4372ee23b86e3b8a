package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStationTemplateLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := WriteTemplate(path, "station", false); err != nil {
		t.Fatalf("WriteTemplate: %v", err)
	}
	cfg, err := LoadStationConfig(path)
	if err != nil {
		t.Fatalf("LoadStationConfig: %v", err)
	}
	if cfg.Port != 8750 || cfg.HeartbeatTimeout.Duration != 250*time.Millisecond {
		t.Fatalf("template defaults wrong: %+v", cfg)
	}
	if !cfg.RequireHello {
		t.Fatalf("template must require hello")
	}

	if err := WriteTemplate(path, "station", false); err == nil {
		t.Fatalf("overwrite without force should fail")
	}
	if err := WriteTemplate(path, "station", true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}
}

func TestDriverTemplateLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	if err := WriteTemplate(path, "driver", false); err != nil {
		t.Fatalf("WriteTemplate: %v", err)
	}
	cfg, err := LoadDriverConfig(path)
	if err != nil {
		t.Fatalf("LoadDriverConfig: %v", err)
	}
	if cfg.ClientID != "driver" || cfg.HelloRetryInterval.Duration != time.Second {
		t.Fatalf("template defaults wrong: %+v", cfg)
	}
}

func TestUnknownTemplateKind(t *testing.T) {
	if _, err := Template("mirage"); err == nil {
		t.Fatalf("unknown kind should fail")
	}
}

func TestAbsentKeysKeepDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.toml")
	if err := os.WriteFile(path, []byte("port = 9000\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadStationConfig(path)
	if err != nil {
		t.Fatalf("LoadStationConfig: %v", err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("explicit port lost: %d", cfg.Port)
	}
	if !cfg.RequireHello || cfg.StatusInterval.Duration != 100*time.Millisecond {
		t.Fatalf("absent keys must keep defaults: %+v", cfg)
	}
}

func TestDriverConfigCreatedOnFirstLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	cfg, err := LoadDriverConfig(path)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if cfg.ServerPort != 8750 {
		t.Fatalf("defaults wrong: %+v", cfg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("settings file not written: %v", err)
	}
	if !strings.Contains(string(data), "heartbeat_interval") {
		t.Fatalf("written settings missing interval field:\n%s", data)
	}

	// round trip through save/load
	cfg.ClientID = "pit-display"
	cfg.HeartbeatInterval = Duration{50 * time.Millisecond}
	if err := SaveDriverConfig(path, cfg); err != nil {
		t.Fatalf("SaveDriverConfig: %v", err)
	}
	again, err := LoadDriverConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.ClientID != "pit-display" || again.HeartbeatInterval.Duration != 50*time.Millisecond {
		t.Fatalf("round trip lost edits: %+v", again)
	}
}

func TestValidateStationConfig(t *testing.T) {
	base := DefaultStationConfig()

	bad := base
	bad.Port = 0
	if err := ValidateStationConfig(bad); err == nil {
		t.Fatalf("zero port should fail")
	}

	bad = base
	bad.Backend = "pixels"
	if err := ValidateStationConfig(bad); err == nil {
		t.Fatalf("unknown backend should fail")
	}

	bad = base
	bad.Backend = "fms"
	bad.FMS.TeamID = 0
	if err := ValidateStationConfig(bad); err == nil {
		t.Fatalf("fms without team_id should fail")
	}

	bad = base
	bad.Backend = "fms"
	bad.FMS.AllianceStation = "Z9"
	if err := ValidateStationConfig(bad); err == nil {
		t.Fatalf("bad alliance station should fail")
	}

	bad = base
	bad.Backend = "script"
	if err := ValidateStationConfig(bad); err == nil {
		t.Fatalf("script backend with no commands should fail")
	}

	good := base
	good.Backend = "fms"
	if err := ValidateStationConfig(good); err != nil {
		t.Fatalf("valid fms config rejected: %v", err)
	}

	good = base
	good.Backend = "script"
	good.Script.Disable = []string{"/usr/local/bin/robot-disarm"}
	if err := ValidateStationConfig(good); err != nil {
		t.Fatalf("valid script config rejected: %v", err)
	}
}

func TestValidateDriverConfig(t *testing.T) {
	base := DefaultDriverConfig()
	for name, mutate := range map[string]func(*DriverConfig){
		"empty host":    func(c *DriverConfig) { c.ServerHost = " " },
		"bad port":      func(c *DriverConfig) { c.ServerPort = 70000 },
		"no client id":  func(c *DriverConfig) { c.ClientID = "" },
		"zero interval": func(c *DriverConfig) { c.HeartbeatInterval = Duration{} },
	} {
		cfg := base
		mutate(&cfg)
		if err := ValidateDriverConfig(cfg); err == nil {
			t.Fatalf("%s should fail validation", name)
		}
	}
	if err := ValidateDriverConfig(base); err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}
}
