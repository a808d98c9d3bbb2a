package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AaronLay10/SentientLock/internal/lock"
)

const sampleSession = `
version: 1
session:
  id: facility-01
  name: Facility
  seed: 1234
network:
  ui_port: 9090
  mqtt_url: tcp://broker:1883
puzzles:
  - id: vault_door
    length: 3
    operators: [technician]
  - id: lab_door
  - id: server_door
    seed: 77
    operators: [security_guard, technician]
`

func TestParseSessionConfig(t *testing.T) {
	t.Setenv("MQTT_URL", "")
	cfg, err := ParseSessionConfig([]byte(sampleSession))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.Session.ID != "facility-01" || cfg.Session.Seed != 1234 {
		t.Errorf("unexpected session block: %+v", cfg.Session)
	}
	if cfg.UIPort() != 9090 {
		t.Errorf("expected ui port 9090, got %d", cfg.UIPort())
	}
	if cfg.MQTTURL() != "tcp://broker:1883" {
		t.Errorf("unexpected mqtt url %s", cfg.MQTTURL())
	}
	if cfg.HostURL() != "http://localhost:9090" {
		t.Errorf("unexpected host url %s", cfg.HostURL())
	}
	if cfg.HeartbeatSec() != 5 {
		t.Errorf("expected default heartbeat 5, got %d", cfg.HeartbeatSec())
	}
	if len(cfg.Puzzles) != 3 {
		t.Fatalf("expected 3 puzzles, got %d", len(cfg.Puzzles))
	}

	lab := cfg.Puzzle("lab_door")
	if lab == nil {
		t.Fatal("expected lab_door")
	}
	if lab.Length != 4 {
		t.Errorf("expected default length 4, got %d", lab.Length)
	}
	if len(lab.Operators) != 1 || lab.Operators[0] != lock.RoleSecurityGuard {
		t.Errorf("expected default operator security_guard, got %v", lab.Operators)
	}
	if lab.Seed != nil {
		t.Errorf("expected no seed override, got %d", *lab.Seed)
	}

	server := cfg.Puzzle("server_door")
	if server.Seed == nil || *server.Seed != 77 {
		t.Errorf("expected seed override 77, got %v", server.Seed)
	}
	if cfg.Puzzle("missing") != nil {
		t.Error("expected nil for unknown puzzle")
	}
}

func TestParseSessionConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"version", "version: 2\nsession: {id: s}\npuzzles: [{id: a}]", "unsupported"},
		{"session id", "version: 1\npuzzles: [{id: a}]", "session.id"},
		{"no puzzles", "version: 1\nsession: {id: s}", "at least one puzzle"},
		{"puzzle id", "version: 1\nsession: {id: s}\npuzzles: [{length: 2}]", "id is required"},
		{"duplicate", "version: 1\nsession: {id: s}\npuzzles: [{id: a}, {id: a}]", "duplicate"},
		{"zero length", "version: 1\nsession: {id: s}\npuzzles: [{id: a, length: 0}]", "length must be positive"},
		{"negative length", "version: 1\nsession: {id: s}\npuzzles: [{id: a, length: -1}]", "length must be positive"},
		{"bad role", "version: 1\nsession: {id: s}\npuzzles: [{id: a, operators: [none]}]", "not a player role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSessionConfig([]byte(tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestMQTTURLEnvOverride(t *testing.T) {
	cfg, err := ParseSessionConfig([]byte(sampleSession))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	t.Setenv("MQTT_URL", "tcp://override:1883")
	if cfg.MQTTURL() != "tcp://override:1883" {
		t.Errorf("expected env override, got %s", cfg.MQTTURL())
	}
}

func TestLoadSessionConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	if err := os.WriteFile(path, []byte(sampleSession), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSessionConfig(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := LoadSessionConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestExampleSessionFile(t *testing.T) {
	cfg, err := LoadSessionConfig(filepath.Join("..", "..", "session.yaml"))
	if err != nil {
		t.Fatalf("example session.yaml: %v", err)
	}
	if len(cfg.Puzzles) == 0 {
		t.Fatal("example session declares no puzzles")
	}
	if p := cfg.Puzzle("loading_bay"); p == nil || len(p.Operators) != 2 {
		t.Errorf("expected loading_bay with two operators, got %+v", p)
	}
}
