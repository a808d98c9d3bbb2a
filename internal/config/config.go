package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AaronLay10/SentientLock/internal/lock"
)

const (
	defaultUIPort       = 8080
	defaultMQTTURL      = "tcp://localhost:1883"
	defaultPuzzleLength = 4
	defaultHeartbeatSec = 5
)

// SessionConfig is the v1 session.yaml schema shared by host and peers.
type SessionConfig struct {
	Version int `yaml:"version"`
	Session struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
		Seed int64  `yaml:"seed"`
	} `yaml:"session"`
	Network struct {
		UIPort       int    `yaml:"ui_port"`
		MQTTURL      string `yaml:"mqtt_url"`
		HostURL      string `yaml:"host_url"`
		HeartbeatSec int    `yaml:"heartbeat_sec"`
	} `yaml:"network"`
	Log     LogConfig      `yaml:"log"`
	Puzzles []PuzzleConfig `yaml:"puzzles"`
}

// LogConfig selects the process logger output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
	File   string `yaml:"file"`
}

// PuzzleConfig declares one lock.
type PuzzleConfig struct {
	ID        string      `yaml:"id"`
	Length    int         `yaml:"length"`
	Operators []lock.Role `yaml:"operators"`
	// Seed overrides the seed derived from the session seed when non-nil.
	Seed *uint64 `yaml:"seed,omitempty"`
}

// UnmarshalYAML defaults Length only when the key is absent, so an explicit
// zero is still rejected by validation.
func (p *PuzzleConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain PuzzleConfig
	if err := value.Decode((*plain)(p)); err != nil {
		return err
	}
	if !hasKey(value, "length") {
		p.Length = defaultPuzzleLength
	}
	return nil
}

func hasKey(node *yaml.Node, key string) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}

// UIPort returns the configured UI port, defaulting to 8080 if not set.
func (c *SessionConfig) UIPort() int {
	if c.Network.UIPort == 0 {
		return defaultUIPort
	}
	return c.Network.UIPort
}

// MQTTURL returns the broker URL. MQTT_URL in the environment wins.
func (c *SessionConfig) MQTTURL() string {
	if url := os.Getenv("MQTT_URL"); url != "" {
		return url
	}
	if c.Network.MQTTURL == "" {
		return defaultMQTTURL
	}
	return c.Network.MQTTURL
}

// HostURL returns the orchestrator base URL peers connect to.
func (c *SessionConfig) HostURL() string {
	if c.Network.HostURL == "" {
		return fmt.Sprintf("http://localhost:%d", c.UIPort())
	}
	return c.Network.HostURL
}

// HeartbeatSec returns the peer presence interval in seconds.
func (c *SessionConfig) HeartbeatSec() int {
	if c.Network.HeartbeatSec <= 0 {
		return defaultHeartbeatSec
	}
	return c.Network.HeartbeatSec
}

func LoadSessionConfig(path string) (*SessionConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSessionConfig(b)
}

// ParseSessionConfig decodes, defaults and validates a session.yaml body.
func ParseSessionConfig(b []byte) (*SessionConfig, error) {
	var cfg SessionConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported session.yaml version: %d", cfg.Version)
	}
	if cfg.Session.ID == "" {
		return nil, fmt.Errorf("session.id is required")
	}
	if len(cfg.Puzzles) == 0 {
		return nil, fmt.Errorf("at least one puzzle is required")
	}

	seen := make(map[string]bool, len(cfg.Puzzles))
	for i := range cfg.Puzzles {
		p := &cfg.Puzzles[i]
		if p.ID == "" {
			return nil, fmt.Errorf("puzzles[%d]: id is required", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("puzzles[%d]: duplicate id %s", i, p.ID)
		}
		seen[p.ID] = true

		if p.Length <= 0 {
			return nil, fmt.Errorf("puzzle %s: length must be positive, got %d", p.ID, p.Length)
		}
		if len(p.Operators) == 0 {
			p.Operators = []lock.Role{lock.RoleSecurityGuard}
		}
		for _, r := range p.Operators {
			if !r.IsPlayer() {
				return nil, fmt.Errorf("puzzle %s: operator %q is not a player role", p.ID, r)
			}
		}
	}

	return &cfg, nil
}

// Puzzle returns the puzzle with the given id, or nil.
func (c *SessionConfig) Puzzle(id string) *PuzzleConfig {
	for i := range c.Puzzles {
		if c.Puzzles[i].ID == id {
			return &c.Puzzles[i]
		}
	}
	return nil
}
