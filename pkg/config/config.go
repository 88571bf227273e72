// Package config loads the node configuration recognized by copycat
// (§6 Configuration): segment sizing, election/heartbeat timing, and seed
// cluster membership, unmarshaled from YAML the way the teacher's apply
// command reads resource manifests.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/copycat/copycat/pkg/types"
)

// Member is one seed entry in the `members` config list.
type Member struct {
	ID      uint32 `yaml:"id"`
	Address string `yaml:"address"`
	Type    string `yaml:"type"` // "ACTIVE" or "PASSIVE"
}

// Config is the on-disk node configuration.
type Config struct {
	Directory            string        `yaml:"directory"`
	Name                 string        `yaml:"name"`
	MaxEntrySize         uint32        `yaml:"maxEntrySize"`
	MaxSegmentSize       uint64        `yaml:"maxSegmentSize"`
	MaxEntriesPerSegment uint32        `yaml:"maxEntriesPerSegment"`
	ElectionTimeout      time.Duration `yaml:"electionTimeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeatInterval"`
	Members              []Member      `yaml:"members"`
	MemberType           string        `yaml:"memberType"`

	ID      uint32 `yaml:"id"`
	Address string `yaml:"address"`
}

func defaults() Config {
	return Config{
		Directory:         "./data",
		Name:              "copycat",
		MaxSegmentSize:    1 << 30,
		ElectionTimeout:   150 * time.Millisecond,
		HeartbeatInterval: 50 * time.Millisecond,
		MemberType:        "ACTIVE",
	}
}

// Load reads and validates a YAML config file at path, filling in
// defaults for anything left zero.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the invariants config values must satisfy before a
// node can safely start.
func (c Config) Validate() error {
	if c.ID == 0 {
		return fmt.Errorf("config: id is required")
	}
	if c.Address == "" {
		return fmt.Errorf("config: address is required")
	}
	if c.ElectionTimeout <= 0 {
		return fmt.Errorf("config: electionTimeout must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: heartbeatInterval must be positive")
	}
	// A heartbeat that arrives too close to (or past) the election
	// timeout makes a follower call a spurious election: §4.3 Leader
	// requires "H < T/2".
	if c.HeartbeatInterval*2 >= c.ElectionTimeout {
		return fmt.Errorf("config: electionTimeout must exceed 2x heartbeatInterval (got electionTimeout=%s heartbeatInterval=%s)", c.ElectionTimeout, c.HeartbeatInterval)
	}
	switch c.MemberType {
	case "ACTIVE", "PASSIVE":
	default:
		return fmt.Errorf("config: memberType must be ACTIVE or PASSIVE, got %q", c.MemberType)
	}
	for _, m := range c.Members {
		switch m.Type {
		case "ACTIVE", "PASSIVE", "":
		default:
			return fmt.Errorf("config: member %d: type must be ACTIVE or PASSIVE, got %q", m.ID, m.Type)
		}
	}
	return nil
}

// ParsedMemberType parses the string MemberType field into types.MemberType.
func (c Config) ParsedMemberType() types.MemberType {
	if c.MemberType == "PASSIVE" {
		return types.MemberPassive
	}
	return types.MemberActive
}

// SeedMembers converts the config's member list (plus self) into the
// types.Member slice a raft.Context is opened with.
func (c Config) SeedMembers() []types.Member {
	out := make([]types.Member, 0, len(c.Members)+1)
	out = append(out, types.Member{ID: c.ID, Address: c.Address, Type: c.ParsedMemberType()})
	for _, m := range c.Members {
		if m.ID == c.ID {
			continue
		}
		t := types.MemberActive
		if m.Type == "PASSIVE" {
			t = types.MemberPassive
		}
		out = append(out, types.Member{ID: m.ID, Address: m.Address, Type: t})
	}
	return out
}
