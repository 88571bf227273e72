package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "copycat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "id: 1\naddress: 127.0.0.1:9001\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "./data", cfg.Directory)
	require.Equal(t, "copycat", cfg.Name)
	require.Equal(t, "ACTIVE", cfg.MemberType)
}

func TestLoadRejectsMissingID(t *testing.T) {
	path := writeConfig(t, "address: 127.0.0.1:9001\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsHeartbeatTooCloseToElectionTimeout(t *testing.T) {
	path := writeConfig(t, "id: 1\naddress: 127.0.0.1:9001\nelectionTimeout: 100ms\nheartbeatInterval: 60ms\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsInvalidMemberType(t *testing.T) {
	path := writeConfig(t, "id: 1\naddress: 127.0.0.1:9001\nmemberType: BOGUS\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestSeedMembersPutsSelfFirstAndExcludesDuplicate(t *testing.T) {
	cfg := Config{
		ID: 1, Address: "a", MemberType: "ACTIVE",
		Members: []Member{{ID: 1, Address: "a"}, {ID: 2, Address: "b", Type: "PASSIVE"}},
	}
	seed := cfg.SeedMembers()
	require.Len(t, seed, 2)
	require.Equal(t, uint32(1), seed[0].ID)
	require.Equal(t, uint32(2), seed[1].ID)
}
