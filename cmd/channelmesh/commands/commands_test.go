package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roster = `
agents:
  - name: researcher
    description: Finds facts
    instructions: You research topics.
  - name: analyst
    description: Interprets findings
    instructions: You analyze.
channels:
  - id: general
    users: [alice]
    agents: [researcher, analyst]
`

func setupEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("STORE", "memory")
	t.Setenv("AI_PROVIDER", "scripted")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("REDIS_URL", "")
	t.Setenv("ROSTER_FILE", "")

	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(roster), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSeed(t *testing.T) {
	path := setupEnv(t)

	out, err := run(t, "seed", path)
	require.NoError(t, err)
	assert.Contains(t, out, "agents created: 2, skipped: 0, memberships: 3")
}

func TestSeed_MissingFile(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "seed", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTrigger(t *testing.T) {
	path := setupEnv(t)

	out, err := run(t, "trigger", "--roster", path, "--user", "alice", "@analyst", "what", "now?")
	require.NoError(t, err)
	assert.Contains(t, out, "[alice] @analyst what now?")
	assert.Contains(t, out, "[analyst] Mock response to:")
}

func TestTrigger_NoMention(t *testing.T) {
	path := setupEnv(t)

	out, err := run(t, "trigger", "--roster", path, "hello everyone")
	require.NoError(t, err)
	assert.Contains(t, out, "no channel agent was mentioned")
}

func TestInvalidConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("STORE", "mongo")

	_, err := run(t, "trigger", "hi")
	assert.ErrorContains(t, err, "unknown STORE")
}
