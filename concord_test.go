package concord

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-dev/concord/collab"
	"github.com/concord-dev/concord/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "concord.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewManagerFromConfig(t *testing.T) {
	path := writeConfig(t, `
max_rounds: 4
protocol: contract_net
participants:
  - id: boss
    kind: echo
    capabilities: [manage]
  - id: w1
    kind: scripted
    capabilities: [welding]
    replies:
      cfp: proposal
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	mgr, err := NewManager(cfg)
	require.NoError(t, err)
	defer func() { _ = mgr.Memory().Close() }()

	assert.Equal(t, "contract_net", mgr.Protocol().Name())
	assert.Equal(t, collab.StateIdle, mgr.State())
}

func TestNewManagerRejectsInvalidConfig(t *testing.T) {
	cfg := &config.Config{MaxRounds: 10, Protocol: "gossip"}
	_, err := NewManager(cfg)
	assert.ErrorContains(t, err, "invalid config")
}

func TestNewManagerUnknownKind(t *testing.T) {
	path := writeConfig(t, `
participants:
  - id: mystery
    kind: quantum
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	_, err = NewManager(cfg)
	assert.ErrorContains(t, err, "unknown participant kind")
}

func TestRunEndToEnd(t *testing.T) {
	path := writeConfig(t, `
routing:
  keywords:
    echo: [repeat]
participants:
  - id: e1
    kind: echo
    capabilities: [echo]
`)

	res, err := Run(context.Background(), path, "repeat after me")
	require.NoError(t, err)
	assert.Equal(t, collab.StateConverged, res.TerminalState)
	assert.Equal(t, "e1", res.AssignedTo)
	assert.False(t, res.FallbackRouted)
	assert.Equal(t, "repeat after me", res.FinalAnswer)
}
