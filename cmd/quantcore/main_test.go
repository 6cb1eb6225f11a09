package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/quantcore/internal/codec"
	"github.com/aristath/quantcore/internal/modules/compliance"
	"github.com/aristath/quantcore/internal/pipeline"
	testutil "github.com/aristath/quantcore/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const specYAML = `
universe_id: core
strategy:
  recipe:
    factors:
      momentum:
        enabled: true
        weight: 1
        lookback: 20
    pipeline:
      zscore: true
    combination:
      method: weighted_sum
  method: risk_parity
  constraints:
    max_position: 0.5
    long_only: true
  lookback_days: 40
ruleset_name: long_short_fund
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestIngestThenRun(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("QUANTCORE_DATA_DIR", dataDir)
	t.Setenv("QUANTCORE_LOG_LEVEL", "error")
	t.Setenv("QUANTCORE_WORKER_CAPACITY", "2")

	dir := t.TempDir()
	u := testutil.NewUniverse("core", []string{"A", "B", "C", "D"}, []string{"tech", "energy"})
	universeFile, err := codec.Marshal(codec.YAML, u)
	require.NoError(t, err)
	panelFile, err := codec.Marshal(codec.MsgPack, testutil.TrendingPanel(u, 80, []float64{0.002, 0.001, -0.001, -0.002}))
	require.NoError(t, err)

	_, err = execute(t, "ingest",
		"--universe", writeFile(t, dir, "core.yaml", universeFile),
		"--panel", writeFile(t, dir, "bars.msgpack", panelFile))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dataDir, "market.db"))

	out, err := execute(t, "run", "--spec", writeFile(t, dir, "spec.yaml", []byte(specYAML)))
	require.NoError(t, err)

	var report pipeline.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "core", report.UniverseID)
	assert.Len(t, report.Portfolio.Weights, 4)
	assert.Equal(t, "long_short_fund", report.Compliance.Ruleset)
	assert.NotEmpty(t, report.RunID)
}

func TestRun_InvalidSpecFailsBeforeWiring(t *testing.T) {
	t.Setenv("QUANTCORE_DATA_DIR", t.TempDir())
	dir := t.TempDir()

	_, err := execute(t, "run", "--spec", writeFile(t, dir, "spec.json", []byte(`{"universe_id": ""}`)))
	assert.Error(t, err)

	_, err = execute(t, "run")
	assert.Error(t, err, "--spec is required")
}

func TestIngest_PanelOutsideUniverse(t *testing.T) {
	t.Setenv("QUANTCORE_DATA_DIR", t.TempDir())
	dir := t.TempDir()

	u := testutil.NewUniverse("core", []string{"A"}, []string{"tech"})
	other := testutil.NewUniverse("other", []string{"Z"}, []string{"tech"})
	universeFile, err := codec.Marshal(codec.JSON, u)
	require.NoError(t, err)
	panelFile, err := codec.Marshal(codec.JSON, testutil.FlatPanel(other, 3, 10))
	require.NoError(t, err)

	_, err = execute(t, "ingest",
		"--universe", writeFile(t, dir, "u.json", universeFile),
		"--panel", writeFile(t, dir, "p.json", panelFile))
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	t.Setenv("QUANTCORE_DATA_DIR", t.TempDir())
	t.Setenv("QUANTCORE_LOG_LEVEL", "error")
	dir := t.TempDir()

	request := writeFile(t, dir, "proposal.yaml", []byte(`
proposal:
  weights:
    A: 0.04
    B: 0.03
context: {}
`))

	out, err := execute(t, "check", "--request", request, "--format", "yaml")
	require.NoError(t, err)
	var report compliance.Report
	require.NoError(t, codec.Unmarshal(codec.YAML, []byte(out), &report))
	assert.Equal(t, "long_only_fund", report.Ruleset)
	assert.NotEqual(t, compliance.StatusBlock, report.OverallStatus)

	house := writeFile(t, dir, "house.yaml", []byte(`
name: house
rules:
  - name: max_single_position
    limit: 0.035
`))
	out, err = execute(t, "check", "--request", request, "--ruleset", house)
	assert.ErrorIs(t, err, errBlocked)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "house", report.Ruleset)
	assert.Equal(t, compliance.StatusBlock, report.OverallStatus)
}
