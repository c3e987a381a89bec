// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shoutTemplate = `
name: shout
inputs:
  - channel: words
    type: string
outputs:
  - channel: loud
    type: string
steps:
  - name: upper
    command: echo {{.words}} | tr a-z A-Z
    inputs:
      - channel: words
        type: string
    outputs:
      - channel: loud
        type: string
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	tmpl := writeFile(t, dir, "shout.yaml", shoutTemplate)
	inputs := writeFile(t, dir, "inputs.yaml", "words: [a, b]\n")

	out, err := execute(t, "validate", tmpl, "--inputs", inputs)
	require.NoError(t, err)
	assert.Contains(t, out, "shout: ok")

	bad := writeFile(t, dir, "bad.yaml", "oops: [1]\n")
	_, err = execute(t, "validate", tmpl, "--inputs", bad)
	assert.Error(t, err)
}

func TestRunCommand_Local(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "loom.yaml", fmt.Sprintf(`
engine:
  heartbeat_interval: 1s
  sweep_interval: 1s
dispatcher:
  type: local
  max_concurrent: 2
  working_root: %s
logging:
  level: error
`, filepath.Join(dir, "work")))
	tmpl := writeFile(t, dir, "shout.yaml", shoutTemplate)
	inputs := writeFile(t, dir, "inputs.yaml", "words: [ab, cd]\n")

	out, err := execute(t, "run", "--config", cfg, "--template", tmpl, "--inputs", inputs)
	require.NoError(t, err, out)
	assert.Contains(t, out, "(shout): succeeded")
	assert.Contains(t, out, "= AB")
	assert.Contains(t, out, "= CD")
}

func TestRunCommand_FailedRun(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "loom.yaml", fmt.Sprintf(`
engine:
  retries: {system: 0, analysis: 0, timeout: 0}
dispatcher:
  working_root: %s
logging:
  level: error
`, filepath.Join(dir, "work")))
	tmpl := writeFile(t, dir, "fail.yaml", `
name: broken
command: exit 3
outputs:
  - channel: out
    type: string
`)

	out, err := execute(t, "run", "-c", cfg, "-t", tmpl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, out, "(analysis)")
}

func TestRunCommand_RequiresTemplate(t *testing.T) {
	_, err := execute(t, "run")
	assert.Error(t, err)
}
