package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandStructure(t *testing.T) {
	cmd := newRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"serve", "detect", "escalate", "allocate", "iocs"} {
		assert.True(t, names[want], "missing command %s", want)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("json"))
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	logs := filepath.Join(dir, "logs")
	require.NoError(t, os.MkdirAll(logs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(logs, "sys.log"), []byte(
		"2026-03-10T08:00:00Z sudo: eve : TTY=pts/3 ; PWD=/ ; USER=root ; COMMAND=/usr/bin/nc -l 4444\n"), 0o644))
	path := filepath.Join(dir, "socwatch.yaml")
	cfg := "database:\n  dsn: " + filepath.Join(dir, "soc.db") + "\nlogs:\n  dir: " + logs + "\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestDetectThenAllocate(t *testing.T) {
	path := writeConfig(t)

	out := run(t, "--config", path, "detect")
	ids := strings.Fields(out)
	require.Len(t, ids, 1)
	assert.True(t, strings.HasSuffix(ids[0], "-0001"))

	assert.Empty(t, strings.TrimSpace(run(t, "--config", path, "detect")), "second pass admits nothing")

	out = run(t, "--config", path, "--json", "allocate")
	var alloc map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &alloc))
	assert.True(t, strings.HasSuffix(alloc["incident_id"], "-0002"))

	out = run(t, "--config", path, "--json", "escalate")
	var pass map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &pass))
	assert.Equal(t, 1, pass["evaluated"])
}

func TestIOCsCommand(t *testing.T) {
	path := writeConfig(t)
	fail := "sshd[4]: Failed password for root from 198.51.100.7 port 22 ssh2\n"
	auth := "2026-03-10T08:00:00Z " + fail + "2026-03-10T08:00:01Z " + fail + "2026-03-10T08:00:02Z " + fail +
		"2026-03-10T08:05:00Z sshd[5]: Accepted password for svc_backup from 192.0.2.4 port 22 ssh2\n"
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "logs", "auth.log"), []byte(auth), 0o644))

	out := run(t, "--config", path, "--json", "iocs")
	var iocs map[string][]string
	require.NoError(t, json.Unmarshal([]byte(out), &iocs))
	assert.Equal(t, []string{"198.51.100.7"}, iocs["attacker_ips"])
	assert.Equal(t, []string{"svc_backup"}, iocs["compromised_users"])
	assert.Equal(t, []string{"192.0.2.4", "198.51.100.7"}, iocs["targets"])

	ids := strings.Fields(run(t, "--config", path, "detect"))
	assert.Len(t, ids, 2, "listing iocs admits nothing")
}

func TestCommandFailsOnBadConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "allocate"})
	cmd.SetOut(&bytes.Buffer{})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}
