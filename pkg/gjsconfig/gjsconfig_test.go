package gjsconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuulab/gjs/pkg/gjsconfig"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gjs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
gearman_servers:
  - "queue1:4730"
  - "queue2:4730"
worker_log_dir: /var/log/gjs
notifications_emails:
  - ops@example.com
notifications_from_address: gjs@example.com
notifications_subject_prefix: "[GJS] "
`)

	cfg, err := gjsconfig.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"queue1:4730", "queue2:4730"}, cfg.GearmanServers)
	assert.Equal(t, "/var/log/gjs", cfg.WorkerLogDir)
	assert.Equal(t, []string{"ops@example.com"}, cfg.NotificationsEmails)
	assert.Equal(t, "gjs@example.com", cfg.NotificationsFromAddress)
	assert.Equal(t, "[GJS] ", cfg.NotificationsSubjectPrefix)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := gjsconfig.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.GearmanServers)
}

func TestValidateRejectsEmptyServerList(t *testing.T) {
	cfg := &gjsconfig.Config{}
	require.Error(t, gjsconfig.Validate(cfg))
}

func TestValidateAcceptsNonEmptyServerList(t *testing.T) {
	cfg := &gjsconfig.Config{GearmanServers: []string{"localhost:4730"}}
	require.NoError(t, gjsconfig.Validate(cfg))
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `worker_log_dir: /from/file`)

	t.Setenv("GJS_WORKER_LOG_DIR", "/from/env")

	cfg, err := gjsconfig.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.WorkerLogDir)
}

func TestLoadWithFlagsOverridesFileAndEnv(t *testing.T) {
	path := writeConfigFile(t, `worker_log_dir: /from/file`)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	gjsconfig.BindFlags(flags)
	require.NoError(t, flags.Set("worker-log-dir", "/from/flag"))

	cfg, err := gjsconfig.LoadWithFlags(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.WorkerLogDir)
}

func TestLoadWithFlagsLeavesUnsetFlagsAlone(t *testing.T) {
	path := writeConfigFile(t, `worker_log_dir: /from/file`)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	gjsconfig.BindFlags(flags)

	cfg, err := gjsconfig.LoadWithFlags(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "/from/file", cfg.WorkerLogDir)
}
