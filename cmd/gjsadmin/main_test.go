package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmdRegistersEverySubcommand(t *testing.T) {
	root := rootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"status", "cancel", "jobs", "unique-jobs", "workers", "version", "shutdown"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestNewClientFailsWithoutConfiguredServers(t *testing.T) {
	cfgFile = ""
	t.Setenv("GJS_GEARMAN_SERVERS", "")
	_, err := newClient()
	require.Error(t, err)
}

func TestShutdownCmdDefaultsGracefulToFalse(t *testing.T) {
	cmd := shutdownCmd()
	graceful, err := cmd.Flags().GetBool("graceful")
	require.NoError(t, err)
	assert.False(t, graceful)
}
