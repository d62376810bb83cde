package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveInstancesFromPositionalArg(t *testing.T) {
	cmd := rootCmd()
	n, err := resolveInstances(cmd, []string{"Echo", "3"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestResolveInstancesFromFlag(t *testing.T) {
	cmd := rootCmd()
	require.NoError(t, cmd.Flags().Set("instances", "5"))
	n, err := resolveInstances(cmd, []string{"Echo"})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestResolveInstancesDefaultsToOne(t *testing.T) {
	cmd := rootCmd()
	n, err := resolveInstances(cmd, []string{"Echo"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResolveInstancesRejectsNonInteger(t *testing.T) {
	cmd := rootCmd()
	_, err := resolveInstances(cmd, []string{"Echo", "not-a-number"})
	require.Error(t, err)
}
