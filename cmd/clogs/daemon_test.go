package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPidFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "clogs.pid")

	require.NoError(t, writePidFile(pidFile, os.Getpid()))
	b, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(b))

	require.NoError(t, removePidFile(pidFile))
	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, removePidFile(""))
}

func TestDaemonArgs(t *testing.T) {
	args := []string{"serve", "--daemonize", "--pidfile", "old.pid", "--logfile=old.log", "config.toml"}
	assert.Equal(t,
		[]string{"serve", "config.toml", "--pidfile", "new.pid", "--logfile", "new.log"},
		daemonArgs(args, "new.pid", "new.log"))

	assert.Equal(t, []string{"serve"}, daemonArgs([]string{"serve", "--daemonize=true"}, "", ""))
}
