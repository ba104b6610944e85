package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()
	options := Default()
	require.NoError(t, options.Validate())
	addr, err := options.ListenAddr()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8305", addr.String())
	require.Equal(t, 512, options.Backlog)
	require.Equal(t, 4096, options.ChunkSize)
	require.Equal(t, 20*1024*1024, options.MaxBufferSize)
	require.Equal(t, 2*time.Second, time.Duration(options.CloseTimeout))
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{
  "listen": "0.0.0.0",
  "port": 9000,
  "close_timeout": "500ms",
  "max_connections": 64,
  "accept_rate": 100.5,
  "accept_burst": 10
}`)
	options, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", options.Listen)
	require.EqualValues(t, 9000, options.Port)
	require.Equal(t, 500*time.Millisecond, time.Duration(options.CloseTimeout))
	require.Equal(t, 64, options.MaxConnections)
	require.Equal(t, 100.5, options.AcceptRate)
	require.Equal(t, 10, options.AcceptBurst)
	require.Equal(t, 512, options.Backlog)
	require.NoError(t, options.Validate())
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
listen: "::1"
port: 8400
chunk_size: 1024
max_buffer_size: 65536
close_timeout: 3s
metrics_listen: 127.0.0.1:9100
log_level: debug
`)
	options, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "::1", options.Listen)
	require.EqualValues(t, 8400, options.Port)
	require.Equal(t, 1024, options.ChunkSize)
	require.Equal(t, 65536, options.MaxBufferSize)
	require.Equal(t, 3*time.Second, time.Duration(options.CloseTimeout))
	require.Equal(t, "127.0.0.1:9100", options.MetricsListen)
	require.Equal(t, "debug", options.LogLevel)
	require.NoError(t, options.Validate())
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "bad.json", `{"close_timeout": 2}`))
	require.Error(t, err)

	_, err = Load(writeFile(t, "bad.yml", "close_timeout: soon\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	options := Default()
	options.Listen = "localhost"
	options.ChunkSize = 0
	options.MaxConnections = -1
	options.LogLevel = "loud"
	err := options.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse listen address")
	require.Contains(t, err.Error(), "chunk_size")
	require.Contains(t, err.Error(), "max_connections")
	require.Contains(t, err.Error(), "log_level")
}
