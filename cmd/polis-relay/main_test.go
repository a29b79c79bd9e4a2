package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-relay/pkg/config"
	"github.com/polisai/polis-relay/pkg/server"
)

func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()
	assert.Equal(t, "polis-relay", cmd.Use)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "example-config")

	for _, flag := range []string{"config", "log-level", "log-format", "otlp-endpoint", "otlp-insecure", "watch"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestParseCLIConfig(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected *CLIConfig
	}{
		{
			name: "default values",
			args: nil,
			expected: &CLIConfig{
				LogLevel:  defaultLogLevel,
				LogFormat: defaultLogFormat,
			},
		},
		{
			name: "all flags",
			args: []string{"-c", "/etc/relay.toml", "-l", "debug", "--log-format", "text", "--otlp-endpoint", "otel:4317", "--otlp-insecure", "--watch"},
			expected: &CLIConfig{
				Config:       "/etc/relay.toml",
				LogLevel:     "debug",
				LogFormat:    "text",
				OTLPEndpoint: "otel:4317",
				OTLPInsecure: true,
				Watch:        true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))

			cfg, err := parseCLIConfig(cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg)
		})
	}
}

func TestExampleConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"example-config", "-o", path})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.ExampleYAML, string(data))
	assert.Contains(t, out.String(), path)
}

func TestStartServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv, errCh, err := startServer("127.0.0.1:0", handler, logger)
	require.NoError(t, err)
	assert.Greater(t, srv.WriteTimeout, server.DefaultDispatchTimeout)

	require.NoError(t, srv.Shutdown(context.Background()))
	_, open := <-errCh
	assert.False(t, open, "serve goroutine exits cleanly after shutdown")
}

func TestStartServer_BindError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, _, err := startServer("256.0.0.1:0", http.NotFoundHandler(), logger)
	assert.Error(t, err)
}
