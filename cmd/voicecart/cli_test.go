package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/voicecart/internal/app"
)

func executeCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", stdout)
}

func TestSimulateGuidedCheckout(t *testing.T) {
	stdout, _, err := executeCLI(t, "",
		"simulate", "--oracle-mode", "mock", "--profile-store", "memory",
		"--text", "buy now",
		"--text", "My name is John Smith",
		"--text", "john at gmail dot com",
		"--text", "123 main street springfield",
		"--text", "555 123 4567",
		"--text", "John Smith",
		"--text", "4242 4242 4242 4242",
		"--text", "oh nine twenty nine",
		"--text", "123",
		"--text", "yes",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "says: Let's complete your order. What is your full name?")
	assert.Contains(t, stdout, "command label=order_completion source=override handled=true")
	assert.Contains(t, stdout, "finalized=true")
	assert.Contains(t, stdout, "checkout: step=complete active=false")
	assert.Contains(t, stdout, "order placed")
}

func TestSimulateReadsStdin(t *testing.T) {
	stdout, _, err := executeCLI(t, "checkout\n\nMy name is Ada Lovelace\n",
		"simulate", "--oracle-mode", "mock", "--profile-store", "memory")
	require.NoError(t, err)
	assert.Contains(t, stdout, "> checkout")
	assert.Contains(t, stdout, "says: Thanks. What is your email address?")
	assert.Contains(t, stdout, "checkout: step=email active=true")
}

func TestSimulateRejectsBadConfig(t *testing.T) {
	_, _, err := executeCLI(t, "", "simulate", "--profile-store", "floppy", "--text", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROFILE_STORE")
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	v := viper.New()
	v.AutomaticEnv()
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().String("bind", "", "")
	bindFlags(v, cmd, map[string]string{"APP_BIND_ADDR": "bind"}, false)

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.BindAddr)

	t.Setenv("APP_BIND_ADDR", ":9000")
	cfg, err = loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.BindAddr)

	require.NoError(t, cmd.Flags().Set("bind", ":7000"))
	cfg, err = loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.BindAddr)
}

func TestListenAgainstServer(t *testing.T) {
	v := viper.New()
	v.Set("ORACLE_MODE", "mock")
	v.Set("PROFILE_STORE", "memory")
	cfg, err := loadConfig(v)
	require.NoError(t, err)
	built, err := app.Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = built.Cleanup() })
	ts := httptest.NewServer(built.API.Router())
	t.Cleanup(ts.Close)

	stdout, _, err := executeCLI(t, "",
		"listen", "--base-url", ts.URL, "--settle", (400 * time.Millisecond).String(),
		"--text", "buy now",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "says: Let's complete your order. What is your full name?")
	assert.Contains(t, stdout, "command: order_completion handled=true")
}

func TestWSURLFor(t *testing.T) {
	got, err := wsURLFor("https://shop.example.com", "/v1/voice/session/ws?session_id=abc")
	require.NoError(t, err)
	assert.Equal(t, "wss://shop.example.com/v1/voice/session/ws?session_id=abc", got)

	_, err = wsURLFor("ftp://shop.example.com", "/ws")
	assert.Error(t, err)
}
