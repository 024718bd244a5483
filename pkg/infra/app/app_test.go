package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/pkg/app/cliflag"
)

type testSection struct {
	Addr    string        `mapstructure:"addr"`
	TopK    int           `mapstructure:"top-k"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type testOptions struct {
	Server    *testSection `mapstructure:"server"`
	completed bool
	validErr  error
}

func newTestOptions() *testOptions {
	return &testOptions{Server: &testSection{Addr: ":8080", TopK: 5, Timeout: time.Second}}
}

func (o *testOptions) Flags() (fss cliflag.NamedFlagSets) {
	fs := fss.FlagSet("server")
	fs.StringVar(&o.Server.Addr, "server.addr", o.Server.Addr, "addr")
	fs.IntVar(&o.Server.TopK, "server.top-k", o.Server.TopK, "top k")
	fs.DurationVar(&o.Server.Timeout, "server.timeout", o.Server.Timeout, "timeout")
	return fss
}

func (o *testOptions) Complete() error { o.completed = true; return nil }
func (o *testOptions) Validate() error { return o.validErr }

func runApp(t *testing.T, opts *testOptions, args ...string) error {
	t.Helper()
	a := NewApp(WithName("rag-test"), WithOptions(opts), WithNoVersion(), WithSilence(),
		WithRunFunc(func() error { return nil }))
	a.Command().SetArgs(args)
	return a.Command().Execute()
}

func TestConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "rag-test.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("server:\n  addr: ${RAG_TEST_HOST}:9000\n  top-k: 7\n  timeout: 3s\n"), 0o600))

	t.Setenv("RAG_TEST_HOST", "0.0.0.0")
	t.Setenv("RAG_TEST_SERVER_TOP_K", "9")

	opts := newTestOptions()
	require.NoError(t, runApp(t, opts, "--config", cfg, "--env-file", "", "--server.timeout=10s"))

	assert.True(t, opts.completed)
	// file value with env expansion
	assert.Equal(t, "0.0.0.0:9000", opts.Server.Addr)
	// env over file
	assert.Equal(t, 9, opts.Server.TopK)
	// flag over env and file
	assert.Equal(t, 10*time.Second, opts.Server.Timeout)
}

func TestDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("RAG_TEST_SERVER_ADDR=:7070\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("RAG_TEST_SERVER_ADDR") })

	opts := newTestOptions()
	require.NoError(t, runApp(t, opts, "--env-file", envFile))
	assert.Equal(t, ":7070", opts.Server.Addr)
}

func TestValidateErrorStopsRun(t *testing.T) {
	opts := newTestOptions()
	opts.validErr = errors.New("bad options")
	err := runApp(t, opts, "--env-file", "")
	assert.EqualError(t, err, "bad options")
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "SENTINEL_RAG", EnvPrefix("sentinel-rag"))
}
