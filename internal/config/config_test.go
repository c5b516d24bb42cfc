package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func env(values map[string]string) func(string) string {
	return func(k string) string { return values[k] }
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "markdown", cfg.Format)
	assert.Equal(t, 2, cfg.Pipeline.Retries)
	assert.Equal(t, "native", cfg.Pipeline.Engine)
	assert.True(t, cfg.Pipeline.Browser.Headless)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.Settle.QuietWindow)
}

func TestLoadFileYAML(t *testing.T) {
	path := writeFile(t, "lecker.yaml", `
verbose: true
browser:
  headless: false
  proxy: http://127.0.0.1:7890
  width: 1024
  navigationTimeout: 45s
settle:
  quietWindow: 750ms
  timeout: 5s
extract:
  depthPenalty: 0
  selector: article
retry:
  retries: 0
  backoff: 250ms
output:
  format: json
  engine: html-to-markdown
`)
	fc, err := LoadFile(path)
	require.NoError(t, err)

	cfg := Default()
	fc.Apply(&cfg)
	p := cfg.Pipeline

	assert.True(t, cfg.Verbose)
	assert.False(t, p.Browser.Headless)
	assert.Equal(t, "http://127.0.0.1:7890", p.Browser.ProxyURL)
	assert.Equal(t, 1024, p.Browser.ViewportWidth)
	assert.Equal(t, 800, p.Browser.ViewportHeight)
	assert.Equal(t, 45*time.Second, p.Settle.NavigationTimeout)
	assert.Equal(t, 750*time.Millisecond, p.Settle.QuietWindow)
	assert.Equal(t, 5*time.Second, p.Settle.Timeout)
	assert.Equal(t, 0.0, p.Extract.DepthPenalty)
	assert.Equal(t, "article", p.Extract.Selector)
	assert.Equal(t, 0, p.Retries)
	assert.Equal(t, 250*time.Millisecond, p.Backoff)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "html-to-markdown", p.Engine)
}

func TestLoadFileJSON(t *testing.T) {
	path := writeFile(t, "lecker.json", `{"settle": {"stableSamples": 4, "sampleInterval": "100ms"}, "retry": {"retries": 5}}`)
	fc, err := LoadFile(path)
	require.NoError(t, err)

	cfg := Default()
	fc.Apply(&cfg)
	assert.Equal(t, 4, cfg.Pipeline.Settle.StableSamples)
	assert.Equal(t, 100*time.Millisecond, cfg.Pipeline.Settle.SampleInterval)
	assert.Equal(t, 5, cfg.Pipeline.Retries)
	assert.Equal(t, 2, Default().Pipeline.Retries)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "bad.yaml", "settle:\n  timeout: soon\n"))
	assert.ErrorContains(t, err, "parse yaml")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, env(map[string]string{
		"LECKER_PROXY":          "http://proxy:8080",
		"LECKER_HEADLESS":       "false",
		"LECKER_RETRIES":        "4",
		"LECKER_TIMEOUT":        "1m",
		"LECKER_SETTLE_TIMEOUT": "3s",
		"LECKER_ENGINE":         "html-to-markdown",
	}))
	require.NoError(t, err)

	p := cfg.Pipeline
	assert.Equal(t, "http://proxy:8080", p.Browser.ProxyURL)
	assert.False(t, p.Browser.Headless)
	assert.Equal(t, 4, p.Retries)
	assert.Equal(t, time.Minute, p.Settle.NavigationTimeout)
	assert.Equal(t, 3*time.Second, p.Settle.Timeout)
	assert.Equal(t, "html-to-markdown", p.Engine)
}

func TestApplyEnvRejectsMalformedValues(t *testing.T) {
	for key, value := range map[string]string{
		"LECKER_HEADLESS":     "sometimes",
		"LECKER_RETRIES":      "-1",
		"LECKER_QUIET_WINDOW": "500",
	} {
		cfg := Default()
		err := ApplyEnv(&cfg, env(map[string]string{key: value}))
		assert.ErrorContains(t, err, key)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	fc, err := LoadFile(writeFile(t, "c.yml", "browser:\n  proxy: http://file:1\n"))
	require.NoError(t, err)

	cfg := Default()
	fc.Apply(&cfg)
	require.NoError(t, ApplyEnv(&cfg, env(map[string]string{"LECKER_PROXY": "http://env:2"})))
	assert.Equal(t, "http://env:2", cfg.Pipeline.Browser.ProxyURL)
}
