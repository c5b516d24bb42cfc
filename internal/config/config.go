// Package config assembles the run configuration from defaults, an optional
// YAML or JSON file and LECKER_* environment variables. Command line flags are
// applied last by the caller.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	yaml "gopkg.in/yaml.v3"

	"lecker/internal/pipeline"
)

// Config is the resolved run configuration.
type Config struct {
	Pipeline pipeline.Config
	Format   string
	Output   string
	Verbose  bool
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Pipeline: pipeline.DefaultConfig(),
		Format:   "markdown",
	}
}

// Duration is a time.Duration written as a string such as "500ms" or "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// FileConfig represents the configuration file schema.
type FileConfig struct {
	Verbose bool `yaml:"verbose" json:"verbose"`

	Browser struct {
		Headless          *bool    `yaml:"headless" json:"headless"`
		Proxy             string   `yaml:"proxy" json:"proxy"`
		FallbackProxy     string   `yaml:"fallbackProxy" json:"fallbackProxy"`
		Bin               string   `yaml:"bin" json:"bin"`
		ControlURL        string   `yaml:"controlURL" json:"controlURL"`
		Width             int      `yaml:"width" json:"width"`
		Height            int      `yaml:"height" json:"height"`
		UserAgent         string   `yaml:"userAgent" json:"userAgent"`
		NavigationTimeout Duration `yaml:"navigationTimeout" json:"navigationTimeout"`
	} `yaml:"browser" json:"browser"`

	Settle struct {
		QuietWindow    Duration `yaml:"quietWindow" json:"quietWindow"`
		SampleInterval Duration `yaml:"sampleInterval" json:"sampleInterval"`
		StableSamples  int      `yaml:"stableSamples" json:"stableSamples"`
		Timeout        Duration `yaml:"timeout" json:"timeout"`
	} `yaml:"settle" json:"settle"`

	Extract struct {
		MinTextLength int      `yaml:"minTextLength" json:"minTextLength"`
		DepthPenalty  *float64 `yaml:"depthPenalty" json:"depthPenalty"`
		SiblingRatio  float64  `yaml:"siblingRatio" json:"siblingRatio"`
		Selector      string   `yaml:"selector" json:"selector"`
	} `yaml:"extract" json:"extract"`

	Retry struct {
		Retries    *int     `yaml:"retries" json:"retries"`
		Backoff    Duration `yaml:"backoff" json:"backoff"`
		MaxBackoff Duration `yaml:"maxBackoff" json:"maxBackoff"`
	} `yaml:"retry" json:"retry"`

	Output struct {
		Format string `yaml:"format" json:"format"`
		File   string `yaml:"file" json:"file"`
		Engine string `yaml:"engine" json:"engine"`
	} `yaml:"output" json:"output"`
}

// LoadFile reads YAML or JSON into FileConfig.
func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// Apply overlays the values set in the file onto cfg.
func (fc FileConfig) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	p := &cfg.Pipeline
	if fc.Verbose {
		cfg.Verbose = true
	}

	if fc.Browser.Headless != nil {
		p.Browser.Headless = *fc.Browser.Headless
	}
	setString(&p.Browser.ProxyURL, fc.Browser.Proxy)
	setString(&p.FallbackProxy, fc.Browser.FallbackProxy)
	setString(&p.Browser.Bin, fc.Browser.Bin)
	setString(&p.Browser.ControlURL, fc.Browser.ControlURL)
	setString(&p.Browser.UserAgent, fc.Browser.UserAgent)
	setInt(&p.Browser.ViewportWidth, fc.Browser.Width)
	setInt(&p.Browser.ViewportHeight, fc.Browser.Height)
	setDuration(&p.Settle.NavigationTimeout, fc.Browser.NavigationTimeout)

	setDuration(&p.Settle.QuietWindow, fc.Settle.QuietWindow)
	setDuration(&p.Settle.SampleInterval, fc.Settle.SampleInterval)
	setInt(&p.Settle.StableSamples, fc.Settle.StableSamples)
	setDuration(&p.Settle.Timeout, fc.Settle.Timeout)

	setInt(&p.Extract.MinTextLength, fc.Extract.MinTextLength)
	if fc.Extract.DepthPenalty != nil {
		p.Extract.DepthPenalty = *fc.Extract.DepthPenalty
	}
	if fc.Extract.SiblingRatio > 0 {
		p.Extract.SiblingRatio = fc.Extract.SiblingRatio
	}
	setString(&p.Extract.Selector, fc.Extract.Selector)

	if fc.Retry.Retries != nil {
		p.Retries = *fc.Retry.Retries
	}
	setDuration(&p.Backoff, fc.Retry.Backoff)
	setDuration(&p.MaxBackoff, fc.Retry.MaxBackoff)

	setString(&cfg.Format, fc.Output.Format)
	setString(&cfg.Output, fc.Output.File)
	setString(&p.Engine, fc.Output.Engine)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}
