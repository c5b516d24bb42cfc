package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv overlays LECKER_* environment variables onto cfg. getenv is
// usually os.Getenv. Malformed values are reported, not ignored.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if cfg == nil {
		return nil
	}
	p := &cfg.Pipeline

	setString(&p.Browser.ProxyURL, getenv("LECKER_PROXY"))
	setString(&p.FallbackProxy, getenv("LECKER_FALLBACK_PROXY"))
	setString(&p.Browser.Bin, getenv("LECKER_BROWSER_BIN"))
	setString(&p.Browser.ControlURL, getenv("LECKER_CONTROL_URL"))
	setString(&p.Browser.UserAgent, getenv("LECKER_USER_AGENT"))
	setString(&p.Engine, getenv("LECKER_ENGINE"))
	setString(&cfg.Format, getenv("LECKER_FORMAT"))

	if v := strings.TrimSpace(getenv("LECKER_HEADLESS")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LECKER_HEADLESS: %w", err)
		}
		p.Browser.Headless = b
	}
	if v := strings.TrimSpace(getenv("LECKER_VERBOSE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LECKER_VERBOSE: %w", err)
		}
		cfg.Verbose = b
	}
	if v := strings.TrimSpace(getenv("LECKER_RETRIES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("LECKER_RETRIES: invalid value %q", v)
		}
		p.Retries = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"LECKER_TIMEOUT", &p.Settle.NavigationTimeout},
		{"LECKER_SETTLE_TIMEOUT", &p.Settle.Timeout},
		{"LECKER_QUIET_WINDOW", &p.Settle.QuietWindow},
	}
	for _, d := range durations {
		v := strings.TrimSpace(getenv(d.key))
		if v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = dur
	}
	return nil
}
