// Package browser owns the lifecycle of headless browser sessions.
//
// Every Session is exclusive to one fetch attempt: it holds its own browser
// process (or an incognito context of a remote browser) and exactly one tab.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrSessionUnavailable is returned when no browser session can be created.
var ErrSessionUnavailable = errors.New("browser session unavailable")

// UnavailableError tells which step of session creation failed.
type UnavailableError struct {
	Step string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSessionUnavailable, e.Step, e.Err)
}

func (e *UnavailableError) Unwrap() []error { return []error{ErrSessionUnavailable, e.Err} }

// DefaultUserAgent is sent unless the config names another one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// hideWebdriverJS keeps pages from detecting the automated browser.
const hideWebdriverJS = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// Config browser configuration
type Config struct {
	Headless bool   // run without a visible window
	ProxyURL string // proxy server, e.g. http://127.0.0.1:7890
	Bin      string // browser binary, empty to auto-detect
	// ControlURL connects to an already running browser instead of launching one.
	ControlURL string

	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
}

// DefaultConfig returns the default session settings.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		ViewportWidth:  1280,
		ViewportHeight: 800,
		UserAgent:      DefaultUserAgent,
	}
}

// Session is one browser tab plus the resources that back it.
type Session struct {
	ID string

	page     *rod.Page
	browser  *rod.Browser // browser or incognito context
	launcher *launcher.Launcher
	log      zerolog.Logger
	once     sync.Once
}

// Page returns the session's tab.
func (s *Session) Page() *rod.Page { return s.page }

// Acquire launches (or connects to) a browser and opens a fresh tab.
func Acquire(ctx context.Context, cfg Config, log zerolog.Logger) (*Session, error) {
	def := DefaultConfig()
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = def.ViewportWidth
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = def.ViewportHeight
	}

	s := &Session{ID: uuid.NewString()}
	s.log = log.With().Str("component", "browser").Str("session", s.ID).Logger()

	if err := s.open(ctx, cfg); err != nil {
		s.Release()
		return nil, err
	}
	s.log.Debug().Bool("headless", cfg.Headless).Str("proxy", cfg.ProxyURL).Msg("session acquired")
	return s, nil
}

func (s *Session) open(ctx context.Context, cfg Config) error {
	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Context(ctx).Headless(cfg.Headless)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		if cfg.ProxyURL != "" {
			l = l.Proxy(cfg.ProxyURL)
		}
		s.launcher = l

		u, err := l.Launch()
		if err != nil {
			return &UnavailableError{Step: "launch", Err: err}
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return &UnavailableError{Step: "connect", Err: err}
	}
	if cfg.ControlURL == "" {
		s.browser = b
	} else {
		// A shared browser is never closed, only the private context.
		incognito, err := b.Incognito()
		if err != nil {
			return &UnavailableError{Step: "incognito", Err: err}
		}
		s.browser = incognito
	}

	page, err := s.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return &UnavailableError{Step: "page", Err: err}
	}
	s.page = page

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.ViewportWidth,
		Height:            cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return &UnavailableError{Step: "viewport", Err: err}
	}
	if cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}); err != nil {
			return &UnavailableError{Step: "user agent", Err: err}
		}
	}
	if _, err := page.EvalOnNewDocument(hideWebdriverJS); err != nil {
		return &UnavailableError{Step: "init script", Err: err}
	}
	return nil
}

// Release closes the tab and the browser behind it. It is safe to call more
// than once and from a deferred call after a failed Acquire.
func (s *Session) Release() {
	s.once.Do(func() {
		// Cleanup must run even when the attempt context is already done.
		ctx := context.Background()
		if s.page != nil {
			if err := s.page.Context(ctx).Close(); err != nil {
				s.log.Debug().Err(err).Msg("close page")
			}
		}
		if s.browser != nil {
			// For an incognito context this disposes the context only.
			if err := s.browser.Context(ctx).Close(); err != nil {
				s.log.Debug().Err(err).Msg("close browser")
			}
		}
		if s.launcher != nil {
			s.launcher.Kill()
			s.launcher.Cleanup()
		}
		s.log.Debug().Msg("session released")
	})
}

// Install makes sure a browser binary is available, downloading one when no
// system browser is found. It returns the binary path.
func Install(ctx context.Context) (string, error) {
	if path, ok := launcher.LookPath(); ok {
		return path, nil
	}
	b := launcher.NewBrowser()
	b.Context = ctx
	path, err := b.Get()
	if err != nil {
		return "", fmt.Errorf("failed to download browser: %w", err)
	}
	return path, nil
}
