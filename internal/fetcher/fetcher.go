package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"lecker/internal/dom"
)

var (
	// ErrNavigation is returned when the page cannot be loaded.
	ErrNavigation = errors.New("navigation failed")
	// ErrTimeout is returned when navigation does not complete in time.
	ErrTimeout = errors.New("navigation timed out")
)

// NavigationError describes a failed navigation: a network level failure
// (Reason) or an HTTP error status for the main document (Status).
type NavigationError struct {
	URL    string
	Status int
	Reason string
	Err    error
}

func (e *NavigationError) Error() string {
	switch {
	case e.Status >= 400:
		return fmt.Sprintf("%s: %s: status %d", ErrNavigation, e.URL, e.Status)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s: %s", ErrNavigation, e.URL, e.Reason)
	default:
		return fmt.Sprintf("%s: %s: %v", ErrNavigation, e.URL, e.Err)
	}
}

func (e *NavigationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNavigation}
	}
	return []error{ErrNavigation, e.Err}
}

// Settings controls how long the fetcher waits for a page to settle.
type Settings struct {
	// QuietWindow is how long no network request may start before the page counts as idle.
	QuietWindow time.Duration
	// SampleInterval is the period between DOM mutation samples.
	SampleInterval time.Duration
	// StableSamples is how many consecutive equal mutation samples mean a stable DOM.
	StableSamples int
	// Timeout is the settle budget. When it runs out the page is captured as is.
	Timeout time.Duration
	// NavigationTimeout bounds navigation and the load event. A navigation
	// that misses it fails; a load event that misses it marks the result partial.
	NavigationTimeout time.Duration
}

// DefaultSettings returns the default settle thresholds.
func DefaultSettings() Settings {
	return Settings{
		QuietWindow:       500 * time.Millisecond,
		SampleInterval:    250 * time.Millisecond,
		StableSamples:     2,
		Timeout:           15 * time.Second,
		NavigationTimeout: 30 * time.Second,
	}
}

// Target is anything that owns a browser tab, typically a *browser.Session.
type Target interface {
	Page() *rod.Page
}

// Result is a settled page snapshot.
type Result struct {
	Document *dom.Document
	// Partial is set when the load event stalled or the settle budget ran out
	// before the page went quiet.
	Partial  bool
	Status   int
	Title    string
	FinalURL string
	LoadTime time.Duration
}

// Fetcher navigates a tab and waits for its content to settle.
type Fetcher struct {
	settings Settings
	log      zerolog.Logger
}

// New creates a Fetcher. Zero settings fall back to the defaults.
func New(settings Settings, log zerolog.Logger) *Fetcher {
	def := DefaultSettings()
	if settings.QuietWindow <= 0 {
		settings.QuietWindow = def.QuietWindow
	}
	if settings.SampleInterval <= 0 {
		settings.SampleInterval = def.SampleInterval
	}
	if settings.StableSamples <= 0 {
		settings.StableSamples = def.StableSamples
	}
	if settings.Timeout <= 0 {
		settings.Timeout = def.Timeout
	}
	if settings.NavigationTimeout <= 0 {
		settings.NavigationTimeout = def.NavigationTimeout
	}
	return &Fetcher{
		settings: settings,
		log:      log.With().Str("component", "fetcher").Logger(),
	}
}

// statusGrace bounds the wait for the main document response once the page
// has loaded.
const statusGrace = 2 * time.Second

// loader drives the navigation of one tab.
type loader interface {
	Navigate(ctx context.Context, u string) error
	WaitLoad(ctx context.Context) error
	DocumentStatus(ctx context.Context) int
}

// AwaitSettled navigates the target's tab to u, waits until the page is
// settled or the settle budget is spent, and returns a snapshot of the DOM.
func (f *Fetcher) AwaitSettled(ctx context.Context, t Target, u *url.URL) (*Result, error) {
	startTime := time.Now()
	page := t.Page()
	log := f.log.With().Str("url", u.String()).Logger()

	listenCtx, stopListening := context.WithCancel(ctx)
	var g errgroup.Group
	defer func() {
		stopListening()
		_ = g.Wait()
	}()

	probe, err := watch(listenCtx, page, &g)
	if err != nil {
		return nil, &NavigationError{URL: u.String(), Err: err}
	}

	log.Debug().Msg("navigating")
	status, stalled, err := f.load(ctx, probe, u)
	if err != nil {
		return nil, err
	}

	partial, err := f.settle(ctx, probe)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("settle: %w", ctx.Err())
		}
		return nil, &NavigationError{URL: u.String(), Err: err}
	}
	if partial {
		log.Warn().Dur("budget", f.settings.Timeout).Msg("page did not settle, capturing partial content")
	}

	result, err := f.snapshot(ctx, page, u)
	if err != nil {
		return nil, err
	}
	result.Partial = partial || stalled
	result.Status = status
	result.LoadTime = time.Since(startTime)

	log.Debug().
		Int("status", result.Status).
		Bool("partial", result.Partial).
		Dur("load_time", result.LoadTime).
		Msg("page settled")
	return result, nil
}

// load navigates to u and waits for the load event. A load event that does
// not fire before the navigation deadline is not an error: the page is
// captured as is and reported stalled.
func (f *Fetcher) load(ctx context.Context, l loader, u *url.URL) (status int, stalled bool, err error) {
	deadline := time.Now().Add(f.settings.NavigationTimeout)

	navCtx, cancelNav := context.WithDeadline(ctx, deadline)
	err = l.Navigate(navCtx, u.String())
	cancelNav()
	if err != nil {
		return 0, false, f.navigationError(ctx, u, err)
	}

	loadCtx, cancelLoad := context.WithDeadline(ctx, deadline)
	err = l.WaitLoad(loadCtx)
	cancelLoad()
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return 0, false, fmt.Errorf("load %s: %w", u, ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		f.log.Warn().Str("url", u.String()).Dur("timeout", f.settings.NavigationTimeout).
			Msg("load event did not fire, continuing with the rendered page")
		stalled = true
	default:
		return 0, false, f.navigationError(ctx, u, err)
	}

	statusCtx, cancelStatus := context.WithTimeout(ctx, statusGrace)
	status = l.DocumentStatus(statusCtx)
	cancelStatus()
	return status, stalled, statusError(u, status)
}

// statusError reports an HTTP error status of the main document.
func statusError(u *url.URL, status int) error {
	if status >= 400 {
		return &NavigationError{URL: u.String(), Status: status}
	}
	return nil
}

// navigationError classifies an error returned while loading the page.
func (f *Fetcher) navigationError(ctx context.Context, u *url.URL, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("load %s: %w", u, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %s", ErrTimeout, f.settings.NavigationTimeout, u)
	}
	var navErr *rod.NavigationError
	if errors.As(err, &navErr) {
		return &NavigationError{URL: u.String(), Reason: navErr.Reason, Err: err}
	}
	return &NavigationError{URL: u.String(), Err: err}
}

// snapshot marks invisible elements and captures the rendered DOM.
func (f *Fetcher) snapshot(ctx context.Context, page *rod.Page, u *url.URL) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.settings.NavigationTimeout)
	defer cancel()
	p := page.Context(ctx)

	if hidden, err := p.Eval(markHiddenJS); err != nil {
		f.log.Debug().Err(err).Msg("failed to mark hidden elements")
	} else {
		f.log.Debug().Int("hidden", hidden.Value.Int()).Msg("marked hidden elements")
	}

	html, err := p.HTML()
	if err != nil {
		return nil, f.snapshotError(ctx, u, err)
	}
	info, err := p.Info()
	if err != nil {
		return nil, f.snapshotError(ctx, u, err)
	}

	doc, err := dom.Parse(strings.NewReader(html), u)
	if err != nil {
		return nil, &NavigationError{URL: u.String(), Err: err}
	}
	doc.FinalURL = info.URL
	if doc.Title == "" {
		doc.Title = info.Title
	}

	return &Result{
		Document: doc,
		Title:    doc.Title,
		FinalURL: info.URL,
	}, nil
}

func (f *Fetcher) snapshotError(ctx context.Context, u *url.URL, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: snapshot of %s", ErrTimeout, u)
	}
	return f.navigationError(ctx, u, err)
}
