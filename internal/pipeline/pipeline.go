// Package pipeline turns a user supplied address into markdown: normalize,
// acquire a browser session, settle the page, extract the content region and
// serialize it. Navigation and timeout failures are retried with backoff, every
// attempt in a fresh session.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"lecker/internal/browser"
	"lecker/internal/dom"
	"lecker/internal/extractor"
	"lecker/internal/fetcher"
	"lecker/internal/markdown"
	"lecker/internal/normalize"
)

// PartialNotice is prepended to partial results in verbose mode.
const PartialNotice = "> **Note:** the page did not settle before the timeout; the content below may be incomplete.\n\n"

// Request is one fetch.
type Request struct {
	RawInput string
	Verbose  bool
}

// Result is the markdown of a page plus what is known about how it was fetched.
type Result struct {
	Markdown string
	URL      string
	FinalURL string
	Title    string
	Partial  bool
	Attempts int
	Engine   string
	LoadTime time.Duration
}

// Session is a browser tab owned by one attempt.
type Session interface {
	fetcher.Target
	Release()
}

// AcquireFunc opens a new Session.
type AcquireFunc func(ctx context.Context, cfg browser.Config) (Session, error)

// Settler navigates a session and returns the settled snapshot.
type Settler interface {
	AwaitSettled(ctx context.Context, t fetcher.Target, u *url.URL) (*fetcher.Result, error)
}

// Extractor selects the content region of a snapshot.
type Extractor interface {
	Extract(doc *dom.Document) (*dom.Region, error)
}

// Config pipeline configuration
type Config struct {
	Browser browser.Config
	Settle  fetcher.Settings
	Extract extractor.Options
	Engine  string

	// Retries is the number of extra attempts after a navigation or timeout failure.
	Retries    int
	Backoff    time.Duration
	MaxBackoff time.Duration
	// FallbackProxy, when set, is used for every attempt after the first.
	FallbackProxy string
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		Browser:    browser.DefaultConfig(),
		Settle:     fetcher.DefaultSettings(),
		Extract:    extractor.DefaultOptions(),
		Engine:     markdown.DefaultEngine,
		Retries:    2,
		Backoff:    time.Second,
		MaxBackoff: 8 * time.Second,
	}
}

// Option overrides a pipeline dependency.
type Option func(*Pipeline)

// WithAcquire replaces browser session creation.
func WithAcquire(f AcquireFunc) Option { return func(p *Pipeline) { p.acquire = f } }

// WithSettler replaces the settle detector.
func WithSettler(s Settler) Option { return func(p *Pipeline) { p.settler = s } }

// WithExtractor replaces the content extractor.
func WithExtractor(e Extractor) Option { return func(p *Pipeline) { p.extractor = e } }

// WithEngine replaces the markdown engine.
func WithEngine(e markdown.Engine) Option { return func(p *Pipeline) { p.engine = e } }

// Pipeline runs fetch requests.
type Pipeline struct {
	cfg       Config
	log       zerolog.Logger
	acquire   AcquireFunc
	settler   Settler
	extractor Extractor
	engine    markdown.Engine
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a Pipeline wired to a real browser unless options say otherwise.
func New(cfg Config, log zerolog.Logger, opts ...Option) (*Pipeline, error) {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Engine == "" {
		cfg.Engine = markdown.DefaultEngine
	}

	p := &Pipeline{
		cfg:   cfg,
		log:   log.With().Str("component", "pipeline").Logger(),
		sleep: sleep,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.acquire == nil {
		p.acquire = func(ctx context.Context, c browser.Config) (Session, error) {
			s, err := browser.Acquire(ctx, c, log)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	if p.settler == nil {
		p.settler = fetcher.New(cfg.Settle, log)
	}
	if p.extractor == nil {
		p.extractor = extractor.New(cfg.Extract)
	}
	if p.engine == nil {
		e, ok := markdown.Get(cfg.Engine)
		if !ok {
			return nil, fmt.Errorf("unknown markdown engine %q (available: %v)", cfg.Engine, markdown.Names())
		}
		p.engine = e
	}
	return p, nil
}

// Run fetches req and converts the page to markdown. On failure the error is a
// *FetchError and no markdown is returned.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	u, err := normalize.URL(req.RawInput)
	if err != nil {
		return nil, &FetchError{Stage: StageNormalize, Kind: KindInvalidInput, Err: err}
	}
	log := p.log.With().Str("url", u.String()).Logger()

	var lastErr *FetchError
	attempts := p.cfg.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := p.backoff(attempt - 1)
			log.Warn().Err(lastErr.Err).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying")
			if err := p.sleep(ctx, delay); err != nil {
				return nil, &FetchError{Stage: lastErr.Stage, Kind: KindCanceled, URL: u.String(), Attempts: attempt - 1, Err: err}
			}
		}

		result, ferr := p.attempt(ctx, u, req, attempt)
		if ferr == nil {
			result.Attempts = attempt
			log.Debug().Int("attempts", attempt).Bool("partial", result.Partial).Msg("fetch complete")
			return result, nil
		}
		ferr.Attempts = attempt
		lastErr = ferr
		if !ferr.Kind.Retryable() {
			break
		}
	}
	return nil, lastErr
}

// attempt runs one session from acquisition to serialization.
func (p *Pipeline) attempt(ctx context.Context, u *url.URL, req Request, n int) (*Result, *FetchError) {
	cfg := p.cfg.Browser
	if n > 1 && p.cfg.FallbackProxy != "" {
		cfg.ProxyURL = p.cfg.FallbackProxy
	}

	session, err := p.acquire(ctx, cfg)
	if err != nil {
		return nil, p.fail(StageSession, u, err)
	}
	defer session.Release()

	settled, err := p.settler.AwaitSettled(ctx, session, u)
	if err != nil {
		return nil, p.fail(StageSettle, u, err)
	}

	region, err := p.extractor.Extract(settled.Document)
	if err != nil {
		return nil, p.fail(StageExtract, u, err)
	}

	md, err := p.engine.Serialize(region)
	if err != nil {
		return nil, p.fail(StageSerialize, u, err)
	}
	if md == "" {
		return nil, p.fail(StageSerialize, u, fmt.Errorf("%w: content region rendered to empty markdown", extractor.ErrNoContent))
	}
	if settled.Partial && req.Verbose {
		md = PartialNotice + md
	}

	return &Result{
		Markdown: md,
		URL:      u.String(),
		FinalURL: settled.FinalURL,
		Title:    settled.Title,
		Partial:  settled.Partial,
		Engine:   p.engine.Name(),
		LoadTime: settled.LoadTime,
	}, nil
}

func (p *Pipeline) fail(stage Stage, u *url.URL, err error) *FetchError {
	return &FetchError{Stage: stage, Kind: classify(stage, err), URL: u.String(), Err: err}
}

// backoff returns the delay before retry n (1-based).
func (p *Pipeline) backoff(n int) time.Duration {
	d := p.cfg.Backoff
	for i := 1; i < n; i++ {
		d *= 2
		if p.cfg.MaxBackoff > 0 && d >= p.cfg.MaxBackoff {
			return p.cfg.MaxBackoff
		}
	}
	if p.cfg.MaxBackoff > 0 && d > p.cfg.MaxBackoff {
		return p.cfg.MaxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
