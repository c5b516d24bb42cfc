package pipeline

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lecker/internal/browser"
	"lecker/internal/dom"
	"lecker/internal/extractor"
	"lecker/internal/fetcher"
	"lecker/internal/normalize"
)

const article = `<html><head><title>Doc</title></head><body>
	<nav><a href="/">Home</a></nav>
	<article><h1>Hello</h1><p>This paragraph is long enough to be picked as the main content, with commas.</p></article>
</body></html>`

type fakeSession struct{ released *int }

func (s *fakeSession) Page() *rod.Page { return nil }
func (s *fakeSession) Release()        { *s.released++ }

// harness records what the pipeline did with its dependencies.
type harness struct {
	mu       sync.Mutex
	acquired []browser.Config
	released int
	acquire  error
	settles  []error // one entry per attempt; nil means success
	partial  bool
	html     string
}

func (h *harness) Acquire(_ context.Context, cfg browser.Config) (Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acquired = append(h.acquired, cfg)
	if h.acquire != nil {
		return nil, h.acquire
	}
	return &fakeSession{released: &h.released}, nil
}

func (h *harness) AwaitSettled(_ context.Context, _ fetcher.Target, u *url.URL) (*fetcher.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := len(h.acquired) - 1
	if i < len(h.settles) && h.settles[i] != nil {
		return nil, h.settles[i]
	}
	html := h.html
	if html == "" {
		html = article
	}
	doc, err := dom.ParseString(html, u)
	if err != nil {
		return nil, err
	}
	return &fetcher.Result{Document: doc, Partial: h.partial, Title: doc.Title, FinalURL: u.String(), Status: 200}, nil
}

func newTestPipeline(t *testing.T, h *harness, mutate func(*Config)) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backoff = time.Millisecond
	cfg.MaxBackoff = 4 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg, zerolog.Nop(), WithAcquire(h.Acquire), WithSettler(h))
	require.NoError(t, err)
	return p
}

func navErr() error {
	return &fetcher.NavigationError{URL: "https://example.com/", Reason: "net::ERR_CONNECTION_RESET"}
}

func TestRunSuccess(t *testing.T) {
	h := &harness{}
	res, err := newTestPipeline(t, h, nil).Run(context.Background(), Request{RawInput: "example.com"})
	require.NoError(t, err)

	assert.Equal(t, "https://example.com", res.URL)
	assert.Equal(t, "Doc", res.Title)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "native", res.Engine)
	assert.True(t, strings.HasPrefix(res.Markdown, "# Hello\n\n"), res.Markdown)
	assert.NotContains(t, res.Markdown, "Home")
	assert.Equal(t, 1, h.released)
}

func TestRunRetriesNavigationFailures(t *testing.T) {
	h := &harness{settles: []error{navErr(), navErr()}}
	res, err := newTestPipeline(t, h, nil).Run(context.Background(), Request{RawInput: "https://example.com/"})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, h.acquired, 3, "every attempt gets its own session")
	assert.Equal(t, 3, h.released)
}

func TestRunRetryBudgetExceeded(t *testing.T) {
	h := &harness{settles: []error{navErr(), navErr(), navErr(), nil}}
	res, err := newTestPipeline(t, h, nil).Run(context.Background(), Request{RawInput: "https://example.com/"})
	assert.Nil(t, res)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StageSettle, fe.Stage)
	assert.Equal(t, KindNavigation, fe.Kind)
	assert.Equal(t, 3, fe.Attempts)
	assert.ErrorIs(t, err, fetcher.ErrNavigation)
	assert.Equal(t, 3, h.released)
}

func TestRunTimeoutIsRetried(t *testing.T) {
	h := &harness{settles: []error{fetcher.ErrTimeout}}
	res, err := newTestPipeline(t, h, nil).Run(context.Background(), Request{RawInput: "https://example.com/"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestRunSessionUnavailableIsNotRetried(t *testing.T) {
	h := &harness{acquire: &browser.UnavailableError{Step: "launch", Err: errors.New("no chrome")}}
	_, err := newTestPipeline(t, h, nil).Run(context.Background(), Request{RawInput: "https://example.com/"})

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StageSession, fe.Stage)
	assert.Equal(t, KindSessionUnavailable, fe.Kind)
	assert.Equal(t, 1, fe.Attempts)
	assert.Len(t, h.acquired, 1)
	assert.Equal(t, 0, h.released)
}

func TestRunInvalidInput(t *testing.T) {
	h := &harness{}
	_, err := newTestPipeline(t, h, nil).Run(context.Background(), Request{RawInput: "ftp://example.com"})

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StageNormalize, fe.Stage)
	assert.Equal(t, KindInvalidInput, fe.Kind)
	assert.ErrorIs(t, err, normalize.ErrInvalidInput)
	assert.Empty(t, h.acquired)
}

func TestRunNoContentReleasesSession(t *testing.T) {
	h := &harness{html: `<html><body><nav>only navigation here, nothing else at all</nav></body></html>`}
	res, err := newTestPipeline(t, h, nil).Run(context.Background(), Request{RawInput: "https://example.com/"})
	assert.Nil(t, res)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StageExtract, fe.Stage)
	assert.Equal(t, KindNoContent, fe.Kind)
	assert.ErrorIs(t, err, extractor.ErrNoContent)
	assert.Equal(t, 1, fe.Attempts)
	assert.Equal(t, 1, h.released)
}

func TestRunPartialNotice(t *testing.T) {
	h := &harness{partial: true}
	p := newTestPipeline(t, h, nil)

	quiet, err := p.Run(context.Background(), Request{RawInput: "https://example.com/"})
	require.NoError(t, err)
	assert.True(t, quiet.Partial)
	assert.False(t, strings.HasPrefix(quiet.Markdown, PartialNotice))

	verbose, err := p.Run(context.Background(), Request{RawInput: "https://example.com/", Verbose: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(verbose.Markdown, PartialNotice))
	assert.Equal(t, quiet.Markdown, strings.TrimPrefix(verbose.Markdown, PartialNotice))
}

func TestRunFallbackProxy(t *testing.T) {
	h := &harness{settles: []error{navErr()}}
	p := newTestPipeline(t, h, func(c *Config) {
		c.Browser.ProxyURL = ""
		c.FallbackProxy = "http://127.0.0.1:7890"
	})
	_, err := p.Run(context.Background(), Request{RawInput: "https://example.com/"})
	require.NoError(t, err)

	require.Len(t, h.acquired, 2)
	assert.Empty(t, h.acquired[0].ProxyURL)
	assert.Equal(t, "http://127.0.0.1:7890", h.acquired[1].ProxyURL)
}

func TestRunCanceledDuringBackoff(t *testing.T) {
	h := &harness{settles: []error{navErr(), navErr(), navErr()}}
	p := newTestPipeline(t, h, func(c *Config) { c.Backoff = time.Hour; c.MaxBackoff = time.Hour })

	ctx, cancel := context.WithCancel(context.Background())
	p.sleep = func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	}
	_, err := p.Run(ctx, Request{RawInput: "https://example.com/"})

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindCanceled, fe.Kind)
	assert.Equal(t, 1, fe.Attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff(t *testing.T) {
	p := &Pipeline{cfg: Config{Backoff: time.Second, MaxBackoff: 5 * time.Second}}
	assert.Equal(t, time.Second, p.backoff(1))
	assert.Equal(t, 2*time.Second, p.backoff(2))
	assert.Equal(t, 4*time.Second, p.backoff(3))
	assert.Equal(t, 5*time.Second, p.backoff(4))
}

func TestNewUnknownEngine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine = "pandoc"
	_, err := New(cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown markdown engine")
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindTimeout, classify(StageSettle, fetcher.ErrTimeout))
	assert.Equal(t, KindCanceled, classify(StageSettle, context.Canceled))
	assert.Equal(t, KindNavigation, classify(StageSettle, errors.New("socket closed")))
	assert.Equal(t, KindInvalidInput, classify(StageExtract, errors.New("bad selector")))
	assert.Equal(t, KindSerialize, classify(StageSerialize, errors.New("boom")))
	assert.True(t, KindTimeout.Retryable())
	assert.False(t, KindNoContent.Retryable())
}

// brokenEngine fails or panics instead of serializing.
type brokenEngine struct {
	err   error
	panic string
}

func (e brokenEngine) Name() string { return "broken" }

func (e brokenEngine) Serialize(*dom.Region) (string, error) {
	if e.panic != "" {
		panic(e.panic)
	}
	return "", e.err
}

type brokenExtractor struct {
	err   error
	panic string
}

func (e brokenExtractor) Extract(*dom.Document) (*dom.Region, error) {
	if e.panic != "" {
		panic(e.panic)
	}
	return nil, e.err
}

func TestRunSerializeErrorReleasesSession(t *testing.T) {
	h := &harness{}
	boom := errors.New("writer closed")
	p, err := New(DefaultConfig(), zerolog.Nop(), WithAcquire(h.Acquire), WithSettler(h), WithEngine(brokenEngine{err: boom}))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), Request{RawInput: "https://example.com/"})

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StageSerialize, fe.Stage)
	assert.Equal(t, KindSerialize, fe.Kind)
	assert.Equal(t, 1, fe.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, h.released)
}

func TestRunSerializePanicReleasesSession(t *testing.T) {
	h := &harness{}
	p, err := New(DefaultConfig(), zerolog.Nop(), WithAcquire(h.Acquire), WithSettler(h), WithEngine(brokenEngine{panic: "nil node"}))
	require.NoError(t, err)

	assert.PanicsWithValue(t, "nil node", func() {
		_, _ = p.Run(context.Background(), Request{RawInput: "https://example.com/"})
	})
	assert.Equal(t, 1, h.released)
}

func TestRunExtractErrorReleasesSession(t *testing.T) {
	h := &harness{}
	boom := errors.New("bad selector")
	p, err := New(DefaultConfig(), zerolog.Nop(), WithAcquire(h.Acquire), WithSettler(h), WithExtractor(brokenExtractor{err: boom}))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), Request{RawInput: "https://example.com/"})

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StageExtract, fe.Stage)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, h.acquired, 1)
	assert.Equal(t, 1, h.released)
}

func TestRunExtractPanicReleasesSession(t *testing.T) {
	h := &harness{}
	p, err := New(DefaultConfig(), zerolog.Nop(), WithAcquire(h.Acquire), WithSettler(h), WithExtractor(brokenExtractor{panic: "index out of range"}))
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _ = p.Run(context.Background(), Request{RawInput: "https://example.com/"})
	})
	assert.Equal(t, 1, h.released)
}
