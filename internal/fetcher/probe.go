package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/sync/errgroup"
)

// mutationCounterJS runs in every new document before page scripts.
const mutationCounterJS = `(() => {
	window.__leckerMutations = 0;
	new MutationObserver((records) => {
		window.__leckerMutations += records.length;
	}).observe(document, { childList: true, subtree: true, attributes: true, characterData: true });
})()`

const readMutationsJS = `() => window.__leckerMutations || 0`

// markHiddenJS flags elements that take no space on screen.
const markHiddenJS = `() => {
	if (!document.body) return 0;
	const skip = new Set(['BR', 'WBR', 'AREA', 'SOURCE', 'TRACK', 'OPTION']);
	let n = 0;
	for (const el of document.body.querySelectorAll('*')) {
		if (skip.has(el.tagName)) continue;
		const style = getComputedStyle(el);
		if (style.display === 'contents') continue;
		if (style.display === 'none' || style.visibility === 'hidden' || el.getClientRects().length === 0) {
			el.setAttribute('data-lecker-hidden', '1');
			n++;
		}
	}
	return n;
}`

// pageProbe tracks network activity and the main document status of a tab.
type pageProbe struct {
	page *rod.Page

	mu          sync.Mutex
	lastRequest time.Time
	status      int

	// document is closed once the first main document response arrived.
	document     chan struct{}
	documentOnce sync.Once
}

// watch installs the mutation counter and starts listening to network events.
// Listeners stop when ctx is done; g tracks their goroutine.
func watch(ctx context.Context, page *rod.Page, g *errgroup.Group) (*pageProbe, error) {
	if _, err := page.Context(ctx).EvalOnNewDocument(mutationCounterJS); err != nil {
		return nil, err
	}

	p := &pageProbe{page: page, document: make(chan struct{})}
	wait := page.Context(ctx).EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			if ignoredResource(e.Type) {
				return
			}
			p.mu.Lock()
			p.lastRequest = time.Now()
			p.mu.Unlock()
		},
		func(e *proto.NetworkResponseReceived) {
			if e.Type != proto.NetworkResourceTypeDocument || e.FrameID != page.FrameID || e.Response == nil {
				return
			}
			p.mu.Lock()
			p.status = e.Response.Status
			p.mu.Unlock()
			p.documentOnce.Do(func() { close(p.document) })
		},
	)
	g.Go(func() error {
		wait()
		return nil
	})
	return p, nil
}

func ignoredResource(t proto.NetworkResourceType) bool {
	switch t {
	case proto.NetworkResourceTypeImage, proto.NetworkResourceTypeMedia, proto.NetworkResourceTypeFont:
		return true
	}
	return false
}

func (p *pageProbe) LastRequest() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRequest
}

func (p *pageProbe) Navigate(ctx context.Context, u string) error {
	return p.page.Context(ctx).Navigate(u)
}

func (p *pageProbe) WaitLoad(ctx context.Context) error {
	return p.page.Context(ctx).WaitLoad()
}

// DocumentStatus waits for the main document response and returns its HTTP
// status, 0 if none arrived before ctx is done.
func (p *pageProbe) DocumentStatus(ctx context.Context) int {
	select {
	case <-p.document:
	case <-ctx.Done():
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *pageProbe) Mutations(ctx context.Context) (int, error) {
	res, err := p.page.Context(ctx).Eval(readMutationsJS)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}
