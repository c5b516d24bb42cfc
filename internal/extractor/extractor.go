// Package extractor selects the main content region of a page snapshot.
//
// Selection is a pure function of the dom.Document: noise subtrees are
// discarded, block containers are scored from the paragraphs they hold, and the
// best scoring container (plus closely related siblings) becomes the Region.
package extractor

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"lecker/internal/dom"
)

// ErrNoContent is returned when no part of the page holds enough text.
var ErrNoContent = errors.New("no content found")

// Options tunes the content heuristic.
type Options struct {
	// MinTextLength is the minimum visible text, in characters, a candidate must hold.
	MinTextLength int
	// DepthPenalty is subtracted from a candidate's score per nesting level.
	DepthPenalty float64
	// SiblingRatio is the fraction of the best score a sibling needs to join the region.
	SiblingRatio float64
	// Selector, when set, replaces scoring with a CSS selector match.
	Selector string
}

// DefaultOptions returns the default heuristic settings.
func DefaultOptions() Options {
	return Options{
		MinTextLength: 25,
		DepthPenalty:  0.25,
		SiblingRatio:  0.2,
	}
}

// Extractor content extractor
type Extractor struct {
	opts Options
}

// New creates a new Extractor instance. Zero fields fall back to defaults.
func New(opts Options) *Extractor {
	def := DefaultOptions()
	if opts.MinTextLength <= 0 {
		opts.MinTextLength = def.MinTextLength
	}
	if opts.DepthPenalty < 0 {
		opts.DepthPenalty = def.DepthPenalty
	}
	if opts.SiblingRatio <= 0 {
		opts.SiblingRatio = def.SiblingRatio
	}
	return &Extractor{opts: opts}
}

// Extract returns the content region of doc.
func (e *Extractor) Extract(doc *dom.Document) (*dom.Region, error) {
	excluded := noiseSet(doc)
	if e.opts.Selector != "" {
		return e.extractBySelector(doc, excluded)
	}

	scores := Score(doc, excluded, e.opts)
	best := -1
	for i, s := range scores {
		if !s.Candidate {
			continue
		}
		// Strictly greater keeps the earliest node on ties.
		if best < 0 || s.Score > scores[best].Score {
			best = i
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("%w: no block holds %d characters of text", ErrNoContent, e.opts.MinTextLength)
	}

	roots := e.withSiblings(doc, scores, best, excluded)
	return dom.NewRegion(doc, roots, excluded), nil
}

// extractBySelector uses the configured CSS selector instead of scoring.
func (e *Extractor) extractBySelector(doc *dom.Document, excluded map[int]bool) (*dom.Region, error) {
	nodes, err := doc.Select(e.opts.Selector)
	if err != nil {
		return nil, err
	}
	// Drop matches inside noise or inside other matches so no content is emitted twice.
	var roots []*dom.Node
	picked := make(map[*dom.Node]bool)
	for _, n := range nodes {
		skip := excluded[n.Index]
		for p := n.Parent; p != nil && !skip; p = p.Parent {
			skip = picked[p] || excluded[p.Index]
		}
		if !skip {
			picked[n] = true
			roots = append(roots, n)
		}
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: selector %q matched nothing", ErrNoContent, e.opts.Selector)
	}
	return dom.NewRegion(doc, roots, excluded), nil
}

// withSiblings returns the winning node plus siblings that score close to it
// and a heading directly in front of it.
func (e *Extractor) withSiblings(doc *dom.Document, scores []NodeScore, best int, excluded map[int]bool) []*dom.Node {
	winner := doc.Node(best)
	if winner.Parent == nil {
		return []*dom.Node{winner}
	}
	threshold := scores[best].Score * e.opts.SiblingRatio

	var roots []*dom.Node
	siblings := winner.Parent.Children
	for i, sib := range siblings {
		switch {
		case sib == winner:
			roots = append(roots, sib)
		case excluded[sib.Index] || sib.IsText():
		case scores[sib.Index].Candidate && scores[sib.Index].Score >= threshold && scores[sib.Index].Score > 0:
			roots = append(roots, sib)
		case i+1 < len(siblings) && nextElement(siblings, i) == winner && isHeading(sib.Tag):
			roots = append(roots, sib)
		}
	}
	return roots
}

// nextElement returns the first non-blank sibling after position i.
func nextElement(siblings []*dom.Node, i int) *dom.Node {
	for _, s := range siblings[i+1:] {
		if s.IsText() && strings.TrimSpace(s.Text) == "" {
			continue
		}
		return s
	}
	return nil
}

// NodeScore is the heuristic result for one node, indexed by dom.Node.Index.
type NodeScore struct {
	TextLength  int
	LinkLength  int
	Paragraphs  int
	Score       float64
	Candidate   bool
	LinkDensity float64
}

var candidateTags = map[string]bool{
	"body": true, "main": true, "article": true, "section": true, "div": true,
	"td": true, "blockquote": true, "form": true, "center": true, "font": true,
}

var paragraphTags = map[string]bool{
	"p": true, "pre": true, "blockquote": true, "li": true, "td": true, "dd": true,
}

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "dd": true,
	"div": true, "dl": true, "dt": true, "fieldset": true, "figure": true,
	"footer": true, "form": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "header": true, "hr": true, "li": true, "main": true,
	"nav": true, "ol": true, "p": true, "pre": true, "section": true, "table": true,
	"ul": true, "body": true, "html": true,
}

var tagPrior = map[string]float64{
	"main":    3,
	"article": 3,
}

func isHeading(tag string) bool {
	return len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6'
}

// Score computes heuristic scores for every node of doc. Nodes in excluded
// subtrees keep the zero score. The result is indexed by dom.Node.Index.
func Score(doc *dom.Document, excluded map[int]bool, opts Options) []NodeScore {
	scores := make([]NodeScore, doc.Len())
	contrib := make([]float64, doc.Len())

	var measure func(n *dom.Node, inLink bool)
	measure = func(n *dom.Node, inLink bool) {
		if excluded[n.Index] {
			return
		}
		if n.IsText() {
			l := visibleLength(n.Text)
			scores[n.Index].TextLength = l
			if inLink {
				scores[n.Index].LinkLength = l
			}
			return
		}
		link := inLink || n.Tag == "a"
		s := &scores[n.Index]
		for _, c := range n.Children {
			measure(c, link)
			s.TextLength += scores[c.Index].TextLength
			s.LinkLength += scores[c.Index].LinkLength
		}
	}
	measure(doc.Root, false)

	var contribute func(n *dom.Node)
	contribute = func(n *dom.Node) {
		if excluded[n.Index] || n.IsText() {
			return
		}
		if isParagraph(n, excluded) && scores[n.Index].TextLength > 0 {
			text := dom.TextContent(n)
			s := 1 + float64(strings.Count(text, ",")) + math.Min(float64(scores[n.Index].TextLength)/100, 3)
			divider := []float64{1, 2, 6}
			p := n.Parent
			for level := 0; level < len(divider) && p != nil; level++ {
				contrib[p.Index] += s / divider[level]
				if level == 0 {
					scores[p.Index].Paragraphs++
				}
				p = p.Parent
			}
		}
		for _, c := range n.Children {
			contribute(c)
		}
	}
	contribute(doc.Root)

	for i := range scores {
		n := doc.Node(i)
		s := &scores[i]
		if s.TextLength > 0 {
			s.LinkDensity = float64(s.LinkLength) / float64(s.TextLength)
		}
		if n.IsText() || excluded[i] || !candidateTags[n.Tag] || s.TextLength < opts.MinTextLength {
			continue
		}
		s.Candidate = true
		s.Score = (contrib[i]+tagPrior[n.Tag])*(1-s.LinkDensity) - opts.DepthPenalty*float64(n.Depth)
	}
	return scores
}

// isParagraph reports whether n holds running text: a paragraph-like element or
// a div without block-level children.
func isParagraph(n *dom.Node, excluded map[int]bool) bool {
	if paragraphTags[n.Tag] {
		return true
	}
	if n.Tag != "div" {
		return false
	}
	for _, c := range n.Children {
		if !c.IsText() && !excluded[c.Index] && blockTags[c.Tag] {
			return false
		}
	}
	return true
}

// visibleLength counts characters after collapsing whitespace runs.
func visibleLength(s string) int {
	n := 0
	space := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !space {
				n++
				space = true
			}
			continue
		}
		n++
		space = false
	}
	if space && n > 0 {
		n--
	}
	return n
}
