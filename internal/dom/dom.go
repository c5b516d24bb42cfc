// Package dom holds the immutable snapshot of a rendered page.
//
// A Document is produced once from the browser's serialized HTML and is never
// mutated afterwards. Extraction works on Regions, which are sets of pointers
// into the Document rather than copies of it.
package dom

import (
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/pkg/errors"
	"golang.org/x/net/html"
)

// HiddenAttr marks elements the browser reported as invisible or zero-area.
const HiddenAttr = "data-lecker-hidden"

// Node is an element or a text node. Text nodes have an empty Tag.
type Node struct {
	Tag      string
	Attrs    map[string]string
	Children []*Node
	Text     string

	Parent *Node
	// Index is the node's position in document order.
	Index int
	Depth int
}

// IsText reports whether n is a text node.
func (n *Node) IsText() bool { return n.Tag == "" }

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	v, ok := n.Attrs[name]
	return v, ok
}

// Document is a parsed page snapshot.
type Document struct {
	// URL is the canonical URL the page was requested with.
	URL *url.URL
	// FinalURL is where the browser ended up after redirects.
	FinalURL string
	Title    string
	Root     *Node

	nodes []*Node
	byRaw map[*html.Node]*Node
	query *goquery.Document
}

// Parse builds a Document from serialized HTML.
func Parse(r io.Reader, base *url.URL) (*Document, error) {
	q, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse HTML")
	}
	if len(q.Nodes) == 0 {
		return nil, errors.New("parsed HTML has no root node")
	}

	d := &Document{
		URL:   base,
		byRaw: make(map[*html.Node]*Node),
		query: q,
	}
	d.Root = d.build(q.Nodes[0], nil, 0)
	d.Title = strings.TrimSpace(q.Find("head > title").First().Text())
	return d, nil
}

// ParseString is Parse for in-memory HTML.
func ParseString(s string, base *url.URL) (*Document, error) {
	return Parse(strings.NewReader(s), base)
}

func (d *Document) build(raw *html.Node, parent *Node, depth int) *Node {
	n := &Node{Parent: parent, Depth: depth, Index: len(d.nodes)}
	switch raw.Type {
	case html.ElementNode:
		n.Tag = strings.ToLower(raw.Data)
		n.Attrs = make(map[string]string, len(raw.Attr))
		for _, a := range raw.Attr {
			n.Attrs[strings.ToLower(a.Key)] = a.Val
		}
	case html.TextNode:
		n.Text = raw.Data
	case html.DocumentNode:
		n.Tag = "#document"
	default:
		return nil
	}
	d.nodes = append(d.nodes, n)
	d.byRaw[raw] = n

	for c := raw.FirstChild; c != nil; c = c.NextSibling {
		if child := d.build(c, n, depth+1); child != nil {
			n.Children = append(n.Children, child)
		}
	}
	return n
}

// Len returns the number of nodes in the document.
func (d *Document) Len() int { return len(d.nodes) }

// Node returns the node at document-order index i.
func (d *Document) Node(i int) *Node { return d.nodes[i] }

// Body returns the body element, or the root when the document has none.
func (d *Document) Body() *Node {
	for _, n := range d.nodes {
		if n.Tag == "body" {
			return n
		}
	}
	return d.Root
}

// Select returns the nodes matching a CSS selector in document order.
func (d *Document) Select(selector string) ([]*Node, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid selector %q", selector)
	}
	var out []*Node
	d.query.FindMatcher(m).Each(func(_ int, s *goquery.Selection) {
		for _, raw := range s.Nodes {
			if n, ok := d.byRaw[raw]; ok {
				out = append(out, n)
			}
		}
	})
	return out, nil
}

// Resolve resolves ref against the document URL. Unparseable references are
// returned unchanged.
func (d *Document) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if d.URL == nil || ref == "" {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return d.URL.ResolveReference(u).String()
}

// TextContent returns the concatenated text of n's subtree.
func TextContent(n *Node) string {
	if n.IsText() {
		return n.Text
	}
	var b strings.Builder
	var walk func(*Node)
	walk = func(c *Node) {
		if c.IsText() {
			b.WriteString(c.Text)
			return
		}
		for _, cc := range c.Children {
			walk(cc)
		}
	}
	walk(n)
	return b.String()
}
