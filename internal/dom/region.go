package dom

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
)

// Region is the part of a Document judged to be primary content. It refers to
// nodes of the Document and must not outlive it.
type Region struct {
	Document *Document
	// Roots are the region's top-level nodes in document order.
	Roots []*Node

	excluded map[int]bool
}

// NewRegion creates a region over doc. excluded lists node indexes whose
// subtrees are skipped during serialization.
func NewRegion(doc *Document, roots []*Node, excluded map[int]bool) *Region {
	sorted := append([]*Node(nil), roots...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	if excluded == nil {
		excluded = map[int]bool{}
	}
	return &Region{Document: doc, Roots: sorted, excluded: excluded}
}

// Excluded reports whether n was filtered out as noise.
func (r *Region) Excluded(n *Node) bool {
	return r.excluded[n.Index]
}

// HTML renders the region back to HTML without its excluded subtrees.
func (r *Region) HTML() (string, error) {
	var buf bytes.Buffer
	for _, root := range r.Roots {
		raw := r.toHTML(root)
		if raw == nil {
			continue
		}
		if err := html.Render(&buf, raw); err != nil {
			return "", errors.Wrap(err, "failed to render region")
		}
		buf.WriteByte('\n')
	}
	return buf.String(), nil
}

func (r *Region) toHTML(n *Node) *html.Node {
	if r.Excluded(n) {
		return nil
	}
	if n.IsText() {
		return &html.Node{Type: html.TextNode, Data: n.Text}
	}
	if n.Tag == "#document" {
		// Rendering a bare document node would emit nothing useful.
		out := &html.Node{Type: html.ElementNode, Data: "div"}
		r.appendChildren(out, n)
		return out
	}
	out := &html.Node{Type: html.ElementNode, Data: n.Tag}
	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.Attr = append(out.Attr, html.Attribute{Key: k, Val: n.Attrs[k]})
	}
	r.appendChildren(out, n)
	return out
}

func (r *Region) appendChildren(out *html.Node, n *Node) {
	for _, c := range n.Children {
		if child := r.toHTML(c); child != nil {
			out.AppendChild(child)
		}
	}
}
