package markdown

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"lecker/internal/dom"
)

// Native serializes a region with the fixed element mapping table in a single
// depth-first traversal.
type Native struct{}

func (Native) Name() string { return "native" }

func (Native) Serialize(r *dom.Region) (string, error) {
	return Serialize(r), nil
}

// Serialize converts r to markdown. The same region always yields the same output.
func Serialize(r *dom.Region) string {
	w := &writer{region: r}
	var blocks []string
	for _, root := range r.Roots {
		blocks = append(blocks, w.block(root)...)
	}
	return Tidy(strings.Join(blocks, "\n\n"))
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "body": true,
	"center": true, "dd": true, "details": true, "dialog": true, "div": true,
	"dl": true, "dt": true, "fieldset": true, "figcaption": true, "figure": true,
	"footer": true, "form": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "header": true, "hgroup": true, "hr": true, "html": true,
	"li": true, "main": true, "nav": true, "ol": true, "p": true, "pre": true,
	"section": true, "summary": true, "table": true, "ul": true, "#document": true,
}

type writer struct {
	region *dom.Region
}

func (w *writer) skip(n *dom.Node) bool {
	return w.region.Excluded(n)
}

func isBlock(n *dom.Node) bool {
	return !n.IsText() && blockElements[n.Tag]
}

// block renders n in block context and returns its markdown blocks.
func (w *writer) block(n *dom.Node) []string {
	if w.skip(n) {
		return nil
	}
	if n.IsText() {
		return nonEmpty(cleanInline(collapse(n.Text)))
	}

	switch n.Tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		text := strings.ReplaceAll(cleanInline(w.inlineChildren(n)), "\n", " ")
		if text == "" {
			return nil
		}
		level := int(n.Tag[1] - '0')
		return []string{strings.Repeat("#", level) + " " + text}
	case "p":
		return nonEmpty(cleanInline(w.inlineChildren(n)))
	case "ul", "ol":
		return nonEmpty(w.list(n, 0))
	case "pre":
		return nonEmpty(w.pre(n))
	case "blockquote":
		return nonEmpty(quote(strings.Join(w.container(n), "\n\n")))
	case "table":
		return nonEmpty(w.table(n))
	case "hr":
		return nil
	}
	if !isBlock(n) {
		return nonEmpty(cleanInline(w.inline(n)))
	}
	return w.container(n)
}

// container renders the children of n, grouping inline runs into paragraphs.
func (w *writer) container(n *dom.Node) []string {
	var blocks []string
	var run strings.Builder
	flush := func() {
		if t := cleanInline(run.String()); t != "" {
			blocks = append(blocks, t)
		}
		run.Reset()
	}
	for _, c := range n.Children {
		if w.skip(c) {
			continue
		}
		if isBlock(c) {
			flush()
			blocks = append(blocks, w.block(c)...)
			continue
		}
		run.WriteString(w.inline(c))
	}
	flush()
	return blocks
}

// inline renders n in inline context. Whitespace is collapsed but not trimmed;
// line breaks are kept as "\n".
func (w *writer) inline(n *dom.Node) string {
	if w.skip(n) {
		return ""
	}
	if n.IsText() {
		return collapse(n.Text)
	}

	switch n.Tag {
	case "strong", "b":
		return wrap("**", w.inlineChildren(n))
	case "em", "i":
		return wrap("*", w.inlineChildren(n))
	case "code", "kbd", "samp", "tt":
		return codeSpan(collapse(w.rawText(n)))
	case "br":
		return "\n"
	case "a":
		return w.link(n)
	case "img":
		return w.image(n)
	}
	if isBlock(n) {
		return " " + w.inlineChildren(n) + " "
	}
	return w.inlineChildren(n)
}

func (w *writer) inlineChildren(n *dom.Node) string {
	var b strings.Builder
	for _, c := range n.Children {
		b.WriteString(w.inline(c))
	}
	return b.String()
}

func (w *writer) link(n *dom.Node) string {
	inner := w.inlineChildren(n)
	text := strings.TrimSpace(strings.ReplaceAll(inner, "\n", " "))
	href, _ := n.Attr("href")
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return inner
	}
	if text == "" {
		return ""
	}
	lead, trail := edges(inner)
	return lead + "[" + text + "](" + escapeURL(w.region.Document.Resolve(href)) + ")" + trail
}

func (w *writer) image(n *dom.Node) string {
	src, _ := n.Attr("src")
	src = strings.TrimSpace(src)
	if src == "" || strings.HasPrefix(strings.ToLower(src), "data:") {
		return ""
	}
	alt, _ := n.Attr("alt")
	alt = strings.TrimSpace(collapse(alt))
	return "![" + alt + "](" + escapeURL(w.region.Document.Resolve(src)) + ")"
}

// list renders ul/ol at the given nesting depth.
func (w *writer) list(n *dom.Node, depth int) string {
	ordered := n.Tag == "ol"
	num := 1
	if v, ok := n.Attr("start"); ok {
		if s, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			num = s
		}
	}
	indent := strings.Repeat("  ", depth)

	var lines []string
	// Text directly inside the list continues the preceding item.
	var loose strings.Builder
	flushLoose := func() {
		t := cleanInline(loose.String())
		loose.Reset()
		switch {
		case t == "":
		case len(lines) == 0:
			lines = append(lines, indent+t)
		default:
			lines = append(lines, indent+"  "+t)
		}
	}
	for _, c := range n.Children {
		if w.skip(c) {
			continue
		}
		if c.IsText() {
			loose.WriteString(w.inline(c))
			continue
		}
		flushLoose()
		if c.Tag == "ul" || c.Tag == "ol" {
			if nested := w.list(c, depth+1); nested != "" {
				lines = append(lines, nested)
			}
			continue
		}
		marker := "- "
		if ordered {
			marker = fmt.Sprintf("%d. ", num)
		}
		item := w.listItem(c, depth, indent, marker)
		if len(item) == 0 {
			continue
		}
		lines = append(lines, item...)
		num++
	}
	flushLoose()
	return strings.Join(lines, "\n")
}

func (w *writer) listItem(li *dom.Node, depth int, indent, marker string) []string {
	var lines []string
	first := true
	emit := func(text string) {
		for _, l := range strings.Split(text, "\n") {
			switch {
			case first:
				lines = append(lines, indent+marker+l)
				first = false
			case l == "":
				lines = append(lines, "")
			default:
				lines = append(lines, indent+"  "+l)
			}
		}
	}

	var run strings.Builder
	flush := func() {
		if t := cleanInline(run.String()); t != "" {
			emit(t)
		}
		run.Reset()
	}
	for _, c := range li.Children {
		if w.skip(c) {
			continue
		}
		switch {
		case c.Tag == "ul" || c.Tag == "ol":
			flush()
			nested := w.list(c, depth+1)
			if nested == "" {
				continue
			}
			if first {
				lines = append(lines, indent+strings.TrimSpace(marker))
				first = false
			}
			lines = append(lines, strings.Split(nested, "\n")...)
		case isBlock(c):
			flush()
			for _, b := range w.block(c) {
				emit(b)
			}
		default:
			run.WriteString(w.inline(c))
		}
	}
	flush()
	return lines
}

func (w *writer) pre(n *dom.Node) string {
	code := strings.Trim(w.rawText(n), "\n")
	if strings.TrimSpace(code) == "" {
		return ""
	}
	lang := language(n)
	for _, c := range n.Children {
		if lang == "" && c.Tag == "code" {
			lang = language(c)
		}
	}
	fence := "```"
	for strings.Contains(code, fence) {
		fence += "`"
	}
	return fence + lang + "\n" + code + "\n" + fence
}

// rawText returns the uncollapsed text of n's non-excluded subtree.
func (w *writer) rawText(n *dom.Node) string {
	if w.skip(n) {
		return ""
	}
	if n.IsText() {
		return n.Text
	}
	if n.Tag == "br" {
		return "\n"
	}
	var b strings.Builder
	for _, c := range n.Children {
		b.WriteString(w.rawText(c))
	}
	return b.String()
}

// language reads a "language-x" or "lang-x" class hint.
func language(n *dom.Node) string {
	class, _ := n.Attr("class")
	for _, f := range strings.Fields(class) {
		for _, prefix := range []string{"language-", "lang-"} {
			if strings.HasPrefix(f, prefix) && len(f) > len(prefix) {
				return f[len(prefix):]
			}
		}
	}
	return ""
}

func quote(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l == "" {
			lines[i] = ">"
		} else {
			lines[i] = "> " + l
		}
	}
	return strings.Join(lines, "\n")
}

func codeSpan(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	ticks := "`"
	for strings.Contains(s, ticks) {
		ticks += "`"
	}
	if strings.HasPrefix(s, "`") || strings.HasSuffix(s, "`") {
		return ticks + " " + s + " " + ticks
	}
	return ticks + s + ticks
}

// wrap surrounds s with marker, keeping outer whitespace outside the markers.
func wrap(marker, s string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		if s != "" {
			return " "
		}
		return ""
	}
	lead, trail := edges(s)
	return lead + marker + t + marker + trail
}

func edges(s string) (lead, trail string) {
	if s != "" && s[0] == ' ' {
		lead = " "
	}
	if s != "" && s[len(s)-1] == ' ' {
		trail = " "
	}
	return lead, trail
}

// collapse replaces every whitespace run with a single space.
func collapse(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !space {
				b.WriteByte(' ')
				space = true
			}
			continue
		}
		b.WriteRune(r)
		space = false
	}
	return b.String()
}

// cleanInline collapses spaces within each line and trims the run.
func cleanInline(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(collapse(l))
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}

func escapeURL(u string) string {
	return strings.NewReplacer(" ", "%20", "(", "%28", ")", "%29").Replace(u)
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
