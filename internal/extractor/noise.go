package extractor

import (
	"strings"
	"unicode"

	"lecker/internal/dom"
)

// noiseTags are elements whose subtrees never contribute content.
var noiseTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"nav":      true,
	"footer":   true,
	"aside":    true,
	"iframe":   true,
	"svg":      true,
	"canvas":   true,
	"head":     true,
}

// bannerNames are id/class tokens that name a consent banner on their own.
var bannerNames = map[string]bool{
	"cookie":               true,
	"cookies-banner":       true,
	"cookieconsent":        true,
	"cookiebanner":         true,
	"cookienotice":         true,
	"consent":              true,
	"gdpr":                 true,
	"cc-window":            true,
	"cc-banner":            true,
	"onetrust-banner-sdk":  true,
	"onetrust-consent-sdk": true,
	"cybotcookiebotdialog": true,
	"qc-cmp2-container":    true,
}

// bannerTopics and bannerWidgets combine into names like cookie-banner,
// consent_manager or gdpr-popup.
var (
	bannerTopics  = map[string]bool{"cookie": true, "cookies": true, "consent": true, "gdpr": true, "privacy": true}
	bannerWidgets = map[string]bool{
		"banner": true, "bar": true, "notice": true, "notification": true, "popup": true,
		"modal": true, "dialog": true, "overlay": true, "wall": true, "manager": true,
		"consent": true, "law": true, "prompt": true, "container": true,
	}
)

// IsNoise reports whether the subtree rooted at n should be discarded.
func IsNoise(n *dom.Node) bool {
	if n.IsText() {
		return false
	}
	if noiseTags[n.Tag] {
		return true
	}
	if v, ok := n.Attr("aria-hidden"); ok && strings.EqualFold(strings.TrimSpace(v), "true") {
		return true
	}
	if _, ok := n.Attr("hidden"); ok {
		return true
	}
	if _, ok := n.Attr(dom.HiddenAttr); ok {
		return true
	}
	return isBoilerplateContainer(n)
}

// isBoilerplateContainer returns true if the element looks like a cookie/consent banner.
func isBoilerplateContainer(n *dom.Node) bool {
	if n.Tag == "body" || n.Tag == "html" || n.Tag == "main" || n.Tag == "article" {
		return false
	}
	for _, key := range []string{"id", "class"} {
		v, ok := n.Attr(key)
		if !ok {
			continue
		}
		for _, tok := range strings.Fields(strings.ToLower(v)) {
			if isBannerName(tok) {
				return true
			}
		}
	}
	if v, ok := n.Attr("aria-label"); ok {
		var topic, widget bool
		for _, w := range strings.FieldsFunc(strings.ToLower(v), notLetter) {
			topic = topic || bannerTopics[w]
			widget = widget || bannerWidgets[w]
		}
		return topic && widget
	}
	return false
}

// isBannerName matches a whole id or class token, so a token such as
// category-cookies does not count.
func isBannerName(tok string) bool {
	if bannerNames[tok] {
		return true
	}
	parts := strings.FieldsFunc(tok, func(r rune) bool { return r == '-' || r == '_' })
	if len(parts) < 2 {
		return false
	}
	return bannerTopics[parts[0]] && bannerWidgets[parts[len(parts)-1]]
}

func notLetter(r rune) bool {
	return !unicode.IsLetter(r)
}

// noiseSet walks doc and returns the indexes of every noise subtree root.
func noiseSet(doc *dom.Document) map[int]bool {
	excluded := make(map[int]bool)
	var walk func(n *dom.Node)
	walk = func(n *dom.Node) {
		if IsNoise(n) {
			excluded[n.Index] = true
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(doc.Root)
	return excluded
}
