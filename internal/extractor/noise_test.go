package extractor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lecker/internal/dom"
)

func TestIsBoilerplateContainer(t *testing.T) {
	tests := []struct {
		attrs map[string]string
		want  bool
	}{
		{map[string]string{"id": "cookie-banner"}, true},
		{map[string]string{"class": "modal consent-manager"}, true},
		{map[string]string{"class": "cookie_notice"}, true},
		{map[string]string{"id": "onetrust-banner-sdk"}, true},
		{map[string]string{"id": "CybotCookiebotDialog"}, true},
		{map[string]string{"aria-label": "Cookie consent dialog"}, true},
		{map[string]string{"class": "post category-cookies"}, false},
		{map[string]string{"class": "entry tag-gdpr-compliance-guide"}, false},
		{map[string]string{"id": "cookie-recipes"}, false},
		{map[string]string{"aria-label": "Cookie recipes"}, false},
		{map[string]string{"class": "content"}, false},
	}
	for _, tt := range tests {
		n := &dom.Node{Tag: "div", Attrs: tt.attrs}
		assert.Equal(t, tt.want, isBoilerplateContainer(n), "%v", tt.attrs)
	}
}

func TestExtractKeepsPostTaggedWithCookies(t *testing.T) {
	doc := parse(t, `<html><body>
		<div class="post category-cookies"><h1>Shortbread</h1><p>`+para+`</p><p>`+para+`</p></div>
	</body></html>`)

	region, err := New(DefaultOptions()).Extract(doc)
	require.NoError(t, err)
	var text strings.Builder
	for _, r := range region.Roots {
		text.WriteString(dom.TextContent(r))
	}
	assert.Contains(t, text.String(), para)
}
