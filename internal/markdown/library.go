package markdown

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"

	"lecker/internal/dom"
)

// Library serializes a region with the html-to-markdown converter. The region
// is rendered back to HTML first, so noise filtering still applies.
type Library struct{}

func (Library) Name() string { return "html-to-markdown" }

func (Library) Serialize(r *dom.Region) (string, error) {
	src, err := r.HTML()
	if err != nil {
		return "", err
	}
	src, err = absolutizeLinks(src, r.Document)
	if err != nil {
		return "", err
	}

	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		Fence:            "```",
		EmDelimiter:      "*",
		StrongDelimiter:  "**",
	})
	converter.Use(plugin.GitHubFlavored())

	markdown, err := converter.ConvertString(src)
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to Markdown: %w", err)
	}
	return Tidy(markdown), nil
}

// absolutizeLinks resolves a[href] and img[src] against the document URL.
func absolutizeLinks(src string, doc *dom.Document) (string, error) {
	q, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	q.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(href)), "javascript:") {
			s.SetAttr("href", doc.Resolve(href))
		}
	})
	q.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		s.SetAttr("src", doc.Resolve(src))
	})
	return q.Find("body").Html()
}
