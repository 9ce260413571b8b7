// Package extract parses fetched HTML into titles, text segments, and
// candidate links.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is the parsed editorial content of one page. Segments preserve
// paragraph boundaries so the cleaning stage can drop boilerplate chrome
// without touching neighboring text.
type Document struct {
	Title    string
	Segments []string
}

// Text joins the surviving segments back into stored article text.
func (d Document) Text() string {
	return strings.Join(d.Segments, "\n\n")
}

// Parse extracts the title and paragraph segments from an article page.
func Parse(body []byte) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Document{}, fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	var segments []string
	doc.Find("script, style, noscript").Remove()
	doc.Find("p, li").Each(func(_ int, sel *goquery.Selection) {
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text != "" {
			segments = append(segments, text)
		}
	})

	return Document{Title: title, Segments: segments}, nil
}

// Links returns the absolute same-host links found on an index page.
// Off-host links are another source's territory and are never followed.
func Links(body []byte, base string) ([]string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := baseURL.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if !strings.EqualFold(resolved.Hostname(), baseURL.Hostname()) {
			return
		}
		resolved.Fragment = ""
		link := resolved.String()
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links, nil
}
