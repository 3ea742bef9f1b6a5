package main

import (
	"bytes"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability"
	"github.com/PuerkitoBio/goquery"
)

// Article is the readable content of a page as produced by readability.
type Article struct {
	Title         string
	Byline        string
	SiteName      string
	Content       string // HTML fragment
	TextContent   string
	PublishedTime *time.Time
}

// promoteLazySrc rewrites data-src and data-srcset to src and srcset on
// lazy-loaded images so readability and the image embedder see the real
// URLs. Placeholders sitting in src are overwritten.
func promoteLazySrc(page []byte) []byte {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return page
	}

	changed := false
	doc.Find("img[data-src], img[data-srcset]").Each(func(_ int, img *goquery.Selection) {
		if lazy, ok := img.Attr("data-src"); ok && strings.TrimSpace(lazy) != "" {
			img.SetAttr("src", lazy)
			img.RemoveAttr("data-src")
			changed = true
		}
		if lazy, ok := img.Attr("data-srcset"); ok && strings.TrimSpace(lazy) != "" {
			img.SetAttr("srcset", lazy)
			img.RemoveAttr("data-srcset")
			changed = true
		}
	})
	if !changed {
		return page
	}

	out, err := goquery.OuterHtml(doc.Selection)
	if err != nil {
		return page
	}
	return []byte(out)
}

// extractArticle runs readability over a fetched page. Pages where it
// finds nothing, or only markup without text, fail with NoContentError.
func extractArticle(page []byte, pageURL *url.URL) (Article, error) {
	parsed, err := readability.FromReader(bytes.NewReader(promoteLazySrc(page)), pageURL)
	if err != nil {
		return Article{}, &NoContentError{URL: pageURL.String(), Cause: err}
	}

	if strings.TrimSpace(parsed.Content) == "" {
		return Article{}, &NoContentError{URL: pageURL.String(), Cause: errNoReadableContent}
	}

	text, err := fragmentText(parsed.Content)
	if err != nil || text == "" {
		return Article{}, &NoContentError{URL: pageURL.String(), Cause: errNoReadableContent}
	}

	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		title = "Untitled"
	}

	return Article{
		Title:         title,
		Byline:        strings.TrimSpace(parsed.Byline),
		SiteName:      strings.TrimSpace(parsed.SiteName),
		Content:       parsed.Content,
		TextContent:   text,
		PublishedTime: parsed.PublishedTime,
	}, nil
}

// fragmentText returns the trimmed text of an HTML fragment.
func fragmentText(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(doc.Text()), nil
}
