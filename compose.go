package main

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const dateLayout = "January 2, 2006"

// composeDocument turns the article fragment into a full HTML document with
// a reader-style header in front of the content and the article title as
// the document title.
func composeDocument(article Article, pageURL *url.URL, meta Metadata) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return "", fmt.Errorf("parsing article content: %w", err)
	}

	target := doc.Find("#readability-page-1").First()
	if target.Length() == 0 {
		target = doc.Find("body").First()
	}
	target.PrependNodes(buildHeader(article.Title, pageURL, meta))

	setDocumentTitle(doc, article.Title)
	addHeadMeta(doc, meta)

	root := doc.Nodes[0]
	root.InsertBefore(&html.Node{Type: html.DoctypeNode, Data: "html"}, root.FirstChild)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", fmt.Errorf("rendering document: %w", err)
	}
	return buf.String(), nil
}

// buildHeader lays out the header the way Firefox reader mode does:
//
//	div.container
//	  div.header
//	    a.domain  h1.reader-title  div.credits  div.meta-data
//	  hr
func buildHeader(title string, pageURL *url.URL, meta Metadata) *html.Node {
	container := element(atom.Div, "container")
	container.Attr = append(container.Attr, html.Attribute{Key: "dir", Val: "ltr"})

	header := element(atom.Div, "header reader-header reader-show-element")
	container.AppendChild(header)

	link := element(atom.A, "domain reader-domain")
	if pageURL != nil {
		link.Attr = append(link.Attr, html.Attribute{Key: "href", Val: pageURL.String()})
	}
	link.AppendChild(textNode(meta.SiteName))
	header.AppendChild(link)

	header.AppendChild(element(atom.Div, "domain-border"))

	h1 := element(atom.H1, "reader-title")
	h1.AppendChild(textNode(title))
	header.AppendChild(h1)

	credits := element(atom.Div, "credits reader-credits")
	if line := creditsLine(meta.Author, meta.PublishedTime); line != "" {
		credits.AppendChild(textNode(line))
	}
	header.AppendChild(credits)

	metaData := element(atom.Div, "meta-data")
	estimate := element(atom.Div, "reader-estimated-time")
	estimate.AppendChild(textNode(fmt.Sprintf("%d minutes", meta.ReadingTime)))
	metaData.AppendChild(estimate)
	header.AppendChild(metaData)

	container.AppendChild(&html.Node{Type: html.ElementNode, DataAtom: atom.Hr, Data: "hr"})
	return container
}

func creditsLine(author string, published *time.Time) string {
	var parts []string
	if author != "" {
		parts = append(parts, author)
	}
	if published != nil {
		parts = append(parts, published.Format(dateLayout))
	}
	return strings.Join(parts, " · ")
}

// setDocumentTitle replaces the <title> text, creating the element if the
// document has none.
func setDocumentTitle(doc *goquery.Document, title string) {
	if existing := doc.Find("head > title").First(); existing.Length() > 0 {
		existing.SetText(title)
		return
	}
	node := &html.Node{Type: html.ElementNode, DataAtom: atom.Title, Data: "title"}
	node.AppendChild(textNode(title))
	doc.Find("head").First().AppendNodes(node)
}

func addHeadMeta(doc *goquery.Document, meta Metadata) {
	head := doc.Find("head").First()
	head.PrependNodes(&html.Node{
		Type: html.ElementNode, DataAtom: atom.Meta, Data: "meta",
		Attr: []html.Attribute{{Key: "charset", Val: "utf-8"}},
	})
	if meta.Author != "" {
		head.AppendNodes(metaTag("author", meta.Author))
	}
	if meta.PublishedTime != nil {
		head.AppendNodes(metaTag("date", meta.PublishedTime.Format(time.RFC3339)))
	}
}

func metaTag(name, content string) *html.Node {
	return &html.Node{
		Type: html.ElementNode, DataAtom: atom.Meta, Data: "meta",
		Attr: []html.Attribute{{Key: "name", Val: name}, {Key: "content", Val: content}},
	}
}

func element(a atom.Atom, class string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	if class != "" {
		n.Attr = []html.Attribute{{Key: "class", Val: class}}
	}
	return n
}

func textNode(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}
