// Native EPUB 3 packaging with go-epub, for systems without pandoc.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	epub "github.com/go-shiori/go-epub"
	"github.com/google/uuid"
)

const readerCSS = `body { margin: 1em; line-height: 1.5; }
img { max-width: 100%; height: auto; }
pre, code { font-size: 0.85em; }
blockquote { margin-left: 1em; padding-left: 0.5em; border-left: 2px solid #999; }
.reader-header { margin-bottom: 1em; }
.reader-domain { font-size: 0.85em; color: #666; text-decoration: none; }
.reader-credits, .reader-estimated-time { font-size: 0.85em; color: #666; }
.cover { text-align: center; margin: 0; padding: 0; }
.cover img { max-height: 100%; }`

type nativeEngine struct {
	log *slog.Logger
}

func newNativeEngine(log *slog.Logger) *nativeEngine {
	return &nativeEngine{log: log}
}

func (n *nativeEngine) Name() string { return "native" }
func (n *nativeEngine) Ext() string  { return "epub" }

func (n *nativeEngine) Render(ctx context.Context, staged StagedFiles, outputPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := readSidecar(staged.Metadata)
	if err != nil {
		return fmt.Errorf("reading metadata: %w", err)
	}
	data, err := os.ReadFile(staged.Document)
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parsing document: %w", err)
	}

	title := rec.Title
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	source := doc.Find("a.reader-domain").First().AttrOr("href", title)

	e, err := epub.NewEpub(title)
	if err != nil {
		return fmt.Errorf("creating epub: %w", err)
	}
	e.SetAuthor(rec.Creator)
	e.SetLang(doc.Find("html").AttrOr("lang", "en"))
	e.SetIdentifier("urn:uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(source)).String())
	if pub := rec.published(); pub != nil {
		e.SetDescription(fmt.Sprintf("%s, %s", rec.Creator, pub.Format(dateLayout)))
	}

	cssPath, err := e.AddCSS(dataURI("text/css", []byte(readerCSS)), "reader.css")
	if err != nil {
		n.log.Warn("could not add stylesheet", "err", err)
		cssPath = ""
	}

	if err := n.addCover(e, rec, doc, cssPath); err != nil {
		n.log.Warn("could not add cover", "err", err)
	}

	body := doc.Find("body").First()
	if body.Length() == 0 {
		return fmt.Errorf("document has no body")
	}
	n.addImages(e, body)
	xhtml := sanitizeXHTML(body.Nodes[0])

	if _, err := e.AddSection(xhtml, title, "article.xhtml", cssPath); err != nil {
		return fmt.Errorf("adding article: %w", err)
	}
	if err := e.Write(outputPath); err != nil {
		return fmt.Errorf("writing epub: %w", err)
	}
	return nil
}

func (n *nativeEngine) addCover(e *epub.Epub, rec sidecarRecord, doc *goquery.Document, cssPath string) error {
	png, err := generateCover(coverText{
		Title:    rec.Title,
		Byline:   rec.Creator,
		Footnote: strings.TrimSpace(doc.Find(".reader-estimated-time").First().Text()),
	})
	if err != nil {
		return err
	}
	imgPath, err := e.AddImage(dataURI("image/png", png), "cover.png")
	if err != nil {
		return err
	}
	body := fmt.Sprintf(`<div class="cover"><img src="%s" alt="Cover"/></div>`, imgPath)
	_, err = e.AddSection(body, "Cover", "cover.xhtml", cssPath)
	return err
}

// addImages moves inlined images into the package and points each <img>
// at its internal path. Images that cannot be added keep their data URI.
func (n *nativeEngine) addImages(e *epub.Epub, body *goquery.Selection) {
	i := 0
	body.Find(`img[src^="data:"]`).Each(func(_ int, img *goquery.Selection) {
		mime, raw, ok := splitDataURI(img.AttrOr("src", ""))
		if !ok {
			return
		}
		i++
		name := fmt.Sprintf("img%03d%s", i, imageExt(mime))
		path, err := e.AddImage(dataURI(mime, raw), name)
		if err != nil {
			n.log.Warn("could not add image", "name", name, "err", err)
			return
		}
		img.SetAttr("src", path)
	})
}

func imageExt(mime string) string {
	switch {
	case strings.Contains(mime, "png"):
		return ".png"
	case strings.Contains(mime, "gif"):
		return ".gif"
	case strings.Contains(mime, "svg"):
		return ".svg"
	case strings.Contains(mime, "webp"):
		return ".webp"
	}
	return ".jpg"
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
