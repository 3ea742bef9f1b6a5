// Markdown output: the staged document as CommonMark with YAML front
// matter taken from the metadata sidecar.
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/JohannesKaufmann/dom"
	mdconv "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"go.yaml.in/yaml/v3"
	"golang.org/x/net/html"
)

type frontMatter struct {
	Title  string `yaml:"title"`
	Author string `yaml:"author,omitempty"`
	Date   string `yaml:"date,omitempty"`
	Source string `yaml:"source,omitempty"`
}

type markdownEngine struct {
	conv *mdconv.Converter
}

func newMarkdownEngine() *markdownEngine {
	conv := mdconv.NewConverter(
		mdconv.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
	// Inline images would bury the text under base64; keep the alt text.
	// PriorityEarly runs before the commonmark img renderer.
	conv.Register.RendererFor("img", mdconv.TagTypeInline,
		func(ctx mdconv.Context, w mdconv.Writer, n *html.Node) mdconv.RenderStatus {
			if !strings.HasPrefix(dom.GetAttributeOr(n, "src", ""), "data:") {
				return mdconv.RenderTryNext
			}
			if alt := strings.TrimSpace(dom.GetAttributeOr(n, "alt", "")); alt != "" {
				w.WriteString("[Image: " + alt + "]")
			}
			return mdconv.RenderSuccess
		},
		mdconv.PriorityEarly,
	)
	return &markdownEngine{conv: conv}
}

func (m *markdownEngine) Name() string { return "markdown" }
func (m *markdownEngine) Ext() string  { return "md" }

func (m *markdownEngine) Render(ctx context.Context, staged StagedFiles, outputPath string) error {
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

	body, err := doc.Find("body").First().Html()
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	md, err := m.conv.ConvertString(body)
	if err != nil {
		return fmt.Errorf("markdown conversion: %w", err)
	}

	front, err := yaml.Marshal(frontMatter{
		Title:  rec.Title,
		Author: rec.Creator,
		Date:   rec.Date,
		Source: doc.Find("a.reader-domain").First().AttrOr("href", ""),
	})
	if err != nil {
		return fmt.Errorf("encoding front matter: %w", err)
	}

	var out bytes.Buffer
	out.WriteString("---\n")
	out.Write(front)
	out.WriteString("---\n\n")
	out.WriteString(strings.TrimSpace(md))
	out.WriteString("\n")
	return os.WriteFile(outputPath, out.Bytes(), 0o644)
}
