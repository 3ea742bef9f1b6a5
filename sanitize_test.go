package main

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// sanitizeFragment parses fragment as the content of a <body> and runs it
// through sanitizeXHTML.
func sanitizeFragment(t testing.TB, fragment string) string {
	t.Helper()
	body := &html.Node{Type: html.ElementNode, DataAtom: atom.Body, Data: "body"}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		t.Fatalf("parsing fragment: %v", err)
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	return sanitizeXHTML(body)
}

// assertWellFormed fails unless out parses as XML under a single root.
func assertWellFormed(t testing.TB, out string) {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader("<root>" + out + "</root>"))
	dec.Entity = xml.HTMLEntity
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			t.Fatalf("not well-formed XML: %v\n%s", err, out)
		}
	}
}

func TestSanitizeXHTML_Attributes(t *testing.T) {
	out := sanitizeFragment(t, `<p id="intro" class="lead" onclick="alert(1)" data-track="x" aria-hidden="true">Hello</p>`)
	assert.Equal(t, `<p id="intro" class="lead">Hello</p>`, out)
}

func TestSanitizeXHTML_DropsElements(t *testing.T) {
	out := sanitizeFragment(t, `<div><script>alert(1)</script><style>p{}</style><form><input name="q"></form><p>kept</p></div>`)
	assert.Equal(t, `<div><p>kept</p></div>`, out)
}

func TestSanitizeXHTML_UnwrapsUnknown(t *testing.T) {
	out := sanitizeFragment(t, `<p><font color="red">warm</font> <center>text</center></p>`)
	assert.NotContains(t, out, "font")
	assert.NotContains(t, out, "center")
	assert.Contains(t, out, "warm")
	assert.Contains(t, out, "text")
}

func TestSanitizeXHTML_Images(t *testing.T) {
	out := sanitizeFragment(t, `<p><img src="https://example.com/a.jpg" alt="remote">`+
		`<img alt="no source">`+
		`<img src="images/img001.jpg" alt="local" width="640.4px" height="0"></p>`)
	assert.Equal(t, `<p><img src="images/img001.jpg" alt="local" width="640"/></p>`, out)
}

func TestSanitizeXHTML_Media(t *testing.T) {
	out := sanitizeFragment(t, `<video controls><source src="movie.mp4" type="video/mp4"></video><audio></audio>`)
	assert.Equal(t, `<a href="movie.mp4">[Media: movie.mp4]</a>`, out)
}

func TestSanitizeXHTML_Picture(t *testing.T) {
	out := sanitizeFragment(t, `<picture><source srcset="a.webp"><img src="images/a.jpg" alt="pic"></picture>`)
	assert.Equal(t, `<img src="images/a.jpg" alt="pic"/>`, out)
}

func TestSanitizeXHTML_FragmentLinks(t *testing.T) {
	out := sanitizeFragment(t, `<a href="#exists">ok</a><a href="#missing">broken</a><div id="exists">target</div>`)
	assert.Contains(t, out, `<a href="#exists">ok</a>`)
	assert.Contains(t, out, `<a>broken</a>`)
}

func TestSanitizeXHTML_DuplicateIDs(t *testing.T) {
	out := sanitizeFragment(t, `<div id="intro">First</div><div id="intro">Second</div><p id="two words">x</p>`)
	assert.Contains(t, out, `<div id="intro">First</div>`)
	assert.Contains(t, out, `<div id="intro-2">Second</div>`)
	assert.Contains(t, out, `<p id="two-words">x</p>`)
}

func TestSanitizeXHTML_DefinitionLists(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`<dl><dt>orphan term</dt></dl>`, `<dl><dt>orphan term</dt><dd></dd></dl>`},
		{`<dl><dd>orphan def</dd></dl>`, `<dl><dt></dt><dd>orphan def</dd></dl>`},
		{`<dl>bare<dt>term</dt><dd>def</dd></dl>`, `<dl><dt>bare</dt><dt>term</dt><dd>def</dd></dl>`},
		{`<dl><p>para</p></dl>`, `<dl><dt></dt><dd><p>para</p></dd></dl>`},
		{`<dl></dl>`, `<dl><dt></dt><dd></dd></dl>`},
	}
	for _, tt := range tests {
		out := sanitizeFragment(t, tt.in)
		assert.Equal(t, tt.want, out, "input %s", tt.in)
		assertWellFormed(t, out)
	}
}

func TestSanitizeXHTML_BlocksInsidePhrasing(t *testing.T) {
	out := sanitizeFragment(t, `<span>start <div>middle</div> end</span>`)
	assert.Equal(t, `<span>start middle end</span>`, out)
}

func TestSanitizeXHTML_StrayFigcaption(t *testing.T) {
	out := sanitizeFragment(t, `<div><figcaption>Caption</figcaption></div><figure><figcaption>Kept</figcaption></figure>`)
	assert.Equal(t, `<div><p>Caption</p></div><figure><figcaption>Kept</figcaption></figure>`, out)
}

func TestSanitizeXHTML_InvalidXMLChars(t *testing.T) {
	out := sanitizeFragment(t, "<p>Hello\x12World\x0b</p>")
	assert.Equal(t, `<p>HelloWorld</p>`, out)
}

func TestSanitizeXHTML_VoidElements(t *testing.T) {
	out := sanitizeFragment(t, `<p>line<br>break</p><hr>`)
	assert.Equal(t, `<p>line<br/>break</p><hr/>`, out)
	assertWellFormed(t, out)
}

func TestSanitizeDimension(t *testing.T) {
	tests := map[string]string{
		"100":     "100",
		"916.7":   "917",
		"1.5":     "2",
		"50%":     "50",
		" 12px ":  "12",
		"auto":    "",
		"-5":      "",
		"":        "",
		"3.2em":   "3",
		"0.4rem":  "0",
		"12pt":    "12",
		"abc123":  "",
		"1e2":     "100",
		"  7.49 ": "7",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeDimension(in), "sanitizeDimension(%q)", in)
	}
}

func FuzzSanitizeXHTML(f *testing.F) {
	seeds := []string{
		`<p>Hello World</p>`,
		`<div><script>alert(1)</script><p>text</p></div>`,
		`<img src="data:image/png;base64,abc" alt="test"/>`,
		`<img src="https://example.com/img.jpg" alt="ext"/>`,
		`<picture><source media="(max-width: 480px)"/><img src="x.jpg" alt="pic"/></picture>`,
		`<video src="movie.mp4"></video>`,
		`<audio><source src="audio.mp3"/></audio>`,
		`<a href="#exists">link</a><div id="exists">target</div>`,
		`<div width="100" height="200"><img src="x.jpg" alt="t" width="1.5" height="916.7"/></div>`,
		`<h1><p>Title</p></h1>`,
		`<span>start <div>middle</div> end</span>`,
		`<p>Before<table><tr><td>cell</td></tr></table>After</p>`,
		`<em>a<ul><li>b</li></ul>c</em>`,
		`<dl>bare text<dt>term</dt><dd>definition</dd></dl>`,
		`<p>` + "\x00\x01\x08\x0B\x0C\x0E\x1F" + ` text</p>`,
		`<section epub:type="chapter">content</section>`,
		`<svg xmlns="http://www.w3.org/2000/svg"><circle r="10"/></svg>`,
		`<p title="a &amp; b &lt; c">&quot;q&quot;</p>`,
		``,
		`<></>`,
	}
	for _, s := range seeds {
		f.Add(s)
	}

	disallowed := []string{
		"<script", "<style", "<object", "<embed", "<form", "<input", "<select",
		"<textarea", "<button", "<video", "<audio", "<source", "<picture",
		"<svg", "<iframe", "<canvas", "<noscript",
	}

	f.Fuzz(func(t *testing.T, input string) {
		out := sanitizeFragment(t, input)
		assertWellFormed(t, out)

		lower := strings.ToLower(out)
		for _, tag := range disallowed {
			if strings.Contains(lower, tag) {
				t.Errorf("%s survived sanitizing:\ninput:  %q\noutput: %q", tag, input, out)
			}
		}
		if strings.Contains(lower, `src="http`) {
			t.Errorf("remote image survived:\ninput:  %q\noutput: %q", input, out)
		}
	})
}
