package main

import (
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// articlePage builds a page readability will accept: a titled document
// with an <article> holding paragraphs of n words in total.
func articlePage(title, author string, n int) string {
	var paras strings.Builder
	for n > 0 {
		k := min(n, 50)
		fmt.Fprintf(&paras, "<p>%s.</p>\n", words(k))
		n -= k
	}
	head := "<title>" + title + "</title>"
	if author != "" {
		head += `<meta name="author" content="` + author + `">`
	}
	return `<!DOCTYPE html><html><head>` + head + `</head><body>
<nav><a href="/">Home</a> | <a href="/archive">Archive</a></nav>
<article>
` + paras.String() + `</article>
<footer><p>Copyright Example</p></footer>
</body></html>`
}

func TestExtractArticle(t *testing.T) {
	u, err := url.Parse("https://blog.example/post")
	require.NoError(t, err)

	article, err := extractArticle([]byte(articlePage("Hello World", "Jane Doe", 300)), u)
	require.NoError(t, err)

	assert.Equal(t, "Hello World", article.Title)
	assert.Equal(t, "Jane Doe", article.Byline)
	assert.NotEmpty(t, article.Content)
	assert.Contains(t, article.TextContent, "the reader opens a long article")
	assert.NotContains(t, article.TextContent, "Copyright Example")
}

func TestExtractArticle_WithSiteName(t *testing.T) {
	page := strings.Replace(articlePage("Metadata Test", "", 200),
		"<title>", `<meta property="og:site_name" content="Test Site"><title>`, 1)
	u, _ := url.Parse("https://example.com/meta")

	article, err := extractArticle([]byte(page), u)
	require.NoError(t, err)
	assert.Equal(t, "Test Site", article.SiteName)
	assert.Empty(t, article.Byline)
}

// untitledPage is an article page with no <title> and no heading.
func untitledPage(n int) string {
	return strings.Replace(articlePage("placeholder", "", n), "<title>placeholder</title>", "", 1)
}

func TestExtractArticle_MissingTitle(t *testing.T) {
	u, _ := url.Parse("https://example.com/no-title")
	page := untitledPage(300)
	require.NotContains(t, page, "<title>")

	article, err := extractArticle([]byte(page), u)
	require.NoError(t, err)
	assert.Equal(t, "Untitled", article.Title)
	assert.Equal(t, "untitled", baseNameFor(article.Title))
}

func TestExtractArticle_NoContent(t *testing.T) {
	u, _ := url.Parse("https://example.com/empty")
	for _, page := range []string{
		`<html><body></body></html>`,
		`<html><head><title>Empty</title></head><body></body></html>`,
		``,
	} {
		_, err := extractArticle([]byte(page), u)
		var noContent *NoContentError
		require.ErrorAs(t, err, &noContent, "page %q", page)
		assert.Equal(t, "https://example.com/empty", noContent.URL)
	}
}

func TestPromoteLazySrc(t *testing.T) {
	page := `<html><body><p><img src="data:image/svg+xml,placeholder" data-src="/real.jpg" data-srcset="/real-2x.jpg 2x"></p></body></html>`
	out := string(promoteLazySrc([]byte(page)))

	assert.Contains(t, out, `src="/real.jpg"`)
	assert.Contains(t, out, `srcset="/real-2x.jpg 2x"`)
	assert.NotContains(t, out, "data-src")
	assert.NotContains(t, out, "placeholder")
}

func TestPromoteLazySrc_Unchanged(t *testing.T) {
	page := []byte(`<html><body><img src="/a.jpg" data-src=""></body></html>`)
	assert.Equal(t, page, promoteLazySrc(page))
}

func TestFragmentText(t *testing.T) {
	text, err := fragmentText("<div><p>One</p> <p>Two &amp; three</p></div>")
	require.NoError(t, err)
	assert.Equal(t, "One Two & three", text)
}
